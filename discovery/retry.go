package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"lanrace/protocol"
)

// ErrNoSessions is returned by FindFirst when every attempt came back empty.
var ErrNoSessions = errors.New("no sessions found")

// FindFirst runs Discover repeatedly, pausing between rounds according to b,
// until some session answers. It returns the first descriptor of the first
// non-empty round. A nil b means a single round.
func (c *Client) FindFirst(ctx context.Context, timeout time.Duration, b backoff.BackOff) (protocol.SessionDescriptor, error) {
	if b == nil {
		b = &backoff.StopBackOff{}
	}
	var found protocol.SessionDescriptor
	round := 0
	op := func() error {
		round++
		all, err := c.Discover(ctx, timeout)
		if err != nil {
			return backoff.Permanent(err)
		}
		if len(all) == 0 {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return ErrNoSessions
		}
		found = all[0]
		return nil
	}
	notify := func(err error, next time.Duration) {
		c.logger().Debug("discovery round empty", zap.Int("round", round), zap.Duration("retry_in", next))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return protocol.SessionDescriptor{}, err
	}
	return found, nil
}

func (c *Client) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}
