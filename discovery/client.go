// Package discovery finds racing sessions on the local network with a UDP
// broadcast probe, and answers such probes on the host side.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"lanrace/protocol"
)

const (
	// DefaultTimeout is the overall discovery window.
	DefaultTimeout = 1500 * time.Millisecond
	// DefaultReadTimeout bounds one receive attempt inside the window.
	DefaultReadTimeout = 400 * time.Millisecond
	// DefaultBroadcastAddr is the limited broadcast address.
	DefaultBroadcastAddr = "255.255.255.255"

	maxDatagram = 2048
)

const tracerName = "lanrace/discovery"

// Client broadcasts discovery probes. The zero value uses the standard port,
// the limited broadcast address and the default per-read timeout.
type Client struct {
	Port          int
	BroadcastAddr string
	ReadTimeout   time.Duration
	Logger        *zap.Logger
	// TracerProvider records the Discover span. Nil means the global provider.
	TracerProvider trace.TracerProvider
}

// Discover probes the network until timeout elapses or ctx is done and
// returns every well-formed reply in arrival order. Hosts answering several
// probes appear several times; see Dedupe.
//
// No replies is not an error: the result is simply empty. An error is only
// returned when the probe socket cannot be opened.
func (c *Client) Discover(ctx context.Context, timeout time.Duration) ([]protocol.SessionDescriptor, error) {
	tp := c.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	ctx, span := tp.Tracer(tracerName).Start(ctx, "discovery.Discover")
	defer span.End()

	logger := c.logger()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	readTimeout := c.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	dst, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(c.broadcastAddr(), strconv.Itoa(c.port())))
	if err != nil {
		return nil, fmt.Errorf("resolving broadcast address: %w", err)
	}
	// Go enables SO_BROADCAST on IPv4 datagram sockets by default.
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("opening discovery socket: %w", err)
	}
	defer conn.Close()

	// closing the socket unblocks a pending read when the caller quits
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	var found []protocol.SessionDescriptor
	probe := []byte(protocol.DiscoverProbe)
	buf := make([]byte, maxDatagram)
	deadline := time.Now().Add(timeout)
	probes := 0

	for time.Now().Before(deadline) && ctx.Err() == nil {
		probes++
		if _, err := conn.WriteToUDP(probe, dst); err != nil {
			logger.Debug("discovery probe failed", zap.Error(err))
		}

		readBy := time.Now().Add(readTimeout)
		if readBy.After(deadline) {
			readBy = deadline
		}
		_ = conn.SetReadDeadline(readBy)

		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if !(errors.As(err, &ne) && ne.Timeout()) {
				// don't spin on a socket that fails instantly
				wait(ctx, readBy)
			}
			continue
		}

		d, err := protocol.ParseDescriptor(buf[:n])
		if err != nil {
			logger.Debug("ignoring discovery reply", zap.Stringer("from", from), zap.Error(err))
			continue
		}
		d.Source = from.String()
		if d.HostAddress == "" {
			d.HostAddress = from.IP.String()
		}
		found = append(found, d)
	}

	span.SetAttributes(
		attribute.Int("discovery.probes", probes),
		attribute.Int("discovery.replies", len(found)),
	)
	logger.Debug("discovery finished", zap.Int("probes", probes), zap.Int("replies", len(found)))
	return found, nil
}

func (c *Client) port() int {
	if c.Port == 0 {
		return protocol.DiscoveryPort
	}
	return c.Port
}

func (c *Client) broadcastAddr() string {
	if c.BroadcastAddr == "" {
		return DefaultBroadcastAddr
	}
	return c.BroadcastAddr
}

func wait(ctx context.Context, until time.Time) {
	t := time.NewTimer(time.Until(until))
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Dedupe drops repeated descriptors for the same host and code, keeping the
// first occurrence and the original order.
func Dedupe(found []protocol.SessionDescriptor) []protocol.SessionDescriptor {
	seen := make(map[string]bool, len(found))
	out := make([]protocol.SessionDescriptor, 0, len(found))
	for _, d := range found {
		if seen[d.Key()] {
			continue
		}
		seen[d.Key()] = true
		out = append(out, d)
	}
	return out
}
