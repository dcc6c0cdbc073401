package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lanrace/play"
	"lanrace/session"
)

// defaultJoinHost is used when a code is given without a host, as the
// original desktop client did for custom rooms.
const defaultJoinHost = "127.0.0.1"

func joinCmd(a *app) *cobra.Command {
	var (
		host     string
		wait     time.Duration
		noCourse bool
		quiet    bool
	)

	cmd := &cobra.Command{
		Use:   "join [CODE]",
		Short: "Join a session and drive with line-based key input",
		Long: `Join connects to a session and plays it headless. Without a CODE the
first session found by discovery is joined. With a CODE but no --host the
session is looked for on 127.0.0.1.

Type held keys on stdin, one line per change: w/a/s/d or up/left/down/right
(for example "wd"), a blank line to release, "q" to leave.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			code := ""
			if len(args) == 1 {
				code = args[0]
			}
			target, code, err := resolveTarget(ctx, a, host, code, wait)
			if err != nil {
				return err
			}

			d := &session.Dialer{
				Port:         a.cfg.Client.SessionPort,
				Timeout:      a.cfg.Client.ConnectTimeout,
				WriteTimeout: a.cfg.Client.WriteTimeout,
				Logger:       a.logger,
			}
			conn, err := d.Connect(ctx, target, code)
			if err != nil {
				return err
			}
			defer conn.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "Joined %s on %s\n", code, conn.RemoteAddr())

			keys := &play.KeyState{}
			go func() {
				if err := play.ReadKeys(cmd.InOrStdin(), keys); errors.Is(err, play.ErrQuit) {
					cancel()
				}
			}()

			loop := &play.Loop{Conn: conn, Rate: a.cfg.Client.TickRate, Input: keys}
			if !noCourse {
				loop.Course = play.NewCourse(play.DefaultPlayfield, nil)
			}
			if !quiet {
				r := &play.TextRenderer{W: cmd.OutOrStdout(), Every: int64(loop.Rate)}
				loop.Observe = r.Observe
			}

			outcome := loop.Run(ctx)
			a.logger.Info("session over",
				zap.Stringer("outcome", outcome.Kind),
				zap.String("message", outcome.Message),
				zap.Int64("frames", outcome.Frames),
			)
			switch outcome.Kind {
			case play.Rejected:
				return fmt.Errorf("connection failed: %s", outcome.Message)
			case play.Dropped:
				fmt.Fprintln(cmd.OutOrStdout(), "Disconnected from host")
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&host, "host", "", "host address; skips discovery")
	f.DurationVar(&wait, "wait", 10*time.Second, "how long to keep probing when no session answers")
	f.BoolVar(&noCourse, "no-course", false, "disable local obstacles")
	f.BoolVarP(&quiet, "quiet", "q", false, "do not print frame summaries")
	f.Int("rate", play.DefaultRate, "frames per second")
	a.bind(f, "rate", "client.tick_rate")
	return cmd
}

// resolveTarget picks the host and code to join. Discovery only runs when
// neither was given.
func resolveTarget(ctx context.Context, a *app, host, code string, wait time.Duration) (string, string, error) {
	switch {
	case host != "":
		return host, code, nil
	case code != "":
		return defaultJoinHost, code, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxElapsedTime = wait
	d, err := newDiscoveryClient(a).FindFirst(ctx, a.cfg.Client.DiscoveryTimeout, b)
	if err != nil {
		return "", "", fmt.Errorf("finding a session: %w", err)
	}
	a.logger.Info("found session", zap.String("room", d.SessionCode), zap.String("host", d.HostAddress))
	return d.HostAddress, d.SessionCode, nil
}
