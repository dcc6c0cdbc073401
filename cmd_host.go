package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lanrace/server"
)

func hostCmd(a *app) *cobra.Command {
	var code, name string

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Host a session on this machine",
		Long: `Host opens a room, answers discovery probes and accepts players until
interrupted. The admin API (config, stats, Prometheus metrics and the
websocket spectator feed) listens on --admin-addr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h := server.NewHost(a.cfg.Host, a.logger)

			var room *server.Room
			if code != "" {
				var err error
				if room, err = h.Rooms.GetOrCreateRoom(code); err != nil {
					return err
				}
			} else {
				room = h.Rooms.CreateRoom(name)
			}

			a.logger.Info("hosting session",
				zap.String("room", room.Code),
				zap.String("session_addr", a.cfg.Host.SessionAddr()),
				zap.String("discovery_addr", a.cfg.Host.DiscoveryAddr()),
				zap.String("admin_addr", a.cfg.Host.AdminAddr),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "Room code: %s\n", room.Code)
			return h.Run(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.StringVar(&code, "room", "", "room code to open (1-4 letters or digits); random when empty")
	f.StringVar(&name, "name", "", "display name advertised for the room")
	f.Int("capacity", 2, "players per room")
	f.Int("tick-rate", 20, "room ticks per second")
	f.String("admin-addr", ":8080", "admin HTTP listen address; empty disables it")
	f.String("advertise", "", "address to advertise in discovery replies")
	a.bind(f, "capacity", "host.capacity")
	a.bind(f, "tick-rate", "host.tick_rate")
	a.bind(f, "admin-addr", "host.admin_addr")
	a.bind(f, "advertise", "host.advertise_addr")
	return cmd
}
