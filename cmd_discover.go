package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"lanrace/discovery"
)

func newDiscoveryClient(a *app) *discovery.Client {
	return &discovery.Client{
		Port:          a.cfg.Client.DiscoveryPort,
		BroadcastAddr: a.cfg.Client.BroadcastAddr,
		ReadTimeout:   a.cfg.Client.DiscoveryReadTimeout,
		Logger:        a.logger,
	}
}

func discoverCmd(a *app) *cobra.Command {
	var (
		dedupe  bool
		asJSON  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List sessions answering on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if timeout <= 0 {
				timeout = a.cfg.Client.DiscoveryTimeout
			}
			found, err := newDiscoveryClient(a).Discover(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			if dedupe {
				found = discovery.Dedupe(found)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(found)
			}
			if len(found) == 0 {
				fmt.Fprintln(out, "No sessions found")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tHOST\tPLAYERS\tNAME")
			for _, d := range found {
				players := fmt.Sprint(d.Players)
				if d.Capacity > 0 {
					players = fmt.Sprintf("%d/%d", d.Players, d.Capacity)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.SessionCode, d.HostAddress, players, d.Name)
			}
			return tw.Flush()
		},
	}

	f := cmd.Flags()
	f.BoolVar(&dedupe, "dedupe", true, "collapse repeated replies from the same host and code")
	f.BoolVar(&asJSON, "json", false, "print descriptors as JSON")
	f.DurationVar(&timeout, "timeout", 0, "discovery window (default from config)")
	f.String("broadcast", "255.255.255.255", "broadcast address probes are sent to")
	a.bind(f, "broadcast", "client.broadcast_addr")
	return cmd
}
