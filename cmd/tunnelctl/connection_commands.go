package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tunnelctl/internal/ipc"
	"tunnelctl/internal/servers"
)

func newConnectionCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newConnectCommand(ctx),
		newSimpleCommand(ctx, "disconnect", "Bring the tunnel down", "Disconnected", func(cmd *cobra.Command, client *ipc.Client) error {
			return client.Disconnect(cmd.Context())
		}),
		newPauseCommand(ctx),
		newSimpleCommand(ctx, "resume", "Resume a paused tunnel", "Connection resumed", func(cmd *cobra.Command, client *ipc.Client) error {
			return client.ResumeConnection(cmd.Context())
		}),
	}
}

// newSimpleCommand builds a no-argument command that runs one call and
// prints done on success.
func newSimpleCommand(ctx *commandContext, use, short, done string, run func(*cobra.Command, *ipc.Client) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), nil, func(client *ipc.Client) error {
				if err := run(cmd, client); err != nil {
					return fmt.Errorf("%s: %w", use, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), done)
				return nil
			})
		},
	}
}

func newConnectCommand(ctx *commandContext) *cobra.Command {
	var gateway string
	var modeFlag string
	var firewall bool
	var manualDNS string
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a server (the fastest eligible one by default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := parseMode(modeFlag)
			if err != nil {
				return err
			}
			var ranked *rankedServers
			connected := make(chan ipc.Connected, 1)
			disconnected := make(chan ipc.Disconnected, 1)
			setup := func(client *ipc.Client) error {
				ranked, err = ctx.attachServers(client, mode)
				return err
			}
			return ctx.withClient(cmd.Context(), setup, func(client *ipc.Client) error {
				if err := ranked.waitCatalog(cmd, client, defaultCatalogWait); err != nil {
					return err
				}
				target, err := pickServer(ranked.agg, gateway)
				if err != nil {
					return err
				}

				ipc.On(client, notify(connected))
				ipc.On(client, notify(disconnected))
				req := ipc.ConnectRequest{
					VPNType:    ranked.agg.Mode(),
					Params:     target.Server.Params,
					ManualDNS:  strings.TrimSpace(manualDNS),
					FirewallOn: firewall,
				}
				if err := client.Connect(req); err != nil {
					return fmt.Errorf("connect: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Connecting to %s (%s, %s) via %s\n", target.Server.Gateway, target.Server.City,
					valueOr(target.Server.Country, target.Server.CountryCode), modeLabel(string(req.VPNType)))
				if wait <= 0 {
					return nil
				}

				timer := time.NewTimer(wait)
				defer timer.Stop()
				select {
				case ev := <-connected:
					fmt.Fprintf(out, "Connected: %s\n", ev.Info.ServerIP)
					return nil
				case ev := <-disconnected:
					return fmt.Errorf("connect: %s", valueOr(ev.Info.ReasonDescription, "service reported a disconnect"))
				case <-client.Done():
					return fmt.Errorf("connect: control service disconnected")
				case <-timer.C:
					return fmt.Errorf("connect: not connected within %s", wait)
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				}
			})
		},
	}
	cmd.Flags().StringVar(&gateway, "gateway", "", "Gateway id of the server to use")
	cmd.Flags().StringVar(&modeFlag, "mode", "", "VPN mode (wireguard or openvpn)")
	cmd.Flags().BoolVar(&firewall, "firewall", false, "Enable the kill switch for this connection")
	cmd.Flags().StringVar(&manualDNS, "dns", "", "Use a custom DNS server for this connection")
	cmd.Flags().DurationVar(&wait, "wait", time.Minute, "How long to wait for the tunnel (0 returns immediately)")
	return cmd
}

func pickServer(agg *servers.Aggregator, gateway string) (servers.ServerLocation, error) {
	gateway = strings.TrimSpace(gateway)
	if gateway == "" {
		best, ok := agg.Fastest()
		if !ok {
			return servers.ServerLocation{}, fmt.Errorf("no eligible %s server", modeLabel(string(agg.Mode())))
		}
		return best, nil
	}
	for _, loc := range agg.Locations() {
		if strings.EqualFold(loc.Server.Gateway, gateway) {
			return loc, nil
		}
	}
	return servers.ServerLocation{}, fmt.Errorf("gateway %q not found among %s servers", gateway, modeLabel(string(agg.Mode())))
}

func newPauseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <duration>",
		Short: "Pause the tunnel for a duration such as 15m",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := time.ParseDuration(args[0])
			if err != nil || d <= 0 {
				return fmt.Errorf("invalid pause duration %q", args[0])
			}
			return ctx.withClient(cmd.Context(), nil, func(client *ipc.Client) error {
				if err := client.PauseConnection(cmd.Context(), d); err != nil {
					return fmt.Errorf("pause: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Connection paused for %s\n", d)
				return nil
			})
		},
	}
}
