package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tunnelctl/internal/ipc"
	"tunnelctl/internal/servers"
)

const defaultCatalogWait = 15 * time.Second

type serverRow struct {
	Gateway      string   `json:"gateway"`
	CountryCode  string   `json:"country_code"`
	Country      string   `json:"country"`
	City         string   `json:"city"`
	Hosts        []string `json:"hosts"`
	PingMs       int      `json:"ping_ms"`
	RelativePing float64  `json:"relative_ping"`
	Fastest      bool     `json:"fastest"`
}

// rankedServers is an aggregator attached to a client plus the channels
// signalling its first list and ping round.
type rankedServers struct {
	agg    *servers.Aggregator
	listed chan servers.ServerListChanged
	pinged chan servers.PingsUpdated
}

func (c *commandContext) attachServers(client *ipc.Client, mode ipc.VPNType) (*rankedServers, error) {
	agg, err := c.newAggregator(client, mode)
	if err != nil {
		return nil, err
	}
	r := &rankedServers{
		agg:    agg,
		listed: make(chan servers.ServerListChanged, 1),
		pinged: make(chan servers.PingsUpdated, 1),
	}
	servers.On(agg, notify(r.listed))
	servers.On(agg, notify(r.pinged))
	agg.Attach(client)
	return r, nil
}

func (r *rankedServers) waitCatalog(cmd *cobra.Command, client *ipc.Client, timeout time.Duration) error {
	if r.agg.Catalog() != nil {
		return nil
	}
	_, err := await(cmd.Context(), client, r.listed, timeout, "server list")
	return err
}

func (r *rankedServers) waitPings(cmd *cobra.Command, client *ipc.Client, timeout time.Duration) error {
	_, err := await(cmd.Context(), client, r.pinged, timeout, "ping results")
	return err
}

func newServersCommand(ctx *commandContext) *cobra.Command {
	var modeFlag string
	var measure bool
	var wait time.Duration
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List servers for the active VPN mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := parseMode(modeFlag)
			if err != nil {
				return err
			}
			var ranked *rankedServers
			setup := func(client *ipc.Client) error {
				ranked, err = ctx.attachServers(client, mode)
				return err
			}
			return ctx.withClient(cmd.Context(), setup, func(client *ipc.Client) error {
				if err := ranked.waitCatalog(cmd, client, wait); err != nil {
					return err
				}
				if measure {
					if err := ranked.waitPings(cmd, client, wait); err != nil {
						return err
					}
				}
				rows := serverRows(ranked.agg)
				if jsonOutput {
					return writeJSON(cmd, rows)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s servers (%d)\n", modeLabel(string(ranked.agg.Mode())), len(rows))
				fmt.Fprintln(out, renderServerTable(rows))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&modeFlag, "mode", "", "VPN mode to list (wireguard or openvpn); defaults to the configured mode")
	cmd.Flags().BoolVar(&measure, "ping", false, "Wait for a ping round before listing")
	cmd.Flags().DurationVar(&wait, "wait", defaultCatalogWait, "How long to wait for the server list and pings")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func serverRows(agg *servers.Aggregator) []serverRow {
	best, hasBest := agg.Fastest()
	locations := agg.Locations()
	rows := make([]serverRow, 0, len(locations))
	for _, loc := range locations {
		rows = append(rows, serverRow{
			Gateway:      loc.Server.Gateway,
			CountryCode:  loc.Server.CountryCode,
			Country:      loc.Server.Country,
			City:         loc.Server.City,
			Hosts:        loc.Server.Hosts,
			PingMs:       loc.PingMs,
			RelativePing: loc.RelativePing,
			Fastest:      hasBest && loc.Server.Gateway == best.Server.Gateway,
		})
	}
	return rows
}

func renderServerTable(rows []serverRow) string {
	headers := []string{"", "Gateway", "City", "Country", "Ping", "Relative"}
	aligns := []columnAlignment{alignCenter, alignLeft, alignLeft, alignLeft, alignRight, alignRight}
	data := make([][]string, 0, len(rows))
	for _, r := range rows {
		mark := ""
		if r.Fastest {
			mark = "*"
		}
		relative := "-"
		if r.PingMs > 0 {
			relative = fmt.Sprintf("%.2f", r.RelativePing)
		}
		data = append(data, []string{mark, r.Gateway, r.City, valueOr(r.Country, r.CountryCode), pingLabel(r.PingMs), relative})
	}
	return renderTable(headers, data, aligns)
}

func parseMode(value string) (ipc.VPNType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return "", nil
	case "wireguard", "wg":
		return ipc.VPNWireGuard, nil
	case "openvpn", "ovpn":
		return ipc.VPNOpenVPN, nil
	default:
		return "", fmt.Errorf("unknown vpn mode %q (expected wireguard or openvpn)", value)
	}
}

func newPingCommand(ctx *commandContext) *cobra.Command {
	var modeFlag string
	var wait time.Duration
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Measure server latency and report the fastest server",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := parseMode(modeFlag)
			if err != nil {
				return err
			}
			var ranked *rankedServers
			setup := func(client *ipc.Client) error {
				ranked, err = ctx.attachServers(client, mode)
				return err
			}
			return ctx.withClient(cmd.Context(), setup, func(client *ipc.Client) error {
				if err := ranked.waitCatalog(cmd, client, wait); err != nil {
					return err
				}
				if err := ranked.waitPings(cmd, client, wait); err != nil {
					return err
				}
				best, ok := ranked.agg.Fastest()
				if !ok {
					return fmt.Errorf("no eligible %s server", modeLabel(string(ranked.agg.Mode())))
				}
				rows := serverRows(ranked.agg)
				measured := 0
				for _, r := range rows {
					if r.PingMs > 0 {
						measured++
					}
				}
				if jsonOutput {
					return writeJSON(cmd, map[string]any{
						"fastest":  serverRow{Gateway: best.Server.Gateway, CountryCode: best.Server.CountryCode, Country: best.Server.Country, City: best.Server.City, Hosts: best.Server.Hosts, PingMs: best.PingMs, Fastest: true},
						"measured": measured,
						"total":    len(rows),
					})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Measured %d of %d %s servers\n", measured, len(rows), modeLabel(string(ranked.agg.Mode())))
				fmt.Fprintf(out, "Fastest: %s (%s, %s) %s\n", best.Server.Gateway, best.Server.City, valueOr(best.Server.Country, best.Server.CountryCode), pingLabel(best.PingMs))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&modeFlag, "mode", "", "VPN mode to measure (wireguard or openvpn)")
	cmd.Flags().DurationVar(&wait, "wait", defaultCatalogWait, "How long to wait for the server list and pings")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
