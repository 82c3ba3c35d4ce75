package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"tunnelctl/internal/ipc"
	"tunnelctl/internal/logging"
	"tunnelctl/internal/metrics"
	"tunnelctl/internal/servers"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var metricsAddr string
	var pingInterval time.Duration
	var modeFlag string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream control service events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.log()
			if err != nil {
				return err
			}
			mode, err := parseMode(modeFlag)
			if err != nil {
				return err
			}

			runCtx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			addr := strings.TrimSpace(metricsAddr)
			if addr == "" {
				addr = cfg.Metrics.Addr
			}
			if addr != "" {
				ln, err := net.Listen("tcp", addr)
				if err != nil {
					return fmt.Errorf("metrics listen on %s: %w", addr, err)
				}
				ctx.metrics = metrics.New()
				go func() {
					if err := ctx.metrics.Serve(runCtx, ln, logger); err != nil {
						logger.Error("metrics server failed", logging.Error(err))
					}
				}()
			}

			printer := &eventPrinter{out: cmd.OutOrStdout(), json: jsonOutput}
			var agg *servers.Aggregator
			setup := func(client *ipc.Client) error {
				client.Subscribe(func(ev ipc.Event) { printer.print(ev) })
				agg, err = ctx.newAggregator(client, mode)
				if err != nil {
					return err
				}
				agg.Subscribe(func(ev servers.Event) { printer.print(ev) })
				agg.Attach(client)
				return nil
			}

			return ctx.withClient(runCtx, setup, func(client *ipc.Client) error {
				var tick <-chan time.Time
				if pingInterval > 0 {
					ticker := time.NewTicker(pingInterval)
					defer ticker.Stop()
					tick = ticker.C
				}
				for {
					select {
					case <-runCtx.Done():
						return nil
					case <-client.Done():
						if err := client.Err(); err != nil {
							return fmt.Errorf("control service disconnected: %w", err)
						}
						return nil
					case <-tick:
						err := agg.RequestPings(runCtx)
						switch {
						case errors.Is(err, servers.ErrPingThrottled):
							logger.Debug("periodic ping skipped", logging.Error(err))
						case err != nil:
							return fmt.Errorf("request pings: %w", err)
						}
					}
				}
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit one JSON object per event")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides [metrics] addr)")
	cmd.Flags().DurationVar(&pingInterval, "ping-interval", 0, "Request a ping round on this interval (0 disables)")
	cmd.Flags().StringVar(&modeFlag, "mode", "", "VPN mode to rank (wireguard or openvpn)")
	return cmd
}

type eventNamer interface {
	EventName() string
}

// eventPrinter writes one line per event. Events arrive on the read loop and
// from aggregator callbacks, so writes are serialized.
type eventPrinter struct {
	mu   sync.Mutex
	out  io.Writer
	json bool
	now  func() time.Time
}

type eventRecord struct {
	Time  time.Time `json:"time"`
	Event string    `json:"event"`
	Data  any       `json:"data,omitempty"`
}

func (p *eventPrinter) print(ev eventNamer) {
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	summary, data := describeEvent(ev)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.json {
		line, err := json.Marshal(eventRecord{Time: now().UTC(), Event: ev.EventName(), Data: data})
		if err != nil {
			return
		}
		fmt.Fprintln(p.out, string(line))
		return
	}
	if summary == "" {
		fmt.Fprintf(p.out, "%s %s\n", now().Format(time.TimeOnly), ev.EventName())
		return
	}
	fmt.Fprintf(p.out, "%s %-24s %s\n", now().Format(time.TimeOnly), ev.EventName(), summary)
}

// describeEvent returns a one-line summary and a JSON-friendly payload.
func describeEvent(ev eventNamer) (string, any) {
	switch e := ev.(type) {
	case ipc.SessionChanged:
		if !e.Session.LoggedIn() {
			return "logged out", map[string]any{"logged_in": false}
		}
		return "logged in as " + e.Session.AccountID, map[string]any{"logged_in": true, "account_id": e.Session.AccountID}
	case ipc.AccountStatusReceived:
		return "active " + yesNo(e.Account.Active), e.Account
	case ipc.ConnectionStateChanged:
		return displayLabel(e.State.State), e.State
	case ipc.Connected:
		return fmt.Sprintf("%s via %s", e.Info.ServerIP, modeLabel(string(e.Info.VPNType))), e.Info
	case ipc.Disconnected:
		if e.Info.Failure {
			return "failure: " + valueOr(e.Info.ReasonDescription, "unknown reason"), e.Info
		}
		return valueOr(e.Info.ReasonDescription, ""), e.Info
	case ipc.ServerListReceived:
		return fmt.Sprintf("%d %s, %d %s", len(e.Catalog.WireGuard), modeLabel("wireguard"), len(e.Catalog.OpenVPN), modeLabel("openvpn")),
			map[string]any{"wireguard": len(e.Catalog.WireGuard), "openvpn": len(e.Catalog.OpenVPN), "initial": e.Initial}
	case ipc.PingsReceived:
		return fmt.Sprintf("%d results", len(e.Results)), map[string]any{"results": len(e.Results)}
	case ipc.KillSwitchStatusChanged:
		return "enabled " + yesNo(e.Status.IsEnabled), e.Status
	case ipc.AlternateDNSChanged:
		return valueOr(e.DNS, "default"), map[string]any{"dns": e.DNS}
	case ipc.UnexpectedFault:
		return e.Err.Error(), map[string]any{"error": e.Err.Error()}
	case ipc.ClientDisconnected:
		if e.Err != nil {
			return e.Err.Error(), map[string]any{"error": e.Err.Error()}
		}
		return "", nil
	case servers.ServerListChanged:
		return fmt.Sprintf("%d %s locations", len(e.Locations), modeLabel(string(e.Mode))),
			map[string]any{"mode": e.Mode, "locations": len(e.Locations)}
	case servers.PingsUpdated:
		measured := 0
		for _, loc := range e.Locations {
			if loc.Measured() {
				measured++
			}
		}
		return fmt.Sprintf("%d of %d measured", measured, len(e.Locations)), map[string]any{"measured": measured, "locations": len(e.Locations)}
	case servers.FastestServerDetected:
		return fmt.Sprintf("%s %s", e.Location.Server.Gateway, pingLabel(e.Location.PingMs)),
			map[string]any{"gateway": e.Location.Server.Gateway, "ping_ms": e.Location.PingMs}
	}
	return "", nil
}
