package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tunnelctl/internal/ipc"
)

type statusReport struct {
	ServiceVersion string                `json:"service_version"`
	SessionID      string                `json:"session_id"`
	LoggedIn       bool                  `json:"logged_in"`
	AccountID      string                `json:"account_id,omitempty"`
	Account        *ipc.AccountStatus    `json:"account,omitempty"`
	VPNState       *ipc.VPNState         `json:"vpn_state,omitempty"`
	Connection     *ipc.ConnectionInfo   `json:"connection,omitempty"`
	KillSwitch     *ipc.KillSwitchStatus `json:"kill_switch,omitempty"`
	Servers        map[ipc.VPNType]int   `json:"servers"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show control service, session, and tunnel status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), nil, func(client *ipc.Client) error {
				report, err := collectStatus(cmd, client)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, report)
				}
				out := cmd.OutOrStdout()
				for _, line := range statusLines(report, shouldColorize(out)) {
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// collectStatus queries the kill switch. Its reply is read after every
// message the service pushed in response to hello, so the client-held
// state is current once it returns.
func collectStatus(cmd *cobra.Command, client *ipc.Client) (*statusReport, error) {
	ks, err := client.KillSwitchGetStatus(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("kill switch status: %w", err)
	}

	report := &statusReport{
		SessionID:  client.SessionID(),
		KillSwitch: ks,
		Servers:    map[ipc.VPNType]int{},
	}
	if hello := client.Hello(); hello != nil {
		report.ServiceVersion = hello.Version
	}
	session := client.Session()
	report.LoggedIn = session.LoggedIn()
	report.AccountID = session.AccountID
	if account, ok := client.Account(); ok {
		report.Account = &account
	}
	if state, ok := client.VPNState(); ok {
		report.VPNState = &state
	}
	if conn, ok := client.Connected(); ok {
		report.Connection = &conn
	}
	if catalog := client.Catalog(); catalog != nil {
		report.Servers[ipc.VPNWireGuard] = len(catalog.WireGuard)
		report.Servers[ipc.VPNOpenVPN] = len(catalog.OpenVPN)
	}
	return report, nil
}

func statusLines(r *statusReport, colorize bool) []string {
	lines := renderSectionHeader("Control Service", colorize)
	lines = append(lines, renderStatusLine("Service", statusOK, "version "+valueOr(r.ServiceVersion, "unknown"), colorize))

	if r.LoggedIn {
		lines = append(lines, renderStatusLine("Session", statusOK, "logged in as "+r.AccountID, colorize))
	} else {
		lines = append(lines, renderStatusLine("Session", statusWarn, "logged out", colorize))
	}

	switch {
	case r.Account == nil:
	case r.Account.Active:
		msg := "active"
		if r.Account.ActiveUntil > 0 {
			msg += " until " + time.Unix(r.Account.ActiveUntil, 0).Format("2006-01-02")
		}
		lines = append(lines, renderStatusLine("Account", statusOK, msg, colorize))
	default:
		lines = append(lines, renderStatusLine("Account", statusError, "inactive", colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Tunnel", colorize)...)
	if r.VPNState != nil {
		lines = append(lines, renderStatusLine("State", stateKind(r.VPNState.State), displayLabel(r.VPNState.State), colorize))
	} else {
		lines = append(lines, renderStatusLine("State", statusInfo, "unknown", colorize))
	}
	if r.Connection != nil {
		msg := fmt.Sprintf("%s via %s since %s", r.Connection.ServerIP, modeLabel(string(r.Connection.VPNType)), r.Connection.Since().Format(time.DateTime))
		lines = append(lines, renderStatusLine("Connection", statusOK, msg, colorize))
	} else {
		lines = append(lines, renderStatusLine("Connection", statusInfo, "disconnected", colorize))
	}
	if r.KillSwitch != nil {
		kind := statusWarn
		if r.KillSwitch.IsEnabled {
			kind = statusOK
		}
		msg := fmt.Sprintf("enabled %s, persistent %s, LAN %s", yesNo(r.KillSwitch.IsEnabled), yesNo(r.KillSwitch.IsPersistent), yesNo(r.KillSwitch.IsAllowLAN))
		lines = append(lines, renderStatusLine("Kill switch", kind, msg, colorize))
	}
	lines = append(lines, renderStatusLine("Servers", statusInfo,
		fmt.Sprintf("%d %s, %d %s", r.Servers[ipc.VPNWireGuard], modeLabel("wireguard"), r.Servers[ipc.VPNOpenVPN], modeLabel("openvpn")), colorize))
	return lines
}

func stateKind(state string) statusKind {
	switch strings.ToUpper(state) {
	case "CONNECTED":
		return statusOK
	case "DISCONNECTED", "":
		return statusInfo
	case "EXITING":
		return statusError
	default:
		return statusWarn
	}
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
