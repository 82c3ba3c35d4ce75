package main

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tunnelctl/internal/ipc"
)

func newDNSCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dns",
		Short: "Manage the custom DNS server",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <address>",
		Short: "Use a custom DNS server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := strings.TrimSpace(args[0])
			if net.ParseIP(addr) == nil {
				return fmt.Errorf("invalid DNS address %q", addr)
			}
			return setDNS(ctx, cmd, addr)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Return to the default DNS server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return setDNS(ctx, cmd, "")
		},
	})
	return cmd
}

func setDNS(ctx *commandContext, cmd *cobra.Command, addr string) error {
	return ctx.withClient(cmd.Context(), nil, func(client *ipc.Client) error {
		resp, err := client.SetAlternateDNS(cmd.Context(), addr)
		if err != nil {
			return fmt.Errorf("set dns: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "DNS: %s\n", valueOr(resp.ChangedDNS, "default"))
		return nil
	})
}

func newWireGuardCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wireguard",
		Short: "WireGuard key management",
	}

	var ifNecessary bool
	keygen := &cobra.Command{
		Use:   "keygen",
		Short: "Generate new WireGuard keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), nil, func(client *ipc.Client) error {
				if err := client.WireGuardGenerateNewKeys(cmd.Context(), ifNecessary); err != nil {
					return fmt.Errorf("generate keys: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "WireGuard keys updated")
				return nil
			})
		},
	}
	keygen.Flags().BoolVar(&ifNecessary, "if-necessary", false, "Only rotate when the current keys are due")
	cmd.AddCommand(keygen)

	cmd.AddCommand(&cobra.Command{
		Use:   "rotation <interval>",
		Short: "Set the key rotation interval, such as 72h",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := time.ParseDuration(args[0])
			if err != nil || d < time.Hour {
				return fmt.Errorf("invalid rotation interval %q (minimum 1h)", args[0])
			}
			return ctx.withClient(cmd.Context(), nil, func(client *ipc.Client) error {
				if err := client.WireGuardSetKeysRotationInterval(cmd.Context(), d); err != nil {
					return fmt.Errorf("set rotation interval: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "WireGuard keys rotate every %s\n", d)
				return nil
			})
		},
	})
	return cmd
}

func newDiagnosticsCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Fetch diagnostic logs from the control service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), nil, func(client *ipc.Client) error {
				resp, err := client.GenerateDiagnostics(cmd.Context())
				if err != nil {
					return fmt.Errorf("generate diagnostics: %w", err)
				}
				report := diagnosticsText(resp)
				if strings.TrimSpace(output) == "" {
					fmt.Fprint(cmd.OutOrStdout(), report)
					return nil
				}
				if err := os.WriteFile(output, []byte(report), 0o600); err != nil {
					return fmt.Errorf("write diagnostics: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Diagnostics written to %s\n", output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the report to a file instead of stdout")
	return cmd
}

func diagnosticsText(resp *ipc.DiagnosticsResponse) string {
	var b strings.Builder
	sections := []struct {
		title string
		body  string
	}{
		{"Service log", resp.ServiceLog},
		{"Previous service log", resp.ServiceLog0},
		{"Extra info", resp.ExtraInfo},
	}
	for _, s := range sections {
		if strings.TrimSpace(s.body) == "" {
			continue
		}
		fmt.Fprintf(&b, "== %s ==\n%s\n", s.title, strings.TrimRight(s.body, "\n"))
	}
	return b.String()
}

func newPreferenceCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preference",
		Short: "Service preferences",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a service preference",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), nil, func(client *ipc.Client) error {
				if err := client.SetPreference(cmd.Context(), args[0], args[1]); err != nil {
					return fmt.Errorf("set preference: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
				return nil
			})
		},
	})
	return cmd
}
