package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"tunnelctl/internal/ipc"
)

func newKillSwitchCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "killswitch",
		Aliases: []string{"firewall"},
		Short:   "Show or change the kill switch",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), nil, func(client *ipc.Client) error {
				return printKillSwitch(cmd, client, jsonOutput)
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.AddCommand(newKillSwitchSetCommand(ctx))
	return cmd
}

func newKillSwitchSetCommand(ctx *commandContext) *cobra.Command {
	var enabled, allowLAN, allowMulticast, persistent bool

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change kill switch settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			type change struct {
				flag  string
				value bool
				apply func(*ipc.Client, bool) error
			}
			var changes []change
			add := func(flag string, value bool, apply func(*ipc.Client, bool) error) {
				if flags.Changed(flag) {
					changes = append(changes, change{flag: flag, value: value, apply: apply})
				}
			}
			add("allow-lan", allowLAN, func(c *ipc.Client, v bool) error { return c.KillSwitchSetAllowLAN(cmd.Context(), v) })
			add("allow-multicast", allowMulticast, func(c *ipc.Client, v bool) error { return c.KillSwitchSetAllowLANMulticast(cmd.Context(), v) })
			add("persistent", persistent, func(c *ipc.Client, v bool) error { return c.KillSwitchSetIsPersistent(cmd.Context(), v) })
			add("enabled", enabled, func(c *ipc.Client, v bool) error { return c.KillSwitchSetEnabled(cmd.Context(), v) })
			if len(changes) == 0 {
				return errors.New("nothing to change: pass --enabled, --allow-lan, --allow-multicast, or --persistent")
			}

			return ctx.withClient(cmd.Context(), nil, func(client *ipc.Client) error {
				for _, ch := range changes {
					if err := ch.apply(client, ch.value); err != nil {
						return fmt.Errorf("set %s: %w", ch.flag, err)
					}
				}
				return printKillSwitch(cmd, client, false)
			})
		},
	}
	cmd.Flags().BoolVar(&enabled, "enabled", false, "Turn the kill switch on or off")
	cmd.Flags().BoolVar(&allowLAN, "allow-lan", false, "Allow LAN traffic while the kill switch is on")
	cmd.Flags().BoolVar(&allowMulticast, "allow-multicast", false, "Allow LAN multicast while the kill switch is on")
	cmd.Flags().BoolVar(&persistent, "persistent", false, "Keep the kill switch on across service restarts")
	return cmd
}

func printKillSwitch(cmd *cobra.Command, client *ipc.Client, jsonOutput bool) error {
	status, err := client.KillSwitchGetStatus(cmd.Context())
	if err != nil {
		return fmt.Errorf("kill switch status: %w", err)
	}
	if jsonOutput {
		return writeJSON(cmd, status)
	}
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	kind := statusWarn
	if status.IsEnabled {
		kind = statusOK
	}
	fmt.Fprintln(out, renderStatusLine("Kill switch", kind, "enabled "+yesNo(status.IsEnabled), colorize))
	fmt.Fprintln(out, renderStatusLine("Persistent", statusInfo, yesNo(status.IsPersistent), colorize))
	fmt.Fprintln(out, renderStatusLine("Allow LAN", statusInfo, yesNo(status.IsAllowLAN), colorize))
	fmt.Fprintln(out, renderStatusLine("Allow multicast", statusInfo, yesNo(status.IsAllowMulticast), colorize))
	return nil
}
