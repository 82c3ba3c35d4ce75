package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tunnelctl/internal/ipc"
)

func newSessionCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Log in and out",
	}
	cmd.AddCommand(newSessionNewCommand(ctx))
	cmd.AddCommand(newSessionDeleteCommand(ctx))
	return cmd
}

func newSessionNewCommand(ctx *commandContext) *cobra.Command {
	var force bool
	var captcha string
	var code2FA string

	cmd := &cobra.Command{
		Use:   "new <account-id>",
		Short: "Log in with an account id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID := strings.TrimSpace(args[0])
			if accountID == "" {
				return errors.New("account id is required")
			}
			return ctx.withClient(cmd.Context(), nil, func(client *ipc.Client) error {
				resp, err := client.SessionNew(cmd.Context(), ipc.SessionNewRequest{
					AccountID:  accountID,
					ForceLogin: force,
					Captcha:    captcha,
					Confirm2FA: code2FA,
				})
				var apiErr *ipc.APIError
				if errors.As(err, &apiErr) {
					return fmt.Errorf("login rejected: %s", valueOr(apiErr.Message, fmt.Sprintf("status %d", apiErr.Status)))
				}
				if err != nil {
					return fmt.Errorf("login: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Logged in as %s\n", resp.Session.AccountID)
				fmt.Fprintln(out, accountSummary(resp.Account))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Log out other devices when the device limit is reached")
	cmd.Flags().StringVar(&captcha, "captcha", "", "Captcha solution requested by the service")
	cmd.Flags().StringVar(&code2FA, "2fa", "", "Two-factor confirmation code")
	return cmd
}

func newSessionDeleteCommand(ctx *commandContext) *cobra.Command {
	var disableFirewall bool

	cmd := &cobra.Command{
		Use:     "delete",
		Aliases: []string{"logout"},
		Short:   "Log out",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), nil, func(client *ipc.Client) error {
				if err := client.SessionDelete(cmd.Context(), disableFirewall); err != nil {
					return fmt.Errorf("logout: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&disableFirewall, "disable-firewall", false, "Turn the kill switch off as part of logging out")
	return cmd
}

func newAccountCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "account",
		Short: "Show the subscription status of the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), nil, func(client *ipc.Client) error {
				if !client.Session().LoggedIn() {
					return errors.New("not logged in; run `tunnelctl session new <account-id>`")
				}
				resp, err := client.AccountStatus(cmd.Context())
				var apiErr *ipc.APIError
				if errors.As(err, &apiErr) {
					return fmt.Errorf("account status rejected: %s", valueOr(apiErr.Message, fmt.Sprintf("status %d", apiErr.Status)))
				}
				if err != nil {
					return fmt.Errorf("account status: %w", err)
				}
				if jsonOutput {
					return writeJSON(cmd, resp.Account)
				}
				fmt.Fprintln(cmd.OutOrStdout(), accountSummary(resp.Account))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func accountSummary(a ipc.AccountStatus) string {
	if !a.Active {
		return "Account inactive"
	}
	parts := []string{"Account active"}
	if a.ActiveUntil > 0 {
		parts = append(parts, "until "+time.Unix(a.ActiveUntil, 0).Format("2006-01-02"))
	}
	if a.IsFreeTrial {
		parts = append(parts, "(free trial)")
	}
	if len(a.Capabilities) > 0 {
		parts = append(parts, "capabilities: "+strings.Join(a.Capabilities, ", "))
	}
	return strings.Join(parts, " ")
}
