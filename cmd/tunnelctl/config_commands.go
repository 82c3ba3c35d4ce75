package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"tunnelctl/internal/bootstrap"
	"tunnelctl/internal/config"
	"tunnelctl/internal/logging"
)

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:         "config",
		Short:       "Configuration utilities",
		Annotations: map[string]string{"skipConfigLoad": "true"},
	}

	configCmd.AddCommand(newConfigValidateCommand())
	configCmd.AddCommand(newConfigShowCommand())
	configCmd.AddCommand(newConfigInitCommand())

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := configTarget(targetPath)
			if err != nil {
				return err
			}
			if _, err := os.Stat(target); err == nil && !overwrite {
				return fmt.Errorf("%s already exists (pass --overwrite to replace it)", target)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("check config path: %w", err)
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func configTarget(flagValue string) (string, error) {
	if target := strings.TrimSpace(flagValue); target != "" {
		return config.ExpandPath(target)
	}
	return config.DefaultConfigPath()
}

// loadForInspection loads the file named by the root --config flag.
func loadForInspection(cmd *cobra.Command) (*config.Config, string, bool, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, resolved, exists, err := config.Load(strings.TrimSpace(path))
	if err != nil {
		return nil, "", false, fmt.Errorf("load config: %w", err)
	}
	return cfg, resolved, exists, nil
}

func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and the service handshake file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, resolved, exists, err := loadForInspection(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			source := resolved
			if !exists {
				source += " (not found; defaults used)"
			}
			fmt.Fprintln(out, renderStatusLine("Config", statusOK, source, colorize))

			if !cfg.UsesHandshakeFile() {
				fmt.Fprintln(out, renderStatusLine("Connection", statusOK, fmt.Sprintf("port %d with configured secret", cfg.Service.Port), colorize))
			} else {
				params, err := bootstrap.ReadHandshake(cmd.Context(), cfg.Service.HandshakeFile)
				switch {
				case err == nil:
					fmt.Fprintln(out, renderStatusLine("Connection", statusOK,
						fmt.Sprintf("handshake file %s (port %d)", cfg.Service.HandshakeFile, params.Port), colorize))
				case errors.Is(err, fs.ErrNotExist):
					fmt.Fprintln(out, renderStatusLine("Connection", statusWarn,
						fmt.Sprintf("handshake file %s not present; start the service first", cfg.Service.HandshakeFile), colorize))
				default:
					return fmt.Errorf("handshake file %s: %w", cfg.Service.HandshakeFile, err)
				}
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with credentials masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := loadForInspection(cmd)
			if err != nil {
				return err
			}
			masked := *cfg
			if masked.Service.Secret != "" {
				masked.Service.Secret = logging.RedactedValue
			}
			if masked.Service.AuthToken != "" {
				masked.Service.AuthToken = logging.RedactedValue
			}
			data, err := toml.Marshal(masked)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

