// Package app provides the command line interface of npm-step-reconciler.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/stacklok/npm-step-reconciler/internal/config"
	"github.com/stacklok/npm-step-reconciler/internal/versions"
)

// NewRootCmd creates the root command. Without a subcommand it runs the
// reconciler, so configuration flags are persistent and shared by every
// subcommand.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "npm-step-reconciler",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Issue and renew Nginx Proxy Manager certificates from a step CA",
		Long: `npm-step-reconciler keeps every Nginx Proxy Manager proxy host served over HTTPS
with certificates issued by a private step CA. Hosts without a certificate get one,
and certificates close to expiry are replaced.

Settings are read from flags, then environment variables, then an optional YAML or
TOML config file, then built-in defaults.`,
		RunE: runReconciler,
	}

	rootCmd.PersistentFlags().String("config", "",
		"Path to a YAML or TOML configuration file (default: searched in the XDG config dirs)")
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newInventoryCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}

			if format == "json" {
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("error formatting version info as JSON: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return err
			}

			slog.Info("npm-step-reconciler version",
				"version", info.Version,
				"commit", info.Commit,
				"built", info.BuildDate,
				"go", info.GoVersion,
				"platform", info.Platform)
			return nil
		},
	}
	versionCmd.Flags().String("format", "", "Output format (json)")
	return versionCmd
}

// loadConfig resolves configuration for cmd. Validation is skipped when
// validate is false so that partial configurations can be inspected.
func loadConfig(cmd *cobra.Command, validate bool) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	opts := []config.Option{config.WithConfigPath(path), config.WithFlags(cmd.Flags())}
	if validate {
		return config.Load(opts...)
	}
	return config.Resolve(opts...)
}
