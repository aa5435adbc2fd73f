package app

import (
	"fmt"
	"log/slog"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/npm-step-reconciler/internal/config"
)

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				slog.Warn("Configuration is not valid", "error", err)
			}

			out, err := renderConfig(cfg, format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	showCmd.Flags().String("format", "yaml", "Output format (yaml, toml)")

	configCmd.AddCommand(showCmd)
	return configCmd
}

// renderConfig marshals cfg. Secrets render as a fixed mask in both formats.
func renderConfig(cfg *config.Config, format string) ([]byte, error) {
	switch format {
	case "yaml", "":
		return yaml.Marshal(cfg)
	case "toml":
		return toml.Marshal(cfg)
	default:
		return nil, fmt.Errorf("unsupported format %q (yaml, toml)", format)
	}
}
