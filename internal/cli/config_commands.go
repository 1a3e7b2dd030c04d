package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/molecpathlab/snsxt/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show snsxt configuration",
		Long: `Configuration commands for snsxt.

Commands:
  show - Print the merged configuration as YAML
  path - Show the default configuration file paths`,
	}
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigPathCmd())
	return configCmd
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration",
		Long: `Print the configuration a run would use: defaults, then the site
config, then the main config. Relative paths are shown resolved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(config.Overrides{})
			if err != nil {
				return err
			}
			data, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show default configuration file paths",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "main: %s\nsite: %s\n", config.DefaultMainConfigPath(), config.DefaultSiteConfigPath())
		},
	}
}
