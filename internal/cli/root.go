// Package cli provides the command-line interface for snsxt.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/molecpathlab/snsxt/internal/config"
	"github.com/molecpathlab/snsxt/internal/logging"
	"github.com/molecpathlab/snsxt/internal/version"
)

var (
	// Global flags
	cfgFile  string
	siteFile string
	logFile  string
	verbose  bool
	debug    bool

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "snsxt",
		Short: "snsxt - task runner for sns analyses",
		Long: `snsxt ` + version.Version + ` - Built: ` + version.BuildTime + `
Runs extra analysis tasks on the output of the sns pipeline.

Tasks are listed in a task list file. Each task either runs directly
or submits jobs to the SGE cluster, waits for them and validates
their output.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = logging.NewLogger(cmd.ErrOrStderr())
			if verbose || debug {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
			if logFile != "" {
				if err := logger.WithFile(logFile); err != nil {
					return fmt.Errorf("failed to open log file %s: %w", logFile, err)
				}
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				logger.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Main config file (default "+config.DefaultMainConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&siteFile, "site-config", "", "Site config file (default "+config.DefaultSiteConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write the log to this file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output (same as --verbose)")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"
	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Submitted jobs keep running on the cluster; only polling stops.
	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived signal %v, cancelling. Submitted jobs are not withdrawn.\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)
	cancelFunc()

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newSamplesCmd())
	rootCmd.AddCommand(newJobsCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newTasksCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context with signal handling.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

// loadConfig builds the run config from the global file flags and o.
func loadConfig(o config.Overrides) (*config.Config, error) {
	b := config.NewBuilder().WithOverrides(o)
	if cfgFile != "" {
		b = b.WithMainFile(cfgFile)
	}
	if siteFile != "" {
		b = b.WithSiteFile(siteFile)
	}
	return b.Build()
}
