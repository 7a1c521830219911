// Package cmd implements the CLI commands for recarr.
package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/recarr/internal/config"
	"github.com/jmylchreest/recarr/internal/observability"
	"github.com/jmylchreest/recarr/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// cfg and logger are populated by the persistent pre-run and shared by all
// subcommands.
var (
	cfg    *config.Config
	logger *slog.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "recarr",
	Short:   "Offline recorder for adaptive streaming presentations",
	Version: version.Short(),
	Long: `recarr records DASH presentations into local storage for later offline
playback. It downloads every segment of the selected quality per track,
rewrites the manifest to address the local store, and keeps a catalog of
recordings that can be listed, resumed, and deleted.`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initApp()
	}

	// Accept underscores in flag names so they line up with config keys.
	rootCmd.PersistentFlags().SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., /etc/recarr, $HOME/.recarr)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}

// initApp loads configuration and sets up logging. CLI flags override
// config/env values only when explicitly provided, preserving the priority
// flag > env > config file > default.
func initApp() error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	if rootCmd.PersistentFlags().Changed("log-level") {
		cfg.Logging.Level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		cfg.Logging.Format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	logger = observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)
	return nil
}
