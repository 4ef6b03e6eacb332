// Package cmd implements the CLI commands for vidgate.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/vidgate/internal/config"
	"github.com/jmylchreest/vidgate/internal/observability"
	"github.com/jmylchreest/vidgate/internal/version"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "vidgate",
	Short:   "Motion gated recording for H.264 streams",
	Version: version.Short(),
	Long: `vidgate watches an H.264 MPEG-TS stream, detects motion from decoded
frames and writes each motion event as a clip that includes a lookback of
the video before the motion began.

Events can be catalogued in a database, announced on NATS and uploaded to
S3 compatible object storage.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// Logging flags are not bound to viper so that an unset flag never
	// shadows the env and file values. They only override when Changed.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or /etc/vidgate/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// loadConfig reads the configuration and applies the logging flags. It also
// installs the configured logger as the slog default.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	applyLogFlags(&cfg.Logging, cmd.Root().PersistentFlags())
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("validating config: %w", err)
	}

	logger := observability.NewLoggerWithWriter(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func applyLogFlags(cfg *config.LoggingConfig, flags *pflag.FlagSet) {
	if flags.Changed("log-level") {
		cfg.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Format, _ = flags.GetString("log-format")
	}
	cfg.Level = strings.ToLower(cfg.Level)
	if cfg.Level == "warning" {
		cfg.Level = "warn"
	}
	cfg.Format = strings.ToLower(cfg.Format)
}
