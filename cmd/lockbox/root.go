package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goodtune/lockbox/internal/app"
	"github.com/goodtune/lockbox/internal/config"
	"github.com/goodtune/lockbox/internal/enforce"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lockbox",
	Short: "Lockbox - daily screen time budgets with a sentence challenge unlock",
	Long: `Lockbox tracks device usage against a daily budget (free tier) or
per time slot budgets (premium tier), locks the device when the budget is
spent and lets the user earn an early unlock by writing a sentence that two
independent judges accept.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to run command when no subcommand is provided
		return runDaemon(cmd, args)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/lockbox/config.yaml", "Path to configuration file")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "console" || cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// openApp builds the application for a one-shot command. Unless enforceLock
// is set the device is left alone and only the log agent sees lock
// transitions.
func openApp(ctx context.Context, enforceLock bool) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Create a quiet logger for command mode
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	var opts app.Options
	if !enforceLock {
		opts.Agent = enforce.NewLog(logger)
	}

	a, err := app.New(ctx, cfg, opts, logger)
	if err != nil {
		return nil, err
	}
	// Bring persisted state up to date with the current day.
	a.Rollover(ctx)
	return a, nil
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close storage: %v\n", err)
	}
}
