package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/lockbox/internal/app"
	"github.com/goodtune/lockbox/internal/config"
	"github.com/goodtune/lockbox/internal/lock"
	"github.com/goodtune/lockbox/internal/metrics"
	"github.com/goodtune/lockbox/internal/systemd"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Lockbox daemon",
	Long:  `Start the Lockbox daemon: usage ticks, lock enforcement, the daily rollover and the metrics endpoint.`,
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting Lockbox")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, app.Options{}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Lockbox: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Address, logger)

		// Use systemd socket-activated listener if available
		ln, err := systemd.MetricsListener()
		if err != nil {
			return err
		}
		if ln != nil {
			logger.Info().Msg("Running with systemd socket activation")
			metricsServer.SetListener(ln)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}
	}

	a.Start(ctx)
	go publishStatus(ctx, a)
	go watchdog(ctx)

	logger.Info().Msg("Lockbox startup complete")
	if cfg.Metrics.Enabled {
		logger.Info().Msgf("Metrics: http://%s/metrics", cfg.Metrics.Address)
	}

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
			break
		}
		logger.Info().Msg("SIGHUP received, reloading policies...")
		if err := a.ReloadPolicy(); err != nil {
			logger.Error().Err(err).Msg("Failed to reload policies")
		} else {
			logger.Info().Msg("Policies reloaded successfully")
		}
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	a.Stop()
	cancel()

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("Lockbox stopped")

	return nil
}

// publishStatus mirrors lock state changes into the systemd status line.
func publishStatus(ctx context.Context, a *app.App) {
	snapshots, unsubscribe := a.Machine.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-snapshots:
			_ = systemd.NotifyStatus(statusLine(snap))
		}
	}
}

func statusLine(snap lock.Snapshot) string {
	switch {
	case snap.State == lock.Locked && snap.ScheduledUnlock != nil:
		return fmt.Sprintf("locked until %s", snap.ScheduledUnlock.Format("2006-01-02 15:04"))
	case snap.Remaining >= 0:
		return fmt.Sprintf("%s, %s remaining", snap.State, snap.Remaining.Round(time.Minute))
	}
	return string(snap.State)
}

func watchdog(ctx context.Context) {
	interval := systemd.WatchdogInterval()
	if interval == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := systemd.NotifyWatchdog(); err != nil {
				log.Warn().Err(err).Msg("Failed to send systemd watchdog notification")
			}
		}
	}
}
