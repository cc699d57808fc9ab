package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mtappler/focusgate/internal/api"
	"github.com/mtappler/focusgate/internal/config"
	"github.com/mtappler/focusgate/internal/detector"
	"github.com/mtappler/focusgate/internal/enforce"
	"github.com/mtappler/focusgate/internal/events"
	"github.com/mtappler/focusgate/internal/extensions"
	"github.com/mtappler/focusgate/internal/host"
	"github.com/mtappler/focusgate/internal/metrics"
	"github.com/mtappler/focusgate/internal/override"
	"github.com/mtappler/focusgate/internal/reset"
	"github.com/mtappler/focusgate/internal/session"
	"github.com/mtappler/focusgate/internal/settings"
	"github.com/mtappler/focusgate/internal/storage"
	"github.com/mtappler/focusgate/internal/storage/bolt"
	"github.com/mtappler/focusgate/internal/storage/redis"
	"github.com/mtappler/focusgate/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the FocusGate daemon",
	Long:  `Start the FocusGate daemon with the loopback HTTP API, usage tracking, limit enforcement, and metrics endpoints.`,
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
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
		Msg("Starting FocusGate")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to get systemd listeners")
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Msg("Storage initialized")

	ctx := context.Background()
	clock := session.RealClock{}

	// Event bus for browser broadcasts
	bus := events.NewBus(logger)

	// Site detector
	det := detector.New(store.Sites(), store.Groups(), logger)
	if err := det.Reload(ctx); err != nil {
		// Detection fails open until tables load, so keep starting
		logger.Warn().Err(err).Msg("Failed to load detection tables")
	}

	// Session tracker
	tracker := session.NewTracker(store.Usage(), store.Session(), clock, session.Config{
		StaleAfter: parseDuration(cfg.Tracking.SessionStaleAfter, session.DefaultStaleAfter),
	}, logger)

	// Optional override policies
	var overrides *override.Engine
	if cfg.Overrides.PolicyDir != "" {
		overrides, err = override.NewEngine(cfg.Overrides.PolicyDir, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize override engine: %w", err)
		}
		logger.Info().Str("policy_dir", cfg.Overrides.PolicyDir).Msg("Override policies loaded")
	}

	// Command queue doubles as the tab controller: enforcement actions
	// are queued here and drained by the browser client.
	queue := api.NewCommandQueue(logger)

	// Blocking orchestrator
	orch := enforce.NewOrchestrator(det, tracker, store, overrides, queue, bus, clock, enforce.Config{
		BlockPageURL:      cfg.API.BlockPageURL(),
		RestoredNotifyCap: cfg.Tracking.RestoredNotifyCap,
	}, logger)

	// Settings and extension services
	settingsSvc := settings.NewService(store, bus, orch, logger)
	extensionsSvc := extensions.NewService(store, bus, orch, clock, logger)

	// Daily reset scheduler
	scheduler, err := reset.NewScheduler(store.Usage(), store.Extensions(), bus, clock, cfg.Reset.Time, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize reset scheduler: %w", err)
	}

	// Catch up on any reset missed while the daemon was down
	if err := scheduler.Run(ctx); err != nil {
		logger.Warn().Err(err).Msg("Startup reset pass failed")
	}
	scheduler.Start()

	// Recover a session left behind by an unclean shutdown
	if err := tracker.Resume(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to resume persisted session")
	}

	// Browser event dispatcher
	dispatcher := host.NewDispatcher(det, tracker, orch, scheduler, logger)

	// API server
	apiServer := api.NewServer(cfg.API, dispatcher, settingsSvc, extensionsSvc, queue, bus, tracker, orch, store, logger)
	if sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// Metrics server
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.ListenAddr(), logger)
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	// Internal tick loop. The browser alarm drives ticks too, but this
	// keeps usage flushing even when the client's alarms are throttled.
	tickStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(parseDuration(cfg.Tracking.TickInterval, 2*time.Second))
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := orch.HandleTick(ctx); err != nil {
					logger.Error().Err(err).Msg("Tick failed")
				}
			case <-tickStop:
				return
			}
		}
	}()

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan

		switch sig {
		case syscall.SIGHUP:
			logger.Info().Msg("SIGHUP received, reloading policies...")
			if overrides != nil {
				if err := overrides.Reload(); err != nil {
					logger.Error().Err(err).Msg("Failed to reload override policies")
				}
			}
			if err := orch.Reevaluate(ctx); err != nil {
				logger.Error().Err(err).Msg("Re-evaluation after reload failed")
			}
			continue

		case os.Interrupt, syscall.SIGTERM:
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		}

		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Stop components. The tracker flushes the open session so no usage
	// is lost across restarts.
	close(tickStop)
	scheduler.Stop()

	if err := tracker.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Error stopping session tracker")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	logger.Info().Msg("FocusGate stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "bolt"
	}

	switch storageType {
	case "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (must be 'bolt' or 'redis')", storageType)
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
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string, falling back to a default on error
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
