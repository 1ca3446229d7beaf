package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/studytrack/internal/api"
	"github.com/goodtune/studytrack/internal/clock"
	"github.com/goodtune/studytrack/internal/config"
	"github.com/goodtune/studytrack/internal/metrics"
	"github.com/goodtune/studytrack/internal/stats"
	"github.com/goodtune/studytrack/internal/storage"
	"github.com/goodtune/studytrack/internal/storage/redis"
	"github.com/goodtune/studytrack/internal/systemd"
	"github.com/goodtune/studytrack/internal/tracker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start StudyTrack server",
	Long:  `Start the StudyTrack API server together with the liveness sweeper, the stats rollup worker and the metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

// engine is the storage and domain wiring shared by every command.
type engine struct {
	cfg       *config.Config
	logger    zerolog.Logger
	store     storage.Store
	locations *stats.LocationCache
	worker    *stats.Worker
	tracker   *tracker.Tracker
}

func newEngine() (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("redis_host", cfg.Storage.Redis.Host).
		Int("redis_port", cfg.Storage.Redis.Port).
		Msg("Storage initialized")

	locations, err := stats.NewLocationCache(cfg.Rollup.LocationCacheSize)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	worker := stats.NewWorker(store, locations, stats.Config{
		Interval:     parseDuration(cfg.Rollup.Interval, stats.DefaultInterval),
		MaxAttempts:  cfg.Rollup.MaxAttempts,
		RetryBackoff: parseDuration(cfg.Rollup.RetryBackoff, stats.DefaultRetryBackoff),
		BatchSize:    int64(cfg.Rollup.BatchSize),
	}, logger)

	tr := tracker.New(store, clock.System{}, locations, worker, tracker.Config{
		TransitionRetries: cfg.Tracker.TransitionRetries,
	}, logger)

	return &engine{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		locations: locations,
		worker:    worker,
		tracker:   tr,
	}, nil
}

func (e *engine) sweeper() *tracker.Sweeper {
	return tracker.NewSweeper(e.tracker, tracker.SweeperConfig{
		Interval:  parseDuration(e.cfg.Tracker.SweepInterval, tracker.DefaultSweepInterval),
		Threshold: parseDuration(e.cfg.Tracker.AbandonThreshold, tracker.DefaultAbandonThreshold),
	}, e.logger)
}

func (e *engine) authenticator() (*api.Authenticator, error) {
	return api.NewAuthenticator(e.cfg.Auth.JWTSecret, e.cfg.Auth.Issuer, parseDuration(e.cfg.Auth.TokenTTL, api.DefaultTokenTTL))
}

func (e *engine) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.Error().Err(err).Msg("Failed to close storage")
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	cfg := e.cfg
	logger := e.logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting StudyTrack")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	auth, err := e.authenticator()
	if err != nil {
		return fmt.Errorf("failed to initialize authenticator: %w", err)
	}

	// Drain anything left pending by a previous run before serving
	e.worker.Start()
	e.worker.Nudge()

	sweeper := e.sweeper()
	sweeper.Start()

	apiConfig := api.Config{
		ListenAddr:   fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort),
		ReadTimeout:  parseDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: parseDuration(cfg.Server.WriteTimeout, 15*time.Second),
		IdleTimeout:  parseDuration(cfg.Server.IdleTimeout, 60*time.Second),
		PingInterval: parseDuration(cfg.Tracker.ClientPingInterval, 10*time.Second),
	}
	apiServer := api.NewServer(apiConfig, e.tracker, e.store, auth, e.locations, logger)

	if sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	if sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	logger.Info().Msg("StudyTrack startup complete")
	logger.Info().Msgf("API: http://%s", apiConfig.ListenAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	watchdogStop := make(chan struct{})
	if err := systemd.Watchdog(watchdogStop); err != nil {
		logger.Warn().Err(err).Msg("Failed to start systemd watchdog")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}
	close(watchdogStop)

	// Stop accepting requests before the background workers
	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}

	sweeper.Stop()
	e.worker.Stop()

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("StudyTrack stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "redis"
	}

	switch storageType {
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (only 'redis' is supported)", storageType)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
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

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
