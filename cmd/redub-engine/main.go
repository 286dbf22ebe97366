package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/redub/redub-engine/internal/api"
	"github.com/redub/redub-engine/internal/backend"
	"github.com/redub/redub-engine/internal/config"
	"github.com/redub/redub-engine/internal/database"
	"github.com/redub/redub-engine/internal/importwatch"
	"github.com/redub/redub-engine/internal/metrics"
	"github.com/redub/redub-engine/internal/notify"
	"github.com/redub/redub-engine/internal/pipeline"
	"github.com/redub/redub-engine/internal/storage"
	"github.com/redub/redub-engine/internal/view"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "HTTP listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (trace|debug|info|warn|error)")
	flag.StringVar(&overrides.BackendURL, "backend-url", "", "synthesis backend base URL")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL connection string")
	flag.StringVar(&overrides.ArtifactDir, "artifact-dir", "", "local artifact directory")
	flag.StringVar(&overrides.WatchDir, "watch-dir", "", "directory to watch for dropped audio")
	flag.Parse()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("redub-engine starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database is optional: without it, view settings live in memory
	// and RTF history resets on restart.
	var (
		db       *database.DB
		settings view.SettingsStore
		samples  *database.SampleWriter
	)
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err = database.Connect(ctx, cfg.DatabaseURL, dbLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ensure schema")
		}
		settings = database.NewSettingsStore(db)
		samples = database.NewSampleWriter(db, log)
		defer samples.Stop()
	}

	store, err := storage.New(cfg.S3, cfg.ArtifactDir, log.With().Str("component", "storage").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize artifact store")
	}

	// MQTT state notifications are optional.
	var mqtt *notify.Publisher
	if cfg.MQTTBrokerURL != "" {
		mqtt, err = notify.Connect(notify.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
	}

	client := backend.NewClient(cfg.BackendURL, cfg.BackendToken, cfg.BackendTimeout)

	mgrOpts := pipeline.Options{
		Backend:  client,
		Store:    store,
		Settings: settings,
		Notifier: mqtt,
		Log:      log,
	}
	if samples != nil {
		mgrOpts.Samples = samples
	}
	mgr := pipeline.NewManager(mgrOpts)

	// Seed the ETA table from recorded history before the first request.
	mgr.Estimator().Refresh(ctx, client)

	var pool *pgxpool.Pool
	if db != nil {
		pool = db.Pool
	}
	prometheus.MustRegister(metrics.NewCollector(pool, mgr))

	// Drop-folder importer is optional.
	var watcher *importwatch.Watcher
	if cfg.WatchDir != "" {
		watcher = importwatch.New(mgr, cfg.WatchDir, log)
		if err := watcher.Start(); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.WatchDir).Msg("failed to start import watcher")
		}
		defer watcher.Stop()
	}

	srv := api.NewServer(api.Options{
		Config:    cfg,
		Manager:   mgr,
		Store:     store,
		DB:        db,
		MQTT:      mqtt,
		Watcher:   watcher,
		Version:   version,
		StartTime: startTime,
		Log:       log.With().Str("component", "http").Logger(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("redub-engine stopped")
}
