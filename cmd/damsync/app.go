package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"dams-sync/internal/config"
	"dams-sync/internal/credentials"
	"dams-sync/internal/repository"
	"dams-sync/pkg/database"
	"dams-sync/pkg/logging"
	"dams-sync/pkg/metrics"
)

// app holds the dependencies shared by every subcommand
type app struct {
	cfg      *config.Config
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
	db       *database.DB
	repo     repository.ObservationRepository
	registry *repository.DamRegistry
	closers  []io.Closer
}

var (
	collectorOnce sync.Once
	collector     *metrics.Collector
)

// processCollector returns the collector registered on the default registry,
// which accepts each metric name once per process
func processCollector() *metrics.Collector {
	collectorOnce.Do(func() {
		collector = metrics.NewCollector("dams_sync")
	})
	return collector
}

// newLogger builds the process logger from the log settings. A configured
// file receives a copy of every entry through a rotating writer.
func newLogger(service string, cfg config.LogConfig) (*logging.StructuredLogger, io.Closer) {
	logger := logging.NewStructuredLogger(service, version, logging.ParseLevel(cfg.Level))
	if logLevel != "" {
		logger.SetLevel(logging.ParseLevel(logLevel))
	}

	if cfg.File == "" {
		return logger, nil
	}
	rotating := logging.NewRotatingWriter(logging.RotationConfig{
		File:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Compress:   true,
	})
	logger.SetOutput(io.MultiWriter(os.Stdout, rotating))
	return logger, rotating
}

// bootstrap loads the settings, resolves the database credentials and opens
// the source database. The caller must call close.
func bootstrap(ctx context.Context, service string) (*app, error) {
	cfg, err := config.LoadConfig(settingsFile)
	if err != nil {
		return nil, err
	}

	logger, logCloser := newLogger(service, cfg.Log)
	a := &app{cfg: cfg, logger: logger}
	if logCloser != nil {
		a.closers = append(a.closers, logCloser)
	}

	logger.Info(ctx, "[STARTUP] Configuration loaded", logging.Fields{
		"version":  version,
		"settings": settingsFile,
		"domain":   cfg.Domain,
	})
	for _, warning := range cfg.Warnings {
		logger.Warn(ctx, "[CONFIG_WARNING] "+warning, logging.Fields{"settings": settingsFile})
	}

	a.metrics = processCollector()

	store := credentials.NewNetrcStore(cfg.NetrcFile)
	settings, err := config.NormalizeDBSettings(ctx, cfg.Source, store, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	db, err := database.Open(ctx, settings.DatabaseConfig(), logger, a.metrics)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.db = db
	a.closers = append([]io.Closer{db}, a.closers...)
	a.repo = repository.NewObservationRepository(db, logger, a.metrics)

	if cfg.RegistryFile != "" {
		registry, err := repository.LoadDamRegistry(cfg.RegistryFile)
		if err != nil {
			a.close()
			return nil, err
		}
		a.registry = registry
		logger.Info(ctx, "[STARTUP] Dam registry loaded", logging.Fields{
			"file": cfg.RegistryFile,
			"dams": registry.Len(),
		})
	}

	return a, nil
}

func (a *app) close() {
	for _, c := range a.closers {
		c.Close()
	}
	a.closers = nil
}
