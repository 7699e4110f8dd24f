// Package app wires configuration, logging, storage and the pipeline services for the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"gorm.io/gorm"

	"fraud-detection-pipeline/internal/appcontext"
	"fraud-detection-pipeline/internal/config"
	"fraud-detection-pipeline/internal/feed"
	"fraud-detection-pipeline/internal/notify"
	"fraud-detection-pipeline/internal/registry"
	"fraud-detection-pipeline/internal/repository"
	"fraud-detection-pipeline/internal/services/scoring"
)

// App holds what every command needs.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	HTTP   *http.Client

	db *gorm.DB
}

// New loads configuration from configFile (optional) and the environment, and returns a
// context carrying the configured logger.
func New(ctx context.Context, configFile string) (*App, context.Context, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, ctx, err
	}

	logger := config.NewLogger(cfg.LogLevel, os.Stdout)
	slog.SetDefault(logger)

	a := &App{
		Config: cfg,
		Logger: logger,
		HTTP:   &http.Client{Timeout: cfg.HTTPTimeout},
	}
	return a, appcontext.WithLogger(ctx, logger), nil
}

// DB opens and migrates the database on first use.
func (a *App) DB() (*gorm.DB, error) {
	if a.db != nil {
		return a.db, nil
	}

	db, err := config.InitDB(a.Config.DatabaseURI)
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	a.db = db
	return db, nil
}

// Registry returns a client for the model registry.
func (a *App) Registry() (*registry.Client, error) {
	return registry.NewClient(a.HTTP, a.Config.TrackingURI)
}

// Close releases the database connection.
func (a *App) Close() {
	if a.db == nil {
		return
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// Scorer assembles the real-time scorer around the production model. The returned cleanup
// closes the optional redis and kafka clients.
func (a *App) Scorer(ctx context.Context, metrics *scoring.Metrics) (*scoring.Service, func(), error) {
	logger := appcontext.LoggerFromContext(ctx)
	cfg := a.Config
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	db, err := a.DB()
	if err != nil {
		return nil, cleanup, err
	}

	reg, err := a.Registry()
	if err != nil {
		return nil, cleanup, err
	}

	model, err := scoring.LoadProductionModel(ctx, reg, cfg.ModelName, cfg.ModelAlias)
	if err != nil {
		return nil, cleanup, err
	}
	logger.InfoContext(ctx, "production model loaded", "model", model.Name, "version", model.Version)

	feedClient, err := feed.NewClient(a.HTTP, cfg.APIURL)
	if err != nil {
		return nil, cleanup, err
	}

	notifier := &notify.Notifier{Email: notify.NewEmailSender(cfg.SMTP)}
	if cfg.KafkaBroker != "" {
		publisher, err := notify.NewKafkaPublisher(ctx, cfg.KafkaBroker, cfg.KafkaAlertTopic)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, publisher.Close)
		notifier.Alerts = publisher
	}

	deps := scoring.Deps{
		Feed:         feedClient,
		Model:        model,
		Transactions: repository.NewTransactionRepository(db),
		Runs:         repository.NewRunRepository(db),
		Notifier:     notifier,
		Metrics:      metrics,
	}

	if cfg.RedisAddr != "" {
		client := scoring.NewRedisClient(cfg.RedisAddr)
		closers = append(closers, func() { _ = client.Close() })
		deps.Dedup = scoring.NewRedisDeduper(client, cfg.DedupTTL)
	}

	svc, err := scoring.NewService(deps, scoring.Options{
		PollInterval: cfg.PollInterval,
		Threshold:    cfg.FraudThreshold,
	})
	if err != nil {
		return nil, cleanup, err
	}

	return svc, cleanup, nil
}
