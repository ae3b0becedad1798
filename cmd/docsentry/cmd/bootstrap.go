package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"docsentry/internal/detect"
	"docsentry/internal/metrics"
	"docsentry/internal/paperless"
	"docsentry/internal/repository"
	"docsentry/internal/service"
	"docsentry/pkg/config"
	"docsentry/pkg/logger"
	"docsentry/pkg/postgres"
)

// app bundles everything a command needs after bootstrap.
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	db          *pgxpool.Pool
	docRepo     *repository.DocumentRepository
	anomalyRepo *repository.AnomalyRepository
	client      *paperless.Client
	narrator    *service.GigaNarrator
	reconciler  *service.Reconciler
}

func (a *app) close() {
	if a.narrator != nil {
		a.narrator.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	logger.Sync()
}

// bootstrap wires config, logging, storage, the remote client and the
// reconciler. m may be nil for one-shot commands with no metrics endpoint.
func bootstrap(ctx context.Context, m *metrics.Metrics) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(cfg.Logger.Level); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	appLogger := logger.Get()

	db, err := postgres.NewPool(ctx, &cfg.Database, appLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := repository.InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	docRepo := repository.NewDocumentRepository(db, appLogger)
	anomalyRepo := repository.NewAnomalyRepository(db, appLogger)

	client := paperless.NewClient(cfg.Paperless, appLogger)
	engine := detect.NewEngine(cfg.Detector, appLogger)

	gigaNarrator, err := service.NewGigaNarrator(ctx, cfg.GigaChat, appLogger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize narrator: %w", err)
	}
	var narrator service.Narrator
	if gigaNarrator != nil {
		narrator = gigaNarrator
	}

	reconciler := service.NewReconciler(
		client, docRepo, anomalyRepo, engine, narrator, m,
		cfg.Detector.Parallelism, appLogger,
	)

	return &app{
		cfg:         cfg,
		logger:      appLogger,
		db:          db,
		docRepo:     docRepo,
		anomalyRepo: anomalyRepo,
		client:      client,
		narrator:    gigaNarrator,
		reconciler:  reconciler,
	}, nil
}
