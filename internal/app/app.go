package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"TenderScanner/internal/config"
	"TenderScanner/internal/domain"
	"TenderScanner/internal/infrastructure/extraction"
	"TenderScanner/internal/infrastructure/httpscraper"
	"TenderScanner/internal/infrastructure/storage"
	"TenderScanner/internal/logging"
	"TenderScanner/internal/ports"
	"TenderScanner/internal/scraper"
	"TenderScanner/internal/usecase"
)

// Application wires configuration into the ingestion pipeline.
type Application struct {
	cfg      config.Config
	db       *sqlx.DB
	pipeline *usecase.Pipeline
	logger   *slog.Logger
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	db, err := sqlx.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store := storage.NewPostgresStore(db)

	registry := scraper.NewRegistry()
	timeout := cfg.Scraper.Timeout()
	scraperLogger := baseLogger.With("component", "scraper.http")
	registry.Register(httpscraper.TypeTag, func(source domain.Source) (scraper.Scraper, error) {
		return httpscraper.New(source, &http.Client{Timeout: timeout}, scraperLogger)
	})

	var extractor ports.Extractor
	if cfg.Gemini.APIKey != "" {
		extractor = extraction.NewClient(cfg.Gemini, baseLogger.With("component", "extraction"))
	} else {
		baseLogger.Warn("no extraction API key configured, items are persisted without structured fields")
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Sources:   store,
		Store:     store,
		Extractor: extractor,
		Scrapers:  registry,
		Logger:    baseLogger.With("component", "pipeline"),
		Options: usecase.Options{
			Limit:                    cfg.Pipeline.Limit,
			PersistFailedExtractions: cfg.Pipeline.PersistFailedExtractions,
			ExtractFiltered:          cfg.Pipeline.ExtractFiltered,
		},
	})

	return &Application{
		cfg:      cfg,
		db:       db,
		pipeline: pipeline,
		logger:   baseLogger.With("component", "app"),
	}, nil
}

// Run executes one pass over all active sources.
func (a *Application) Run(ctx context.Context) error {
	reports, err := a.pipeline.RunAllActive(ctx)
	if err != nil {
		return err
	}

	for _, report := range reports {
		if report.Err != nil {
			a.logger.Error("source run failed", "source", report.SourceName, "error", report.Err)
			continue
		}
		a.logger.Info("source finished",
			"source", report.SourceName,
			"scraped", report.Scraped,
			"processed", report.Processed,
			"filtered", report.Filtered,
			"errors", report.Errors)
	}
	return nil
}

// Close releases the database handle.
func (a *Application) Close() error {
	return a.db.Close()
}
