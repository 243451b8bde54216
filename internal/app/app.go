package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"NewsIngestor/internal/config"
	"NewsIngestor/internal/dedup"
	"NewsIngestor/internal/infrastructure/enrich"
	"NewsIngestor/internal/infrastructure/scheduler"
	"NewsIngestor/internal/infrastructure/scraper"
	"NewsIngestor/internal/infrastructure/storage"
	"NewsIngestor/internal/infrastructure/telegram"
	"NewsIngestor/internal/logging"
	"NewsIngestor/internal/ports"
	"NewsIngestor/internal/publish"
	"NewsIngestor/internal/ratelimit"
	"NewsIngestor/internal/runlock"
	"NewsIngestor/internal/scanner"
	"NewsIngestor/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	db        *sql.DB
	scheduler *usecase.Scheduler
	logger    *slog.Logger
}

// New builds a runnable application instance.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	db, err := storage.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}
	store := storage.NewPostgresStore(db)

	registry := scanner.NewRegistry()
	registry.Register(scraper.NewProviderScanner(
		cfg.Scraper.Endpoint, cfg.Scraper.APIKey, cfg.Scraper.KnownStopAfter, nil))
	registry.Register(scraper.NewMobileHTMLScanner(nil))
	source := scraper.NewStrategyAdapter(registry, baseLogger.With("component", "source"))

	enricher := enrich.NewService(cfg.OpenAI)
	hasher := dedup.NewHTTPHasher(&http.Client{Timeout: 30 * time.Second})

	detectors := dedup.NewChain(store, enricher, hasher, dedup.Thresholds{
		HashDistance:         cfg.Dedup.HashDistanceThreshold,
		EntityOverlap:        cfg.Dedup.EntityOverlapThreshold,
		Semantic:             cfg.Dedup.SemanticThreshold,
		SemanticWithEntities: cfg.Dedup.SemanticThresholdWithEntities,
	}, baseLogger.With("component", "dedup"))

	distributor := telegram.NewPublisher(cfg.Telegram.BotToken, cfg.Telegram.ChatID,
		baseLogger.With("component", "telegram"))
	limiter := ratelimit.New(time.Duration(cfg.Telegram.MinPublishGapSeconds) * time.Second)
	coordinator := publish.NewCoordinator(store, distributor, limiter,
		cfg.Publishing.StaleClaimAfter(), baseLogger.With("component", "publish"))

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:       source,
		Store:        store,
		Enricher:     enricher,
		Detectors:    detectors,
		Scorer:       usecase.NewScorer(cfg.Scoring.BoostKeywords, cfg.Scoring.CategoryCaps),
		Publisher:    coordinator,
		Sources:      toSourceRequests(cfg.Sources),
		RecentWindow: cfg.Dedup.RecentWindow,
		Logger:       baseLogger.With("component", "pipeline"),
	})

	lock, err := buildLock(cfg, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	driver := scheduler.NewIntervalScheduler(cfg.Scheduler.Interval())
	sched := usecase.NewScheduler(driver, lock, cfg.RunLock.Name, pipeline,
		baseLogger.With("component", "scheduler"))

	return &Application{cfg: cfg, db: db, scheduler: sched, logger: baseLogger}, nil
}

// Run starts the scheduler and blocks until the context is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.scheduler.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	return a.db.Close()
}

// RunOnce executes a single locked pipeline pass and exits; used for manual
// or cron-external triggering.
func (a *Application) RunOnce(ctx context.Context) error {
	return a.scheduler.RunOnce(ctx)
}

func buildLock(cfg config.Config, db *sql.DB) (runlock.Substrate, error) {
	switch cfg.RunLock.Strategy {
	case "", "row":
		return runlock.NewRowLock(db, cfg.RunLock.Staleness()), nil
	case "advisory":
		return runlock.NewAdvisoryLock(db), nil
	case "valkey":
		lock, err := runlock.NewValkeyLock(
			cfg.RunLock.Valkey.Address, cfg.RunLock.Valkey.Password, cfg.RunLock.Staleness())
		if err != nil {
			return nil, fmt.Errorf("valkey lock: %w", err)
		}
		return lock, nil
	default:
		return nil, fmt.Errorf("unknown run lock strategy %q", cfg.RunLock.Strategy)
	}
}

func toSourceRequests(sources []config.SourceConfig) []ports.SourceRequest {
	requests := make([]ports.SourceRequest, 0, len(sources))
	for _, src := range sources {
		requests = append(requests, ports.SourceRequest{
			Name:     src.Name,
			URL:      src.URL,
			Scanner:  src.Scanner,
			MaxPages: src.MaxPages,
			Options:  src.Options,
		})
	}
	return requests
}
