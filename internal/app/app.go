package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"UnrestWatch/internal/analytics"
	"UnrestWatch/internal/cluster"
	"UnrestWatch/internal/config"
	"UnrestWatch/internal/dedup"
	"UnrestWatch/internal/domain"
	"UnrestWatch/internal/eventkey"
	"UnrestWatch/internal/feed"
	"UnrestWatch/internal/infrastructure/extractor"
	"UnrestWatch/internal/infrastructure/feeds"
	"UnrestWatch/internal/infrastructure/llm"
	"UnrestWatch/internal/infrastructure/scheduler"
	"UnrestWatch/internal/infrastructure/storage"
	"UnrestWatch/internal/infrastructure/telegram"
	"UnrestWatch/internal/logging"
	"UnrestWatch/internal/ports"
	"UnrestWatch/internal/severity"
	"UnrestWatch/internal/store"
	"UnrestWatch/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	pipeline  *usecase.Pipeline
	scheduler *usecase.Scheduler
	db        *sql.DB
}

// New builds a runnable application instance. An empty database DSN keeps
// the engine on the in-memory store.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	app := &Application{cfg: cfg, logger: baseLogger}

	var (
		events ports.EventStore
		groups ports.GroupStore
		locker ports.ShardLocker
	)
	if cfg.Database.DSN != "" {
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		pg := storage.NewPostgresStore(db)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			db.Close()
			return nil, err
		}
		app.db = db
		events, groups, locker = pg, pg, pg
	} else {
		mem := store.NewMemory()
		events, groups, locker = mem, mem, mem
	}

	registry := feed.NewRegistry()
	registry.Register(feeds.NewFileFeed(nil))
	registry.Register(feeds.NewHTTPFeed(nil, nil))
	source := feeds.NewMultiSource(registry, cfg.Feeds, baseLogger.With("component", "source"))

	detector := dedup.NewDetector(groups, cfg.Dedup.HammingThreshold, cfg.Dedup.Window, baseLogger.With("component", "dedup"))
	if err := detector.Rebuild(context.Background()); err != nil {
		if app.db != nil {
			app.db.Close()
		}
		return nil, fmt.Errorf("rebuild dedup index: %w", err)
	}

	keys := eventkey.NewBuilder(cfg.Aliases)
	scorer := severity.NewScorer(severityWeights(cfg.Severity))
	clusterer := cluster.NewClusterer(events, keys, scorer, cluster.Config{
		AcceptThreshold: cfg.Clustering.AcceptThreshold,
		ActivityWindow:  cfg.Clustering.ActivityWindow,
		DormantAfter:    cfg.Clustering.DormantAfter,
		CloseAfter:      cfg.Clustering.CloseAfter,
		MergeGrace:      cfg.Clustering.MergeGrace,
	}, baseLogger.With("component", "clusterer"))

	app.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Source:          source,
		Detector:        detector,
		Clusterer:       clusterer,
		Reconciler:      cluster.NewReconciler(events, locker, clusterer, baseLogger.With("component", "reconciler")),
		Keys:            keys,
		Extractor:       buildExtractor(cfg),
		Locker:          locker,
		Aggregator:      analytics.NewAggregator(events),
		Notifier:        buildNotifier(cfg),
		Logger:          baseLogger.With("component", "pipeline"),
		ConfidenceFloor: cfg.Clustering.ConfidenceFloor,
	})

	app.scheduler = usecase.NewScheduler(
		scheduler.NewIntervalScheduler(cfg.Scheduler.IngestEvery),
		scheduler.NewIntervalScheduler(cfg.Scheduler.ReconcileEvery),
		app.pipeline,
	)
	return app, nil
}

// Run starts the recurring jobs and blocks until the context is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	<-ctx.Done()

	stopCtx := context.Background()
	if err := a.scheduler.Stop(stopCtx); err != nil {
		a.logger.Error("scheduler stop", "error", err)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("database close", "error", err)
		}
	}
	return nil
}

func buildExtractor(cfg config.Config) ports.Extractor {
	if cfg.Extractor.InferenceURL != "" {
		return extractor.NewClient(cfg.Extractor.InferenceURL, cfg.Extractor.APIKey, cfg.Extractor.RatePerSec)
	}
	if cfg.Labeler.APIKey != "" {
		return llm.NewLabeler(cfg.Labeler)
	}
	return nil
}

func buildNotifier(cfg config.Config) ports.Notifier {
	tg := cfg.Notifications.Telegram
	if tg.BotToken == "" || tg.ChatID == "" {
		return nil
	}
	return telegram.NewNotifier(tg.BotToken, tg.ChatID)
}

func severityWeights(cfg config.SeverityConfig) severity.Weights {
	weights := severity.Weights{
		SectorDefault: cfg.SectorDefault,
		DurationDay:   cfg.DurationDay,
	}
	if len(cfg.ScopeWeights) > 0 {
		weights.Scope = make(map[domain.Scope]float64, len(cfg.ScopeWeights))
		for scope, weight := range cfg.ScopeWeights {
			weights.Scope[domain.ParseScope(scope)] = weight
		}
	}
	if len(cfg.SectorWeights) > 0 {
		weights.Sector = cfg.SectorWeights
	}
	return weights
}
