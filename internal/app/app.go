// Package app wires configuration, adapters and use cases into a
// runnable application.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"OsintAggregator/internal/config"
	"OsintAggregator/internal/infrastructure/alertmail"
	"OsintAggregator/internal/infrastructure/analysis"
	"OsintAggregator/internal/infrastructure/feeds"
	"OsintAggregator/internal/infrastructure/scheduler"
	"OsintAggregator/internal/infrastructure/storage"
	"OsintAggregator/internal/infrastructure/telegram"
	"OsintAggregator/internal/logging"
	"OsintAggregator/internal/ports"
	"OsintAggregator/internal/reconcile"
	"OsintAggregator/internal/report"
	"OsintAggregator/internal/scrape"
	"OsintAggregator/internal/source"
	"OsintAggregator/internal/usecase"
)

// Application holds the wired components for one process lifetime.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *storage.SQLiteStore
	pipeline  *usecase.Pipeline
	reporter  *report.Generator
	scheduler ports.Scheduler
}

// New wires everything. An unreachable store or an invalid source
// configuration is fatal; a missing analyst channel only disables
// reconciliation and digests.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	registry := source.NewRegistry()
	registry.Register("rss", func(c config.SourceConfig, _ *slog.Logger) (ports.AlertSource, error) {
		return feeds.New(c.Name, c.URL, c.MaxItems, nil), nil
	})
	registry.Register("alertmail", func(c config.SourceConfig, logger *slog.Logger) (ports.AlertSource, error) {
		return alertmail.New(c.Name, c.Dir, logger), nil
	})
	aggregator, err := source.NewAggregator(registry, cfg.Sources, baseLogger.With("component", "source"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build sources: %w", err)
	}

	engine := scrape.NewEngine(
		[]scrape.Strategy{
			scrape.NewStaticFetcher(nil, cfg.Scrape.Timeout.Std()),
			scrape.NewBrowserFetcher(cfg.Scrape.BrowserTimeout.Std(), cfg.Scrape.BrowserSettle.Std()),
		},
		scrape.Config{
			MaxAttempts:         cfg.Scrape.MaxAttempts,
			InitialInterval:     cfg.Scrape.InitialBackoff.Std(),
			MaxInterval:         cfg.Scrape.MaxBackoff.Std(),
			EscalateInNormalRun: cfg.Scrape.EscalateInNormalRun,
		},
		baseLogger.With("component", "scraper"),
	)

	var limiter *rate.Limiter
	if interval := cfg.Gemini.MinCallInterval.Std(); interval > 0 {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	analyzer := analysis.NewClient(analysis.Config{
		Endpoint:   cfg.Gemini.Endpoint,
		Model:      cfg.Gemini.Model,
		APIKey:     cfg.Gemini.APIKey,
		MaxRetries: cfg.Gemini.MaxRetries,
		MaxWait:    cfg.Gemini.MaxWait.Std(),
	}, limiter, baseLogger)

	var humanChannel ports.HumanChannel
	var notifier ports.Notifier
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != 0 {
		channel, err := telegram.New(cfg.Telegram.BotToken, cfg.Telegram.ChatID, baseLogger)
		if err != nil {
			baseLogger.Warn("analyst channel unavailable, continuing without it", "error", err)
		} else {
			humanChannel = channel
			notifier = channel
		}
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Sources:          aggregator,
		Store:            store,
		Scraper:          engine,
		Analyzer:         analyzer,
		Reconciler:       reconcile.New(humanChannel, cfg.Telegram.Lookback.Std(), baseLogger),
		Notifier:         notifier,
		Logger:           baseLogger,
		Workers:          cfg.Run.Workers,
		RunTimeout:       cfg.Run.Timeout.Std(),
		HealingBatchSize: cfg.Run.HealingBatchSize,
	})

	reporter := report.New(store, report.Config{
		Days:      cfg.Report.Days,
		HTMLPath:  cfg.Report.HTMLPath,
		JSONPath:  cfg.Report.JSONPath,
		GraphPath: cfg.Report.GraphPath,
	}, baseLogger)

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		store:     store,
		pipeline:  pipeline,
		reporter:  reporter,
		scheduler: scheduler.NewCronScheduler(cfg.Scheduler.CronExpression, cfg.Scheduler.Location(), baseLogger),
	}, nil
}

// Close releases the store.
func (a *Application) Close() error {
	return a.store.Close()
}

// RunCollection executes one normal collection run.
func (a *Application) RunCollection(ctx context.Context) error {
	if err := a.requireAnalysisKey(); err != nil {
		return err
	}

	runReport, err := a.pipeline.Run(ctx)
	if err != nil {
		return fmt.Errorf("collection run: %w", err)
	}
	a.logger.Info("collection run finished",
		"new", runReport.New,
		"duplicates", runReport.Duplicate,
		"scrape_failed", runReport.ScrapeFailed,
		"analysis_degraded", runReport.AnalysisDegraded,
		"human_verified", runReport.HumanVerified,
	)
	return nil
}

// RunHealing executes one healing run over degraded records.
func (a *Application) RunHealing(ctx context.Context) error {
	if err := a.requireAnalysisKey(); err != nil {
		return err
	}

	healReport, err := a.pipeline.Heal(ctx)
	if err != nil {
		return fmt.Errorf("healing run: %w", err)
	}
	a.logger.Info("healing run finished",
		"examined", healReport.Examined,
		"recovered", healReport.Recovered,
		"reanalyzed", healReport.Reanalyzed,
		"still_degraded", healReport.StillDegraded,
	)
	return nil
}

// RunReport renders the configured report artifacts.
func (a *Application) RunReport(ctx context.Context) error {
	return a.reporter.Generate(ctx)
}

// RunDaemon schedules recurring collection runs until the context is
// canceled.
func (a *Application) RunDaemon(ctx context.Context) error {
	if err := a.requireAnalysisKey(); err != nil {
		return err
	}

	job := func(at time.Time) {
		a.logger.Info("scheduled collection run", "trigger", at)
		if err := a.RunCollection(ctx); err != nil {
			a.logger.Error("scheduled run failed", "error", err)
		}
	}
	if err := a.scheduler.Start(ctx, job); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return a.scheduler.Stop(stopCtx)
}

func (a *Application) requireAnalysisKey() error {
	if a.cfg.Gemini.APIKey == "" {
		return fmt.Errorf("gemini api key is not configured")
	}
	return nil
}
