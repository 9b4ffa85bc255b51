package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dayahead/internal/backfill"
	s3blob "github.com/alanyoungcy/dayahead/internal/blob/s3"
	"github.com/alanyoungcy/dayahead/internal/domain"
	"github.com/alanyoungcy/dayahead/internal/pipeline"
	"github.com/alanyoungcy/dayahead/internal/server"
	"github.com/alanyoungcy/dayahead/internal/server/handler"
	"github.com/alanyoungcy/dayahead/internal/server/ws"
	"github.com/alanyoungcy/dayahead/internal/service"
	"github.com/alanyoungcy/dayahead/internal/timeframe"
)

// RunMode reconciles the day-ahead window of every configured area once and
// exits.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode", slog.Int("areas", len(deps.Regions)))

	runner, err := a.buildRunner(deps)
	if err != nil {
		return fmt.Errorf("run mode: %w", err)
	}
	if err := runner.RunAll(ctx, deps.Regions); err != nil {
		return fmt.Errorf("run mode: %w", err)
	}
	return nil
}

// UnofficialMode replaces stored unofficial prices with official ones for
// every configured area once and exits.
func (a *App) UnofficialMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting unofficial mode", slog.Int("areas", len(deps.Regions)))

	runner, err := a.buildRunner(deps)
	if err != nil {
		return fmt.Errorf("unofficial mode: %w", err)
	}
	if err := runner.UpdateAll(ctx, deps.Regions); err != nil {
		return fmt.Errorf("unofficial mode: %w", err)
	}
	return nil
}

// DaemonMode runs both jobs on their cron schedules, serves manual triggers
// and, when enabled, the HTTP API and live WebSocket feed.
func (a *App) DaemonMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting daemon mode",
		slog.String("schedule", a.cfg.Pipeline.Schedule),
		slog.String("unofficial_schedule", a.cfg.Pipeline.UnofficialSchedule),
		slog.String("timezone", a.cfg.Pipeline.Timezone),
	)

	runner, err := a.buildRunner(deps)
	if err != nil {
		return fmt.Errorf("daemon mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	sched := pipeline.NewScheduler(a.cfg.Location(), a.logger)
	if err := sched.Add(domain.JobPrices, a.cfg.Pipeline.Schedule, func(ctx context.Context) error {
		return runner.RunAll(ctx, deps.Regions)
	}); err != nil {
		return fmt.Errorf("daemon mode: %w", err)
	}
	if err := sched.Add(domain.JobUnofficial, a.cfg.Pipeline.UnofficialSchedule, func(ctx context.Context) error {
		return runner.UpdateAll(ctx, deps.Regions)
	}); err != nil {
		return fmt.Errorf("daemon mode: %w", err)
	}
	g.Go(func() error {
		return sched.Run(ctx)
	})

	// One pending manual request at most; the handler rejects the rest.
	triggerCh := make(chan domain.RunRequest, 1)
	g.Go(func() error {
		return a.serveTriggers(ctx, triggerCh, func(ctx context.Context, req domain.RunRequest) error {
			regions := selectRegions(deps.Regions, req.Areas)
			if req.Job == domain.JobUnofficial {
				return runner.UpdateAll(ctx, regions)
			}
			return runner.RunAll(ctx, regions)
		})
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, triggerCh, sched.Next)
	}

	return g.Wait()
}

// serveTriggers runs each received request until ctx is done. Failures are
// logged and do not stop the loop.
func (a *App) serveTriggers(ctx context.Context, triggers <-chan domain.RunRequest, run func(context.Context, domain.RunRequest) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-triggers:
			started := time.Now()
			log := a.logger.With(slog.String("job", req.Job), slog.Any("areas", req.Areas))
			log.InfoContext(ctx, "manual run starting")
			if err := run(ctx, req); err != nil {
				log.ErrorContext(ctx, "manual run failed",
					slog.Duration("elapsed", time.Since(started)),
					slog.String("error", err.Error()),
				)
				continue
			}
			log.InfoContext(ctx, "manual run finished", slog.Duration("elapsed", time.Since(started)))
		}
	}
}

// selectRegions keeps the regions whose area is listed, or all of them when
// areas is empty.
func selectRegions(regions []domain.Region, areas []domain.PriceArea) []domain.Region {
	if len(areas) == 0 {
		return regions
	}
	out := make([]domain.Region, 0, len(areas))
	for _, r := range regions {
		if slices.Contains(areas, r.Area) {
			out = append(out, r)
		}
	}
	return out
}

// buildRunner assembles the reconciliation pipeline on top of deps.
func (a *App) buildRunner(deps *Dependencies) (*pipeline.Runner, error) {
	cutoff, err := timeframe.ParseCutoff(a.cfg.Market.Cutoff)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	pubOpts := []service.PublisherOption{
		service.WithStore(deps.PriceStore),
		service.WithAudit(deps.AuditStore),
		service.WithMetrics(deps.Metrics),
	}
	if deps.Archiver != nil {
		pubOpts = append(pubOpts, service.WithArchiver(deps.Archiver))
	}
	publisher := service.NewPricePublisher(deps.SignalBus, a.logger, pubOpts...)

	generator := backfill.NewProfileGenerator(deps.PriceStore, a.cfg.Backfill.LookbackDays, a.logger)
	reconciler := pipeline.NewReconciler(deps.Nordpool, generator, publisher, a.logger,
		pipeline.WithCutoff(cutoff),
		pipeline.WithOfficialTTL(a.cfg.Market.OfficialTTL.Duration),
		pipeline.WithStageRecorder(deps.Metrics),
	)
	updater := pipeline.NewUnofficialUpdater(deps.PriceStore, reconciler, a.logger)

	return pipeline.NewRunner(reconciler, updater, pipeline.RunnerConfig{
		Concurrency: a.cfg.Pipeline.Concurrency,
		LockTTL:     a.cfg.Pipeline.LockTTL.Duration,
		Retry: pipeline.RetryPolicy{
			Attempts: a.cfg.Pipeline.RetryAttempts,
			Wait:     a.cfg.Pipeline.RetryWait.Duration,
		},
		UnofficialLookback: a.cfg.Pipeline.UnofficialLookback.Duration,
	}, a.logger,
		pipeline.WithLocks(deps.LockManager),
		pipeline.WithStatusStore(deps.RunStatus),
		pipeline.WithNotifier(deps.Notifier),
		pipeline.WithRunRecorder(deps.Metrics),
	), nil
}

// startHTTPServer registers the API server and WebSocket hub on g. The server
// shuts down when ctx is cancelled.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	triggerCh chan<- domain.RunRequest,
	schedule func() []time.Time,
) {
	areas := make([]domain.PriceArea, 0, len(deps.Regions))
	for _, r := range deps.Regions {
		areas = append(areas, r.Area)
	}
	hub := ws.NewHub(deps.SignalBus, areas, a.logger, ws.WithStatus(deps.RunStatus))
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Health, a.logger),
		Prices:   handler.NewPriceHandler(deps.PriceStore, a.logger),
		Status:   handler.NewStatusHandler(a.cfg.Mode, deps.RunStatus, schedule, a.logger),
		Pipeline: handler.NewPipelineHandler(a.logger).WithTriggerChannel(triggerCh, areas),
		Events:   handler.NewEventsHandler(deps.SignalBus, service.PriceStream, a.logger),
		Audit:    handler.NewAuditHandler(deps.AuditStore, a.logger),
		Metrics:  deps.Metrics.Handler(),
	}
	if deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, s3blob.AreaPrefix, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, a.logger, server.WithRateLimiter(deps.RateLimiter))

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
