package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler runs jobs on cron expressions until its context is cancelled.
// A job still running when its next tick fires is skipped for that tick.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	logger *slog.Logger
}

// NewScheduler creates a Scheduler evaluating expressions in loc (UTC when
// nil). Expressions use the standard five-field syntax plus descriptors such
// as "@hourly".
func NewScheduler(loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	logger = logger.With(slog.String("component", "scheduler"))
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:    context.Background(),
		logger: logger,
	}
}

// Add registers job under name on spec.
func (s *Scheduler) Add(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		started := time.Now()
		s.logger.InfoContext(s.ctx, "scheduled job starting", slog.String("job", name))
		if err := job(s.ctx); err != nil {
			s.logger.ErrorContext(s.ctx, "scheduled job failed",
				slog.String("job", name),
				slog.Duration("elapsed", time.Since(started)),
				slog.String("error", err.Error()),
			)
			return
		}
		s.logger.InfoContext(s.ctx, "scheduled job finished",
			slog.String("job", name),
			slog.Duration("elapsed", time.Since(started)),
		)
	})
	if err != nil {
		return fmt.Errorf("pipeline: schedule %s %q: %w", name, spec, err)
	}
	return nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.logger.InfoContext(ctx, "scheduler starting", slog.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.InfoContext(ctx, "scheduler stopped")
	return nil
}

// Next reports when each job fires next, keyed by entry order.
func (s *Scheduler) Next() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Next)
	}
	return out
}

// ValidateSpec checks a cron expression without scheduling it.
func ValidateSpec(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("pipeline: invalid schedule %q: %w", spec, err)
	}
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err.Error())...)
}
