package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dayahead/internal/domain"
	"github.com/alanyoungcy/dayahead/internal/notify"
	"github.com/alanyoungcy/dayahead/internal/timeframe"
)

// Run outcomes reported to metrics and the status store.
const (
	OutcomeComplete   = "complete"
	OutcomeIncomplete = "incomplete"
	OutcomeFailed     = "failed"
	OutcomeSkipped    = "skipped"
)

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// RunRecorder receives one observation per region run.
type RunRecorder interface {
	RecordRun(area, outcome string, duration time.Duration)
}

// RetryPolicy bounds how often a region run is attempted.
type RetryPolicy struct {
	Attempts int
	Wait     time.Duration
}

// DefaultRetryPolicy tries three times, three seconds apart.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Wait: 3 * time.Second}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Wait), uint64(attempts-1)),
		ctx,
	)
}

// RunnerConfig tunes a Runner.
type RunnerConfig struct {
	Concurrency        int
	LockTTL            time.Duration
	Retry              RetryPolicy
	UnofficialLookback time.Duration
}

// Runner drives reconciliation and unofficial updates over many regions with
// retries, per-region locking, status tracking and alerting.
type Runner struct {
	reconciler *Reconciler
	updater    *UnofficialUpdater
	locks      domain.LockManager
	status     domain.KeyValueStore[domain.RunStatus]
	notifier   Notifier
	metrics    RunRecorder
	cfg        RunnerConfig
	now        func() time.Time
	logger     *slog.Logger
}

// RunnerOption configures optional Runner collaborators.
type RunnerOption func(*Runner)

// WithLocks serialises runs of the same area across instances.
func WithLocks(l domain.LockManager) RunnerOption {
	return func(r *Runner) { r.locks = l }
}

// WithStatusStore records the latest run of every area.
func WithStatusStore(s domain.KeyValueStore[domain.RunStatus]) RunnerOption {
	return func(r *Runner) { r.status = s }
}

// WithNotifier sends alerts on failed or incomplete runs.
func WithNotifier(n Notifier) RunnerOption {
	return func(r *Runner) { r.notifier = n }
}

// WithRunRecorder attaches a metrics sink.
func WithRunRecorder(m RunRecorder) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a Runner. Zero config fields take their defaults.
func NewRunner(reconciler *Reconciler, updater *UnofficialUpdater, cfg RunnerConfig, logger *slog.Logger, opts ...RunnerOption) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.Retry.Attempts < 1 {
		cfg.Retry = DefaultRetryPolicy
	}
	if cfg.UnofficialLookback <= 0 {
		cfg.UnofficialLookback = DefaultUnofficialLookback
	}
	r := &Runner{
		reconciler: reconciler,
		updater:    updater,
		cfg:        cfg,
		now:        reconciler.now,
		logger:     logger.With(slog.String("component", "runner")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunAll reconciles every region, at most cfg.Concurrency at a time. A
// failing region does not stop the others; all failures are joined.
func (r *Runner) RunAll(ctx context.Context, regions []domain.Region) error {
	return r.forEach(ctx, regions, func(ctx context.Context, region domain.Region) error {
		_, err := r.RunRegion(ctx, region)
		return err
	})
}

// UpdateAll runs the unofficial-price update for every region.
func (r *Runner) UpdateAll(ctx context.Context, regions []domain.Region) error {
	return r.forEach(ctx, regions, func(ctx context.Context, region domain.Region) error {
		_, err := r.UpdateRegion(ctx, region)
		return err
	})
}

func (r *Runner) forEach(ctx context.Context, regions []domain.Region, fn func(context.Context, domain.Region) error) error {
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(r.cfg.Concurrency)

	for _, region := range regions {
		g.Go(func() error {
			if err := fn(ctx, region); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// RunRegion reconciles the day-ahead window of one region. Regions outside
// the provider's service, or locked by another instance, are skipped.
func (r *Runner) RunRegion(ctx context.Context, region domain.Region) (Result, error) {
	started := r.now()
	area := string(region.Area)
	log := r.logger.With(slog.String("area", area))

	if !region.InService {
		log.InfoContext(ctx, "region not in provider service, skipping")
		r.record(area, OutcomeSkipped, started)
		return Result{Area: region.Area}, nil
	}

	unlock, err := r.lock(ctx, "pipeline:"+area)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			log.InfoContext(ctx, "region run already in progress elsewhere, skipping")
			r.record(area, OutcomeSkipped, started)
			return Result{Area: region.Area}, nil
		}
		return Result{Area: region.Area}, fmt.Errorf("pipeline: lock %s: %w", area, err)
	}
	defer unlock()

	window := timeframe.DayAhead(region, r.now())

	var (
		res      Result
		attempts int
	)
	err = r.retry(ctx, log, func() error {
		attempts++
		var runErr error
		res, runErr = r.reconciler.Run(ctx, window.Start, window.End, region)
		return runErr
	})

	status := domain.RunStatus{
		Area:       region.Area,
		Stage:      string(res.Stage),
		Complete:   res.Complete,
		Intervals:  res.Coverage().IntervalCount(),
		Attempts:   attempts,
		StartedAt:  started.UTC(),
		FinishedAt: r.now().UTC(),
	}

	switch {
	case err != nil:
		status.Error = err.Error()
		r.record(area, OutcomeFailed, started)
		log.ErrorContext(ctx, "price run failed",
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
		r.alert(ctx, notify.EventRunFailed,
			fmt.Sprintf("Price run failed for %s", area),
			fmt.Sprintf("Gave up after %d attempt(s) for %s to %s: %v",
				attempts, window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339), err))
		err = fmt.Errorf("pipeline: run %s: %w", area, err)
	case !res.Complete:
		r.record(area, OutcomeIncomplete, started)
		cov := res.Coverage()
		log.WarnContext(ctx, "price run finished incomplete",
			slog.String("stage", string(res.Stage)),
			slog.Int("intervals", cov.IntervalCount()),
			slog.Int("expected", cov.ExpectedCount()),
		)
		r.alert(ctx, notify.EventIncomplete,
			fmt.Sprintf("Prices incomplete for %s", area),
			fmt.Sprintf("%d of %d slots after %s stage for %s to %s",
				cov.IntervalCount(), cov.ExpectedCount(), res.Stage,
				window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339)))
	default:
		r.record(area, OutcomeComplete, started)
		log.InfoContext(ctx, "finished loading prices",
			slog.String("stage", string(res.Stage)),
			slog.Time("from", window.Start),
			slog.Time("to", window.End),
		)
	}

	r.saveStatus(ctx, status)
	return res, err
}

// UpdateRegion replaces stored unofficial prices of one region with official
// ones over the lookback window ending now.
func (r *Runner) UpdateRegion(ctx context.Context, region domain.Region) (UpdateResult, error) {
	area := string(region.Area)
	log := r.logger.With(slog.String("area", area), slog.String("task", "unofficial"))

	if !region.InService {
		return UpdateResult{Area: region.Area}, nil
	}

	unlock, err := r.lock(ctx, "unofficial:"+area)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			log.InfoContext(ctx, "unofficial update already in progress elsewhere, skipping")
			return UpdateResult{Area: region.Area}, nil
		}
		return UpdateResult{Area: region.Area}, fmt.Errorf("pipeline: lock %s: %w", area, err)
	}
	defer unlock()

	end := r.now().UTC()
	start := end.Add(-r.cfg.UnofficialLookback)

	var res UpdateResult
	err = r.retry(ctx, log, func() error {
		var updErr error
		res, updErr = r.updater.Update(ctx, start, end, region)
		return updErr
	})
	if err != nil {
		log.ErrorContext(ctx, "unofficial update failed", slog.String("error", err.Error()))
		r.alert(ctx, notify.EventUnofficialFailed,
			fmt.Sprintf("Unofficial price update failed for %s", area), err.Error())
		return res, fmt.Errorf("pipeline: update unofficial %s: %w", area, err)
	}
	if res.Published {
		r.alert(ctx, notify.EventUnofficialFixed,
			fmt.Sprintf("Official prices published for %s", area),
			fmt.Sprintf("Replaced %d unofficial slot(s) between %s and %s",
				res.Official.IntervalCount(),
				res.Official.From.Format(time.RFC3339), res.Official.To.Format(time.RFC3339)))
	}
	return res, nil
}

// retry runs op under the retry policy. Only market-data failures are
// retried; anything else stops at once.
func (r *Runner) retry(ctx context.Context, log *slog.Logger, op func() error) error {
	attempt := func() error {
		err := op()
		if err == nil || errors.Is(err, domain.ErrMarketData) {
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.RetryNotify(attempt, r.cfg.Retry.backOff(ctx), func(err error, wait time.Duration) {
		log.WarnContext(ctx, "attempt failed, retrying",
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	})
}

func (r *Runner) lock(ctx context.Context, key string) (func(), error) {
	if r.locks == nil {
		return func() {}, nil
	}
	return r.locks.Acquire(ctx, key, r.cfg.LockTTL)
}

func (r *Runner) record(area, outcome string, started time.Time) {
	if r.metrics != nil {
		r.metrics.RecordRun(area, outcome, r.now().Sub(started))
	}
}

func (r *Runner) alert(ctx context.Context, event, title, message string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, event, title, message); err != nil {
		r.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Runner) saveStatus(ctx context.Context, st domain.RunStatus) {
	if r.status == nil {
		return
	}
	if err := r.status.Put(ctx, string(st.Area), st); err != nil {
		r.logger.WarnContext(ctx, "save run status failed",
			slog.String("area", string(st.Area)),
			slog.String("error", err.Error()),
		)
	}
}
