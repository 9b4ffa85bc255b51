// Package pipeline reconciles upstream day-ahead prices into published
// events and schedules the recurring runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dayahead/internal/domain"
	"github.com/alanyoungcy/dayahead/internal/metrics"
	"github.com/alanyoungcy/dayahead/internal/reconcile"
	"github.com/alanyoungcy/dayahead/internal/timeframe"
)

// Fetcher retrieves one batch of upstream prices for a region.
type Fetcher interface {
	FetchBatch(ctx context.Context, region domain.Region, start, end time.Time, origin domain.Origin) (domain.PriceBatch, error)
}

// Generator synthesises fallback prices for a region.
type Generator interface {
	Generate(ctx context.Context, region domain.Region, start, end time.Time) (domain.PriceBatch, error)
}

// StageRecorder receives stage progression and degraded fetches.
type StageRecorder interface {
	RecordStage(area string, stage int)
	RecordFetchFailure(area, origin string)
}

// Stage names the last step a reconciliation run reached.
type Stage string

const (
	StageOfficial    Stage = "official"
	StageProvisional Stage = "provisional"
	StageGenerated   Stage = "generated"
)

func (s Stage) gauge() int {
	switch s {
	case StageOfficial:
		return metrics.StageOfficial
	case StageProvisional:
		return metrics.StageProvisional
	case StageGenerated:
		return metrics.StageGenerated
	}
	return 0
}

// Result is the outcome of one reconciliation run. Batches for stages that
// were not reached are left zero.
type Result struct {
	Area        domain.PriceArea
	Stage       Stage
	Complete    bool
	Official    domain.PriceBatch
	Provisional domain.PriceBatch
	Merged      domain.PriceBatch
	Generated   domain.PriceBatch
	Events      []domain.PriceEvent
}

// Coverage returns the batch that best describes what the run ended with.
func (r Result) Coverage() domain.PriceBatch {
	switch r.Stage {
	case StageOfficial:
		return r.Official
	case StageGenerated:
		return reconcile.Merge(r.Merged, r.Generated)
	default:
		return r.Merged
	}
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithCutoff overrides the local time at which unofficial events expire.
func WithCutoff(c timeframe.Cutoff) ReconcilerOption {
	return func(r *Reconciler) { r.cutoff = c }
}

// WithOfficialTTL makes official events expire ttl after publication. Zero
// leaves them without an expiry.
func WithOfficialTTL(ttl time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.officialTTL = ttl }
}

// WithStageRecorder attaches a metrics sink.
func WithStageRecorder(m StageRecorder) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

// WithNow overrides the clock used for event timestamps and expiries.
func WithNow(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// Reconciler runs the staged official, provisional and generated pipeline
// for one region and publishes what each stage adds.
type Reconciler struct {
	fetcher     Fetcher
	generator   Generator
	publisher   domain.EventPublisher
	cutoff      timeframe.Cutoff
	officialTTL time.Duration
	metrics     StageRecorder
	now         func() time.Time
	logger      *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(fetcher Fetcher, generator Generator, publisher domain.EventPublisher, logger *slog.Logger, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		fetcher:   fetcher,
		generator: generator,
		publisher: publisher,
		cutoff:    timeframe.DefaultCutoff,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "reconciler")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reconciles region over [start, end). Upstream failures degrade the
// affected stage to an empty batch; any other error aborts the run.
func (r *Reconciler) Run(ctx context.Context, start, end time.Time, region domain.Region) (Result, error) {
	start, end = start.UTC(), end.UTC()
	res := Result{Area: region.Area}
	log := r.logger.With(
		slog.String("area", string(region.Area)),
		slog.Time("from", start),
		slog.Time("to", end),
	)

	// Stage 1: official.
	official, err := r.fetch(ctx, region, start, end, domain.OriginOfficial)
	if err != nil {
		return res, err
	}
	res.Official = official
	res.Stage = StageOfficial
	r.recordStage(region, res.Stage)
	r.publish(ctx, &res, official, domain.OriginOfficial, r.officialExpiry())

	if official.Complete(end) {
		res.Complete = true
		res.Merged = official
		return res, nil
	}
	log.InfoContext(ctx, "official prices incomplete, fetching provisional",
		slog.Int("intervals", official.IntervalCount()),
		slog.Int("expected", official.ExpectedCount()),
	)

	// Stage 2: provisional delta.
	provisional, err := r.fetch(ctx, region, start, end, domain.OriginProvisional)
	if err != nil {
		return res, err
	}
	res.Provisional = provisional
	res.Stage = StageProvisional
	r.recordStage(region, res.Stage)
	expiry := r.cutoff.Next(region, r.now())
	r.publish(ctx, &res, reconcile.Diff(provisional, official), domain.OriginProvisional, expiry)

	merged := reconcile.Merge(official, provisional)
	res.Merged = merged
	if merged.Complete(end) {
		res.Complete = true
		return res, nil
	}
	log.WarnContext(ctx, "official and provisional prices incomplete, supplementing with stored prices",
		slog.Int("intervals", merged.IntervalCount()),
		slog.Int("expected", merged.ExpectedCount()),
	)

	// Stage 3: generated delta.
	generated, err := r.generator.Generate(ctx, region, start, end)
	if err != nil {
		return res, fmt.Errorf("pipeline: generate %s: %w", region.Area, err)
	}
	res.Generated = generated
	res.Stage = StageGenerated
	r.recordStage(region, res.Stage)
	r.publish(ctx, &res, reconcile.Diff(generated, merged), domain.OriginGenerated, expiry)

	res.Complete = res.Coverage().Complete(end)
	return res, nil
}

// fetch degrades upstream failures to an empty batch over the requested window.
func (r *Reconciler) fetch(ctx context.Context, region domain.Region, start, end time.Time, origin domain.Origin) (domain.PriceBatch, error) {
	batch, err := r.fetcher.FetchBatch(ctx, region, start, end, origin)
	if err == nil {
		return batch, nil
	}
	if !errors.Is(err, domain.ErrMarketData) {
		return domain.PriceBatch{}, fmt.Errorf("pipeline: fetch %s %s: %w", origin, region.Area, err)
	}

	r.logger.WarnContext(ctx, "price fetch failed, continuing with empty batch",
		slog.String("area", string(region.Area)),
		slog.String("origin", origin.String()),
		slog.String("error", err.Error()),
	)
	if r.metrics != nil {
		r.metrics.RecordFetchFailure(string(region.Area), origin.String())
	}
	return domain.EmptyBatch(region.Area, start, end, region.Unit, region.Currency), nil
}

// publish emits one event. Failures are logged; the run carries on so later
// stages still get their chance.
func (r *Reconciler) publish(ctx context.Context, res *Result, batch domain.PriceBatch, origin domain.Origin, expiry time.Time) {
	ev := domain.NewPriceEvent(batch, origin, expiry, r.now())
	if ev.Area == "" {
		ev.Area = res.Area
	}
	res.Events = append(res.Events, ev)

	if err := r.publisher.Publish(ctx, ev); err != nil {
		r.logger.WarnContext(ctx, "publish price event failed",
			slog.String("area", string(res.Area)),
			slog.String("origin", origin.String()),
			slog.String("event_id", ev.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Reconciler) officialExpiry() time.Time {
	if r.officialTTL <= 0 {
		return time.Time{}
	}
	return r.now().Add(r.officialTTL)
}

func (r *Reconciler) recordStage(region domain.Region, s Stage) {
	if r.metrics != nil {
		r.metrics.RecordStage(string(region.Area), s.gauge())
	}
}
