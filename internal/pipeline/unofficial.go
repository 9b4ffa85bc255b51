package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dayahead/internal/domain"
	"github.com/alanyoungcy/dayahead/internal/reconcile"
)

// DefaultUnofficialLookback is how far back stored unofficial prices are
// considered for replacement.
const DefaultUnofficialLookback = 7 * 24 * time.Hour

// UpdateResult describes one unofficial-price update for a region.
type UpdateResult struct {
	Area       domain.PriceArea
	Unofficial domain.PriceBatch
	Official   domain.PriceBatch
	Published  bool
}

// UnofficialUpdater replaces stored provisional and generated prices with
// official ones once the provider has published them.
type UnofficialUpdater struct {
	reader    domain.PriceReader
	publisher domain.EventPublisher
	reconc    *Reconciler
	now       func() time.Time
	logger    *slog.Logger
}

// NewUnofficialUpdater creates an updater. It reuses the reconciler's fetch
// degradation and publication so both paths log and measure alike.
func NewUnofficialUpdater(reader domain.PriceReader, reconciler *Reconciler, logger *slog.Logger) *UnofficialUpdater {
	return &UnofficialUpdater{
		reader:    reader,
		publisher: reconciler.publisher,
		reconc:    reconciler,
		now:       reconciler.now,
		logger:    logger.With(slog.String("component", "unofficial_updater")),
	}
}

// Update looks for non-official prices stored for region in [start, end) and,
// if any exist, publishes whatever official prices now cover their span.
func (u *UnofficialUpdater) Update(ctx context.Context, start, end time.Time, region domain.Region) (UpdateResult, error) {
	res := UpdateResult{Area: region.Area}

	stored, err := u.reader.ReadIntervals(ctx, start.UTC(), end.UTC(), region.Area, domain.OriginOfficial)
	if err != nil {
		return res, fmt.Errorf("pipeline: read unofficial %s: %w", region.Area, err)
	}
	unofficial := reconcile.ReduceToExistingIntervals(stored)
	res.Unofficial = unofficial
	if unofficial.IsEmpty() {
		u.logger.DebugContext(ctx, "no unofficial prices stored", slog.String("area", string(region.Area)))
		return res, nil
	}

	official, err := u.reconc.fetch(ctx, region, unofficial.From, unofficial.To, domain.OriginOfficial)
	if err != nil {
		return res, err
	}
	res.Official = official
	if official.IsEmpty() {
		u.logger.InfoContext(ctx, "official prices not yet available for unofficial span",
			slog.String("area", string(region.Area)),
			slog.Int("unofficial", unofficial.IntervalCount()),
			slog.Time("from", unofficial.From),
			slog.Time("to", unofficial.To),
		)
		return res, nil
	}

	ev := domain.NewPriceEvent(official, domain.OriginOfficial, u.reconc.officialExpiry(), u.now())
	if err := u.publisher.Publish(ctx, ev); err != nil {
		return res, fmt.Errorf("pipeline: publish official replacement %s: %w", region.Area, err)
	}
	res.Published = true

	u.logger.InfoContext(ctx, "replaced unofficial prices with official",
		slog.String("area", string(region.Area)),
		slog.Int("unofficial", unofficial.IntervalCount()),
		slog.Int("official", official.IntervalCount()),
	)
	return res, nil
}
