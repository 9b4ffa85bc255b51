// Package backfill synthesises prices for slots the provider has not
// published yet, from values already stored for the area.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dayahead/internal/domain"
)

// DefaultLookbackDays is how many previous days are searched for a donor slot.
const DefaultLookbackDays = 7

// ProfileGenerator fills each slot of a window with the stored value for
// that slot, or else with the value stored for the same local wall-clock
// slot on the nearest previous day.
type ProfileGenerator struct {
	reader       domain.PriceReader
	lookbackDays int
	logger       *slog.Logger
}

// NewProfileGenerator creates a generator. lookbackDays <= 0 selects
// DefaultLookbackDays.
func NewProfileGenerator(reader domain.PriceReader, lookbackDays int, logger *slog.Logger) *ProfileGenerator {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	return &ProfileGenerator{
		reader:       reader,
		lookbackDays: lookbackDays,
		logger:       logger.With(slog.String("component", "backfill")),
	}
}

// Generate returns a batch of origin generated for region over [start, end).
// Slots with no donor are left out, so the result may still be incomplete.
func (g *ProfileGenerator) Generate(ctx context.Context, region domain.Region, start, end time.Time) (domain.PriceBatch, error) {
	// One extra day covers DST shifts between the slot and its donor.
	histStart := start.AddDate(0, 0, -(g.lookbackDays + 1))
	history, err := g.reader.ReadIntervals(ctx, histStart, end, region.Area, domain.OriginNone)
	if err != nil {
		return domain.PriceBatch{}, fmt.Errorf("backfill: read history %s: %w", region.Area, err)
	}

	byStart := make(map[int64]domain.PriceInterval, len(history.Intervals))
	for _, iv := range history.Intervals {
		byStart[iv.Start.Unix()] = iv
	}

	step := domain.DefaultResolution
	var (
		out      []domain.PriceInterval
		copied   int
		borrowed int
	)
	for slot := start.UTC(); slot.Before(end); slot = slot.Add(step) {
		if iv, ok := byStart[slot.Unix()]; ok && iv.End.Equal(slot.Add(step)) {
			out = append(out, iv)
			copied++
			continue
		}
		donor, ok := g.donorFor(region, slot, step, byStart)
		if !ok {
			continue
		}
		out = append(out, domain.PriceInterval{
			Start:    slot,
			End:      slot.Add(step),
			Value:    donor.Value,
			Unit:     donor.Unit,
			Currency: donor.Currency,
		})
		borrowed++
	}

	batch, err := domain.NewPriceBatch(region.Area, domain.OriginGenerated, start, end, region.Unit, region.Currency, out)
	if err != nil {
		return domain.PriceBatch{}, fmt.Errorf("backfill: build batch %s: %w", region.Area, err)
	}

	g.logger.InfoContext(ctx, "generated fallback prices",
		slog.String("area", string(region.Area)),
		slog.Int("copied", copied),
		slog.Int("borrowed", borrowed),
		slog.Int("missing", batch.ExpectedCount()-batch.IntervalCount()),
	)
	return batch, nil
}

// donorFor looks for the same local clock slot on up to lookbackDays
// previous days, nearest first. Only donors lasting exactly step qualify.
func (g *ProfileGenerator) donorFor(region domain.Region, slot time.Time, step time.Duration, byStart map[int64]domain.PriceInterval) (domain.PriceInterval, bool) {
	local := region.Local(slot)
	for d := 1; d <= g.lookbackDays; d++ {
		candidate := local.AddDate(0, 0, -d)
		if iv, ok := byStart[candidate.Unix()]; ok && iv.End.Sub(iv.Start) == step {
			return iv, true
		}
	}
	return domain.PriceInterval{}, false
}
