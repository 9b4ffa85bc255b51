package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultResolution is the provider's fixed delivery cadence.
const DefaultResolution = time.Hour

// Origin tags where a batch of prices came from. The numeric order is the
// authority order: a higher Origin wins when two batches disagree on a slot.
type Origin int

const (
	OriginNone Origin = iota
	OriginGenerated
	OriginProvisional
	OriginOfficial
)

var originNames = map[Origin]string{
	OriginNone:        "none",
	OriginGenerated:   "generated",
	OriginProvisional: "provisional",
	OriginOfficial:    "official",
}

// String returns the lower-case origin name.
func (o Origin) String() string {
	if s, ok := originNames[o]; ok {
		return s
	}
	return fmt.Sprintf("origin(%d)", int(o))
}

// Outranks reports whether o has strictly higher authority than other.
func (o Origin) Outranks(other Origin) bool {
	return o > other
}

// ParseOrigin converts a name produced by Origin.String back to an Origin.
func ParseOrigin(s string) (Origin, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for o, n := range originNames {
		if n == name {
			return o, nil
		}
	}
	return OriginNone, fmt.Errorf("unknown price origin %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (o Origin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Origin) UnmarshalText(text []byte) error {
	parsed, err := ParseOrigin(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// PriceArea is a bidding-zone code such as "NO1" or "SE3".
type PriceArea string

// Currency is an ISO 4217 code.
type Currency string

// Unit is the energy unit a price refers to, e.g. "MWh".
type Unit string

// PriceInterval is one priced delivery slot [Start, End).
type PriceInterval struct {
	Start    time.Time       `json:"start"`
	End      time.Time       `json:"end"`
	Value    decimal.Decimal `json:"value"`
	Unit     Unit            `json:"unit"`
	Currency Currency        `json:"currency"`
}

// NewPriceInterval validates start < end and normalises both bounds to UTC.
func NewPriceInterval(start, end time.Time, value decimal.Decimal, unit Unit, currency Currency) (PriceInterval, error) {
	if !start.Before(end) {
		return PriceInterval{}, fmt.Errorf("%w: start %s is not before end %s",
			ErrInvalidInterval, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return PriceInterval{
		Start:    start.UTC(),
		End:      end.UTC(),
		Value:    value,
		Unit:     unit,
		Currency: currency,
	}, nil
}

// SameSlot reports whether both intervals cover exactly the same [start, end).
func (p PriceInterval) SameSlot(other PriceInterval) bool {
	return p.Start.Equal(other.Start) && p.End.Equal(other.End)
}

// Equal reports whether two intervals cover the same slot with the same
// published fields. Value comparison is numeric, so 1.50 equals 1.5.
func (p PriceInterval) Equal(other PriceInterval) bool {
	return p.SameSlot(other) &&
		p.Value.Equal(other.Value) &&
		p.Unit == other.Unit &&
		p.Currency == other.Currency
}

// Overlaps reports whether the two half-open intervals share any instant.
func (p PriceInterval) Overlaps(other PriceInterval) bool {
	return p.Start.Before(other.End) && other.Start.Before(p.End)
}

// Duration returns End - Start.
func (p PriceInterval) Duration() time.Duration {
	return p.End.Sub(p.Start)
}

// PriceBatch is an ordered, non-overlapping set of intervals for one area
// together with the window that was requested. From/To describe what was
// asked for, not what was obtained; use the coverage helpers for the latter.
//
// Batches are values. Reconciliation never modifies a batch it was given.
type PriceBatch struct {
	Intervals  []PriceInterval `json:"intervals"`
	From       time.Time       `json:"from"`
	To         time.Time       `json:"to"`
	Unit       Unit            `json:"unit"`
	Currency   Currency        `json:"currency"`
	Area       PriceArea       `json:"area"`
	Origin     Origin          `json:"origin"`
	Resolution time.Duration   `json:"resolution"`
}

// NewPriceBatch copies and sorts intervals and validates the batch invariants.
func NewPriceBatch(area PriceArea, origin Origin, from, to time.Time, unit Unit, currency Currency, intervals []PriceInterval) (PriceBatch, error) {
	sorted := make([]PriceInterval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	b := PriceBatch{
		Intervals:  sorted,
		From:       from.UTC(),
		To:         to.UTC(),
		Unit:       unit,
		Currency:   currency,
		Area:       area,
		Origin:     origin,
		Resolution: DefaultResolution,
	}
	if err := b.Validate(); err != nil {
		return PriceBatch{}, err
	}
	return b, nil
}

// EmptyBatch returns a batch with no intervals that still records the
// requested window. It stands for "no data obtained".
func EmptyBatch(area PriceArea, from, to time.Time, unit Unit, currency Currency) PriceBatch {
	return PriceBatch{
		From:       from.UTC(),
		To:         to.UTC(),
		Unit:       unit,
		Currency:   currency,
		Area:       area,
		Origin:     OriginNone,
		Resolution: DefaultResolution,
	}
}

// Validate checks ordering, non-overlap and that every interval lies inside
// [From, To).
func (b PriceBatch) Validate() error {
	if b.To.Before(b.From) {
		return fmt.Errorf("%w: window end %s before start %s",
			ErrInvalidBatch, b.To.Format(time.RFC3339), b.From.Format(time.RFC3339))
	}
	for i, iv := range b.Intervals {
		if !iv.Start.Before(iv.End) {
			return fmt.Errorf("%w: interval %d has start >= end", ErrInvalidBatch, i)
		}
		if iv.Start.Before(b.From) || iv.End.After(b.To) {
			return fmt.Errorf("%w: interval %d [%s, %s) outside window [%s, %s)",
				ErrInvalidBatch, i,
				iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339),
				b.From.Format(time.RFC3339), b.To.Format(time.RFC3339))
		}
		if i > 0 && iv.Start.Before(b.Intervals[i-1].End) {
			return fmt.Errorf("%w: interval %d overlaps or precedes interval %d", ErrInvalidBatch, i, i-1)
		}
	}
	return nil
}

// IsEmpty reports whether the batch holds no intervals.
func (b PriceBatch) IsEmpty() bool {
	return len(b.Intervals) == 0
}

// IntervalCount returns the number of intervals actually present.
func (b PriceBatch) IntervalCount() int {
	return len(b.Intervals)
}

// Cadence returns the batch resolution, falling back to DefaultResolution.
func (b PriceBatch) Cadence() time.Duration {
	if b.Resolution <= 0 {
		return DefaultResolution
	}
	return b.Resolution
}

// ExpectedCount returns how many slots of the cadence fit in [From, To).
func (b PriceBatch) ExpectedCount() int {
	if !b.From.Before(b.To) {
		return 0
	}
	return int(b.To.Sub(b.From) / b.Cadence())
}

// CoverageRatio returns IntervalCount / ExpectedCount, or 0 when nothing is
// expected.
func (b PriceBatch) CoverageRatio() float64 {
	expected := b.ExpectedCount()
	if expected == 0 {
		return 0
	}
	return float64(b.IntervalCount()) / float64(expected)
}

// HasCorrectPriceCount is true when every expected slot is present and the
// last interval ends exactly at To.
func (b PriceBatch) HasCorrectPriceCount() bool {
	if b.IsEmpty() {
		return false
	}
	if b.IntervalCount() != b.ExpectedCount() {
		return false
	}
	return b.Intervals[len(b.Intervals)-1].End.Equal(b.To)
}

// Complete reports whether the batch fully covers a window ending at end.
// This is the pipeline's termination predicate.
func (b PriceBatch) Complete(end time.Time) bool {
	return b.HasCorrectPriceCount() && b.To.Equal(end)
}

// First returns the earliest interval; ok is false for an empty batch.
func (b PriceBatch) First() (PriceInterval, bool) {
	if b.IsEmpty() {
		return PriceInterval{}, false
	}
	return b.Intervals[0], true
}

// Last returns the latest interval; ok is false for an empty batch.
func (b PriceBatch) Last() (PriceInterval, bool) {
	if b.IsEmpty() {
		return PriceInterval{}, false
	}
	return b.Intervals[len(b.Intervals)-1], true
}

// WithIntervals returns a copy of b holding the given intervals and window.
// Metadata (area, unit, currency, origin, resolution) is preserved.
func (b PriceBatch) WithIntervals(from, to time.Time, intervals []PriceInterval) PriceBatch {
	out := b
	out.From = from
	out.To = to
	out.Intervals = intervals
	return out
}
