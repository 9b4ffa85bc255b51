// Package reconcile holds the pure batch operations used by the price
// pipeline: diffing a newer batch against already-published data, merging
// batches of differing authority and shrinking a stored batch to the range
// it actually covers. Nothing here performs I/O or mutates its inputs.
package reconcile

import (
	"slices"
	"sort"
	"time"

	"github.com/alanyoungcy/dayahead/internal/domain"
)

// Diff returns the intervals of newer that are not already present, with
// identical value, unit and currency, in older. Both sides are restricted to
// the overlap of their requested windows and the result's window is that
// overlap. Metadata and origin come from newer.
func Diff(newer, older domain.PriceBatch) domain.PriceBatch {
	from := laterOf(newer.From, older.From)
	to := earlierOf(newer.To, older.To)
	if to.Before(from) {
		to = from
	}

	out := make([]domain.PriceInterval, 0, len(newer.Intervals))
	for _, iv := range newer.Intervals {
		if iv.Start.Before(from) || iv.End.After(to) {
			continue
		}
		if prev, ok := findSlot(older.Intervals, iv); ok && prev.Equal(iv) {
			continue
		}
		out = append(out, iv)
	}
	return newer.WithIntervals(from, to, out)
}

// Merge combines two batches into one timeline spanning both windows. Where
// intervals from both sides overlap, the side with the higher origin wins and
// a tie goes to a. The result's origin is the higher of the two. If either
// side is empty the other is returned unchanged.
//
// Both batches are expected to share one cadence. A losing interval that only
// partly overlaps a winning one is dropped whole, so with mixed cadences the
// result can hold fewer intervals than the larger input.
func Merge(a, b domain.PriceBatch) domain.PriceBatch {
	if a.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return a
	}

	primary, secondary := a, b
	if b.Origin.Outranks(a.Origin) {
		primary, secondary = b, a
	}

	out := make([]domain.PriceInterval, 0, len(primary.Intervals)+len(secondary.Intervals))
	out = append(out, primary.Intervals...)
	for _, iv := range secondary.Intervals {
		if !overlapsAny(primary.Intervals, iv) {
			out = append(out, iv)
		}
	}
	slices.SortFunc(out, func(x, y domain.PriceInterval) int {
		return x.Start.Compare(y.Start)
	})

	merged := primary.WithIntervals(earlierOf(a.From, b.From), laterOf(a.To, b.To), out)
	merged.Origin = primary.Origin
	return merged
}

// ReduceToExistingIntervals shrinks the batch window to [first start, last
// end). An empty batch is returned unchanged.
func ReduceToExistingIntervals(batch domain.PriceBatch) domain.PriceBatch {
	first, ok := batch.First()
	if !ok {
		return batch
	}
	last, _ := batch.Last()
	return batch.WithIntervals(first.Start, last.End, slices.Clone(batch.Intervals))
}

// findSlot looks up the interval in sorted occupying exactly iv's slot.
func findSlot(sorted []domain.PriceInterval, iv domain.PriceInterval) (domain.PriceInterval, bool) {
	i := sort.Search(len(sorted), func(i int) bool {
		return !sorted[i].Start.Before(iv.Start)
	})
	if i < len(sorted) && sorted[i].SameSlot(iv) {
		return sorted[i], true
	}
	return domain.PriceInterval{}, false
}

// overlapsAny reports whether iv overlaps any interval of the sorted,
// non-overlapping slice.
func overlapsAny(sorted []domain.PriceInterval, iv domain.PriceInterval) bool {
	// First interval whose end is after iv's start; only it can overlap.
	i := sort.Search(len(sorted), func(i int) bool {
		return sorted[i].End.After(iv.Start)
	})
	return i < len(sorted) && sorted[i].Overlaps(iv)
}

func earlierOf(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
