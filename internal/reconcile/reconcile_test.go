package reconcile

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dayahead/internal/domain"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func slot(i int, value int64) domain.PriceInterval {
	start := t0.Add(time.Duration(i) * time.Hour)
	return domain.PriceInterval{
		Start:    start,
		End:      start.Add(time.Hour),
		Value:    decimal.NewFromInt(value),
		Unit:     "MWh",
		Currency: "EUR",
	}
}

// batch builds a batch over [t0+fromH, t0+toH) holding slots first..last-1
// with value base+i.
func batch(t *testing.T, origin domain.Origin, fromH, toH, first, last int, base int64) domain.PriceBatch {
	t.Helper()
	ivs := make([]domain.PriceInterval, 0, last-first)
	for i := first; i < last; i++ {
		ivs = append(ivs, slot(i, base+int64(i)))
	}
	b, err := domain.NewPriceBatch("NO1", origin,
		t0.Add(time.Duration(fromH)*time.Hour), t0.Add(time.Duration(toH)*time.Hour),
		"MWh", "EUR", ivs)
	require.NoError(t, err)
	return b
}

func empty(fromH, toH int) domain.PriceBatch {
	return domain.EmptyBatch("NO1", t0.Add(time.Duration(fromH)*time.Hour), t0.Add(time.Duration(toH)*time.Hour), "MWh", "EUR")
}

func TestDiffOfBatchWithItselfIsEmpty(t *testing.T) {
	for _, b := range []domain.PriceBatch{
		batch(t, domain.OriginOfficial, 0, 48, 0, 48, 100),
		batch(t, domain.OriginProvisional, 0, 48, 5, 30, 7),
		empty(0, 48),
	} {
		d := Diff(b, b)
		assert.True(t, d.IsEmpty())
		assert.Equal(t, b.From, d.From)
		assert.Equal(t, b.To, d.To)
	}
}

func TestDiffAgainstEmptyReturnsNewer(t *testing.T) {
	b := batch(t, domain.OriginGenerated, 0, 48, 0, 48, 1)
	d := Diff(b, empty(0, 48))
	assert.Equal(t, b.Intervals, d.Intervals)
	assert.Equal(t, b.From, d.From)
	assert.Equal(t, b.To, d.To)
	assert.Equal(t, domain.OriginGenerated, d.Origin)
}

func TestDiffOfEmptyNewerIsEmpty(t *testing.T) {
	older := batch(t, domain.OriginOfficial, 0, 48, 0, 48, 1)
	assert.True(t, Diff(empty(0, 48), older).IsEmpty())
}

func TestDiffKeepsChangedAndNewSlots(t *testing.T) {
	older := batch(t, domain.OriginOfficial, 0, 10, 0, 6, 100)
	newer := batch(t, domain.OriginProvisional, 0, 10, 0, 10, 100)
	newer.Intervals[2].Value = decimal.NewFromInt(999)

	d := Diff(newer, older)
	require.Len(t, d.Intervals, 5)
	assert.Equal(t, t0.Add(2*time.Hour), d.Intervals[0].Start)
	for i, iv := range d.Intervals[1:] {
		assert.Equal(t, t0.Add(time.Duration(6+i)*time.Hour), iv.Start)
	}
	assert.Equal(t, domain.OriginProvisional, d.Origin)
}

func TestDiffTreatsMetadataChangeAsChange(t *testing.T) {
	older := batch(t, domain.OriginOfficial, 0, 3, 0, 3, 1)
	newer := batch(t, domain.OriginProvisional, 0, 3, 0, 3, 1)
	newer.Intervals = append([]domain.PriceInterval(nil), newer.Intervals...)
	newer.Intervals[0].Currency = "NOK"
	newer.Intervals[1].Unit = "kWh"

	d := Diff(newer, older)
	require.Len(t, d.Intervals, 2)
	assert.Equal(t, domain.Currency("NOK"), d.Intervals[0].Currency)
	assert.Equal(t, domain.Unit("kWh"), d.Intervals[1].Unit)
}

func TestDiffRestrictsToOverlap(t *testing.T) {
	newer := batch(t, domain.OriginProvisional, 0, 24, 0, 24, 1)
	older := empty(12, 36)

	d := Diff(newer, older)
	assert.Equal(t, t0.Add(12*time.Hour), d.From)
	assert.Equal(t, t0.Add(24*time.Hour), d.To)
	require.Len(t, d.Intervals, 12)
	assert.Equal(t, t0.Add(12*time.Hour), d.Intervals[0].Start)
	require.NoError(t, d.Validate())
}

func TestDiffDisjointRangesIsEmpty(t *testing.T) {
	d := Diff(batch(t, domain.OriginProvisional, 0, 12, 0, 12, 1), empty(24, 36))
	assert.True(t, d.IsEmpty())
	assert.False(t, d.To.Before(d.From))
}

func TestDiffDoesNotMutateInputs(t *testing.T) {
	newer := batch(t, domain.OriginProvisional, 0, 10, 0, 10, 1)
	older := batch(t, domain.OriginOfficial, 0, 10, 0, 5, 1)
	before := append([]domain.PriceInterval(nil), newer.Intervals...)

	_ = Diff(newer, older)
	assert.Equal(t, before, newer.Intervals)
}

func TestMergeAuthorityIndependentOfArgumentOrder(t *testing.T) {
	official := batch(t, domain.OriginOfficial, 0, 48, 0, 40, 100)
	provisional := batch(t, domain.OriginProvisional, 0, 48, 0, 48, 500)

	for _, m := range []domain.PriceBatch{Merge(official, provisional), Merge(provisional, official)} {
		require.Len(t, m.Intervals, 48)
		assert.True(t, m.Intervals[3].Value.Equal(decimal.NewFromInt(103)), "official wins slot 3")
		assert.True(t, m.Intervals[45].Value.Equal(decimal.NewFromInt(545)), "provisional fills slot 45")
		assert.Equal(t, domain.OriginOfficial, m.Origin)
		require.NoError(t, m.Validate())
	}
}

func TestMergeTiePrefersFirstArgument(t *testing.T) {
	a := batch(t, domain.OriginProvisional, 0, 4, 0, 4, 10)
	b := batch(t, domain.OriginProvisional, 0, 4, 0, 4, 20)

	m := Merge(a, b)
	for i, iv := range m.Intervals {
		assert.True(t, iv.Value.Equal(decimal.NewFromInt(int64(10+i))))
	}
}

func TestMergeSpansBothWindows(t *testing.T) {
	a := batch(t, domain.OriginOfficial, 0, 24, 0, 24, 1)
	b := batch(t, domain.OriginGenerated, 12, 48, 12, 48, 1000)

	m := Merge(a, b)
	assert.Equal(t, t0, m.From)
	assert.Equal(t, t0.Add(48*time.Hour), m.To)
	assert.Len(t, m.Intervals, 48)
	assert.True(t, m.HasCorrectPriceCount())
}

func TestMergeDropsSecondaryIntervalsOverlappingPrimary(t *testing.T) {
	primary := batch(t, domain.OriginOfficial, 0, 4, 0, 2, 1)
	// A two-hour secondary block straddling the end of the primary data.
	straddle := domain.PriceInterval{
		Start: t0.Add(time.Hour), End: t0.Add(3 * time.Hour),
		Value: decimal.NewFromInt(7), Unit: "MWh", Currency: "EUR",
	}
	tail := slot(3, 9)
	secondary := domain.PriceBatch{
		Intervals: []domain.PriceInterval{straddle, tail},
		From:      t0, To: t0.Add(4 * time.Hour),
		Origin: domain.OriginGenerated, Area: "NO1",
	}

	m := Merge(primary, secondary)
	require.Len(t, m.Intervals, 3)
	assert.Equal(t, tail, m.Intervals[2])
	require.NoError(t, m.Validate())
}

func TestMergeWithEmptyReturnsOtherUnchanged(t *testing.T) {
	b := batch(t, domain.OriginProvisional, 0, 24, 0, 10, 1)
	e := empty(0, 48)

	assert.Equal(t, b, Merge(b, e))
	assert.Equal(t, b, Merge(e, b))
	assert.True(t, Merge(e, e).IsEmpty())
}

func TestMergeCoverageMonotonic(t *testing.T) {
	cases := []struct{ a, b domain.PriceBatch }{
		{batch(t, domain.OriginOfficial, 0, 48, 0, 40, 1), batch(t, domain.OriginProvisional, 0, 48, 0, 48, 2)},
		{batch(t, domain.OriginGenerated, 0, 48, 10, 20, 1), batch(t, domain.OriginProvisional, 0, 48, 30, 40, 2)},
		{batch(t, domain.OriginOfficial, 0, 48, 0, 48, 1), empty(0, 48)},
		{batch(t, domain.OriginProvisional, 0, 10, 0, 10, 1), batch(t, domain.OriginProvisional, 5, 20, 5, 20, 2)},
	}
	for _, c := range cases {
		m := Merge(c.a, c.b)
		assert.GreaterOrEqual(t, m.IntervalCount(), max(c.a.IntervalCount(), c.b.IntervalCount()))
		require.NoError(t, m.Validate())
	}
}

func TestMergeMixedCadenceKeepsWinningSlot(t *testing.T) {
	twoHours := slot(0, 50)
	twoHours.End = t0.Add(2 * time.Hour)
	coarse, err := domain.NewPriceBatch("NO1", domain.OriginOfficial, t0, t0.Add(3*time.Hour), "MWh", "EUR",
		[]domain.PriceInterval{twoHours})
	require.NoError(t, err)
	fine := batch(t, domain.OriginProvisional, 0, 3, 0, 3, 1)

	m := Merge(fine, coarse)
	require.NoError(t, m.Validate())
	require.Equal(t, 2, m.IntervalCount())
	assert.Equal(t, twoHours, m.Intervals[0])
	assert.Equal(t, t0.Add(2*time.Hour), m.Intervals[1].Start)
	assert.Less(t, m.IntervalCount(), fine.IntervalCount())
}

func TestReduceToExistingIntervals(t *testing.T) {
	// Requested Mon 00:00 to Wed 00:00, data only Mon 06:00 to 18:00.
	b := batch(t, domain.OriginProvisional, 0, 48, 6, 18, 1)

	r := ReduceToExistingIntervals(b)
	assert.Equal(t, t0.Add(6*time.Hour), r.From)
	assert.Equal(t, t0.Add(18*time.Hour), r.To)
	assert.Equal(t, b.Intervals, r.Intervals)
	assert.Equal(t, t0, b.From, "input untouched")
}

func TestReduceEmptyBatchUnchanged(t *testing.T) {
	e := empty(0, 48)
	assert.Equal(t, e, ReduceToExistingIntervals(e))
}
