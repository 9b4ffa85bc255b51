package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func hourly(t *testing.T, from time.Time, n int) []PriceInterval {
	t.Helper()
	out := make([]PriceInterval, 0, n)
	for i := 0; i < n; i++ {
		start := from.Add(time.Duration(i) * time.Hour)
		iv, err := NewPriceInterval(start, start.Add(time.Hour), decimal.NewFromInt(int64(10+i)), "MWh", "EUR")
		require.NoError(t, err)
		out = append(out, iv)
	}
	return out
}

func TestNewPriceIntervalRejectsEmptySlot(t *testing.T) {
	_, err := NewPriceInterval(day0, day0, decimal.Zero, "MWh", "EUR")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInterval))
}

func TestPriceIntervalEqualComparesAllPublishedFields(t *testing.T) {
	a, err := NewPriceInterval(day0, day0.Add(time.Hour), decimal.RequireFromString("1.50"), "MWh", "EUR")
	require.NoError(t, err)

	b := a
	b.Value = decimal.RequireFromString("1.5")
	assert.True(t, a.Equal(b), "numeric equality ignores trailing zeros")

	c := a
	c.Currency = "NOK"
	assert.False(t, a.Equal(c))

	d := a
	d.Unit = "kWh"
	assert.False(t, a.Equal(d))

	e := a
	e.Value = decimal.NewFromInt(2)
	assert.False(t, a.Equal(e))
	assert.True(t, a.SameSlot(e))
}

func TestNewPriceBatchSortsAndValidates(t *testing.T) {
	ivs := hourly(t, day0, 3)
	reversed := []PriceInterval{ivs[2], ivs[0], ivs[1]}

	b, err := NewPriceBatch("NO1", OriginOfficial, day0, day0.Add(3*time.Hour), "MWh", "EUR", reversed)
	require.NoError(t, err)
	assert.Equal(t, ivs, b.Intervals)
	assert.Equal(t, ivs[2], reversed[0], "input slice is not reordered")

	_, err = NewPriceBatch("NO1", OriginOfficial, day0.Add(time.Hour), day0.Add(3*time.Hour), "MWh", "EUR", ivs)
	assert.ErrorIs(t, err, ErrInvalidBatch)

	overlap := []PriceInterval{ivs[0], {Start: day0.Add(30 * time.Minute), End: day0.Add(90 * time.Minute)}}
	_, err = NewPriceBatch("NO1", OriginOfficial, day0, day0.Add(3*time.Hour), "MWh", "EUR", overlap)
	assert.ErrorIs(t, err, ErrInvalidBatch)
}

func TestHasCorrectPriceCount(t *testing.T) {
	const n = 48
	ivs := hourly(t, day0, n)
	end := day0.Add(n * time.Hour)

	full, err := NewPriceBatch("NO1", OriginOfficial, day0, end, "MWh", "EUR", ivs)
	require.NoError(t, err)
	assert.True(t, full.HasCorrectPriceCount())
	assert.True(t, full.Complete(end))
	assert.InDelta(t, 1.0, full.CoverageRatio(), 1e-9)

	for _, drop := range []int{0, n / 2, n - 1} {
		missing := make([]PriceInterval, 0, n-1)
		missing = append(missing, ivs[:drop]...)
		missing = append(missing, ivs[drop+1:]...)
		b, err := NewPriceBatch("NO1", OriginOfficial, day0, end, "MWh", "EUR", missing)
		require.NoError(t, err)
		assert.False(t, b.HasCorrectPriceCount(), "dropping interval %d", drop)
	}

	assert.False(t, EmptyBatch("NO1", day0, end, "MWh", "EUR").HasCorrectPriceCount())
}

func TestHasCorrectPriceCountRequiresLastEndAtTo(t *testing.T) {
	// Right count, wrong placement: 2 slots in a 3h window shifted by one.
	ivs := hourly(t, day0, 3)
	b := PriceBatch{
		Intervals:  ivs[:2],
		From:       day0,
		To:         day0.Add(2 * time.Hour),
		Resolution: time.Hour,
	}
	assert.True(t, b.HasCorrectPriceCount())

	b.Intervals = ivs[1:3]
	b.To = day0.Add(2 * time.Hour)
	assert.False(t, b.HasCorrectPriceCount())
}

func TestCoverageRatioPartial(t *testing.T) {
	b, err := NewPriceBatch("SE3", OriginProvisional, day0, day0.Add(48*time.Hour), "MWh", "SEK", hourly(t, day0, 40))
	require.NoError(t, err)
	assert.Equal(t, 40, b.IntervalCount())
	assert.Equal(t, 48, b.ExpectedCount())
	assert.InDelta(t, 40.0/48.0, b.CoverageRatio(), 1e-9)
}

func TestOriginOrderingAndText(t *testing.T) {
	assert.True(t, OriginOfficial.Outranks(OriginProvisional))
	assert.True(t, OriginProvisional.Outranks(OriginGenerated))
	assert.True(t, OriginGenerated.Outranks(OriginNone))
	assert.False(t, OriginOfficial.Outranks(OriginOfficial))

	raw, err := json.Marshal(struct {
		O Origin `json:"o"`
	}{OriginProvisional})
	require.NoError(t, err)
	assert.JSONEq(t, `{"o":"provisional"}`, string(raw))

	var o Origin
	require.NoError(t, o.UnmarshalText([]byte("Official")))
	assert.Equal(t, OriginOfficial, o)
	assert.Error(t, o.UnmarshalText([]byte("bogus")))
}

func TestCredentialStale(t *testing.T) {
	now := day0
	assert.True(t, Credential{}.Stale(now))
	assert.True(t, Credential{AccessToken: "x", ExpiresAt: now.Add(9 * time.Minute)}.Stale(now))
	assert.False(t, Credential{AccessToken: "x", ExpiresAt: now.Add(11 * time.Minute)}.Stale(now))
	assert.Equal(t, "Bearer x", Credential{AccessToken: "x"}.Authorization())
}

func TestMarketDataErrorMatchesSentinel(t *testing.T) {
	cause := errors.New("connection reset")
	var err error = &MarketDataError{Op: "fetch prices", Area: "NO1", StatusCode: 502, Err: cause}

	assert.True(t, errors.Is(err, ErrMarketData))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "status 502")

	var mde *MarketDataError
	require.True(t, errors.As(err, &mde))
	assert.Equal(t, PriceArea("NO1"), mde.Area)
}

func TestNewPriceEventOmitsZeroExpiry(t *testing.T) {
	b := EmptyBatch("FI", day0, day0.Add(time.Hour), "MWh", "EUR")
	ev := NewPriceEvent(b, OriginOfficial, time.Time{}, day0)
	assert.Nil(t, ev.Expiry)

	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "expiry")

	exp := day0.Add(11 * time.Hour)
	ev = NewPriceEvent(b, OriginProvisional, exp, day0)
	require.NotNil(t, ev.Expiry)
	assert.True(t, ev.Expiry.Equal(exp))
}
