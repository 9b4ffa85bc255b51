// Package timeframe derives request windows and expiry cutoffs from a
// region's local calendar.
package timeframe

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/dayahead/internal/domain"
)

const (
	lookBackDays       = 1
	mondayLookBackDays = 3
	lookAheadDays      = 2
)

// Window is a UTC request window [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// DayAhead returns the window to request for region at now. The local date
// is truncated to midnight, then extended one day back (three on Mondays,
// to span the weekend publication gap) and two days forward.
func DayAhead(region domain.Region, now time.Time) Window {
	local := region.Local(now)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())

	back := lookBackDays
	if midnight.Weekday() == time.Monday {
		back = mondayLookBackDays
	}
	return Window{
		Start: midnight.AddDate(0, 0, -back).UTC(),
		End:   midnight.AddDate(0, 0, lookAheadDays).UTC(),
	}
}

// Cutoff is a local wall-clock time of day.
type Cutoff struct {
	Hour   int
	Minute int
}

// DefaultCutoff is when provisional prices are considered superseded.
var DefaultCutoff = Cutoff{Hour: 11, Minute: 15}

// ParseCutoff parses "HH:MM".
func ParseCutoff(s string) (Cutoff, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Cutoff{}, fmt.Errorf("timeframe: parse cutoff %q: %w", s, err)
	}
	return Cutoff{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c Cutoff) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Next returns the first occurrence of the cutoff in region's timezone that
// is strictly after now, in UTC.
func (c Cutoff) Next(region domain.Region, now time.Time) time.Time {
	local := region.Local(now)
	at := time.Date(local.Year(), local.Month(), local.Day(), c.Hour, c.Minute, 0, 0, local.Location())
	if !at.After(local) {
		at = at.AddDate(0, 0, 1)
	}
	return at.UTC()
}
