// Package region holds the static table of supported price areas.
package region

import (
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/alanyoungcy/dayahead/internal/domain"
)

const unit domain.Unit = "MWh"

type entry struct {
	tz        string
	currency  domain.Currency
	inService bool
}

var table = map[domain.PriceArea]entry{
	"NO1": {"Europe/Oslo", "NOK", true},
	"NO2": {"Europe/Oslo", "NOK", true},
	"NO3": {"Europe/Oslo", "NOK", true},
	"NO4": {"Europe/Oslo", "NOK", true},
	"NO5": {"Europe/Oslo", "NOK", true},
	"SE1": {"Europe/Stockholm", "SEK", true},
	"SE2": {"Europe/Stockholm", "SEK", true},
	"SE3": {"Europe/Stockholm", "SEK", true},
	"SE4": {"Europe/Stockholm", "SEK", true},
	"DK1": {"Europe/Copenhagen", "DKK", true},
	"DK2": {"Europe/Copenhagen", "DKK", true},
	"FI":  {"Europe/Helsinki", "EUR", true},
	"EE":  {"Europe/Tallinn", "EUR", false},
	"LV":  {"Europe/Riga", "EUR", false},
	"LT":  {"Europe/Vilnius", "EUR", false},
}

// Lookup returns the region for a price area code (case-insensitive).
func Lookup(area string) (domain.Region, error) {
	code := domain.PriceArea(strings.ToUpper(strings.TrimSpace(area)))
	e, ok := table[code]
	if !ok {
		return domain.Region{}, fmt.Errorf("region: %w: %q", domain.ErrUnknownArea, area)
	}
	loc, err := time.LoadLocation(e.tz)
	if err != nil {
		return domain.Region{}, fmt.Errorf("region: load location %s: %w", e.tz, err)
	}
	return domain.Region{
		Area:      code,
		Currency:  e.currency,
		Unit:      unit,
		Location:  loc,
		InService: e.inService,
	}, nil
}

// Resolve looks up every area, failing on the first unknown one.
func Resolve(areas []string) ([]domain.Region, error) {
	out := make([]domain.Region, 0, len(areas))
	for _, a := range areas {
		r, err := Lookup(a)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Areas lists every known area code in sorted order.
func Areas() []domain.PriceArea {
	out := make([]domain.PriceArea, 0, len(table))
	for a := range table {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
