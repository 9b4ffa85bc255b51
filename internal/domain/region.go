package domain

import "time"

// Region describes a price area and the local rules used to build request
// windows for it.
type Region struct {
	Area      PriceArea
	Currency  Currency
	Unit      Unit
	Location  *time.Location
	InService bool
}

// Local converts t into the region's timezone.
func (r Region) Local(t time.Time) time.Time {
	if r.Location == nil {
		return t.UTC()
	}
	return t.In(r.Location)
}
