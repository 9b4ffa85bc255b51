package domain

import (
	"time"

	"github.com/google/uuid"
)

// PriceEvent is what gets published to downstream consumers for one stage of
// a reconciliation run. A zero Expiry means the event never expires.
type PriceEvent struct {
	ID          uuid.UUID  `json:"id"`
	Area        PriceArea  `json:"area"`
	Origin      Origin     `json:"origin"`
	Batch       PriceBatch `json:"batch"`
	Expiry      *time.Time `json:"expiry,omitempty"`
	PublishedAt time.Time  `json:"published_at"`
}

// NewPriceEvent stamps a batch with an ID and publication time.
func NewPriceEvent(batch PriceBatch, origin Origin, expiry time.Time, now time.Time) PriceEvent {
	ev := PriceEvent{
		ID:          uuid.New(),
		Area:        batch.Area,
		Origin:      origin,
		Batch:       batch,
		PublishedAt: now.UTC(),
	}
	if !expiry.IsZero() {
		exp := expiry.UTC()
		ev.Expiry = &exp
	}
	return ev
}

// RunStatus summarises the most recent pipeline run for an area.
type RunStatus struct {
	Area       PriceArea `json:"area"`
	Stage      string    `json:"stage"`
	Complete   bool      `json:"complete"`
	Intervals  int       `json:"intervals"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Jobs a manual run can ask for.
const (
	JobPrices     = "prices"
	JobUnofficial = "unofficial"
)

// RunRequest asks the daemon for one out-of-schedule run of Job. An empty
// Areas list means every configured area.
type RunRequest struct {
	Job   string      `json:"job"`
	Areas []PriceArea `json:"areas,omitempty"`
}
