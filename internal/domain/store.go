package domain

import (
	"context"
	"time"
)

// ListOpts pages and filters list queries. Zero fields do not filter. Event
// and Area apply to the audit log only.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	Event  string
	Area   PriceArea
}

// PriceReader reads stored prices. ReadIntervals returns, for each slot in
// [start, end), the highest-authority stored interval, leaving out slots
// whose highest-authority interval has the excluding origin. Passing
// OriginNone excludes nothing.
type PriceReader interface {
	ReadIntervals(ctx context.Context, start, end time.Time, area PriceArea, excluding Origin) (PriceBatch, error)
}

// PriceWriter persists published intervals together with their origin.
type PriceWriter interface {
	SaveBatch(ctx context.Context, batch PriceBatch) (int64, error)
}

// PriceStore combines read and write access to stored prices.
type PriceStore interface {
	PriceReader
	PriceWriter
}

// EventPublisher delivers price events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event PriceEvent) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
