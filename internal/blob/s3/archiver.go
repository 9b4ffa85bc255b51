package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/dayahead/internal/domain"
)

// EventArchiver implements domain.EventArchiver by writing each published
// event as one JSON object. The publisher records the returned path in its
// own audit entry.
type EventArchiver struct {
	writer domain.BlobWriter
}

// NewEventArchiver creates an EventArchiver.
func NewEventArchiver(writer domain.BlobWriter) *EventArchiver {
	return &EventArchiver{writer: writer}
}

// ArchiveEvent uploads ev as JSON and returns the object path. The area,
// origin and event ID are also attached as object metadata.
func (a *EventArchiver) ArchiveEvent(ctx context.Context, ev domain.PriceEvent) (string, error) {
	buf, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive event marshal: %w", err)
	}

	path := EventPath(ev)
	meta := domain.ObjectMeta{
		ContentType: "application/json",
		Metadata: map[string]string{
			"area":         string(ev.Area),
			"origin":       ev.Origin.String(),
			"event-id":     ev.ID.String(),
			"published-at": ev.PublishedAt.UTC().Format(time.RFC3339),
		},
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), meta); err != nil {
		return "", fmt.Errorf("s3blob: archive event upload: %w", err)
	}

	return path, nil
}

// EventPath builds the object key for an event, partitioned by area, origin
// and the UTC publication date.
//
//	prices/NO1/official/2024-01-02/<uuid>.json
func EventPath(ev domain.PriceEvent) string {
	return fmt.Sprintf("prices/%s/%s/%s/%s.json",
		ev.Area, ev.Origin, ev.PublishedAt.UTC().Format(time.DateOnly), ev.ID)
}

// AreaPrefix is the key prefix under which every event for area is stored.
func AreaPrefix(area domain.PriceArea) string {
	return fmt.Sprintf("prices/%s/", area)
}

// Compile-time interface check.
var _ domain.EventArchiver = (*EventArchiver)(nil)
