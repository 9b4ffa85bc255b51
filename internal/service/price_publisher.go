package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/dayahead/internal/domain"
)

// PriceStream is the Redis stream every price event is appended to.
const PriceStream = "prices"

// PriceChannel is the pub/sub channel for events of one area.
func PriceChannel(area domain.PriceArea) string {
	return "prices:" + string(area)
}

// PublishRecorder receives publication metrics.
type PublishRecorder interface {
	RecordPublished(area, origin string, n int)
	RecordPublishError(area, sink string)
}

// PricePublisher implements domain.EventPublisher. An event goes to the
// signal bus (pub/sub and stream), its intervals to the price store, and a
// copy to the archive. Store, archive, audit and metrics are optional.
type PricePublisher struct {
	bus      domain.SignalBus
	store    domain.PriceWriter
	archiver domain.EventArchiver
	audit    domain.AuditStore
	metrics  PublishRecorder
	logger   *slog.Logger
}

// PublisherOption configures a PricePublisher.
type PublisherOption func(*PricePublisher)

// WithStore persists published intervals.
func WithStore(w domain.PriceWriter) PublisherOption {
	return func(p *PricePublisher) { p.store = w }
}

// WithArchiver keeps a durable copy of every event.
func WithArchiver(a domain.EventArchiver) PublisherOption {
	return func(p *PricePublisher) { p.archiver = a }
}

// WithAudit records each publication in the audit log.
func WithAudit(a domain.AuditStore) PublisherOption {
	return func(p *PricePublisher) { p.audit = a }
}

// WithMetrics records publication counters.
func WithMetrics(m PublishRecorder) PublisherOption {
	return func(p *PricePublisher) { p.metrics = m }
}

// NewPricePublisher creates a PricePublisher on top of bus.
func NewPricePublisher(bus domain.SignalBus, logger *slog.Logger, opts ...PublisherOption) *PricePublisher {
	p := &PricePublisher{
		bus:    bus,
		logger: logger.With(slog.String("component", "price_publisher")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish delivers ev to every configured sink. A failing sink does not stop
// the others; all failures are returned joined.
func (p *PricePublisher) Publish(ctx context.Context, ev domain.PriceEvent) error {
	area := string(ev.Area)
	origin := ev.Origin.String()

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("price_publisher: marshal event %s: %w", ev.ID, err)
	}

	var errs []error
	fail := func(sink string, err error) {
		errs = append(errs, fmt.Errorf("%s: %w", sink, err))
		if p.metrics != nil {
			p.metrics.RecordPublishError(area, sink)
		}
		p.logger.WarnContext(ctx, "price event sink failed",
			slog.String("sink", sink),
			slog.String("area", area),
			slog.String("event_id", ev.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	if err := p.bus.Publish(ctx, PriceChannel(ev.Area), payload); err != nil {
		fail("bus", err)
	}
	if err := p.bus.StreamAppend(ctx, PriceStream, payload); err != nil {
		fail("stream", err)
	}

	if p.store != nil && !ev.Batch.IsEmpty() {
		stored := ev.Batch
		stored.Origin = ev.Origin
		if _, err := p.store.SaveBatch(ctx, stored); err != nil {
			fail("store", err)
		}
	}

	var archivePath string
	if p.archiver != nil {
		if archivePath, err = p.archiver.ArchiveEvent(ctx, ev); err != nil {
			fail("archive", err)
		}
	}

	if p.audit != nil {
		detail := map[string]any{
			"event_id":  ev.ID.String(),
			"area":      area,
			"origin":    origin,
			"intervals": ev.Batch.IntervalCount(),
			"from":      ev.Batch.From,
			"to":        ev.Batch.To,
		}
		if ev.Expiry != nil {
			detail["expiry"] = *ev.Expiry
		}
		if archivePath != "" {
			detail["archive_path"] = archivePath
		}
		if err := p.audit.Log(ctx, "price_event_published", detail); err != nil {
			fail("audit", err)
		}
	}

	if p.metrics != nil {
		p.metrics.RecordPublished(area, origin, ev.Batch.IntervalCount())
	}

	p.logger.InfoContext(ctx, "price event published",
		slog.String("area", area),
		slog.String("origin", origin),
		slog.String("event_id", ev.ID.String()),
		slog.Int("intervals", ev.Batch.IntervalCount()),
	)

	if len(errs) > 0 {
		return fmt.Errorf("price_publisher: publish %s: %w", ev.ID, errors.Join(errs...))
	}
	return nil
}

// Compile-time interface check.
var _ domain.EventPublisher = (*PricePublisher)(nil)
