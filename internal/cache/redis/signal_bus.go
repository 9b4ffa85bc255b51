package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dayahead/internal/domain"
)

const (
	// defaultStreamMaxLen bounds the stream when no retention is set.
	defaultStreamMaxLen int64 = 10000
	subscribeBuffer           = 128
	payloadField              = "payload"
)

// BusOption configures a SignalBus.
type BusOption func(*SignalBus)

// WithStreamRetention trims stream entries older than d on every append,
// replacing the default length bound. Zero keeps the length bound.
func WithStreamRetention(d time.Duration) BusOption {
	return func(sb *SignalBus) { sb.retention = d }
}

// SignalBus implements domain.SignalBus. Price events go out on Pub/Sub for
// live listeners and onto a stream so the events API can replay them.
type SignalBus struct {
	rdb       *redis.Client
	retention time.Duration
	now       func() time.Time
}

// NewSignalBus creates a SignalBus on c.
func NewSignalBus(c *Client, opts ...BusOption) *SignalBus {
	sb := &SignalBus{rdb: c.Underlying(), now: time.Now}
	for _, opt := range opts {
		opt(sb)
	}
	return sb
}

func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe relays payloads from channel until ctx is cancelled, then closes
// the returned channel. A channel containing glob characters subscribes to a
// pattern, e.g. "prices:*" for every area.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	subscribe := sb.rdb.Subscribe
	if strings.ContainsAny(channel, "*?[") {
		subscribe = sb.rdb.PSubscribe
	}
	pubsub := subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	in := pubsub.Channel(redis.WithChannelSize(subscribeBuffer))
	out := make(chan []byte, subscribeBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StreamAppend adds payload to stream and trims it, exactly by age when a
// retention is set and approximately by length otherwise.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{payloadField: payload},
	}
	if sb.retention > 0 {
		args.MinID = minID(sb.now().Add(-sb.retention))
	} else {
		args.MaxLen = defaultStreamMaxLen
		args.Approx = true
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// minID is the smallest auto-generated stream ID at or after t.
func minID(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10) + "-0"
}

// StreamRead returns up to count entries after lastID without blocking. "0"
// reads from the start. Entries without a payload field are skipped.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	results, err := sb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var out []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			if data, ok := payloadOf(msg); ok {
				out = append(out, domain.StreamMessage{ID: msg.ID, Payload: data})
			}
		}
	}
	return out, nil
}

func payloadOf(msg redis.XMessage) ([]byte, bool) {
	switch v := msg.Values[payloadField].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	}
	return nil, false
}

var _ domain.SignalBus = (*SignalBus)(nil)
