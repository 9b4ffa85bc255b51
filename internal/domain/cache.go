package domain

import (
	"context"
	"time"
)

// KeyValueStore holds small typed records such as the provider credential
// and the last RunStatus of each area. Get returns ErrNotFound when the key
// is absent.
type KeyValueStore[V any] interface {
	Get(ctx context.Context, key string) (V, error)
	Put(ctx context.Context, key string, value V) error
}

// LockManager gives one replica at a time the right to run an area's
// pipeline. Acquire fails with ErrLockHeld while another holder has key.
// The lock lives until unlock is called or the holder stops renewing it for
// ttl.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one replayable price event.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries published price events: Publish/Subscribe for live
// listeners, StreamAppend/StreamRead for replay by ID.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateDecision is the outcome of one RateLimiter.Allow call.
type RateDecision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long until the oldest counted request leaves the
	// window. Zero when Allowed.
	RetryAfter time.Duration
}

// RateLimiter counts API requests per key over a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateDecision, error)
}
