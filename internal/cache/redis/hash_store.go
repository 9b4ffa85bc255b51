package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dayahead/internal/domain"
)

// Sealer encrypts values before they are written. See internal/crypto.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// HashStore implements domain.KeyValueStore by keeping JSON-encoded values
// as fields of a single Redis hash.
//
// Key schema:
//
//	{hash} - hash, field = key, value = JSON (optionally sealed)
type HashStore[V any] struct {
	rdb    *redis.Client
	hash   string
	sealer Sealer
}

// HashStoreOption configures a HashStore.
type HashStoreOption[V any] func(*HashStore[V])

// WithSealer encrypts every value at rest.
func WithSealer[V any](s Sealer) HashStoreOption[V] {
	return func(hs *HashStore[V]) {
		hs.sealer = s
	}
}

// NewHashStore creates a store over the Redis hash named hash.
func NewHashStore[V any](c *Client, hash string, opts ...HashStoreOption[V]) *HashStore[V] {
	hs := &HashStore[V]{rdb: c.Underlying(), hash: hash}
	for _, opt := range opts {
		opt(hs)
	}
	return hs
}

// Get returns the value for key or domain.ErrNotFound.
func (hs *HashStore[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	raw, err := hs.rdb.HGet(ctx, hs.hash, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, domain.ErrNotFound
		}
		return zero, fmt.Errorf("redis: get %s/%s: %w", hs.hash, key, err)
	}
	return hs.decode(key, raw)
}

// Put stores value under key, replacing any previous value.
func (hs *HashStore[V]) Put(ctx context.Context, key string, value V) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redis: marshal %s/%s: %w", hs.hash, key, err)
	}
	if hs.sealer != nil {
		if data, err = hs.sealer.Seal(data); err != nil {
			return fmt.Errorf("redis: seal %s/%s: %w", hs.hash, key, err)
		}
	}
	if err := hs.rdb.HSet(ctx, hs.hash, key, data).Err(); err != nil {
		return fmt.Errorf("redis: put %s/%s: %w", hs.hash, key, err)
	}
	return nil
}

// All returns every stored value keyed by field. Fields that fail to decode
// are skipped.
func (hs *HashStore[V]) All(ctx context.Context) (map[string]V, error) {
	vals, err := hs.rdb.HGetAll(ctx, hs.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get all %s: %w", hs.hash, err)
	}

	out := make(map[string]V, len(vals))
	for k, raw := range vals {
		v, err := hs.decode(k, []byte(raw))
		if err != nil {
			continue
		}
		out[k] = v
	}
	return out, nil
}

func (hs *HashStore[V]) decode(key string, raw []byte) (V, error) {
	var v V
	if hs.sealer != nil {
		plain, err := hs.sealer.Open(raw)
		if err != nil {
			return v, fmt.Errorf("redis: open %s/%s: %w", hs.hash, key, err)
		}
		raw = plain
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("redis: unmarshal %s/%s: %w", hs.hash, key, err)
	}
	return v, nil
}

// Compile-time interface checks.
var (
	_ domain.KeyValueStore[domain.Credential] = (*HashStore[domain.Credential])(nil)
	_ domain.KeyValueStore[domain.RunStatus]  = (*HashStore[domain.RunStatus])(nil)
)
