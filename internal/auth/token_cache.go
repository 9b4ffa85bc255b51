// Package auth keeps the market-data provider credential fresh in a shared
// key-value store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dayahead/internal/domain"
)

// TokenSource acquires a brand new credential from the provider.
type TokenSource interface {
	AcquireToken(ctx context.Context) (domain.Credential, error)
}

// TokenCache returns a credential that is valid for at least
// domain.TokenRefreshMargin. The store is the source of truth and is re-read
// on every call; concurrent refreshes are harmless and the last Put wins.
type TokenCache struct {
	store  domain.KeyValueStore[domain.Credential]
	source TokenSource
	key    string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a TokenCache.
type Option func(*TokenCache)

// WithKey overrides the storage key (default domain.TokenStorageKey).
func WithKey(key string) Option {
	return func(tc *TokenCache) { tc.key = key }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(tc *TokenCache) { tc.now = now }
}

// NewTokenCache creates a TokenCache.
func NewTokenCache(store domain.KeyValueStore[domain.Credential], source TokenSource, logger *slog.Logger, opts ...Option) *TokenCache {
	tc := &TokenCache{
		store:  store,
		source: source,
		key:    domain.TokenStorageKey,
		logger: logger.With(slog.String("component", "token_cache")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(tc)
	}
	return tc
}

// Token returns the cached credential, acquiring and storing a new one when
// it is absent, unreadable or about to expire.
func (tc *TokenCache) Token(ctx context.Context) (domain.Credential, error) {
	cred, err := tc.store.Get(ctx, tc.key)
	switch {
	case err == nil && !cred.Stale(tc.now()):
		return cred, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		tc.logger.WarnContext(ctx, "token store read failed, acquiring new token",
			slog.String("error", err.Error()),
		)
	}

	fresh, err := tc.source.AcquireToken(ctx)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("auth: acquire token: %w", err)
	}

	if err := tc.store.Put(ctx, tc.key, fresh); err != nil {
		tc.logger.WarnContext(ctx, "token store write failed",
			slog.String("error", err.Error()),
		)
	}
	tc.logger.DebugContext(ctx, "token refreshed",
		slog.Time("expires_at", fresh.ExpiresAt),
	)
	return fresh, nil
}
