package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dayahead/internal/domain"
)

var now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu      sync.Mutex
	data    map[string]domain.Credential
	getErr  error
	putErr  error
	putHits int
}

func newMemStore() *memStore {
	return &memStore{data: map[string]domain.Credential{}}
}

func (m *memStore) Get(_ context.Context, key string) (domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.Credential{}, m.getErr
	}
	c, ok := m.data[key]
	if !ok {
		return domain.Credential{}, domain.ErrNotFound
	}
	return c, nil
}

func (m *memStore) Put(_ context.Context, key string, c domain.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putHits++
	if m.putErr != nil {
		return m.putErr
	}
	m.data[key] = c
	return nil
}

type fakeSource struct {
	calls int
	cred  domain.Credential
	err   error
}

func (f *fakeSource) AcquireToken(context.Context) (domain.Credential, error) {
	f.calls++
	return f.cred, f.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func freshCred(token string) domain.Credential {
	return domain.Credential{AccessToken: token, TokenType: "Bearer", ExpiresAt: now.Add(time.Hour)}
}

func TestTokenAcquiresWhenAbsent(t *testing.T) {
	store := newMemStore()
	src := &fakeSource{cred: freshCred("new")}
	tc := NewTokenCache(store, src, discard(), WithClock(func() time.Time { return now }))

	got, err := tc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, "new", store.data[domain.TokenStorageKey].AccessToken)
}

func TestTokenReusesFreshCredential(t *testing.T) {
	store := newMemStore()
	store.data[domain.TokenStorageKey] = freshCred("cached")
	src := &fakeSource{cred: freshCred("new")}
	tc := NewTokenCache(store, src, discard(), WithClock(func() time.Time { return now }))

	got, err := tc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", got.AccessToken)
	assert.Zero(t, src.calls)
}

func TestTokenRefreshesWithinMargin(t *testing.T) {
	store := newMemStore()
	store.data[domain.TokenStorageKey] = domain.Credential{AccessToken: "old", ExpiresAt: now.Add(5 * time.Minute)}
	src := &fakeSource{cred: freshCred("new")}
	tc := NewTokenCache(store, src, discard(), WithClock(func() time.Time { return now }))

	got, err := tc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)
	assert.Equal(t, 1, src.calls)
}

func TestTokenReReadsStoreEveryCall(t *testing.T) {
	store := newMemStore()
	store.data["custom"] = freshCred("a")
	tc := NewTokenCache(store, &fakeSource{}, discard(), WithKey("custom"), WithClock(func() time.Time { return now }))

	got, err := tc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccessToken)

	// Another instance refreshed the shared store.
	store.data["custom"] = freshCred("b")
	got, err = tc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", got.AccessToken)
}

func TestTokenStoreReadErrorTreatedAsAbsent(t *testing.T) {
	store := newMemStore()
	store.getErr = errors.New("connection refused")
	src := &fakeSource{cred: freshCred("new")}
	tc := NewTokenCache(store, src, discard(), WithClock(func() time.Time { return now }))

	got, err := tc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)
}

func TestTokenStoreWriteErrorStillReturnsCredential(t *testing.T) {
	store := newMemStore()
	store.putErr = errors.New("read only replica")
	src := &fakeSource{cred: freshCred("new")}
	tc := NewTokenCache(store, src, discard(), WithClock(func() time.Time { return now }))

	got, err := tc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)
	assert.Equal(t, 1, store.putHits)
}

func TestTokenAcquireFailure(t *testing.T) {
	cause := &domain.MarketDataError{Op: "acquire token", StatusCode: 401}
	tc := NewTokenCache(newMemStore(), &fakeSource{err: cause}, discard())

	_, err := tc.Token(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMarketData)
}
