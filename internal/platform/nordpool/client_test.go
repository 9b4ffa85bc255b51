package nordpool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dayahead/internal/domain"
)

var (
	fixedNow = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	winStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	winEnd   = time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
)

const pricesBody = `[{
	"deliveryArea": "NO1",
	"status": "O",
	"currency": "NOK",
	"unit": "MWh",
	"values": [
		{"startTime": "2024-01-01T00:00:00Z", "endTime": "2024-01-01T01:00:00Z", "value": 101.25},
		{"startTime": "2024-01-01T01:00:00Z", "endTime": "2024-01-01T02:00:00Z", "value": 99.5},
		{"startTime": "2024-01-01T02:00:00Z", "endTime": "2024-01-01T03:00:00Z", "value": -3.1}
	]
}]`

type staticTokens struct{ calls atomic.Int32 }

func (s *staticTokens) Token(context.Context) (domain.Credential, error) {
	s.calls.Add(1)
	return domain.Credential{AccessToken: "abc", TokenType: "Bearer", ExpiresAt: fixedNow.Add(time.Hour)}, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		TokenURL:        srv.URL + "/connect/token",
		PricesURL:       srv.URL + "/api/v2/Auction/Prices/ByAreas",
		Username:        "user",
		Password:        "pass",
		ClientID:        "client",
		ClientSecret:    "secret",
		SubscriptionKey: "sub-key",
		RateLimit:       100,
	}, discard(), WithClock(func() time.Time { return fixedNow }))
	return c
}

func oslo() domain.Region {
	loc, _ := time.LoadLocation("Europe/Oslo")
	return domain.Region{Area: "NO1", Currency: "NOK", Unit: "MWh", Location: loc, InService: true}
}

func TestAcquireToken(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/connect/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "marketdata_api", r.PostForm.Get("scope"))
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Equal(t, "user", r.PostForm.Get("username"))
		assert.Equal(t, "pass", r.PostForm.Get("password"))
		id, secret, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", id)
		assert.Equal(t, "secret", secret)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	}))

	cred, err := c.AcquireToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", cred.AccessToken)
	assert.Equal(t, fixedNow.Add(time.Hour), cred.ExpiresAt)
}

func TestAcquireTokenRejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_grant", http.StatusBadRequest)
	}))

	_, err := c.AcquireToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMarketData))
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))

	var mde *domain.MarketDataError
	require.True(t, errors.As(err, &mde))
	assert.Equal(t, http.StatusBadRequest, mde.StatusCode)
}

func TestFetchBatch(t *testing.T) {
	tokens := &staticTokens{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		q := r.URL.Query()
		assert.Equal(t, "NO1", q.Get("deliveryarea"))
		assert.Equal(t, "NOK", q.Get("currency"))
		assert.Equal(t, "2024-01-01T00:00:00Z", q.Get("startTime"))
		assert.Equal(t, "2024-01-01T03:00:00Z", q.Get("endTime"))
		assert.Equal(t, "O", q.Get("status"))
		assert.Equal(t, "sub-key", r.Header.Get("Ocp-Apim-Subscription-Key"))
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))

		_, _ = w.Write([]byte(pricesBody))
	}))
	c.UseTokens(tokens)

	b, err := c.FetchBatch(context.Background(), oslo(), winStart, winEnd, domain.OriginOfficial)
	require.NoError(t, err)
	assert.Equal(t, int32(1), tokens.calls.Load())
	assert.Equal(t, domain.OriginOfficial, b.Origin)
	assert.Equal(t, winStart, b.From)
	assert.Equal(t, winEnd, b.To)
	require.Len(t, b.Intervals, 3)
	assert.True(t, b.Intervals[2].Value.Equal(decimal.RequireFromString("-3.1")))
	assert.Equal(t, domain.Currency("NOK"), b.Intervals[0].Currency)
	assert.True(t, b.HasCorrectPriceCount())
}

func TestFetchBatchProvisionalStatus(t *testing.T) {
	var status string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status = r.URL.Query().Get("status")
		_, _ = w.Write([]byte(pricesBody))
	}))
	c.UseTokens(&staticTokens{})

	_, err := c.FetchBatch(context.Background(), oslo(), winStart, winEnd, domain.OriginProvisional)
	require.NoError(t, err)
	assert.Equal(t, "P", status)
}

func TestFetchBatchRejectsGeneratedOrigin(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	_, err := c.FetchBatch(context.Background(), oslo(), winStart, winEnd, domain.OriginGenerated)
	assert.ErrorIs(t, err, domain.ErrMarketData)
}

func TestFetchPricesErrorsBecomeMarketDataError(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusBadGateway, "upstream down"},
		{"no content", http.StatusNoContent, ""},
		{"not found", http.StatusNotFound, "nope"},
		{"bad json", http.StatusOK, "{not json"},
		{"empty list", http.StatusOK, "[]"},
		{"inverted interval", http.StatusOK, `[{"values":[{"startTime":"2024-01-01T02:00:00Z","endTime":"2024-01-01T01:00:00Z","value":1}]}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			c.UseTokens(&staticTokens{})

			_, err := c.FetchPrices(context.Background(), "NO1", "NOK", winStart, winEnd, StatusOfficial)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrMarketData)

			var mde *domain.MarketDataError
			require.True(t, errors.As(err, &mde))
			assert.Equal(t, domain.PriceArea("NO1"), mde.Area)
		})
	}
}

func TestFetchPricesTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(Config{PricesURL: url, RateLimit: 100}, discard())
	c.UseTokens(&staticTokens{})

	_, err := c.FetchPrices(context.Background(), "SE3", "SEK", winStart, winEnd, StatusOfficial)
	assert.ErrorIs(t, err, domain.ErrMarketData)
}

func TestFetchWithoutTokenCacheAcquiresDirectly(t *testing.T) {
	var tokenHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/connect/token", func(w http.ResponseWriter, r *http.Request) {
		tokenHits.Add(1)
		_, _ = w.Write([]byte(`{"access_token":"direct","token_type":"Bearer","expires_in":60}`))
	})
	mux.HandleFunc("/api/v2/Auction/Prices/ByAreas", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer direct", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(pricesBody))
	})
	c := newTestClient(t, mux)

	_, err := c.FetchPrices(context.Background(), "NO1", "NOK", winStart, winEnd, StatusOfficial)
	require.NoError(t, err)
	assert.Equal(t, int32(1), tokenHits.Load())
}
