// Package nordpool is the REST client for the Nord Pool market-data API:
// password-grant token acquisition and day-ahead price retrieval.
package nordpool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/dayahead/internal/domain"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5 // requests per second
	tokenScope       = "marketdata_api"
)

// Config holds the provider endpoints and credentials.
type Config struct {
	TokenURL        string
	PricesURL       string
	Username        string
	Password        string
	ClientID        string
	ClientSecret    string
	SubscriptionKey string
	Timeout         time.Duration
	RateLimit       int
}

// TokenProvider supplies a valid bearer credential for each request.
type TokenProvider interface {
	Token(ctx context.Context) (domain.Credential, error)
}

// Client talks to the provider. Every failure it returns is a
// *domain.MarketDataError.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	tokens     TokenProvider
	logger     *slog.Logger
	now        func() time.Time
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock overrides the time source used for token expiry.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// NewClient creates a provider client. Until UseTokens is called it acquires
// a fresh token for every request.
func NewClient(cfg Config, logger *slog.Logger, opts ...ClientOption) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = DefaultRateLimit
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		logger:     logger.With(slog.String("component", "nordpool")),
		now:        time.Now,
	}
	c.tokens = directTokens{c}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UseTokens routes credential lookups through tp, typically an
// auth.TokenCache wrapping this same client.
func (c *Client) UseTokens(tp TokenProvider) {
	c.tokens = tp
}

type directTokens struct{ c *Client }

func (d directTokens) Token(ctx context.Context) (domain.Credential, error) {
	return d.c.AcquireToken(ctx)
}

// AcquireToken performs the password grant and returns a new credential.
func (c *Client) AcquireToken(ctx context.Context) (domain.Credential, error) {
	form := url.Values{}
	form.Set("scope", tokenScope)
	form.Set("grant_type", "password")
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)

	if err := c.limiter.Wait(ctx); err != nil {
		return domain.Credential{}, &domain.MarketDataError{Op: "acquire token", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.Credential{}, &domain.MarketDataError{Op: "acquire token", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.cfg.ClientID != "" {
		req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Credential{}, &domain.MarketDataError{Op: "acquire token", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Credential{}, &domain.MarketDataError{
			Op:         "acquire token",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: %s", domain.ErrUnauthorized, strings.TrimSpace(string(body))),
		}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return domain.Credential{}, &domain.MarketDataError{Op: "decode token", StatusCode: resp.StatusCode, Err: err}
	}
	if tr.AccessToken == "" {
		return domain.Credential{}, &domain.MarketDataError{Op: "decode token", StatusCode: resp.StatusCode, Err: errors.New("empty access token")}
	}

	return domain.Credential{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		ExpiresAt:   c.now().UTC().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

// FetchPrices returns the raw intervals the provider publishes for area in
// [start, end) with the given status.
func (c *Client) FetchPrices(ctx context.Context, area domain.PriceArea, currency domain.Currency, start, end time.Time, status Status) ([]domain.PriceInterval, error) {
	ap, err := c.fetchAreaPrices(ctx, area, currency, start, end, status)
	if err != nil {
		return nil, err
	}

	unit := domain.Unit(ap.Unit)
	cur := domain.Currency(ap.Currency)
	if cur == "" {
		cur = currency
	}

	out := make([]domain.PriceInterval, 0, len(ap.Values))
	for _, v := range ap.Values {
		iv, err := domain.NewPriceInterval(v.StartTime, v.EndTime, v.Value, unit, cur)
		if err != nil {
			return nil, &domain.MarketDataError{Op: "decode prices", Area: area, Err: err}
		}
		out = append(out, iv)
	}

	c.logger.InfoContext(ctx, "fetched prices",
		slog.String("area", string(area)),
		slog.String("status", string(status)),
		slog.Int("count", len(out)),
		slog.Time("from", start),
		slog.Time("to", end),
	)
	return out, nil
}

// FetchBatch fetches prices for region over [start, end) with the status
// matching origin and wraps them in a batch tagged with that origin. The
// batch window is the requested one.
func (c *Client) FetchBatch(ctx context.Context, region domain.Region, start, end time.Time, origin domain.Origin) (domain.PriceBatch, error) {
	status, ok := StatusFor(origin)
	if !ok {
		return domain.PriceBatch{}, &domain.MarketDataError{
			Op:   "fetch batch",
			Area: region.Area,
			Err:  fmt.Errorf("origin %s has no upstream status", origin),
		}
	}

	intervals, err := c.FetchPrices(ctx, region.Area, region.Currency, start, end, status)
	if err != nil {
		return domain.PriceBatch{}, err
	}

	unit := region.Unit
	if len(intervals) > 0 && intervals[0].Unit != "" {
		unit = intervals[0].Unit
	}
	batch, err := domain.NewPriceBatch(region.Area, origin, start, end, unit, region.Currency, intervals)
	if err != nil {
		return domain.PriceBatch{}, &domain.MarketDataError{Op: "validate prices", Area: region.Area, Err: err}
	}
	return batch, nil
}

func (c *Client) fetchAreaPrices(ctx context.Context, area domain.PriceArea, currency domain.Currency, start, end time.Time, status Status) (areaPrices, error) {
	const op = "fetch prices"

	cred, err := c.tokens.Token(ctx)
	if err != nil {
		var mde *domain.MarketDataError
		if errors.As(err, &mde) {
			return areaPrices{}, err
		}
		return areaPrices{}, &domain.MarketDataError{Op: op, Area: area, Err: err}
	}

	params := url.Values{}
	params.Set("deliveryarea", string(area))
	params.Set("currency", string(currency))
	params.Set("startTime", start.UTC().Format(time.RFC3339))
	params.Set("endTime", end.UTC().Format(time.RFC3339))
	params.Set("status", string(status))

	if err := c.limiter.Wait(ctx); err != nil {
		return areaPrices{}, &domain.MarketDataError{Op: op, Area: area, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.PricesURL+"?"+params.Encode(), nil)
	if err != nil {
		return areaPrices{}, &domain.MarketDataError{Op: op, Area: area, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.SubscriptionKey)
	req.Header.Set("Authorization", cred.Authorization())

	start0 := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return areaPrices{}, &domain.MarketDataError{Op: op, Area: area, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || resp.StatusCode == http.StatusNoContent {
		c.logger.WarnContext(ctx, "prices request rejected",
			slog.String("area", string(area)),
			slog.Int("status", resp.StatusCode),
			slog.Duration("elapsed", time.Since(start0)),
		)
		return areaPrices{}, &domain.MarketDataError{
			Op:         op,
			Area:       area,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", http.StatusText(resp.StatusCode)),
		}
	}

	var list []areaPrices
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return areaPrices{}, &domain.MarketDataError{Op: "decode prices", Area: area, StatusCode: resp.StatusCode, Err: err}
	}
	if len(list) == 0 {
		return areaPrices{}, &domain.MarketDataError{Op: "decode prices", Area: area, StatusCode: resp.StatusCode, Err: errors.New("empty response")}
	}
	return list[0], nil
}
