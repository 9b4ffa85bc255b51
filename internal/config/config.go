// Package config defines the top-level configuration for the day-ahead price
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/dayahead/internal/region"
	"github.com/alanyoungcy/dayahead/internal/timeframe"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DAYAHEAD_* environment variables.
type Config struct {
	Nordpool NordpoolConfig `toml:"nordpool"`
	Market   MarketConfig   `toml:"market"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Backfill BackfillConfig `toml:"backfill"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// NordpoolConfig holds the market-data provider endpoints and credentials.
type NordpoolConfig struct {
	TokenURL        string   `toml:"token_url"`
	PricesURL       string   `toml:"prices_url"`
	Username        string   `toml:"username"`
	Password        string   `toml:"password"`
	ClientID        string   `toml:"client_id"`
	ClientSecret    string   `toml:"client_secret"`
	SubscriptionKey string   `toml:"subscription_key"`
	Timeout         duration `toml:"timeout"`
	RateLimit       int      `toml:"rate_limit"`
}

// MarketConfig selects the price areas to process and the daily cutoff at
// which unofficial prices expire. OfficialTTL, when set, gives official
// events an expiry that long after publication.
type MarketConfig struct {
	Areas       []string `toml:"areas"`
	Cutoff      string   `toml:"cutoff"`
	OfficialTTL duration `toml:"official_ttl"`
}

// PipelineConfig holds run scheduling and retry parameters.
type PipelineConfig struct {
	Schedule           string   `toml:"schedule"`
	UnofficialSchedule string   `toml:"unofficial_schedule"`
	Timezone           string   `toml:"timezone"`
	Concurrency        int      `toml:"concurrency"`
	RetryAttempts      int      `toml:"retry_attempts"`
	RetryWait          duration `toml:"retry_wait"`
	LockTTL            duration `toml:"lock_ttl"`
	UnofficialLookback duration `toml:"unofficial_lookback"`
}

// BackfillConfig tunes the fallback price generator.
type BackfillConfig struct {
	LookbackDays int `toml:"lookback_days"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters and key names.
type RedisConfig struct {
	// URL (redis:// or rediss://) replaces addr, password, db and
	// tls_enabled when set.
	URL          string `toml:"url"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	TokenHash    string `toml:"token_hash"`
	StatusHash   string `toml:"status_hash"`
	SealPassword string `toml:"seal_password"`
	// StreamRetention is how long price events stay replayable. Zero bounds
	// the stream by length instead.
	StreamRetention duration `toml:"stream_retention"`
}

// S3Config holds S3-compatible object storage parameters for the event
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP monitor parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Nordpool: NordpoolConfig{
			TokenURL:  "https://sts.nordpoolgroup.com/connect/token",
			PricesURL: "https://data-api.nordpoolgroup.com/api/v2/Auction/Prices/ByAreas",
			ClientID:  "client_marketdata_api",
			Timeout:   duration{30 * time.Second},
			RateLimit: 5,
		},
		Market: MarketConfig{
			Areas:  []string{"NO1", "NO2", "NO3", "NO4", "NO5", "SE1", "SE2", "SE3", "SE4", "FI", "DK1", "DK2"},
			Cutoff: timeframe.DefaultCutoff.String(),
		},
		Pipeline: PipelineConfig{
			Schedule:           "*/15 12-23 * * *",
			UnofficialSchedule: "0 6 * * *",
			Timezone:           "Europe/Oslo",
			Concurrency:        1,
			RetryAttempts:      3,
			RetryWait:          duration{3 * time.Second},
			LockTTL:            duration{10 * time.Minute},
			UnofficialLookback: duration{7 * 24 * time.Hour},
		},
		Backfill: BackfillConfig{
			LookbackDays: 7,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "dayahead",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			TokenHash:  "nordpool:credentials",
			StatusHash: "pipeline:status",

			StreamRetention: duration{30 * 24 * time.Hour},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dayahead-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:    true,
			Port:       8000,
			RateLimit:  20,
			RateWindow: duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"pipeline_failed", "prices_incomplete", "unofficial_update_failed"},
		},
		Mode:     "daemon",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":        true,
	"unofficial": true,
	"daemon":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, unofficial, daemon)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Nordpool
	if c.Nordpool.TokenURL == "" {
		errs = append(errs, "nordpool: token_url must not be empty")
	}
	if c.Nordpool.PricesURL == "" {
		errs = append(errs, "nordpool: prices_url must not be empty")
	}
	if c.Nordpool.Username == "" || c.Nordpool.Password == "" {
		errs = append(errs, "nordpool: username and password must be set")
	}
	if c.Nordpool.RateLimit < 0 {
		errs = append(errs, "nordpool: rate_limit must be >= 0")
	}

	// Market
	if len(c.Market.Areas) == 0 {
		errs = append(errs, "market: at least one area is required")
	} else if _, err := region.Resolve(c.Market.Areas); err != nil {
		errs = append(errs, fmt.Sprintf("market: %v", err))
	}
	if _, err := timeframe.ParseCutoff(c.Market.Cutoff); err != nil {
		errs = append(errs, fmt.Sprintf("market: cutoff %q must be HH:MM", c.Market.Cutoff))
	}
	if c.Market.OfficialTTL.Duration < 0 {
		errs = append(errs, "market: official_ttl must not be negative")
	}

	// Pipeline
	if c.Pipeline.Concurrency < 1 {
		errs = append(errs, "pipeline: concurrency must be >= 1")
	}
	if c.Pipeline.RetryAttempts < 1 {
		errs = append(errs, "pipeline: retry_attempts must be >= 1")
	}
	if c.Pipeline.RetryWait.Duration < 0 {
		errs = append(errs, "pipeline: retry_wait must not be negative")
	}
	if c.Pipeline.LockTTL.Duration <= 0 {
		errs = append(errs, "pipeline: lock_ttl must be > 0")
	}
	if c.Pipeline.UnofficialLookback.Duration <= 0 {
		errs = append(errs, "pipeline: unofficial_lookback must be > 0")
	}
	if _, err := time.LoadLocation(c.Pipeline.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("pipeline: unknown timezone %q", c.Pipeline.Timezone))
	}
	if strings.EqualFold(c.Mode, "daemon") {
		for name, spec := range map[string]string{
			"schedule":            c.Pipeline.Schedule,
			"unofficial_schedule": c.Pipeline.UnofficialSchedule,
		} {
			if _, err := cron.ParseStandard(spec); err != nil {
				errs = append(errs, fmt.Sprintf("pipeline: %s %q is not a valid cron expression", name, spec))
			}
		}
	}

	// Backfill
	if c.Backfill.LookbackDays < 1 {
		errs = append(errs, "backfill: lookback_days must be >= 1")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" && c.Redis.URL == "" {
		errs = append(errs, "redis: addr or url must be set")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.TokenHash == "" || c.Redis.StatusHash == "" {
		errs = append(errs, "redis: token_hash and status_hash must not be empty")
	}
	if c.Redis.StreamRetention.Duration < 0 {
		errs = append(errs, "redis: stream_retention must not be negative")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Location returns the scheduling timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Pipeline.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
