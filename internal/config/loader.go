package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DAYAHEAD_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DAYAHEAD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Nordpool ──
	setStr(&cfg.Nordpool.TokenURL, "DAYAHEAD_NORDPOOL_TOKEN_URL")
	setStr(&cfg.Nordpool.PricesURL, "DAYAHEAD_NORDPOOL_PRICES_URL")
	setStr(&cfg.Nordpool.Username, "DAYAHEAD_NORDPOOL_USERNAME")
	setStr(&cfg.Nordpool.Password, "DAYAHEAD_NORDPOOL_PASSWORD")
	setStr(&cfg.Nordpool.ClientID, "DAYAHEAD_NORDPOOL_CLIENT_ID")
	setStr(&cfg.Nordpool.ClientSecret, "DAYAHEAD_NORDPOOL_CLIENT_SECRET")
	setStr(&cfg.Nordpool.SubscriptionKey, "DAYAHEAD_NORDPOOL_SUBSCRIPTION_KEY")
	setDuration(&cfg.Nordpool.Timeout, "DAYAHEAD_NORDPOOL_TIMEOUT")
	setInt(&cfg.Nordpool.RateLimit, "DAYAHEAD_NORDPOOL_RATE_LIMIT")

	// ── Market ──
	setStringSlice(&cfg.Market.Areas, "DAYAHEAD_MARKET_AREAS")
	setStr(&cfg.Market.Cutoff, "DAYAHEAD_MARKET_CUTOFF")
	setDuration(&cfg.Market.OfficialTTL, "DAYAHEAD_MARKET_OFFICIAL_TTL")

	// ── Pipeline ──
	setStr(&cfg.Pipeline.Schedule, "DAYAHEAD_PIPELINE_SCHEDULE")
	setStr(&cfg.Pipeline.UnofficialSchedule, "DAYAHEAD_PIPELINE_UNOFFICIAL_SCHEDULE")
	setStr(&cfg.Pipeline.Timezone, "DAYAHEAD_PIPELINE_TIMEZONE")
	setInt(&cfg.Pipeline.Concurrency, "DAYAHEAD_PIPELINE_CONCURRENCY")
	setInt(&cfg.Pipeline.RetryAttempts, "DAYAHEAD_PIPELINE_RETRY_ATTEMPTS")
	setDuration(&cfg.Pipeline.RetryWait, "DAYAHEAD_PIPELINE_RETRY_WAIT")
	setDuration(&cfg.Pipeline.LockTTL, "DAYAHEAD_PIPELINE_LOCK_TTL")
	setDuration(&cfg.Pipeline.UnofficialLookback, "DAYAHEAD_PIPELINE_UNOFFICIAL_LOOKBACK")

	// ── Backfill ──
	setInt(&cfg.Backfill.LookbackDays, "DAYAHEAD_BACKFILL_LOOKBACK_DAYS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DAYAHEAD_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "DAYAHEAD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DAYAHEAD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DAYAHEAD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DAYAHEAD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DAYAHEAD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DAYAHEAD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DAYAHEAD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DAYAHEAD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DAYAHEAD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.URL, "DAYAHEAD_REDIS_URL")
	setStr(&cfg.Redis.Addr, "DAYAHEAD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DAYAHEAD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DAYAHEAD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DAYAHEAD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DAYAHEAD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DAYAHEAD_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.TokenHash, "DAYAHEAD_REDIS_TOKEN_HASH")
	setStr(&cfg.Redis.StatusHash, "DAYAHEAD_REDIS_STATUS_HASH")
	setStr(&cfg.Redis.SealPassword, "DAYAHEAD_REDIS_SEAL_PASSWORD")
	setDuration(&cfg.Redis.StreamRetention, "DAYAHEAD_REDIS_STREAM_RETENTION")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DAYAHEAD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DAYAHEAD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DAYAHEAD_S3_REGION")
	setStr(&cfg.S3.Bucket, "DAYAHEAD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DAYAHEAD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DAYAHEAD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DAYAHEAD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DAYAHEAD_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "DAYAHEAD_S3_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DAYAHEAD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DAYAHEAD_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "DAYAHEAD_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "DAYAHEAD_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "DAYAHEAD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "DAYAHEAD_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DAYAHEAD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DAYAHEAD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DAYAHEAD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DAYAHEAD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DAYAHEAD_MODE")
	setStr(&cfg.LogLevel, "DAYAHEAD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
