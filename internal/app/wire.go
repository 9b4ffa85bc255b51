package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/dayahead/internal/auth"
	s3blob "github.com/alanyoungcy/dayahead/internal/blob/s3"
	"github.com/alanyoungcy/dayahead/internal/cache/redis"
	"github.com/alanyoungcy/dayahead/internal/config"
	"github.com/alanyoungcy/dayahead/internal/crypto"
	"github.com/alanyoungcy/dayahead/internal/domain"
	"github.com/alanyoungcy/dayahead/internal/metrics"
	"github.com/alanyoungcy/dayahead/internal/notify"
	"github.com/alanyoungcy/dayahead/internal/platform/nordpool"
	"github.com/alanyoungcy/dayahead/internal/region"
	"github.com/alanyoungcy/dayahead/internal/server/handler"
	"github.com/alanyoungcy/dayahead/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the application modes need.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	PriceStore domain.PriceStore
	AuditStore domain.AuditStore

	// Redis
	Credentials domain.KeyValueStore[domain.Credential]
	RunStatus   *redis.HashStore[domain.RunStatus]
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Blob storage (nil unless s3.enabled)
	BlobReader domain.BlobReader
	Archiver   domain.EventArchiver

	// Market data
	Nordpool *nordpool.Client
	Regions  []domain.Region

	// Observability
	Metrics  *metrics.Collector
	Notifier *notify.Notifier
	Health   map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	regions, err := region.Resolve(cfg.Market.Areas)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: areas: %w", err)
	}

	deps := &Dependencies{
		Regions: regions,
		Metrics: metrics.NewCollector(""),
		Health:  make(map[string]handler.Pinger),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.PriceStore = postgres.NewPriceStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.Health["postgres"] = pgClient

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		URL:        cfg.Redis.URL,
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	var credOpts []redis.HashStoreOption[domain.Credential]
	if cfg.Redis.SealPassword != "" {
		sealer, err := crypto.NewSealer(cfg.Redis.SealPassword, nil)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: token sealer: %w", err)
		}
		credOpts = append(credOpts, redis.WithSealer[domain.Credential](sealer))
	} else {
		logger.WarnContext(ctx, "redis.seal_password not set, provider tokens are stored in plain text")
	}

	deps.Credentials = redis.NewHashStore[domain.Credential](redisClient, cfg.Redis.TokenHash, credOpts...)
	deps.RunStatus = redis.NewHashStore[domain.RunStatus](redisClient, cfg.Redis.StatusHash)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, redis.WithStreamRetention(cfg.Redis.StreamRetention.Duration))
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.Health["redis"] = redisClient

	// --- S3 event archive (optional) ---
	if cfg.S3.Enabled {
		archive, err := s3blob.New(ctx, s3blob.Config{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobReader = archive
		deps.Archiver = s3blob.NewEventArchiver(archive)
		deps.Health["s3"] = archive
	}

	// --- Market-data provider ---
	deps.Nordpool = nordpool.NewClient(nordpool.Config{
		TokenURL:        cfg.Nordpool.TokenURL,
		PricesURL:       cfg.Nordpool.PricesURL,
		Username:        cfg.Nordpool.Username,
		Password:        cfg.Nordpool.Password,
		ClientID:        cfg.Nordpool.ClientID,
		ClientSecret:    cfg.Nordpool.ClientSecret,
		SubscriptionKey: cfg.Nordpool.SubscriptionKey,
		Timeout:         cfg.Nordpool.Timeout.Duration,
		RateLimit:       cfg.Nordpool.RateLimit,
	}, logger)
	deps.Nordpool.UseTokens(auth.NewTokenCache(deps.Credentials, deps.Nordpool, logger))

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
