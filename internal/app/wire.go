package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/pricealertbot/internal/blob/s3"
	"github.com/alanyoungcy/pricealertbot/internal/cache/redis"
	"github.com/alanyoungcy/pricealertbot/internal/config"
	"github.com/alanyoungcy/pricealertbot/internal/domain"
	"github.com/alanyoungcy/pricealertbot/internal/evaluator"
	"github.com/alanyoungcy/pricealertbot/internal/notify"
	"github.com/alanyoungcy/pricealertbot/internal/pipeline"
	"github.com/alanyoungcy/pricealertbot/internal/platform/bithumb"
	"github.com/alanyoungcy/pricealertbot/internal/server/handler"
	"github.com/alanyoungcy/pricealertbot/internal/service"
	"github.com/alanyoungcy/pricealertbot/internal/store/postgres"
	"github.com/alanyoungcy/pricealertbot/internal/subscription"
)

// Dependencies bundles everything the application modes need. Optional
// backends (Postgres, Redis, S3) leave their fields nil when disabled.
type Dependencies struct {
	// Core
	Store         *subscription.Store
	Subscriptions *service.SubscriptionService
	Alerts        *service.AlertService
	Source        domain.PriceSource
	Notifier      *notify.Notifier
	Evaluator     *evaluator.Evaluator

	// Stores
	AlertStore domain.AlertStore
	AuditStore domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Cold storage
	Archiver *pipeline.Archiver

	// Health probes keyed by backend name.
	Checks map[string]handler.Checker
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

	deps := &Dependencies{Checks: map[string]handler.Checker{}}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
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
			cleanup()
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
		deps.AlertStore = postgres.NewAlertStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- Subscriptions and alert history ---
	deps.Store = subscription.NewStore(domain.Band{
		UpperPct: cfg.Bands.UpperPct,
		LowerPct: cfg.Bands.LowerPct,
	})
	deps.Subscriptions = service.NewSubscriptionService(deps.Store, deps.AuditStore, deps.SignalBus, logger)
	deps.Alerts = service.NewAlertService(deps.AlertStore, deps.SignalBus, cfg.Notify.RecentAlerts, logger)

	if err := deps.Subscriptions.Seed(ctx, seedsFromConfig(cfg.Subscriptions)); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: seed subscriptions: %w", err)
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		var blobArchiver domain.Archiver
		if cfg.S3.Enabled && deps.AlertStore != nil {
			s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
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
			closers = append(closers, func() { _ = s3Client.Close() })

			blobArchiver = s3blob.NewArchiver(
				s3blob.NewWriter(s3Client),
				s3blob.NewReader(s3Client),
				deps.AlertStore,
				deps.AuditStore,
				cfg.S3.MultipartThreshold,
			)
			deps.Checks["s3"] = s3Client.Health
		}
		var pruner pipeline.Pruner
		if deps.AlertStore != nil {
			pruner = deps.AlertStore
		}
		deps.Archiver = pipeline.NewArchiver(blobArchiver, pruner, cfg.Archive.RetentionDays, logger)
	}

	// --- Price source ---
	var source domain.PriceSource = bithumb.NewClient(cfg.Bithumb.BaseURL, cfg.Bithumb.Quote, cfg.Evaluator.FetchTimeout.Duration)
	if deps.RateLimiter != nil && cfg.Bithumb.RateLimit > 0 {
		source = bithumb.NewRateLimitedSource(source, deps.RateLimiter, "bithumb", cfg.Bithumb.RateLimit, cfg.Bithumb.RateWindow.Duration)
	}
	if deps.PriceCache != nil || deps.SignalBus != nil {
		source = service.NewCachingSource(source, deps.PriceCache, deps.SignalBus, logger)
	}
	deps.Source = source

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPIURL,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) == 0 {
		logger.WarnContext(ctx, "no notification channel configured, alerts will only be logged")
		senders = append(senders, notify.NewLogSender(logger))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Evaluator ---
	opts := []evaluator.Option{evaluator.WithRecorder(deps.Alerts)}
	if cfg.Evaluator.Lock && deps.LockManager != nil {
		opts = append(opts, evaluator.WithLocker(deps.LockManager))
	}
	deps.Evaluator = evaluator.New(deps.Store, deps.Source, deps.Notifier, evaluator.Config{
		PollInterval:         cfg.Evaluator.PollInterval.Duration,
		InitialDelay:         cfg.Evaluator.InitialDelay.Duration,
		FetchTimeout:         cfg.Evaluator.FetchTimeout.Duration,
		SendTimeout:          cfg.Evaluator.SendTimeout.Duration,
		DrainTimeout:         cfg.Evaluator.DrainTimeout.Duration,
		MaxConcurrentFetches: cfg.Evaluator.MaxConcurrentFetches,
	}, logger, opts...)

	return deps, cleanup, nil
}

func seedsFromConfig(seeds []config.SubscriptionSeed) []service.Seed {
	out := make([]service.Seed, 0, len(seeds))
	for _, s := range seeds {
		out = append(out, service.Seed{
			OwnerID:         s.Owner,
			Symbol:          s.Symbol,
			ReferencePrice:  s.ReferencePrice,
			TargetReturnPct: s.TargetReturnPct,
		})
	}
	return out
}
