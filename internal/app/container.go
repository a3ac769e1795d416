// Package app is the composition root: it turns configuration into a wired
// availability resolver and the infrastructure behind it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/robpanda/panda-crm/internal/availability/application"
	"github.com/robpanda/panda-crm/internal/availability/domain"
	"github.com/robpanda/panda-crm/internal/availability/infrastructure/cache"
	"github.com/robpanda/panda-crm/internal/availability/infrastructure/caldav"
	"github.com/robpanda/panda-crm/internal/availability/infrastructure/credentials"
	"github.com/robpanda/panda-crm/internal/availability/infrastructure/google"
	"github.com/robpanda/panda-crm/internal/availability/infrastructure/icsfeed"
	"github.com/robpanda/panda-crm/internal/availability/infrastructure/microsoft"
	"github.com/robpanda/panda-crm/internal/availability/infrastructure/persistence"
	"github.com/robpanda/panda-crm/internal/availability/infrastructure/recurrence"
	"github.com/robpanda/panda-crm/internal/availability/infrastructure/resilience"
	"github.com/robpanda/panda-crm/internal/shared/infrastructure/database"
	"github.com/robpanda/panda-crm/internal/shared/infrastructure/migrations"
	"github.com/robpanda/panda-crm/internal/shared/infrastructure/outbox"
	"github.com/robpanda/panda-crm/pkg/config"
	"github.com/robpanda/panda-crm/pkg/observability"
)

// MetricsNamespace prefixes every Prometheus metric.
const MetricsNamespace = "panda"

// Container holds all application dependencies.
type Container struct {
	Config  *config.Config
	Logger  *slog.Logger
	DB      *database.DB
	Redis   *redis.Client
	Metrics *observability.PrometheusMetrics
	Health  *observability.HealthRegistry

	Store       *persistence.Store
	Credentials *credentials.Service
	Outbox      *outbox.SQLStore
	Breakers    map[domain.ProviderType]*resilience.Provider
	External    *application.ExternalCalendarSource
	Generator   *domain.SlotGenerator
	Resolver    *application.Resolver
}

// NewContainer connects to the database (running migrations), the optional
// Redis cache and builds the resolver. Redis is optional outside production.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{
		Config:   cfg,
		Logger:   logger,
		Metrics:  observability.NewPrometheusMetrics(MetricsNamespace),
		Health:   observability.NewHealthRegistry(),
		Breakers: make(map[domain.ProviderType]*resilience.Provider),
	}

	db, err := database.Open(ctx, database.Config{
		Driver:     database.Driver(cfg.DatabaseDriver),
		URL:        cfg.DatabaseURL,
		SQLitePath: cfg.SQLitePath,
	})
	if err != nil {
		return nil, err
	}
	c.DB = db
	logger.Info("connected to database", "driver", db.Driver())

	applied, err := migrations.Run(ctx, db)
	if err != nil {
		c.Close()
		return nil, err
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", "migrations", applied)
	}
	c.Health.Register("database", observability.PingChecker("database", observability.HealthStatusUnhealthy, db.PingContext))

	if err := c.connectRedis(ctx); err != nil {
		c.Close()
		return nil, err
	}

	c.Store = persistence.NewStore(db)
	if err := c.initCredentials(); err != nil {
		c.Close()
		return nil, err
	}

	c.External = application.NewExternalCalendarSource(c.providers(), logger).WithTimeout(cfg.ProviderTimeout)
	c.Generator = cfg.Scheduling.SlotGenerator()
	c.Resolver = application.NewResolver(
		c.Store,
		c.External,
		c.Generator,
		logger,
		application.NewInternalBookingSource(c.Store, logger),
		application.NewManualBlockSource(c.Store, recurrence.NewExpander(), logger),
	).WithMetrics(c.Metrics).WithConcurrency(cfg.FetchConcurrency)

	if cfg.EventsEnabled {
		c.Outbox = outbox.NewSQLStore(db)
		c.Resolver.WithPublisher(outbox.NewWriter(c.Outbox))
	}

	logger.Info("availability container ready",
		"providers", c.External.Providers(),
		"cache", c.cacheMode(),
		"events", cfg.EventsEnabled,
		"scheduling", cfg.Scheduling.String(),
	)
	return c, nil
}

func (c *Container) connectRedis(ctx context.Context) error {
	if c.Config.RedisURL == "" {
		return nil
	}
	opt, err := redis.ParseURL(c.Config.RedisURL)
	if err != nil {
		if c.Config.IsProduction() {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		c.Logger.Warn("invalid Redis URL, free/busy cache falls back to memory", "error", err)
		return nil
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if c.Config.IsProduction() {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		c.Logger.Warn("Redis not available, free/busy cache falls back to memory", "error", err)
		return nil
	}
	c.Redis = client
	c.Health.Register("redis", observability.PingChecker("redis", observability.HealthStatusDegraded, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}))
	c.Logger.Info("connected to Redis")
	return nil
}

func (c *Container) initCredentials() error {
	cfg := c.Config
	if cfg.EncryptionKey == "" {
		if cfg.IsProduction() {
			return errors.New("PANDA_ENCRYPTION_KEY is required in production")
		}
		c.Logger.Warn("no encryption key, only ICS feeds can be queried")
		return nil
	}
	enc, err := credentials.NewAESGCMFromBase64Key(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("encryption key: %w", err)
	}
	svc, err := credentials.NewService(c.Store, enc, c.Logger)
	if err != nil {
		return err
	}
	svc.WithCacheTTL(cfg.CredentialTTL)

	if cfg.GoogleClientID != "" {
		if err := svc.RegisterOAuth(domain.ProviderGoogle, cfg.GoogleClientID, cfg.GoogleClientSecret,
			google.AuthURL, google.TokenURL, google.DefaultScopes); err != nil {
			return err
		}
	}
	if cfg.MicrosoftClientID != "" {
		if err := svc.RegisterOAuth(domain.ProviderMicrosoft, cfg.MicrosoftClientID, cfg.MicrosoftSecret,
			microsoft.AuthURL, microsoft.TokenURLForTenant(cfg.MicrosoftTenantID), microsoft.DefaultScopes); err != nil {
			return err
		}
	}
	c.Credentials = svc
	return nil
}

// providers builds every configured provider, each behind a circuit breaker
// and, when enabled, the free/busy cache.
func (c *Container) providers() map[domain.ProviderType]domain.FreeBusyProvider {
	cfg := c.Config
	raw := map[domain.ProviderType]domain.FreeBusyProvider{
		domain.ProviderICS: icsfeed.NewProvider(c.Logger).
			WithTimeout(cfg.ICSRequestTimeout).
			WithLocation(cfg.Scheduling.Location),
	}
	if c.Credentials != nil {
		raw[domain.ProviderCalDAV] = caldav.NewProvider(c.Credentials, c.Logger).WithTimeout(cfg.ProviderTimeout)
		if cfg.GoogleClientID != "" {
			raw[domain.ProviderGoogle] = google.NewProviderWithBaseURL(c.Credentials, c.Logger, cfg.GoogleBaseURL).
				WithTimeout(cfg.ProviderTimeout)
		}
		if cfg.MicrosoftClientID != "" {
			raw[domain.ProviderMicrosoft] = microsoft.NewProviderWithBaseURL(c.Credentials, c.Logger, cfg.MicrosoftBaseURL).
				WithTimeout(cfg.ProviderTimeout)
		}
	}

	breakerCfg := resilience.DefaultBreakerConfig()
	if cfg.BreakerMaxFailures > 0 {
		breakerCfg.FailureThreshold = cfg.BreakerMaxFailures
	}
	if cfg.BreakerOpenTimeout > 0 {
		breakerCfg.Timeout = cfg.BreakerOpenTimeout
	}

	store := c.cacheStore()
	out := make(map[domain.ProviderType]domain.FreeBusyProvider, len(raw))
	for kind, p := range raw {
		breaker := resilience.NewProvider(p, breakerCfg, c.Logger).WithMetrics(c.Metrics)
		c.Breakers[kind] = breaker
		if store == nil {
			out[kind] = breaker
			continue
		}
		out[kind] = cache.NewProvider(breaker, store, c.Logger).
			WithTTL(cfg.CacheTTL).
			WithMetrics(c.Metrics)
	}
	return out
}

func (c *Container) cacheStore() cache.Store {
	switch {
	case c.Redis != nil:
		return cache.NewRedisStore(c.Redis)
	case c.Config.CacheEnabled:
		return cache.NewMemoryStore()
	default:
		return nil
	}
}

func (c *Container) cacheMode() string {
	switch {
	case c.Redis != nil:
		return "redis"
	case c.Config.CacheEnabled:
		return "memory"
	default:
		return "off"
	}
}

// Close cleans up all resources.
func (c *Container) Close() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("error closing Redis connection", "error", err)
		} else {
			c.Logger.Info("Redis connection closed")
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.Logger.Warn("error closing database", "error", err)
		} else {
			c.Logger.Info("database connection closed", "driver", c.DB.Driver())
		}
	}
}
