package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tournevent/courierbridge/internal/config"
	"github.com/tournevent/courierbridge/internal/store"
	"github.com/tournevent/courierbridge/internal/telemetry"
	"github.com/tournevent/courierbridge/pkg/shipping"
	"github.com/tournevent/courierbridge/pkg/shipping/mock"
	"github.com/tournevent/courierbridge/pkg/shipping/ratecache"
	"github.com/tournevent/courierbridge/pkg/shipping/shiprocket"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	shiprocketProviderID = "shiprocket"
	mockProviderID       = "mock"
)

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func initLogger(cfg *config.Config) (*otelzap.Logger, error) {
	return telemetry.NewLogger(cfg.LogLevel, cfg.ServiceName)
}

func initTracer(ctx context.Context, cfg *config.Config) (trace.Tracer, func(context.Context) error, error) {
	if !cfg.OTELEnabled {
		return otel.Tracer(cfg.ServiceName), func(context.Context) error { return nil }, nil
	}
	return telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.Version, cfg.Attributes()...)
}

// openStore returns the persistence collaborator. With a database URL the gorm
// store is returned too, so the rate cache can share its connection.
func openStore(ctx context.Context, cfg *config.Config, logger *otelzap.Logger) (store.Store, *store.GormStore, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("No DATABASE_URL set, using in-memory store")
		return store.NewMemoryStore(), nil, nil
	}

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	gs := store.NewGormStore(db)
	if err := gs.Migrate(ctx); err != nil {
		return nil, nil, err
	}
	return gs, gs, nil
}

// openRateCache builds the rate cache on the configured backend. The returned
// closer releases backend connections.
func openRateCache(ctx context.Context, cfg *config.Config, gs *store.GormStore, logger *otelzap.Logger) (*ratecache.Cache, func() error, error) {
	var (
		backend ratecache.Store
		closer  = func() error { return nil }
	)

	switch cfg.CacheBackend {
	case config.CacheRedis:
		client, err := ratecache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		backend = ratecache.NewRedisStore(client, "")
		closer = client.Close
	case config.CachePostgres:
		if gs == nil {
			return nil, nil, errors.New("postgres rate cache requires DATABASE_URL")
		}
		backend = gs.RateStore()
	default:
		backend = ratecache.NewMemoryStore()
	}

	cache := ratecache.New(backend,
		ratecache.WithTTLPolicy(ratecache.MetroTTLPolicy(cfg.CacheMetroPrefixes, cfg.CacheMetroTTL, cfg.CacheDefaultTTL)),
		ratecache.WithLogger(logger),
	)
	return cache, closer, nil
}

func providerFactories(cfg *config.Config, logger *otelzap.Logger, tracer trace.Tracer) map[string]shipping.Factory {
	return map[string]shipping.Factory{
		shiprocket.Code: shiprocket.NewFactory(shiprocket.Config{
			BaseURL:           cfg.ShiprocketBaseURL,
			Timeout:           cfg.ShiprocketTimeout,
			RequestsPerSecond: cfg.ShiprocketRateLimit,
			UseMock:           cfg.ShiprocketUseMock,
		}, logger, tracer),
		mock.Code: mock.Factory,
	}
}

// seedProviderConfigs writes configuration records for providers configured
// through the environment. Records already in the store are left untouched so
// that edits made there survive a restart.
func seedProviderConfigs(ctx context.Context, cfg *config.Config, st store.Store, logger *otelzap.Logger) error {
	var seeds []shipping.ProviderConfig

	if creds := cfg.ShiprocketCredentials(); creds != nil {
		seeds = append(seeds, shipping.ProviderConfig{
			ID:            shiprocketProviderID,
			Code:          shiprocket.Code,
			DisplayName:   "Shiprocket",
			Priority:      1,
			Enabled:       true,
			DeliveryModes: []shipping.DeliveryMode{shipping.DeliverySurface, shipping.DeliveryAir},
			Credentials:   creds,
		})
	}
	if cfg.MockProviderEnabled {
		seeds = append(seeds, shipping.ProviderConfig{
			ID:          mockProviderID,
			Code:        mock.Code,
			DisplayName: "Mock Courier",
			Priority:    100,
			Enabled:     true,
		})
	}

	for _, seed := range seeds {
		_, err := st.GetProviderConfig(ctx, seed.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, shipping.ErrProviderNotFound) {
			return fmt.Errorf("reading provider config %s: %w", seed.ID, err)
		}
		if err := st.SaveProviderConfig(ctx, seed); err != nil {
			return fmt.Errorf("seeding provider config %s: %w", seed.ID, err)
		}
		logger.Info("Seeded provider config",
			zap.String("provider", seed.ID),
			zap.String("code", seed.Code),
		)
	}
	return nil
}

// runCacheJanitor purges expired rate-cache entries until ctx is done.
func runCacheJanitor(ctx context.Context, cache *ratecache.Cache, interval time.Duration, logger *otelzap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := cache.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("Rate cache janitor failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Debug("Rate cache janitor purged entries", zap.Int("removed", removed))
			}
		}
	}
}
