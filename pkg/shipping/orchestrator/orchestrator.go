// Package orchestrator coordinates shipping providers: it loads them from
// configuration, fans rate queries out with cache-first reads, books shipments
// with fallback, and routes tracking, cancellation and webhook traffic.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tournevent/courierbridge/pkg/shipping"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/tournevent/courierbridge/pkg/shipping/orchestrator"

// DefaultProviderTimeout bounds every single provider call.
const DefaultProviderTimeout = 10 * time.Second

// ConfigStore reads provider configuration records.
type ConfigStore interface {
	ListProviderConfigs(ctx context.Context) ([]shipping.ProviderConfig, error)
	GetProviderConfig(ctx context.Context, id string) (*shipping.ProviderConfig, error)
}

// EventLog is the append-only outcome log.
type EventLog interface {
	AppendEvent(ctx context.Context, event shipping.Event) error
}

// TrackingStore persists tracking history. GetTracking returns (nil, nil) when nothing is stored.
type TrackingStore interface {
	GetTracking(ctx context.Context, providerID, trackingNumber string) (*shipping.TrackingInfo, error)
	SaveTracking(ctx context.Context, info *shipping.TrackingInfo) error
}

// RateCache is the read-through quote cache. Implementations never fail the caller.
type RateCache interface {
	GetCachedRates(ctx context.Context, req shipping.RateRequest, providerID string) ([]shipping.Rate, bool)
	CacheRates(ctx context.Context, req shipping.RateRequest, providerID string, rates []shipping.Rate, ttl time.Duration)
	InvalidateProvider(ctx context.Context, providerID string) (int, error)
}

// Metrics receives call outcomes for observability.
type Metrics interface {
	RecordProviderCall(operation, provider, status string, duration time.Duration)
	RecordProviderError(provider, kind string)
	RecordCacheLookup(provider string, hit bool)
	RecordSelection(strategy string)
}

// Config holds orchestrator settings.
type Config struct {
	ProviderTimeout   time.Duration // per provider call; zero uses DefaultProviderTimeout
	FallbackProviders []string      // used when CreateShipmentWithFallback gets no explicit chain
	CacheTTL          time.Duration // zero defers to the cache's TTL policy
	Breaker           BreakerConfig
}

// Deps are the collaborators of the orchestrator. Only Configs is required.
type Deps struct {
	Configs  ConfigStore
	Events   EventLog
	Tracking TrackingStore
	Cache    RateCache
	Metrics  Metrics
	Logger   *otelzap.Logger
	Tracer   trace.Tracer
}

// Orchestrator is the single entry point of the shipping subsystem.
type Orchestrator struct {
	cfg      Config
	registry *shipping.Registry
	breakers *breakerSet

	configs  ConfigStore
	events   EventLog
	tracking TrackingStore
	cache    RateCache
	metrics  Metrics
	logger   *otelzap.Logger
	tracer   trace.Tracer

	factoriesMu sync.RWMutex
	factories   map[string]shipping.Factory

	trackingMu sync.Mutex // serializes read-merge-save of tracking history

	ready atomic.Bool
}

// New creates an orchestrator. Providers are not available until LoadProviders completes.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if deps.Logger == nil {
		deps.Logger = otelzap.New(zap.NewNop())
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Events == nil {
		deps.Events = nopEventLog{}
	}
	return &Orchestrator{
		cfg:       cfg,
		registry:  shipping.NewRegistry(),
		breakers:  newBreakerSet(cfg.Breaker, deps.Logger),
		configs:   deps.Configs,
		events:    deps.Events,
		tracking:  deps.Tracking,
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		tracer:    deps.Tracer,
		factories: make(map[string]shipping.Factory),
	}
}

// Ready reports whether LoadProviders has completed.
func (o *Orchestrator) Ready() bool {
	return o.ready.Load()
}

// Providers returns the ids of the active providers ordered by priority.
func (o *Orchestrator) Providers() []string {
	return o.registry.IDs()
}

func (o *Orchestrator) ensureReady() error {
	if !o.ready.Load() {
		return shipping.ErrNotInitialized
	}
	return nil
}

// LoadProviders builds and initializes every enabled provider from the config store.
// A provider whose factory is missing or whose initialization fails is logged and
// skipped. The orchestrator becomes ready once the pass completes.
func (o *Orchestrator) LoadProviders(ctx context.Context, factories map[string]shipping.Factory) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.LoadProviders")
	defer span.End()

	o.factoriesMu.Lock()
	for code, f := range factories {
		o.factories[code] = f
	}
	o.factoriesMu.Unlock()

	configs, err := o.configs.ListProviderConfigs(ctx)
	if err != nil {
		return fmt.Errorf("listing provider configs: %w", err)
	}

	providers := make(map[string]shipping.Provider, len(configs))
	priorities := make(map[string]int, len(configs))

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		p, err := o.build(ctx, cfg, nil)
		if err != nil {
			o.logger.Ctx(ctx).Warn("Skipping provider",
				zap.String("provider", cfg.ID),
				zap.String("code", cfg.Code),
				zap.Error(err),
			)
			continue
		}
		providers[cfg.ID] = p
		priorities[cfg.ID] = cfg.Priority
	}

	o.registry.Replace(providers, priorities)
	o.ready.Store(true)

	o.logger.Ctx(ctx).Info("Providers loaded",
		zap.Int("configured", len(configs)),
		zap.Int("active", len(providers)),
		zap.Strings("providers", o.registry.IDs()),
	)
	return nil
}

// ReloadProvider re-reads one provider's configuration. A disabled or deleted
// provider is removed; an enabled one is rebuilt and swapped in. A nil factory uses the one
// registered for the config's code. On failure the current instance stays active.
func (o *Orchestrator) ReloadProvider(ctx context.Context, id string, factory shipping.Factory) error {
	if err := o.ensureReady(); err != nil {
		return err
	}
	ctx, span := o.tracer.Start(ctx, "orchestrator.ReloadProvider")
	defer span.End()

	cfg, err := o.configs.GetProviderConfig(ctx, id)
	deleted := errors.Is(err, shipping.ErrProviderNotFound)
	if err != nil && !deleted {
		return fmt.Errorf("reading provider config %s: %w", id, err)
	}

	// A deleted record is treated like a disabled one.
	if deleted || !cfg.Enabled {
		removed := o.registry.Remove(id)
		if deleted && !removed {
			return fmt.Errorf("reading provider config %s: %w", id, err)
		}
		o.breakers.reset(id)
		o.invalidateCache(ctx, id)
		o.logger.Ctx(ctx).Info("Provider disabled",
			zap.String("provider", id),
			zap.Bool("was_active", removed),
			zap.Bool("config_deleted", deleted),
		)
		return nil
	}

	p, err := o.build(ctx, *cfg, factory)
	if err != nil {
		return err
	}
	o.registry.Register(p, cfg.Priority)
	o.breakers.reset(id)
	o.invalidateCache(ctx, id)

	o.logger.Ctx(ctx).Info("Provider reloaded",
		zap.String("provider", id),
		zap.Int("priority", cfg.Priority),
	)
	return nil
}

func (o *Orchestrator) build(ctx context.Context, cfg shipping.ProviderConfig, factory shipping.Factory) (shipping.Provider, error) {
	if factory == nil {
		o.factoriesMu.RLock()
		factory = o.factories[cfg.Code]
		o.factoriesMu.RUnlock()
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: no factory for provider code %q", shipping.ErrConfiguration, cfg.Code)
	}

	p, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("building provider %s: %w", cfg.ID, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
	defer cancel()
	if err := p.Initialize(initCtx, cfg); err != nil {
		return nil, fmt.Errorf("initializing provider %s: %w", cfg.ID, err)
	}
	return p, nil
}

func (o *Orchestrator) invalidateCache(ctx context.Context, providerID string) {
	if o.cache == nil {
		return
	}
	if _, err := o.cache.InvalidateProvider(ctx, providerID); err != nil {
		o.logger.Ctx(ctx).Warn("Rate cache invalidation failed",
			zap.String("provider", providerID),
			zap.Error(err),
		)
	}
}

// ============================================================================
// No-op collaborators
// ============================================================================

type nopMetrics struct{}

func (nopMetrics) RecordProviderCall(string, string, string, time.Duration) {}
func (nopMetrics) RecordProviderError(string, string)                     {}
func (nopMetrics) RecordCacheLookup(string, bool)                         {}
func (nopMetrics) RecordSelection(string)                                 {}

type nopEventLog struct{}

func (nopEventLog) AppendEvent(context.Context, shipping.Event) error { return nil }
