// Package ratecache caches provider quotes keyed by route, weight and payment mode.
// The cache is advisory: a store failure behaves exactly like a miss.
package ratecache

import (
	"context"
	"time"

	"github.com/tournevent/courierbridge/pkg/shipping"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Cache is a TTL-keyed read-through cache of provider quotes.
type Cache struct {
	store  Store
	policy TTLPolicy
	now    func() time.Time
	logger *otelzap.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTLPolicy replaces the route classifier deciding entry lifetimes.
func WithTTLPolicy(p TTLPolicy) Option {
	return func(c *Cache) { c.policy = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used for swallowed store errors.
func WithLogger(l *otelzap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a cache over store. The default policy is MetroTTLPolicy with the
// default metro prefixes.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		policy: MetroTTLPolicy(DefaultMetroPrefixes, DefaultMetroTTL, DefaultTTL),
		now:    time.Now,
		logger: otelzap.New(zap.NewNop()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetCachedRates returns the fresh quotes cached for the request and provider.
// Misses, expired entries and store errors all report ok=false.
func (c *Cache) GetCachedRates(ctx context.Context, req shipping.RateRequest, providerID string) ([]shipping.Rate, bool) {
	key := KeyFor(req, providerID)
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Ctx(ctx).Warn("Rate cache read failed",
			zap.String("key", key.String()),
			zap.Error(err),
		)
		return nil, false
	}
	if entry == nil || !entry.Valid(c.now()) {
		return nil, false
	}
	rates := make([]shipping.Rate, len(entry.Rates))
	copy(rates, entry.Rates)
	return rates, true
}

// CacheRates stores quotes for the request and provider. A ttl of zero defers
// to the TTL policy. Empty quote lists are not cached; write failures are logged
// and never returned.
func (c *Cache) CacheRates(ctx context.Context, req shipping.RateRequest, providerID string, rates []shipping.Rate, ttl time.Duration) {
	if len(rates) == 0 {
		return
	}
	if ttl <= 0 {
		ttl = c.policy(req)
	}
	now := c.now()
	stored := make([]shipping.Rate, len(rates))
	copy(stored, rates)
	entry := Entry{
		Key:       KeyFor(req, providerID),
		Rates:     stored,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := c.store.Set(ctx, entry); err != nil {
		c.logger.Ctx(ctx).Warn("Rate cache write failed",
			zap.String("key", entry.Key.String()),
			zap.Error(err),
		)
	}
}

// TTLFor returns the lifetime the policy assigns to a request.
func (c *Cache) TTLFor(req shipping.RateRequest) time.Duration {
	return c.policy(req)
}

// InvalidateProvider removes every entry of a provider.
func (c *Cache) InvalidateProvider(ctx context.Context, providerID string) (int, error) {
	return c.store.DeleteProvider(ctx, providerID)
}

// InvalidateRoute removes every entry of a route across providers.
func (c *Cache) InvalidateRoute(ctx context.Context, fromPostalCode, toPostalCode string) (int, error) {
	return c.store.DeleteRoute(ctx, fromPostalCode, toPostalCode)
}

// PurgeExpired removes entries whose expiry has passed.
func (c *Cache) PurgeExpired(ctx context.Context) (int, error) {
	return c.store.DeleteExpired(ctx, c.now())
}

// Clear removes every entry.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	return c.store.Clear(ctx)
}
