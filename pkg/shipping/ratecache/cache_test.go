package ratecache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courierbridge/pkg/shipping"
	"github.com/tournevent/courierbridge/pkg/shipping/ratecache"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func sampleRequest() shipping.RateRequest {
	return shipping.RateRequest{
		FromPostalCode: "110001",
		ToPostalCode:   "400001",
		Weight:         1.5,
	}
}

func sampleRates() []shipping.Rate {
	return []shipping.Rate{
		{ProviderID: "p1", CourierName: "Delhivery Surface", Cost: 95, EstimatedDeliveryDays: 5, Available: true},
		{ProviderID: "p1", CourierName: "Bluedart Air", Cost: 140, EstimatedDeliveryDays: 2, Available: true},
	}
}

// failingStore fails every operation.
type failingStore struct{}

var errStore = errors.New("store down")

func (failingStore) Get(context.Context, ratecache.Key) (*ratecache.Entry, error) { return nil, errStore }
func (failingStore) Set(context.Context, ratecache.Entry) error                    { return errStore }
func (failingStore) DeleteProvider(context.Context, string) (int, error)           { return 0, errStore }
func (failingStore) DeleteRoute(context.Context, string, string) (int, error)      { return 0, errStore }
func (failingStore) DeleteExpired(context.Context, time.Time) (int, error)         { return 0, errStore }
func (failingStore) Clear(context.Context) (int, error)                            { return 0, errStore }

func TestKeyFor_Deterministic(t *testing.T) {
	a := ratecache.KeyFor(shipping.RateRequest{FromPostalCode: "110001", ToPostalCode: "400001", Weight: 1.004}, "p1")
	b := ratecache.KeyFor(shipping.RateRequest{FromPostalCode: " 110001", ToPostalCode: "400001 ", Weight: 1.0}, "p1")

	assert.Equal(t, a, b)
	assert.Equal(t, "p1:110001:400001:1.00:prepaid", a.String())
}

func TestKeyFor_DistinguishesPaymentModeAndProvider(t *testing.T) {
	req := sampleRequest()
	cod := req
	cod.CashOnDelivery = true

	assert.NotEqual(t, ratecache.KeyFor(req, "p1"), ratecache.KeyFor(cod, "p1"))
	assert.NotEqual(t, ratecache.KeyFor(req, "p1"), ratecache.KeyFor(req, "p2"))
	assert.Equal(t, "p1:110001:400001:1.50:cod", ratecache.KeyFor(cod, "p1").String())
}

func TestMetroTTLPolicy(t *testing.T) {
	policy := ratecache.MetroTTLPolicy(ratecache.DefaultMetroPrefixes, 12*time.Hour, 24*time.Hour)

	assert.Equal(t, 12*time.Hour, policy(shipping.RateRequest{FromPostalCode: "110001", ToPostalCode: "560034"}))
	assert.Equal(t, 24*time.Hour, policy(shipping.RateRequest{FromPostalCode: "110001", ToPostalCode: "248001"}))
	assert.Equal(t, 24*time.Hour, policy(shipping.RateRequest{FromPostalCode: "302001", ToPostalCode: "248001"}))
}

func TestCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	cache := ratecache.New(ratecache.NewMemoryStore())
	req := sampleRequest()

	_, ok := cache.GetCachedRates(ctx, req, "p1")
	assert.False(t, ok)

	cache.CacheRates(ctx, req, "p1", sampleRates(), time.Hour)

	got, ok := cache.GetCachedRates(ctx, req, "p1")
	require.True(t, ok)
	assert.Equal(t, sampleRates(), got)

	_, ok = cache.GetCachedRates(ctx, req, "p2")
	assert.False(t, ok)
}

func TestCache_WeightWithinPrecisionHits(t *testing.T) {
	ctx := context.Background()
	cache := ratecache.New(ratecache.NewMemoryStore())
	req := sampleRequest()
	cache.CacheRates(ctx, req, "p1", sampleRates(), time.Hour)

	near := req
	near.Weight = 1.501
	_, ok := cache.GetCachedRates(ctx, near, "p1")
	assert.True(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	cache := ratecache.New(ratecache.NewMemoryStore(), ratecache.WithClock(clock.Now))
	req := sampleRequest()

	cache.CacheRates(ctx, req, "p1", sampleRates(), time.Hour)

	clock.Advance(59 * time.Minute)
	_, ok := cache.GetCachedRates(ctx, req, "p1")
	assert.True(t, ok)

	clock.Advance(time.Minute)
	_, ok = cache.GetCachedRates(ctx, req, "p1")
	assert.False(t, ok, "entry must expire at its deadline")
}

func TestCache_PolicyTTL(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	cache := ratecache.New(ratecache.NewMemoryStore(),
		ratecache.WithClock(clock.Now),
		ratecache.WithTTLPolicy(ratecache.FixedTTL(2*time.Hour)),
	)
	req := sampleRequest()

	cache.CacheRates(ctx, req, "p1", sampleRates(), 0)
	assert.Equal(t, 2*time.Hour, cache.TTLFor(req))

	clock.Advance(90 * time.Minute)
	_, ok := cache.GetCachedRates(ctx, req, "p1")
	assert.True(t, ok)

	clock.Advance(time.Hour)
	_, ok = cache.GetCachedRates(ctx, req, "p1")
	assert.False(t, ok)
}

func TestCache_EmptyRatesNotCached(t *testing.T) {
	ctx := context.Background()
	store := ratecache.NewMemoryStore()
	cache := ratecache.New(store)

	cache.CacheRates(ctx, sampleRequest(), "p1", nil, time.Hour)

	assert.Equal(t, 0, store.Len())
}

func TestCache_ReturnedSliceIsCopy(t *testing.T) {
	ctx := context.Background()
	cache := ratecache.New(ratecache.NewMemoryStore())
	req := sampleRequest()
	cache.CacheRates(ctx, req, "p1", sampleRates(), time.Hour)

	got, ok := cache.GetCachedRates(ctx, req, "p1")
	require.True(t, ok)
	got[0].Cost = 1

	again, _ := cache.GetCachedRates(ctx, req, "p1")
	assert.Equal(t, 95.0, again[0].Cost)
}

func TestCache_StoreFailureIsMiss(t *testing.T) {
	ctx := context.Background()
	cache := ratecache.New(failingStore{})

	assert.NotPanics(t, func() {
		cache.CacheRates(ctx, sampleRequest(), "p1", sampleRates(), time.Hour)
	})
	_, ok := cache.GetCachedRates(ctx, sampleRequest(), "p1")
	assert.False(t, ok)
}

func TestCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	store := ratecache.NewMemoryStore()
	cache := ratecache.New(store)
	req := sampleRequest()
	other := shipping.RateRequest{FromPostalCode: "560001", ToPostalCode: "600001", Weight: 2}

	cache.CacheRates(ctx, req, "p1", sampleRates(), time.Hour)
	cache.CacheRates(ctx, req, "p2", sampleRates(), time.Hour)
	cache.CacheRates(ctx, other, "p1", sampleRates(), time.Hour)

	n, err := cache.InvalidateProvider(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = cache.InvalidateRoute(ctx, "110001", "400001")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := cache.GetCachedRates(ctx, other, "p1")
	assert.True(t, ok)

	n, err = cache.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, store.Len())
}

func TestCache_InvalidateRouteTrimsPostalCodes(t *testing.T) {
	ctx := context.Background()
	store := ratecache.NewMemoryStore()
	cache := ratecache.New(store)
	req := shipping.RateRequest{FromPostalCode: " 110001", ToPostalCode: "400001 ", Weight: 1.5}

	cache.CacheRates(ctx, req, "p1", sampleRates(), time.Hour)
	_, ok := cache.GetCachedRates(ctx, sampleRequest(), "p1")
	require.True(t, ok)

	n, err := cache.InvalidateRoute(ctx, "110001 ", " 400001")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, store.Len())
}

func TestCache_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := ratecache.NewMemoryStore()
	cache := ratecache.New(store, ratecache.WithClock(clock.Now))
	other := shipping.RateRequest{FromPostalCode: "560001", ToPostalCode: "600001", Weight: 2}

	cache.CacheRates(ctx, sampleRequest(), "p1", sampleRates(), time.Hour)
	cache.CacheRates(ctx, other, "p1", sampleRates(), 3*time.Hour)

	clock.Advance(2 * time.Hour)
	n, err := cache.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, store.Len())
}
