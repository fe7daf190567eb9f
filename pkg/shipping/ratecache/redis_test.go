package ratecache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courierbridge/pkg/shipping"
	"github.com/tournevent/courierbridge/pkg/shipping/ratecache"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *ratecache.RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, ratecache.NewRedisStore(client, "")
}

func TestRedisStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	_, store := setupRedis(t)
	cache := ratecache.New(store)
	req := sampleRequest()

	_, ok := cache.GetCachedRates(ctx, req, "p1")
	assert.False(t, ok)

	cache.CacheRates(ctx, req, "p1", sampleRates(), time.Hour)

	got, ok := cache.GetCachedRates(ctx, req, "p1")
	require.True(t, ok)
	assert.Equal(t, sampleRates(), got)
}

func TestRedisStore_NativeExpiry(t *testing.T) {
	ctx := context.Background()
	mr, store := setupRedis(t)
	cache := ratecache.New(store)
	req := sampleRequest()

	cache.CacheRates(ctx, req, "p1", sampleRates(), time.Minute)
	assert.True(t, mr.Exists("ratecache:"+ratecache.KeyFor(req, "p1").String()))

	mr.FastForward(2 * time.Minute)

	_, ok := cache.GetCachedRates(ctx, req, "p1")
	assert.False(t, ok)
}

func TestRedisStore_Deletes(t *testing.T) {
	ctx := context.Background()
	_, store := setupRedis(t)
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

	n, err = cache.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = cache.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisStore_DeletesMatchLiterally(t *testing.T) {
	ctx := context.Background()
	mr, store := setupRedis(t)
	cache := ratecache.New(store)
	req := sampleRequest()

	cache.CacheRates(ctx, req, "p*", sampleRates(), time.Hour)
	cache.CacheRates(ctx, req, "p1", sampleRates(), time.Hour)
	cache.CacheRates(ctx, req, "p[12]", sampleRates(), time.Hour)

	n, err := cache.InvalidateProvider(ctx, "p*")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = cache.InvalidateProvider(ctx, "p[12]")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.True(t, mr.Exists("ratecache:"+ratecache.KeyFor(req, "p1").String()))

	n, err = cache.InvalidateRoute(ctx, " 110001", "400001 ")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
