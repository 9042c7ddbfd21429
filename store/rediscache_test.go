package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T) *RedisCache {
	t.Helper()
	srv := miniredis.RunT(t)
	cache, err := NewRedisCache(context.Background(), RedisCacheConfig{
		RedisURL: "redis://" + srv.Addr() + "/0",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestRedisCache_GetOnMissReturnsFalse(t *testing.T) {
	cache := newTestRedisCache(t)
	_, ok, err := cache.Get(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_PutThenGet_RoundTrips(t *testing.T) {
	cache := newTestRedisCache(t)
	ctx := context.Background()
	vector := []float32{0.1, 0.2, 0.3, -0.4}

	require.NoError(t, cache.Put(ctx, "doc-1", vector))

	got, ok, err := cache.Get(ctx, "doc-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, vector, got)
}

func TestRedisCache_KeyPrefixIsolatesNamespaces(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	a, err := NewRedisCache(ctx, RedisCacheConfig{RedisURL: "redis://" + srv.Addr() + "/0", KeyPrefix: "a:"})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisCache(ctx, RedisCacheConfig{RedisURL: "redis://" + srv.Addr() + "/0", KeyPrefix: "b:"})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Put(ctx, "k", []float32{1}))
	_, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
