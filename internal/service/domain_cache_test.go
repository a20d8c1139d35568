package service

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newCacheFixture(t *testing.T, ttl time.Duration) (DomainCache, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisDomainCache(client, "", ttl, testLogger()), server
}

func TestRedisDomainCacheReplaceAndContains(t *testing.T) {
	cache, _ := newCacheFixture(t, time.Minute)
	ctx := context.Background()

	require.False(t, cache.Contains(ctx, "example.com"))

	cache.Replace(ctx, []string{"example.com", "shop.example.org"})
	require.True(t, cache.Contains(ctx, "example.com"))
	require.True(t, cache.Contains(ctx, "shop.example.org"))
	require.False(t, cache.Contains(ctx, "other.com"))

	cache.Replace(ctx, []string{"fresh.io"})
	require.True(t, cache.Contains(ctx, "fresh.io"))
	require.False(t, cache.Contains(ctx, "example.com"))
}

func TestRedisDomainCacheExpires(t *testing.T) {
	cache, server := newCacheFixture(t, time.Minute)
	ctx := context.Background()

	cache.Replace(ctx, []string{"example.com"})
	require.True(t, cache.Contains(ctx, "example.com"))

	server.FastForward(2 * time.Minute)
	require.False(t, cache.Contains(ctx, "example.com"))
}

func TestRedisDomainCacheIgnoresEmptyReplace(t *testing.T) {
	cache, _ := newCacheFixture(t, time.Minute)
	ctx := context.Background()

	cache.Replace(ctx, []string{"example.com"})
	cache.Replace(ctx, nil)

	require.True(t, cache.Contains(ctx, "example.com"))
}

func TestNoopDomainCacheAlwaysMisses(t *testing.T) {
	cache := NewNoopDomainCache()
	ctx := context.Background()

	cache.Replace(ctx, []string{"example.com"})
	require.False(t, cache.Contains(ctx, "example.com"))
}
