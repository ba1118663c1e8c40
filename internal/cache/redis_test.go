package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-brasil/sqlrt/internal/cachekey"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache("orders", client, nil), mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	c, mr := newTestRedisCache(t)
	key := cachekey.New("orders.byCustomer", 0, 10, "SELECT 1", int64(42))

	rows := []any{
		map[string]any{"id": int64(1), "status": "open"},
		map[string]any{"id": int64(2), "status": "closed"},
	}
	c.Put(key, rows)
	assert.True(t, mr.Exists("sqlrt:cache:orders"))
	assert.Equal(t, 1, c.Size())

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, rows, got)

	_, ok = c.Get(cachekey.New("orders.byCustomer", 0, 10, "SELECT 1", int64(43)))
	assert.False(t, ok)

	prev, ok := c.Remove(key)
	assert.True(t, ok)
	assert.Equal(t, rows, prev)
	assert.Zero(t, c.Size())
}

func TestRedisCacheSkipsSelfReferencingValues(t *testing.T) {
	c, mr := newTestRedisCache(t)
	row := map[string]any{"id": int64(1)}
	row["self"] = row

	c.Put(cachekey.New("orders.byId", int64(1)), []any{row})
	assert.False(t, mr.Exists("sqlrt:cache:orders"))
	assert.Zero(t, c.Size())
}

func TestRedisCacheClearAndTTL(t *testing.T) {
	c, mr := newTestRedisCache(t)
	require.NoError(t, c.SetProperty("ttl", "10m"))
	require.NoError(t, c.SetProperty("prefix", "app:"))
	assert.Equal(t, "app:orders", c.Key())

	c.Put("a", "1")
	c.Put("b", "2")
	assert.Equal(t, 10*time.Minute, mr.TTL("app:orders"))

	c.Clear()
	assert.False(t, mr.Exists("app:orders"))
	assert.Zero(t, c.Size())
}

func TestRedisCacheFallsBackWhenUnavailable(t *testing.T) {
	c, mr := newTestRedisCache(t)
	c.Put("a", "1")

	mr.Close()
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.True(t, c.IsFallback())

	// in fallback mode operations are silent no-ops
	c.Put("b", "2")
	assert.Zero(t, c.Size())
}

func TestBuilderRedisImplementation(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	b := NewBuilder("orders")
	b.Implementation = ImplRedis
	b.Redis = client
	b.Properties = map[string]string{"ttl": "1m"}

	c, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"logging", "redis"}, Describe(c))

	c.Put("k", "v")
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
	assert.Equal(t, time.Minute, mr.TTL("sqlrt:cache:orders"))
}

func TestNewRedisClientFailsFast(t *testing.T) {
	_, err := NewRedisClient(context.Background(), RedisOptions{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	assert.Error(t, err)
}
