package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/joao-brasil/sqlrt/internal/metrics"
)

const (
	defaultRedisTimeout = 2 * time.Second
	fallbackRetry       = 5 * time.Second
)

// RedisOptions configures the Redis client used by RedisCache.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRedisClient creates a client and checks connectivity.
func NewRedisClient(ctx context.Context, opts RedisOptions) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		metrics.RedisOperations.WithLabelValues("ping", "error").Inc()
		_ = client.Close()
		return nil, errors.Wrapf(err, "redis ping %s", opts.Addr)
	}
	metrics.RedisOperations.WithLabelValues("ping", "ok").Inc()
	return client, nil
}

// RedisCache is a base store keeping one Redis hash per namespace. Values are
// msgpack encoded and come back as generic values (maps, slices, int64,
// float64, string, bool).
//
// When Redis fails the store enters fallback mode and behaves as an empty
// cache, retrying Redis at most every few seconds. Redis errors are never
// returned to callers.
type RedisCache struct {
	id      string
	client  redis.UniversalClient
	key     string
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger

	fallbackMode atomic.Bool
	lastFailure  atomic.Int64 // unix nanos
}

// NewRedisCache creates a store for namespace id on client.
func NewRedisCache(id string, client redis.UniversalClient, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{
		id:      id,
		client:  client,
		key:     redisKey("", id),
		timeout: defaultRedisTimeout,
		logger:  logger,
	}
}

func redisKey(prefix, id string) string {
	if prefix == "" {
		prefix = "sqlrt:cache:"
	}
	return prefix + id
}

// SetProperty accepts prefix, ttl and timeout.
func (c *RedisCache) SetProperty(name, value string) error {
	switch name {
	case "prefix":
		c.key = redisKey(value, c.id)
	case "ttl":
		d, err := parseDuration(name, value)
		if err != nil {
			return err
		}
		c.ttl = d
	case "timeout":
		d, err := parseDuration(name, value)
		if err != nil {
			return err
		}
		c.timeout = d
	}
	return nil
}

// Key returns the Redis hash holding this namespace.
func (c *RedisCache) Key() string { return c.key }

// IsFallback reports whether Redis is currently considered unavailable.
func (c *RedisCache) IsFallback() bool { return c.fallbackMode.Load() }

func (c *RedisCache) ID() string { return c.id }

func (c *RedisCache) Size() int {
	ctx, cancel, ok := c.begin()
	if !ok {
		return 0
	}
	defer cancel()
	n, err := c.client.HLen(ctx, c.key).Result()
	if err != nil {
		c.fail("hlen", err)
		return 0
	}
	c.succeed("hlen")
	return int(n)
}

func (c *RedisCache) Put(key, value any) {
	data, err := encode(value)
	if err != nil {
		c.logger.Warn("[cache] value is not serializable, skipping", "cache", c.id, "err", err)
		return
	}
	ctx, cancel, ok := c.begin()
	if !ok {
		return
	}
	defer cancel()

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.key, stringKey(key), data)
	if c.ttl > 0 {
		pipe.Expire(ctx, c.key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.fail("put", err)
		return
	}
	c.succeed("put")
}

func (c *RedisCache) Get(key any) (any, bool) {
	ctx, cancel, ok := c.begin()
	if !ok {
		return nil, false
	}
	defer cancel()

	data, err := c.client.HGet(ctx, c.key, stringKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.succeed("get")
		return nil, false
	}
	if err != nil {
		c.fail("get", err)
		return nil, false
	}
	c.succeed("get")
	v, err := decodeLoose(data)
	if err != nil {
		c.logger.Warn("[cache] error deserializing cached value, treating as miss", "cache", c.id, "err", err)
		return nil, false
	}
	return v, true
}

func (c *RedisCache) Remove(key any) (any, bool) {
	prev, found := c.Get(key)
	ctx, cancel, ok := c.begin()
	if !ok {
		return prev, found
	}
	defer cancel()
	if err := c.client.HDel(ctx, c.key, stringKey(key)).Err(); err != nil {
		c.fail("remove", err)
		return prev, found
	}
	c.succeed("remove")
	return prev, found
}

func (c *RedisCache) Clear() {
	ctx, cancel, ok := c.begin()
	if !ok {
		return
	}
	defer cancel()
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		c.fail("clear", err)
		return
	}
	c.succeed("clear")
}

// begin returns an operation context, or false while in fallback mode and
// the retry interval has not elapsed yet.
func (c *RedisCache) begin() (context.Context, context.CancelFunc, bool) {
	if c.fallbackMode.Load() {
		since := time.Since(time.Unix(0, c.lastFailure.Load()))
		if since < fallbackRetry {
			return nil, nil, false
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	return ctx, cancel, true
}

func (c *RedisCache) fail(op string, err error) {
	metrics.RedisOperations.WithLabelValues(op, "error").Inc()
	c.lastFailure.Store(time.Now().UnixNano())
	if c.fallbackMode.CompareAndSwap(false, true) {
		c.logger.Warn("[cache] redis unavailable, entering fallback mode", "cache", c.id, "op", op, "err", err)
	}
}

func (c *RedisCache) succeed(op string) {
	metrics.RedisOperations.WithLabelValues(op, "ok").Inc()
	if c.fallbackMode.CompareAndSwap(true, false) {
		c.logger.Info("[cache] redis reachable again, exited fallback mode", "cache", c.id)
	}
}
