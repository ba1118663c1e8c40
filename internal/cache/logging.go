package cache

import (
	"log/slog"
	"sync/atomic"

	"github.com/joao-brasil/sqlrt/internal/metrics"
)

// LoggingCache counts requests and hits and logs the running hit ratio.
// Its counters are safe for concurrent use; thread safety of the delegate is
// not affected.
type LoggingCache struct {
	delegate Cache
	logger   *slog.Logger
	requests atomic.Int64
	hits     atomic.Int64
}

// NewLoggingCache wraps delegate.
func NewLoggingCache(delegate Cache, logger *slog.Logger) *LoggingCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingCache{delegate: delegate, logger: logger}
}

func (c *LoggingCache) ID() string { return c.delegate.ID() }

func (c *LoggingCache) Size() int { return c.delegate.Size() }

func (c *LoggingCache) Put(key, value any) { c.delegate.Put(key, value) }

func (c *LoggingCache) Get(key any) (any, bool) {
	c.requests.Add(1)
	v, ok := c.delegate.Get(key)
	result := "miss"
	if ok {
		c.hits.Add(1)
		result = "hit"
	}
	metrics.CacheRequests.WithLabelValues(c.ID(), result).Inc()
	c.logger.Debug("[cache] cache hit ratio", "cache", c.ID(), "ratio", c.HitRatio())
	return v, ok
}

func (c *LoggingCache) Remove(key any) (any, bool) { return c.delegate.Remove(key) }

func (c *LoggingCache) Clear() { c.delegate.Clear() }

// HitRatio returns hits/requests, or 0 before the first request.
func (c *LoggingCache) HitRatio() float64 {
	requests := c.requests.Load()
	if requests == 0 {
		return 0
	}
	return float64(c.hits.Load()) / float64(requests)
}
