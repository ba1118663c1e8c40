package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// BlockingCache allows one computation per key at a time. A Get that misses
// keeps the key locked until the same caller calls Put (value computed) or
// Remove (computation failed); other callers of Get for that key block
// meanwhile. A Get that hits releases the lock immediately.
//
// Remove only releases the lock; it does not delete the entry.
type BlockingCache struct {
	delegate Cache
	timeout  time.Duration
	locks    *xsync.MapOf[string, chan struct{}]
	logger   *slog.Logger
}

// NewBlockingCache wraps delegate. With no timeout, waiters block until the
// lock holder finishes or their context is done.
func NewBlockingCache(delegate Cache, logger *slog.Logger) *BlockingCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &BlockingCache{
		delegate: delegate,
		locks:    xsync.NewMapOf[string, chan struct{}](),
		logger:   logger,
	}
}

// SetTimeout bounds how long Get waits for another caller's lock.
func (c *BlockingCache) SetTimeout(d time.Duration) {
	c.timeout = d
}

func (c *BlockingCache) SetProperty(name, value string) error {
	if name != "timeout" {
		return nil
	}
	d, err := parseDuration(name, value)
	if err != nil {
		return err
	}
	c.SetTimeout(d)
	return nil
}

func (c *BlockingCache) ID() string { return c.delegate.ID() }

func (c *BlockingCache) Size() int { return c.delegate.Size() }

func (c *BlockingCache) Put(key, value any) {
	defer c.release(key)
	c.delegate.Put(key, value)
}

// Get waits for the key lock. A lock timeout is reported as a miss without
// holding the lock; use GetContext to observe it.
func (c *BlockingCache) Get(key any) (any, bool) {
	v, ok, err := c.GetContext(context.Background(), key)
	if err != nil {
		c.logger.Warn("[cache] blocking get failed", "cache", c.ID(), "err", err)
		return nil, false
	}
	return v, ok
}

func (c *BlockingCache) GetContext(ctx context.Context, key any) (any, bool, error) {
	if err := c.acquire(ctx, key); err != nil {
		return nil, false, err
	}
	v, ok := c.delegate.Get(key)
	if ok {
		c.release(key)
	}
	return v, ok, nil
}

func (c *BlockingCache) Remove(key any) (any, bool) {
	c.release(key)
	return nil, false
}

func (c *BlockingCache) Clear() { c.delegate.Clear() }

func (c *BlockingCache) acquire(ctx context.Context, key any) error {
	k := stringKey(key)
	mine := make(chan struct{})

	var timeout <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		held, loaded := c.locks.LoadOrStore(k, mine)
		if !loaded {
			return nil
		}
		select {
		case <-held:
		case <-timeout:
			return errors.Wrapf(ErrBlockingTimeout, "cache %s, key %s", c.ID(), k)
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for cache lock on %s", c.ID())
		}
	}
}

func (c *BlockingCache) release(key any) {
	if ch, ok := c.locks.LoadAndDelete(stringKey(key)); ok {
		close(ch)
	}
}
