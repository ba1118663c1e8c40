package executor

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/joao-brasil/sqlrt/internal/cache"
	"github.com/joao-brasil/sqlrt/internal/cachekey"
	"github.com/joao-brasil/sqlrt/internal/mapping"
	"github.com/joao-brasil/sqlrt/internal/metrics"
)

// CachingExecutor serves selects of cache-enabled statements from their
// namespace cache and clears that cache for statements that require a
// flush. Everything else goes to the delegate.
type CachingExecutor struct {
	delegate Executor
	logger   *slog.Logger
}

// NewCachingExecutor wraps delegate and routes its nested queries back
// through the cache.
func NewCachingExecutor(delegate Executor, logger *slog.Logger) *CachingExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	c := &CachingExecutor{delegate: delegate, logger: logger}
	delegate.SetWrapper(c)
	return c
}

// Delegate returns the wrapped executor.
func (c *CachingExecutor) Delegate() Executor { return c.delegate }

func (c *CachingExecutor) Query(ctx context.Context, ms *mapping.MappedStatement, params map[string]any,
	window mapping.ResultWindow, handler mapping.RowHandler) ([]any, error) {
	bound, err := ms.BoundSQL(params)
	if err != nil {
		return nil, err
	}
	key, err := c.delegate.CreateCacheKey(ms, params, window, bound)
	if err != nil {
		return nil, err
	}
	return c.QueryWithKey(ctx, ms, params, window, handler, key, bound)
}

func (c *CachingExecutor) QueryWithKey(ctx context.Context, ms *mapping.MappedStatement, params map[string]any,
	window mapping.ResultWindow, handler mapping.RowHandler, key *cachekey.CacheKey, bound *mapping.BoundSQL) ([]any, error) {
	if c.delegate.IsClosed() {
		return nil, ErrExecutorClosed
	}
	c.flushCacheIfRequired(ms)

	shared := ms.Cache
	if shared == nil || !ms.UseCache || handler != nil {
		return c.delegate.QueryWithKey(ctx, ms, params, window, handler, key, bound)
	}
	if err := ensureNoOutParams(ms, bound); err != nil {
		return nil, err
	}

	v, ok, err := cache.Lookup(ctx, shared, key)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		// no lock is held after a failed lookup, so the result is not stored
		c.logger.Warn("[cache] lookup failed, querying database", "cache", shared.ID(), "statement", ms.ID, "err", err)
		return c.delegate.QueryWithKey(ctx, ms, params, window, handler, key, bound)
	}
	if ok {
		if list, isList := v.([]any); isList {
			return list, nil
		}
		c.logger.Warn("[cache] unexpected cached value, ignoring", "cache", shared.ID(), "statement", ms.ID)
	}

	list, err := c.delegate.QueryWithKey(ctx, ms, params, window, handler, key, bound)
	if err != nil {
		shared.Remove(key)
		return nil, err
	}
	shared.Put(key, list)
	return list, nil
}

// Update clears the namespace cache when required and runs the statement.
func (c *CachingExecutor) Update(ctx context.Context, ms *mapping.MappedStatement, params map[string]any) (int64, error) {
	if c.delegate.IsClosed() {
		return 0, ErrExecutorClosed
	}
	c.flushCacheIfRequired(ms)
	return c.delegate.Update(ctx, ms, params)
}

func (c *CachingExecutor) CreateCacheKey(ms *mapping.MappedStatement, params map[string]any,
	window mapping.ResultWindow, bound *mapping.BoundSQL) (*cachekey.CacheKey, error) {
	return c.delegate.CreateCacheKey(ms, params, window, bound)
}

func (c *CachingExecutor) IsCached(ms *mapping.MappedStatement, key *cachekey.CacheKey) bool {
	return c.delegate.IsCached(ms, key)
}

func (c *CachingExecutor) DeferLoad(ms *mapping.MappedStatement, obj mapping.ResultObject, property string,
	key *cachekey.CacheKey, kind mapping.TargetKind) error {
	return c.delegate.DeferLoad(ms, obj, property, key, kind)
}

func (c *CachingExecutor) Commit(required bool) error   { return c.delegate.Commit(required) }
func (c *CachingExecutor) Rollback(required bool) error { return c.delegate.Rollback(required) }
func (c *CachingExecutor) ClearLocalCache()             { c.delegate.ClearLocalCache() }
func (c *CachingExecutor) Close(forceRollback bool)     { c.delegate.Close(forceRollback) }
func (c *CachingExecutor) IsClosed() bool               { return c.delegate.IsClosed() }

// SetWrapper lets another executor wrap this one.
func (c *CachingExecutor) SetWrapper(w Executor) { c.delegate.SetWrapper(w) }

func (c *CachingExecutor) flushCacheIfRequired(ms *mapping.MappedStatement) {
	if ms.Cache == nil || !ms.FlushCacheRequired {
		return
	}
	ms.Cache.Clear()
	metrics.CacheFlushes.WithLabelValues(ms.Cache.ID()).Inc()
}

func ensureNoOutParams(ms *mapping.MappedStatement, bound *mapping.BoundSQL) error {
	if ms.StatementType != mapping.Callable {
		return nil
	}
	for _, pm := range bound.ParameterMappings {
		if pm.Mode != mapping.ModeIn {
			return errors.Wrapf(ErrOutParamsNotCacheable, "statement %s, parameter %s", ms.ID, pm.Property)
		}
	}
	return nil
}

var (
	_ Executor = (*SimpleExecutor)(nil)
	_ Executor = (*CachingExecutor)(nil)
)
