// Package executor runs mapped statements. BaseExecutor implements the
// session-local cache protocol with nesting depth and deferred loads,
// SimpleExecutor runs statements on pooled connections, and CachingExecutor
// puts the namespace cache in front of both.
package executor

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/joao-brasil/sqlrt/internal/cachekey"
	"github.com/joao-brasil/sqlrt/internal/mapping"
	"github.com/joao-brasil/sqlrt/internal/metrics"
)

// Executor runs statements for one session. It is not safe for concurrent use.
type Executor interface {
	mapping.Loader

	// QueryWithKey runs a select whose key and bound SQL were already computed.
	QueryWithKey(ctx context.Context, ms *mapping.MappedStatement, params map[string]any, window mapping.ResultWindow,
		handler mapping.RowHandler, key *cachekey.CacheKey, bound *mapping.BoundSQL) ([]any, error)
	// Update runs an insert, update or delete and returns the affected row count.
	Update(ctx context.Context, ms *mapping.MappedStatement, params map[string]any) (int64, error)

	Commit(required bool) error
	Rollback(required bool) error
	ClearLocalCache()
	Close(forceRollback bool)
	IsClosed() bool

	// SetWrapper sets the executor nested queries are issued through.
	SetWrapper(w Executor)
}

// runner performs the physical work behind BaseExecutor.
type runner interface {
	doQuery(ctx context.Context, ms *mapping.MappedStatement, params map[string]any, window mapping.ResultWindow,
		handler mapping.RowHandler, bound *mapping.BoundSQL) ([]any, error)
	doUpdate(ctx context.Context, ms *mapping.MappedStatement, params map[string]any, bound *mapping.BoundSQL) (int64, error)
	commit() error
	rollback() error
	close() error
}

// Option configures a BaseExecutor.
type Option func(*BaseExecutor)

// WithLocalCacheScope sets the local cache scope.
func WithLocalCacheScope(scope LocalCacheScope) Option {
	return func(e *BaseExecutor) { e.scope = scope }
}

// WithEnvironmentID adds an environment discriminator to every cache key.
func WithEnvironmentID(id string) Option {
	return func(e *BaseExecutor) { e.environmentID = id }
}

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *BaseExecutor) { e.logger = l }
}

// BaseExecutor implements the local cache protocol: one physical execution
// per key per scope, in-flight markers while a query runs, and deferred
// loads resolved when the outermost query returns.
type BaseExecutor struct {
	runner  runner
	wrapper Executor

	localCache       *LocalCache
	localOutputCache map[string]map[string]any
	deferredLoads    []*DeferredLoad
	queryStack       int
	scope            LocalCacheScope
	environmentID    string
	closed           bool
	logger           *slog.Logger
}

func newBaseExecutor(r runner, opts ...Option) *BaseExecutor {
	e := &BaseExecutor{
		runner:           r,
		localCache:       NewLocalCache(),
		localOutputCache: make(map[string]map[string]any),
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.wrapper = e
	return e
}

// SetWrapper sets the executor nested queries go through.
func (e *BaseExecutor) SetWrapper(w Executor) { e.wrapper = w }

// Wrapper returns the executor nested queries go through.
func (e *BaseExecutor) Wrapper() Executor { return e.wrapper }

// LocalCache exposes the session cache for diagnostics.
func (e *BaseExecutor) LocalCache() *LocalCache { return e.localCache }

// IsClosed reports whether Close was called.
func (e *BaseExecutor) IsClosed() bool { return e.closed }

// Update clears the local cache and runs the statement.
func (e *BaseExecutor) Update(ctx context.Context, ms *mapping.MappedStatement, params map[string]any) (int64, error) {
	if e.closed {
		return 0, ErrExecutorClosed
	}
	e.ClearLocalCache()
	bound, err := ms.BoundSQL(params)
	if err != nil {
		return 0, err
	}
	return e.runner.doUpdate(ctx, ms, params, bound)
}

// Query computes the key and runs the select.
func (e *BaseExecutor) Query(ctx context.Context, ms *mapping.MappedStatement, params map[string]any,
	window mapping.ResultWindow, handler mapping.RowHandler) ([]any, error) {
	bound, err := ms.BoundSQL(params)
	if err != nil {
		return nil, err
	}
	key, err := e.CreateCacheKey(ms, params, window, bound)
	if err != nil {
		return nil, err
	}
	return e.QueryWithKey(ctx, ms, params, window, handler, key, bound)
}

// QueryWithKey runs the local cache protocol for key.
func (e *BaseExecutor) QueryWithKey(ctx context.Context, ms *mapping.MappedStatement, params map[string]any,
	window mapping.ResultWindow, handler mapping.RowHandler, key *cachekey.CacheKey, bound *mapping.BoundSQL) ([]any, error) {
	if e.closed {
		return nil, ErrExecutorClosed
	}
	if e.queryStack == 0 && ms.FlushCacheRequired {
		e.ClearLocalCache()
	}

	e.queryStack++
	list, err := e.queryLocal(ctx, ms, params, window, handler, key, bound)
	e.queryStack--
	if err != nil {
		if e.queryStack == 0 {
			e.deferredLoads = nil
		}
		return nil, err
	}

	if e.queryStack == 0 {
		loads := e.deferredLoads
		e.deferredLoads = nil
		for _, d := range loads {
			if err := d.Load(); err != nil {
				return nil, errors.Wrapf(err, "resolving deferred load of %s", d.property)
			}
			metrics.DeferredLoads.WithLabelValues("queued").Inc()
		}
		if e.scope == ScopeStatement {
			e.ClearLocalCache()
		}
	}
	return list, nil
}

func (e *BaseExecutor) queryLocal(ctx context.Context, ms *mapping.MappedStatement, params map[string]any,
	window mapping.ResultWindow, handler mapping.RowHandler, key *cachekey.CacheKey, bound *mapping.BoundSQL) ([]any, error) {
	if handler == nil {
		if list, ok := e.localCache.Result(key); ok {
			metrics.LocalCacheRequests.WithLabelValues("hit").Inc()
			if ms.StatementType == mapping.Callable {
				e.restoreOutputParameters(key, params, bound)
			}
			return list, nil
		}
		if e.localCache.InFlight(key) {
			return nil, errors.Wrapf(ErrQueryInProgress, "statement %s", ms.ID)
		}
	}
	metrics.LocalCacheRequests.WithLabelValues("miss").Inc()
	return e.queryFromDatabase(ctx, ms, params, window, handler, key, bound)
}

func (e *BaseExecutor) queryFromDatabase(ctx context.Context, ms *mapping.MappedStatement, params map[string]any,
	window mapping.ResultWindow, handler mapping.RowHandler, key *cachekey.CacheKey, bound *mapping.BoundSQL) ([]any, error) {
	e.localCache.markInFlight(key)
	list, err := e.runner.doQuery(ctx, ms, params, window, handler, bound)
	if err != nil {
		e.localCache.remove(key)
		return nil, err
	}
	e.localCache.store(key, list)
	if ms.StatementType == mapping.Callable {
		e.storeOutputParameters(key, params, bound)
	}
	return list, nil
}

func (e *BaseExecutor) storeOutputParameters(key *cachekey.CacheKey, params map[string]any, bound *mapping.BoundSQL) {
	out := make(map[string]any)
	for _, pm := range bound.ParameterMappings {
		if pm.Mode != mapping.ModeIn {
			out[pm.Property] = params[pm.Property]
		}
	}
	e.localOutputCache[key.MapKey()] = out
}

func (e *BaseExecutor) restoreOutputParameters(key *cachekey.CacheKey, params map[string]any, bound *mapping.BoundSQL) {
	cached, ok := e.localOutputCache[key.MapKey()]
	if !ok || params == nil {
		return
	}
	for _, pm := range bound.ParameterMappings {
		if pm.Mode != mapping.ModeIn {
			params[pm.Property] = cached[pm.Property]
		}
	}
}

// CreateCacheKey builds the key of one execution: statement id, window,
// SQL text, input parameter values in order and the environment id.
func (e *BaseExecutor) CreateCacheKey(ms *mapping.MappedStatement, params map[string]any,
	window mapping.ResultWindow, bound *mapping.BoundSQL) (*cachekey.CacheKey, error) {
	if e.closed {
		return cachekey.NullCacheKey, ErrExecutorClosed
	}
	key := cachekey.New(ms.ID, window.Offset, window.Limit, bound.SQL)
	for _, pm := range bound.ParameterMappings {
		if pm.Mode == mapping.ModeOut {
			continue
		}
		key.Update(params[pm.Property])
	}
	if e.environmentID != "" {
		key.Update(e.environmentID)
	}
	return key, nil
}

// IsCached reports whether key is in flight or materialized in the local cache.
func (e *BaseExecutor) IsCached(_ *mapping.MappedStatement, key *cachekey.CacheKey) bool {
	return e.localCache.Contains(key)
}

// DeferLoad assigns the property now when key is materialized, or queues
// the assignment until the outermost query returns.
func (e *BaseExecutor) DeferLoad(_ *mapping.MappedStatement, obj mapping.ResultObject, property string,
	key *cachekey.CacheKey, kind mapping.TargetKind) error {
	if e.closed {
		return ErrExecutorClosed
	}
	d := newDeferredLoad(obj, property, key, kind, e.localCache)
	if d.CanLoad() {
		metrics.DeferredLoads.WithLabelValues("immediate").Inc()
		return d.Load()
	}
	e.deferredLoads = append(e.deferredLoads, d)
	return nil
}

// ClearLocalCache drops all local results and output parameters.
func (e *BaseExecutor) ClearLocalCache() {
	if e.closed {
		return
	}
	e.localCache.Clear()
	clear(e.localOutputCache)
}

// Commit clears the local cache and commits when required.
func (e *BaseExecutor) Commit(required bool) error {
	if e.closed {
		return errors.Wrap(ErrExecutorClosed, "cannot commit")
	}
	e.ClearLocalCache()
	if required {
		return e.runner.commit()
	}
	return nil
}

// Rollback clears the local cache and rolls back when required.
func (e *BaseExecutor) Rollback(required bool) error {
	if e.closed {
		return nil
	}
	e.ClearLocalCache()
	if required {
		return e.runner.rollback()
	}
	return nil
}

// Close rolls back when forced, releases the connection and rejects all
// further work. Errors are logged.
func (e *BaseExecutor) Close(forceRollback bool) {
	if e.closed {
		return
	}
	if err := e.Rollback(forceRollback); err != nil {
		e.logger.Warn("[session] unexpected exception on closing transaction", "err", err)
	}
	if err := e.runner.close(); err != nil {
		e.logger.Warn("[session] error closing transaction", "err", err)
	}
	e.deferredLoads = nil
	e.localCache.Clear()
	clear(e.localOutputCache)
	e.closed = true
}
