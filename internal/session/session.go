// Package session is the caller-facing unit of work: a Factory opens
// sessions bound to one datasource, and each Session runs mapped statements
// through its executor chain and owns the transaction boundaries.
package session

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/joao-brasil/sqlrt/internal/executor"
	"github.com/joao-brasil/sqlrt/internal/mapping"
	"github.com/joao-brasil/sqlrt/internal/pool"
)

var (
	// ErrSessionClosed is returned by every statement call after Close.
	ErrSessionClosed = errors.New("session is closed")

	// ErrWrongDataSource is returned for a statement bound to a datasource
	// other than the session's.
	ErrWrongDataSource = errors.New("statement belongs to another datasource")

	// ErrNotSelect is returned when a select call names a mutating statement
	// or the other way around.
	ErrNotSelect = errors.New("statement kind does not match the call")
)

// Factory opens sessions over the configured pools and statements.
type Factory struct {
	registry *mapping.Registry
	pools    *pool.Manager

	scope         executor.LocalCacheScope
	environmentID string
	cacheEnabled  bool
	logger        *slog.Logger
}

// Option configures a Factory.
type Option func(*Factory)

// WithLocalCacheScope sets the local cache scope of new sessions.
func WithLocalCacheScope(scope executor.LocalCacheScope) Option {
	return func(f *Factory) { f.scope = scope }
}

// WithEnvironmentID adds an environment discriminator to every cache key.
func WithEnvironmentID(id string) Option {
	return func(f *Factory) { f.environmentID = id }
}

// WithSharedCache turns the namespace caches on or off. They are on by default.
func WithSharedCache(enabled bool) Option {
	return func(f *Factory) { f.cacheEnabled = enabled }
}

// WithLogger sets the logger handed to sessions and executors.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// NewFactory creates a session factory.
func NewFactory(registry *mapping.Registry, pools *pool.Manager, opts ...Option) *Factory {
	f := &Factory{
		registry:     registry,
		pools:        pools,
		scope:        executor.ScopeSession,
		cacheEnabled: true,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Registry returns the statement registry.
func (f *Factory) Registry() *mapping.Registry { return f.registry }

// Open starts a session on datasource id with the datasource's autocommit mode.
func (f *Factory) Open(id string) (*Session, error) {
	p, err := f.pools.Get(id)
	if err != nil {
		return nil, err
	}
	return f.open(p, p.DataSource().AutoCommit), nil
}

// OpenWithAutoCommit starts a session on datasource id with an explicit
// autocommit mode.
func (f *Factory) OpenWithAutoCommit(id string, autoCommit bool) (*Session, error) {
	p, err := f.pools.Get(id)
	if err != nil {
		return nil, err
	}
	return f.open(p, autoCommit), nil
}

func (f *Factory) open(p *pool.PooledDataSource, autoCommit bool) *Session {
	tx := executor.NewTransaction(p, p.DataSource().Driver, autoCommit)
	var exec executor.Executor = executor.NewSimpleExecutor(tx,
		executor.WithLocalCacheScope(f.scope),
		executor.WithEnvironmentID(f.environmentID),
		executor.WithLogger(f.logger),
	)
	if f.cacheEnabled {
		exec = executor.NewCachingExecutor(exec, f.logger)
	}

	s := &Session{
		id:           uuid.NewString(),
		dataSourceID: p.ID(),
		registry:     f.registry,
		executor:     exec,
		autoCommit:   autoCommit,
	}
	s.logger = f.logger.With("session", s.id)
	s.logger.Debug("[session] opened", "datasource", s.dataSourceID, "auto_commit", autoCommit)
	return s
}

// Session runs statements on one datasource. It is not safe for concurrent use.
type Session struct {
	id           string
	dataSourceID string
	registry     *mapping.Registry
	executor     executor.Executor
	autoCommit   bool
	dirty        bool
	closed       bool
	logger       *slog.Logger
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// DataSourceID returns the datasource the session runs on.
func (s *Session) DataSourceID() string { return s.dataSourceID }

// Executor returns the session's executor chain.
func (s *Session) Executor() executor.Executor { return s.executor }

func (s *Session) statement(id string, wantSelect bool) (*mapping.MappedStatement, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	ms, err := s.registry.Statement(id)
	if err != nil {
		return nil, err
	}
	if ms.DataSourceID != "" && ms.DataSourceID != s.dataSourceID {
		return nil, errors.Wrapf(ErrWrongDataSource, "%s uses %s, session uses %s", id, ms.DataSourceID, s.dataSourceID)
	}
	if ms.IsSelect() != wantSelect {
		return nil, errors.Wrapf(ErrNotSelect, "%s is a %s", id, ms.Kind)
	}
	return ms, nil
}

// SelectList returns every row of a select.
func (s *Session) SelectList(ctx context.Context, id string, params map[string]any) ([]any, error) {
	return s.SelectWindow(ctx, id, params, mapping.DefaultWindow)
}

// SelectWindow returns the rows of a select inside window.
func (s *Session) SelectWindow(ctx context.Context, id string, params map[string]any, window mapping.ResultWindow) ([]any, error) {
	ms, err := s.statement(id, true)
	if err != nil {
		return nil, err
	}
	return s.executor.Query(ctx, ms, params, window, nil)
}

// SelectOne returns the only row of a select, or nil when there is none.
func (s *Session) SelectOne(ctx context.Context, id string, params map[string]any) (any, error) {
	list, err := s.SelectList(ctx, id, params)
	if err != nil {
		return nil, err
	}
	return mapping.TargetSingle.Extract(list)
}

// Select streams the rows of a select to handler. Streamed results are
// never cached.
func (s *Session) Select(ctx context.Context, id string, params map[string]any, handler mapping.RowHandler) error {
	ms, err := s.statement(id, true)
	if err != nil {
		return err
	}
	_, err = s.executor.Query(ctx, ms, params, mapping.DefaultWindow, handler)
	return err
}

// Insert runs an insert and returns the affected row count.
func (s *Session) Insert(ctx context.Context, id string, params map[string]any) (int64, error) {
	return s.Update(ctx, id, params)
}

// Delete runs a delete and returns the affected row count.
func (s *Session) Delete(ctx context.Context, id string, params map[string]any) (int64, error) {
	return s.Update(ctx, id, params)
}

// Update runs a mutating statement and returns the affected row count.
func (s *Session) Update(ctx context.Context, id string, params map[string]any) (int64, error) {
	ms, err := s.statement(id, false)
	if err != nil {
		return 0, err
	}
	s.dirty = true
	return s.executor.Update(ctx, ms, params)
}

func (s *Session) commitOrRollbackRequired(force bool) bool {
	return (!s.autoCommit && s.dirty) || force
}

// Commit commits pending work. Without force it is a no-op unless the
// session is in manual-commit mode and ran a mutating statement.
func (s *Session) Commit(force bool) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.executor.Commit(s.commitOrRollbackRequired(force)); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	s.dirty = false
	return nil
}

// Rollback discards pending work, with the same rules as Commit.
func (s *Session) Rollback(force bool) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.executor.Rollback(s.commitOrRollbackRequired(force)); err != nil {
		return errors.Wrap(err, "rolling back transaction")
	}
	s.dirty = false
	return nil
}

// ClearCache drops the session's local cache.
func (s *Session) ClearCache() {
	s.executor.ClearLocalCache()
}

// Close rolls back uncommitted work and returns the connection. It is safe
// to call more than once.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.executor.Close(s.commitOrRollbackRequired(false))
	s.dirty = false
	s.closed = true
	s.logger.Debug("[session] closed")
}
