package pool

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	// Drivers selectable by datasource.Driver.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
)

// Conn is the capability set of one physical database connection.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PingContext(ctx context.Context) error
	AutoCommit() bool
	SetAutoCommit(autoCommit bool) error
	Commit() error
	Rollback() error
	IsClosed() bool
	Close() error
}

// Connector opens physical connections.
type Connector interface {
	Connect(ctx context.Context, driver, dsn string, autoCommit bool) (Conn, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, driver, dsn string, autoCommit bool) (Conn, error)

// Connect calls f.
func (f ConnectorFunc) Connect(ctx context.Context, driver, dsn string, autoCommit bool) (Conn, error) {
	return f(ctx, driver, dsn, autoCommit)
}

// SQLConnector opens connections through database/sql. Each physical
// connection is a *sql.DB capped at one open connection so it maps 1:1 to a
// server session; pooling is done by PooledDataSource, not by database/sql.
type SQLConnector struct {
	ConnectTimeout time.Duration
}

// Connect opens and pings a new physical connection.
func (c SQLConnector) Connect(ctx context.Context, driver, dsn string, autoCommit bool) (Conn, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sql.Open")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if c.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping")
	}
	return NewSQLConn(db, autoCommit), nil
}

// sqlConn is a physical connection over a single-connection *sql.DB. With
// autocommit off, statements run inside a transaction opened on first use and
// ended by Commit or Rollback.
type sqlConn struct {
	mu         sync.Mutex
	db         *sql.DB
	tx         *sql.Tx
	autoCommit bool
	closed     atomic.Bool
}

// NewSQLConn wraps an already opened *sql.DB as a physical connection.
func NewSQLConn(db *sql.DB, autoCommit bool) Conn {
	return &sqlConn{db: db, autoCommit: autoCommit}
}

func (c *sqlConn) runner(ctx context.Context) (interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return nil, sql.ErrConnDone
	}
	if c.autoCommit {
		return c.db, nil
	}
	if c.tx == nil {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		c.tx = tx
	}
	return c.tx, nil
}

func (c *sqlConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	r, err := c.runner(ctx)
	if err != nil {
		return nil, err
	}
	return r.QueryContext(ctx, query, args...)
}

func (c *sqlConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	r, err := c.runner(ctx)
	if err != nil {
		return nil, err
	}
	return r.ExecContext(ctx, query, args...)
}

func (c *sqlConn) PingContext(ctx context.Context) error {
	c.mu.Lock()
	inTx := c.tx != nil
	c.mu.Unlock()
	if c.closed.Load() {
		return sql.ErrConnDone
	}
	if inTx {
		// the only server connection is held by the open transaction
		return nil
	}
	return c.db.PingContext(ctx)
}

func (c *sqlConn) AutoCommit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoCommit
}

func (c *sqlConn) SetAutoCommit(autoCommit bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.autoCommit == autoCommit {
		return nil
	}
	if autoCommit && c.tx != nil {
		if err := c.tx.Commit(); err != nil {
			return err
		}
		c.tx = nil
	}
	c.autoCommit = autoCommit
	return nil
}

func (c *sqlConn) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx == nil {
		return nil
	}
	err := c.tx.Commit()
	c.tx = nil
	return err
}

func (c *sqlConn) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx == nil {
		return nil
	}
	err := c.tx.Rollback()
	c.tx = nil
	return err
}

func (c *sqlConn) IsClosed() bool {
	return c.closed.Load()
}

func (c *sqlConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	c.mu.Unlock()
	return c.db.Close()
}
