package executor

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/joao-brasil/sqlrt/internal/pool"
)

// ConnectionSource hands out pooled connections.
type ConnectionSource interface {
	ID() string
	Checkout(ctx context.Context) (*pool.PooledConnection, error)
}

// Transaction holds at most one pooled connection for a session. In
// autocommit mode the connection goes back to the pool after every
// statement; otherwise it is kept until Commit, Rollback or Close.
type Transaction struct {
	source     ConnectionSource
	driver     string
	autoCommit bool

	conn              *pool.PooledConnection
	restoreAutoCommit bool
}

// NewTransaction creates a transaction over source using driver's
// placeholder style.
func NewTransaction(source ConnectionSource, driver string, autoCommit bool) *Transaction {
	return &Transaction{source: source, driver: driver, autoCommit: autoCommit}
}

// Driver returns the database/sql driver name.
func (t *Transaction) Driver() string { return t.driver }

// AutoCommit reports the requested autocommit mode.
func (t *Transaction) AutoCommit() bool { return t.autoCommit }

// Connection returns the held connection, checking one out if needed.
func (t *Transaction) Connection(ctx context.Context) (*pool.PooledConnection, error) {
	if t.conn != nil {
		return t.conn, nil
	}
	conn, err := t.source.Checkout(ctx)
	if err != nil {
		return nil, err
	}
	if conn.AutoCommit() != t.autoCommit {
		if err := conn.SetAutoCommit(t.autoCommit); err != nil {
			_ = conn.Close()
			return nil, errors.Wrap(err, "setting autocommit")
		}
		t.restoreAutoCommit = true
	}
	t.conn = conn
	return conn, nil
}

// statementDone returns the connection to the pool in autocommit mode.
func (t *Transaction) statementDone() {
	if t.autoCommit {
		t.release()
	}
}

// Commit commits pending work and returns the connection.
func (t *Transaction) Commit() error {
	if t.conn == nil {
		return nil
	}
	defer t.release()
	if t.autoCommit {
		return nil
	}
	return t.conn.Commit()
}

// Rollback discards pending work and returns the connection.
func (t *Transaction) Rollback() error {
	if t.conn == nil {
		return nil
	}
	defer t.release()
	if t.autoCommit {
		return nil
	}
	return t.conn.Rollback()
}

// Close returns the connection to the pool. The pool rolls back
// uncommitted work.
func (t *Transaction) Close() error {
	t.release()
	return nil
}

func (t *Transaction) release() {
	if t.conn == nil {
		return
	}
	if t.restoreAutoCommit && t.conn.IsValid() {
		_ = t.conn.Rollback()
		_ = t.conn.SetAutoCommit(!t.autoCommit)
	}
	_ = t.conn.Close()
	t.conn = nil
	t.restoreAutoCommit = false
}
