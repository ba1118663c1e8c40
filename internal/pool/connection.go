// Package pool provides a synchronous pool of physical database connections.
// Each datasource has its own pool with bounded active and idle sets,
// reclamation of overdue checkouts and liveness probing of reused connections.
package pool

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

// PooledConnection is the logical wrapper handed to callers. Closing it
// returns the physical connection to the pool. Once the pool invalidates a
// wrapper (after release or overdue reclamation) every call fails with
// ErrConnectionInvalid; it never reconnects on its own.
type PooledConnection struct {
	real Conn
	ds   *PooledDataSource

	// id is unique per logical wrapper within the pool.
	id uint64

	// typeCode identifies the url/credentials the connection was checked out under.
	typeCode int64

	// The timestamps below are only written under the pool lock.
	createdAt  time.Time
	lastUsedAt time.Time
	checkoutAt time.Time

	valid atomic.Bool
}

func newPooledConnection(real Conn, ds *PooledDataSource) *PooledConnection {
	now := ds.now()
	c := &PooledConnection{
		real:       real,
		ds:         ds,
		id:         ds.nextID.Add(1),
		createdAt:  now,
		lastUsedAt: now,
	}
	c.valid.Store(true)
	return c
}

// ID returns the logical connection identifier.
func (c *PooledConnection) ID() uint64 { return c.id }

// TypeCode returns the connection-type code stamped at checkout.
func (c *PooledConnection) TypeCode() int64 { return c.typeCode }

// CreatedAt returns when the physical connection was opened.
func (c *PooledConnection) CreatedAt() time.Time { return c.createdAt }

// LastUsedAt returns when the connection was last checked out or returned.
func (c *PooledConnection) LastUsedAt() time.Time { return c.lastUsedAt }

// CheckoutAt returns when the connection was last checked out.
func (c *PooledConnection) CheckoutAt() time.Time { return c.checkoutAt }

// IsValid reports whether the wrapper is usable. A valid wrapper may still
// sit on a physical connection that has died; Checkout probes for that.
func (c *PooledConnection) IsValid() bool {
	return c.valid.Load() && c.real != nil
}

// Real returns the physical connection.
func (c *PooledConnection) Real() Conn { return c.real }

func (c *PooledConnection) invalidate() {
	c.valid.Store(false)
}

func (c *PooledConnection) checkoutDuration(now time.Time) time.Duration {
	return now.Sub(c.checkoutAt)
}

func (c *PooledConnection) idleDuration(now time.Time) time.Duration {
	return now.Sub(c.lastUsedAt)
}

func (c *PooledConnection) check() error {
	if !c.valid.Load() {
		return errors.Wrapf(ErrConnectionInvalid, "connection %d", c.id)
	}
	return nil
}

// QueryContext runs a query on the physical connection.
func (c *PooledConnection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.real.QueryContext(ctx, query, args...)
}

// ExecContext runs a statement on the physical connection.
func (c *PooledConnection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.real.ExecContext(ctx, query, args...)
}

// PingContext pings the physical connection.
func (c *PooledConnection) PingContext(ctx context.Context) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.real.PingContext(ctx)
}

// AutoCommit reports the physical connection's autocommit mode.
func (c *PooledConnection) AutoCommit() bool {
	if c.check() != nil {
		return true
	}
	return c.real.AutoCommit()
}

// SetAutoCommit changes the physical connection's autocommit mode.
func (c *PooledConnection) SetAutoCommit(autoCommit bool) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.real.SetAutoCommit(autoCommit)
}

// Commit commits pending work on the physical connection.
func (c *PooledConnection) Commit() error {
	if err := c.check(); err != nil {
		return err
	}
	return c.real.Commit()
}

// Rollback discards pending work on the physical connection.
func (c *PooledConnection) Rollback() error {
	if err := c.check(); err != nil {
		return err
	}
	return c.real.Rollback()
}

// IsClosed reports whether the wrapper can no longer be used.
func (c *PooledConnection) IsClosed() bool {
	return !c.valid.Load() || c.real.IsClosed()
}

// Close returns the connection to its pool instead of closing it.
func (c *PooledConnection) Close() error {
	c.ds.Release(c)
	return nil
}

var _ Conn = (*PooledConnection)(nil)
