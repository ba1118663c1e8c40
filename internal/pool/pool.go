package pool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/joao-brasil/sqlrt/internal/metrics"
	"github.com/joao-brasil/sqlrt/pkg/datasource"
)

// PooledDataSource is a synchronous, bounded pool of physical connections for
// one datasource. All pool state is mutated under mu; callers only block
// while waiting for a connection to be returned.
type PooledDataSource struct {
	mu sync.Mutex

	id         string
	ds         datasource.DataSource
	props      datasource.PoolProperties
	connector  Connector
	logger     *slog.Logger
	now        func() time.Time
	expectedTC int64

	state poolState

	// opening counts physical opens in flight; they count against max_active.
	opening int

	// generation advances on every forced close; connections obtained under
	// an older generation are not returned to the pool.
	generation uint64

	// waiters is the queue of callers blocked in Checkout. Release closes the
	// first channel to wake exactly one of them.
	waiters []chan struct{}

	nextID atomic.Uint64
	closed bool
}

// Option configures a PooledDataSource.
type Option func(*PooledDataSource)

// WithConnector replaces the default database/sql connector.
func WithConnector(c Connector) Option {
	return func(p *PooledDataSource) { p.connector = c }
}

// WithLogger sets the pool logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *PooledDataSource) { p.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *PooledDataSource) { p.now = now }
}

// NewPooledDataSource creates an empty pool for ds. Connections are opened on demand.
func NewPooledDataSource(ds datasource.DataSource, opts ...Option) *PooledDataSource {
	p := &PooledDataSource{
		id:        ds.ID,
		ds:        ds,
		props:     ds.Pool,
		connector: SQLConnector{ConnectTimeout: 30 * time.Second},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	defaults := datasource.DefaultPoolProperties()
	if p.props.MaxActive <= 0 {
		p.props.MaxActive = defaults.MaxActive
	}
	if p.props.TimeToWait <= 0 {
		p.props.TimeToWait = defaults.TimeToWait
	}
	if p.props.MaxCheckoutTime <= 0 {
		p.props.MaxCheckoutTime = defaults.MaxCheckoutTime
	}
	if p.props.MaxIdle < 0 {
		p.props.MaxIdle = 0
	}

	p.expectedTC = p.typeCode()
	metrics.ConnectionsMax.WithLabelValues(p.id).Set(float64(p.props.MaxActive))
	p.updateMetrics()
	p.logger.Debug("[pool] initialized",
		"datasource", p.id, "max_active", p.props.MaxActive, "max_idle", p.props.MaxIdle)
	return p
}

// ID returns the datasource identifier.
func (p *PooledDataSource) ID() string { return p.id }

// DataSource returns a copy of the current datasource configuration.
func (p *PooledDataSource) DataSource() datasource.DataSource {
	p.mu.Lock()
	defer p.mu.Unlock()
	ds := p.ds
	ds.Pool = p.props
	return ds
}

// Checkout returns a connection for the configured credentials.
func (p *PooledDataSource) Checkout(ctx context.Context) (*PooledConnection, error) {
	p.mu.Lock()
	username, password := p.ds.Username, p.ds.Password
	p.mu.Unlock()
	return p.CheckoutAs(ctx, username, password)
}

// CheckoutAs returns a connection opened with the given credentials.
//
// The loop prefers the most recently returned idle connection, then opens a
// new one while under max_active, then reclaims the oldest active connection
// if it is overdue, and otherwise waits up to time_to_wait before retrying.
// Each candidate is probed; more than max_idle+local_bad_connection_tolerance
// bad candidates fail the call with ErrPoolExhausted.
func (p *PooledDataSource) CheckoutAs(ctx context.Context, username, password string) (*PooledConnection, error) {
	start := p.now()
	countedWait := false
	localBad := 0

	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		var conn *PooledConnection
		fresh := false
		outcome := "reused"

		if n := len(p.state.idle); n > 0 {
			conn = p.state.idle[n-1]
			p.state.idle = p.state.idle[:n-1]
			p.logger.Debug("[pool] checked out connection from pool", "datasource", p.id, "conn", conn.id)
		} else if len(p.state.active)+p.opening < p.props.MaxActive {
			var err error
			conn, err = p.openLocked(ctx, username, password)
			if err != nil {
				p.mu.Unlock()
				metrics.ConnectionErrors.WithLabelValues(p.id, "open_failed").Inc()
				return nil, errors.Mark(errors.Wrapf(err, "opening connection for datasource %s", p.id), ErrAcquire)
			}
			if conn == nil {
				// closed or reconfigured while opening
				continue
			}
			fresh = true
			outcome = "opened"
		} else if len(p.state.active) > 0 {
			oldest := p.state.active[0]
			age := oldest.checkoutDuration(p.now())
			if age > p.props.MaxCheckoutTime {
				conn = p.reclaimLocked(oldest, age)
				outcome = "reclaimed"
			} else {
				if !countedWait {
					p.state.hadToWaitCount++
					countedWait = true
				}
				p.logger.Debug("[pool] waiting for connection",
					"datasource", p.id, "time_to_wait", p.props.TimeToWait)
				waitStart := p.now()
				err := p.waitLocked(ctx, p.props.TimeToWait)
				waited := p.now().Sub(waitStart)
				p.state.accumulatedWaitTime += waited
				metrics.WaitDuration.WithLabelValues(p.id).Observe(waited.Seconds())
				if err != nil {
					p.mu.Unlock()
					metrics.CheckoutsTotal.WithLabelValues(p.id, "cancelled").Inc()
					return nil, errors.Mark(errors.Wrap(err, "waiting for connection"), ErrAcquire)
				}
				continue
			}
		} else {
			// every slot is taken by an in-flight open
			if err := p.waitLocked(ctx, p.props.TimeToWait); err != nil {
				p.mu.Unlock()
				return nil, errors.Mark(errors.Wrap(err, "waiting for connection"), ErrAcquire)
			}
			continue
		}

		if p.validateLocked(conn, fresh) {
			if !conn.real.AutoCommit() {
				if err := conn.real.Rollback(); err != nil {
					p.logger.Debug("[pool] rollback on checkout failed", "datasource", p.id, "err", err)
				}
			}
			now := p.now()
			conn.typeCode = datasource.TypeCode(p.ds.URL(), username, password)
			conn.checkoutAt = now
			conn.lastUsedAt = now
			p.state.active = append(p.state.active, conn)
			p.state.requestCount++
			p.state.accumulatedRequestTime += now.Sub(start)
			p.updateMetrics()
			p.mu.Unlock()
			metrics.CheckoutsTotal.WithLabelValues(p.id, outcome).Inc()
			return conn, nil
		}

		p.logger.Debug("[pool] a bad connection was returned from the pool, getting another connection",
			"datasource", p.id, "conn", conn.id)
		p.state.badConnectionCount++
		localBad++
		metrics.ConnectionErrors.WithLabelValues(p.id, "bad_connection").Inc()
		if localBad > p.props.MaxIdle+p.props.LocalBadConnectionTolerance {
			p.updateMetrics()
			p.mu.Unlock()
			p.logger.Warn("[pool] could not get a good connection to the database",
				"datasource", p.id, "bad_connections", localBad)
			metrics.CheckoutsTotal.WithLabelValues(p.id, "exhausted").Inc()
			return nil, errors.Wrapf(ErrPoolExhausted, "datasource %s", p.id)
		}
	}
}

// openLocked opens a physical connection with mu released during the dial.
// It returns (nil, nil) when the pool was closed or reconfigured meanwhile.
func (p *PooledDataSource) openLocked(ctx context.Context, username, password string) (*PooledConnection, error) {
	p.opening++
	driver := p.ds.Driver
	dsn := p.ds.ConnString(username, password)
	autoCommit := p.ds.AutoCommit
	gen := p.generation
	p.mu.Unlock()

	real, err := p.connector.Connect(ctx, driver, dsn, autoCommit)

	p.mu.Lock()
	p.opening--
	if err != nil {
		p.wakeOneLocked()
		return nil, err
	}
	if p.closed || gen != p.generation {
		_ = real.Close()
		p.wakeOneLocked()
		return nil, nil
	}
	conn := newPooledConnection(real, p)
	p.logger.Debug("[pool] created connection", "datasource", p.id, "conn", conn.id)
	return conn, nil
}

// reclaimLocked takes over the physical connection of an overdue checkout.
func (p *PooledDataSource) reclaimLocked(oldest *PooledConnection, age time.Duration) *PooledConnection {
	p.state.claimedOverdueConnectionCount++
	p.state.accumulatedCheckoutTimeOfOverdue += age
	p.state.accumulatedCheckoutTime += age
	p.state.active = p.state.active[1:]

	if !oldest.real.AutoCommit() {
		if err := oldest.real.Rollback(); err != nil {
			// the physical connection is still handed out; validation decides its fate
			p.logger.Debug("[pool] bad connection, could not roll back", "datasource", p.id, "err", err)
		}
	}

	conn := newPooledConnection(oldest.real, p)
	conn.createdAt = oldest.createdAt
	conn.lastUsedAt = oldest.lastUsedAt
	oldest.invalidate()
	p.logger.Debug("[pool] claimed overdue connection",
		"datasource", p.id, "conn", oldest.id, "checkout_age", age)
	return conn
}

// validateLocked probes a candidate. Fresh connections were pinged by the
// connector on open, so only the closed check applies to them.
func (p *PooledDataSource) validateLocked(conn *PooledConnection, fresh bool) bool {
	if conn == nil || !conn.IsValid() {
		return false
	}
	if conn.real.IsClosed() {
		return false
	}
	if fresh || !p.props.PingEnabled {
		return true
	}
	if p.props.PingIdleThreshold > 0 && conn.idleDuration(p.now()) < p.props.PingIdleThreshold {
		return true
	}

	p.logger.Debug("[pool] testing connection", "datasource", p.id, "conn", conn.id)
	if err := p.ping(conn.real); err != nil {
		p.logger.Warn("[pool] execution of ping query failed",
			"datasource", p.id, "conn", conn.id, "ping_query", p.props.PingQuery, "err", err)
		if cerr := conn.real.Close(); cerr != nil {
			p.logger.Debug("[pool] close after failed ping", "datasource", p.id, "err", cerr)
		}
		conn.invalidate()
		return false
	}
	return true
}

func (p *PooledDataSource) ping(real Conn) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if p.props.PingQuery == "" {
		return real.PingContext(ctx)
	}
	rows, err := real.QueryContext(ctx, p.props.PingQuery)
	if err != nil {
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if !real.AutoCommit() {
		return real.Rollback()
	}
	return nil
}

// Release returns a checked-out connection to the pool. It never fails:
// errors while rolling back or closing are logged and swallowed.
func (p *PooledDataSource) Release(conn *PooledConnection) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.state.removeActive(conn)

	if !conn.IsValid() {
		p.state.badConnectionCount++
		p.updateMetrics()
		metrics.ReleasesTotal.WithLabelValues(p.id, "bad").Inc()
		p.logger.Debug("[pool] a bad connection attempted to return to the pool, discarding",
			"datasource", p.id, "conn", conn.id)
		return
	}

	p.state.accumulatedCheckoutTime += conn.checkoutDuration(p.now())
	if !conn.real.AutoCommit() {
		if err := conn.real.Rollback(); err != nil {
			p.logger.Debug("[pool] rollback on release failed", "datasource", p.id, "err", err)
		}
	}

	if !p.closed && len(p.state.idle) < p.props.MaxIdle && conn.typeCode == p.expectedTC {
		idle := newPooledConnection(conn.real, p)
		idle.createdAt = conn.createdAt
		idle.lastUsedAt = p.now()
		idle.typeCode = conn.typeCode
		p.state.idle = append(p.state.idle, idle)
		conn.invalidate()
		p.logger.Debug("[pool] returned connection to pool", "datasource", p.id, "conn", conn.id)
		metrics.ReleasesTotal.WithLabelValues(p.id, "idle").Inc()
	} else {
		if err := conn.real.Close(); err != nil {
			p.logger.Debug("[pool] close on release failed", "datasource", p.id, "err", err)
		}
		conn.invalidate()
		p.logger.Debug("[pool] closed connection", "datasource", p.id, "conn", conn.id)
		metrics.ReleasesTotal.WithLabelValues(p.id, "closed").Inc()
	}
	p.updateMetrics()
	p.wakeOneLocked()
}

// ForceCloseAll closes every active and idle connection and recomputes the
// expected connection-type code. Wrappers still held by callers become invalid.
func (p *PooledDataSource) ForceCloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forceCloseAllLocked()
}

func (p *PooledDataSource) forceCloseAllLocked() {
	p.generation++
	p.expectedTC = p.typeCode()
	closeConn := func(c *PooledConnection) {
		c.invalidate()
		if !c.real.AutoCommit() {
			_ = c.real.Rollback()
		}
		if err := c.real.Close(); err != nil {
			p.logger.Debug("[pool] close during force close failed", "datasource", p.id, "err", err)
		}
	}
	for i := len(p.state.active) - 1; i >= 0; i-- {
		closeConn(p.state.active[i])
	}
	for i := len(p.state.idle) - 1; i >= 0; i-- {
		closeConn(p.state.idle[i])
	}
	p.state.active = nil
	p.state.idle = nil
	for _, w := range p.waiters {
		close(w)
	}
	p.waiters = nil
	p.updateMetrics()
	p.logger.Debug("[pool] forcefully closed/removed all connections", "datasource", p.id)
}

// Close shuts the pool down. Subsequent checkouts fail with ErrPoolClosed.
func (p *PooledDataSource) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.forceCloseAllLocked()
	p.logger.Info("[pool] closed", "datasource", p.id)
	return nil
}

// Stats returns a snapshot of the pool state.
func (p *PooledDataSource) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		DataSourceID:                     p.id,
		Active:                           len(p.state.active),
		Idle:                             len(p.state.idle),
		MaxActive:                        p.props.MaxActive,
		MaxIdle:                          p.props.MaxIdle,
		Waiting:                          len(p.waiters),
		RequestCount:                     p.state.requestCount,
		AccumulatedRequestTime:           p.state.accumulatedRequestTime,
		AccumulatedCheckoutTime:          p.state.accumulatedCheckoutTime,
		ClaimedOverdueConnectionCount:    p.state.claimedOverdueConnectionCount,
		AccumulatedCheckoutTimeOfOverdue: p.state.accumulatedCheckoutTimeOfOverdue,
		AccumulatedWaitTime:              p.state.accumulatedWaitTime,
		HadToWaitCount:                   p.state.hadToWaitCount,
		BadConnectionCount:               p.state.badConnectionCount,
	}
}

// ── Configuration setters ───────────────────────────────────────────────
// Every setter closes all connections so none opened under the previous
// configuration is reused.

func (p *PooledDataSource) reconfigure(apply func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	apply()
	p.forceCloseAllLocked()
	metrics.ConnectionsMax.WithLabelValues(p.id).Set(float64(p.props.MaxActive))
}

// SetDriver changes the database/sql driver name.
func (p *PooledDataSource) SetDriver(driver string) {
	p.reconfigure(func() { p.ds.Driver = driver })
}

// SetDSN changes the raw connection string.
func (p *PooledDataSource) SetDSN(dsn string) {
	p.reconfigure(func() { p.ds.DSN = dsn })
}

// SetUsername changes the default username.
func (p *PooledDataSource) SetUsername(username string) {
	p.reconfigure(func() { p.ds.Username = username })
}

// SetPassword changes the default password.
func (p *PooledDataSource) SetPassword(password string) {
	p.reconfigure(func() { p.ds.Password = password })
}

// SetAutoCommit changes the autocommit mode of new connections.
func (p *PooledDataSource) SetAutoCommit(autoCommit bool) {
	p.reconfigure(func() { p.ds.AutoCommit = autoCommit })
}

// SetMaxActive changes max_active.
func (p *PooledDataSource) SetMaxActive(n int) {
	p.reconfigure(func() { p.props.MaxActive = n })
}

// SetMaxIdle changes max_idle.
func (p *PooledDataSource) SetMaxIdle(n int) {
	p.reconfigure(func() { p.props.MaxIdle = n })
}

// SetMaxCheckoutTime changes max_checkout_time.
func (p *PooledDataSource) SetMaxCheckoutTime(d time.Duration) {
	p.reconfigure(func() { p.props.MaxCheckoutTime = d })
}

// SetTimeToWait changes time_to_wait.
func (p *PooledDataSource) SetTimeToWait(d time.Duration) {
	p.reconfigure(func() { p.props.TimeToWait = d })
}

// SetLocalBadConnectionTolerance changes local_bad_connection_tolerance.
func (p *PooledDataSource) SetLocalBadConnectionTolerance(n int) {
	p.reconfigure(func() { p.props.LocalBadConnectionTolerance = n })
}

// SetPingEnabled toggles the ping query probe.
func (p *PooledDataSource) SetPingEnabled(enabled bool) {
	p.reconfigure(func() { p.props.PingEnabled = enabled })
}

// SetPingQuery changes the ping query.
func (p *PooledDataSource) SetPingQuery(query string) {
	p.reconfigure(func() { p.props.PingQuery = query })
}

// SetPingIdleThreshold changes ping_idle_threshold.
func (p *PooledDataSource) SetPingIdleThreshold(d time.Duration) {
	p.reconfigure(func() { p.props.PingIdleThreshold = d })
}

// ── Internal helpers ─────────────────────────────────────────────────────

func (p *PooledDataSource) typeCode() int64 {
	return datasource.TypeCode(p.ds.URL(), p.ds.Username, p.ds.Password)
}

// waitLocked releases mu for at most d, until a Release wakes this caller or
// ctx is done, and reacquires it before returning.
func (p *PooledDataSource) waitLocked(ctx context.Context, d time.Duration) error {
	ch := make(chan struct{})
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	timer := time.NewTimer(d)
	var err error
	select {
	case <-ch:
	case <-timer.C:
	case <-ctx.Done():
		err = ctx.Err()
	}
	timer.Stop()

	p.mu.Lock()
	p.removeWaiterLocked(ch)
	return err
}

func (p *PooledDataSource) wakeOneLocked() {
	if len(p.waiters) == 0 {
		return
	}
	close(p.waiters[0])
	p.waiters = p.waiters[1:]
}

func (p *PooledDataSource) removeWaiterLocked(ch chan struct{}) {
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// updateMetrics refreshes Prometheus gauges for this pool.
func (p *PooledDataSource) updateMetrics() {
	metrics.ConnectionsActive.WithLabelValues(p.id).Set(float64(len(p.state.active)))
	metrics.ConnectionsIdle.WithLabelValues(p.id).Set(float64(len(p.state.idle)))
}
