package pool

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/joao-brasil/sqlrt/pkg/datasource"
)

// ErrUnknownDataSource is returned when a datasource ID has no pool.
var ErrUnknownDataSource = errors.New("unknown datasource")

// Manager owns one PooledDataSource per configured datasource.
type Manager struct {
	mu     sync.RWMutex
	pools  map[string]*PooledDataSource // keyed by datasource ID
	logger *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a pool for each datasource. Options apply to every pool.
func NewManager(dss []datasource.DataSource, opts ...Option) (*Manager, error) {
	m := &Manager{
		pools:  make(map[string]*PooledDataSource, len(dss)),
		logger: slog.Default(),
		stopCh: make(chan struct{}),
	}
	for _, ds := range dss {
		if _, dup := m.pools[ds.ID]; dup {
			m.Close()
			return nil, errors.Newf("duplicate datasource id %q", ds.ID)
		}
		p := NewPooledDataSource(ds, opts...)
		m.pools[ds.ID] = p
		m.logger = p.logger
	}

	m.logger.Info("[pool] manager initialized", "pools", len(m.pools))
	return m, nil
}

// Get returns the pool for a datasource ID.
func (m *Manager) Get(id string) (*PooledDataSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDataSource, "%q", id)
	}
	return p, nil
}

// Checkout obtains a connection from the pool of the given datasource.
func (m *Manager) Checkout(ctx context.Context, id string) (*PooledConnection, error) {
	p, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return p.Checkout(ctx)
}

// IDs returns the configured datasource IDs in sorted order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.pools))
	for id := range m.pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns pool statistics for every datasource, sorted by ID.
func (m *Manager) Stats() []PoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]PoolStats, 0, len(m.pools))
	for _, p := range m.pools {
		stats = append(stats, p.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].DataSourceID < stats[j].DataSourceID })
	return stats
}

// StartMaintenance probes idle connections of every pool on each tick until
// Close is called or ctx is done.
func (m *Manager) StartMaintenance(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.mu.RLock()
				pools := make([]*PooledDataSource, 0, len(m.pools))
				for _, p := range m.pools {
					pools = append(pools, p)
				}
				m.mu.RUnlock()
				for _, p := range pools {
					p.HealthCheck(ctx)
				}
			}
		}
	}()
}

// Close stops maintenance and closes every pool.
func (m *Manager) Close() error {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs error
	for id, p := range m.pools {
		if err := p.Close(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "closing pool %s", id))
		}
	}
	m.pools = map[string]*PooledDataSource{}

	m.logger.Info("[pool] manager closed")
	return errs
}
