package pool

import (
	"context"
	"time"
)

const healthCheckTimeout = 5 * time.Second

// HealthCheck probes every idle connection and discards the ones that fail.
// Idle connections are taken out of the pool while probed so no caller can
// check them out concurrently.
func (p *PooledDataSource) HealthCheck(ctx context.Context) {
	p.mu.Lock()
	if p.closed || len(p.state.idle) == 0 {
		p.mu.Unlock()
		return
	}
	conns := p.state.idle
	gen := p.generation
	p.state.idle = nil
	p.updateMetrics()
	p.mu.Unlock()

	healthy := make([]*PooledConnection, 0, len(conns))
	removed := 0
	for _, conn := range conns {
		pctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := conn.real.PingContext(pctx)
		cancel()
		if err != nil {
			p.logger.Warn("[pool] health check failed",
				"datasource", p.id, "conn", conn.id, "err", err)
			conn.invalidate()
			_ = conn.real.Close()
			removed++
			continue
		}
		healthy = append(healthy, conn)
	}

	p.mu.Lock()
	for _, conn := range healthy {
		if p.closed || gen != p.generation || len(p.state.idle) >= p.props.MaxIdle || conn.typeCode != p.expectedTC || !conn.IsValid() {
			conn.invalidate()
			_ = conn.real.Close()
			continue
		}
		p.state.idle = append(p.state.idle, conn)
		p.wakeOneLocked()
	}
	p.state.badConnectionCount += int64(removed)
	p.updateMetrics()
	p.mu.Unlock()

	if removed > 0 {
		p.logger.Info("[pool] health check removed unhealthy connections",
			"datasource", p.id, "removed", removed)
	}
}

// Ping checks out a connection, pings it and returns it to the pool.
func (p *PooledDataSource) Ping(ctx context.Context) error {
	conn, err := p.Checkout(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	pctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return conn.PingContext(pctx)
}
