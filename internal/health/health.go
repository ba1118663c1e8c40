// Package health reports the health of every datasource pool and of the
// Redis server backing shared caches, and serves it over HTTP.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/joao-brasil/sqlrt/internal/pool"
)

// Status is the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

const (
	redisTimeout      = 5 * time.Second
	datasourceTimeout = 10 * time.Second
)

// ComponentHealth is the health of a single component.
type ComponentHealth struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency"`
	Active  *int   `json:"active,omitempty"`
	Idle    *int   `json:"idle,omitempty"`
}

// HealthReport is the overall health report.
type HealthReport struct {
	Status     Status            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	InstanceID string            `json:"instance_id"`
	Components []ComponentHealth `json:"components"`
}

// Checker runs health checks against the pools and Redis.
type Checker struct {
	instanceID string
	pools      *pool.Manager
	redis      redis.UniversalClient
	logger     *slog.Logger
}

// NewChecker creates a health checker. client may be nil when no cache
// uses Redis.
func NewChecker(instanceID string, pools *pool.Manager, client redis.UniversalClient, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{instanceID: instanceID, pools: pools, redis: client, logger: logger}
}

// Check runs every component check concurrently and returns a report.
func (c *Checker) Check(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		InstanceID: c.instanceID,
	}

	var (
		mu         sync.Mutex
		components []ComponentHealth
	)
	add := func(ch ComponentHealth) {
		mu.Lock()
		components = append(components, ch)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	if c.redis != nil {
		g.Go(func() error {
			add(c.checkRedis(gctx))
			return nil
		})
	}
	for _, id := range c.pools.IDs() {
		g.Go(func() error {
			add(c.checkDataSource(gctx, id))
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })
	report.Components = components

	for _, comp := range components {
		if comp.Status == StatusUnhealthy {
			report.Status = StatusUnhealthy
			break
		}
	}
	return report
}

func (c *Checker) checkRedis(ctx context.Context) ComponentHealth {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	err := c.redis.Ping(ctx).Err()
	latency := time.Since(start)
	if err != nil {
		return ComponentHealth{
			Name:    "redis",
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("PING failed: %v", err),
			Latency: latency.String(),
		}
	}
	return ComponentHealth{
		Name:    "redis",
		Status:  StatusHealthy,
		Message: "PONG",
		Latency: latency.String(),
	}
}

func (c *Checker) checkDataSource(ctx context.Context, id string) ComponentHealth {
	start := time.Now()
	name := "datasource-" + id

	p, err := c.pools.Get(id)
	if err != nil {
		return ComponentHealth{Name: name, Status: StatusUnhealthy, Message: err.Error(), Latency: "0s"}
	}

	ctx, cancel := context.WithTimeout(ctx, datasourceTimeout)
	defer cancel()

	err = p.Ping(ctx)
	latency := time.Since(start)
	stats := p.Stats()
	ch := ComponentHealth{
		Name:    name,
		Status:  StatusHealthy,
		Message: "connected",
		Latency: latency.String(),
		Active:  &stats.Active,
		Idle:    &stats.Idle,
	}
	if err != nil {
		ch.Status = StatusUnhealthy
		ch.Message = fmt.Sprintf("ping failed: %v", err)
	}
	return ch
}

// Handler returns the health endpoints: /health, /health/ready and /health/live.
func (c *Checker) Handler() http.Handler {
	mux := http.NewServeMux()

	report := func(w http.ResponseWriter, r *http.Request) {
		rep := c.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if rep.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		if err := json.NewEncoder(w).Encode(rep); err != nil {
			c.logger.Warn("[health] encoding report failed", "err", err)
		}
	}
	mux.HandleFunc("/health", report)
	mux.HandleFunc("/health/ready", report)

	mux.HandleFunc("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})
	return mux
}

// Serve starts the health HTTP server on port in the background.
func (c *Checker) Serve(port int) *http.Server {
	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      c.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		c.logger.Info("[health] HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("[health] HTTP server error", "err", err)
		}
	}()
	return server
}
