// Package metrics defines Prometheus metrics for the runtime.
// Collectors are registered upfront so every component can record into
// them without touching this file.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks the number of checked-out connections per datasource.
	ConnectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sqlrt_pool_connections_active",
		Help: "Number of checked-out connections per datasource",
	}, []string{"datasource"})

	// ConnectionsIdle tracks the number of idle connections per datasource.
	ConnectionsIdle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sqlrt_pool_connections_idle",
		Help: "Number of idle connections in the pool per datasource",
	}, []string{"datasource"})

	// ConnectionsMax tracks the configured max_active per datasource.
	ConnectionsMax = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sqlrt_pool_connections_max",
		Help: "Configured maximum active connections per datasource",
	}, []string{"datasource"})

	// CheckoutsTotal counts checkout outcomes (reused, opened, reclaimed, exhausted, cancelled).
	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlrt_pool_checkouts_total",
		Help: "Total checkout operations by outcome",
	}, []string{"datasource", "outcome"})

	// ReleasesTotal counts release outcomes (idle, closed, bad).
	ReleasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlrt_pool_releases_total",
		Help: "Total release operations by outcome",
	}, []string{"datasource", "outcome"})

	// WaitDuration tracks the time callers spent blocked waiting for a connection.
	WaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sqlrt_pool_wait_seconds",
		Help:    "Time spent waiting for a connection",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"datasource"})

	// ConnectionErrors counts connection errors by type.
	ConnectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlrt_pool_connection_errors_total",
		Help: "Total connection errors",
	}, []string{"datasource", "error_type"})

	// QueryDuration tracks physical statement execution time.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sqlrt_statement_duration_seconds",
		Help:    "Physical statement execution duration",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"kind"})

	// CacheRequests counts shared cache lookups per namespace and result.
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlrt_cache_requests_total",
		Help: "Shared cache lookups by namespace and result (hit or miss)",
	}, []string{"namespace", "result"})

	// CacheFlushes counts flush-on-execute clears of a namespace cache.
	CacheFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlrt_cache_flushes_total",
		Help: "Shared cache clears triggered by statements",
	}, []string{"namespace"})

	// LocalCacheRequests counts session-local cache lookups by result.
	LocalCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlrt_local_cache_requests_total",
		Help: "Session-local cache lookups by result (hit or miss)",
	}, []string{"result"})

	// DeferredLoads counts deferred association loads by how they resolved.
	DeferredLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlrt_deferred_loads_total",
		Help: "Deferred loads by resolution (immediate or queued)",
	}, []string{"resolution"})

	// RedisOperations counts Redis calls made by the Redis cache store.
	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlrt_redis_operations_total",
		Help: "Redis operations by type and status",
	}, []string{"operation", "status"})

	// InstanceUp reports that the runtime process is serving.
	InstanceUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sqlrt_instance_up",
		Help: "Instance liveness (1 = serving, 0 = shutting down)",
	}, []string{"instance_id"})
)
