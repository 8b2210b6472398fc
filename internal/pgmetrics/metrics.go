// Package pgmetrics is the Prometheus registry glacialcache exposes on
// its /metrics endpoint, scoped to the four subsystems this module
// actually instruments: pool, cache, election, cleanup. Names follow
// glacial_cache_<subsystem>_<name>_<unit>.
package pgmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric glacialcache publishes, registered against
// its own prometheus.Registry rather than the global default so a
// process embedding this module as a library doesn't collide with its
// own metrics namespace.
type Registry struct {
	reg *prometheus.Registry

	PoolConnectionsActive prometheus.Gauge
	PoolConnectionsIdle   prometheus.Gauge
	PoolAcquireSeconds    prometheus.Histogram
	PoolErrorsTotal       *prometheus.CounterVec

	CacheOperationsTotal  *prometheus.CounterVec
	CacheOperationSeconds *prometheus.HistogramVec
	CacheMissesTotal      prometheus.Counter

	ElectionIsLeader      prometheus.Gauge
	ElectionsTotal        prometheus.Counter
	ElectionLostTotal     *prometheus.CounterVec

	CleanupRunsTotal    prometheus.Counter
	CleanupDeletedTotal prometheus.Counter
	CleanupErrorsTotal  prometheus.Counter
}

// New builds a Registry with every metric registered and ready to
// observe.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,

		PoolConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "glacial_cache_pool_connections_active",
			Help: "Pooled connections currently checked out.",
		}),
		PoolConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "glacial_cache_pool_connections_idle",
			Help: "Pooled connections currently idle.",
		}),
		PoolAcquireSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "glacial_cache_pool_acquire_seconds",
			Help:    "Time spent acquiring a pooled connection.",
			Buckets: prometheus.DefBuckets,
		}),
		PoolErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glacial_cache_pool_errors_total",
			Help: "Pool errors by kind (connection, query).",
		}, []string{"kind"}),

		CacheOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glacial_cache_cache_operations_total",
			Help: "Cache operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		CacheOperationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "glacial_cache_cache_operation_seconds",
			Help:    "Cache operation latency by name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glacial_cache_cache_misses_total",
			Help: "Get/GetEntry calls that found no live entry.",
		}),

		ElectionIsLeader: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "glacial_cache_election_is_leader",
			Help: "1 if this process currently holds leadership, 0 otherwise.",
		}),
		ElectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glacial_cache_election_elections_total",
			Help: "Number of times this process has become leader.",
		}),
		ElectionLostTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glacial_cache_election_lost_total",
			Help: "Number of times this process lost leadership, by reason.",
		}, []string{"reason"}),

		CleanupRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glacial_cache_cleanup_runs_total",
			Help: "Cleanup chunk executions while leader.",
		}),
		CleanupDeletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glacial_cache_cleanup_deleted_rows_total",
			Help: "Expired rows deleted by the cleanup loop.",
		}),
		CleanupErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glacial_cache_cleanup_errors_total",
			Help: "Cleanup chunk executions that returned an error.",
		}),
	}

	reg.MustRegister(
		r.PoolConnectionsActive, r.PoolConnectionsIdle, r.PoolAcquireSeconds, r.PoolErrorsTotal,
		r.CacheOperationsTotal, r.CacheOperationSeconds, r.CacheMissesTotal,
		r.ElectionIsLeader, r.ElectionsTotal, r.ElectionLostTotal,
		r.CleanupRunsTotal, r.CleanupDeletedTotal, r.CleanupErrorsTotal,
	)

	return r
}

// Gatherer exposes the underlying registry to promhttp.HandlerFor.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// OnElected updates election gauges/counters after a successful
// acquisition.
func (r *Registry) OnElected() {
	r.ElectionIsLeader.Set(1)
	r.ElectionsTotal.Inc()
}

// OnLost updates election gauges/counters after leadership is lost,
// tagged with the reason election.Coordinator reports.
func (r *Registry) OnLost(reason string) {
	r.ElectionIsLeader.Set(0)
	r.ElectionLostTotal.WithLabelValues(reason).Inc()
}

// SetPoolConnections implements pgsource.MetricsSink, publishing the
// pool's last-observed active/idle split.
func (r *Registry) SetPoolConnections(active, idle int32) {
	r.PoolConnectionsActive.Set(float64(active))
	r.PoolConnectionsIdle.Set(float64(idle))
}

// ObservePoolAcquire implements pgsource.MetricsSink.
func (r *Registry) ObservePoolAcquire(d time.Duration) {
	r.PoolAcquireSeconds.Observe(d.Seconds())
}

// IncPoolError implements pgsource.MetricsSink, tagging the error by
// kind ("connection" or "query").
func (r *Registry) IncPoolError(kind string) {
	r.PoolErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveOperation implements the cache engine's MetricsSink, recording
// one operation's outcome ("ok", "miss", "error") and latency.
func (r *Registry) ObserveOperation(op, outcome string, d time.Duration) {
	r.CacheOperationsTotal.WithLabelValues(op, outcome).Inc()
	r.CacheOperationSeconds.WithLabelValues(op).Observe(d.Seconds())
}

// IncMiss implements the cache engine's MetricsSink.
func (r *Registry) IncMiss() {
	r.CacheMissesTotal.Inc()
}

// RecordCleanupRun implements cleanup.MetricsSink, counting one
// successful chunk and the rows it deleted.
func (r *Registry) RecordCleanupRun(deleted int64) {
	r.CleanupRunsTotal.Inc()
	r.CleanupDeletedTotal.Add(float64(deleted))
}

// RecordCleanupError implements cleanup.MetricsSink.
func (r *Registry) RecordCleanupError() {
	r.CleanupErrorsTotal.Inc()
}
