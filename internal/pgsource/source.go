package pgsource

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MetricsSink receives pool-level observations for external reporting.
// pgmetrics.Registry implements it; Source works without one set.
type MetricsSink interface {
	SetPoolConnections(active, idle int32)
	ObservePoolAcquire(d time.Duration)
	IncPoolError(kind string)
}

// Source is the pooled connection factory: Acquire is the one operation
// most callers need, plus Rebuild for reconfiguration and
// AcquireDedicated for the one caller (the election coordinator) that
// needs a connection outside the pool's normal lifecycle.
type Source struct {
	pool     *pgxpool.Pool
	config   *Config
	logger   *slog.Logger
	metrics  *PoolMetrics
	sink     MetricsSink
	health   HealthChecker
	periodic *PeriodicHealthChecker
	isClosed atomic.Bool
}

// New creates a Source. Connect must be called before use.
func New(cfg *Config, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{
		config:  cfg,
		logger:  logger,
		metrics: NewPoolMetrics(),
	}
	s.health = NewHealthChecker(s)
	return s
}

// SetMetricsSink wires a Prometheus (or other) reporter; pool
// connection/error/acquire observations are forwarded to it from then
// on. Safe to call after Connect.
func (s *Source) SetMetricsSink(sink MetricsSink) {
	s.sink = sink
}

// Connect builds the underlying pgxpool.Pool and, when HealthCheckPeriod
// is positive, starts the periodic health checker.
func (s *Source) Connect(ctx context.Context) error {
	if s.isClosed.Load() {
		return ErrConnectionClosed
	}

	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	s.logger.Info("connecting to postgresql",
		"max_conns", s.config.MaxConns,
		"min_conns", s.config.MinConns)

	poolConfig, err := pgxpool.ParseConfig(s.config.DSN())
	if err != nil {
		s.recordConnectionError()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	poolConfig.MaxConns = s.config.MaxConns
	poolConfig.MinConns = s.config.MinConns
	poolConfig.MaxConnIdleTime = s.config.MaxConnIdleTime
	if s.config.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = s.config.HealthCheckPeriod
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	defer cancel()

	start := time.Now()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		s.recordConnectionError()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		s.recordConnectionError()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s.pool = pool
	s.recordConnectionWait(time.Since(start))
	s.metrics.RecordSuccessfulConnection()

	s.logger.Info("connected to postgresql", "connection_time", time.Since(start))

	if hc, ok := s.health.(*DefaultHealthChecker); ok && s.config.HealthCheckPeriod > 0 {
		s.periodic = NewPeriodicHealthChecker(hc, s.config.HealthCheckPeriod)
		s.periodic.Start(ctx)
	}

	return nil
}

// Acquire returns a pooled connection bound to ctx; callers must Release
// it when done (defer conn.Release()).
func (s *Source) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	if s.pool == nil {
		return nil, ErrNotConnected
	}
	start := time.Now()
	conn, err := s.pool.Acquire(ctx)
	s.recordConnectionWait(time.Since(start))
	if err != nil {
		s.recordConnectionError()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return conn, nil
}

// AcquireDedicated opens a connection outside the pool's lifecycle, for
// the election coordinator's leader-held connection. The caller owns
// closing it; it is never returned to the pool.
func (s *Source) AcquireDedicated(ctx context.Context) (*pgx.Conn, error) {
	connectCtx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	defer cancel()
	conn, err := pgx.Connect(connectCtx, s.config.DSN())
	if err != nil {
		s.recordConnectionError()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return conn, nil
}

// Rebuild closes the current pool (letting in-flight work drain) and
// opens a new one from cfg. Used by the supervisor on reconfiguration.
func (s *Source) Rebuild(ctx context.Context, cfg *Config) error {
	old := s.pool
	if s.periodic != nil {
		s.periodic.Stop()
	}
	s.config = cfg
	s.pool = nil
	if err := s.Connect(ctx); err != nil {
		return err
	}
	if old != nil {
		old.Close()
	}
	return nil
}

// Health runs a health check against the pool.
func (s *Source) Health(ctx context.Context) error {
	if s.isClosed.Load() {
		return ErrConnectionClosed
	}
	if s.pool == nil {
		return ErrNotConnected
	}
	return s.health.CheckHealth(ctx)
}

// Stats returns a snapshot of pool metrics.
func (s *Source) Stats() PoolStats {
	if s.pool == nil {
		return PoolStats{}
	}
	poolStats := s.pool.Stat()
	active := poolStats.AcquiredConns()
	idle := poolStats.IdleConns()
	s.metrics.UpdateConnectionStats(active, idle, int64(poolStats.TotalConns()))
	if s.sink != nil {
		s.sink.SetPoolConnections(active, idle)
	}
	return s.metrics.Snapshot()
}

// Exec runs sql without returning a result set, recording query timing
// and errors into the pool metrics. The cache engine and cleanup loop
// route their non-returning statements through here.
func (s *Source) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	if s.pool == nil {
		return pgconn.CommandTag{}, ErrNotConnected
	}
	start := time.Now()
	tag, err := s.pool.Exec(ctx, sql, args...)
	s.metrics.RecordQueryExecution(time.Since(start))
	if err != nil {
		s.metrics.RecordQueryError()
		if s.sink != nil {
			s.sink.IncPoolError("query")
		}
	}
	return tag, err
}

func (s *Source) recordConnectionError() {
	s.metrics.RecordConnectionError()
	if s.sink != nil {
		s.sink.IncPoolError("connection")
	}
}

func (s *Source) recordConnectionWait(d time.Duration) {
	s.metrics.RecordConnectionWait(d)
	if s.sink != nil {
		s.sink.ObservePoolAcquire(d)
	}
}

// Close stops the periodic health checker, closes the pool, and marks
// the source unusable.
func (s *Source) Close() error {
	if s.pool == nil {
		return nil
	}
	if s.isClosed.Load() {
		return ErrConnectionClosed
	}
	if s.periodic != nil {
		s.periodic.Stop()
	}
	s.pool.Close()
	s.isClosed.Store(true)
	return nil
}

// Pool returns the underlying pgxpool.Pool for callers that need direct
// pgx access (the schema manager's DDL execution).
func (s *Source) Pool() *pgxpool.Pool {
	return s.pool
}
