// Package supervisor holds the live, swappable derived objects (the
// SQL builder, the connection source, the cache) behind one immutable
// snapshot of configuration: rebuild only what actually depends on
// what changed, expose the rest as plain getters, no per-field
// observers.
package supervisor

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"

	glacialcache "github.com/vitaliisemenov/glacialcache"
	"github.com/vitaliisemenov/glacialcache/internal/config"
	"github.com/vitaliisemenov/glacialcache/internal/pgsource"
	"github.com/vitaliisemenov/glacialcache/internal/resilience"
	"github.com/vitaliisemenov/glacialcache/internal/sqlbuilder"
)

// Supervisor owns the objects derived from configuration and rebuilds
// only the ones whose inputs actually changed on each Apply call.
// Election and cleanup are not reconfigured here: the long-lived
// background loops are constructed once against the schema/table
// active at process startup.
type Supervisor struct {
	mu sync.Mutex

	cfg     atomic.Pointer[config.Config]
	builder atomic.Pointer[sqlbuilder.Builder]
	policy  atomic.Pointer[resilience.Policy]
	cache   atomic.Pointer[glacialcache.Cache]

	source    *pgsource.Source
	logger    *slog.Logger
	cacheSink glacialcache.MetricsSink
}

// SetCacheMetricsSink records the sink every derived Cache is wired to,
// including caches built by later Apply calls (Apply swaps the Cache, so
// a sink set only on the current one would be lost on reconfiguration).
func (s *Supervisor) SetCacheMetricsSink(sink glacialcache.MetricsSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheSink = sink
	if cache := s.cache.Load(); cache != nil {
		cache.SetMetricsSink(sink)
	}
}

// New creates an unconfigured Supervisor; call Apply before reading any
// getter.
func New(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{logger: logger}
}

// Apply validates cfg and rebuilds the SQL builder and/or connection
// source only when the fields they're derived from changed, then swaps
// in a freshly wired Cache. The very first call always builds
// everything and connects the pool.
func (s *Supervisor) Apply(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("supervisor: invalid config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cfg.Load()

	builder := s.builder.Load()
	if old == nil || old.Cache.SchemaName != cfg.Cache.SchemaName || old.Cache.TableName != cfg.Cache.TableName {
		nb, err := sqlbuilder.New(cfg.Cache.SchemaName, cfg.Cache.TableName)
		if err != nil {
			return fmt.Errorf("supervisor: rebuild sql builder: %w", err)
		}
		builder = nb
		s.logger.Info("rebuilt sql builder", "event", "supervisor.builder_rebuilt",
			"schema", cfg.Cache.SchemaName, "table", cfg.Cache.TableName)
	}

	sourceCfg := &pgsource.Config{
		ConnectionString:  cfg.Connection.ConnectionString,
		MinConns:          cfg.Connection.Pool.MinSize,
		MaxConns:          cfg.Connection.Pool.MaxSize,
		MaxConnIdleTime:   cfg.Connection.Pool.IdleLifetime,
		HealthCheckPeriod: cfg.Connection.Pool.PruningInterval,
		ConnectTimeout:    cfg.Connection.Timeouts.Connection,
		ApplicationName:   cfg.Connection.Pool.ApplicationName,
	}

	switch {
	case s.source == nil:
		s.source = pgsource.New(sourceCfg, s.logger)
		if err := s.source.Connect(ctx); err != nil {
			return fmt.Errorf("supervisor: connect: %w", err)
		}
	case old == nil || old.Connection.ConnectionString != cfg.Connection.ConnectionString ||
		old.Connection.Pool != cfg.Connection.Pool ||
		old.Connection.Timeouts.Connection != cfg.Connection.Timeouts.Connection:
		if err := s.source.Rebuild(ctx, sourceCfg); err != nil {
			return fmt.Errorf("supervisor: rebuild connection source: %w", err)
		}
		s.logger.Info("rebuilt connection source", "event", "supervisor.source_rebuilt")
	}

	policy := resilience.NewPolicy("cache", resilienceConfigFrom(cfg), seedFor(cfg.Cache.SchemaName+"."+cfg.Cache.TableName))
	cache := glacialcache.NewCache(s.source, builder, policy, cacheConfigFrom(cfg), s.logger)
	if s.cacheSink != nil {
		cache.SetMetricsSink(s.cacheSink)
	}

	s.builder.Store(builder)
	s.policy.Store(policy)
	s.cache.Store(cache)
	s.cfg.Store(cfg)

	return nil
}

// Cache returns the current derived Cache. Callers should fetch it
// fresh for each operation rather than holding onto it, since Apply may
// swap in a new one.
func (s *Supervisor) Cache() *glacialcache.Cache { return s.cache.Load() }

// Builder returns the current SQL builder, for the schema manager and
// the cleanup loop.
func (s *Supervisor) Builder() *sqlbuilder.Builder { return s.builder.Load() }

// Policy returns the current resilience policy, so the cleanup loop
// wraps its deletes in the same timeout/breaker/retry composition as
// the cache's own reads and writes.
func (s *Supervisor) Policy() *resilience.Policy { return s.policy.Load() }

// Source returns the connection source, for the election coordinator's
// dedicated connection and the schema/cleanup pooled access.
func (s *Supervisor) Source() *pgsource.Source { return s.source }

// Config returns the configuration snapshot currently in effect.
func (s *Supervisor) Config() *config.Config { return s.cfg.Load() }

func resilienceConfigFrom(cfg *config.Config) resilience.Config {
	// resilience.timeouts.operation_timeout wins when both are set;
	// connection.timeouts.operation is the fallback so either spelling
	// of the per-operation deadline takes effect.
	opTimeout := cfg.Resilience.Timeouts.OperationTimeout
	if opTimeout <= 0 {
		opTimeout = cfg.Connection.Timeouts.Operation
	}
	return resilience.Config{
		Enable:                  cfg.Resilience.Enable,
		MaxAttempts:             cfg.Resilience.Retry.MaxAttempts,
		BaseDelay:               cfg.Resilience.Retry.BaseDelay,
		BreakerEnable:           cfg.Resilience.CircuitBreaker.Enable,
		BreakerFailureThreshold: cfg.Resilience.CircuitBreaker.FailureThreshold,
		BreakerDurationOfBreak:  cfg.Resilience.CircuitBreaker.DurationOfBreak,
		OperationTimeout:        opTimeout,
	}
}

func cacheConfigFrom(cfg *config.Config) glacialcache.Config {
	return glacialcache.Config{
		MinInterval:             cfg.Cache.MinInterval,
		MaxInterval:             cfg.Cache.MaxInterval,
		DefaultSliding:          cfg.Cache.DefaultSliding,
		DefaultAbsoluteRelative: cfg.Cache.DefaultAbsoluteRelative,
		MaxBatchSize:            cfg.Cache.MaxBatchSize,
	}
}

func seedFor(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64())
}
