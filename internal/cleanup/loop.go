// Package cleanup runs the leader-gated expired-row deletion loop.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vitaliisemenov/glacialcache/internal/election"
	"github.com/vitaliisemenov/glacialcache/internal/pgsource"
	"github.com/vitaliisemenov/glacialcache/internal/resilience"
	"github.com/vitaliisemenov/glacialcache/internal/sqlbuilder"
)

// Config bounds the cleanup loop's schedule.
type Config struct {
	Interval     time.Duration
	MaxBatchSize int
}

// MetricsSink receives per-chunk observations for external reporting.
// pgmetrics.Registry implements it; the loop works without one set.
type MetricsSink interface {
	RecordCleanupRun(deleted int64)
	RecordCleanupError()
}

// Loop deletes expired rows on a schedule, but only while state reports
// this process as leader. It takes state as a read-only handle and
// never touches election.Coordinator's concrete type; the election and
// cleanup sides hold no pointers to each other.
type Loop struct {
	source  *pgsource.Source
	builder *sqlbuilder.Builder
	policy  *resilience.Policy
	state   *election.State
	cfg     Config
	logger  *slog.Logger
	sink    MetricsSink
}

// SetMetricsSink wires a reporter for chunk outcomes. Call before Run.
func (l *Loop) SetMetricsSink(sink MetricsSink) { l.sink = sink }

// NewLoop wires the cleanup loop's collaborators.
func NewLoop(source *pgsource.Source, builder *sqlbuilder.Builder, policy *resilience.Policy, state *election.State, cfg Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1000
	}
	return &Loop{source: source, builder: builder, policy: policy, state: state, cfg: cfg, logger: logger}
}

// Run ticks every cfg.Interval until ctx is cancelled. On each tick it
// runs CleanupExpired in chunks of at most cfg.MaxBatchSize rows,
// looping until a chunk returns fewer rows than the batch size (so a
// tick that finds more than one batch worth of expired rows doesn't
// have to wait for the next interval to catch up).
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	if !l.state.IsLeader() {
		l.logger.Info("skipping cleanup tick, not leader", "event", "cleanup.skipped")
		return
	}

	for {
		deleted, err := l.runChunk(ctx)
		if err != nil {
			l.logger.Warn("cleanup chunk failed", "event", "cleanup.error", "error", err)
			if l.sink != nil {
				l.sink.RecordCleanupError()
			}
			return
		}
		l.logger.Info("cleanup chunk complete", "event", "cleanup.run", "deleted", deleted)
		if l.sink != nil {
			l.sink.RecordCleanupRun(deleted)
		}
		if deleted < int64(l.cfg.MaxBatchSize) {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (l *Loop) runChunk(ctx context.Context) (int64, error) {
	var deleted int64
	err := l.policy.Run(ctx, func(ctx context.Context) error {
		tag, err := l.source.Exec(ctx, l.builder.CleanupExpired(), pgx.NamedArgs{
			"now":        time.Now(),
			"batch_size": l.cfg.MaxBatchSize,
		})
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		return nil
	})
	return deleted, err
}
