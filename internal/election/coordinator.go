package election

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	glacialcache "github.com/vitaliisemenov/glacialcache"
	"github.com/vitaliisemenov/glacialcache/internal/lockkey"
	"github.com/vitaliisemenov/glacialcache/internal/pgsource"
)

const verificationTimeout = 5 * time.Second

// Config bounds the coordinator's scheduling. Field names mirror
// config.LockConfig; this package takes plain values rather than the
// mapstructure-tagged config type so it has no dependency on the
// configuration layer's wire format.
type Config struct {
	InstanceID string

	VerificationInterval   time.Duration
	VoluntaryYieldInterval time.Duration
	YieldWindow            time.Duration
	BaseBackoff            time.Duration
	MaxBackoff             time.Duration
	Jitter                 time.Duration

	OnElected func(instanceID string, at time.Time)
	OnLost    func(reason string)
}

// Coordinator runs the election loop against one schema/table's
// advisory lock for the process lifetime.
type Coordinator struct {
	source  *pgsource.Source
	lockKey int64
	cfg     Config
	logger  *slog.Logger
	state   *State
	rng     *rand.Rand

	disabled bool
}

// NewCoordinator builds a Coordinator for schema.table's advisory lock.
// If cfg.InstanceID is empty, a random UUID is generated.
func NewCoordinator(source *pgsource.Source, schema, table string, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.VerificationInterval <= 0 {
		cfg.VerificationInterval = 30 * time.Second
	}
	if cfg.VoluntaryYieldInterval <= 0 {
		cfg.VoluntaryYieldInterval = 5 * time.Minute
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 5 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	return &Coordinator{
		source:  source,
		lockKey: lockkey.Election(schema, table),
		cfg:     cfg,
		logger:  logger,
		state:   NewState(cfg.InstanceID),
		rng:     rand.New(rand.NewSource(seedFor(cfg.InstanceID))),
	}
}

func seedFor(instanceID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(instanceID))
	return int64(h.Sum64())
}

// State returns the read handle shared with the cleanup loop.
func (c *Coordinator) State() *State { return c.state }

// Run drives the election loop until ctx is cancelled. It blocks for
// the process lifetime; callers run it in its own goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	attempt := 0
	for ctx.Err() == nil {
		if c.disabled {
			<-ctx.Done()
			return
		}

		conn, acquired, err := c.tryAcquire(ctx)
		if err != nil {
			if glacialcache.Classify(err) == glacialcache.KindPermissionDenied {
				c.logger.Error("election permanently disabled: missing advisory lock privilege; grant the role session-level advisory lock usage to re-enable",
					"event", "election.disabled", "error", err)
				c.disabled = true
				continue
			}
			c.logger.Warn("advisory lock acquisition failed, backing off", "event", "election.acquire_error", "error", err)
			c.sleepBackoff(ctx, attempt)
			attempt++
			continue
		}
		if !acquired {
			c.sleepBackoff(ctx, attempt)
			attempt++
			continue
		}

		attempt = 0
		now := time.Now()
		c.state.markElected(now)
		c.logger.Info("acquired leadership", "event", "election.acquired", "instance_id", c.cfg.InstanceID)
		if c.cfg.OnElected != nil {
			c.cfg.OnElected(c.cfg.InstanceID, now)
		}

		reason := c.holdLeadership(ctx, conn)
		c.state.markLost(time.Now())
		c.logger.Info("lost leadership", "event", "election.lost", "reason", reason)
		if c.cfg.OnLost != nil {
			c.cfg.OnLost(reason)
		}
		if reason == "shutdown" {
			return
		}
	}
}

// tryAcquire opens a dedicated connection and attempts the non-blocking
// advisory lock primitive on it. The returned connection is the
// leader-held connection and must stay open for the duration of
// leadership; the caller closes it via holdLeadership's release path.
func (c *Coordinator) tryAcquire(ctx context.Context) (*pgx.Conn, bool, error) {
	conn, err := c.source.AcquireDedicated(ctx)
	if err != nil {
		return nil, false, err
	}

	acquireCtx, cancel := context.WithTimeout(ctx, verificationTimeout)
	defer cancel()

	var acquired bool
	if err := conn.QueryRow(acquireCtx, "SELECT pg_try_advisory_lock($1)", c.lockKey).Scan(&acquired); err != nil {
		conn.Close(context.Background())
		return nil, false, err
	}
	if !acquired {
		conn.Close(context.Background())
		return nil, false, nil
	}
	return conn, true, nil
}

// holdLeadership runs the verification/voluntary-yield schedule on the
// leader-held connection until it loses the lock, yields, or ctx is
// cancelled. It always closes conn before returning.
func (c *Coordinator) holdLeadership(ctx context.Context, conn *pgx.Conn) string {
	defer conn.Close(context.Background())

	verify := time.NewTicker(c.cfg.VerificationInterval)
	defer verify.Stop()
	yield := time.NewTimer(c.cfg.VoluntaryYieldInterval)
	defer yield.Stop()

	for {
		select {
		case <-ctx.Done():
			c.releaseLock(conn)
			return "shutdown"

		case <-verify.C:
			held, err := c.verifyHeld(ctx, conn)
			if err != nil {
				c.logger.Warn("election verification query failed", "event", "election.verify_error", "error", err)
				return "lock-lost"
			}
			if !held {
				return "lock-lost"
			}

		case <-yield.C:
			c.releaseLock(conn)
			c.sleepYieldWindow(ctx)
			return "voluntary yield"
		}
	}
}

// verifyHeld queries pg_locks for this session's hold on lockKey. A
// session-scoped advisory lock acquired via the single-bigint form is
// recorded in pg_locks with the key's high/low 32 bits split across
// classid/objid.
func (c *Coordinator) verifyHeld(ctx context.Context, conn *pgx.Conn) (bool, error) {
	verifyCtx, cancel := context.WithTimeout(ctx, verificationTimeout)
	defer cancel()

	classID := int32(c.lockKey >> 32)
	objID := int32(c.lockKey & 0xffffffff)

	var held bool
	err := conn.QueryRow(verifyCtx, `
SELECT EXISTS (
	SELECT 1 FROM pg_locks
	WHERE locktype = 'advisory' AND pid = pg_backend_pid()
	AND classid = $1 AND objid = $2
)`, classID, objID).Scan(&held)
	return held, err
}

func (c *Coordinator) releaseLock(conn *pgx.Conn) {
	releaseCtx, cancel := context.WithTimeout(context.Background(), verificationTimeout)
	defer cancel()
	var released bool
	if err := conn.QueryRow(releaseCtx, "SELECT pg_advisory_unlock($1)", c.lockKey).Scan(&released); err != nil {
		c.logger.Warn("failed to release advisory lock", "event", "election.release_error", "error", err)
	}
}

func (c *Coordinator) sleepYieldWindow(ctx context.Context) {
	if c.cfg.YieldWindow <= 0 {
		return
	}
	d := time.Duration(c.rng.Int63n(int64(c.cfg.YieldWindow) + 1))
	c.sleep(ctx, d)
}

// sleepBackoff waits base*2^attempt, capped at max, plus up to ±jitter,
// seeded deterministically from instance_id so a fleet of instances
// doesn't retry in lockstep.
func (c *Coordinator) sleepBackoff(ctx context.Context, attempt int) {
	delay := c.cfg.BaseBackoff
	for i := 0; i < attempt && i < 20; i++ {
		delay *= 2
		if c.cfg.MaxBackoff > 0 && delay >= c.cfg.MaxBackoff {
			break
		}
	}
	if c.cfg.MaxBackoff > 0 && delay > c.cfg.MaxBackoff {
		delay = c.cfg.MaxBackoff
	}
	if c.cfg.Jitter > 0 {
		offset := time.Duration(c.rng.Int63n(int64(2*c.cfg.Jitter+1))) - c.cfg.Jitter
		delay += offset
	}
	if delay < 0 {
		delay = 0
	}
	c.sleep(ctx, delay)
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
