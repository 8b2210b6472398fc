package glacialcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vitaliisemenov/glacialcache/internal/pgsource"
	"github.com/vitaliisemenov/glacialcache/internal/resilience"
	"github.com/vitaliisemenov/glacialcache/internal/sqlbuilder"
)

// ErrNotFound is returned by the read operations when key does not exist
// or has already expired. It is distinct from Kind, which classifies
// infrastructure failures rather than an ordinary cache miss.
var ErrNotFound = errors.New("glacialcache: key not found")

const defaultBatchChunkSize = 500

// Config is the subset of cache configuration the engine needs. It is
// derived from config.CacheConfig by the supervisor.
type Config struct {
	MinInterval             time.Duration
	MaxInterval             time.Duration
	DefaultSliding          time.Duration
	DefaultAbsoluteRelative time.Duration
	MaxBatchSize            int
}

// Options describes an entry's expiration. At most one of
// AbsoluteExpiration and AbsoluteExpirationRelative may be set; either
// may be combined with SlidingExpiration. Leaving all three nil defers
// to the server-side default interval.
type Options struct {
	AbsoluteExpiration         *time.Time
	AbsoluteExpirationRelative *time.Duration
	SlidingExpiration          *time.Duration
}

func (o Options) validate(op string) error {
	if o.AbsoluteExpiration != nil && o.AbsoluteExpirationRelative != nil {
		return &Error{Kind: KindInvalidArgument, Op: op,
			Err: errors.New("absolute_expiration and absolute_expiration_relative are mutually exclusive")}
	}
	return nil
}

// normalize resolves Options into the (absolute, sliding) pair bound as
// @absolute/@sliding. AbsoluteExpirationRelative is folded into a
// concrete AbsoluteExpiration; both derived durations are clamped to
// [MinInterval, MaxInterval] and the clamp is logged at warn rather than
// rejected. An Options with nothing set returns (nil, nil): the SQL
// CASE expression applies @default_interval itself, so no client-side
// default is inserted here.
func (o Options) normalize(cfg Config, now time.Time, logger *slog.Logger) (*time.Time, *time.Duration) {
	var absolute *time.Time
	var sliding *time.Duration

	if o.AbsoluteExpirationRelative != nil {
		d := clamp(cfg, *o.AbsoluteExpirationRelative, "absolute_expiration_relative", logger)
		at := now.Add(d)
		absolute = &at
	} else if o.AbsoluteExpiration != nil {
		at := *o.AbsoluteExpiration
		absolute = &at
	}

	if o.SlidingExpiration != nil {
		d := clamp(cfg, *o.SlidingExpiration, "sliding_expiration", logger)
		sliding = &d
	}

	return absolute, sliding
}

func clamp(cfg Config, d time.Duration, field string, logger *slog.Logger) time.Duration {
	clamped := d
	switch {
	case cfg.MinInterval > 0 && clamped < cfg.MinInterval:
		clamped = cfg.MinInterval
	case cfg.MaxInterval > 0 && clamped > cfg.MaxInterval:
		clamped = cfg.MaxInterval
	default:
		return clamped
	}
	if logger != nil {
		logger.Warn("clamped expiration duration",
			"event", "cache.expiration_clamped",
			"field", field,
			"requested", d,
			"clamped_to", clamped)
	}
	return clamped
}

// Entry is a full row as returned by the RETURNING clause of the
// read/renew statements, for callers that need the metadata alongside
// the value (GetEntry, in particular, uses ValueType to detect a
// serializer mismatch).
type Entry struct {
	Value              []byte
	AbsoluteExpiration *time.Time
	SlidingInterval    *time.Duration
	ValueType          string
	ValueSize          int
	NextExpiration     time.Time
}

// Cache is the read/write/refresh/remove engine: it renders no SQL of
// its own, delegating statement text to sqlbuilder.Builder and
// execution resilience to resilience.Policy.
type Cache struct {
	source  *pgsource.Source
	builder *sqlbuilder.Builder
	policy  *resilience.Policy
	cfg     Config
	logger  *slog.Logger
	sink    MetricsSink
}

// MetricsSink receives per-operation observations for external
// reporting. pgmetrics.Registry implements it; the cache works without
// one set.
type MetricsSink interface {
	ObserveOperation(op, outcome string, d time.Duration)
	IncMiss()
}

// SetMetricsSink wires a Prometheus (or other) reporter. Safe to call
// before the first operation; not synchronized against in-flight calls.
func (c *Cache) SetMetricsSink(sink MetricsSink) { c.sink = sink }

func (c *Cache) observe(op string, start time.Time, err error) {
	if c.sink == nil {
		return
	}
	outcome := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		outcome = "miss"
		c.sink.IncMiss()
	case err != nil:
		outcome = "error"
	}
	c.sink.ObserveOperation(op, outcome, time.Since(start))
}

// NewCache wires the statement builder, connection source, and
// resilience policy together with cache-level configuration.
func NewCache(source *pgsource.Source, builder *sqlbuilder.Builder, policy *resilience.Policy, cfg Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{source: source, builder: builder, policy: policy, cfg: cfg, logger: logger}
}

func (c *Cache) exec(ctx context.Context, sql string, args pgx.NamedArgs) (int64, error) {
	var rows int64
	err := c.policy.Run(ctx, func(ctx context.Context) error {
		tag, err := c.source.Exec(ctx, sql, args)
		if err != nil {
			return err
		}
		rows = tag.RowsAffected()
		return nil
	})
	return rows, err
}

// Set writes an untyped byte value. Use SetEntry for typed values
// recorded with a Serializer tag.
func (c *Cache) Set(ctx context.Context, key string, value []byte, opts Options) error {
	return c.setTagged(ctx, key, value, "", opts)
}

func (c *Cache) setTagged(ctx context.Context, key string, value []byte, valueType string, opts Options) (err error) {
	start := time.Now()
	defer func() { c.observe("set", start, err) }()
	if err = opts.validate("Cache.Set"); err != nil {
		return err
	}
	absolute, sliding := opts.normalize(c.cfg, time.Now(), c.logger)

	args := pgx.NamedArgs{
		"key":              key,
		"value":            value,
		"absolute":         absolute,
		"sliding":          toIntervalPtr(sliding),
		"value_type":       valueType,
		"value_size":       len(value),
		"default_interval": c.defaultInterval(),
	}
	if _, execErr := c.exec(ctx, c.builder.Set(), args); execErr != nil {
		err = &Error{Kind: Classify(execErr), Op: "Cache.Set", Err: execErr}
		return err
	}
	return nil
}

func (c *Cache) defaultInterval() pgtype.Interval {
	d := c.cfg.DefaultSliding
	if d <= 0 {
		d = c.cfg.DefaultAbsoluteRelative
	}
	return toInterval(d)
}

// SetInput is one row of a SetMultiple call.
type SetInput struct {
	Key     string
	Value   []byte
	Options Options
}

// SetMultiple upserts entries in chunks of at most cfg.MaxBatchSize rows
// per statement. Duplicate keys within the input keep only the last
// occurrence, matching ON CONFLICT semantics within a single VALUES
// list (Postgres rejects a statement that targets the same conflict key
// twice).
func (c *Cache) SetMultiple(ctx context.Context, entries []SetInput) (err error) {
	start := time.Now()
	defer func() { c.observe("set_multiple", start, err) }()

	deduped := dedupeSetInputs(entries)
	chunkSize := c.chunkSize()

	for lo := 0; lo < len(deduped); lo += chunkSize {
		hi := lo + chunkSize
		if hi > len(deduped) {
			hi = len(deduped)
		}
		if err = c.setChunk(ctx, deduped[lo:hi]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) setChunk(ctx context.Context, chunk []SetInput) error {
	sql := c.builder.SetMultiple(len(chunk))
	args := pgx.NamedArgs{"default_interval": c.defaultInterval()}
	now := time.Now()
	for i, in := range chunk {
		if err := in.Options.validate("Cache.SetMultiple"); err != nil {
			return err
		}
		absolute, sliding := in.Options.normalize(c.cfg, now, c.logger)
		args[fmt.Sprintf("key%d", i)] = in.Key
		args[fmt.Sprintf("value%d", i)] = in.Value
		args[fmt.Sprintf("absolute%d", i)] = absolute
		args[fmt.Sprintf("sliding%d", i)] = toIntervalPtr(sliding)
		args[fmt.Sprintf("value_type%d", i)] = ""
		args[fmt.Sprintf("value_size%d", i)] = len(in.Value)
	}
	_, err := c.exec(ctx, sql, args)
	if err != nil {
		return &Error{Kind: Classify(err), Op: "Cache.SetMultiple", Err: err}
	}
	return nil
}

func dedupeSetInputs(entries []SetInput) []SetInput {
	lastIdx := make(map[string]int, len(entries))
	for i, e := range entries {
		lastIdx[e.Key] = i
	}
	kept := make([]SetInput, 0, len(lastIdx))
	for i, e := range entries {
		if lastIdx[e.Key] == i {
			kept = append(kept, e)
		}
	}
	return kept
}

func (c *Cache) chunkSize() int {
	if c.cfg.MaxBatchSize > 0 {
		return c.cfg.MaxBatchSize
	}
	return defaultBatchChunkSize
}

// Get returns key's value, renewing its sliding expiration if it has
// one. It returns ErrNotFound if key does not exist or has expired.
func (c *Cache) Get(ctx context.Context, key string) (value []byte, err error) {
	start := time.Now()
	defer func() { c.observe("get", start, err) }()

	err = c.policy.Run(ctx, func(ctx context.Context) error {
		conn, err := c.source.Acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Release()
		return conn.QueryRow(ctx, c.builder.GetValueOnly(), pgx.NamedArgs{"key": key, "default_interval": c.defaultInterval()}).Scan(&value)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		err = ErrNotFound
		return nil, err
	}
	if err != nil {
		err = &Error{Kind: Classify(err), Op: "Cache.Get", Err: err}
		return nil, err
	}
	return value, nil
}

// GetWithMetadata is Get plus the row's expiration/value_type metadata,
// used by GetEntry to detect a serializer mismatch.
func (c *Cache) GetWithMetadata(ctx context.Context, key string) (entry Entry, err error) {
	start := time.Now()
	defer func() { c.observe("get_entry", start, err) }()

	var absolute *time.Time
	var sliding pgtype.Interval

	err = c.policy.Run(ctx, func(ctx context.Context) error {
		conn, err := c.source.Acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Release()
		return conn.QueryRow(ctx, c.builder.Get(), pgx.NamedArgs{"key": key, "default_interval": c.defaultInterval()}).
			Scan(&entry.Value, &absolute, &sliding, &entry.ValueType, &entry.ValueSize, &entry.NextExpiration)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		err = ErrNotFound
		return Entry{}, err
	}
	if err != nil {
		err = &Error{Kind: Classify(err), Op: "Cache.GetWithMetadata", Err: err}
		return Entry{}, err
	}
	entry.AbsoluteExpiration = absolute
	if sliding.Valid {
		d := fromInterval(sliding)
		entry.SlidingInterval = &d
	}
	return entry, nil
}

// GetMultiple returns the subset of keys that exist and are unexpired,
// renewing sliding expirations in the same statement. Missing keys are
// simply absent from the result rather than an error.
func (c *Cache) GetMultiple(ctx context.Context, keys []string) (result map[string][]byte, err error) {
	start := time.Now()
	defer func() { c.observe("get_multiple", start, err) }()

	deduped := dedupeKeys(keys)
	result = make(map[string][]byte, len(deduped))
	chunkSize := c.chunkSize()

	for lo := 0; lo < len(deduped); lo += chunkSize {
		hi := lo + chunkSize
		if hi > len(deduped) {
			hi = len(deduped)
		}
		if err = c.getMultipleChunk(ctx, deduped[lo:hi], result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (c *Cache) getMultipleChunk(ctx context.Context, keys []string, result map[string][]byte) error {
	err := c.policy.Run(ctx, func(ctx context.Context) error {
		conn, err := c.source.Acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Release()

		rows, err := conn.Query(ctx, c.builder.GetMultiple(), pgx.NamedArgs{"keys": keys, "default_interval": c.defaultInterval()})
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var key string
			var value []byte
			var absolute *time.Time
			var sliding pgtype.Interval
			var valueType string
			var valueSize int
			var nextExpiration time.Time
			if err := rows.Scan(&key, &value, &absolute, &sliding, &valueType, &valueSize, &nextExpiration); err != nil {
				return err
			}
			result[key] = value
		}
		return rows.Err()
	})
	if err != nil {
		return &Error{Kind: Classify(err), Op: "Cache.GetMultiple", Err: err}
	}
	return nil
}

func dedupeKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// Remove deletes key. It does not report an error when key does not
// exist; removal is idempotent.
func (c *Cache) Remove(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { c.observe("remove", start, err) }()

	if _, execErr := c.exec(ctx, c.builder.Remove(), pgx.NamedArgs{"key": key}); execErr != nil {
		err = &Error{Kind: Classify(execErr), Op: "Cache.Remove", Err: execErr}
		return err
	}
	return nil
}

// RemoveMultiple deletes keys in chunks of at most cfg.MaxBatchSize and
// reports how many rows were actually removed, i.e. how many of keys
// were present and live at the time of deletion.
func (c *Cache) RemoveMultiple(ctx context.Context, keys []string) (removed int64, err error) {
	start := time.Now()
	defer func() { c.observe("remove_multiple", start, err) }()

	deduped := dedupeKeys(keys)
	chunkSize := c.chunkSize()
	for lo := 0; lo < len(deduped); lo += chunkSize {
		hi := lo + chunkSize
		if hi > len(deduped) {
			hi = len(deduped)
		}
		rows, execErr := c.exec(ctx, c.builder.RemoveMultiple(), pgx.NamedArgs{"keys": deduped[lo:hi]})
		if execErr != nil {
			err = &Error{Kind: Classify(execErr), Op: "Cache.RemoveMultiple", Err: execErr}
			return removed, err
		}
		removed += rows
	}
	return removed, nil
}

// Refresh renews key's sliding expiration without returning its value.
// Missing keys, expired keys, and entries with no sliding expiration
// are all no-ops rather than errors.
func (c *Cache) Refresh(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { c.observe("refresh", start, err) }()

	if _, execErr := c.exec(ctx, c.builder.Refresh(), pgx.NamedArgs{"key": key, "default_interval": c.defaultInterval()}); execErr != nil {
		err = &Error{Kind: Classify(execErr), Op: "Cache.Refresh", Err: execErr}
		return err
	}
	return nil
}

// RefreshMultiple renews sliding expirations for keys in chunks of at
// most cfg.MaxBatchSize and reports how many rows were refreshed. Keys
// with no sliding expiration, or that do not exist, are silently
// skipped and do not count toward the returned total.
func (c *Cache) RefreshMultiple(ctx context.Context, keys []string) (refreshed int64, err error) {
	start := time.Now()
	defer func() { c.observe("refresh_multiple", start, err) }()

	deduped := dedupeKeys(keys)
	chunkSize := c.chunkSize()
	for lo := 0; lo < len(deduped); lo += chunkSize {
		hi := lo + chunkSize
		if hi > len(deduped) {
			hi = len(deduped)
		}
		rows, execErr := c.exec(ctx, c.builder.RefreshMultiple(), pgx.NamedArgs{"keys": deduped[lo:hi], "default_interval": c.defaultInterval()})
		if execErr != nil {
			err = &Error{Kind: Classify(execErr), Op: "Cache.RefreshMultiple", Err: execErr}
			return refreshed, err
		}
		refreshed += rows
	}
	return refreshed, nil
}

// GetEntry reads key and decodes it with s, returning KindDecodeError if
// the stored value_type tag does not match s.Tag.
func GetEntry[T any](ctx context.Context, c *Cache, key string, s Serializer[T]) (T, error) {
	var zero T
	entry, err := c.GetWithMetadata(ctx, key)
	if err != nil {
		return zero, err
	}
	if entry.ValueType != "" && entry.ValueType != string(s.Tag) {
		return zero, &Error{Kind: KindDecodeError, Op: "GetEntry",
			Err: fmt.Errorf("stored value_type %q does not match serializer %q", entry.ValueType, s.Tag)}
	}
	v, err := s.Decode(entry.Value)
	if err != nil {
		return zero, &Error{Kind: KindDecodeError, Op: "GetEntry", Err: err}
	}
	return v, nil
}

// SetEntry encodes value with s and writes it, recording s.Tag into
// value_type so a later GetEntry with a different serializer is caught
// instead of silently misdecoding.
func SetEntry[T any](ctx context.Context, c *Cache, key string, value T, s Serializer[T], opts Options) error {
	data, err := s.Encode(value)
	if err != nil {
		return &Error{Kind: KindInvalidArgument, Op: "SetEntry", Err: err}
	}
	return c.setTagged(ctx, key, data, string(s.Tag), opts)
}
