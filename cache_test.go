package glacialcache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_Validate_RejectsBothAbsoluteForms(t *testing.T) {
	abs := time.Now()
	rel := time.Hour
	opts := Options{AbsoluteExpiration: &abs, AbsoluteExpirationRelative: &rel}

	err := opts.validate("Cache.Set")
	require.Error(t, err)
	var cacheErr *Error
	require.ErrorAs(t, err, &cacheErr)
	assert.Equal(t, KindInvalidArgument, cacheErr.Kind)
}

func TestOptions_Validate_AllowsEitherAloneOrNeither(t *testing.T) {
	abs := time.Now()
	rel := time.Hour
	sliding := 30 * time.Minute

	assert.NoError(t, (Options{}).validate("op"))
	assert.NoError(t, (Options{AbsoluteExpiration: &abs}).validate("op"))
	assert.NoError(t, (Options{AbsoluteExpirationRelative: &rel}).validate("op"))
	assert.NoError(t, (Options{SlidingExpiration: &sliding, AbsoluteExpiration: &abs}).validate("op"))
}

func TestOptions_Normalize_RelativeBecomesAbsolute(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rel := time.Hour
	opts := Options{AbsoluteExpirationRelative: &rel}

	absolute, sliding := opts.normalize(Config{}, now, nil)
	require.NotNil(t, absolute)
	assert.Nil(t, sliding)
	assert.Equal(t, now.Add(time.Hour), *absolute)
}

func TestOptions_Normalize_LiteralAbsolutePassesThroughUnclamped(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	at := now.Add(48 * time.Hour)
	opts := Options{AbsoluteExpiration: &at}

	absolute, _ := opts.normalize(Config{MaxInterval: time.Hour}, now, nil)
	require.NotNil(t, absolute)
	assert.Equal(t, at, *absolute)
}

func TestOptions_Normalize_ClampsSlidingToMaxInterval(t *testing.T) {
	now := time.Now()
	sliding := 10 * time.Hour
	opts := Options{SlidingExpiration: &sliding}

	_, got := opts.normalize(Config{MaxInterval: time.Hour}, now, nil)
	require.NotNil(t, got)
	assert.Equal(t, time.Hour, *got)
}

func TestOptions_Normalize_ClampsRelativeToMinInterval(t *testing.T) {
	now := time.Now()
	rel := time.Second
	opts := Options{AbsoluteExpirationRelative: &rel}

	absolute, _ := opts.normalize(Config{MinInterval: time.Minute}, now, nil)
	require.NotNil(t, absolute)
	assert.Equal(t, now.Add(time.Minute), *absolute)
}

func TestOptions_Normalize_NoExpirationsReturnsNilNil(t *testing.T) {
	absolute, sliding := (Options{}).normalize(Config{}, time.Now(), nil)
	assert.Nil(t, absolute)
	assert.Nil(t, sliding)
}

func TestDedupeKeys_KeepsFirstOccurrenceOrder(t *testing.T) {
	got := dedupeKeys([]string{"a", "b", "a", "c", "b"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestDedupeSetInputs_KeepsLastValueForDuplicateKey(t *testing.T) {
	got := dedupeSetInputs([]SetInput{
		{Key: "a", Value: []byte("1")},
		{Key: "b", Value: []byte("2")},
		{Key: "a", Value: []byte("3")},
	})

	require.Len(t, got, 2)
	byKey := make(map[string][]byte, len(got))
	for _, in := range got {
		byKey[in.Key] = in.Value
	}
	assert.Equal(t, []byte("3"), byKey["a"])
	assert.Equal(t, []byte("2"), byKey["b"])
}

func TestCache_ChunkSize_DefaultsWhenUnset(t *testing.T) {
	c := &Cache{cfg: Config{}}
	assert.Equal(t, defaultBatchChunkSize, c.chunkSize())

	c2 := &Cache{cfg: Config{MaxBatchSize: 50}}
	assert.Equal(t, 50, c2.chunkSize())
}

type recordingSink struct {
	ops      []string
	outcomes []string
	misses   int
}

func (r *recordingSink) ObserveOperation(op, outcome string, d time.Duration) {
	r.ops = append(r.ops, op)
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingSink) IncMiss() { r.misses++ }

func TestCache_Observe_ClassifiesOutcomes(t *testing.T) {
	sink := &recordingSink{}
	c := &Cache{sink: sink}

	c.observe("get", time.Now(), nil)
	c.observe("get", time.Now(), ErrNotFound)
	c.observe("set", time.Now(), &Error{Kind: KindTransientIO, Op: "Cache.Set", Err: errors.New("reset")})

	assert.Equal(t, []string{"get", "get", "set"}, sink.ops)
	assert.Equal(t, []string{"ok", "miss", "error"}, sink.outcomes)
	assert.Equal(t, 1, sink.misses)
}

func TestCache_Observe_NilSinkIsNoOp(t *testing.T) {
	c := &Cache{}
	c.observe("get", time.Now(), nil)
}

func TestCache_DefaultInterval_PrefersSlidingOverAbsoluteRelative(t *testing.T) {
	c := &Cache{cfg: Config{DefaultSliding: time.Hour, DefaultAbsoluteRelative: 24 * time.Hour}}
	iv := c.defaultInterval()
	assert.Equal(t, time.Hour.Microseconds(), iv.Microseconds)

	c2 := &Cache{cfg: Config{DefaultAbsoluteRelative: 24 * time.Hour}}
	iv2 := c2.defaultInterval()
	assert.Equal(t, (24 * time.Hour).Microseconds(), iv2.Microseconds)
}
