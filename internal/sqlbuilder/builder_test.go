package sqlbuilder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsInvalidIdentifiers(t *testing.T) {
	_, err := New("public; DROP TABLE x;--", "glacial_cache")
	require.Error(t, err)

	_, err = New("public", "glacial cache")
	require.Error(t, err)
}

func TestNew_AcceptsValidIdentifiers(t *testing.T) {
	b, err := New("public", "glacial_cache")
	require.NoError(t, err)
	assert.Equal(t, "public", b.Schema())
	assert.Equal(t, "glacial_cache", b.Table())
	assert.Contains(t, b.QualifiedTable(), "glacial_cache")
}

func TestGet_ContainsSlidingRenewalAndLivenessGuard(t *testing.T) {
	b, err := New("public", "glacial_cache")
	require.NoError(t, err)

	sql := b.Get()
	assert.Contains(t, sql, "UPDATE")
	assert.Contains(t, sql, "next_expiration > now()")
	assert.Contains(t, sql, "RETURNING value, absolute_expiration, sliding_interval, value_type, value_size, next_expiration")
}

func TestReadStatements_RenewFromStoredColumnsNotParameters(t *testing.T) {
	b, err := New("public", "glacial_cache")
	require.NoError(t, err)

	// The caller of a read/refresh doesn't know the entry's expirations;
	// renewal must consult the row's own columns. Only the no-expiration
	// default arrives as a parameter.
	for _, sql := range []string{b.Get(), b.GetValueOnly(), b.GetMultiple(), b.Refresh(), b.RefreshMultiple()} {
		assert.Contains(t, sql, "now() + sliding_interval")
		assert.Contains(t, sql, "LEAST(now() + sliding_interval, absolute_expiration)")
		assert.Contains(t, sql, "@default_interval")
		assert.NotContains(t, sql, "@sliding")
		assert.NotContains(t, sql, "@absolute")
	}
}

func TestSet_BindsExpirationsAsParameters(t *testing.T) {
	b, err := New("public", "glacial_cache")
	require.NoError(t, err)

	sql := b.Set()
	assert.Contains(t, sql, "LEAST(now() + @sliding, @absolute)")
	assert.Contains(t, sql, "@default_interval")
}

func TestSet_UsesOnConflictUpsert(t *testing.T) {
	b, err := New("public", "glacial_cache")
	require.NoError(t, err)

	sql := b.Set()
	assert.Contains(t, sql, "INSERT INTO")
	assert.Contains(t, sql, "ON CONFLICT (key) DO UPDATE SET")
	assert.Contains(t, sql, "EXCLUDED.value")
}

func TestRefresh_RequiresSlidingIntervalAndLiveness(t *testing.T) {
	b, err := New("public", "glacial_cache")
	require.NoError(t, err)

	sql := b.Refresh()
	assert.Contains(t, sql, "sliding_interval IS NOT NULL")
	assert.Contains(t, sql, "next_expiration > now()")
}

func TestCleanupExpired_UsesSkipLockedChunking(t *testing.T) {
	b, err := New("public", "glacial_cache")
	require.NoError(t, err)

	sql := b.CleanupExpired()
	assert.Contains(t, sql, "FOR UPDATE SKIP LOCKED")
	assert.Contains(t, sql, "LIMIT @batch_size")
	assert.Contains(t, sql, "next_expiration <= @now")
}

func TestSetMultiple_RendersOneRowPerEntry(t *testing.T) {
	b, err := New("public", "glacial_cache")
	require.NoError(t, err)

	sql := b.SetMultiple(3)
	assert.Equal(t, 3, strings.Count(sql, "@key"))
	assert.Contains(t, sql, "@key0")
	assert.Contains(t, sql, "@key1")
	assert.Contains(t, sql, "@key2")
	assert.Contains(t, sql, "ON CONFLICT (key) DO UPDATE SET")
}

func TestSetMultiple_ZeroRows_ReturnsEmpty(t *testing.T) {
	b, err := New("public", "glacial_cache")
	require.NoError(t, err)
	assert.Empty(t, b.SetMultiple(0))
}

func TestGetMultiple_UsesArrayParameter(t *testing.T) {
	b, err := New("public", "glacial_cache")
	require.NoError(t, err)

	sql := b.GetMultiple()
	assert.Contains(t, sql, "key = ANY(@keys)")
}
