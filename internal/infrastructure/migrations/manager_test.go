//go:build integration

// This file drives MigrationManager against a real PostgreSQL container.
// It's excluded from a plain `go test ./...` run; invoke it with
// `go test -tags=integration ./internal/infrastructure/migrations/...`
// against a machine with Docker available.
package migrations

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("glacialcache_migrations_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func newManager(t *testing.T, connStr string) *MigrationManager {
	t.Helper()
	config := &MigrationConfig{
		Driver:      "pgx",
		DSN:         connStr,
		Dialect:     "postgres",
		Dir:         "../../../migrations",
		Table:       "goose_db_version",
		Schema:      "public",
		Timeout:     time.Minute,
		MaxRetries:  1,
		RetryDelay:  10 * time.Millisecond,
		LockTimeout: 10 * time.Second,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})),
	}
	mgr, err := NewMigrationManager(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Disconnect(context.Background()) })
	return mgr
}

func TestMigrationManager_ConnectDisconnect(t *testing.T) {
	mgr := newManager(t, startPostgres(t))
	ctx := context.Background()

	require.NoError(t, mgr.Connect(ctx))
}

func TestMigrationManager_Up_AppliesMigrations(t *testing.T) {
	mgr := newManager(t, startPostgres(t))
	ctx := context.Background()
	require.NoError(t, mgr.Connect(ctx))

	require.NoError(t, mgr.Up(ctx))

	version, err := mgr.Version(ctx)
	require.NoError(t, err)
	assert.Greater(t, version, int64(0))
}

func TestMigrationManager_Status_ReportsAppliedMigrations(t *testing.T) {
	mgr := newManager(t, startPostgres(t))
	ctx := context.Background()
	require.NoError(t, mgr.Connect(ctx))
	require.NoError(t, mgr.Up(ctx))

	statuses, err := mgr.Status(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	for _, s := range statuses {
		assert.True(t, s.IsApplied)
	}
}

func TestMigrationManager_DownByOne_RollsBackLastMigration(t *testing.T) {
	mgr := newManager(t, startPostgres(t))
	ctx := context.Background()
	require.NoError(t, mgr.Connect(ctx))
	require.NoError(t, mgr.Up(ctx))

	upVersion, err := mgr.Version(ctx)
	require.NoError(t, err)
	require.Greater(t, upVersion, int64(0))

	require.NoError(t, mgr.DownByOne(ctx))

	downVersion, err := mgr.Version(ctx)
	require.NoError(t, err)
	assert.Less(t, downVersion, upVersion)
}
