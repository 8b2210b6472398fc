// Package schema ensures the cache table exists. Setup runs inside a
// transaction-scoped advisory lock so concurrent instances sharing a
// table don't race on CREATE SCHEMA/TABLE.
package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitaliisemenov/glacialcache/internal/lockkey"
	"github.com/vitaliisemenov/glacialcache/internal/sqlbuilder"
)

const permissionDeniedSQLState = "42501"

// SetupRequiredError is returned when the executing role lacks CREATE
// privilege. It carries the DDL the operator should run manually; the
// manager never retries this class of failure.
type SetupRequiredError struct {
	Schema string
	Table  string
	DDL    string
	Cause  error
}

func (e *SetupRequiredError) Error() string {
	return fmt.Sprintf("schema setup requires elevated privileges on %s.%s; run manually:\n%s", e.Schema, e.Table, e.DDL)
}

func (e *SetupRequiredError) Unwrap() error { return e.Cause }

// Manager runs the idempotent setup DDL, gated by create_infrastructure.
type Manager struct {
	builder *sqlbuilder.Builder
	logger  *slog.Logger
}

// NewManager builds a Manager for the table builder describes.
func NewManager(builder *sqlbuilder.Builder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{builder: builder, logger: logger}
}

// Ensure runs CREATE SCHEMA/TABLE/INDEX inside a transaction serialized by
// the schema-setup advisory lock. It is idempotent: safe to call on every
// startup. Callers should only invoke it when create_infrastructure is
// enabled.
func (m *Manager) Ensure(ctx context.Context, pool *pgxpool.Pool) error {
	lockKey := lockkey.SchemaSetup(m.builder.Schema(), m.builder.Table())

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("schema: begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockKey); err != nil {
		return fmt.Errorf("schema: acquire setup lock: %w", err)
	}

	ddl := m.ddl()
	for _, stmt := range ddl {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			if isPermissionDenied(err) {
				return &SetupRequiredError{
					Schema: m.builder.Schema(),
					Table:  m.builder.Table(),
					DDL:    joinDDL(ddl),
					Cause:  err,
				}
			}
			return fmt.Errorf("schema: execute setup DDL: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("schema: commit setup transaction: %w", err)
	}

	m.logger.Info("cache schema ensured", "event", "schema.ensured", "schema", m.builder.Schema(), "table", m.builder.Table())
	return nil
}

func (m *Manager) ddl() []string {
	qualified := m.builder.QualifiedTable()
	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pgx.Identifier{m.builder.Schema()}.Sanitize()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	value BYTEA NOT NULL,
	absolute_expiration TIMESTAMPTZ,
	sliding_interval INTERVAL,
	next_expiration TIMESTAMPTZ NOT NULL,
	value_type TEXT,
	value_size INTEGER NOT NULL
)`, qualified),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (next_expiration)`, m.builder.IndexName(), qualified),
	}
}

func joinDDL(stmts []string) string {
	out := ""
	for i, s := range stmts {
		if i > 0 {
			out += ";\n"
		}
		out += s
	}
	return out + ";"
}

func isPermissionDenied(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == permissionDeniedSQLState
	}
	return false
}
