// Package sqlbuilder renders the parameterized SQL statements the cache
// engine and cleanup loop run against `<schema>.<table>`. All statements
// are built once, at construction, from validated identifiers; every
// per-call value is bound as a pgx parameter, never concatenated.
package sqlbuilder

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrInvalidIdentifier is returned by New when schema or table fails the
// identifier check; it is never interpolated unvalidated into SQL text.
type ErrInvalidIdentifier struct {
	Field string
	Value string
}

func (e *ErrInvalidIdentifier) Error() string {
	return fmt.Sprintf("sqlbuilder: %s %q is not a valid identifier", e.Field, e.Value)
}

// Builder holds the pre-rendered statement templates for one
// schema/table pair. It is immutable once constructed; the supervisor
// builds a new one (and swaps it in) when schema or table changes.
type Builder struct {
	schema string
	table  string

	qualifiedTable string
	indexName      string

	getSQL            string
	getValueOnlySQL   string
	getMultipleSQL    string
	setSQL            string
	setMultipleHeader string
	removeSQL         string
	removeMultipleSQL string
	refreshSQL        string
	refreshMultiSQL   string
	cleanupSQL        string
}

// New validates schema and table against the identifier pattern and
// renders every statement template once.
func New(schema, table string) (*Builder, error) {
	if !identifierPattern.MatchString(schema) {
		return nil, &ErrInvalidIdentifier{Field: "schema", Value: schema}
	}
	if !identifierPattern.MatchString(table) {
		return nil, &ErrInvalidIdentifier{Field: "table", Value: table}
	}

	b := &Builder{
		schema:         schema,
		table:          table,
		qualifiedTable: pgx.Identifier{schema, table}.Sanitize(),
		indexName:      pgx.Identifier{fmt.Sprintf("idx_%s_next_expiration", table)}.Sanitize(),
	}
	b.render()
	return b, nil
}

// Schema and Table expose the identifiers the builder was constructed
// from, so callers (the supervisor) can decide whether a reconfiguration
// actually changed anything before rebuilding.
func (b *Builder) Schema() string { return b.schema }
func (b *Builder) Table() string  { return b.table }

// QualifiedTable returns the sanitized "schema"."table" identifier, for
// callers (the schema manager) that need it outside a pre-built
// statement.
func (b *Builder) QualifiedTable() string { return b.qualifiedTable }

// IndexName returns the sanitized next_expiration index identifier.
func (b *Builder) IndexName() string { return b.indexName }

// setExpirationExpr is the "next expiration" computation for the write
// path, where the entry's expirations arrive as the bound @absolute and
// @sliding parameters: the row may not exist yet, so there are no stored
// columns to consult. The ELSE branch binds @default_interval so the
// no-expiration default is configuration, never a hardcoded literal.
const setExpirationExpr = `CASE
		WHEN @absolute IS NOT NULL AND @sliding IS NULL THEN @absolute
		WHEN @absolute IS NOT NULL AND @sliding IS NOT NULL THEN LEAST(now() + @sliding, @absolute)
		WHEN @absolute IS NULL AND @sliding IS NOT NULL THEN now() + @sliding
		ELSE now() + @default_interval
	END`

// renewalExpr is the same computation for the read/refresh path, driven
// by the row's stored absolute_expiration and sliding_interval columns:
// the caller of Get/Refresh doesn't know the entry's expirations, the
// row does. Renewal happens in the same statement that returns the row,
// so the sliding window extension is atomic with the read.
const renewalExpr = `CASE
		WHEN absolute_expiration IS NOT NULL AND sliding_interval IS NULL THEN absolute_expiration
		WHEN absolute_expiration IS NOT NULL AND sliding_interval IS NOT NULL THEN LEAST(now() + sliding_interval, absolute_expiration)
		WHEN absolute_expiration IS NULL AND sliding_interval IS NOT NULL THEN now() + sliding_interval
		ELSE now() + @default_interval
	END`

// setUpsertTail is the shared ON CONFLICT clause for the single-row and
// multi-VALUES upserts.
const setUpsertTail = `
ON CONFLICT (key) DO UPDATE SET
	value = EXCLUDED.value,
	absolute_expiration = EXCLUDED.absolute_expiration,
	sliding_interval = EXCLUDED.sliding_interval,
	next_expiration = EXCLUDED.next_expiration,
	value_type = EXCLUDED.value_type,
	value_size = EXCLUDED.value_size`

func (b *Builder) render() {
	const now = "now()"
	expr := renewalExpr

	b.getSQL = fmt.Sprintf(`
UPDATE %[1]s
SET next_expiration = %[2]s
WHERE key = @key AND next_expiration > %[3]s
RETURNING value, absolute_expiration, sliding_interval, value_type, value_size, next_expiration`,
		b.qualifiedTable, expr, now)

	b.getValueOnlySQL = fmt.Sprintf(`
UPDATE %[1]s
SET next_expiration = %[2]s
WHERE key = @key AND next_expiration > %[3]s
RETURNING value`,
		b.qualifiedTable, expr, now)

	b.getMultipleSQL = fmt.Sprintf(`
UPDATE %[1]s
SET next_expiration = %[2]s
WHERE key = ANY(@keys) AND next_expiration > %[3]s
RETURNING key, value, absolute_expiration, sliding_interval, value_type, value_size, next_expiration`,
		b.qualifiedTable, expr, now)

	b.setSQL = fmt.Sprintf(`
INSERT INTO %[1]s (key, value, absolute_expiration, sliding_interval, next_expiration, value_type, value_size)
VALUES (@key, @value, @absolute, @sliding, %[2]s, @value_type, @value_size)`+setUpsertTail, b.qualifiedTable, setExpirationExpr)

	b.setMultipleHeader = fmt.Sprintf(`
INSERT INTO %s (key, value, absolute_expiration, sliding_interval, next_expiration, value_type, value_size)
VALUES `, b.qualifiedTable)

	b.removeSQL = fmt.Sprintf(`DELETE FROM %s WHERE key = @key`, b.qualifiedTable)
	b.removeMultipleSQL = fmt.Sprintf(`DELETE FROM %s WHERE key = ANY(@keys) AND next_expiration > now()`, b.qualifiedTable)

	b.refreshSQL = fmt.Sprintf(`
UPDATE %[1]s
SET next_expiration = %[2]s
WHERE key = @key AND sliding_interval IS NOT NULL AND next_expiration > %[3]s`,
		b.qualifiedTable, expr, now)

	b.refreshMultiSQL = fmt.Sprintf(`
UPDATE %[1]s
SET next_expiration = %[2]s
WHERE key = ANY(@keys) AND sliding_interval IS NOT NULL AND next_expiration > %[3]s`,
		b.qualifiedTable, expr, now)

	b.cleanupSQL = fmt.Sprintf(`
WITH doomed AS (
	SELECT key FROM %[1]s
	WHERE next_expiration <= @now
	ORDER BY next_expiration
	LIMIT @batch_size
	FOR UPDATE SKIP LOCKED
)
DELETE FROM %[1]s WHERE key IN (SELECT key FROM doomed)`,
		b.qualifiedTable)
}

// Get renders the single-key read+sliding-renewal statement.
func (b *Builder) Get() string { return b.getSQL }

// GetValueOnly renders the hot-path variant that returns only value.
func (b *Builder) GetValueOnly() string { return b.getValueOnlySQL }

// GetMultiple renders the batch read+sliding-renewal statement.
func (b *Builder) GetMultiple() string { return b.getMultipleSQL }

// Set renders the single-row upsert statement.
func (b *Builder) Set() string { return b.setSQL }

// Remove renders the single-key delete statement.
func (b *Builder) Remove() string { return b.removeSQL }

// RemoveMultiple renders the batch delete statement.
func (b *Builder) RemoveMultiple() string { return b.removeMultipleSQL }

// Refresh renders the single-key sliding-renewal-only statement.
func (b *Builder) Refresh() string { return b.refreshSQL }

// RefreshMultiple renders the batch sliding-renewal-only statement.
func (b *Builder) RefreshMultiple() string { return b.refreshMultiSQL }

// CleanupExpired renders the bounded, lock-skipping chunked delete the
// cleanup loop issues on each leader tick.
func (b *Builder) CleanupExpired() string { return b.cleanupSQL }

// SetMultiple renders a multi-VALUES upsert for n rows. Callers bind one
// named-arg set per row, suffixed by row index (@key0, @value0, ...),
// plus the shared @default_interval.
func (b *Builder) SetMultiple(n int) string {
	if n <= 0 {
		return ""
	}
	rows := make([]string, n)
	for i := 0; i < n; i++ {
		rows[i] = fmt.Sprintf("(@key%[1]d, @value%[1]d, @absolute%[1]d, @sliding%[1]d, %s, @value_type%[1]d, @value_size%[1]d)",
			i, rowExpr(i))
	}
	return b.setMultipleHeader + strings.Join(rows, ",\n") + setUpsertTail
}

func rowExpr(i int) string {
	return fmt.Sprintf(`CASE
		WHEN @absolute%[1]d IS NOT NULL AND @sliding%[1]d IS NULL THEN @absolute%[1]d
		WHEN @absolute%[1]d IS NOT NULL AND @sliding%[1]d IS NOT NULL THEN LEAST(now() + @sliding%[1]d, @absolute%[1]d)
		WHEN @absolute%[1]d IS NULL AND @sliding%[1]d IS NOT NULL THEN now() + @sliding%[1]d
		ELSE now() + @default_interval
	END`, i)
}
