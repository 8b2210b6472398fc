// Package lockkey derives the deterministic advisory-lock keys shared by
// the schema manager (transaction-scoped) and the election coordinator
// (session-scoped). Both lock on the same `schema.table` identity, but on
// distinct numeric keys so the two locks never collide.
package lockkey

import "hash/fnv"

// schemaSetupMultiplier keeps the schema-setup lock key distinct from the
// election lock key even though both derive from the same base hash.
const schemaSetupMultiplier = 31

func baseHash(schema, table string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(schema))
	h.Write([]byte("."))
	h.Write([]byte(table))
	return h.Sum32()
}

// Election returns the session-scoped advisory lock key used for
// leader election: `hash(schema + "." + table) & 0x7FFFFFFF`. Every
// instance sharing a table must compute the same key, so the formula
// never changes without a fleet-wide rollout.
func Election(schema, table string) int64 {
	return int64(baseHash(schema, table) & 0x7FFFFFFF)
}

// SchemaSetup returns the transaction-scoped advisory lock key used to
// serialize CREATE SCHEMA/TABLE across concurrent instances. Derived from
// the same base hash as Election but via a distinct multiplier, so the
// two lock spaces never collide.
func SchemaSetup(schema, table string) int64 {
	return int64((baseHash(schema, table) * schemaSetupMultiplier) & 0x7FFFFFFF)
}
