package lockkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestElection_Deterministic(t *testing.T) {
	a := Election("public", "glacial_cache")
	b := Election("public", "glacial_cache")
	assert.Equal(t, a, b)
}

func TestElection_DiffersByTable(t *testing.T) {
	a := Election("public", "glacial_cache")
	b := Election("public", "other_cache")
	assert.NotEqual(t, a, b)
}

func TestElectionAndSchemaSetup_NeverCollide(t *testing.T) {
	schemas := []string{"public", "app", "cache_ns"}
	tables := []string{"glacial_cache", "sessions", "t"}

	for _, s := range schemas {
		for _, tbl := range tables {
			assert.NotEqual(t, Election(s, tbl), SchemaSetup(s, tbl))
		}
	}
}

func TestElection_NonNegative(t *testing.T) {
	assert.GreaterOrEqual(t, Election("public", "glacial_cache"), int64(0))
	assert.GreaterOrEqual(t, SchemaSetup("public", "glacial_cache"), int64(0))
}
