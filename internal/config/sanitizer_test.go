package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitize_RedactsConnectionString(t *testing.T) {
	cfg := validConfig()
	original := cfg.Connection.ConnectionString

	sanitized := NewDefaultSanitizer().Sanitize(cfg)

	require.Equal(t, original, cfg.Connection.ConnectionString, "sanitize must not mutate the input")
	require.Equal(t, "***REDACTED***", sanitized.Connection.ConnectionString)
}

func TestSanitize_LeavesPlainHostAlone(t *testing.T) {
	cfg := validConfig()
	cfg.Connection.ConnectionString = "host=localhost dbname=app"

	sanitized := NewDefaultSanitizer().Sanitize(cfg)

	require.Equal(t, "host=localhost dbname=app", sanitized.Connection.ConnectionString)
}
