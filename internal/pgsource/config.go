// Package pgsource owns the pooled PostgreSQL connection factory: it
// builds a pgxpool.Pool from a connection string and pool bounds, and
// rebuilds it whenever the supervisor hands it a changed configuration.
package pgsource

import (
	"fmt"
	"strings"
	"time"
)

// Config is the subset of connection configuration pgsource needs to
// build a pool. It is derived from config.ConnectionConfig by the
// supervisor, not bound to viper directly, so this package has no
// dependency on the configuration layer's wire format.
type Config struct {
	ConnectionString  string
	MinConns          int32
	MaxConns          int32
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
	ApplicationName   string
}

// DefaultConfig returns sane pool bounds for local development against a
// connection string that must still be supplied by the caller.
func DefaultConfig() *Config {
	return &Config{
		MinConns:          0,
		MaxConns:          10,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    30 * time.Second,
		ApplicationName:   "GlacialCache",
	}
}

// Validate checks pool bound sanity; it does not parse the connection
// string, which pgxpool.ParseConfig validates at Connect time.
func (c *Config) Validate() error {
	if c.ConnectionString == "" {
		return fmt.Errorf("connection string is required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("max connections must be greater than 0")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("min connections cannot be negative")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min connections cannot be greater than max connections")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be greater than 0")
	}
	return nil
}

// DSN returns the connection string augmented with application_name so
// the instance is identifiable in pg_stat_activity.
func (c *Config) DSN() string {
	if c.ApplicationName == "" {
		return c.ConnectionString
	}
	sep := "?"
	if strings.Contains(c.ConnectionString, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sapplication_name=%s", c.ConnectionString, sep, c.ApplicationName)
}
