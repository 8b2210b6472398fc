// Package config loads and validates glacialcache's configuration tree.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var structValidator = validator.New()

// Config is the root configuration tree, grouped the way the recognized
// option groups are grouped: connection, cache, maintenance, resilience,
// infrastructure.
type Config struct {
	Connection     ConnectionConfig     `mapstructure:"connection"`
	Cache          CacheConfig          `mapstructure:"cache"`
	Maintenance    MaintenanceConfig    `mapstructure:"maintenance"`
	Resilience     ResilienceConfig     `mapstructure:"resilience"`
	Infrastructure InfrastructureConfig `mapstructure:"infrastructure"`
	Log            LogConfig            `mapstructure:"log"`
}

// ConnectionConfig describes how to reach PostgreSQL and size the pool.
type ConnectionConfig struct {
	ConnectionString string      `mapstructure:"connection_string"`
	Pool             PoolConfig  `mapstructure:"pool"`
	Timeouts         TimeoutsCfg `mapstructure:"timeouts"`
}

// PoolConfig bounds the pgxpool.
type PoolConfig struct {
	MinSize         int32         `mapstructure:"min_size"`
	MaxSize         int32         `mapstructure:"max_size"`
	IdleLifetime    time.Duration `mapstructure:"idle_lifetime"`
	PruningInterval time.Duration `mapstructure:"pruning_interval"`
	ApplicationName string        `mapstructure:"application_name"`
}

// TimeoutsCfg bounds connection establishment and per-statement
// execution. Operation is the per-operation deadline, honored as the
// fallback when resilience.timeouts.operation_timeout is unset.
type TimeoutsCfg struct {
	Operation  time.Duration `mapstructure:"operation"`
	Connection time.Duration `mapstructure:"connection"`
	Command    time.Duration `mapstructure:"command"`
}

// CacheConfig names the backing table and the defaults applied to entries
// that specify no expiration of their own.
type CacheConfig struct {
	SchemaName              string        `mapstructure:"schema_name" validate:"required"`
	TableName               string        `mapstructure:"table_name" validate:"required"`
	DefaultSliding          time.Duration `mapstructure:"default_sliding"`
	DefaultAbsoluteRelative time.Duration `mapstructure:"default_absolute_relative"`
	MinInterval             time.Duration `mapstructure:"min_interval"`
	MaxInterval             time.Duration `mapstructure:"max_interval"`
	Serializer              string        `mapstructure:"serializer"`
	MaxBatchSize            int           `mapstructure:"max_batch_size"`
}

// MaintenanceConfig controls the background cleanup loop.
type MaintenanceConfig struct {
	EnableAutomaticCleanup bool          `mapstructure:"enable_automatic_cleanup"`
	CleanupInterval        time.Duration `mapstructure:"cleanup_interval"`
	MaxCleanupBatchSize    int           `mapstructure:"max_cleanup_batch_size"`
}

// ResilienceConfig controls the timeout/circuit-breaker/retry composition
// wrapped around every SQL operation.
type ResilienceConfig struct {
	Enable         bool                 `mapstructure:"enable"`
	Retry          RetryConfig          `mapstructure:"retry"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Timeouts       ResilienceTimeouts   `mapstructure:"timeouts"`
}

// RetryConfig bounds the retry layer.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BaseDelay       time.Duration `mapstructure:"base_delay"`
	BackoffStrategy string        `mapstructure:"backoff_strategy"`
}

// CircuitBreakerConfig bounds the breaker layer.
type CircuitBreakerConfig struct {
	Enable           bool          `mapstructure:"enable"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	DurationOfBreak  time.Duration `mapstructure:"duration_of_break"`
}

// ResilienceTimeouts bounds the timeout layer.
type ResilienceTimeouts struct {
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// InfrastructureConfig controls schema setup and leader election.
type InfrastructureConfig struct {
	CreateInfrastructure  bool       `mapstructure:"create_infrastructure"`
	EnableManagerElection bool       `mapstructure:"enable_manager_election"`
	Lock                  LockConfig `mapstructure:"lock"`
}

// LockConfig bounds advisory-lock related timeouts and intervals.
type LockConfig struct {
	LockTimeout            time.Duration `mapstructure:"lock_timeout"`
	VerificationInterval   time.Duration `mapstructure:"verification_interval"`
	VoluntaryYieldInterval time.Duration `mapstructure:"voluntary_yield_interval"`
	YieldWindow            time.Duration `mapstructure:"yield_window"`
	BaseBackoff            time.Duration `mapstructure:"base_backoff"`
	MaxBackoff             time.Duration `mapstructure:"max_backoff"`
	Jitter                 time.Duration `mapstructure:"jitter"`
}

// LogConfig is the ambient logging setup, not part of the normative core.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// LoadConfig loads configuration from an optional YAML file plus
// environment variables, applying defaults first.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("GLACIALCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables and
// defaults only, skipping any config file.
func LoadConfigFromEnv() (*Config, error) {
	return LoadConfig("")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("connection.connection_string", "")
	v.SetDefault("connection.pool.min_size", 0)
	v.SetDefault("connection.pool.max_size", 10)
	v.SetDefault("connection.pool.idle_lifetime", "30m")
	v.SetDefault("connection.pool.pruning_interval", "1m")
	v.SetDefault("connection.pool.application_name", "GlacialCache")
	v.SetDefault("connection.timeouts.operation", "30s")
	v.SetDefault("connection.timeouts.connection", "30s")
	v.SetDefault("connection.timeouts.command", "30s")

	v.SetDefault("cache.schema_name", "public")
	v.SetDefault("cache.table_name", "glacial_cache")
	v.SetDefault("cache.default_sliding", "0s")
	v.SetDefault("cache.default_absolute_relative", "24h")
	v.SetDefault("cache.min_interval", "1ms")
	v.SetDefault("cache.max_interval", "8760h")
	v.SetDefault("cache.serializer", "binary-packed")
	v.SetDefault("cache.max_batch_size", 500)

	v.SetDefault("maintenance.enable_automatic_cleanup", true)
	v.SetDefault("maintenance.cleanup_interval", "5m")
	v.SetDefault("maintenance.max_cleanup_batch_size", 1000)

	v.SetDefault("resilience.enable", true)
	v.SetDefault("resilience.retry.max_attempts", 3)
	v.SetDefault("resilience.retry.base_delay", "100ms")
	v.SetDefault("resilience.retry.backoff_strategy", "exponential-jitter")
	v.SetDefault("resilience.circuit_breaker.enable", true)
	v.SetDefault("resilience.circuit_breaker.failure_threshold", 5)
	v.SetDefault("resilience.circuit_breaker.duration_of_break", "30s")
	v.SetDefault("resilience.timeouts.operation_timeout", "30s")

	v.SetDefault("infrastructure.create_infrastructure", true)
	v.SetDefault("infrastructure.enable_manager_election", true)
	v.SetDefault("infrastructure.lock.lock_timeout", "5s")
	v.SetDefault("infrastructure.lock.verification_interval", "30s")
	v.SetDefault("infrastructure.lock.voluntary_yield_interval", "5m")
	v.SetDefault("infrastructure.lock.yield_window", "5s")
	v.SetDefault("infrastructure.lock.base_backoff", "5s")
	v.SetDefault("infrastructure.lock.max_backoff", "1m")
	v.SetDefault("infrastructure.lock.jitter", "1s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)
}

// Validate runs struct-tag validation (required fields) ahead of the
// semantic checks below: identifier syntax, pool bounds, interval
// bounds, the serializer name, and positive batch and retry counts. It
// does not clamp; clamping of
// extreme-but-valid durations happens at option-normalization time in
// the cache engine, not here.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if !identifierPattern.MatchString(c.Cache.SchemaName) {
		return fmt.Errorf("cache.schema_name %q does not match %s", c.Cache.SchemaName, identifierPattern.String())
	}
	if !identifierPattern.MatchString(c.Cache.TableName) {
		return fmt.Errorf("cache.table_name %q does not match %s", c.Cache.TableName, identifierPattern.String())
	}

	if c.Connection.ConnectionString == "" {
		return fmt.Errorf("connection.connection_string must be set")
	}
	if c.Connection.Pool.MaxSize <= 0 {
		return fmt.Errorf("connection.pool.max_size must be positive")
	}
	if c.Connection.Pool.MinSize < 0 || c.Connection.Pool.MinSize > c.Connection.Pool.MaxSize {
		return fmt.Errorf("connection.pool.min_size must be in [0, max_size]")
	}

	if c.Cache.MinInterval <= 0 {
		return fmt.Errorf("cache.min_interval must be positive")
	}
	if c.Cache.MaxInterval < c.Cache.MinInterval {
		return fmt.Errorf("cache.max_interval must be >= cache.min_interval")
	}
	switch c.Cache.Serializer {
	case "binary-packed", "json-bytes", "custom":
	default:
		return fmt.Errorf("cache.serializer %q is not one of binary-packed, json-bytes, custom", c.Cache.Serializer)
	}

	if c.Maintenance.MaxCleanupBatchSize <= 0 {
		return fmt.Errorf("maintenance.max_cleanup_batch_size must be positive")
	}

	if c.Resilience.Retry.MaxAttempts < 1 {
		return fmt.Errorf("resilience.retry.max_attempts must be >= 1")
	}

	return nil
}

// ConnectionStringRedacted returns the connection string with credentials
// replaced, suitable for logging.
func (c *Config) ConnectionStringRedacted() string {
	return (&DefaultSanitizer{redactionValue: "***REDACTED***"}).redactURL(c.Connection.ConnectionString)
}
