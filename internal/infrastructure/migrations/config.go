package migrations

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadConfig загружает конфигурацию системы миграций из переменных окружения
func LoadConfig() (*MigrationConfig, error) {
	config := &MigrationConfig{}

	// Database configuration
	config.Driver = getEnvString("MIGRATION_DRIVER", "pgx")
	config.DSN = getEnvString("MIGRATION_DSN", "")
	config.Dialect = getEnvString("MIGRATION_DIALECT", "postgres")

	// Migration settings
	config.Dir = getEnvString("MIGRATION_DIR", "migrations")
	config.Table = getEnvString("MIGRATION_TABLE", "goose_db_version")
	config.Schema = getEnvString("MIGRATION_SCHEMA", "public")

	// Safety settings
	config.Timeout = getEnvDuration("MIGRATION_TIMEOUT", 5*time.Minute)
	config.MaxRetries = getEnvInt("MIGRATION_MAX_RETRIES", 3)
	config.RetryDelay = getEnvDuration("MIGRATION_RETRY_DELAY", 5*time.Second)
	config.LockTimeout = getEnvDuration("MIGRATION_LOCK_TIMEOUT", 10*time.Second)

	// Валидация конфигурации
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid migration configuration: %w", err)
	}

	return config, nil
}

// Validate проверяет корректность конфигурации
func (c *MigrationConfig) Validate() error {
	if c.Driver == "" {
		return fmt.Errorf("database driver cannot be empty")
	}

	if c.DSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}

	if c.Dir == "" {
		return fmt.Errorf("migration directory cannot be empty")
	}

	if c.Table == "" {
		return fmt.Errorf("migration table name cannot be empty")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if c.RetryDelay <= 0 {
		return fmt.Errorf("retry delay must be positive")
	}

	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock timeout must be positive")
	}

	return nil
}

// qualifiedTable returns the goose version table name, schema-qualified
// when c.Schema is set to a schema other than public (an empty or public
// Schema yields the bare table name), so each glacial-cache schema keeps its own
// migration history instead of sharing the default public one.
func (c *MigrationConfig) qualifiedTable() string {
	if c.Schema == "" || c.Schema == "public" {
		return c.Table
	}
	return c.Schema + "." + c.Table
}

// getEnvString получает строковую переменную окружения с значением по умолчанию
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленную переменную окружения с значением по умолчанию
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration получает переменную окружения типа duration с значением по умолчанию
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// PrintConfig выводит текущую конфигурацию в лог
func (c *MigrationConfig) PrintConfig(logger *slog.Logger) {
	logger.Info("Migration Configuration",
		"driver", c.Driver,
		"dialect", c.Dialect,
		"dir", c.Dir,
		"table", c.qualifiedTable(),
		"timeout", c.Timeout,
		"max_retries", c.MaxRetries,
		"lock_timeout", c.LockTimeout,
	)
}

// GetDSN возвращает DSN для логирования с замаскированным значением
// ключа password=; учетные данные в URL-форме (user:pass@host) не маскируются
func (c *MigrationConfig) GetDSN() string {
	dsn := c.DSN

	// Маскируем пароль в DSN для логирования
	if strings.Contains(dsn, "password=") {
		parts := strings.Split(dsn, "password=")
		if len(parts) > 1 {
			passwordPart := parts[1]
			if idx := strings.Index(passwordPart, " "); idx > 0 {
				passwordPart = passwordPart[:idx]
			}
			dsn = parts[0] + "password=***" + strings.TrimPrefix(parts[1], passwordPart)
		}
	}

	return dsn
}
