package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/pressly/goose/v3"
)

// MigrationConfig определяет конфигурацию для системы миграций
type MigrationConfig struct {
	// Database configuration
	Driver  string `env:"MIGRATION_DRIVER" default:"pgx"`
	DSN     string `env:"MIGRATION_DSN" default:""`
	Dialect string `env:"MIGRATION_DIALECT" default:"postgres"`

	// Migration settings
	Dir    string `env:"MIGRATION_DIR" default:"migrations"`
	Table  string `env:"MIGRATION_TABLE" default:"goose_db_version"`
	Schema string `env:"MIGRATION_SCHEMA" default:"public"`

	// Safety settings
	Timeout     time.Duration `env:"MIGRATION_TIMEOUT" default:"5m"`
	MaxRetries  int           `env:"MIGRATION_MAX_RETRIES" default:"3"`
	RetryDelay  time.Duration `env:"MIGRATION_RETRY_DELAY" default:"5s"`
	LockTimeout time.Duration `env:"MIGRATION_LOCK_TIMEOUT" default:"10s"`

	// Logger (not from env)
	Logger *slog.Logger
}

// MigrationStatus представляет статус одной известной миграции: найдена
// ли она на диске и применена ли к базе.
type MigrationStatus struct {
	VersionID   int64  `json:"version_id"`
	IsApplied   bool   `json:"is_applied"`
	Source      string `json:"source"`
	Description string `json:"description"`
}

// MigrationManager управляет goose-версионированными миграциями схемы
// glacial-cache: применяет их при старте или по команде CLI, откатывает
// последнюю при необходимости, и отчитывается о текущей версии.
type MigrationManager struct {
	config       *MigrationConfig
	db           *sql.DB
	logger       *slog.Logger
	errorHandler *ErrorHandler
}

// NewMigrationManager создает новый экземпляр MigrationManager
func NewMigrationManager(config *MigrationConfig) (*MigrationManager, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	goose.SetTableName(config.qualifiedTable())

	return &MigrationManager{
		config:       config,
		db:           db,
		logger:       logger,
		errorHandler: NewErrorHandler(logger, config.MaxRetries, config.RetryDelay),
	}, nil
}

// Connect устанавливает соединение с базой данных
func (mm *MigrationManager) Connect(ctx context.Context) error {
	if err := mm.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	mm.logger.Info("connected to database for migrations",
		"driver", mm.config.Driver,
		"dialect", mm.config.Dialect)

	return nil
}

// Disconnect закрывает соединение с базой данных
func (mm *MigrationManager) Disconnect(ctx context.Context) error {
	if mm.db == nil {
		return nil
	}
	if err := mm.db.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	mm.logger.Info("disconnected from database")
	return nil
}

func (mm *MigrationManager) withLockTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if mm.config.LockTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, mm.config.LockTimeout)
}

// Up применяет все доступные миграции, retrying transient failures per
// config.MaxRetries/RetryDelay.
func (mm *MigrationManager) Up(ctx context.Context) error {
	ctx, cancel := mm.withLockTimeout(ctx)
	defer cancel()

	mm.logger.Info("starting migration up")
	startTime := time.Now()

	if err := goose.SetDialect(mm.config.Dialect); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	err := mm.errorHandler.ExecuteWithRetry(ctx, func() error {
		return goose.UpContext(ctx, mm.db, mm.config.Dir)
	})
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	mm.logger.Info("all migrations applied", "duration", time.Since(startTime))
	return nil
}

// DownByOne откатывает одну, самую последнюю, примененную миграцию.
func (mm *MigrationManager) DownByOne(ctx context.Context) error {
	ctx, cancel := mm.withLockTimeout(ctx)
	defer cancel()

	mm.logger.Info("starting migration down by one")

	if err := goose.SetDialect(mm.config.Dialect); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	err := mm.errorHandler.ExecuteWithRetry(ctx, func() error {
		return goose.DownContext(ctx, mm.db, mm.config.Dir)
	})
	if err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	mm.logger.Info("last migration rolled back")
	return nil
}

// Status возвращает статус каждой миграции, найденной в config.Dir,
// отмечая как applied все версии не выше текущей версии базы.
func (mm *MigrationManager) Status(ctx context.Context) ([]*MigrationStatus, error) {
	if err := goose.SetDialect(mm.config.Dialect); err != nil {
		return nil, fmt.Errorf("failed to set goose dialect: %w", err)
	}

	current, err := goose.GetDBVersionContext(ctx, mm.db)
	if err != nil {
		return nil, fmt.Errorf("failed to get current migration version: %w", err)
	}

	found, err := goose.CollectMigrations(mm.config.Dir, 0, goose.MaxVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to list migration files: %w", err)
	}

	statuses := make([]*MigrationStatus, 0, len(found))
	for _, m := range found {
		statuses = append(statuses, &MigrationStatus{
			VersionID:   m.Version,
			IsApplied:   m.Version <= current,
			Source:      m.Source,
			Description: filepath.Base(m.Source),
		})
	}

	mm.logger.Info("migration status retrieved", "total_migrations", len(statuses), "current_version", current)
	return statuses, nil
}

// Version возвращает текущую версию миграций
func (mm *MigrationManager) Version(ctx context.Context) (int64, error) {
	if err := goose.SetDialect(mm.config.Dialect); err != nil {
		return 0, fmt.Errorf("failed to set goose dialect: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, mm.db)
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}

	return version, nil
}
