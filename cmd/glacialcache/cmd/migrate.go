package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/glacialcache/internal/config"
	"github.com/vitaliisemenov/glacialcache/internal/infrastructure/migrations"
)

const defaultMigrationTimeout = 5 * time.Minute

var migrationsDir string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or inspect goose-versioned schema migrations",
	Long: `An alternative to the service's own idempotent schema.Manager.Ensure
startup path, for operators who want explicit, versioned migrations under
source control. The bundled migration targets the default public.glacial_cache
naming; a renamed schema or table should rely on "serve"'s automatic setup
instead of this command.`,
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrationsDir, "dir", "migrations", "directory containing goose SQL migration files")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
}

func newMigrationManager() (*migrations.MigrationManager, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	mCfg := &migrations.MigrationConfig{
		Driver:      "pgx",
		DSN:         cfg.Connection.ConnectionString,
		Dialect:     "postgres",
		Dir:         migrationsDir,
		Table:       "goose_db_version",
		Schema:      cfg.Cache.SchemaName,
		Timeout:     cfg.Connection.Timeouts.Command,
		MaxRetries:  3,
		RetryDelay:  5 * time.Second,
		LockTimeout: 10 * time.Second,
		Logger:      slog.Default(),
	}
	if mCfg.Timeout <= 0 {
		mCfg.Timeout = defaultMigrationTimeout
	}
	if err := mCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid migration configuration: %w", err)
	}

	return migrations.NewMigrationManager(mCfg)
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newMigrationManager()
		if err != nil {
			return err
		}
		defer mgr.Disconnect(cmd.Context())
		return mgr.Up(cmd.Context())
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recently applied migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newMigrationManager()
		if err != nil {
			return err
		}
		defer mgr.Disconnect(cmd.Context())
		return mgr.DownByOne(cmd.Context())
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of every known migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newMigrationManager()
		if err != nil {
			return err
		}
		defer mgr.Disconnect(cmd.Context())

		statuses, err := mgr.Status(cmd.Context())
		if err != nil {
			return err
		}
		for _, s := range statuses {
			state := "pending"
			if s.IsApplied {
				state = "applied"
			}
			cmd.Printf("%d\t%s\t%s\n", s.VersionID, state, s.Description)
		}
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newMigrationManager()
		if err != nil {
			return err
		}
		defer mgr.Disconnect(cmd.Context())

		v, err := mgr.Version(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Println(v)
		return nil
	},
}
