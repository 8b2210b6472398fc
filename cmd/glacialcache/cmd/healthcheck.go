package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/glacialcache/internal/config"
	"github.com/vitaliisemenov/glacialcache/internal/pgsource"
)

var healthcheckTimeout time.Duration

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "One-shot connectivity check, suitable for container probes",
	RunE:  runHealthcheck,
}

func init() {
	healthcheckCmd.Flags().DurationVar(&healthcheckTimeout, "timeout", 5*time.Second, "how long to wait for a successful ping")
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), healthcheckTimeout)
	defer cancel()

	source := pgsource.New(&pgsource.Config{
		ConnectionString:  cfg.Connection.ConnectionString,
		MinConns:          0,
		MaxConns:          1,
		MaxConnIdleTime:   healthcheckTimeout,
		HealthCheckPeriod: healthcheckTimeout,
		ConnectTimeout:    healthcheckTimeout,
		ApplicationName:   cfg.Connection.Pool.ApplicationName + "-healthcheck",
	}, nil)

	if err := source.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer source.Close()

	if err := source.Health(ctx); err != nil {
		return fmt.Errorf("unhealthy: %w", err)
	}

	cmd.Println("ok")
	return nil
}
