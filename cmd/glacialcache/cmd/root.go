package cmd

import (
	"github.com/spf13/cobra"
)

var (
	version   string
	buildTime string
	gitCommit string
)

// configPath is the shared --config flag every subcommand reads through
// internal/config.LoadConfig.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "glacialcache",
	Short: "Durable, cross-instance PostgreSQL-backed key/value cache",
	Long: `glacialcache runs the cache service, applies schema migrations, and
reports connectivity health.

Examples:
  # Run the service
  glacialcache serve --config glacialcache.yaml

  # Apply pending schema migrations and exit
  glacialcache migrate up --config glacialcache.yaml

  # One-shot connectivity check (for container probes)
  glacialcache healthcheck --config glacialcache.yaml
`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion records build metadata for the version subcommand.
func SetVersion(v, bt, gc string) {
	version = v
	buildTime = bt
	gitCommit = gc
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults to environment variables only)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(healthcheckCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Printf("glacialcache %s (built %s, commit %s)\n", version, buildTime, gitCommit)
		return nil
	},
}
