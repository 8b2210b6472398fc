package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/glacialcache/internal/cleanup"
	"github.com/vitaliisemenov/glacialcache/internal/config"
	"github.com/vitaliisemenov/glacialcache/internal/election"
	"github.com/vitaliisemenov/glacialcache/internal/pgmetrics"
	"github.com/vitaliisemenov/glacialcache/internal/schema"
	"github.com/vitaliisemenov/glacialcache/internal/supervisor"
	"github.com/vitaliisemenov/glacialcache/pkg/logger"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cache service",
	Long: `Connects to PostgreSQL, ensures the cache schema exists, and runs the
leader-election and expired-entry cleanup loops for the lifetime of the
process. Exposes /healthz and /metrics over HTTP.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "address to serve /healthz and /metrics on")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	super := supervisor.New(log)
	if err := super.Apply(ctx, cfg); err != nil {
		return fmt.Errorf("apply config: %w", err)
	}
	log.Info("connected", "event", "serve.connected", "schema", cfg.Cache.SchemaName, "table", cfg.Cache.TableName)

	if cfg.Infrastructure.CreateInfrastructure {
		mgr := schema.NewManager(super.Builder(), logger.Component(log, "schema"))
		var setupErr *schema.SetupRequiredError
		if err := mgr.Ensure(ctx, super.Source().Pool()); err != nil {
			if errors.As(err, &setupErr) {
				return fmt.Errorf("schema setup requires manual intervention: %w", setupErr)
			}
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	metrics := pgmetrics.New()
	super.Source().SetMetricsSink(metrics)
	super.SetCacheMetricsSink(metrics)

	var state *election.State
	if cfg.Infrastructure.EnableManagerElection {
		coordinator := election.NewCoordinator(super.Source(), cfg.Cache.SchemaName, cfg.Cache.TableName, election.Config{
			VerificationInterval:   cfg.Infrastructure.Lock.VerificationInterval,
			VoluntaryYieldInterval: cfg.Infrastructure.Lock.VoluntaryYieldInterval,
			YieldWindow:            cfg.Infrastructure.Lock.YieldWindow,
			BaseBackoff:            cfg.Infrastructure.Lock.BaseBackoff,
			MaxBackoff:             cfg.Infrastructure.Lock.MaxBackoff,
			Jitter:                 cfg.Infrastructure.Lock.Jitter,
			OnElected: func(instanceID string, at time.Time) {
				metrics.OnElected()
				log.Info("elected leader", "event", "election.elected", "instance_id", instanceID, "at", at)
			},
			OnLost: func(reason string) {
				metrics.OnLost(reason)
				log.Warn("lost leadership", "event", "election.lost", "reason", reason)
			},
		}, logger.Component(log, "election"))
		state = coordinator.State()
		go coordinator.Run(ctx)
	}

	if cfg.Maintenance.EnableAutomaticCleanup && state != nil {
		loop := cleanup.NewLoop(super.Source(), super.Builder(), super.Policy(), state, cleanup.Config{
			Interval:     cfg.Maintenance.CleanupInterval,
			MaxBatchSize: cfg.Maintenance.MaxCleanupBatchSize,
		}, logger.Component(log, "cleanup"))
		loop.SetMetricsSink(metrics)
		go loop.Run(ctx)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := super.Source().Health(r.Context()); err != nil {
			logger.FromContext(r.Context(), log).Warn("health check failed", "event", "serve.unhealthy", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "unhealthy: %v\n", err)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Gatherer(), promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:    listenAddr,
		Handler: logger.LoggingMiddleware(log)(mux),
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("http server starting", "event", "serve.listen", "addr", listenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down", "event", "serve.shutdown")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	return super.Source().Close()
}
