package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetwatch/fleetwatch/pkg/config"
	"github.com/fleetwatch/fleetwatch/pkg/events"
	"github.com/fleetwatch/fleetwatch/pkg/log"
	"github.com/fleetwatch/fleetwatch/pkg/metrics"
	"github.com/fleetwatch/fleetwatch/pkg/monitor"
	"github.com/fleetwatch/fleetwatch/pkg/objstore"
	"github.com/fleetwatch/fleetwatch/pkg/store"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetwatch",
	Short: "Fleetwatch - trading bot fleet monitor",
	Long: `Fleetwatch is the monitoring half of a trading bot control plane.

It watches bot and backtest containers across runners, syncs per-trade
history from each bot's API, keeps shared market datasets fresh, and
aggregates resource usage for billing. Multiple instances shard the fleet
through etcd; a single instance runs with no external coordination.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Fleetwatch version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitor",
	Long: `Run the monitor until interrupted.

Configuration comes from FLEETWATCH_* environment variables (a .env file
in the working directory is honored). With FLEETWATCH_ETCD_ENDPOINTS set
the instance joins the distributed fleet; otherwise it owns every
workload itself.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
		metrics.SetVersion(Version)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		s, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			metrics.RegisterComponent("store", false, err.Error())
			return fmt.Errorf("failed to open store: %v", err)
		}
		defer s.Close()
		if err := s.Migrate(ctx); err != nil {
			metrics.RegisterComponent("store", false, err.Error())
			return fmt.Errorf("failed to migrate store: %v", err)
		}
		metrics.RegisterComponent("store", true, "")

		opts := monitor.Options{Config: cfg, Store: s}

		if cfg.RedisURL != "" {
			publisher, err := events.NewRedisPublisher(ctx, cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("failed to connect to redis: %v", err)
			}
			defer publisher.Close()
			opts.Events = publisher
		}

		if cfg.ObjectStoreEndpoint != "" {
			objects, err := objstore.New(ctx, objstore.Config{
				Endpoint:  cfg.ObjectStoreEndpoint,
				AccessKey: cfg.ObjectStoreAccessKey,
				SecretKey: cfg.ObjectStoreSecretKey,
				Bucket:    cfg.ObjectStoreBucket,
				UseSSL:    cfg.ObjectStoreUseSSL,
			})
			if err != nil {
				return fmt.Errorf("failed to connect to object store: %v", err)
			}
			opts.Uploader = objects
		}

		mgr, err := monitor.NewManager(opts)
		if err != nil {
			return err
		}
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("failed to start monitor: %v", err)
		}

		var metricsServer *http.Server
		if cfg.MetricsAddr != "" {
			metricsServer = serveMetrics(cfg.MetricsAddr)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			log.WithComponent("main").Info().Str("signal", sig.String()).Msg("shutting down")
		case <-ctx.Done():
		}

		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		if metricsServer != nil {
			_ = metricsServer.Shutdown(stopCtx)
		}
		return mgr.Stop(stopCtx)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

		s, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open store: %v", err)
		}
		defer s.Close()

		if err := s.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migration failed: %v", err)
		}
		fmt.Println("✓ Migrations applied")
		return nil
	},
}

// serveMetrics exposes /metrics and the health endpoints on a dedicated
// listener
func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithComponent("metrics").Error().Err(err).Msg("metrics server failed")
		}
	}()
	log.WithComponent("metrics").Info().Str("addr", addr).Msg("metrics server listening")
	return server
}
