package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"dams-sync/internal/handlers"
	"dams-sync/internal/services"
	"dams-sync/pkg/logging"
)

var (
	serveListen   string
	serveInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run synchronizations on a schedule and expose the status API",
	Long: `Run a synchronization immediately and then every schedule.interval,
anchored at the current time. An HTTP server exposes:

  POST /api/v1/runs           trigger a run (409 while one is in progress)
  GET  /api/v1/runs/latest    report of the latest run
  GET  /api/v1/observations   raw source observations
  GET  /api/v1/dams           dam registry
  GET  /health                source database health
  GET  /metrics               Prometheus metrics
  GET  /api/docs              API documentation`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := bootstrap(ctx, "damsync-serve")
		if err != nil {
			return err
		}
		defer a.close()

		listen := a.cfg.Schedule.Listen
		if cmd.Flags().Changed("listen") {
			listen = serveListen
		}
		interval := a.cfg.Schedule.Interval
		if cmd.Flags().Changed("interval") {
			interval = serveInterval
		}
		if interval <= 0 {
			return errors.New("schedule interval must be positive")
		}

		syncer := services.NewSyncService(a.cfg, a.repo, a.registry, a.logger, a.metrics)
		observations := services.NewObservationService(a.repo, a.registry, a.logger, a.metrics)
		handler := handlers.NewSyncHandler(syncer, observations, a.logger, a.metrics)

		router := mux.NewRouter()
		handler.RegisterRoutes(router)
		router.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:         listen,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 10 * time.Minute,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			a.logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
				"address":  server.Addr,
				"interval": interval.String(),
			})
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{
					"address": server.Addr,
				}, err)
			}
		}()

		go schedule(ctx, interval, syncer, a.logger)

		<-ctx.Done()

		a.logger.Info(context.Background(), "[SHUTDOWN] Shutting down server...", logging.Fields{})

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error(shutdownCtx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
		}

		a.logger.Info(shutdownCtx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", ":9090", "HTTP listen address (default: schedule.listen)")
	serveCmd.Flags().DurationVar(&serveInterval, "interval", time.Hour, "Time between runs (default: schedule.interval)")
	rootCmd.AddCommand(serveCmd)
}

// schedule runs a synchronization now and then on every tick until ctx ends.
// A tick that finds a run in progress is skipped.
func schedule(ctx context.Context, interval time.Duration, syncer *services.SyncService, logger *logging.StructuredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runOnce(ctx, syncer, logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce(ctx, syncer, logger)
		}
	}
}
