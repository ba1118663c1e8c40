package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/joao-brasil/sqlrt/internal/health"
	"github.com/joao-brasil/sqlrt/internal/metrics"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Open the pools, run pool maintenance and serve metrics and health endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
}

func serve(ctx context.Context, opts *rootOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := bootstrap(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		rt.logger.Info("[main] closing pools")
		rt.close()
	}()
	cfg, logger := rt.cfg, rt.logger

	// Pre-register metric labels for each datasource so dashboards show them immediately
	for _, ds := range cfg.DataSources {
		metrics.ConnectionsActive.WithLabelValues(ds.ID).Set(0)
		metrics.ConnectionsIdle.WithLabelValues(ds.ID).Set(0)
		metrics.ConnectionsMax.WithLabelValues(ds.ID).Set(float64(ds.Pool.MaxActive))
	}
	metrics.InstanceUp.WithLabelValues(cfg.Runtime.InstanceID).Set(1)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Runtime.MetricsPort),
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("[main] metrics server listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("[main] metrics server error", "err", err)
		}
	}()

	checker := health.NewChecker(cfg.Runtime.InstanceID, rt.pools, rt.redis, logger)
	healthServer := checker.Serve(cfg.Runtime.HealthCheckPort)

	logger.Info("[main] running initial health check")
	report := checker.Check(ctx)
	for _, comp := range report.Components {
		logger.Info("[main] component", "name", comp.Name, "status", comp.Status,
			"message", comp.Message, "latency", comp.Latency)
	}
	logger.Info("[main] overall health", "status", report.Status)

	maintCtx, stopMaint := context.WithCancel(ctx)
	defer stopMaint()
	rt.pools.StartMaintenance(maintCtx, cfg.Runtime.HealthCheckInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	logger.Info("[main] runtime is ready, waiting for shutdown signal")
	select {
	case sig := <-sigCh:
		logger.Info("[main] received signal, shutting down gracefully", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	metrics.InstanceUp.WithLabelValues(cfg.Runtime.InstanceID).Set(0)
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("[main] health server shutdown error", "err", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("[main] metrics server shutdown error", "err", err)
	}
	for _, s := range rt.pools.Stats() {
		logger.Info("[main] final pool stats\n" + s.String())
	}
	logger.Info("[main] shutdown complete")
	return nil
}
