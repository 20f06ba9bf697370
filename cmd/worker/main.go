package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tenantiq/ragcore/internal/bootstrap"
	"github.com/tenantiq/ragcore/internal/config"
	"github.com/tenantiq/ragcore/internal/observability/logging"
	"github.com/tenantiq/ragcore/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("worker metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker subscribed", "subject", cfg.NATSSubject)
	err = app.Events.SubscribeCorpusChanged(ctx, func(handlerCtx context.Context, tenantID string) error {
		invalidateCtx, cancel := context.WithTimeout(handlerCtx, 30*time.Second)
		defer cancel()

		start := time.Now()
		deleted, err := app.Cache.InvalidateTenant(invalidateCtx, tenantID)
		workerMetrics.RecordInvalidation("worker", deleted, time.Since(start), err)
		if err != nil {
			return err
		}
		logger.Info("tenant cache invalidated", "tenant_id", tenantID, "deleted_keys", deleted)
		return nil
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
