// Command worker processes the import queue from asynq tasks and schedules
// the periodic queue drain and cleanup.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dharsanguruparan/CatalogImport/internal/app"
	"github.com/dharsanguruparan/CatalogImport/internal/config"
	"github.com/dharsanguruparan/CatalogImport/internal/queue"
	"github.com/dharsanguruparan/CatalogImport/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := config.SetupLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	// Imports run strictly one at a time.
	server := asynq.NewServer(redisOpt, asynq.Config{Concurrency: 1})
	processor := worker.NewProcessor(a.Manager, logger)
	if err := server.Start(processor.Handler()); err != nil {
		return err
	}
	defer server.Shutdown()

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})
	processTask, err := queue.NewProcessTask(queue.ProcessPayload{Continuous: true, MaxRuntime: cfg.MaxRuntime})
	if err != nil {
		return err
	}
	if _, err := scheduler.Register(cfg.ProcessCron, processTask); err != nil {
		return err
	}
	cleanupTask, err := queue.NewCleanupTask(cfg.RetentionDays)
	if err != nil {
		return err
	}
	if _, err := scheduler.Register(cfg.CleanupCron, cleanupTask); err != nil {
		return err
	}
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Shutdown()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()

	logger.Info("worker started",
		slog.String("process_cron", cfg.ProcessCron),
		slog.String("cleanup_cron", cfg.CleanupCron),
		slog.String("metrics_addr", cfg.MetricsAddress),
	)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	return nil
}
