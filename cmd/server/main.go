// Command server runs the import queue admin API.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/CatalogImport/internal/api"
	"github.com/dharsanguruparan/CatalogImport/internal/app"
	"github.com/dharsanguruparan/CatalogImport/internal/config"
	"github.com/dharsanguruparan/CatalogImport/internal/queue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := config.SetupLogger(cfg)

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("init service", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer a.Close()

	tasks := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer tasks.Close()

	srv := api.New(cfg, api.Deps{
		Queue:    a.Queue,
		Catalog:  a.Catalog,
		Pipeline: a.Manager,
		Trigger: func(ctx context.Context) error {
			return queue.EnqueueProcess(ctx, tasks, queue.ProcessPayload{Continuous: true, MaxRuntime: cfg.MaxRuntime})
		},
		Ready:  a.Ready(),
		Logger: logger,
	})
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
