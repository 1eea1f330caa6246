// Package worker plugs the import queue into the asynq worker loop.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/CatalogImport/internal/processing"
	"github.com/dharsanguruparan/CatalogImport/internal/queue"
)

// Drainer is the part of pipeline.Manager the handlers use.
type Drainer interface {
	processing.Manager
	ProcessAllPending(ctx context.Context) (succeeded, failed int, err error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	manager Drainer
	runner  *processing.Runner
	logger  *slog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(manager Drainer, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{manager: manager, runner: processing.New(manager, logger), logger: logger}
}

// Handler registers the queue and cleanup handlers. asynq.ServeMux works like
// http.ServeMux: it routes each task to a handler by its type name.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ProcessQueueTask, p.handleProcess)
	mux.HandleFunc(queue.CleanupTask, p.handleCleanup)
	return mux
}

func decode(task *asynq.Task, v any) error {
	if len(task.Payload()) == 0 {
		return nil
	}
	if err := json.Unmarshal(task.Payload(), v); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	return nil
}

func (p *Processor) handleProcess(ctx context.Context, task *asynq.Task) error {
	var payload queue.ProcessPayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	failure := func(err error) error {
		p.logger.Error("queue processing failed", slog.String("error", err.Error()))
		return err
	}
	if !payload.Continuous {
		if _, err := p.runner.Run(ctx, processing.Options{}); err != nil {
			return failure(err)
		}
		return nil
	}
	if payload.MaxRuntime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, payload.MaxRuntime)
		defer cancel()
	}
	succeeded, failed, err := p.manager.ProcessAllPending(ctx)
	if err != nil {
		return failure(err)
	}
	p.logger.Info("queue drained", slog.Int("processed", succeeded), slog.Int("failed", failed))
	return nil
}

func (p *Processor) handleCleanup(ctx context.Context, task *asynq.Task) error {
	payload := queue.CleanupPayload{Days: queue.DefaultRetentionDays}
	if err := decode(task, &payload); err != nil {
		return err
	}
	n, err := p.manager.CleanupOldImports(ctx, payload.Days)
	if err != nil {
		p.logger.Error("cleanup failed", slog.String("error", err.Error()))
		return err
	}
	p.logger.Info("old imports cleaned up", slog.Int64("deleted", n), slog.Int("days", payload.Days))
	return nil
}
