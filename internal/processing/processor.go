// Package processing drives the import queue from a long-running loop or a
// single invocation. Only one import runs at a time; the loop sleeps between
// runs instead of spawning workers.
package processing

import (
	"context"
	"log/slog"
	"time"

	"github.com/dharsanguruparan/CatalogImport/internal/pipeline"
)

// Manager is the part of pipeline.Manager the runner uses.
type Manager interface {
	RunNext(ctx context.Context) (pipeline.Step, error)
	CleanupOldImports(ctx context.Context, days int) (int64, error)
}

// Options control a run.
type Options struct {
	// Continuous keeps polling until MaxRuntime elapses or ctx is done.
	Continuous bool
	MaxRuntime time.Duration
	// IdleWait is the pause when nothing is pending.
	IdleWait time.Duration
	// BetweenImports is the pause after each processed import.
	BetweenImports time.Duration
	// Cleanup deletes completed entries older than CleanupDays afterwards.
	Cleanup     bool
	CleanupDays int
}

// DefaultOptions match the scheduled command: one hour, 5s idle wait, 1s
// between imports and a 30 day retention window.
func DefaultOptions() Options {
	return Options{
		MaxRuntime:     time.Hour,
		IdleWait:       5 * time.Second,
		BetweenImports: time.Second,
		CleanupDays:    30,
	}
}

// Summary reports what a run did.
type Summary struct {
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Cleaned   int64         `json:"cleaned"`
	Runtime   time.Duration `json:"runtime"`
}

// Runner processes queued imports.
type Runner struct {
	manager Manager
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// New builds a Runner.
func New(manager Manager, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{manager: manager, logger: logger, now: time.Now, sleep: sleepContext}
}

// Run processes one import, or keeps processing in continuous mode. A
// cancelled ctx ends the loop between imports; the import in flight always
// finishes.
func (r *Runner) Run(ctx context.Context, opts Options) (Summary, error) {
	start := r.now()
	var sum Summary
	var err error
	if opts.Continuous {
		err = r.continuous(ctx, opts, start, &sum)
	} else {
		err = r.single(ctx, &sum)
	}
	if err == nil && opts.Cleanup {
		sum.Cleaned, err = r.manager.CleanupOldImports(ctx, opts.CleanupDays)
	}
	sum.Runtime = r.now().Sub(start)
	r.logger.Info("processing finished",
		slog.Int("processed", sum.Processed),
		slog.Int("failed", sum.Failed),
		slog.Int64("cleaned", sum.Cleaned),
		slog.Duration("runtime", sum.Runtime),
	)
	return sum, err
}

func (r *Runner) single(ctx context.Context, sum *Summary) error {
	step, err := r.manager.RunNext(ctx)
	if err != nil {
		return err
	}
	sum.count(step)
	if !step.Ran() {
		r.logger.Info("no imports processed", slog.String("reason", step.String()))
	}
	return nil
}

func (r *Runner) continuous(ctx context.Context, opts Options, start time.Time, sum *Summary) error {
	r.logger.Info("running in continuous mode", slog.Duration("max_runtime", opts.MaxRuntime))
	for {
		if opts.MaxRuntime > 0 && r.now().Sub(start) >= opts.MaxRuntime {
			r.logger.Info("maximum runtime reached", slog.Duration("max_runtime", opts.MaxRuntime))
			return nil
		}
		step, err := r.manager.RunNext(ctx)
		if err != nil {
			return err
		}
		wait := opts.IdleWait
		if step.Ran() {
			sum.count(step)
			wait = opts.BetweenImports
		} else {
			r.logger.Debug("no imports pending, waiting", slog.String("reason", step.String()))
		}
		if err := r.sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

func (s *Summary) count(step pipeline.Step) {
	switch step {
	case pipeline.StepSucceeded:
		s.Processed++
	case pipeline.StepFailed:
		s.Failed++
	}
}

// sleepContext waits for d unless ctx ends first. A select blocks until one of
// its channels is ready, which lets the wait and the cancellation race.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
