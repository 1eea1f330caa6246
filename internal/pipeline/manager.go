package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dharsanguruparan/CatalogImport/internal/metrics"
	"github.com/dharsanguruparan/CatalogImport/internal/model"
	"github.com/dharsanguruparan/CatalogImport/internal/queue"
)

// Step is what one call to RunNext did.
type Step int

const (
	// StepIdle means nothing was pending.
	StepIdle Step = iota
	// StepBusy means another entry was already processing.
	StepBusy
	// StepSucceeded means an entry was processed successfully.
	StepSucceeded
	// StepFailed means an entry was processed and failed.
	StepFailed
)

func (s Step) String() string {
	switch s {
	case StepIdle:
		return "idle"
	case StepBusy:
		return "busy"
	case StepSucceeded:
		return "succeeded"
	case StepFailed:
		return "failed"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Ran reports whether an entry was processed.
func (s Step) Ran() bool {
	return s == StepSucceeded || s == StepFailed
}

// Status is a point-in-time view of the pipeline.
type Status struct {
	IsProcessing bool        `json:"is_processing"`
	QueueStats   queue.Stats `json:"queue_stats"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Manager runs queued imports one at a time.
type Manager struct {
	queue        *queue.Service
	orchestrator *Orchestrator
	diagnoser    *Diagnoser
	logger       *slog.Logger
}

// NewManager builds a Manager. diagnoser may be nil when diagnosis is not
// offered by the caller.
func NewManager(q *queue.Service, o *Orchestrator, d *Diagnoser, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{queue: q, orchestrator: o, diagnoser: d, logger: logger}
}

// RunNext claims the next pending entry and runs it. Nothing is claimed
// while another entry is processing.
func (m *Manager) RunNext(ctx context.Context) (Step, error) {
	busy, err := m.queue.IsProcessing(ctx)
	if err != nil {
		return StepIdle, err
	}
	if busy {
		m.logger.Info("import already in progress, skipping queue processing")
		return StepBusy, nil
	}
	req, err := m.queue.Claim(ctx)
	if err != nil {
		return StepIdle, err
	}
	if req == nil {
		// Claim also refuses while something is processing, which covers a
		// run that started after the check above.
		m.logger.Debug("no imports in queue")
		return StepIdle, nil
	}
	m.logger.Info("processing import", slog.String("import_id", req.ID), slog.String("priority", string(req.Priority)))
	if m.orchestrator.Execute(ctx, req) {
		return StepSucceeded, nil
	}
	return StepFailed, nil
}

// ProcessNextImport runs the next pending entry and reports whether it
// succeeded. It returns false without side effects when an entry is already
// processing or nothing is pending.
func (m *Manager) ProcessNextImport(ctx context.Context) (bool, error) {
	step, err := m.RunNext(ctx)
	return step == StepSucceeded, err
}

// ProcessAllPending runs entries until the queue is drained, ctx is done or
// another worker holds the queue. It returns the succeeded and failed counts.
func (m *Manager) ProcessAllPending(ctx context.Context) (succeeded, failed int, err error) {
	for ctx.Err() == nil {
		step, err := m.RunNext(ctx)
		if err != nil {
			return succeeded, failed, err
		}
		switch step {
		case StepSucceeded:
			succeeded++
		case StepFailed:
			failed++
		default:
			return succeeded, failed, nil
		}
	}
	return succeeded, failed, nil
}

// QueueStatus counts entries per status and refreshes the queue gauges.
func (m *Manager) QueueStatus(ctx context.Context) (queue.Stats, error) {
	st, err := m.queue.Stats(ctx)
	if err != nil {
		return queue.Stats{}, err
	}
	metrics.SetQueue(map[model.QueueStatus]int{
		model.StatusPending:    st.Pending,
		model.StatusProcessing: st.Processing,
		model.StatusCompleted:  st.Completed,
		model.StatusFailed:     st.Failed,
		model.StatusCancelled:  st.Cancelled,
	})
	return st, nil
}

// PipelineStatus reports whether an import is running plus queue counts.
func (m *Manager) PipelineStatus(ctx context.Context) (Status, error) {
	st, err := m.QueueStatus(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		IsProcessing: st.Processing > 0,
		QueueStats:   st,
		Timestamp:    m.queue.Now(),
	}, nil
}

// CleanupOldImports deletes completed entries older than days.
func (m *Manager) CleanupOldImports(ctx context.Context, days int) (int64, error) {
	n, err := m.queue.Cleanup(ctx, days)
	if err != nil {
		return 0, err
	}
	metrics.CleanedUp.Add(float64(n))
	return n, nil
}

// Diagnose inspects an entry and repairs what it can.
func (m *Manager) Diagnose(ctx context.Context, id string) (Report, error) {
	if m.diagnoser == nil {
		return Report{}, fmt.Errorf("diagnosis is not configured")
	}
	req, err := m.queue.Get(ctx, id)
	if err != nil {
		return Report{}, err
	}
	return m.diagnoser.Diagnose(ctx, req), nil
}
