package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// ProcessQueueTask drains the import queue one entry at a time.
	ProcessQueueTask = "import:process-queue"
	// CleanupTask removes old completed entries.
	CleanupTask = "import:cleanup"
)

// ProcessPayload bounds a queue drain.
type ProcessPayload struct {
	// Continuous keeps draining until the queue is empty or MaxRuntime passes.
	Continuous bool          `json:"continuous"`
	MaxRuntime time.Duration `json:"max_runtime"`
}

// processTimeoutSlack lets the import in flight finish after a drain's
// MaxRuntime has passed.
const processTimeoutSlack = 10 * time.Minute

// defaultDrainRuntime bounds a payload without MaxRuntime.
const defaultDrainRuntime = time.Hour

// ProcessTimeout is the asynq task timeout for payload. asynq cancels tasks
// after 30 minutes by default, which is shorter than an hour-long drain.
func ProcessTimeout(payload ProcessPayload) time.Duration {
	runtime := payload.MaxRuntime
	if runtime <= 0 {
		runtime = defaultDrainRuntime
	}
	return runtime + processTimeoutSlack
}

// CleanupPayload carries the retention window.
type CleanupPayload struct {
	Days int `json:"days"`
}

// NewProcessTask builds a process-queue task. Only one can be waiting at a
// time, so repeated triggers collapse into one.
func NewProcessTask(payload ProcessPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(ProcessQueueTask, data,
		asynq.MaxRetry(0),
		asynq.Unique(time.Minute),
		asynq.Timeout(ProcessTimeout(payload)),
	), nil
}

// NewCleanupTask builds a cleanup task.
func NewCleanupTask(days int) (*asynq.Task, error) {
	data, err := json.Marshal(CleanupPayload{Days: days})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(CleanupTask, data, asynq.MaxRetry(1)), nil
}

// EnqueueProcess asks the worker to drain the queue. A trigger that is
// already waiting is not an error.
func EnqueueProcess(ctx context.Context, client *asynq.Client, payload ProcessPayload) error {
	task, err := NewProcessTask(payload)
	if err != nil {
		return err
	}
	if _, err := client.EnqueueContext(ctx, task); err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
		return fmt.Errorf("enqueue process task: %w", err)
	}
	return nil
}

// EnqueueCleanup asks the worker to delete old completed entries.
func EnqueueCleanup(ctx context.Context, client *asynq.Client, days int) error {
	task, err := NewCleanupTask(days)
	if err != nil {
		return err
	}
	if _, err := client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue cleanup task: %w", err)
	}
	return nil
}
