package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/CatalogImport/internal/pipeline"
	"github.com/dharsanguruparan/CatalogImport/internal/queue"
)

type fakeManager struct {
	runNext     int
	drained     int
	deadline    bool
	cleanupDays int
	err         error
}

func (f *fakeManager) RunNext(context.Context) (pipeline.Step, error) {
	f.runNext++
	return pipeline.StepSucceeded, f.err
}

func (f *fakeManager) ProcessAllPending(ctx context.Context) (int, int, error) {
	f.drained++
	_, f.deadline = ctx.Deadline()
	return 2, 1, f.err
}

func (f *fakeManager) CleanupOldImports(_ context.Context, days int) (int64, error) {
	f.cleanupDays = days
	return 4, f.err
}

func TestProcessTaskRunsOneImport(t *testing.T) {
	m := &fakeManager{}
	task, err := queue.NewProcessTask(queue.ProcessPayload{})
	require.NoError(t, err)

	require.NoError(t, NewProcessor(m, nil).Handler().ProcessTask(context.Background(), task))
	require.Equal(t, 1, m.runNext)
	require.Zero(t, m.drained)
}

func TestContinuousProcessTaskDrainsWithDeadline(t *testing.T) {
	m := &fakeManager{}
	task, err := queue.NewProcessTask(queue.ProcessPayload{Continuous: true, MaxRuntime: time.Minute})
	require.NoError(t, err)

	require.NoError(t, NewProcessor(m, nil).Handler().ProcessTask(context.Background(), task))
	require.Equal(t, 1, m.drained)
	require.True(t, m.deadline)
}

func TestProcessTaskPropagatesErrors(t *testing.T) {
	m := &fakeManager{err: errors.New("db down")}
	task, err := queue.NewProcessTask(queue.ProcessPayload{Continuous: true})
	require.NoError(t, err)

	err = NewProcessor(m, nil).Handler().ProcessTask(context.Background(), task)
	require.EqualError(t, err, "db down")
}

func TestCleanupTask(t *testing.T) {
	m := &fakeManager{}
	task, err := queue.NewCleanupTask(10)
	require.NoError(t, err)
	require.NoError(t, NewProcessor(m, nil).Handler().ProcessTask(context.Background(), task))
	require.Equal(t, 10, m.cleanupDays)

	// A scheduler entry without payload uses the default retention.
	m = &fakeManager{}
	require.NoError(t, NewProcessor(m, nil).Handler().ProcessTask(context.Background(), asynq.NewTask(queue.CleanupTask, nil)))
	require.Equal(t, queue.DefaultRetentionDays, m.cleanupDays)
}

func TestMalformedPayloadSkipsRetry(t *testing.T) {
	task := asynq.NewTask(queue.ProcessQueueTask, []byte("{"))
	err := NewProcessor(&fakeManager{}, nil).Handler().ProcessTask(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}
