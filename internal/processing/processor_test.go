package processing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/CatalogImport/internal/pipeline"
)

type scriptedManager struct {
	steps       []pipeline.Step
	calls       int
	cleanedDays int
	err         error
}

func (m *scriptedManager) RunNext(context.Context) (pipeline.Step, error) {
	if m.err != nil {
		return pipeline.StepIdle, m.err
	}
	if m.calls >= len(m.steps) {
		m.calls++
		return pipeline.StepIdle, nil
	}
	step := m.steps[m.calls]
	m.calls++
	return step, nil
}

func (m *scriptedManager) CleanupOldImports(_ context.Context, days int) (int64, error) {
	m.cleanedDays = days
	return 3, nil
}

// fakeTime advances only when the runner sleeps.
type fakeTime struct {
	now    time.Time
	sleeps []time.Duration
}

func newRunner(m Manager) (*Runner, *fakeTime) {
	ft := &fakeTime{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := New(m, nil)
	r.now = func() time.Time { return ft.now }
	r.sleep = func(_ context.Context, d time.Duration) error {
		ft.sleeps = append(ft.sleeps, d)
		ft.now = ft.now.Add(d)
		return nil
	}
	return r, ft
}

func TestSingleRun(t *testing.T) {
	m := &scriptedManager{steps: []pipeline.Step{pipeline.StepFailed}}
	r, _ := newRunner(m)

	sum, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, m.calls)
	require.Equal(t, 0, sum.Processed)
	require.Equal(t, 1, sum.Failed)
}

func TestSingleRunIdleWithCleanup(t *testing.T) {
	m := &scriptedManager{}
	r, _ := newRunner(m)

	sum, err := r.Run(context.Background(), Options{Cleanup: true, CleanupDays: 30})
	require.NoError(t, err)
	require.Equal(t, Summary{Cleaned: 3}, sum)
	require.Equal(t, 30, m.cleanedDays)
}

func TestContinuousStopsAtMaxRuntime(t *testing.T) {
	m := &scriptedManager{steps: []pipeline.Step{
		pipeline.StepSucceeded, pipeline.StepFailed, pipeline.StepBusy, pipeline.StepSucceeded,
	}}
	r, ft := newRunner(m)
	opts := DefaultOptions()
	opts.Continuous = true
	opts.MaxRuntime = 20 * time.Second

	sum, err := r.Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, 2, sum.Processed)
	require.Equal(t, 1, sum.Failed)
	require.Equal(t, []time.Duration{
		time.Second, time.Second, 5 * time.Second, time.Second, 5 * time.Second, 5 * time.Second, 5 * time.Second,
	}, ft.sleeps)
	require.Equal(t, 23*time.Second, sum.Runtime)
}

func TestContinuousStopsOnCancel(t *testing.T) {
	m := &scriptedManager{}
	r := New(m, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, Options{Continuous: true, MaxRuntime: time.Hour, IdleWait: time.Hour})
	require.NoError(t, err)
	require.Equal(t, 1, m.calls)
}

func TestRunReturnsManagerErrors(t *testing.T) {
	m := &scriptedManager{err: errors.New("db down")}
	r, _ := newRunner(m)

	_, err := r.Run(context.Background(), Options{Continuous: true, MaxRuntime: time.Minute})
	require.EqualError(t, err, "db down")
}
