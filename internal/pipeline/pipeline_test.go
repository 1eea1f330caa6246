package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/CatalogImport/internal/etl"
	"github.com/dharsanguruparan/CatalogImport/internal/etl/extract"
	"github.com/dharsanguruparan/CatalogImport/internal/etl/load"
	"github.com/dharsanguruparan/CatalogImport/internal/etl/transform"
	"github.com/dharsanguruparan/CatalogImport/internal/events"
	"github.com/dharsanguruparan/CatalogImport/internal/heartbeat"
	"github.com/dharsanguruparan/CatalogImport/internal/model"
	"github.com/dharsanguruparan/CatalogImport/internal/pipeline"
	"github.com/dharsanguruparan/CatalogImport/internal/queue"
	"github.com/dharsanguruparan/CatalogImport/internal/storage"
)

type env struct {
	store     *storage.MemoryStore
	db        *storage.MemoryImportDB
	queue     *queue.Service
	loader    *load.Loader
	events    *events.Recorder
	heartbeat *heartbeat.Local
	media     string
	orch      *pipeline.Orchestrator
	manager   *pipeline.Manager
	now       time.Time
}

type envOption func(*pipeline.Deps)

func withExtractor(e pipeline.Extractor) envOption {
	return func(d *pipeline.Deps) { d.Extractor = e }
}

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()
	e := &env{
		store:     storage.NewMemoryStore(),
		db:        storage.NewMemoryImportDB(),
		events:    &events.Recorder{},
		heartbeat: heartbeat.NewLocal(time.Minute),
		media:     t.TempDir(),
		now:       time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return e.now }
	e.queue = queue.NewService(e.store, e.store, queue.WithClock(clock))
	e.loader = load.New(e.db, e.store, e.store, load.WithClock(clock))
	registry := extract.NewDefaultRegistry(nil, extract.Options{})
	files := pipeline.LocalFiles{Root: e.media}

	deps := pipeline.Deps{
		Queue:       e.queue,
		Catalog:     e.store,
		Files:       files,
		Extractor:   registry,
		Transformer: transform.NewService(transform.WithClock(clock)),
		Loader:      e.loader,
		Heartbeat:   e.heartbeat,
		Events:      e.events,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	e.orch = pipeline.NewOrchestrator(deps)
	diag := pipeline.NewDiagnoser(pipeline.DiagnoserDeps{
		Queue:     e.queue,
		Catalog:   e.store,
		Files:     files,
		Database:  e.db,
		Results:   e.store,
		Formats:   registry,
		TableName: e.loader.TableName,
		Heartbeat: e.heartbeat,
	})
	e.manager = pipeline.NewManager(e.queue, e.orch, diag, nil)

	e.store.PutUser(model.User{ID: "7", Username: "alice"})
	return e
}

func (e *env) dataset(t *testing.T, id string, versions ...model.DatasetVersion) {
	t.Helper()
	e.store.PutDataset(model.Dataset{ID: id, Title: "Dataset " + id})
	for _, v := range versions {
		v.DatasetID = id
		e.store.PutVersion(v)
	}
}

func (e *env) enqueue(t *testing.T, datasetID string) *model.ImportRequest {
	t.Helper()
	req, err := e.queue.Enqueue(context.Background(), datasetID, model.User{ID: "7", Username: "alice"}, "")
	require.NoError(t, err)
	e.now = e.now.Add(time.Second)
	return req
}

func (e *env) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.media, name), []byte(content), 0o644))
	return name
}

func TestExecuteBasicInfoImportsOneRecord(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.dataset(t, "42", model.DatasetVersion{ID: "v1", VersionNumber: "1.0", IsCurrent: true})
	req := e.enqueue(t, "42")

	require.True(t, e.orch.Execute(ctx, req))

	stored, err := e.queue.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, stored.Status)
	require.NotNil(t, stored.StartedAt)
	require.NotNil(t, stored.CompletedAt)
	require.NotNil(t, stored.ImportResultID)

	result, err := e.store.GetResult(ctx, *stored.ImportResultID)
	require.NoError(t, err)
	require.Equal(t, model.ResultCompleted, result.Status)
	require.Equal(t, 1, result.RecordsImported)
	require.Equal(t, "imported_dataset_42_7", *result.ImportDatabaseTable)
	require.Len(t, e.db.Table("imported_dataset_42_7").Rows, 1)

	outcomes := e.events.Outcomes()
	require.Len(t, outcomes, 1)
	require.True(t, outcomes[0].Success)
	require.Equal(t, events.ImportCompleted, outcomes[0].RoutingKey())

	alive, err := e.heartbeat.Alive(ctx, req.ID)
	require.NoError(t, err)
	require.False(t, alive)
}

func TestExecuteWithoutVersionFails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.dataset(t, "42")
	req := e.enqueue(t, "42")

	require.False(t, e.orch.Execute(ctx, req))

	stored, err := e.queue.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, stored.Status)
	require.Contains(t, stored.ErrorMessage, "current version")
	require.NotContains(t, stored.ErrorMessage, "Unexpected error")
	require.NotNil(t, stored.CompletedAt)
	require.Nil(t, stored.ImportResultID)

	blocked, err := e.store.HasBlockingResult(ctx, "42")
	require.NoError(t, err)
	require.False(t, blocked)
	require.Equal(t, events.ImportFailed, e.events.Outcomes()[0].RoutingKey())
}

func TestExecuteCSVFile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	name := e.writeFile(t, "people.csv", "name,age,city\nJohn,25,New York\nJane,30,Boston\n")
	e.dataset(t, "42", model.DatasetVersion{ID: "v1", FilePath: name, IsCurrent: true})
	req := e.enqueue(t, "42")

	require.True(t, e.orch.Execute(ctx, req))

	table := e.db.Table("imported_dataset_42_7")
	require.NotNil(t, table)
	require.Equal(t, []string{
		"name", "age", "city", "_dataset_id", "_dataset_title", "_import_timestamp", "_imported_by",
	}, table.Columns)
	require.Len(t, table.Rows, 2)
	require.Equal(t, "John", *table.Rows[0][0])
	require.Equal(t, "25", *table.Rows[0][1])
	require.Equal(t, "alice", *table.Rows[0][6])
}

func TestExecuteMissingFileIsExtractionFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.dataset(t, "42", model.DatasetVersion{ID: "v1", FilePath: "gone.csv", IsCurrent: true})
	req := e.enqueue(t, "42")

	require.False(t, e.orch.Execute(ctx, req))
	stored, err := e.queue.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Contains(t, stored.ErrorMessage, "Failed to extract from file")
}

func TestExecuteUnexpectedErrors(t *testing.T) {
	t.Run("missing requester", func(t *testing.T) {
		e := newEnv(t)
		ctx := context.Background()
		e.dataset(t, "42", model.DatasetVersion{ID: "v1", IsCurrent: true})
		req, err := e.queue.Enqueue(ctx, "42", model.User{ID: "ghost"}, "")
		require.NoError(t, err)

		require.False(t, e.orch.Execute(ctx, req))
		stored, err := e.queue.Get(ctx, req.ID)
		require.NoError(t, err)
		require.Equal(t, model.StatusFailed, stored.Status)
		require.Contains(t, stored.ErrorMessage, "Unexpected error: load requester")
	})

	t.Run("panic", func(t *testing.T) {
		boom := extract.ExtractorFunc(func(context.Context, extract.Source) (*etl.Batch, error) {
			panic("boom")
		})
		e := newEnv(t, withExtractor(boom))
		ctx := context.Background()
		e.dataset(t, "42", model.DatasetVersion{ID: "v1", IsCurrent: true})
		req := e.enqueue(t, "42")

		require.False(t, e.orch.Execute(ctx, req))
		stored, err := e.queue.Get(ctx, req.ID)
		require.NoError(t, err)
		require.Equal(t, "Unexpected error: boom", stored.ErrorMessage)
	})

	t.Run("plain error", func(t *testing.T) {
		failing := extract.ExtractorFunc(func(context.Context, extract.Source) (*etl.Batch, error) {
			return nil, errors.New("disk on fire")
		})
		e := newEnv(t, withExtractor(failing))
		ctx := context.Background()
		e.dataset(t, "42", model.DatasetVersion{ID: "v1", IsCurrent: true})
		req := e.enqueue(t, "42")

		require.False(t, e.orch.Execute(ctx, req))
		stored, err := e.queue.Get(ctx, req.ID)
		require.NoError(t, err)
		require.Equal(t, "Unexpected error: disk on fire", stored.ErrorMessage)
	})
}

func TestExecuteLoadFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.dataset(t, "42", model.DatasetVersion{ID: "v1", IsCurrent: true})
	req := e.enqueue(t, "42")
	e.db.FailMaterialize(errors.New("relation exists"))

	require.False(t, e.orch.Execute(ctx, req))
	stored, err := e.queue.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, "Failed to load data: relation exists", stored.ErrorMessage)
	require.Nil(t, stored.ImportResultID)
}

func TestFailureMessage(t *testing.T) {
	require.Equal(t, "No extracted data to transform",
		pipeline.FailureMessage(etl.TransformationError("No extracted data to transform")))
	require.Equal(t, "Unexpected error: nope", pipeline.FailureMessage(errors.New("nope")))
}

func TestProcessNextImportIsSingleFlight(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.dataset(t, "1", model.DatasetVersion{ID: "v1", IsCurrent: true})
	e.dataset(t, "2", model.DatasetVersion{ID: "v2", IsCurrent: true})

	running := e.enqueue(t, "1")
	require.NoError(t, e.queue.MarkProcessing(ctx, running))
	waiting := e.enqueue(t, "2")

	ok, err := e.manager.ProcessNextImport(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	stored, err := e.queue.Get(ctx, waiting.ID)
	require.NoError(t, err)
	require.Equal(t, waiting, stored)
}

func TestProcessNextImportEmptyQueue(t *testing.T) {
	e := newEnv(t)
	step, err := e.manager.RunNext(context.Background())
	require.NoError(t, err)
	require.Equal(t, pipeline.StepIdle, step)
	require.False(t, step.Ran())
}

func TestProcessAllPending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.dataset(t, "1", model.DatasetVersion{ID: "v1", IsCurrent: true})
	e.dataset(t, "2")
	e.dataset(t, "3", model.DatasetVersion{ID: "v3", IsCurrent: true})
	for _, id := range []string{"1", "2", "3"} {
		e.enqueue(t, id)
	}

	succeeded, failed, err := e.manager.ProcessAllPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, succeeded)
	require.Equal(t, 1, failed)

	status, err := e.manager.PipelineStatus(ctx)
	require.NoError(t, err)
	require.False(t, status.IsProcessing)
	require.Equal(t, queue.Stats{Completed: 2, Failed: 1, Total: 3}, status.QueueStats)
	require.Equal(t, e.now, status.Timestamp)
}

func TestCleanupOldImports(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.dataset(t, "1", model.DatasetVersion{ID: "v1", IsCurrent: true})
	req := e.enqueue(t, "1")
	require.True(t, e.orch.Execute(ctx, req))

	n, err := e.manager.CleanupOldImports(ctx, 30)
	require.NoError(t, err)
	require.Zero(t, n)

	e.now = e.now.AddDate(0, 0, 31)
	n, err = e.manager.CleanupOldImports(ctx, 30)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}
