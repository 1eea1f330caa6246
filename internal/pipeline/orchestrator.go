// Package pipeline runs queued imports through extract, transform and load,
// and provides the queue-level operations built on top of single runs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dharsanguruparan/CatalogImport/internal/etl"
	"github.com/dharsanguruparan/CatalogImport/internal/etl/extract"
	"github.com/dharsanguruparan/CatalogImport/internal/events"
	"github.com/dharsanguruparan/CatalogImport/internal/heartbeat"
	"github.com/dharsanguruparan/CatalogImport/internal/metrics"
	"github.com/dharsanguruparan/CatalogImport/internal/model"
	"github.com/dharsanguruparan/CatalogImport/internal/queue"
)

// Catalog exposes the datasets, versions and users imports refer to.
type Catalog interface {
	Dataset(ctx context.Context, id string) (*model.Dataset, error)
	// CurrentVersion returns nil when no version is current.
	CurrentVersion(ctx context.Context, datasetID string) (*model.DatasetVersion, error)
	// LatestVersion returns nil when the dataset has no versions.
	LatestVersion(ctx context.Context, datasetID string) (*model.DatasetVersion, error)
	User(ctx context.Context, id string) (*model.User, error)
}

// Extractor reads a source into a batch.
type Extractor interface {
	Extract(ctx context.Context, src extract.Source) (*etl.Batch, error)
}

// Transformer normalizes an extracted batch.
type Transformer interface {
	Transform(ctx context.Context, batch *etl.Batch, dataset model.Dataset, requester model.User) (*etl.Batch, error)
}

// Loader persists a transformed batch and records the outcome.
type Loader interface {
	Load(ctx context.Context, req *model.ImportRequest, batch *etl.Batch) (*model.ImportResult, error)
	TableName(req *model.ImportRequest) string
}

// Orchestrator drives one queue entry through the pipeline.
type Orchestrator struct {
	queue       *queue.Service
	catalog     Catalog
	files       FileResolver
	extractor   Extractor
	transformer Transformer
	loader      Loader
	heartbeat   heartbeat.Monitor
	events      events.Publisher
	logger      *slog.Logger
}

// Deps lists the collaborators of an Orchestrator. Heartbeat and Events are
// optional.
type Deps struct {
	Queue       *queue.Service
	Catalog     Catalog
	Files       FileResolver
	Extractor   Extractor
	Transformer Transformer
	Loader      Loader
	Heartbeat   heartbeat.Monitor
	Events      events.Publisher
	Logger      *slog.Logger
}

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(d Deps) *Orchestrator {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Orchestrator{
		queue:       d.Queue,
		catalog:     d.Catalog,
		files:       d.Files,
		extractor:   d.Extractor,
		transformer: d.Transformer,
		loader:      d.Loader,
		heartbeat:   d.Heartbeat,
		events:      d.Events,
		logger:      d.Logger,
	}
}

// Execute runs req to completion and reports whether it succeeded. Every
// failure is recorded on the entry; nothing is returned to the caller. A run
// is not interrupted once started, so cancellation of ctx is ignored.
func (o *Orchestrator) Execute(ctx context.Context, req *model.ImportRequest) bool {
	ctx = context.WithoutCancel(ctx)
	logger := o.logger.With(
		slog.String("import_id", req.ID),
		slog.String("dataset_id", req.DatasetID),
	)

	if req.Status == model.StatusPending {
		if err := o.queue.MarkProcessing(ctx, req); err != nil {
			logger.Error("start import", slog.String("error", err.Error()))
			return false
		}
	}
	if o.heartbeat != nil {
		stop := heartbeat.Keep(ctx, o.heartbeat, req.ID, func(err error) {
			logger.Warn("heartbeat", slog.String("error", err.Error()))
		})
		defer stop()
	}

	logger.Info("import started")
	result, err := o.run(ctx, req, logger)
	if err != nil {
		msg := FailureMessage(err)
		stage, ok := etl.StageOf(err)
		if !ok {
			stage = "unexpected"
		}
		metrics.PipelineRuns.WithLabelValues("failed").Inc()
		metrics.PipelineFailures.WithLabelValues(string(stage)).Inc()
		logger.Error("import failed", slog.String("stage", string(stage)), slog.String("error", msg))
		if err := o.queue.MarkFailed(ctx, req, msg); err != nil {
			logger.Error("record failure", slog.String("error", err.Error()))
		}
		o.publish(ctx, logger, events.Outcome{
			ImportID:    req.ID,
			DatasetID:   req.DatasetID,
			RequestedBy: req.RequestedBy,
			Error:       msg,
			FinishedAt:  o.queue.Now(),
		})
		return false
	}

	if err := o.queue.MarkCompleted(ctx, req); err != nil {
		logger.Error("record completion", slog.String("error", err.Error()))
		return false
	}
	metrics.PipelineRuns.WithLabelValues("completed").Inc()
	metrics.RecordsLoaded.Add(float64(result.RecordsImported))
	table := ""
	if result.ImportDatabaseTable != nil {
		table = *result.ImportDatabaseTable
	}
	logger.Info("import completed", slog.String("table", table), slog.Int("records", result.RecordsImported))
	o.publish(ctx, logger, events.Outcome{
		ImportID:        req.ID,
		DatasetID:       req.DatasetID,
		RequestedBy:     req.RequestedBy,
		Success:         true,
		Table:           table,
		RecordsImported: result.RecordsImported,
		FinishedAt:      o.queue.Now(),
	})
	return true
}

func (o *Orchestrator) publish(ctx context.Context, logger *slog.Logger, outcome events.Outcome) {
	if err := o.events.Publish(ctx, outcome); err != nil {
		logger.Warn("publish outcome", slog.String("error", err.Error()))
	}
}

// FailureMessage renders err for the queue entry. Stage errors keep their
// message; anything else is marked unexpected.
func FailureMessage(err error) string {
	if _, ok := etl.StageOf(err); ok {
		return err.Error()
	}
	return "Unexpected error: " + err.Error()
}

func (o *Orchestrator) run(ctx context.Context, req *model.ImportRequest, logger *slog.Logger) (result *model.ImportResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	dataset, err := o.catalog.Dataset(ctx, req.DatasetID)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	requester, err := o.catalog.User(ctx, req.RequestedBy)
	if err != nil {
		return nil, fmt.Errorf("load requester: %w", err)
	}
	version, err := o.catalog.CurrentVersion(ctx, dataset.ID)
	if err != nil {
		return nil, fmt.Errorf("load current version: %w", err)
	}

	src := extract.Source{Dataset: *dataset, Version: version, Requester: *requester}
	if version != nil && version.HasFile() {
		path, release, err := o.files.Open(ctx, version)
		if err != nil {
			return nil, etl.Wrap(etl.StageExtract, err, "Failed to extract from file")
		}
		defer release()
		src.Path = path
	}

	start := time.Now()
	extracted, err := o.extractor.Extract(ctx, src)
	metrics.ObserveStage(string(etl.StageExtract), start)
	if err != nil {
		return nil, err
	}
	logStage(logger, etl.StageExtract, extracted)

	start = time.Now()
	transformed, err := o.transformer.Transform(ctx, extracted, *dataset, *requester)
	metrics.ObserveStage(string(etl.StageTransform), start)
	if err != nil {
		return nil, err
	}
	logStage(logger, etl.StageTransform, transformed)

	start = time.Now()
	result, err = o.loader.Load(ctx, req, transformed)
	metrics.ObserveStage(string(etl.StageLoad), start)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func logStage(logger *slog.Logger, stage etl.Stage, batch *etl.Batch) {
	if batch == nil {
		return
	}
	logger.Debug("stage finished",
		slog.String("stage", string(stage)),
		slog.String("format", string(batch.Format)),
		slog.Int("records", batch.RecordCount()),
	)
}
