// Package load materializes transformed batches as tables in the import
// database and records the outcome.
package load

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/CatalogImport/internal/etl"
	"github.com/dharsanguruparan/CatalogImport/internal/etl/transform"
	"github.com/dharsanguruparan/CatalogImport/internal/model"
)

// Table describes an import table. Every column is TEXT; the database adds
// an id primary key and a created_at timestamp.
type Table struct {
	Name    string
	Columns []string
	// Replace drops an existing table of the same name before creating it.
	Replace bool
}

// Database is the import database.
type Database interface {
	// Materialize creates the table if needed and inserts rows atomically.
	// Each row binds its values by column position; nil binds NULL.
	Materialize(ctx context.Context, table Table, rows [][]*string) error
	Ping(ctx context.Context) error
	// CountRows reports whether table exists and how many rows it holds.
	CountRows(ctx context.Context, table string) (exists bool, rows int64, err error)
	DropTable(ctx context.Context, table string) error
}

// ResultWriter persists import outcomes.
type ResultWriter interface {
	CreateResult(ctx context.Context, result *model.ImportResult) error
}

// RequestLinker points a queue entry at its import outcome.
type RequestLinker interface {
	LinkResult(ctx context.Context, requestID, resultID string) error
}

// Loader writes batches into the import database.
type Loader struct {
	db       Database
	results  ResultWriter
	requests RequestLinker
	namer    TableNamer
	replace  bool
	now      func() time.Time
	logger   *slog.Logger
}

// Option customizes a Loader.
type Option func(*Loader)

// WithTableNamer replaces DefaultTableName.
func WithTableNamer(n TableNamer) Option {
	return func(l *Loader) { l.namer = n }
}

// WithReplace controls whether an existing table is dropped before loading.
func WithReplace(replace bool) Option {
	return func(l *Loader) { l.replace = replace }
}

// WithClock sets the clock used for completion timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// New builds a Loader. Existing tables are replaced unless WithReplace(false)
// is given.
func New(db Database, results ResultWriter, requests RequestLinker, opts ...Option) *Loader {
	l := &Loader{
		db:       db,
		results:  results,
		requests: requests,
		namer:    DefaultTableName,
		replace:  true,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TableName returns the import table name for a queue entry.
func (l *Loader) TableName(req *model.ImportRequest) string {
	return l.namer(req.DatasetID, req.RequestedBy)
}

// Load persists batch for req and returns the completed outcome. The outcome
// is recorded only after the table and its rows are committed.
func (l *Loader) Load(ctx context.Context, req *model.ImportRequest, batch *etl.Batch) (*model.ImportResult, error) {
	if batch == nil {
		return nil, etl.LoadingError("No transformed data to load")
	}
	keys := ResolveColumns(batch)
	table := Table{
		Name:    l.TableName(req),
		Columns: TableColumns(keys),
		Replace: l.replace,
	}
	rows := Rows(batch.Records, keys)
	if err := l.db.Materialize(ctx, table, rows); err != nil {
		return nil, etl.Wrap(etl.StageLoad, err, "Failed to load data")
	}

	completedAt := l.now()
	name := table.Name
	result := &model.ImportResult{
		ID:                  uuid.NewString(),
		DatasetID:           req.DatasetID,
		ImportedBy:          req.RequestedBy,
		Status:              model.ResultCompleted,
		ImportDatabaseTable: &name,
		RecordsImported:     len(rows),
		CreatedAt:           completedAt,
		ImportCompletedAt:   &completedAt,
	}
	if err := l.results.CreateResult(ctx, result); err != nil {
		return nil, etl.Wrap(etl.StageLoad, err, "Failed to load data")
	}
	if err := l.requests.LinkResult(ctx, req.ID, result.ID); err != nil {
		return nil, etl.Wrap(etl.StageLoad, err, "Failed to load data")
	}
	req.ImportResultID = &result.ID

	l.logger.Info("records loaded",
		slog.String("import_id", req.ID),
		slog.String("table", table.Name),
		slog.Int("records", len(rows)),
	)
	return result, nil
}

// ResolveColumns returns the batch's column list, or the keys of its first
// record. An empty batch falls back to the provenance columns.
func ResolveColumns(batch *etl.Batch) []string {
	if len(batch.Columns) > 0 {
		return batch.Columns
	}
	if len(batch.Records) > 0 {
		return batch.Records[0].Keys()
	}
	return []string{
		transform.KeyDatasetID,
		transform.KeyDatasetTitle,
		transform.KeyImportTimestamp,
		transform.KeyImportedBy,
	}
}

// reservedColumns are added to every import table by the database.
var reservedColumns = map[string]bool{"id": true, "created_at": true}

// TableColumns maps record keys to table column names. Keys that clash with
// the generated id and created_at columns are prefixed with "source_".
func TableColumns(keys []string) []string {
	out := make([]string, len(keys))
	used := make(map[string]bool, len(keys))
	for _, k := range keys {
		used[k] = true
	}
	for i, k := range keys {
		name := k
		if reservedColumns[k] {
			name = "source_" + k
			for n := 2; used[name]; n++ {
				name = fmt.Sprintf("source_%s_%d", k, n)
			}
			used[name] = true
		}
		out[i] = name
	}
	return out
}

// Rows renders records as text rows in keys order. Missing keys and nulls
// become nil.
func Rows(records []etl.Record, keys []string) [][]*string {
	rows := make([][]*string, len(records))
	for i, rec := range records {
		row := make([]*string, len(keys))
		for j, k := range keys {
			v, ok := rec.Get(k)
			if !ok {
				continue
			}
			if text, ok := v.Text(); ok {
				row[j] = &text
			}
		}
		rows[i] = row
	}
	return rows
}
