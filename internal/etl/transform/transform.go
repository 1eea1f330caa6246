// Package transform normalizes extracted batches. Each format family has its
// own transformer; all of them stamp provenance fields on every record.
package transform

import (
	"context"
	"time"

	"github.com/dharsanguruparan/CatalogImport/internal/etl"
	"github.com/dharsanguruparan/CatalogImport/internal/model"
)

// Provenance keys stamped on transformed records.
const (
	KeyDatasetID       = "_dataset_id"
	KeyDatasetTitle    = "_dataset_title"
	KeyImportTimestamp = "_import_timestamp"
	KeyImportedBy      = "_imported_by"
	KeySourceFormat    = "_source_format"
	KeyLayerName       = "_layer_name"
	KeyTableName       = "_table_name"
	KeyGeometry        = "_geometry"
)

// Provenance identifies where transformed records came from.
type Provenance struct {
	DatasetID    string
	DatasetTitle string
	ImportedBy   string
	Timestamp    time.Time
}

func (p Provenance) record(extra int) etl.Record {
	rec := etl.NewRecord(4 + extra)
	rec.Set(KeyDatasetID, etl.String(p.DatasetID))
	rec.Set(KeyDatasetTitle, etl.String(p.DatasetTitle))
	rec.Set(KeyImportTimestamp, etl.String(p.Timestamp.Format(time.RFC3339Nano)))
	rec.Set(KeyImportedBy, etl.String(p.ImportedBy))
	return rec
}

// Transformer normalizes one format family.
type Transformer interface {
	Transform(batch *etl.Batch, prov Provenance) (*etl.Batch, error)
}

// TransformerFunc adapts a function to the Transformer interface.
type TransformerFunc func(batch *etl.Batch, prov Provenance) (*etl.Batch, error)

func (f TransformerFunc) Transform(batch *etl.Batch, prov Provenance) (*etl.Batch, error) {
	return f(batch, prov)
}

// Service selects a transformer by the batch's format family.
type Service struct {
	now      func() time.Time
	families map[etl.Family]Transformer
}

// Option customizes a Service.
type Option func(*Service)

// WithClock sets the clock used for the import timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTransformer overrides the transformer of a family.
func WithTransformer(family etl.Family, t Transformer) Option {
	return func(s *Service) { s.families[family] = t }
}

// NewService returns a Service with the built-in transformers.
func NewService(opts ...Option) *Service {
	s := &Service{
		now: func() time.Time { return time.Now().UTC() },
		families: map[etl.Family]Transformer{
			etl.FamilyTabular:    TransformerFunc(tabular),
			etl.FamilyJSON:       TransformerFunc(jsonFamily),
			etl.FamilyGeospatial: TransformerFunc(geospatial),
			etl.FamilySQL:        TransformerFunc(sqlScript),
			etl.FamilyDocument:   TransformerFunc(document),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transform normalizes batch for an import of dataset requested by requester.
// Families without a transformer pass through unchanged.
func (s *Service) Transform(ctx context.Context, batch *etl.Batch, dataset model.Dataset, requester model.User) (*etl.Batch, error) {
	if batch == nil {
		return nil, etl.TransformationError("No extracted data to transform")
	}
	prov := Provenance{
		DatasetID:    dataset.ID,
		DatasetTitle: dataset.Title,
		ImportedBy:   requester.Username,
		Timestamp:    s.now(),
	}
	t, ok := s.families[batch.Format.Family()]
	if !ok {
		return batch, nil
	}
	out, err := t.Transform(batch, prov)
	if err != nil {
		return nil, etl.Wrap(etl.StageTransform, err, "Failed to transform data")
	}
	return out, nil
}
