package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/dharsanguruparan/CatalogImport/internal/etl"
)

// Feature is one row of a geospatial layer. Geometry is nil when the row has
// none.
type Feature struct {
	Attributes etl.Record
	Geometry   geom.T
}

// Layer is a named collection of features.
type Layer struct {
	Name     string
	Features []Feature
}

// LayerReader enumerates the layers of a multi-layer geospatial container.
type LayerReader interface {
	Capability
	ReadLayers(ctx context.Context, path string) ([]Layer, error)
}

// Layers flattens every feature of every layer into a record tagged with its
// layer name. Geometries become WKT in geometry_wkt. When the reader fails the
// file is described by a basic-info record instead.
type Layers struct {
	Format etl.Format
	Reader LayerReader
	Logger *slog.Logger
}

func (l Layers) Extract(ctx context.Context, src Source) (*etl.Batch, error) {
	layers, err := l.Reader.ReadLayers(ctx, src.Path)
	if err != nil {
		l.logger().Warn("layer extraction failed, using basic info",
			slog.String("format", string(l.Format)),
			slog.String("reader", l.Reader.Name()),
			slog.Any("error", err),
		)
		return pathInfo(src.Path, l.Format)
	}

	names := make([]string, 0, len(layers))
	var records []etl.Record
	for _, layer := range layers {
		names = append(names, layer.Name)
		for _, f := range layer.Features {
			rec := f.Attributes.Clone()
			rec.Set("_layer_name", etl.String(layer.Name))
			if f.Geometry == nil {
				rec.Set("geometry", etl.Null())
			} else if text, err := wkt.Marshal(f.Geometry); err == nil {
				rec.Set("geometry_wkt", etl.String(text))
			} else {
				return nil, fmt.Errorf("layer %s: encode geometry: %w", layer.Name, err)
			}
			records = append(records, rec)
		}
	}
	return &etl.Batch{
		Format:  l.Format,
		Records: records,
		Layers:  names,
	}, nil
}

func (l Layers) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

var errReaderUnavailable = errors.New("reader unavailable")

type unavailableReader struct {
	name string
}

func (u unavailableReader) Name() string    { return u.name }
func (u unavailableReader) Available() bool { return false }

func (u unavailableReader) ReadLayers(ctx context.Context, path string) ([]Layer, error) {
	return nil, fmt.Errorf("%s: %w", u.name, errReaderUnavailable)
}
