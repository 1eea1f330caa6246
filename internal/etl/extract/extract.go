// Package extract reads dataset files into etl batches. One Extractor exists
// per supported format; a Registry picks the extractor from the file
// extension and falls back to a metadata-only record when nothing better is
// available.
package extract

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dharsanguruparan/CatalogImport/internal/etl"
	"github.com/dharsanguruparan/CatalogImport/internal/model"
)

// Source is everything an extractor may need about the version being
// imported. Path is the local copy of the version's file and is empty when
// the version has no uploaded file.
type Source struct {
	Dataset   model.Dataset
	Version   *model.DatasetVersion
	Requester model.User
	Path      string
}

// Extractor turns a source into an extracted batch.
type Extractor interface {
	Extract(ctx context.Context, src Source) (*etl.Batch, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, src Source) (*etl.Batch, error)

func (f ExtractorFunc) Extract(ctx context.Context, src Source) (*etl.Batch, error) {
	return f(ctx, src)
}

// Capability is an optional reader whose availability is only known at
// runtime.
type Capability interface {
	Name() string
	Available() bool
}

type optional struct {
	capability Capability
	primary    Extractor
	fallback   Extractor
}

// Registry dispatches extraction by file extension.
type Registry struct {
	logger   *slog.Logger
	byExt    map[string]Extractor
	optional map[string]optional
	basic    Extractor
	url      Extractor
}

// NewRegistry returns a registry with no file formats registered. Sources
// without a file use the URL stub or the basic-info extractor.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger,
		byExt:    make(map[string]Extractor),
		optional: make(map[string]optional),
		basic:    BasicInfo{},
		url:      URLStub{},
	}
}

// Options configures the built-in extractors.
type Options struct {
	// Geodatabase reads File Geodatabase layers. Nil means no reader is
	// installed and .gdb files degrade to a basic-info record.
	Geodatabase LayerReader
}

// NewDefaultRegistry registers every built-in format.
func NewDefaultRegistry(logger *slog.Logger, opts Options) *Registry {
	r := NewRegistry(logger)
	r.Register(".csv", CSV{})
	r.Register(".json", JSON{})
	r.Register(".geojson", JSON{})
	r.Register(".xlsx", Excel{})
	r.Register(".xls", Excel{})
	r.Register(".sql", SQLScript{})
	r.Register(".pdf", PDF{})
	r.Register(".sqlite", SpatiaLite{Logger: r.logger})

	gdb := opts.Geodatabase
	if gdb == nil {
		gdb = unavailableReader{name: "OpenFileGDB"}
	}
	r.RegisterOptional(".gdb", gdb, Layers{Format: etl.FormatGDB, Reader: gdb, Logger: r.logger})

	gpkg := NewGeoPackageReader()
	r.RegisterOptional(".gpkg", gpkg, Layers{Format: etl.FormatGeoPackage, Reader: gpkg, Logger: r.logger})
	return r
}

// Register binds an extension (with leading dot) to an extractor.
func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[strings.ToLower(ext)] = e
}

// RegisterOptional binds an extension to an extractor that depends on a
// capability. While the capability is unavailable the file is described by a
// basic-info record instead.
func (r *Registry) RegisterOptional(ext string, capability Capability, e Extractor) {
	ext = strings.ToLower(ext)
	r.optional[ext] = optional{
		capability: capability,
		primary:    e,
		fallback:   PathInfo{Format: etl.Format(strings.TrimPrefix(ext, "."))},
	}
}

// Extensions lists every registered extension in sorted order.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExt)+len(r.optional))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	for ext := range r.optional {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Supports reports whether a file name has a registered extension.
func (r *Registry) Supports(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := r.byExt[ext]; ok {
		return true
	}
	_, ok := r.optional[ext]
	return ok
}

// For selects the extractor for src.
func (r *Registry) For(src Source) Extractor {
	if src.Path == "" {
		if src.Version != nil && src.Version.FileURL != "" {
			return r.url
		}
		return r.basic
	}
	ext := strings.ToLower(filepath.Ext(src.Path))
	if e, ok := r.byExt[ext]; ok {
		return e
	}
	if opt, ok := r.optional[ext]; ok {
		if opt.capability.Available() {
			return opt.primary
		}
		r.logger.Warn("optional reader unavailable, using basic info",
			slog.String("capability", opt.capability.Name()),
			slog.String("extension", ext),
		)
		return opt.fallback
	}
	return r.basic
}

// Extract runs the extractor selected for src. Failures that are not already
// stage errors are reported as extraction errors.
func (r *Registry) Extract(ctx context.Context, src Source) (*etl.Batch, error) {
	if src.Version == nil {
		return nil, etl.ExtractionError("No current version found for dataset")
	}
	batch, err := r.For(src).Extract(ctx, src)
	if err != nil {
		prefix := "Failed to extract from file"
		if src.Path == "" && src.Version.FileURL != "" {
			prefix = "Failed to extract from URL"
		}
		return nil, etl.Wrap(etl.StageExtract, err, prefix)
	}
	return batch, nil
}
