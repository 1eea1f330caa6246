package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dharsanguruparan/CatalogImport/internal/etl"
)

// BasicInfo describes the version itself as a single record. It is used when
// a version has no file, or when the file's format is not recognised.
type BasicInfo struct{}

func (BasicInfo) Extract(ctx context.Context, src Source) (*etl.Batch, error) {
	v := src.Version
	if v == nil {
		return nil, etl.ExtractionError("No current version found for dataset")
	}
	rec := etl.NewRecord(8)
	rec.Set("dataset_id", etl.String(src.Dataset.ID))
	rec.Set("dataset_title", etl.String(src.Dataset.Title))
	rec.Set("version_number", etl.String(v.VersionNumber))
	if v.HasFile() {
		rec.Set("file_name", etl.String(v.StoredName()))
	} else {
		rec.Set("file_name", etl.String("external_url"))
	}
	if v.FileURL != "" {
		rec.Set("file_url", etl.String(v.FileURL))
	} else {
		rec.Set("file_url", etl.Null())
	}
	rec.Set("description", etl.String(v.Description))
	rec.Set("version_created_at", etl.String(v.CreatedAt.Format(time.RFC3339Nano)))
	createdBy := "system"
	if v.CreatedBy != nil && *v.CreatedBy != "" {
		createdBy = *v.CreatedBy
	}
	rec.Set("created_by", etl.String(createdBy))
	return &etl.Batch{Format: etl.FormatBasic, Records: []etl.Record{rec}}, nil
}

// URLStub handles versions that only point at an external URL. The URL is
// not fetched; the version is described with a basic-info record.
type URLStub struct{}

func (URLStub) Extract(ctx context.Context, src Source) (*etl.Batch, error) {
	return BasicInfo{}.Extract(ctx, src)
}

// PathInfo describes a file it cannot read in detail. Format is the tag the
// batch carries, usually the extension without its dot.
type PathInfo struct {
	Format etl.Format
}

func (p PathInfo) Extract(ctx context.Context, src Source) (*etl.Batch, error) {
	return pathInfo(src.Path, p.Format)
}

func pathInfo(path string, format etl.Format) (*etl.Batch, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}
	rec := etl.NewRecord(5)
	rec.Set("file_name", etl.String(filepath.Base(path)))
	rec.Set("file_path", etl.String(path))
	rec.Set("file_size", etl.Int(info.Size()))
	rec.Set("format_type", etl.String(string(format)))
	rec.Set("extraction_status", etl.String("basic_info_only"))
	return &etl.Batch{Format: format, Records: []etl.Record{rec}}, nil
}
