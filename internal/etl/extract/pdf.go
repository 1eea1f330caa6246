package extract

import (
	"context"
	"path/filepath"

	"github.com/dharsanguruparan/CatalogImport/internal/etl"
	pdfutil "github.com/dharsanguruparan/CatalogImport/internal/pdf"
)

// PDF turns each page of a PDF document into a record with its plain text.
type PDF struct{}

func (PDF) Extract(ctx context.Context, src Source) (*etl.Batch, error) {
	pages, err := pdfutil.ExtractPages(src.Path)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(src.Path)
	records := make([]etl.Record, 0, len(pages))
	for _, p := range pages {
		rec := etl.NewRecord(3)
		rec.Set("file_name", etl.String(name))
		rec.Set("page", etl.Int(int64(p.Number)))
		rec.Set("text", etl.String(p.Text))
		records = append(records, rec)
	}
	return &etl.Batch{
		Format:  etl.FormatPDF,
		Records: records,
		Columns: []string{"file_name", "page", "text"},
	}, nil
}
