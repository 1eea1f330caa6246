package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dharsanguruparan/CatalogImport/internal/etl"
)

// SQLScript keeps a SQL file as one opaque record. The script is never run.
type SQLScript struct{}

func (SQLScript) Extract(ctx context.Context, src Source) (*etl.Batch, error) {
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, fmt.Errorf("read sql script: %w", err)
	}
	rec := etl.NewRecord(4)
	rec.Set("sql_content", etl.String(string(data)))
	rec.Set("file_name", etl.String(filepath.Base(src.Path)))
	rec.Set("file_size", etl.Int(int64(len(data))))
	rec.Set("sql_type", etl.String("script"))
	return &etl.Batch{
		Format:  etl.FormatSQL,
		Records: []etl.Record{rec},
		SQLType: "script",
	}, nil
}
