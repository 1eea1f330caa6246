package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dharsanguruparan/CatalogImport/internal/etl"
)

// CSV reads delimited text with a header row. Every field stays a string;
// typing happens in the transform stage.
type CSV struct{}

func (CSV) Extract(ctx context.Context, src Source) (*etl.Batch, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return &etl.Batch{Format: etl.FormatCSV, Columns: []string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var records []etl.Record
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", len(records)+2, err)
		}
		rec := etl.NewRecord(len(header))
		for i, col := range header {
			if i < len(row) {
				rec.Set(col, etl.String(row[i]))
			} else {
				rec.Set(col, etl.Null())
			}
		}
		records = append(records, rec)
	}
	return &etl.Batch{
		Format:  etl.FormatCSV,
		Records: records,
		Columns: header,
	}, nil
}
