package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dharsanguruparan/CatalogImport/internal/etl"
)

// Excel reads the first sheet of an Office Open XML workbook. The first row
// is the header. Legacy .xls workbooks cannot be opened and fail the run.
type Excel struct{}

func (Excel) Extract(ctx context.Context, src Source) (*etl.Batch, error) {
	f, err := excelize.OpenFile(src.Path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return &etl.Batch{Format: etl.FormatExcel, Columns: []string{}}, nil
	}

	header := make([]string, len(rows[0]))
	for i, name := range rows[0] {
		name = strings.TrimSpace(name)
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		header[i] = name
	}

	records := make([]etl.Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		rec := etl.NewRecord(len(header))
		for i, col := range header {
			if i < len(row) && row[i] != "" {
				rec.Set(col, etl.String(row[i]))
			} else {
				rec.Set(col, etl.Null())
			}
		}
		records = append(records, rec)
	}
	return &etl.Batch{
		Format:  etl.FormatExcel,
		Records: records,
		Columns: header,
	}, nil
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
