package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/dharsanguruparan/CatalogImport/internal/etl/load"
)

// ErrUnavailable is returned by a MemoryImportDB marked down.
var ErrUnavailable = errors.New("import database unavailable")

// MemoryTable is a materialized import table.
type MemoryTable struct {
	Columns []string
	Rows    [][]*string
}

// MemoryImportDB is an in-memory load.Database.
type MemoryImportDB struct {
	mu      sync.Mutex
	tables  map[string]*MemoryTable
	down    bool
	failure error
}

// NewMemoryImportDB constructs an empty import database.
func NewMemoryImportDB() *MemoryImportDB {
	return &MemoryImportDB{tables: make(map[string]*MemoryTable)}
}

// SetDown makes every call fail with ErrUnavailable.
func (d *MemoryImportDB) SetDown(down bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.down = down
}

// FailMaterialize makes the next Materialize call fail with err and leave
// no trace, like a rolled back transaction.
func (d *MemoryImportDB) FailMaterialize(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failure = err
}

// Materialize creates the table if needed and appends rows.
func (d *MemoryImportDB) Materialize(_ context.Context, table load.Table, rows [][]*string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return ErrUnavailable
	}
	if err := d.failure; err != nil {
		d.failure = nil
		return err
	}
	t, ok := d.tables[table.Name]
	if !ok || table.Replace {
		t = &MemoryTable{Columns: append([]string(nil), table.Columns...)}
		d.tables[table.Name] = t
	}
	for _, row := range rows {
		t.Rows = append(t.Rows, append([]*string(nil), row...))
	}
	return nil
}

// Ping fails while the database is down.
func (d *MemoryImportDB) Ping(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return ErrUnavailable
	}
	return nil
}

// CountRows reports whether table exists and its row count.
func (d *MemoryImportDB) CountRows(_ context.Context, table string) (bool, int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return false, 0, ErrUnavailable
	}
	t, ok := d.tables[table]
	if !ok {
		return false, 0, nil
	}
	return true, int64(len(t.Rows)), nil
}

// DropTable removes table if present.
func (d *MemoryImportDB) DropTable(_ context.Context, table string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return ErrUnavailable
	}
	delete(d.tables, table)
	return nil
}

// CreateEmptyTable registers a table with no rows.
func (d *MemoryImportDB) CreateEmptyTable(name string, columns ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[name] = &MemoryTable{Columns: columns}
}

// Table returns a copy of a table, or nil.
func (d *MemoryImportDB) Table(name string) *MemoryTable {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[name]
	if !ok {
		return nil
	}
	return &MemoryTable{Columns: append([]string(nil), t.Columns...), Rows: append([][]*string(nil), t.Rows...)}
}
