package load_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/CatalogImport/internal/etl"
	"github.com/dharsanguruparan/CatalogImport/internal/etl/load"
	"github.com/dharsanguruparan/CatalogImport/internal/model"
	"github.com/dharsanguruparan/CatalogImport/internal/storage"
)

func strp(s string) *string { return &s }

func TestDefaultTableName(t *testing.T) {
	require.Equal(t, "imported_dataset_42_7", load.DefaultTableName("42", "7"))
	require.Equal(t,
		"imported_dataset_3f2504e04f8911d39a0c0305e82c3301_9b2d",
		load.DefaultTableName("3F2504E0-4F89-11D3-9A0C-0305E82C3301", "9b2d"))
	require.Equal(t, load.DefaultTableName("a", "b"), load.DefaultTableName("a", "b"))

	long := load.DefaultTableName(strings.Repeat("d", 40), strings.Repeat("r", 40))
	require.LessOrEqual(t, len(long), 63)
	require.True(t, strings.HasPrefix(long, "imported_dataset_ddd"))
	require.NotEqual(t, long, load.DefaultTableName(strings.Repeat("d", 40), strings.Repeat("s", 40)))
}

func TestResolveColumns(t *testing.T) {
	withColumns := &etl.Batch{Columns: []string{"a", "b"}, Records: []etl.Record{etl.RecordOf("x", 1)}}
	require.Equal(t, []string{"a", "b"}, load.ResolveColumns(withColumns))

	fromRecord := &etl.Batch{Records: []etl.Record{etl.RecordOf("x", 1, "y", 2), etl.RecordOf("z", 3)}}
	require.Equal(t, []string{"x", "y"}, load.ResolveColumns(fromRecord))

	require.Equal(t,
		[]string{"_dataset_id", "_dataset_title", "_import_timestamp", "_imported_by"},
		load.ResolveColumns(&etl.Batch{}))
}

func TestTableColumnsRenamesReservedNames(t *testing.T) {
	require.Equal(t,
		[]string{"source_id", "name", "source_created_at"},
		load.TableColumns([]string{"id", "name", "created_at"}))
	require.Equal(t,
		[]string{"source_id_2", "source_id"},
		load.TableColumns([]string{"id", "source_id"}))
}

func TestRowsCoerceToText(t *testing.T) {
	rec := etl.RecordOf("b", true, "i", 25, "f", 1.5, "w", 25.0, "s", "x", "n", nil)
	rows := load.Rows([]etl.Record{rec}, []string{"b", "i", "f", "w", "s", "n", "missing"})
	require.Equal(t, [][]*string{{strp("True"), strp("25"), strp("1.5"), strp("25.0"), strp("x"), nil, nil}}, rows)
}

func TestCreateTableSQL(t *testing.T) {
	sql := load.CreateTableSQL(load.Table{Name: "imported_dataset_1_2", Columns: []string{"name", `we"ird`}})
	require.Equal(t, `CREATE TABLE IF NOT EXISTS "imported_dataset_1_2" (
	"name" TEXT,
	"we""ird" TEXT,
	id SERIAL PRIMARY KEY,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`, sql)
}

func TestInsertSQL(t *testing.T) {
	stmt, args := load.InsertSQL(
		load.Table{Name: "t", Columns: []string{"a", "b"}},
		[][]*string{{strp("1"), nil}, {strp("2"), strp("x")}},
	)
	require.Equal(t, `INSERT INTO "t" ("a", "b") VALUES ($1, $2), ($3, $4)`, stmt)
	require.Len(t, args, 4)
	require.Equal(t, strp("x"), args[3])
}

type fixture struct {
	loader *load.Loader
	store  *storage.MemoryStore
	db     *storage.MemoryImportDB
	req    *model.ImportRequest
}

func newFixture(t *testing.T, opts ...load.Option) fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	db := storage.NewMemoryImportDB()
	req := &model.ImportRequest{
		ID: "req-1", DatasetID: "42", RequestedBy: "7",
		Priority: model.PriorityNormal, Status: model.StatusProcessing,
	}
	require.NoError(t, store.Create(context.Background(), req))
	now := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	opts = append([]load.Option{load.WithClock(func() time.Time { return now })}, opts...)
	return fixture{
		loader: load.New(db, store, store, opts...),
		store:  store,
		db:     db,
		req:    req,
	}
}

func TestLoadCreatesTableAndResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch := &etl.Batch{
		Format:  etl.FormatTransformedTabular,
		Columns: []string{"id", "name"},
		Records: []etl.Record{
			etl.RecordOf("id", 1, "name", "John"),
			etl.RecordOf("name", "Jane"),
		},
	}

	result, err := f.loader.Load(ctx, f.req, batch)
	require.NoError(t, err)
	require.Equal(t, model.ResultCompleted, result.Status)
	require.Equal(t, 2, result.RecordsImported)
	require.Equal(t, "imported_dataset_42_7", *result.ImportDatabaseTable)
	require.Equal(t, "7", result.ImportedBy)
	require.NotNil(t, result.ImportCompletedAt)

	table := f.db.Table("imported_dataset_42_7")
	require.NotNil(t, table)
	require.Equal(t, []string{"source_id", "name"}, table.Columns)
	require.Equal(t, [][]*string{{strp("1"), strp("John")}, {nil, strp("Jane")}}, table.Rows)

	stored, err := f.store.Get(ctx, f.req.ID)
	require.NoError(t, err)
	require.Equal(t, result.ID, *stored.ImportResultID)
	require.Equal(t, result.ID, *f.req.ImportResultID)

	persisted, err := f.store.GetResult(ctx, result.ID)
	require.NoError(t, err)
	require.Equal(t, result, persisted)
}

func TestLoadEmptyBatchCreatesProvenanceTable(t *testing.T) {
	f := newFixture(t)

	result, err := f.loader.Load(context.Background(), f.req, &etl.Batch{Format: etl.FormatTransformedJSON})
	require.NoError(t, err)
	require.Equal(t, 0, result.RecordsImported)
	table := f.db.Table(*result.ImportDatabaseTable)
	require.NotNil(t, table)
	require.Len(t, table.Columns, 4)
	require.Empty(t, table.Rows)
}

func TestLoadReplacesExistingTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch := &etl.Batch{Records: []etl.Record{etl.RecordOf("a", "1")}}

	_, err := f.loader.Load(ctx, f.req, batch)
	require.NoError(t, err)
	_, err = f.loader.Load(ctx, f.req, batch)
	require.NoError(t, err)
	require.Len(t, f.db.Table("imported_dataset_42_7").Rows, 1)
}

func TestLoadAppendsWithoutReplace(t *testing.T) {
	f := newFixture(t, load.WithReplace(false))
	ctx := context.Background()
	batch := &etl.Batch{Records: []etl.Record{etl.RecordOf("a", "1")}}

	_, err := f.loader.Load(ctx, f.req, batch)
	require.NoError(t, err)
	_, err = f.loader.Load(ctx, f.req, batch)
	require.NoError(t, err)
	require.Len(t, f.db.Table("imported_dataset_42_7").Rows, 2)
}

func TestLoadFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.loader.Load(ctx, f.req, nil)
	require.EqualError(t, err, "No transformed data to load")
	stage, ok := etl.StageOf(err)
	require.True(t, ok)
	require.Equal(t, etl.StageLoad, stage)

	f.db.FailMaterialize(errors.New("disk full"))
	_, err = f.loader.Load(ctx, f.req, &etl.Batch{Records: []etl.Record{etl.RecordOf("a", 1)}})
	require.EqualError(t, err, "Failed to load data: disk full")
	stage, _ = etl.StageOf(err)
	require.Equal(t, etl.StageLoad, stage)
	require.Nil(t, f.db.Table("imported_dataset_42_7"))
	require.Nil(t, f.req.ImportResultID)
}
