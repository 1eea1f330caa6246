package extract

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	_ "modernc.org/sqlite"

	"github.com/dharsanguruparan/CatalogImport/internal/etl"
)

const sqliteDriver = "sqlite"

func sqliteAvailable() bool {
	for _, d := range sql.Drivers() {
		if d == sqliteDriver {
			return true
		}
	}
	return false
}

func openSQLite(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat database: %w", err)
	}
	db, err := sql.Open(sqliteDriver, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// sqliteValue converts a value scanned from SQLite into a record value.
// Blobs are rendered as hex in PostgreSQL bytea text form.
func sqliteValue(x any) etl.Value {
	switch t := x.(type) {
	case nil:
		return etl.Null()
	case int64:
		return etl.Int(t)
	case float64:
		return etl.Float(t)
	case bool:
		return etl.Bool(t)
	case string:
		return etl.String(t)
	case []byte:
		return etl.String(fmt.Sprintf("\\x%x", t))
	case time.Time:
		return etl.String(t.Format(time.RFC3339Nano))
	default:
		return etl.ValueOf(t)
	}
}

// SpatiaLite reads every user table of a SpatiaLite database. Each row is
// tagged with its table; geometry columns are resolved to WKT when the
// database engine offers AsText. Any failure degrades to a basic-info record.
type SpatiaLite struct {
	Logger *slog.Logger
}

func (s SpatiaLite) Extract(ctx context.Context, src Source) (*etl.Batch, error) {
	batch, err := readSpatiaLite(ctx, src.Path)
	if err != nil {
		logger := s.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("spatialite extraction failed, using basic info", slog.Any("error", err))
		return pathInfo(src.Path, etl.FormatSpatiaLite)
	}
	return batch, nil
}

func readSpatiaLite(ctx context.Context, path string) (*etl.Batch, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	tables, err := userTables(ctx, db)
	if err != nil {
		return nil, err
	}
	var records []etl.Record
	for _, table := range tables {
		rows, err := readTable(ctx, db, table)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", table, err)
		}
		records = append(records, rows...)
	}
	return &etl.Batch{
		Format:  etl.FormatSpatiaLite,
		Records: records,
		Tables:  tables,
	}, nil
}

func userTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func tableColumns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, fmt.Errorf("table info: %w", err)
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var (
			cid       int
			name      string
			typ       sql.NullString
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

func readTable(ctx context.Context, db *sql.DB, table string) ([]etl.Record, error) {
	cols, err := tableColumns(ctx, db, table)
	if err != nil {
		return nil, err
	}
	geometryCol := ""
	for _, c := range cols {
		if strings.EqualFold(c, "geometry") {
			geometryCol = c
			break
		}
	}

	var wkts map[int64]string
	if geometryCol != "" {
		wkts = geometryText(ctx, db, table, geometryCol)
	}

	withRowID := true
	rows, err := db.QueryContext(ctx, `SELECT rowid, * FROM `+quoteIdent(table))
	if err != nil {
		withRowID = false
		rows, err = db.QueryContext(ctx, `SELECT * FROM `+quoteIdent(table))
		if err != nil {
			return nil, fmt.Errorf("select rows: %w", err)
		}
	}
	defer rows.Close()

	width := len(cols)
	if withRowID {
		width++
	}
	var out []etl.Record
	for rows.Next() {
		vals := make([]any, width)
		ptrs := make([]any, width)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rowVals := vals
		var rowID int64
		if withRowID {
			rowID, _ = vals[0].(int64)
			rowVals = vals[1:]
		}
		rec := etl.NewRecord(len(cols) + 2)
		for i, c := range cols {
			rec.Set(c, sqliteValue(rowVals[i]))
		}
		rec.Set("_table_name", etl.String(table))
		if text, ok := wkts[rowID]; ok && withRowID {
			rec.Set("geometry_wkt", etl.String(text))
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// geometryText asks the engine for WKT of every geometry in table. SpatiaLite
// functions are not always loaded, so failures yield no WKT.
func geometryText(ctx context.Context, db *sql.DB, table, column string) map[int64]string {
	rows, err := db.QueryContext(ctx,
		`SELECT rowid, AsText(`+quoteIdent(column)+`) FROM `+quoteIdent(table))
	if err != nil {
		return nil
	}
	defer rows.Close()
	out := make(map[int64]string)
	for rows.Next() {
		var (
			id   int64
			text sql.NullString
		)
		if err := rows.Scan(&id, &text); err != nil {
			return nil
		}
		if text.Valid {
			out[id] = text.String
		}
	}
	return out
}

// GeoPackageReader reads feature and attribute tables listed in a
// GeoPackage's gpkg_contents.
type GeoPackageReader struct{}

// NewGeoPackageReader returns a reader backed by the embedded SQLite driver.
func NewGeoPackageReader() *GeoPackageReader {
	return &GeoPackageReader{}
}

func (*GeoPackageReader) Name() string    { return "GeoPackage" }
func (*GeoPackageReader) Available() bool { return sqliteAvailable() }

// ReadLayers returns one layer per gpkg_contents entry, ordered by name.
func (*GeoPackageReader) ReadLayers(ctx context.Context, path string) ([]Layer, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	names, err := contentTables(ctx, db)
	if err != nil {
		return nil, err
	}
	geomCols := geometryColumns(ctx, db)

	layers := make([]Layer, 0, len(names))
	for _, name := range names {
		features, err := readFeatures(ctx, db, name, geomCols[name])
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", name, err)
		}
		layers = append(layers, Layer{Name: name, Features: features})
	}
	return layers, nil
}

func contentTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT table_name FROM gpkg_contents WHERE data_type IN ('features', 'attributes') ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("list gpkg contents: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan gpkg contents: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func geometryColumns(ctx context.Context, db *sql.DB) map[string]string {
	out := make(map[string]string)
	rows, err := db.QueryContext(ctx, `SELECT table_name, column_name FROM gpkg_geometry_columns`)
	if err != nil {
		return out
	}
	defer rows.Close()
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err == nil {
			out[table] = column
		}
	}
	return out
}

func readFeatures(ctx context.Context, db *sql.DB, table, geomCol string) ([]Feature, error) {
	rows, err := db.QueryContext(ctx, `SELECT * FROM `+quoteIdent(table))
	if err != nil {
		return nil, fmt.Errorf("select rows: %w", err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	var out []Feature
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		f := Feature{Attributes: etl.NewRecord(len(cols))}
		for i, c := range cols {
			if geomCol != "" && c == geomCol {
				blob, _ := vals[i].([]byte)
				if len(blob) == 0 {
					continue
				}
				g, err := decodeGeoPackageGeometry(blob)
				if err != nil {
					return nil, fmt.Errorf("decode geometry: %w", err)
				}
				f.Geometry = g
				continue
			}
			f.Attributes.Set(c, sqliteValue(vals[i]))
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

var errNotGeoPackageGeometry = errors.New("not a GeoPackage geometry blob")

// decodeGeoPackageGeometry strips the GeoPackage binary header and decodes
// the WKB payload. Empty geometries decode to nil.
func decodeGeoPackageGeometry(b []byte) (geom.T, error) {
	if len(b) < 8 || b[0] != 'G' || b[1] != 'P' {
		return nil, errNotGeoPackageGeometry
	}
	flags := b[3]
	var envelope int
	switch (flags >> 1) & 0x07 {
	case 0:
		envelope = 0
	case 1:
		envelope = 32
	case 2, 3:
		envelope = 48
	case 4:
		envelope = 64
	default:
		return nil, fmt.Errorf("invalid envelope indicator in flags %#x", flags)
	}
	if flags&0x10 != 0 {
		return nil, nil
	}
	start := 8 + envelope
	if len(b) <= start {
		return nil, fmt.Errorf("geometry blob truncated: %d bytes", len(b))
	}
	return wkb.Unmarshal(b[start:])
}
