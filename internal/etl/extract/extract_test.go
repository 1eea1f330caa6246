package extract_test

import (
	"context"
	"database/sql"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/xuri/excelize/v2"

	"github.com/dharsanguruparan/CatalogImport/internal/etl"
	"github.com/dharsanguruparan/CatalogImport/internal/etl/extract"
	"github.com/dharsanguruparan/CatalogImport/internal/model"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func source(path string) extract.Source {
	return extract.Source{
		Dataset: model.Dataset{ID: "42", Title: "Rivers"},
		Version: &model.DatasetVersion{
			ID:            "v1",
			DatasetID:     "42",
			VersionNumber: "1.0",
			FilePath:      path,
			CreatedAt:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			IsCurrent:     true,
		},
		Requester: model.User{ID: "7", Username: "alice"},
		Path:      path,
	}
}

func str(t *testing.T, rec etl.Record, key string) string {
	t.Helper()
	v, ok := rec.Get(key)
	require.True(t, ok, "missing key %q", key)
	return v.String()
}

func newRegistry() *extract.Registry {
	return extract.NewDefaultRegistry(nil, extract.Options{})
}

func TestCSVExtraction(t *testing.T) {
	path := writeFile(t, "people.csv", "name,age,city\nJohn,25,New York\nJane,30,Boston\n")

	batch, err := newRegistry().Extract(context.Background(), source(path))
	require.NoError(t, err)
	require.Equal(t, etl.FormatCSV, batch.Format)
	require.Equal(t, 2, batch.RecordCount())
	require.Equal(t, []string{"name", "age", "city"}, batch.Columns)

	first := batch.Records[0]
	require.Equal(t, []string{"name", "age", "city"}, first.Keys())
	require.Equal(t, "John", str(t, first, "name"))
	age, _ := first.Get("age")
	require.Equal(t, etl.KindString, age.Kind())
	require.Equal(t, "25", age.StringVal())
	require.Equal(t, "New York", str(t, first, "city"))
}

func TestCSVShortRowsBindNull(t *testing.T) {
	path := writeFile(t, "short.CSV", "a,b\n1\n")

	batch, err := newRegistry().Extract(context.Background(), source(path))
	require.NoError(t, err)
	require.Equal(t, 1, batch.RecordCount())
	b, _ := batch.Records[0].Get("b")
	require.True(t, b.IsNull())
}

func TestJSONShapes(t *testing.T) {
	cases := []struct {
		name    string
		file    string
		body    string
		format  etl.Format
		records int
	}{
		{"array", "rows.json", `[{"a":1},{"a":2},{"a":3}]`, etl.FormatJSON, 3},
		{"object", "one.json", `{"a":1,"b":"x"}`, etl.FormatJSON, 1},
		{"feature collection", "map.geojson", `{"type":"FeatureCollection","features":[
			{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{"name":"A"}},
			{"type":"Feature","geometry":{"type":"Point","coordinates":[3,4]},"properties":{"name":"B"}}]}`, etl.FormatGeoJSON, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, tc.file, tc.body)
			batch, err := newRegistry().Extract(context.Background(), source(path))
			require.NoError(t, err)
			require.Equal(t, tc.format, batch.Format)
			require.Equal(t, tc.records, batch.RecordCount())
		})
	}
}

func TestGeoJSONCapturesFirstGeometryType(t *testing.T) {
	path := writeFile(t, "map.json", `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]},"properties":{"name":"A"}}]}`)

	batch, err := newRegistry().Extract(context.Background(), source(path))
	require.NoError(t, err)
	require.Equal(t, "LineString", batch.GeometryType)
	require.Equal(t, `{"type":"LineString","coordinates":[[0,0],[1,1]]}`, str(t, batch.Records[0], "geometry"))
	require.Equal(t, `{"name":"A"}`, str(t, batch.Records[0], "properties"))
}

func TestMalformedFileIsExtractionError(t *testing.T) {
	path := writeFile(t, "broken.json", `{"a":`)

	_, err := newRegistry().Extract(context.Background(), source(path))
	require.Error(t, err)
	stage, ok := etl.StageOf(err)
	require.True(t, ok)
	require.Equal(t, etl.StageExtract, stage)
	require.Contains(t, err.Error(), "Failed to extract from file")
}

func TestSQLScriptIsOneRecord(t *testing.T) {
	script := "CREATE TABLE t (id int);\nINSERT INTO t VALUES (1);\n"
	path := writeFile(t, "dump.sql", script)

	batch, err := newRegistry().Extract(context.Background(), source(path))
	require.NoError(t, err)
	require.Equal(t, etl.FormatSQL, batch.Format)
	require.Equal(t, "script", batch.SQLType)
	require.Equal(t, 1, batch.RecordCount())
	require.Equal(t, script, str(t, batch.Records[0], "sql_content"))
	require.Equal(t, "dump.sql", str(t, batch.Records[0], "file_name"))
	size, _ := batch.Records[0].Get("file_size")
	require.Equal(t, int64(len(script)), size.IntVal())
	require.Equal(t, "script", str(t, batch.Records[0], "sql_type"))
	require.Equal(t, []string{"sql_content", "file_name", "file_size", "sql_type"}, batch.Records[0].Keys())
}

func TestPDFPagesBecomeRecords(t *testing.T) {
	batch, err := newRegistry().Extract(context.Background(), source(filepath.Join("testdata", "two_pages.pdf")))
	require.NoError(t, err)
	require.Equal(t, etl.FormatPDF, batch.Format)
	require.Equal(t, etl.FamilyDocument, batch.Format.Family())
	require.Equal(t, 2, batch.RecordCount())
	require.Equal(t, []string{"file_name", "page", "text"}, batch.Columns)

	for i, want := range []string{"River gauges", "Station list"} {
		rec := batch.Records[i]
		require.Equal(t, []string{"file_name", "page", "text"}, rec.Keys())
		require.Equal(t, "two_pages.pdf", str(t, rec, "file_name"))
		page, _ := rec.Get("page")
		require.Equal(t, int64(i+1), page.IntVal())
		require.Contains(t, str(t, rec, "text"), want)
	}
}

func TestBrokenPDFIsExtractionError(t *testing.T) {
	path := writeFile(t, "broken.pdf", "%PDF-1.4 truncated")

	_, err := newRegistry().Extract(context.Background(), source(path))
	require.Error(t, err)
	stage, ok := etl.StageOf(err)
	require.True(t, ok)
	require.Equal(t, etl.StageExtract, stage)
}

func TestBasicInfoWithoutFile(t *testing.T) {
	src := source("")
	src.Version.FilePath = ""
	src.Version.Description = "first cut"

	batch, err := newRegistry().Extract(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, etl.FormatBasic, batch.Format)
	require.Equal(t, 1, batch.RecordCount())
	rec := batch.Records[0]
	require.Equal(t, []string{
		"dataset_id", "dataset_title", "version_number", "file_name",
		"file_url", "description", "version_created_at", "created_by",
	}, rec.Keys())
	require.Equal(t, "external_url", str(t, rec, "file_name"))
	require.Equal(t, "system", str(t, rec, "created_by"))
	require.Equal(t, "2024-03-01T12:00:00Z", str(t, rec, "version_created_at"))
	fileURL, _ := rec.Get("file_url")
	require.True(t, fileURL.IsNull())
}

func TestURLOnlyVersionUsesStub(t *testing.T) {
	src := source("")
	src.Version.FilePath = ""
	src.Version.FileURL = "https://example.org/data.csv"
	creator := "bob"
	src.Version.CreatedBy = &creator

	batch, err := newRegistry().Extract(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, etl.FormatBasic, batch.Format)
	require.Equal(t, "https://example.org/data.csv", str(t, batch.Records[0], "file_url"))
	require.Equal(t, "bob", str(t, batch.Records[0], "created_by"))
}

func TestUnknownExtensionFallsBackToBasicInfo(t *testing.T) {
	path := writeFile(t, "notes.txt", "hello")
	src := source(path)
	src.Version.FilePath = "datasets/42/notes.txt"

	batch, err := newRegistry().Extract(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, etl.FormatBasic, batch.Format)
	require.Equal(t, "datasets/42/notes.txt", str(t, batch.Records[0], "file_name"))
}

func TestBasicInfoNamesObjectKey(t *testing.T) {
	src := source("")
	src.Version.FilePath = ""
	src.Version.ObjectKey = "versions/42/v1/stations.bin"

	batch, err := extract.BasicInfo{}.Extract(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, "versions/42/v1/stations.bin", str(t, batch.Records[0], "file_name"))
}

func TestMissingVersionFails(t *testing.T) {
	src := source("")
	src.Version = nil

	_, err := newRegistry().Extract(context.Background(), src)
	require.Error(t, err)
	require.Contains(t, err.Error(), "current version")
	stage, ok := etl.StageOf(err)
	require.True(t, ok)
	require.Equal(t, etl.StageExtract, stage)
}

func TestGeodatabaseWithoutReaderDegrades(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "parcels.gdb")
	require.NoError(t, os.Mkdir(dir, 0o755))

	batch, err := newRegistry().Extract(context.Background(), source(dir))
	require.NoError(t, err)
	require.Equal(t, etl.FormatGDB, batch.Format)
	require.Equal(t, 1, batch.RecordCount())
	require.Equal(t, "basic_info_only", str(t, batch.Records[0], "extraction_status"))
	require.Equal(t, "gdb", str(t, batch.Records[0], "format_type"))
}

type stubLayers struct{}

func (stubLayers) Name() string    { return "stub" }
func (stubLayers) Available() bool { return true }

func (stubLayers) ReadLayers(ctx context.Context, path string) ([]extract.Layer, error) {
	return []extract.Layer{{
		Name: "roads",
		Features: []extract.Feature{
			{Attributes: etl.RecordOf("name", "Main St"), Geometry: geom.NewLineStringFlat(geom.XY, []float64{0, 0, 1, 1})},
			{Attributes: etl.RecordOf("name", "Unmapped")},
		},
	}}, nil
}

func TestGeodatabaseWithInjectedReader(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "roads.gdb")
	require.NoError(t, os.Mkdir(dir, 0o755))
	reg := extract.NewDefaultRegistry(nil, extract.Options{Geodatabase: stubLayers{}})

	batch, err := reg.Extract(context.Background(), source(dir))
	require.NoError(t, err)
	require.Equal(t, etl.FormatGDB, batch.Format)
	require.Equal(t, []string{"roads"}, batch.Layers)
	require.Equal(t, 2, batch.RecordCount())
	require.Equal(t, "roads", str(t, batch.Records[0], "_layer_name"))
	require.Equal(t, "LINESTRING (0 0, 1 1)", str(t, batch.Records[0], "geometry_wkt"))
	geometry, ok := batch.Records[1].Get("geometry")
	require.True(t, ok)
	require.True(t, geometry.IsNull())
}

func TestExcelFirstSheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sheet.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"name", "age"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"Ann", 30}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]any{"Ben", 41}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	batch, err := newRegistry().Extract(context.Background(), source(path))
	require.NoError(t, err)
	require.Equal(t, etl.FormatExcel, batch.Format)
	require.Equal(t, []string{"name", "age"}, batch.Columns)
	require.Equal(t, 2, batch.RecordCount())
	require.Equal(t, "Ann", str(t, batch.Records[0], "name"))
	require.Equal(t, "30", str(t, batch.Records[0], "age"))
}

func TestLegacyExcelFailsHard(t *testing.T) {
	path := writeFile(t, "old.xls", "not a workbook")

	_, err := newRegistry().Extract(context.Background(), source(path))
	require.Error(t, err)
	stage, _ := etl.StageOf(err)
	require.Equal(t, etl.StageExtract, stage)
}

func TestSpatiaLiteTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "places.sqlite")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE places (id INTEGER PRIMARY KEY, name TEXT, geometry BLOB)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO places (id, name, geometry) VALUES (1, 'Harbour', X'0102'), (2, 'Hill', NULL)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	batch, err := newRegistry().Extract(context.Background(), source(path))
	require.NoError(t, err)
	require.Equal(t, etl.FormatSpatiaLite, batch.Format)
	require.Equal(t, []string{"places"}, batch.Tables)
	require.Equal(t, 2, batch.RecordCount())

	first := batch.Records[0]
	id, _ := first.Get("id")
	require.Equal(t, int64(1), id.IntVal())
	require.Equal(t, "Harbour", str(t, first, "name"))
	require.Equal(t, `\x0102`, str(t, first, "geometry"))
	require.Equal(t, "places", str(t, first, "_table_name"))
}

func TestSpatiaLiteCorruptFileDegrades(t *testing.T) {
	path := writeFile(t, "broken.sqlite", "definitely not sqlite")

	batch, err := newRegistry().Extract(context.Background(), source(path))
	require.NoError(t, err)
	require.Equal(t, etl.FormatSpatiaLite, batch.Format)
	require.Equal(t, "basic_info_only", str(t, batch.Records[0], "extraction_status"))
}

func geoPackageBlob(t *testing.T, g geom.T) []byte {
	t.Helper()
	payload, err := wkb.Marshal(g, wkb.NDR)
	require.NoError(t, err)
	header := make([]byte, 8)
	header[0], header[1] = 'G', 'P'
	header[3] = 0x01
	binary.LittleEndian.PutUint32(header[4:], 4326)
	return append(header, payload...)
}

func TestGeoPackageLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "towns.gpkg")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE gpkg_contents (table_name TEXT PRIMARY KEY, data_type TEXT NOT NULL)`,
		`CREATE TABLE gpkg_geometry_columns (table_name TEXT, column_name TEXT)`,
		`CREATE TABLE towns (fid INTEGER PRIMARY KEY, name TEXT, geom BLOB)`,
		`INSERT INTO gpkg_contents VALUES ('towns', 'features')`,
		`INSERT INTO gpkg_geometry_columns VALUES ('towns', 'geom')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	blob := geoPackageBlob(t, geom.NewPointFlat(geom.XY, []float64{1, 2}))
	_, err = db.Exec(`INSERT INTO towns (fid, name, geom) VALUES (1, 'Alder', ?)`, blob)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	batch, err := newRegistry().Extract(context.Background(), source(path))
	require.NoError(t, err)
	require.Equal(t, etl.FormatGeoPackage, batch.Format)
	require.Equal(t, []string{"towns"}, batch.Layers)
	require.Equal(t, 1, batch.RecordCount())
	rec := batch.Records[0]
	require.Equal(t, []string{"fid", "name", "_layer_name", "geometry_wkt"}, rec.Keys())
	require.Equal(t, "POINT (1 2)", str(t, rec, "geometry_wkt"))
	require.Equal(t, "towns", str(t, rec, "_layer_name"))
}

func TestRegistrySupports(t *testing.T) {
	reg := newRegistry()
	require.True(t, reg.Supports("data.CSV"))
	require.True(t, reg.Supports("parcels.gdb"))
	require.False(t, reg.Supports("notes.txt"))
	require.Equal(t, []string{
		".csv", ".gdb", ".geojson", ".gpkg", ".json", ".pdf", ".sql", ".sqlite", ".xls", ".xlsx",
	}, reg.Extensions())
}
