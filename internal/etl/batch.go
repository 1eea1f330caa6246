package etl

// Format tags the shape of a Batch.
type Format string

const (
	FormatCSV        Format = "csv"
	FormatJSON       Format = "json"
	FormatGeoJSON    Format = "geojson"
	FormatExcel      Format = "excel"
	FormatGDB        Format = "gdb"
	FormatSpatiaLite Format = "spatialite"
	FormatGeoPackage Format = "gpkg"
	FormatSQL        Format = "sql"
	FormatPDF        Format = "pdf"
	FormatBasic      Format = "basic"

	FormatTransformedTabular    Format = "transformed_tabular"
	FormatTransformedJSON       Format = "transformed_json"
	FormatTransformedGeospatial Format = "transformed_geospatial"
	FormatTransformedSQL        Format = "transformed_sql"
	FormatTransformedDocument   Format = "transformed_document"
)

// Family groups formats that share a transformer.
type Family string

const (
	FamilyTabular    Family = "tabular"
	FamilyJSON       Family = "json"
	FamilyGeospatial Family = "geospatial"
	FamilySQL        Family = "sql"
	FamilyDocument   Family = "document"
	FamilyOther      Family = "other"
)

// Family returns the transformer family of f.
func (f Format) Family() Family {
	switch f {
	case FormatCSV, FormatExcel:
		return FamilyTabular
	case FormatJSON, FormatGeoJSON:
		return FamilyJSON
	case FormatGDB, FormatSpatiaLite, FormatGeoPackage:
		return FamilyGeospatial
	case FormatSQL:
		return FamilySQL
	case FormatPDF:
		return FamilyDocument
	default:
		return FamilyOther
	}
}

// Batch is the in-memory result of extraction or transformation. It lives
// only for one pipeline run.
type Batch struct {
	Format  Format
	Records []Record

	// Columns is set for tabular data.
	Columns []string

	// GeometryType, Layers and Tables describe geospatial sources.
	GeometryType string
	Layers       []string
	Tables       []string

	// SQLType is set for SQL scripts.
	SQLType string
}

// RecordCount is the number of records in the batch.
func (b *Batch) RecordCount() int {
	if b == nil {
		return 0
	}
	return len(b.Records)
}
