package transform

import (
	"fmt"
	"strings"

	"github.com/dharsanguruparan/CatalogImport/internal/etl"
)

func tabular(batch *etl.Batch, prov Provenance) (*etl.Batch, error) {
	records := make([]etl.Record, 0, len(batch.Records))
	for _, rec := range batch.Records {
		out := etl.NewRecord(rec.Len() + 4)
		for _, key := range rec.Keys() {
			v, _ := rec.Get(key)
			out.Set(CleanColumnName(key), CleanValue(v))
		}
		out.Merge(prov.record(0))
		records = append(records, out)
	}
	columns := []string{}
	if len(records) > 0 {
		columns = append(columns, records[0].Keys()...)
	}
	return &etl.Batch{
		Format:  etl.FormatTransformedTabular,
		Records: records,
		Columns: columns,
	}, nil
}

func jsonFamily(batch *etl.Batch, prov Provenance) (*etl.Batch, error) {
	records := make([]etl.Record, 0, len(batch.Records))
	for i, rec := range batch.Records {
		out := prov.record(rec.Len())
		if batch.Format == etl.FormatGeoJSON {
			geometry, ok := rec.Get("geometry")
			if !ok {
				geometry = etl.String("{}")
			}
			out.Set(KeyGeometry, geometry)
			props, err := featureProperties(rec)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
			out.Merge(props)
		} else {
			out.Merge(rec)
		}
		records = append(records, out)
	}
	return &etl.Batch{
		Format:       etl.FormatTransformedJSON,
		Records:      records,
		GeometryType: batch.GeometryType,
	}, nil
}

// featureProperties decodes the properties member of a GeoJSON feature, which
// extraction keeps as JSON text.
func featureProperties(rec etl.Record) (etl.Record, error) {
	v, ok := rec.Get("properties")
	if !ok || v.IsNull() {
		return etl.NewRecord(0), nil
	}
	text := strings.TrimSpace(v.StringVal())
	if v.Kind() != etl.KindString || !strings.HasPrefix(text, "{") {
		return etl.Record{}, fmt.Errorf("properties is not an object")
	}
	return etl.DecodeRecord([]byte(text))
}

var sourceFormatLabels = map[etl.Format]string{
	etl.FormatGDB:        "File Geodatabase",
	etl.FormatSpatiaLite: "SpatiaLite",
	etl.FormatGeoPackage: "GeoPackage",
}

func geospatial(batch *etl.Batch, prov Provenance) (*etl.Batch, error) {
	records := make([]etl.Record, 0, len(batch.Records))
	for _, rec := range batch.Records {
		out := prov.record(rec.Len() + 2)
		if label, ok := sourceFormatLabels[batch.Format]; ok {
			out.Set(KeySourceFormat, etl.String(label))
			originKey := KeyLayerName
			if batch.Format == etl.FormatSpatiaLite {
				originKey = KeyTableName
			}
			origin, ok := rec.Get(originKey)
			if !ok {
				origin = etl.String("")
			}
			out.Set(originKey, origin)
		}
		if wkt, ok := rec.Get("geometry_wkt"); ok {
			out.Set("geometry_wkt", wkt)
		} else if raw, ok := rec.Get("geometry"); ok {
			out.Set("geometry", raw)
		}
		for _, key := range rec.Keys() {
			if strings.HasPrefix(key, "_") || key == "geometry" || key == "geometry_wkt" {
				continue
			}
			v, _ := rec.Get(key)
			out.Set(CleanColumnName(key), CleanValue(v))
		}
		records = append(records, out)
	}
	return &etl.Batch{
		Format:       etl.FormatTransformedGeospatial,
		Records:      records,
		GeometryType: batch.GeometryType,
		Layers:       batch.Layers,
		Tables:       batch.Tables,
	}, nil
}

func sqlScript(batch *etl.Batch, prov Provenance) (*etl.Batch, error) {
	return labelled(batch, prov, "SQL Script", etl.FormatTransformedSQL), nil
}

func document(batch *etl.Batch, prov Provenance) (*etl.Batch, error) {
	return labelled(batch, prov, "PDF Document", etl.FormatTransformedDocument), nil
}

func labelled(batch *etl.Batch, prov Provenance, label string, format etl.Format) *etl.Batch {
	records := make([]etl.Record, 0, len(batch.Records))
	for _, rec := range batch.Records {
		out := prov.record(rec.Len() + 1)
		out.Set(KeySourceFormat, etl.String(label))
		out.Merge(rec)
		records = append(records, out)
	}
	return &etl.Batch{
		Format:  format,
		Records: records,
		SQLType: batch.SQLType,
	}
}
