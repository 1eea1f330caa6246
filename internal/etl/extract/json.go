package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dharsanguruparan/CatalogImport/internal/etl"
)

// JSON reads a whole JSON document. A FeatureCollection becomes one record
// per feature; an array becomes one record per element; a single object is
// one record. Nested objects and arrays are kept as JSON text.
type JSON struct{}

func (JSON) Extract(ctx context.Context, src Source) (*etl.Batch, error) {
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, fmt.Errorf("read json: %w", err)
	}
	return parseJSON(data)
}

func parseJSON(data []byte) (*etl.Batch, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("decode json: empty document")
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		records, err := decodeItems(items)
		if err != nil {
			return nil, err
		}
		return &etl.Batch{Format: etl.FormatJSON, Records: records}, nil
	case '{':
		var head struct {
			Type     string            `json:"type"`
			Features []json.RawMessage `json:"features"`
		}
		if err := json.Unmarshal(trimmed, &head); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		if head.Type == "FeatureCollection" {
			records, err := decodeItems(head.Features)
			if err != nil {
				return nil, err
			}
			return &etl.Batch{
				Format:       etl.FormatGeoJSON,
				Records:      records,
				GeometryType: firstGeometryType(head.Features),
			}, nil
		}
		rec, err := etl.DecodeRecord(trimmed)
		if err != nil {
			return nil, err
		}
		return &etl.Batch{Format: etl.FormatJSON, Records: []etl.Record{rec}}, nil
	default:
		v, err := etl.DecodeValue(trimmed)
		if err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		rec := etl.NewRecord(1)
		rec.Set("value", v)
		return &etl.Batch{Format: etl.FormatJSON, Records: []etl.Record{rec}}, nil
	}
}

func decodeItems(items []json.RawMessage) ([]etl.Record, error) {
	records := make([]etl.Record, 0, len(items))
	for i, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '{' {
			rec, err := etl.DecodeRecord(item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			records = append(records, rec)
			continue
		}
		v, err := etl.DecodeValue(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		rec := etl.NewRecord(1)
		rec.Set("value", v)
		records = append(records, rec)
	}
	return records, nil
}

func firstGeometryType(features []json.RawMessage) string {
	if len(features) == 0 {
		return ""
	}
	var feature struct {
		Geometry *struct {
			Type string `json:"type"`
		} `json:"geometry"`
	}
	if err := json.Unmarshal(features[0], &feature); err != nil || feature.Geometry == nil {
		return ""
	}
	return feature.Geometry.Type
}
