package etl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ValueFromJSON converts a value produced by a json.Decoder with UseNumber
// into a Value. Objects and arrays are kept as compact JSON text.
func ValueFromJSON(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i)
		}
		if f, err := t.Float64(); err == nil {
			return Float(f)
		}
		return String(t.String())
	case float64:
		return Float(t)
	case string:
		return String(t)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return String(fmtAny(t))
		}
		return String(string(raw))
	}
}

// DecodeRecord parses a JSON object into a record preserving key order.
// Nested objects and arrays are kept as compact JSON text.
func DecodeRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return Record{}, fmt.Errorf("decode object: %w", err)
	}
	if tok != json.Delim('{') {
		return Record{}, fmt.Errorf("decode object: unexpected %v", tok)
	}
	rec := NewRecord(8)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Record{}, fmt.Errorf("decode object: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return Record{}, fmt.Errorf("decode object: unexpected key %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return Record{}, fmt.Errorf("decode object field %q: %w", key, err)
		}
		v, err := DecodeValue(raw)
		if err != nil {
			return Record{}, fmt.Errorf("decode object field %q: %w", key, err)
		}
		rec.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return Record{}, fmt.Errorf("decode object: %w", err)
	}
	return rec, nil
}

// DecodeValue converts one raw JSON value. Objects and arrays become their
// compact JSON text.
func DecodeValue(raw json.RawMessage) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && (raw[0] == '{' || raw[0] == '[') {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return Value{}, err
		}
		return String(buf.String()), nil
	}
	var x any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&x); err != nil {
		return Value{}, err
	}
	return ValueFromJSON(x), nil
}

func fmtAny(x any) string {
	return strings.TrimSpace(fmt.Sprint(x))
}
