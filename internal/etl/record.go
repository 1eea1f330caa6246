package etl

import (
	"bytes"
	"encoding/json"
)

// Record is an ordered string-keyed map of values. Keys keep their insertion
// order so that column order survives from the source file to the import
// table.
type Record struct {
	keys []string
	vals map[string]Value
}

// NewRecord returns an empty record with room for n fields.
func NewRecord(n int) Record {
	return Record{
		keys: make([]string, 0, n),
		vals: make(map[string]Value, n),
	}
}

// Set stores v under key. Existing keys keep their position.
func (r *Record) Set(key string, v Value) {
	if r.vals == nil {
		r.vals = make(map[string]Value)
	}
	if _, ok := r.vals[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.vals[key] = v
}

// Get returns the value stored under key.
func (r Record) Get(key string) (Value, bool) {
	v, ok := r.vals[key]
	return v, ok
}

// Has reports whether key is present.
func (r Record) Has(key string) bool {
	_, ok := r.vals[key]
	return ok
}

// Keys returns the keys in insertion order. The slice must not be modified.
func (r Record) Keys() []string {
	return r.keys
}

// Len is the number of fields.
func (r Record) Len() int {
	return len(r.keys)
}

// Merge copies every field of other into r, in other's order.
func (r *Record) Merge(other Record) {
	for _, k := range other.keys {
		r.Set(k, other.vals[k])
	}
}

// Clone returns an independent copy of r.
func (r Record) Clone() Record {
	out := NewRecord(len(r.keys))
	out.Merge(r)
	return out
}

// MarshalJSON writes the record as a JSON object preserving key order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := r.vals[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// RecordOf builds a record from alternating key/value pairs. It is meant for
// literals in code and tests.
func RecordOf(pairs ...any) Record {
	rec := NewRecord(len(pairs) / 2)
	for i := 0; i+1 < len(pairs); i += 2 {
		key, _ := pairs[i].(string)
		rec.Set(key, ValueOf(pairs[i+1]))
	}
	return rec
}

// ValueOf converts a plain Go scalar into a Value. Unsupported types become
// their fmt representation.
func ValueOf(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case string:
		return String(t)
	case []byte:
		return String(string(t))
	default:
		return String(fmtAny(t))
	}
}
