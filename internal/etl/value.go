// Package etl holds the record model and error taxonomy shared by the
// extract, transform and load stages of an import run.
package etl

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a closed variant over null, bool, int, float and string. The zero
// Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
}

func Null() Value           { return Value{} }
func Bool(b bool) Value     { return Value{kind: KindBool, b: b} }
func Int(i int64) Value     { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func String(s string) Value { return Value{kind: KindString, s: s} }

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// BoolVal, IntVal, FloatVal and StringVal return the payload of the matching
// variant and the zero value otherwise.
func (v Value) BoolVal() bool     { return v.b }
func (v Value) IntVal() int64     { return v.i }
func (v Value) FloatVal() float64 { return v.f }
func (v Value) StringVal() string { return v.s }

// Text renders the value the way it is stored in an import table column.
// Booleans are "True" and "False", and whole floats keep a ".0" so they stay
// distinguishable from integers in the stored text. Null has no text form
// and reports false.
func (v Value) Text() (string, bool) {
	switch v.kind {
	case KindBool:
		if v.b {
			return "True", true
		}
		return "False", true
	case KindInt:
		return strconv.FormatInt(v.i, 10), true
	case KindFloat:
		return formatFloat(v.f), true
	case KindString:
		return v.s, true
	default:
		return "", false
	}
}

func formatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Any unwraps the value into a plain Go value.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	default:
		return nil
	}
}

func (v Value) String() string {
	if s, ok := v.Text(); ok {
		return s
	}
	return "null"
}

// MarshalJSON encodes the value as its natural JSON counterpart.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}
