package transform

import (
	"strconv"
	"strings"

	"github.com/dharsanguruparan/CatalogImport/internal/etl"
)

// CleanColumnName turns an arbitrary header into a lower-case identifier made
// of letters, digits and underscores that starts with a letter or underscore.
// An empty result becomes "column".
func CleanColumnName(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 1)
	lastUnderscore := false
	for _, r := range name {
		isWord := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isWord {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}
	cleaned := strings.Trim(b.String(), "_")
	if cleaned == "" {
		return "column"
	}
	if c := cleaned[0]; !isLetter(c) {
		cleaned = "_" + cleaned
	}
	return strings.ToLower(cleaned)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// CleanValue trims a string value and infers a type for it: "true"/"false" in
// any case become booleans, all-digit strings integers, digit strings with a
// single decimal point floats, and empty strings null. Anything else is the
// trimmed string. Values that already carry a type are returned unchanged.
func CleanValue(v etl.Value) etl.Value {
	if v.Kind() != etl.KindString {
		return v
	}
	cleaned := strings.TrimSpace(v.StringVal())
	switch lower := strings.ToLower(cleaned); {
	case lower == "true":
		return etl.Bool(true)
	case lower == "false":
		return etl.Bool(false)
	case cleaned == "":
		return etl.Null()
	case allDigits(cleaned):
		if i, err := strconv.ParseInt(cleaned, 10, 64); err == nil {
			return etl.Int(i)
		}
	case strings.Count(cleaned, ".") == 1 && allDigits(strings.Replace(cleaned, ".", "", 1)):
		if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
			return etl.Float(f)
		}
	}
	return etl.String(cleaned)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
