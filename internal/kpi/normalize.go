package kpi

import (
	"encoding/json"
	"strconv"
	"strings"
)

// DefaultDropFields are internal-only columns stripped from every snapshot:
// raw geometry encodings and area/length housekeeping.
var DefaultDropFields = []string{"geom", "geometry", "ARPS", "ART_CODE", "SHAPE_AREA", "SHAPE_LEN"}

// DefaultIdentifierFields are identifier-like columns that are never KPIs.
var DefaultIdentifierFields = []string{"BFS", "BFS_NR", "GEBIET_NAME", "Year", "id", "year"}

// thousandsSeparators are stripped before parsing numeric strings
// ("1'234.5", "1 234.5").
var thousandsSeparators = strings.NewReplacer("'", "", "’", "", " ", "", " ", "")

// Coerce converts a raw value from the data source to a Value. Numbers and
// numeric strings become defined values; everything else is Null.
func Coerce(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return Null
	case float64:
		return Num(v)
	case float32:
		return Num(float64(v))
	case int:
		return Num(float64(v))
	case int16:
		return Num(float64(v))
	case int32:
		return Num(float64(v))
	case int64:
		return Num(float64(v))
	case uint32:
		return Num(float64(v))
	case uint64:
		return Num(float64(v))
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Null
		}
		return Num(f)
	case string:
		return parseNumeric(v)
	case Value:
		return v
	default:
		return Null
	}
}

// IsNumeric reports whether raw carries a number, possibly string encoded.
func IsNumeric(raw any) bool {
	return Coerce(raw).Valid
}

func parseNumeric(s string) Value {
	s = thousandsSeparators.Replace(strings.TrimSpace(s))
	if s == "" {
		return Null
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Null
	}
	return Num(f)
}

// Normalizer turns raw property maps from the snapshot store into typed
// Attributes. It is applied once when rows leave the store.
type Normalizer struct {
	drop        map[string]bool
	identifiers map[string]bool
}

// NewNormalizer creates a Normalizer. Nil slices fall back to the defaults.
func NewNormalizer(identifierFields, dropFields []string) *Normalizer {
	if identifierFields == nil {
		identifierFields = DefaultIdentifierFields
	}
	if dropFields == nil {
		dropFields = DefaultDropFields
	}
	n := &Normalizer{
		drop:        make(map[string]bool, len(dropFields)),
		identifiers: make(map[string]bool, len(identifierFields)),
	}
	for _, f := range dropFields {
		n.drop[f] = true
	}
	for _, f := range identifierFields {
		n.identifiers[f] = true
	}
	return n
}

// Attributes strips dropped and identifier fields and coerces the rest.
// Null values are kept as Null; non-numeric text is not a KPI and is removed.
func (n *Normalizer) Attributes(props map[string]any) Attributes {
	out := make(Attributes, len(props))
	for k, raw := range props {
		if n.drop[k] || n.identifiers[k] {
			continue
		}
		v := Coerce(raw)
		if !v.Valid && !blank(raw) {
			continue
		}
		out[k] = v
	}
	return out
}

// blank reports whether raw is an explicit missing value rather than
// non-numeric content.
func blank(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case float64:
		return true // NaN or Inf
	case float32:
		return true
	default:
		return false
	}
}

// Strip removes only the dropped fields, leaving identifiers and text in
// place. Used for GeoJSON feature properties.
func (n *Normalizer) Strip(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if n.drop[k] {
			continue
		}
		out[k] = v
	}
	return out
}
