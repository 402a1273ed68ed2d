package kpi

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
)

// Value is a numeric KPI value or null. The zero Value is null.
type Value struct {
	Num   float64
	Valid bool
}

// Null is the undefined value.
var Null = Value{}

// Num returns a defined Value for f. NaN and infinities become Null so that
// every Value round-trips through JSON as a finite number or null.
func Num(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null
	}
	return Value{Num: f, Valid: true}
}

// Float returns the number and whether it is defined.
func (v Value) Float() (float64, bool) {
	return v.Num, v.Valid
}

// Ptr returns a pointer to the number, or nil when undefined.
func (v Value) Ptr() *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Num
	return &f
}

// MarshalJSON encodes null or a finite number.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.Num)
}

// UnmarshalJSON accepts null, numbers and numeric strings.
func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Null
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return eris.Wrap(err, "kpi: decode value")
	}
	*v = Coerce(raw)
	return nil
}
