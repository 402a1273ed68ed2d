package kpi

import (
	"encoding/json"
	"sort"

	"github.com/twpayne/go-geom"
)

// Entity is one geographic unit (e.g. a municipality) in one year.
type Entity struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Year       int        `json:"year"`
	Geometry   geom.T     `json:"-"`
	Attributes Attributes `json:"attributes"`
}

// Row returns the attribute row of the entity without its geometry.
func (e Entity) Row() Row {
	return Row{EntityID: e.ID, Name: e.Name, Year: e.Year, Attributes: e.Attributes}
}

// Row is one entity-year of numeric attributes.
type Row struct {
	EntityID   string
	Name       string
	Year       int
	Attributes Attributes
}

// MarshalJSON flattens the row into a single object: id, name and year
// followed by every attribute. Undefined attributes are written as null.
func (r Row) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Attributes)+3)
	for k, v := range r.Attributes {
		out[k] = v
	}
	out["id"] = r.EntityID
	out["name"] = r.Name
	out["year"] = r.Year
	return json.Marshal(out)
}

// Attributes maps an attribute (KPI) name to its value for one entity-year.
type Attributes map[string]Value

// Get returns the numeric value of name and whether it is defined.
func (a Attributes) Get(name string) (float64, bool) {
	v, ok := a[name]
	if !ok {
		return 0, false
	}
	return v.Float()
}

// Names returns the attribute names in ascending order.
func (a Attributes) Names() []string {
	names := make([]string, 0, len(a))
	for k := range a {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Rows extracts the attribute rows of a slice of entities, preserving order.
func Rows(entities []Entity) []Row {
	rows := make([]Row, len(entities))
	for i, e := range entities {
		rows[i] = e.Row()
	}
	return rows
}
