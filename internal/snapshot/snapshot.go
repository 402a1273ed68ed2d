package snapshot

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/kpi-atlas/internal/kpi"
)

// Snapshot is the immutable, normalised state of one year.
type Snapshot struct {
	Year     int
	Entities []kpi.Entity

	props []map[string]any
	byID  map[string]int
}

// NewSnapshot normalises records into a Snapshot. Records keep their store
// order; a repeated id keeps its first record.
func NewSnapshot(year int, records []Record, n *kpi.Normalizer) *Snapshot {
	s := &Snapshot{
		Year:     year,
		Entities: make([]kpi.Entity, 0, len(records)),
		props:    make([]map[string]any, 0, len(records)),
		byID:     make(map[string]int, len(records)),
	}
	for _, r := range records {
		if _, dup := s.byID[r.ID]; dup {
			continue
		}
		s.byID[r.ID] = len(s.Entities)
		s.Entities = append(s.Entities, kpi.Entity{
			ID:         r.ID,
			Name:       r.Name,
			Year:       year,
			Geometry:   r.Geometry,
			Attributes: n.Attributes(r.Properties),
		})
		s.props = append(s.props, n.Strip(r.Properties))
	}
	return s
}

// Rows returns the attribute rows in snapshot order.
func (s *Snapshot) Rows() []kpi.Row {
	return kpi.Rows(s.Entities)
}

// Entity looks an entity up by id.
func (s *Snapshot) Entity(id string) (kpi.Entity, bool) {
	i, ok := s.byID[id]
	if !ok {
		return kpi.Entity{}, false
	}
	return s.Entities[i], true
}

// HasAttribute reports whether any entity carries attr, defined or not.
func (s *Snapshot) HasAttribute(attr string) bool {
	for _, e := range s.Entities {
		if _, ok := e.Attributes[attr]; ok {
			return true
		}
	}
	return false
}

// GeoJSON encodes the snapshot as a FeatureCollection. Feature properties
// are the stored columns minus the dropped internal fields.
func (s *Snapshot) GeoJSON() ([]byte, error) {
	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(s.Entities))}
	for i, e := range s.Entities {
		props := make(map[string]any, len(s.props[i])+2)
		for k, v := range s.props[i] {
			props[k] = v
		}
		props["id"] = e.ID
		props["name"] = e.Name
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         e.ID,
			Geometry:   e.Geometry,
			Properties: props,
		})
	}
	data, err := json.Marshal(&fc)
	return data, eris.Wrapf(err, "snapshot: encode geojson %d", s.Year)
}
