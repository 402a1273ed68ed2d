// Package snapshot loads per-year entity snapshots (KPI attributes plus
// boundary geometry) from a backing store and keeps them in memory.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/kpi-atlas/internal/analytics"
)

// Record is one entity-year as it comes out of a store, before
// normalisation. Properties holds every non-geometry column.
type Record struct {
	ID         string
	Name       string
	Year       int
	Properties map[string]any
	Geometry   geom.T
}

// Store is a read-only source of entity records per year.
type Store interface {
	// LoadYear returns every record of year ordered by entity id.
	LoadYear(ctx context.Context, year int) ([]Record, error)

	// Years lists the years present in the store, ascending.
	Years(ctx context.Context) ([]int, error)

	// Close releases the underlying connection.
	Close() error
}

// ScoreReader reads precomputed neighbourhood Moran scores.
type ScoreReader interface {
	// Scores returns stored scores of attr in year, restricted to ids when
	// ids is non-empty. Entities without a stored row are omitted.
	Scores(ctx context.Context, year int, attr string, ids []string) ([]analytics.MoranScore, error)
}

// ScoreWriter persists neighbourhood Moran scores.
type ScoreWriter interface {
	// WriteScores upserts scores of attr in year and returns the row count.
	WriteScores(ctx context.Context, year int, attr string, scores []analytics.MoranScore) (int64, error)
}

// Columns names the identifier columns of the source table.
type Columns struct {
	ID       string `yaml:"id" mapstructure:"id"`
	Name     string `yaml:"name" mapstructure:"name"`
	Year     string `yaml:"year" mapstructure:"year"`
	Geometry string `yaml:"geometry" mapstructure:"geometry"`
}

// DefaultColumns match the merged municipality table.
var DefaultColumns = Columns{ID: "BFS", Name: "GEBIET_NAME", Year: "Year", Geometry: "geom"}

func (c Columns) withDefaults() Columns {
	if c.ID == "" {
		c.ID = DefaultColumns.ID
	}
	if c.Name == "" {
		c.Name = DefaultColumns.Name
	}
	if c.Year == "" {
		c.Year = DefaultColumns.Year
	}
	if c.Geometry == "" {
		c.Geometry = DefaultColumns.Geometry
	}
	return c
}

// decodeProperties parses a JSON object keeping numbers as json.Number so
// integer identifiers survive unchanged.
func decodeProperties(data []byte) (map[string]any, error) {
	props := map[string]any{}
	if len(data) == 0 {
		return props, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&props); err != nil {
		return nil, eris.Wrap(err, "snapshot: decode properties")
	}
	if props == nil {
		props = map[string]any{}
	}
	return props, nil
}

func scoreValue(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func scoreRows(year int, attr string, scores []analytics.MoranScore) [][]any {
	rows := make([][]any, len(scores))
	for i, s := range scores {
		rows[i] = []any{year, attr, s.EntityID, scoreValue(s.MoranI.Ptr())}
	}
	return rows
}
