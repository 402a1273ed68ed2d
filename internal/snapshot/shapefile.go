package snapshot

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// ShapefileOptions controls how DBF attributes map onto a Record.
type ShapefileOptions struct {
	IDField   string // DBF column holding the entity id
	NameField string // DBF column holding the display name
	YearField string // DBF column holding the year; empty uses Year
	Year      int    // year for every record when YearField is empty
}

// ReadShapefile reads a polygon shapefile with its DBF attributes. Every
// DBF column becomes a property; values stay strings and are coerced during
// normalisation. Records without an id are skipped.
func ReadShapefile(path string, opts ShapefileOptions) ([]Record, error) {
	if opts.IDField == "" {
		return nil, eris.New("snapshot: shapefile id field is required")
	}
	if opts.YearField == "" && opts.Year == 0 {
		return nil, eris.New("snapshot: shapefile needs a year or a year field")
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "snapshot: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
	}

	var out []Record
	var skipped int
	for reader.Next() {
		n, shape := reader.Shape()

		props := make(map[string]any, len(names))
		for i, name := range names {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			if val == "" {
				props[name] = nil
			} else {
				props[name] = val
			}
		}

		r := Record{
			ID:         stringProp(props, opts.IDField),
			Name:       stringProp(props, opts.NameField),
			Year:       opts.Year,
			Properties: props,
			Geometry:   shapeGeometry(shape),
		}
		if opts.YearField != "" {
			y, err := strconv.Atoi(stringProp(props, opts.YearField))
			if err != nil {
				skipped++
				continue
			}
			r.Year = y
		}
		if r.ID == "" {
			skipped++
			zap.L().Debug("snapshot: shapefile record without id", zap.Int("record", n))
			continue
		}
		out = append(out, r)
	}

	if skipped > 0 {
		zap.L().Warn("snapshot: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return out, nil
}

func stringProp(props map[string]any, name string) string {
	if name == "" {
		return ""
	}
	s, _ := props[name].(string)
	return s
}

// shapeGeometry converts a shapefile polygon to a MultiPolygon. Shapefile
// outer rings run clockwise and holes counter-clockwise; each hole is
// attached to the outer ring preceding it. Other shape types yield nil.
func shapeGeometry(shape shp.Shape) geom.T {
	p, ok := shape.(*shp.Polygon)
	if !ok || p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY)
	var current *geom.Polygon
	flush := func() {
		if current == nil {
			return
		}
		if err := mp.Push(current); err != nil {
			zap.L().Debug("snapshot: skipping malformed polygon", zap.Error(err))
		}
		current = nil
	}

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if start < 0 || end > int32(len(p.Points)) || end-start < 4 {
			continue
		}

		flat := make([]float64, 0, 2*(end-start))
		for _, pt := range p.Points[start:end] {
			flat = append(flat, pt.X, pt.Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		if signedArea(flat) <= 0 || current == nil {
			flush()
			current = geom.NewPolygon(geom.XY)
		}
		if err := current.Push(ring); err != nil {
			zap.L().Debug("snapshot: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
		}
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// signedArea is the shoelace area of a flat XY ring; negative for
// clockwise rings.
func signedArea(flat []float64) float64 {
	var a float64
	n := len(flat) / 2
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		a += flat[2*i]*flat[2*j+1] - flat[2*j]*flat[2*i+1]
	}
	return a / 2
}
