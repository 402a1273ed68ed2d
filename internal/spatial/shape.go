package spatial

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy/location"
)

// ring is one closed ring in XY, as coordinates for segment tests and as
// flat coordinates for point location.
type ring struct {
	coords []geom.Coord
	flat   []float64
}

// part is one polygon: its exterior ring followed by any holes.
type part []ring

// shape is the flattened polygonal content of one entity geometry.
type shape struct {
	parts  []part
	bounds *geom.Bounds
}

// newShape extracts polygon rings from g. Points, lines and unknown types
// yield an empty shape. Rings with fewer than 4 points are dropped.
func newShape(g geom.T) shape {
	var s shape
	if g == nil {
		return s
	}

	switch t := g.(type) {
	case *geom.Polygon:
		s.addPolygon(t)
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			s.addPolygon(t.Polygon(i))
		}
	case *geom.GeometryCollection:
		for _, child := range t.Geoms() {
			sub := newShape(child)
			s.parts = append(s.parts, sub.parts...)
		}
	default:
		return s
	}

	if len(s.parts) == 0 {
		return s
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range s.parts {
		for _, c := range p[0].coords {
			minX, maxX = math.Min(minX, c[0]), math.Max(maxX, c[0])
			minY, maxY = math.Min(minY, c[1]), math.Max(maxY, c[1])
		}
	}
	s.bounds = geom.NewBounds(geom.XY).Set(minX, minY, maxX, maxY)
	return s
}

func (s *shape) addPolygon(p *geom.Polygon) {
	if p == nil || p.Empty() {
		return
	}
	var rings part
	for i := 0; i < p.NumLinearRings(); i++ {
		coords := p.LinearRing(i).Coords()
		if len(coords) < 4 {
			if i == 0 {
				return
			}
			continue
		}
		r := ring{
			coords: make([]geom.Coord, 0, len(coords)+1),
			flat:   make([]float64, 0, 2*len(coords)+2),
		}
		for _, c := range coords {
			r.coords = append(r.coords, geom.Coord{c.X(), c.Y()})
			r.flat = append(r.flat, c.X(), c.Y())
		}
		if first, last := r.coords[0], r.coords[len(r.coords)-1]; !first.Equal(geom.XY, last) {
			r.coords = append(r.coords, first)
			r.flat = append(r.flat, first[0], first[1])
		}
		rings = append(rings, r)
	}
	if len(rings) > 0 {
		s.parts = append(s.parts, rings)
	}
}

func (s shape) empty() bool { return len(s.parts) == 0 || s.bounds == nil || s.bounds.IsEmpty() }

// minX and maxX drive the sweep in BuildAdjacency.
func (s shape) minX() float64 { return s.bounds.Min(0) }
func (s shape) maxX() float64 { return s.bounds.Max(0) }

// near reports whether the bounds of s, grown by eps, overlap those of o.
func (s shape) near(o shape, eps float64) bool {
	return grow(s.bounds, eps).Overlaps(geom.XY, o.bounds)
}

func grow(b *geom.Bounds, eps float64) *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(b.Min(0)-eps, b.Min(1)-eps, b.Max(0)+eps, b.Max(1)+eps)
}

// edges calls fn for every boundary segment of the shape until fn returns false.
func (s shape) edges(fn func(a, b geom.Coord) bool) {
	for _, p := range s.parts {
		for _, r := range p {
			if !r.edges(fn) {
				return
			}
		}
	}
}

func (r ring) edges(fn func(a, b geom.Coord) bool) bool {
	for i := 0; i+1 < len(r.coords); i++ {
		if !fn(r.coords[i], r.coords[i+1]) {
			return false
		}
	}
	return true
}

// locate places c in the interior, on the boundary or in the exterior of
// the polygon, holes included.
func (p part) locate(c geom.Coord) location.Type {
	loc := xyLocate(c, p[0])
	if loc != location.Interior {
		return loc
	}
	for _, hole := range p[1:] {
		switch xyLocate(c, hole) {
		case location.Boundary:
			return location.Boundary
		case location.Interior:
			return location.Exterior
		}
	}
	return location.Interior
}

// locate places c relative to the union of the shape's polygons.
func (s shape) locate(c geom.Coord) location.Type {
	out := location.Exterior
	for _, p := range s.parts {
		switch p.locate(c) {
		case location.Interior:
			return location.Interior
		case location.Boundary:
			out = location.Boundary
		}
	}
	return out
}
