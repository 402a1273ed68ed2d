package spatial

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/lineintersection"
	"github.com/twpayne/go-geom/xy/lineintersector"
	"github.com/twpayne/go-geom/xy/location"
)

// DefaultTolerance is the distance below which two coordinates are treated
// as coincident. Boundaries digitised from the same source share exact
// vertices, so the default is tight.
const DefaultTolerance = 1e-9

// nudge is the inward offset, relative to the edge length, of the interior
// samples taken next to every edge.
const nudge = 1e-6

var intersector = lineintersector.RobustLineIntersector{}

func xyLocate(c geom.Coord, r ring) location.Type {
	return xy.LocatePointInRing(geom.XY, c, r.flat)
}

// Touches reports whether the polygonal geometries a and b share at least
// one boundary point while their interiors do not overlap. Empty or
// non-polygonal geometries never touch anything.
func Touches(a, b geom.T, tolerance float64) bool {
	return touches(newShape(a), newShape(b), tolerance)
}

func touches(a, b shape, eps float64) bool {
	if a.empty() || b.empty() || !a.near(b, eps) {
		return false
	}

	contact, crossing := boundaryContact(a, b, eps)
	if crossing || !contact {
		return false
	}
	return !interiorInside(a, b, eps) && !interiorInside(b, a, eps)
}

// boundaryContact scans all edge pairs. contact is true when the boundaries
// meet; crossing is true when two edges cross at a point interior to both,
// which means the interiors overlap.
func boundaryContact(a, b shape, eps float64) (contact, crossing bool) {
	a.edges(func(a1, a2 geom.Coord) bool {
		b.edges(func(b1, b2 geom.Coord) bool {
			if !segmentsNear(a1, a2, b1, b2, eps) {
				return true
			}
			switch classify(a1, a2, b1, b2, eps) {
			case segCross:
				crossing = true
				return false
			case segTouch:
				contact = true
			}
			return true
		})
		return !crossing
	})
	return contact, crossing
}

type segRelation int

const (
	segNone segRelation = iota
	segTouch
	segCross
)

// classify relates segments a1a2 and b1b2: a proper crossing, a touch
// (shared endpoint, endpoint on the other segment, collinear overlap, or a
// gap within eps) or no contact.
func classify(a1, a2, b1, b2 geom.Coord, eps float64) segRelation {
	res := lineintersector.LineIntersectsLine(intersector, a1, a2, b1, b2)
	switch res.Type() {
	case lineintersection.CollinearIntersection:
		return segTouch
	case lineintersection.PointIntersection:
		p := res.Intersection()[0]
		for _, end := range []geom.Coord{a1, a2, b1, b2} {
			if xy.Distance(p, end) <= eps {
				return segTouch
			}
		}
		return segCross
	}
	if xy.DistanceFromPointToLine(a1, b1, b2) <= eps ||
		xy.DistanceFromPointToLine(a2, b1, b2) <= eps ||
		xy.DistanceFromPointToLine(b1, a1, a2) <= eps ||
		xy.DistanceFromPointToLine(b2, a1, a2) <= eps {
		return segTouch
	}
	return segNone
}

func segmentsNear(a1, a2, b1, b2 geom.Coord, eps float64) bool {
	return math.Min(a1[0], a2[0]) <= math.Max(b1[0], b2[0])+eps &&
		math.Min(b1[0], b2[0]) <= math.Max(a1[0], a2[0])+eps &&
		math.Min(a1[1], a2[1]) <= math.Max(b1[1], b2[1])+eps &&
		math.Min(b1[1], b2[1]) <= math.Max(a1[1], a2[1])+eps
}

// interiorInside reports whether a sample of a lies strictly inside b. The
// samples are every vertex, every edge midpoint and a point just inside a
// next to every edge midpoint; the last catch coincident boundaries
// enclosing the same area.
func interiorInside(a, b shape, eps float64) bool {
	found := false
	for _, p := range a.parts {
		for _, r := range p {
			r.edges(func(p1, p2 geom.Coord) bool {
				mid := geom.Coord{(p1[0] + p2[0]) / 2, (p1[1] + p2[1]) / 2}
				samples := []geom.Coord{p1, mid}
				if in, ok := inward(p, p1, p2, mid, eps); ok {
					samples = append(samples, in)
				}
				for _, c := range samples {
					if strictlyInside(c, b, eps) {
						found = true
						return false
					}
				}
				return true
			})
			if found {
				return true
			}
		}
	}
	return false
}

// inward offsets mid perpendicular to p1p2 towards the interior of p.
func inward(p part, p1, p2, mid geom.Coord, eps float64) (geom.Coord, bool) {
	dx, dy := p2[0]-p1[0], p2[1]-p1[1]
	length := math.Hypot(dx, dy)
	if length == 0 {
		return nil, false
	}
	d := math.Max(10*eps, nudge*length)
	nx, ny := -dy/length*d, dx/length*d
	for _, c := range []geom.Coord{{mid[0] + nx, mid[1] + ny}, {mid[0] - nx, mid[1] - ny}} {
		if p.locate(c) == location.Interior {
			return c, true
		}
	}
	return nil, false
}

// strictlyInside reports whether c lies in the interior of s and farther
// than eps from its boundary.
func strictlyInside(c geom.Coord, s shape, eps float64) bool {
	if !s.bounds.OverlapsPoint(geom.XY, c) || s.locate(c) != location.Interior {
		return false
	}
	onBoundary := false
	s.edges(func(a, b geom.Coord) bool {
		if xy.DistanceFromPointToLine(c, a, b) <= eps {
			onBoundary = true
			return false
		}
		return true
	})
	return !onBoundary
}
