// Package spatial derives contiguity graphs from entity geometries.
package spatial

import (
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/kpi-atlas/internal/kpi"
)

// Graph maps an entity id to the sorted ids of the entities whose
// geometries touch it. It is symmetric and irreflexive.
type Graph map[string][]string

// Neighbors returns the neighbours of id, or nil when id is unknown.
func (g Graph) Neighbors(id string) []string {
	return g[id]
}

// Has reports whether a and b are adjacent.
func (g Graph) Has(a, b string) bool {
	n := g[a]
	i := sort.SearchStrings(n, b)
	return i < len(n) && n[i] == b
}

// Edges returns the number of undirected edges.
func (g Graph) Edges() int {
	var total int
	for _, n := range g {
		total += len(n)
	}
	return total / 2
}

// Subgraph returns the graph induced by ids: only those vertices and the
// edges between them.
func (g Graph) Subgraph(ids []string) Graph {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	out := make(Graph, len(keep))
	for id := range keep {
		n := []string{}
		for _, nb := range g[id] {
			if keep[nb] {
				n = append(n, nb)
			}
		}
		out[id] = n
	}
	return out
}

type options struct {
	tolerance float64
}

// Option configures BuildAdjacency.
type Option func(*options)

// WithTolerance sets the coincidence tolerance in coordinate units.
func WithTolerance(eps float64) Option {
	return func(o *options) {
		if eps >= 0 {
			o.tolerance = eps
		}
	}
}

// BuildAdjacency derives the touch graph over one year's entities. Pairs
// are pre-filtered by bounding-box overlap with a sweep along x before the
// exact Touches test. Entities with empty or degenerate geometry appear as
// vertices without edges.
func BuildAdjacency(entities []kpi.Entity, opts ...Option) Graph {
	o := options{tolerance: DefaultTolerance}
	for _, fn := range opts {
		fn(&o)
	}

	shapes := make([]shape, len(entities))
	order := make([]int, 0, len(entities))
	sets := make(map[string]map[string]struct{}, len(entities))
	for i, e := range entities {
		sets[e.ID] = make(map[string]struct{})
		shapes[i] = newShape(e.Geometry)
		if !shapes[i].empty() {
			order = append(order, i)
		}
	}

	sort.SliceStable(order, func(a, b int) bool {
		return shapes[order[a]].minX() < shapes[order[b]].minX()
	})

	var candidates, tested int
	for oi, i := range order {
		si := shapes[i]
		for _, j := range order[oi+1:] {
			if shapes[j].minX() > si.maxX()+o.tolerance {
				break
			}
			candidates++
			a, b := entities[i].ID, entities[j].ID
			if a == b || !si.near(shapes[j], o.tolerance) {
				continue
			}
			tested++
			if touches(si, shapes[j], o.tolerance) {
				sets[a][b] = struct{}{}
				sets[b][a] = struct{}{}
			}
		}
	}

	g := make(Graph, len(sets))
	for id, set := range sets {
		n := make([]string, 0, len(set))
		for nb := range set {
			n = append(n, nb)
		}
		sort.Strings(n)
		g[id] = n
	}

	zap.L().Debug("spatial: adjacency built",
		zap.Int("entities", len(entities)),
		zap.Int("sweep_candidates", candidates),
		zap.Int("exact_tests", tested),
		zap.Int("edges", g.Edges()),
	)
	return g
}
