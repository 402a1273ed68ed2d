package analytics

import (
	"math"

	"github.com/sells-group/kpi-atlas/internal/kpi"
)

// Clustering defaults.
const (
	DefaultK          = 3
	DefaultIterations = 5
)

// Assignment is the cluster label of one entity together with the raw
// feature values it was clustered on, in feature order.
type Assignment struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Features []float64 `json:"-"`
	Cluster  int       `json:"cluster"`
}

type clusterConfig struct {
	k          int
	iterations int
}

// ClusterOption configures Cluster.
type ClusterOption func(*clusterConfig)

// WithK sets the number of clusters.
func WithK(k int) ClusterOption {
	return func(c *clusterConfig) {
		if k > 0 {
			c.k = k
		}
	}
}

// WithIterations sets the number of assign/update rounds.
func WithIterations(n int) ClusterOption {
	return func(c *clusterConfig) {
		if n > 0 {
			c.iterations = n
		}
	}
}

// Cluster partitions rows into k groups by k-means over the named features.
// Rows missing any feature are left out. Seeds are the first k remaining
// rows in input order, so identical input always yields identical labels.
// With fewer than k usable rows the result is empty.
func Cluster(rows []kpi.Row, features []string, opts ...ClusterOption) []Assignment {
	cfg := clusterConfig{k: DefaultK, iterations: DefaultIterations}
	for _, fn := range opts {
		fn(&cfg)
	}
	if len(features) == 0 {
		return []Assignment{}
	}

	points := make([]Assignment, 0, len(rows))
	for _, row := range rows {
		vec, ok := featureVector(row.Attributes, features)
		if !ok {
			continue
		}
		points = append(points, Assignment{ID: row.EntityID, Name: row.Name, Features: vec})
	}
	if len(points) < cfg.k {
		return []Assignment{}
	}

	centroids := make([][]float64, cfg.k)
	for c := range centroids {
		centroids[c] = append([]float64(nil), points[c].Features...)
	}

	dims := len(features)
	for it := 0; it < cfg.iterations; it++ {
		for i := range points {
			points[i].Cluster = nearest(points[i].Features, centroids)
		}

		sums := make([][]float64, cfg.k)
		counts := make([]int, cfg.k)
		for c := range sums {
			sums[c] = make([]float64, dims)
		}
		for _, p := range points {
			counts[p.Cluster]++
			for d, v := range p.Features {
				sums[p.Cluster][d] += v
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue // empty cluster keeps its centroid
			}
			for d := range centroids[c] {
				centroids[c][d] = sums[c][d] / float64(counts[c])
			}
		}
	}
	return points
}

func featureVector(attrs kpi.Attributes, features []string) ([]float64, bool) {
	vec := make([]float64, len(features))
	for i, f := range features {
		v, ok := attrs.Get(f)
		if !ok {
			return nil, false
		}
		vec[i] = v
	}
	return vec, true
}

// nearest returns the index of the closest centroid; ties go to the lowest
// index.
func nearest(p []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		var d float64
		for i := range p {
			diff := p[i] - centroid[i]
			d += diff * diff
		}
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
