// Package analytics implements the KPI engines: Pearson correlation
// ranking, deterministic k-means clustering, Moran's I spatial
// autocorrelation and OLS regression deviations. Every function is pure.
package analytics

import (
	"math"
	"sort"

	"github.com/sells-group/kpi-atlas/internal/kpi"
)

// MinCorrelationSample is the minimum number of co-valid rows for a pair.
const MinCorrelationSample = 5

// Correlation is the Pearson coefficient of one unordered attribute pair.
type Correlation struct {
	A string  `json:"a"`
	B string  `json:"b"`
	R float64 `json:"r"`
	N int     `json:"n"`
}

// Pair returns the display label "A vs B".
func (c Correlation) Pair() string {
	return c.A + " vs " + c.B
}

// Correlate computes Pearson r for every unordered pair of attributes that
// are defined on at least one row. Pairs with fewer than
// MinCorrelationSample co-valid rows or zero variance on either side are
// skipped. The result is sorted by |r| descending, then by label.
func Correlate(rows []kpi.Row) []Correlation {
	names := candidateAttributes(rows)

	out := make([]Correlation, 0)
	xs := make([]float64, 0, len(rows))
	ys := make([]float64, 0, len(rows))
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			xs, ys = xs[:0], ys[:0]
			for _, row := range rows {
				x, okX := row.Attributes.Get(names[i])
				y, okY := row.Attributes.Get(names[j])
				if okX && okY {
					xs = append(xs, x)
					ys = append(ys, y)
				}
			}
			if len(xs) < MinCorrelationSample {
				continue
			}
			r, ok := Pearson(xs, ys)
			if !ok {
				continue
			}
			out = append(out, Correlation{A: names[i], B: names[j], R: r, N: len(xs)})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := math.Abs(out[i].R), math.Abs(out[j].R)
		if ai != aj {
			return ai > aj
		}
		return out[i].Pair() < out[j].Pair()
	})
	return out
}

// Pearson returns the correlation coefficient of xs and ys, which must have
// equal length. ok is false when either variance is zero or the slices are
// empty.
func Pearson(xs, ys []float64) (r float64, ok bool) {
	n := len(xs)
	if n == 0 || n != len(ys) {
		return 0, false
	}
	mx, my := mean(xs), mean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0, false
	}
	r = sxy / math.Sqrt(sxx*syy)
	// Clamp rounding drift so |r| never exceeds 1.
	return math.Max(-1, math.Min(1, r)), true
}

// candidateAttributes returns, in ascending order, every attribute that is
// defined on at least one row.
func candidateAttributes(rows []kpi.Row) []string {
	seen := make(map[string]bool)
	for _, row := range rows {
		for k, v := range row.Attributes {
			if v.Valid {
				seen[k] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
