package analytics

import (
	"math"
	"sort"

	"github.com/sells-group/kpi-atlas/internal/kpi"
	"github.com/sells-group/kpi-atlas/internal/spatial"
)

// MoranScore is the neighbourhood Moran's I of one entity. MoranI is null
// when the statistic is undefined for that neighbourhood.
type MoranScore struct {
	EntityID string    `json:"entityId"`
	MoranI   kpi.Value `json:"moranI"`
}

// MoranStats is a global Moran's I with its inference under the
// normality assumption.
type MoranStats struct {
	I        kpi.Value `json:"moranI"`
	Expected float64   `json:"expected"`
	Variance kpi.Value `json:"variance"`
	Z        kpi.Value `json:"z"`
	P        kpi.Value `json:"pValue"`
	N        int       `json:"n"`
	S0       float64   `json:"s0"`
}

// ValuesOf collects the defined values of attr keyed by entity id.
func ValuesOf(rows []kpi.Row, attr string) map[string]float64 {
	out := make(map[string]float64, len(rows))
	for _, row := range rows {
		if v, ok := row.Attributes.Get(attr); ok {
			out[row.EntityID] = v
		}
	}
	return out
}

// MoranI computes Moran's I with binary contiguity weights that are not row
// standardised. Only entities present in values take part; edges to
// entities without a value are not counted. The result is null when no edge
// joins two valued entities or when all values are identical.
func MoranI(values map[string]float64, g spatial.Graph) kpi.Value {
	m, ok := moranMoments(values, g)
	if !ok {
		return kpi.Null
	}
	return kpi.Num(m.i)
}

// LocalMoran computes MoranI restricted to focal and its immediate
// neighbours, over the subgraph they induce.
func LocalMoran(values map[string]float64, g spatial.Graph, focal string) kpi.Value {
	ns, ok := g[focal]
	if !ok {
		return kpi.Null
	}
	ids := append([]string{focal}, ns...)
	sub := make(map[string]float64, len(ids))
	for _, id := range ids {
		if v, ok := values[id]; ok {
			sub[id] = v
		}
	}
	return MoranI(sub, g.Subgraph(ids))
}

// LocalScores returns LocalMoran for each requested id in order. With no
// ids, every vertex of g is scored in ascending id order.
func LocalScores(values map[string]float64, g spatial.Graph, ids []string) []MoranScore {
	if len(ids) == 0 {
		ids = make([]string, 0, len(g))
		for id := range g {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}
	out := make([]MoranScore, len(ids))
	for i, id := range ids {
		out[i] = MoranScore{EntityID: id, MoranI: LocalMoran(values, g, id)}
	}
	return out
}

// GlobalMoran computes MoranI over all valued entities together with its
// expectation -1/(n-1), normality variance, z-score and two-sided p-value.
func GlobalMoran(values map[string]float64, g spatial.Graph) MoranStats {
	m, ok := moranMoments(values, g)
	stats := MoranStats{N: m.n, S0: m.s0}
	if m.n > 1 {
		stats.Expected = -1 / float64(m.n-1)
	}
	if !ok {
		return stats
	}
	stats.I = kpi.Num(m.i)

	n := float64(m.n)
	if m.n < 2 {
		return stats
	}
	variance := (n*n*m.s1-n*m.s2+3*m.s0*m.s0)/((n*n-1)*m.s0*m.s0) - stats.Expected*stats.Expected
	if variance <= 0 || math.IsNaN(variance) {
		return stats
	}
	stats.Variance = kpi.Num(variance)
	z := (m.i - stats.Expected) / math.Sqrt(variance)
	stats.Z = kpi.Num(z)
	stats.P = kpi.Num(math.Erfc(math.Abs(z) / math.Sqrt2))
	return stats
}

type moments struct {
	n          int
	i          float64
	s0, s1, s2 float64
}

// moranMoments computes I and the weight sums S0, S1, S2. ok is false when
// S0 or the variance term is zero.
func moranMoments(values map[string]float64, g spatial.Graph) (moments, bool) {
	m := moments{n: len(values)}
	if m.n == 0 {
		return m, false
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mu := sum / float64(m.n)

	var num, den float64
	rowSum := make(map[string]float64, m.n)
	colSum := make(map[string]float64, m.n)
	pairs := make(map[[2]string]float64)
	for id, xi := range values {
		zi := xi - mu
		den += zi * zi
		for _, j := range g[id] {
			xj, ok := values[j]
			if !ok || j == id {
				continue
			}
			m.s0++
			num += zi * (xj - mu)
			rowSum[id]++
			colSum[j]++
			pairs[[2]string{id, j}]++
		}
	}
	for p, w := range pairs {
		wji := pairs[[2]string{p[1], p[0]}]
		m.s1 += (w + wji) * (w + wji)
	}
	m.s1 /= 2
	for id := range values {
		d := rowSum[id] + colSum[id]
		m.s2 += d * d
	}

	if m.s0 == 0 || den == 0 {
		return m, false
	}
	m.i = (float64(m.n) / m.s0) * (num / den)
	return m, true
}
