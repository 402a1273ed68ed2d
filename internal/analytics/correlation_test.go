package analytics

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/kpi-atlas/internal/kpi"
)

// rowsOf builds one row per index with the given attribute columns; NaN
// marks a missing value.
func rowsOf(cols map[string][]float64) []kpi.Row {
	var n int
	for _, c := range cols {
		n = len(c)
		break
	}
	rows := make([]kpi.Row, n)
	for i := range rows {
		attrs := make(kpi.Attributes, len(cols))
		for name, c := range cols {
			attrs[name] = kpi.Num(c[i])
		}
		rows[i] = kpi.Row{EntityID: strconv.Itoa(i + 1), Name: "E" + strconv.Itoa(i+1), Year: 2020, Attributes: attrs}
	}
	return rows
}

func findPair(t *testing.T, cs []Correlation, a, b string) Correlation {
	t.Helper()
	for _, c := range cs {
		if (c.A == a && c.B == b) || (c.A == b && c.B == a) {
			return c
		}
	}
	t.Fatalf("pair %s/%s not found", a, b)
	return Correlation{}
}

func TestCorrelate_PerfectLinear(t *testing.T) {
	rows := rowsOf(map[string][]float64{
		"x": {1, 2, 3, 4, 5},
		"y": {2, 4, 6, 8, 10},
	})
	cs := Correlate(rows)
	require.Len(t, cs, 1)
	assert.InDelta(t, 1.0, cs[0].R, 1e-12)
	assert.Equal(t, 5, cs[0].N)
	assert.Equal(t, "x vs y", cs[0].Pair())
}

func TestCorrelate_SelfAndNegation(t *testing.T) {
	base := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	neg := make([]float64, len(base))
	for i, v := range base {
		neg[i] = -v
	}
	rows := rowsOf(map[string][]float64{"a": base, "a_copy": base, "a_neg": neg})

	cs := Correlate(rows)
	assert.InDelta(t, 1.0, findPair(t, cs, "a", "a_copy").R, 1e-12)
	assert.InDelta(t, -1.0, findPair(t, cs, "a", "a_neg").R, 1e-12)
	assert.InDelta(t, -1.0, findPair(t, cs, "a_copy", "a_neg").R, 1e-12)
}

func TestPearson_Symmetric(t *testing.T) {
	xs := []float64{1, 3, 2, 5, 4, 7}
	ys := []float64{2, 1, 4, 3, 6, 5}
	r1, ok1 := Pearson(xs, ys)
	r2, ok2 := Pearson(ys, xs)
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, r1, r2)
	assert.True(t, r1 > -1 && r1 < 1)
}

func TestPearson_Degenerate(t *testing.T) {
	_, ok := Pearson([]float64{1, 1, 1}, []float64{1, 2, 3})
	assert.False(t, ok)
	_, ok = Pearson(nil, nil)
	assert.False(t, ok)
	_, ok = Pearson([]float64{1, 2}, []float64{1})
	assert.False(t, ok)
}

func TestCorrelate_SkipsSmallSamples(t *testing.T) {
	nan := math.NaN()
	rows := rowsOf(map[string][]float64{
		"x": {1, 2, 3, 4, 5, 6},
		"y": {2, 1, 4, 3, 6, 5},
		"z": {1, nan, 2, nan, 3, nan}, // only 3 co-valid rows with anything
	})
	cs := Correlate(rows)
	require.Len(t, cs, 1)
	assert.Equal(t, "x", cs[0].A)
	assert.Equal(t, "y", cs[0].B)
}

func TestCorrelate_SkipsZeroVariance(t *testing.T) {
	rows := rowsOf(map[string][]float64{
		"x":     {1, 2, 3, 4, 5},
		"const": {7, 7, 7, 7, 7},
	})
	assert.Empty(t, Correlate(rows))
}

func TestCorrelate_SortedByStrength(t *testing.T) {
	rows := rowsOf(map[string][]float64{
		"x":    {1, 2, 3, 4, 5, 6},
		"down": {6, 5, 4, 3, 2, 1},
		"weak": {1, 3, 2, 2, 3, 1},
		"mid":  {1, 2, 2, 4, 4, 5},
	})
	cs := Correlate(rows)
	require.NotEmpty(t, cs)
	for i := 1; i < len(cs); i++ {
		assert.GreaterOrEqual(t, math.Abs(cs[i-1].R), math.Abs(cs[i].R))
	}
	assert.InDelta(t, 1.0, math.Abs(cs[0].R), 1e-12)
	for _, c := range cs {
		assert.Less(t, c.A, c.B, "pairs are reported with A < B")
		assert.LessOrEqual(t, math.Abs(c.R), 1.0)
	}
}

func TestCorrelate_AttributeNeverDefinedIgnored(t *testing.T) {
	nan := math.NaN()
	rows := rowsOf(map[string][]float64{
		"x":     {1, 2, 3, 4, 5},
		"y":     {5, 3, 4, 1, 2},
		"empty": {nan, nan, nan, nan, nan},
	})
	cs := Correlate(rows)
	require.Len(t, cs, 1)
	assert.Equal(t, "x vs y", cs[0].Pair())
}

func TestCorrelate_SpansYears(t *testing.T) {
	var rows []kpi.Row
	for year := 2018; year <= 2020; year++ {
		for i := 1; i <= 2; i++ {
			v := float64(year-2018)*2 + float64(i)
			rows = append(rows, kpi.Row{
				EntityID:   strconv.Itoa(i),
				Year:       year,
				Attributes: kpi.Attributes{"x": kpi.Num(v), "y": kpi.Num(3 * v)},
			})
		}
	}
	cs := Correlate(rows)
	require.Len(t, cs, 1)
	assert.Equal(t, 6, cs[0].N)
	assert.InDelta(t, 1.0, cs[0].R, 1e-12)
}
