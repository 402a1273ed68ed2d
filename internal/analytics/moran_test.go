package analytics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/kpi-atlas/internal/spatial"
)

// chainGraph is 1-2-3-4-5.
func chainGraph() spatial.Graph {
	return spatial.Graph{
		"1": {"2"},
		"2": {"1", "3"},
		"3": {"2", "4"},
		"4": {"3", "5"},
		"5": {"4"},
	}
}

func chainValues(vs ...float64) map[string]float64 {
	out := make(map[string]float64, len(vs))
	for i, v := range vs {
		out[string(rune('1'+i))] = v
	}
	return out
}

func TestMoranI_ChainGradientIsPositive(t *testing.T) {
	got := MoranI(chainValues(1, 2, 3, 4, 5), chainGraph())
	require.True(t, got.Valid)
	assert.InDelta(t, 0.5, got.Num, 1e-12)
}

func TestMoranI_AlternatingIsNegative(t *testing.T) {
	got := MoranI(chainValues(1, 5, 1, 5, 1), chainGraph())
	require.True(t, got.Valid)
	assert.Less(t, got.Num, 0.0)
}

func TestMoranI_ConstantIsNull(t *testing.T) {
	got := MoranI(chainValues(4, 4, 4, 4, 4), chainGraph())
	assert.False(t, got.Valid)
}

func TestMoranI_NoEdgesIsNull(t *testing.T) {
	g := spatial.Graph{"1": {}, "2": {}, "3": {}}
	assert.False(t, MoranI(chainValues(1, 2, 3), g).Valid)
	assert.False(t, MoranI(map[string]float64{}, chainGraph()).Valid)
}

func TestMoranI_MissingValuesExcluded(t *testing.T) {
	// Entity 3 has no value: the chain breaks into 1-2 and 4-5, so S0 = 4.
	values := map[string]float64{"1": 1, "2": 2, "4": 4, "5": 5}
	got := MoranI(values, chainGraph())
	require.True(t, got.Valid)
	// mean 3, z = -2,-1,1,2; sum w z z = 2*(2 + 2) = 8; sum z^2 = 10.
	assert.InDelta(t, (4.0/4.0)*(8.0/10.0), got.Num, 1e-12)

	// Only isolated valued entities left: no weight at all.
	assert.False(t, MoranI(map[string]float64{"1": 1, "3": 3, "5": 5}, chainGraph()).Valid)
}

func TestLocalMoran(t *testing.T) {
	values := chainValues(1, 2, 3, 4, 5)
	g := chainGraph()

	mid := LocalMoran(values, g, "3")
	require.True(t, mid.Valid)
	assert.InDelta(t, 0.0, mid.Num, 1e-12)

	end := LocalMoran(values, g, "1")
	require.True(t, end.Valid)
	assert.InDelta(t, -1.0, end.Num, 1e-12)

	assert.False(t, LocalMoran(values, g, "404").Valid)
}

func TestLocalScores(t *testing.T) {
	values := chainValues(1, 2, 3, 4, 5)
	g := chainGraph()

	subset := LocalScores(values, g, []string{"3", "1"})
	require.Len(t, subset, 2)
	assert.Equal(t, "3", subset[0].EntityID)
	assert.Equal(t, "1", subset[1].EntityID)

	all := LocalScores(values, g, nil)
	require.Len(t, all, 5)
	assert.Equal(t, "1", all[0].EntityID)
	assert.Equal(t, "5", all[4].EntityID)
	for _, s := range all {
		assert.True(t, s.MoranI.Valid)
		assert.False(t, math.IsNaN(s.MoranI.Num))
	}
}

func TestGlobalMoran_Inference(t *testing.T) {
	stats := GlobalMoran(chainValues(1, 2, 3, 4, 5), chainGraph())

	require.True(t, stats.I.Valid)
	assert.InDelta(t, 0.5, stats.I.Num, 1e-12)
	assert.Equal(t, 5, stats.N)
	assert.Equal(t, 8.0, stats.S0)
	assert.InDelta(t, -0.25, stats.Expected, 1e-12)
	require.True(t, stats.Variance.Valid)
	assert.InDelta(t, 0.140625, stats.Variance.Num, 1e-12)
	require.True(t, stats.Z.Valid)
	assert.InDelta(t, 2.0, stats.Z.Num, 1e-9)
	require.True(t, stats.P.Valid)
	assert.InDelta(t, 0.0455, stats.P.Num, 1e-4)
}

func TestGlobalMoran_Undefined(t *testing.T) {
	stats := GlobalMoran(chainValues(2, 2, 2, 2, 2), chainGraph())
	assert.False(t, stats.I.Valid)
	assert.False(t, stats.Z.Valid)
	assert.False(t, stats.P.Valid)
	assert.Equal(t, 5, stats.N)
}

func TestValuesOf(t *testing.T) {
	rows := rowsOf(map[string][]float64{"x": {1, math.NaN(), 3}})
	assert.Equal(t, map[string]float64{"1": 1, "3": 3}, ValuesOf(rows, "x"))
}
