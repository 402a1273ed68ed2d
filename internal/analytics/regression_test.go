package analytics

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/kpi-atlas/internal/kpi"
)

func TestDeviations_PerfectLine(t *testing.T) {
	var pts []Point
	for x := -3.0; x <= 6; x++ {
		pts = append(pts, Point{ID: "p", X: x, Y: 2*x + 1})
	}
	fit, devs, err := Deviations(pts)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, fit.Slope, 1e-12)
	assert.InDelta(t, 1.0, fit.Intercept, 1e-12)
	assert.Equal(t, len(pts), fit.N)
	for _, d := range devs {
		assert.InDelta(t, 0.0, d.Deviation, 1e-9)
	}
}

func TestDeviations_ScenarioB(t *testing.T) {
	rows := rowsOf(map[string][]float64{
		"x": {1, 2, 3, 4, 5},
		"y": {2, 4, 6, 8, 10},
	})
	fit, devs, err := Deviations(PointsOf(rows, "x", "y"))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, fit.Slope, 1e-12)
	assert.InDelta(t, 0.0, fit.Intercept, 1e-12)
	require.Len(t, devs, 5)
	for i, d := range devs {
		assert.Equal(t, rows[i].EntityID, d.ID, "input order is kept")
		assert.InDelta(t, 0.0, d.Deviation, 1e-12)
	}
}

func TestDeviations_Residuals(t *testing.T) {
	pts := []Point{{"a", 0, 0}, {"b", 1, 3}, {"c", 2, 2}, {"d", 3, 5}}
	fit, devs, err := Deviations(pts)
	require.NoError(t, err)

	// mean x 1.5, mean y 2.5; sxy = 7, sxx = 5.
	assert.InDelta(t, 1.4, fit.Slope, 1e-12)
	assert.InDelta(t, 0.4, fit.Intercept, 1e-12)

	var sum float64
	for i, d := range devs {
		assert.Equal(t, pts[i].ID, d.ID)
		assert.InDelta(t, d.Y-d.Predicted, d.Deviation, 1e-12)
		sum += d.Deviation
	}
	assert.InDelta(t, 0.0, sum, 1e-9)
	assert.Greater(t, devs[1].Deviation, 0.0)
}

func TestDeviations_TooFewPoints(t *testing.T) {
	fit, devs, err := Deviations([]Point{{"a", 1, 2}})
	require.NoError(t, err)
	assert.NotNil(t, devs)
	assert.Empty(t, devs)
	assert.Equal(t, 1, fit.N)

	_, devs, err = Deviations(nil)
	require.NoError(t, err)
	assert.Empty(t, devs)
}

func TestDeviations_NoXVariance(t *testing.T) {
	_, devs, err := Deviations([]Point{{"a", 3, 1}, {"b", 3, 2}, {"c", 3, 9}})
	require.Error(t, err)
	assert.True(t, eris.Is(err, kpi.ErrDegenerateInput))
	assert.Nil(t, devs)
}

func TestPointsOf_SkipsIncomplete(t *testing.T) {
	rows := rowsOf(map[string][]float64{
		"x": {1, math.NaN(), 3},
		"y": {1, 2, math.NaN()},
	})
	pts := PointsOf(rows, "x", "y")
	require.Len(t, pts, 1)
	assert.Equal(t, "1", pts[0].ID)
}

func TestOutliers(t *testing.T) {
	devs := []Deviation{
		{ID: "a", Deviation: 1},
		{ID: "b", Deviation: -5},
		{ID: "c", Deviation: 3},
		{ID: "d", Deviation: 0},
	}
	top := Outliers(devs, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "b", top[0].ID)
	assert.Equal(t, "c", top[1].ID)
	assert.Equal(t, "a", devs[0].ID, "input is not reordered")
	assert.Len(t, Outliers(devs, 0), 4)
}

func TestYearlyAverages(t *testing.T) {
	byYear := map[int][]kpi.Row{
		2021: rowsOf(map[string][]float64{"x": {2, 4}, "y": {math.NaN(), math.NaN()}}),
		2020: rowsOf(map[string][]float64{"x": {1, math.NaN(), 3}, "y": {10, 20, 30}}),
	}
	avgs := YearlyAverages(byYear, "x", "y")
	require.Len(t, avgs, 2)
	assert.Equal(t, 2020, avgs[0].Year)
	assert.Equal(t, kpi.Num(2), avgs[0].X)
	assert.Equal(t, kpi.Num(20), avgs[0].Y)
	assert.Equal(t, kpi.Num(3), avgs[1].X)
	assert.Equal(t, kpi.Null, avgs[1].Y)
}

func TestLoadPresets(t *testing.T) {
	presets, err := LoadPresets("")
	require.NoError(t, err)
	assert.Len(t, presets, 3)
	p, ok := FindPreset(presets, "steuerfuss-vs-jus")
	require.True(t, ok)
	assert.Equal(t, []string{"Steuerfuss", "Steuerfuss JusPers"}, p.Features)

	dir := t.TempDir()
	path := filepath.Join(dir, "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
presets:
  - key: tax
    label: Tax
    features: [Steuerfuss, Steuerkraft pro Kopf, Anzahl Beschäftigte]
`), 0o644))
	presets, err = LoadPresets(path)
	require.NoError(t, err)
	require.Len(t, presets, 1)
	assert.Len(t, presets[0].Features, 3)
	_, ok = FindPreset(presets, "jur-vs-nat")
	assert.False(t, ok)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("presets:\n  - key: one\n    features: [a]\n"), 0o644))
	_, err = LoadPresets(bad)
	require.Error(t, err)
	assert.True(t, eris.Is(err, kpi.ErrInvalidParameter))

	_, err = LoadPresets(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
