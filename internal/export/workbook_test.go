package export

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/kpi-atlas/internal/analytics"
	"github.com/sells-group/kpi-atlas/internal/atlas"
	"github.com/sells-group/kpi-atlas/internal/kpi"
)

func cellString(t *testing.T, sheet *xlsx.Sheet, row, col int) string {
	t.Helper()
	require.Greater(t, len(sheet.Rows), row)
	require.Greater(t, len(sheet.Rows[row].Cells), col)
	return sheet.Rows[row].Cells[col].String()
}

func cellFloat(t *testing.T, sheet *xlsx.Sheet, row, col int) float64 {
	t.Helper()
	require.Greater(t, len(sheet.Rows), row)
	f, err := sheet.Rows[row].Cells[col].Float()
	require.NoError(t, err)
	return f
}

func TestWorkbook_SaveAndReopen(t *testing.T) {
	wb := NewWorkbook()
	require.NoError(t, wb.AddCorrelations([]analytics.Correlation{
		{A: "x", B: "y", R: 0.75, N: 12},
	}))
	require.NoError(t, wb.AddClusters(2020, []string{"x", "y"}, []atlas.ClusterRow{
		{ID: "1", Name: "Aarau", Features: map[string]float64{"x": 1.5, "y": 2}, Cluster: 2},
	}))
	require.NoError(t, wb.AddDeviations(2020, "x", "y",
		analytics.Fit{Slope: 2, Intercept: 1, N: 1},
		[]analytics.Deviation{{ID: "1", X: 1, Y: 4, Predicted: 3, Deviation: 1}}))
	require.NoError(t, wb.AddMoran([]atlas.GlobalMoranRow{
		{Year: 2021, Attribute: "x", MoranStats: analytics.MoranStats{I: kpi.Num(0.3), N: 5}},
		{Year: 2020, Attribute: "x", MoranStats: analytics.MoranStats{I: kpi.Num(0.5), N: 5}},
	}))
	assert.Equal(t, []string{SheetCorrelations, SheetClusters, SheetDeviations, SheetMoran}, wb.Sheets())

	path := filepath.Join(t.TempDir(), "atlas.xlsx")
	require.NoError(t, wb.Save(path))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)

	corr := f.Sheet[SheetCorrelations]
	require.NotNil(t, corr)
	assert.Equal(t, "pair", cellString(t, corr, 0, 0))
	assert.Equal(t, "x vs y", cellString(t, corr, 1, 0))
	assert.InDelta(t, 0.75, cellFloat(t, corr, 1, 3), 1e-12)

	clusters := f.Sheet[SheetClusters]
	require.NotNil(t, clusters)
	assert.Equal(t, "x", cellString(t, clusters, 0, 3))
	assert.Equal(t, "Aarau", cellString(t, clusters, 1, 2))
	assert.InDelta(t, 1.5, cellFloat(t, clusters, 1, 3), 1e-12)
	assert.InDelta(t, 2.0, cellFloat(t, clusters, 1, 5), 1e-12)

	devs := f.Sheet[SheetDeviations]
	require.NotNil(t, devs)
	assert.InDelta(t, 2.0, cellFloat(t, devs, 1, 3), 1e-12)
	assert.Equal(t, "entityId", cellString(t, devs, 2, 0))
	assert.InDelta(t, 1.0, cellFloat(t, devs, 3, 4), 1e-12)

	moran := f.Sheet[SheetMoran]
	require.NotNil(t, moran)
	assert.Equal(t, 2020.0, cellFloat(t, moran, 1, 0), "sorted by year")
	assert.InDelta(t, 0.5, cellFloat(t, moran, 1, 2), 1e-12)
}

func TestWorkbook_Write(t *testing.T) {
	wb := NewWorkbook()
	require.NoError(t, wb.AddCorrelations(nil))

	var buf bytes.Buffer
	require.NoError(t, wb.Write(&buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("PK")), "xlsx is a zip archive")
}

func TestWorkbook_Empty(t *testing.T) {
	wb := NewWorkbook()
	assert.Error(t, wb.Save(filepath.Join(t.TempDir(), "empty.xlsx")))
	assert.Error(t, wb.Write(&bytes.Buffer{}))
}

func TestWorkbook_DuplicateSheet(t *testing.T) {
	wb := NewWorkbook()
	require.NoError(t, wb.AddCorrelations(nil))
	assert.Error(t, wb.AddCorrelations(nil))
}

func TestSetValue_NullLeavesBlank(t *testing.T) {
	sheet, err := xlsx.NewFile().AddSheet("s")
	require.NoError(t, err)
	row := sheet.AddRow()

	blank := row.AddCell()
	setValue(blank, kpi.Null)
	assert.Equal(t, "", blank.Value)

	num := row.AddCell()
	setValue(num, kpi.Num(1.25))
	f, err := num.Float()
	require.NoError(t, err)
	assert.InDelta(t, 1.25, f, 1e-12)
}
