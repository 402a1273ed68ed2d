//go:build !integration

package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/kpi-atlas/internal/export"
)

func resetExportFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		exportOut = "kpi-atlas.xlsx"
		exportFrom, exportTo, exportYear = 0, 0, 0
		exportFeatures, exportPreset, exportX, exportY, exportKPI = "", "", "", "", ""
	})
}

func TestExportCommand_AllSheets(t *testing.T) {
	useConfig(t, testConfig(seedSQLite(t)))
	resetExportFlags(t)
	exportOut = filepath.Join(t.TempDir(), "atlas.xlsx")
	exportYear = 2020
	exportFeatures = "x,y"
	exportX = "x"
	exportY = "y"
	exportKPI = "x"

	_, err := execute(t, exportCmd)
	require.NoError(t, err)

	f, err := xlsx.OpenFile(exportOut)
	require.NoError(t, err)
	for _, name := range []string{export.SheetCorrelations, export.SheetClusters, export.SheetDeviations, export.SheetMoran} {
		assert.Contains(t, f.Sheet, name)
	}
	// header plus the single x/y pair
	assert.Len(t, f.Sheet[export.SheetCorrelations].Rows, 2)
}

func TestExportCommand_CorrelationsOnly(t *testing.T) {
	useConfig(t, testConfig(seedSQLite(t)))
	resetExportFlags(t)
	exportOut = filepath.Join(t.TempDir(), "atlas.xlsx")

	_, err := execute(t, exportCmd)
	require.NoError(t, err)

	f, err := xlsx.OpenFile(exportOut)
	require.NoError(t, err)
	assert.Len(t, f.Sheets, 1)
	assert.Contains(t, f.Sheet, export.SheetCorrelations)
}

func TestExportCommand_RequiresYear(t *testing.T) {
	useConfig(t, testConfig(seedSQLite(t)))
	resetExportFlags(t)
	exportOut = filepath.Join(t.TempDir(), "atlas.xlsx")
	exportFeatures = "x,y"

	_, err := execute(t, exportCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--year is required")
}

func TestExportCommand_UnknownPreset(t *testing.T) {
	useConfig(t, testConfig(seedSQLite(t)))
	resetExportFlags(t)
	exportOut = filepath.Join(t.TempDir(), "atlas.xlsx")
	exportYear = 2020
	exportPreset = "nope"

	_, err := execute(t, exportCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown cluster preset")
}

func TestExportCommand_YearOutsideRange(t *testing.T) {
	useConfig(t, testConfig(seedSQLite(t)))
	resetExportFlags(t)
	exportYear = 2030

	_, err := execute(t, exportCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside 2019-2020")
}
