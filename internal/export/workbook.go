// Package export writes analysis results to XLSX workbooks.
package export

import (
	"io"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/kpi-atlas/internal/analytics"
	"github.com/sells-group/kpi-atlas/internal/atlas"
	"github.com/sells-group/kpi-atlas/internal/kpi"
)

// Sheet names.
const (
	SheetCorrelations = "Correlations"
	SheetClusters     = "Clusters"
	SheetDeviations   = "Deviations"
	SheetMoran        = "Moran"
)

// Workbook collects result sheets before saving.
type Workbook struct {
	file *xlsx.File
}

// NewWorkbook creates an empty workbook.
func NewWorkbook() *Workbook {
	return &Workbook{file: xlsx.NewFile()}
}

func (w *Workbook) sheet(name string, header ...string) (*xlsx.Sheet, error) {
	sheet, err := w.file.AddSheet(name)
	if err != nil {
		return nil, eris.Wrapf(err, "export: add sheet %s", name)
	}
	row := sheet.AddRow()
	for _, h := range header {
		row.AddCell().SetString(h)
	}
	return sheet, nil
}

// setValue writes v, leaving the cell blank when v is null.
func setValue(cell *xlsx.Cell, v kpi.Value) {
	if f, ok := v.Float(); ok {
		cell.SetFloat(f)
	}
}

// AddCorrelations writes one row per attribute pair.
func (w *Workbook) AddCorrelations(cs []analytics.Correlation) error {
	sheet, err := w.sheet(SheetCorrelations, "pair", "a", "b", "r", "n")
	if err != nil {
		return err
	}
	for _, c := range cs {
		row := sheet.AddRow()
		row.AddCell().SetString(c.Pair())
		row.AddCell().SetString(c.A)
		row.AddCell().SetString(c.B)
		row.AddCell().SetFloat(c.R)
		row.AddCell().SetInt(c.N)
	}
	return nil
}

// AddClusters writes cluster labels with one column per feature, in the
// order features were given.
func (w *Workbook) AddClusters(year int, features []string, rows []atlas.ClusterRow) error {
	header := append([]string{"year", "id", "name"}, features...)
	header = append(header, "cluster")
	sheet, err := w.sheet(SheetClusters, header...)
	if err != nil {
		return err
	}
	for _, r := range rows {
		row := sheet.AddRow()
		row.AddCell().SetInt(year)
		row.AddCell().SetString(r.ID)
		row.AddCell().SetString(r.Name)
		for _, f := range features {
			row.AddCell().SetFloat(r.Features[f])
		}
		row.AddCell().SetInt(r.Cluster)
	}
	return nil
}

// AddDeviations writes the fitted line followed by every residual.
func (w *Workbook) AddDeviations(year int, x, y string, fit analytics.Fit, devs []analytics.Deviation) error {
	sheet, err := w.sheet(SheetDeviations, "year", "x", "y", "slope", "intercept", "n")
	if err != nil {
		return err
	}
	row := sheet.AddRow()
	row.AddCell().SetInt(year)
	row.AddCell().SetString(x)
	row.AddCell().SetString(y)
	row.AddCell().SetFloat(fit.Slope)
	row.AddCell().SetFloat(fit.Intercept)
	row.AddCell().SetInt(fit.N)

	header := sheet.AddRow()
	for _, h := range []string{"entityId", x, y, "predicted", "deviation"} {
		header.AddCell().SetString(h)
	}
	for _, d := range devs {
		row := sheet.AddRow()
		row.AddCell().SetString(d.ID)
		row.AddCell().SetFloat(d.X)
		row.AddCell().SetFloat(d.Y)
		row.AddCell().SetFloat(d.Predicted)
		row.AddCell().SetFloat(d.Deviation)
	}
	return nil
}

// AddMoran writes the global Moran series, ordered by year.
func (w *Workbook) AddMoran(rows []atlas.GlobalMoranRow) error {
	sheet, err := w.sheet(SheetMoran, "Year", "KPI", "Moran_I", "expected", "z", "p_value", "n")
	if err != nil {
		return err
	}
	sorted := append([]atlas.GlobalMoranRow(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Year < sorted[j].Year })
	for _, m := range sorted {
		row := sheet.AddRow()
		row.AddCell().SetInt(m.Year)
		row.AddCell().SetString(m.Attribute)
		setValue(row.AddCell(), m.I)
		row.AddCell().SetFloat(m.Expected)
		setValue(row.AddCell(), m.Z)
		setValue(row.AddCell(), m.P)
		row.AddCell().SetInt(m.N)
	}
	return nil
}

// Sheets returns the sheet names in insertion order.
func (w *Workbook) Sheets() []string {
	names := make([]string, len(w.file.Sheets))
	for i, s := range w.file.Sheets {
		names[i] = s.Name
	}
	return names
}

// Save writes the workbook to path.
func (w *Workbook) Save(path string) error {
	if len(w.file.Sheets) == 0 {
		return eris.New("export: workbook has no sheets")
	}
	return eris.Wrapf(w.file.Save(path), "export: save %s", path)
}

// Write streams the workbook to out.
func (w *Workbook) Write(out io.Writer) error {
	if len(w.file.Sheets) == 0 {
		return eris.New("export: workbook has no sheets")
	}
	return eris.Wrap(w.file.Write(out), "export: write workbook")
}
