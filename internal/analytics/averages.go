package analytics

import (
	"sort"

	"github.com/sells-group/kpi-atlas/internal/kpi"
)

// YearAverage is the mean of two attributes over one year's valid values.
type YearAverage struct {
	Year int       `json:"year"`
	X    kpi.Value `json:"x_avg"`
	Y    kpi.Value `json:"y_avg"`
}

// YearlyAverages averages x and y independently per year, each over the
// rows where that attribute is defined. Years are returned ascending.
func YearlyAverages(byYear map[int][]kpi.Row, x, y string) []YearAverage {
	years := make([]int, 0, len(byYear))
	for year := range byYear {
		years = append(years, year)
	}
	sort.Ints(years)

	out := make([]YearAverage, 0, len(years))
	for _, year := range years {
		rows := byYear[year]
		out = append(out, YearAverage{
			Year: year,
			X:    averageOf(rows, x),
			Y:    averageOf(rows, y),
		})
	}
	return out
}

func averageOf(rows []kpi.Row, attr string) kpi.Value {
	var sum float64
	var n int
	for _, row := range rows {
		if v, ok := row.Attributes.Get(attr); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return kpi.Null
	}
	return kpi.Num(sum / float64(n))
}
