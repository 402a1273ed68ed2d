package analytics

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/kpi-atlas/internal/kpi"
)

// Point is one entity's (x, y) observation.
type Point struct {
	ID string
	X  float64
	Y  float64
}

// Fit is an ordinary least squares line y = Slope*x + Intercept.
type Fit struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	N         int     `json:"n"`
}

// Predict evaluates the line at x.
func (f Fit) Predict(x float64) float64 {
	return f.Slope*x + f.Intercept
}

// Deviation is an entity's residual against the fitted line.
type Deviation struct {
	ID        string  `json:"entityId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Predicted float64 `json:"predicted"`
	Deviation float64 `json:"deviation"`
}

// PointsOf pairs the defined values of x and y per row, in row order.
func PointsOf(rows []kpi.Row, x, y string) []Point {
	out := make([]Point, 0, len(rows))
	for _, row := range rows {
		xv, okX := row.Attributes.Get(x)
		yv, okY := row.Attributes.Get(y)
		if okX && okY {
			out = append(out, Point{ID: row.EntityID, X: xv, Y: yv})
		}
	}
	return out
}

// Deviations fits OLS over points and returns each point's residual
// y - (slope*x + intercept) in input order. Fewer than two points yield an
// empty result without error; zero variance in x yields ErrDegenerateInput.
func Deviations(points []Point) (Fit, []Deviation, error) {
	if len(points) < 2 {
		return Fit{N: len(points)}, []Deviation{}, nil
	}

	var sx, sy float64
	for _, p := range points {
		sx += p.X
		sy += p.Y
	}
	n := float64(len(points))
	mx, my := sx/n, sy/n

	var sxy, sxx float64
	for _, p := range points {
		dx := p.X - mx
		sxy += dx * (p.Y - my)
		sxx += dx * dx
	}
	if sxx == 0 {
		return Fit{N: len(points)}, nil, eris.Wrap(kpi.ErrDegenerateInput, "analytics: regression: no variance in x")
	}

	fit := Fit{Slope: sxy / sxx, N: len(points)}
	fit.Intercept = my - fit.Slope*mx

	out := make([]Deviation, len(points))
	for i, p := range points {
		pred := fit.Predict(p.X)
		out[i] = Deviation{ID: p.ID, X: p.X, Y: p.Y, Predicted: pred, Deviation: p.Y - pred}
	}
	return fit, out, nil
}

// Outliers returns up to limit deviations with the largest absolute
// residual, largest first. A non-positive limit returns all of them.
func Outliers(devs []Deviation, limit int) []Deviation {
	out := append([]Deviation(nil), devs...)
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Deviation) > math.Abs(out[j].Deviation)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
