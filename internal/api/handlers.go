package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/kpi-atlas/internal/analytics"
	"github.com/sells-group/kpi-atlas/internal/atlas"
	"github.com/sells-group/kpi-atlas/internal/kpi"
)

const defaultOutlierLimit = 10

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ready(w http.ResponseWriter, _ *http.Request) {
	if !s.cache.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "preloading"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "years": s.cache.Years()})
}

func (s *Server) adjacency(w http.ResponseWriter, r *http.Request) {
	year, err := queryInt(r, "year")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.svc.Adjacency(year)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) geoJSON(w http.ResponseWriter, r *http.Request) {
	year, err := queryInt(r, "year")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.cache.Get(year)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := snap.GeoJSON()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(data)
}

func (s *Server) kpis(w http.ResponseWriter, r *http.Request) {
	year, err := queryInt(r, "year")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.cache.Get(year)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Rows())
}

func (s *Server) entity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	year, err := queryInt(r, "year")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.cache.Get(year)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	e, ok := snap.Entity(id)
	if !ok {
		s.writeError(w, r, kpi.Invalidf("unknown entity %q in %d", id, year))
		return
	}
	writeJSON(w, http.StatusOK, e.Row())
}

func (s *Server) timeseries(w http.ResponseWriter, r *http.Request) {
	rows, err := s.cache.Series(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) timeseriesByName(w http.ResponseWriter, r *http.Request) {
	name, err := queryString(r, "name")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.cache.SeriesByName(name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) neighbors(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	year, err := queryInt(r, "year")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ns, err := s.svc.Neighbors(year, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entityId": id, "neighbors": ns})
}

func (s *Server) averages(w http.ResponseWriter, r *http.Request) {
	x, err := queryString(r, "x")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	y, err := queryString(r, "y")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	avgs, err := s.svc.Averages(x, y)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, avgs)
}

func (s *Server) moranScores(w http.ResponseWriter, r *http.Request) {
	year, err := queryInt(r, "year")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	attr, err := queryString(r, "kpi")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	scores, err := s.svc.MoranScores(r.Context(), year, attr, queryList(r, "entities"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scores)
}

func (s *Server) globalMoran(w http.ResponseWriter, r *http.Request) {
	attr, err := queryString(r, "kpi")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	from, to, err := s.yearRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.svc.GlobalMoran(attr, from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// yearRange reads from/to, defaulting each to the first or last loaded year.
func (s *Server) yearRange(r *http.Request) (int, int, error) {
	years := s.cache.Years()
	first, last := 0, 0
	if len(years) > 0 {
		first, last = years[0], years[len(years)-1]
	}
	from, err := queryIntDefault(r, "from", first)
	if err != nil {
		return 0, 0, err
	}
	to, err := queryIntDefault(r, "to", last)
	if err != nil {
		return 0, 0, err
	}
	if from == 0 || to == 0 {
		return 0, 0, kpi.ErrUnavailable
	}
	return from, to, nil
}

// correlationRow carries the label as both "pair", read by the map
// frontend, and "pairLabel".
type correlationRow struct {
	Pair      string  `json:"pair"`
	PairLabel string  `json:"pairLabel"`
	A         string  `json:"a"`
	B         string  `json:"b"`
	R         float64 `json:"r"`
	N         int     `json:"n"`
}

func (s *Server) correlations(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.yearRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cs, err := s.svc.Correlations(from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]correlationRow, len(cs))
	for i, c := range cs {
		out[i] = correlationRow{Pair: c.Pair(), PairLabel: c.Pair(), A: c.A, B: c.B, R: c.R, N: c.N}
	}
	writeJSON(w, http.StatusOK, out)
}

// clusterFeatures resolves the feature list from features=a,b[,c] or
// x=&y=[&z=]. It returns nil when neither is given.
func clusterFeatures(r *http.Request) []string {
	if fs := queryList(r, "features"); len(fs) > 0 {
		return fs
	}
	q := r.URL.Query()
	var fs []string
	for _, k := range []string{"x", "y", "z"} {
		if v := q.Get(k); v != "" {
			fs = append(fs, v)
		}
	}
	return fs
}

func (s *Server) clusterMap(w http.ResponseWriter, r *http.Request) {
	year, err := queryInt(r, "year")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var rows []atlas.ClusterRow
	if preset := r.URL.Query().Get("preset"); preset != "" {
		rows, err = s.svc.ClusterPreset(year, preset)
	} else {
		rows, err = s.svc.Cluster(year, clusterFeatures(r))
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) clusterPresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Presets())
}

type regressionParams struct {
	year int
	x, y string
}

func parseRegression(r *http.Request) (regressionParams, error) {
	var p regressionParams
	var err error
	if p.year, err = queryInt(r, "year"); err != nil {
		return p, err
	}
	if p.x, err = queryString(r, "x"); err != nil {
		return p, err
	}
	p.y, err = queryString(r, "y")
	return p, err
}

func (s *Server) deviationMap(w http.ResponseWriter, r *http.Request) {
	p, err := parseRegression(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_, devs, err := s.svc.Deviations(p.year, p.x, p.y)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, devs)
}

func (s *Server) regression(w http.ResponseWriter, r *http.Request) {
	p, err := parseRegression(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fit, _, err := s.svc.Deviations(p.year, p.x, p.y)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fit)
}

func (s *Server) outliers(w http.ResponseWriter, r *http.Request) {
	p, err := parseRegression(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryIntDefault(r, "limit", defaultOutlierLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if limit < 1 {
		s.writeError(w, r, kpi.Invalidf("limit must be >= 1"))
		return
	}
	devs, err := s.svc.Outliers(p.year, p.x, p.y, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if devs == nil {
		devs = []analytics.Deviation{}
	}
	writeJSON(w, http.StatusOK, devs)
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		s.writeError(w, r, kpi.Invalidf("year must be an integer"))
		return
	}
	if err := s.cache.Reload(r.Context(), year); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("year reloaded", zap.Int("year", year))
	writeJSON(w, http.StatusOK, map[string]any{"year": year, "status": "reloaded"})
}
