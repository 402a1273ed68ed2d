// Package atlas joins the snapshot cache, the adjacency builder and the
// analytics engines into the operations served over HTTP and the CLI.
package atlas

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/kpi-atlas/internal/analytics"
	"github.com/sells-group/kpi-atlas/internal/kpi"
	"github.com/sells-group/kpi-atlas/internal/snapshot"
	"github.com/sells-group/kpi-atlas/internal/spatial"
)

// Snapshots is the read side of the snapshot cache.
type Snapshots interface {
	Get(year int) (*snapshot.Snapshot, error)
	Range(from, to int) ([]*snapshot.Snapshot, error)
	All() ([]*snapshot.Snapshot, error)
}

// Service runs analyses over cached snapshots.
type Service struct {
	snaps      Snapshots
	memo       *spatial.Memo
	scores     snapshot.ScoreReader
	presets    []analytics.Preset
	tolerance  float64
	k          int
	iterations int
	observe    func(engine string, d time.Duration)
	log        *zap.Logger

	// stale holds reloaded years, each with the attributes persisted again
	// since the reload.
	mu    sync.Mutex
	stale map[int]map[string]struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithMemo memoises adjacency graphs per year.
func WithMemo(m *spatial.Memo) Option {
	return func(s *Service) { s.memo = m }
}

// WithScoreReader serves stored Moran scores when they exist.
func WithScoreReader(r snapshot.ScoreReader) Option {
	return func(s *Service) { s.scores = r }
}

// WithPresets sets the named cluster feature combinations.
func WithPresets(p []analytics.Preset) Option {
	return func(s *Service) { s.presets = p }
}

// WithTolerance sets the adjacency touch tolerance.
func WithTolerance(tol float64) Option {
	return func(s *Service) { s.tolerance = tol }
}

// WithClusterParams sets k and the iteration count of the cluster engine.
func WithClusterParams(k, iterations int) Option {
	return func(s *Service) {
		if k > 0 {
			s.k = k
		}
		if iterations > 0 {
			s.iterations = iterations
		}
	}
}

// WithObserver receives the duration of every engine run.
func WithObserver(fn func(engine string, d time.Duration)) Option {
	return func(s *Service) { s.observe = fn }
}

// New creates a Service over snaps.
func New(snaps Snapshots, opts ...Option) *Service {
	s := &Service{
		snaps:      snaps,
		presets:    analytics.DefaultPresets(),
		tolerance:  spatial.DefaultTolerance,
		k:          analytics.DefaultK,
		iterations: analytics.DefaultIterations,
		log:        zap.L().With(zap.String("component", "atlas")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) timed(engine string) func() {
	start := time.Now()
	return func() {
		d := time.Since(start)
		if s.observe != nil {
			s.observe(engine, d)
		}
		s.log.Debug("engine run", zap.String("engine", engine), zap.Duration("elapsed", d))
	}
}

func requireAttr(snap *snapshot.Snapshot, attrs ...string) error {
	for _, a := range attrs {
		if a == "" {
			return kpi.Invalidf("attribute name is required")
		}
		if !snap.HasAttribute(a) {
			return kpi.Invalidf("unknown attribute %q in %d", a, snap.Year)
		}
	}
	return nil
}

// Adjacency returns the contiguity graph of year.
func (s *Service) Adjacency(year int) (spatial.Graph, error) {
	snap, err := s.snaps.Get(year)
	if err != nil {
		return nil, err
	}
	build := func() spatial.Graph {
		defer s.timed("adjacency")()
		return spatial.BuildAdjacency(snap.Entities, spatial.WithTolerance(s.tolerance))
	}
	if s.memo == nil {
		return build(), nil
	}
	return s.memo.Get(year, build), nil
}

// Neighbors returns the ids touching entity id in year.
func (s *Service) Neighbors(year int, id string) ([]string, error) {
	g, err := s.Adjacency(year)
	if err != nil {
		return nil, err
	}
	if _, ok := g[id]; !ok {
		return nil, kpi.Invalidf("unknown entity %q in %d", id, year)
	}
	return g.Neighbors(id), nil
}

// Correlations ranks attribute pairs over every loaded year in from..to.
func (s *Service) Correlations(from, to int) ([]analytics.Correlation, error) {
	snaps, err := s.snaps.Range(from, to)
	if err != nil {
		return nil, err
	}
	var rows []kpi.Row
	for _, snap := range snaps {
		rows = append(rows, snap.Rows()...)
	}
	defer s.timed("correlation")()
	return analytics.Correlate(rows), nil
}

// ClusterRow is one clustered entity with its named feature values.
type ClusterRow struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Features map[string]float64 `json:"features"`
	Cluster  int                `json:"cluster"`
}

// Cluster groups the entities of year over 2 or 3 features.
func (s *Service) Cluster(year int, features []string) ([]ClusterRow, error) {
	if err := analytics.ValidateFeatures(features); err != nil {
		return nil, err
	}
	snap, err := s.snaps.Get(year)
	if err != nil {
		return nil, err
	}
	if err := requireAttr(snap, features...); err != nil {
		return nil, err
	}

	done := s.timed("cluster")
	as := analytics.Cluster(snap.Rows(), features, analytics.WithK(s.k), analytics.WithIterations(s.iterations))
	done()

	out := make([]ClusterRow, len(as))
	for i, a := range as {
		fs := make(map[string]float64, len(features))
		for j, f := range features {
			fs[f] = a.Features[j]
		}
		out[i] = ClusterRow{ID: a.ID, Name: a.Name, Features: fs, Cluster: a.Cluster}
	}
	return out, nil
}

// Presets lists the named cluster feature combinations.
func (s *Service) Presets() []analytics.Preset {
	return s.presets
}

// ClusterPreset runs Cluster with the features of preset key.
func (s *Service) ClusterPreset(year int, key string) ([]ClusterRow, error) {
	p, ok := analytics.FindPreset(s.presets, key)
	if !ok {
		return nil, kpi.Invalidf("unknown cluster preset %q", key)
	}
	return s.Cluster(year, p.Features)
}

// MoranScores returns the neighbourhood Moran's I of attr in year for ids,
// in request order, or for every entity ordered by id when ids is empty.
// Stored scores are used when a score reader is configured and the year has
// not been reloaded since; entities without a stored row are computed from
// the adjacency graph.
func (s *Service) MoranScores(ctx context.Context, year int, attr string, ids []string) ([]analytics.MoranScore, error) {
	snap, err := s.snaps.Get(year)
	if err != nil {
		return nil, err
	}
	if err := requireAttr(snap, attr); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := snap.Entity(id); !ok {
			return nil, kpi.Invalidf("unknown entity %q in %d", id, year)
		}
	}

	if s.scores == nil || s.scoresStale(year, attr) {
		return s.liveScores(snap, attr, ids)
	}
	stored, err := s.scores.Scores(ctx, year, attr, ids)
	if err != nil {
		s.log.Warn("stored moran scores unavailable, computing live",
			zap.Int("year", year), zap.String("attribute", attr), zap.Error(err))
		return s.liveScores(snap, attr, ids)
	}
	if len(stored) == 0 {
		return s.liveScores(snap, attr, ids)
	}

	byID := make(map[string]kpi.Value, len(stored))
	for _, sc := range stored {
		byID[sc.EntityID] = sc.MoranI
	}
	want := ids
	if len(want) == 0 {
		want = entityIDs(snap)
	}
	var missing []string
	for _, id := range want {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		live, err := s.liveScores(snap, attr, missing)
		if err != nil {
			return nil, err
		}
		for _, sc := range live {
			byID[sc.EntityID] = sc.MoranI
		}
		s.log.Debug("stored moran scores incomplete, filled live",
			zap.Int("year", year), zap.String("attribute", attr), zap.Int("missing", len(missing)))
	}

	out := make([]analytics.MoranScore, len(want))
	for i, id := range want {
		out[i] = analytics.MoranScore{EntityID: id, MoranI: byID[id]}
	}
	return out, nil
}

// entityIDs lists the ids of snap sorted ascending.
func entityIDs(snap *snapshot.Snapshot) []string {
	ids := make([]string, len(snap.Entities))
	for i, e := range snap.Entities {
		ids[i] = e.ID
	}
	sort.Strings(ids)
	return ids
}

// InvalidateScores stops serving stored scores of year until they are
// persisted again. It is registered as a snapshot cache invalidation hook.
func (s *Service) InvalidateScores(year int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale == nil {
		s.stale = make(map[int]map[string]struct{})
	}
	s.stale[year] = make(map[string]struct{})
}

func (s *Service) scoresStale(year int, attr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh, ok := s.stale[year]
	if !ok {
		return false
	}
	_, persisted := fresh[attr]
	return !persisted
}

func (s *Service) markPersisted(year int, attr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fresh, ok := s.stale[year]; ok {
		fresh[attr] = struct{}{}
	}
}

func (s *Service) liveScores(snap *snapshot.Snapshot, attr string, ids []string) ([]analytics.MoranScore, error) {
	g, err := s.Adjacency(snap.Year)
	if err != nil {
		return nil, err
	}
	defer s.timed("moran_local")()
	return analytics.LocalScores(analytics.ValuesOf(snap.Rows(), attr), g, ids), nil
}

// PersistMoranScores computes the neighbourhood Moran's I of attr for every
// entity of year and writes them to w, ignoring any stored scores.
func (s *Service) PersistMoranScores(ctx context.Context, year int, attr string, w snapshot.ScoreWriter) (int64, error) {
	snap, err := s.snaps.Get(year)
	if err != nil {
		return 0, err
	}
	if err := requireAttr(snap, attr); err != nil {
		return 0, err
	}
	scores, err := s.liveScores(snap, attr, nil)
	if err != nil {
		return 0, err
	}
	n, err := w.WriteScores(ctx, year, attr, scores)
	if err != nil {
		return 0, eris.Wrapf(err, "atlas: persist moran scores %d/%s", year, attr)
	}
	s.markPersisted(year, attr)
	s.log.Info("moran scores persisted", zap.Int("year", year), zap.String("attribute", attr), zap.Int64("rows", n))
	return n, nil
}

// GlobalMoranRow is the global Moran's I of one year.
type GlobalMoranRow struct {
	Year      int    `json:"year"`
	Attribute string `json:"kpi"`
	analytics.MoranStats
}

// GlobalMoran computes the global Moran's I of attr for every loaded year
// in from..to. Years lacking the attribute are skipped.
func (s *Service) GlobalMoran(attr string, from, to int) ([]GlobalMoranRow, error) {
	if attr == "" {
		return nil, kpi.Invalidf("attribute name is required")
	}
	snaps, err := s.snaps.Range(from, to)
	if err != nil {
		return nil, err
	}
	out := []GlobalMoranRow{}
	for _, snap := range snaps {
		if !snap.HasAttribute(attr) {
			continue
		}
		g, err := s.Adjacency(snap.Year)
		if err != nil {
			return nil, err
		}
		done := s.timed("moran_global")
		stats := analytics.GlobalMoran(analytics.ValuesOf(snap.Rows(), attr), g)
		done()
		out = append(out, GlobalMoranRow{Year: snap.Year, Attribute: attr, MoranStats: stats})
	}
	if len(out) == 0 {
		return nil, kpi.Invalidf("unknown attribute %q in %d-%d", attr, from, to)
	}
	return out, nil
}

// Deviations fits y on x over year and returns every entity's residual.
func (s *Service) Deviations(year int, x, y string) (analytics.Fit, []analytics.Deviation, error) {
	snap, err := s.snaps.Get(year)
	if err != nil {
		return analytics.Fit{}, nil, err
	}
	if err := requireAttr(snap, x, y); err != nil {
		return analytics.Fit{}, nil, err
	}
	defer s.timed("regression")()
	fit, devs, err := analytics.Deviations(analytics.PointsOf(snap.Rows(), x, y))
	if err != nil {
		return fit, nil, eris.Wrapf(err, "atlas: %s on %s in %d", y, x, year)
	}
	return fit, devs, nil
}

// Outliers returns the limit entities deviating most from the fit.
func (s *Service) Outliers(year int, x, y string, limit int) ([]analytics.Deviation, error) {
	_, devs, err := s.Deviations(year, x, y)
	if err != nil {
		return nil, err
	}
	return analytics.Outliers(devs, limit), nil
}

// Averages returns the yearly means of x and y over every loaded year.
func (s *Service) Averages(x, y string) ([]analytics.YearAverage, error) {
	if x == "" || y == "" {
		return nil, kpi.Invalidf("attributes x and y are required")
	}
	snaps, err := s.snaps.All()
	if err != nil {
		return nil, err
	}
	byYear := make(map[int][]kpi.Row, len(snaps))
	for _, snap := range snaps {
		byYear[snap.Year] = snap.Rows()
	}
	return analytics.YearlyAverages(byYear, x, y), nil
}
