// Package api exposes the atlas service over HTTP. Handlers are thin: they
// parse query parameters, call the service and map the error taxonomy onto
// status codes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/kpi-atlas/internal/atlas"
	"github.com/sells-group/kpi-atlas/internal/kpi"
	"github.com/sells-group/kpi-atlas/internal/snapshot"
)

// Cache is the part of the snapshot cache the HTTP layer reads or manages
// directly.
type Cache interface {
	Get(year int) (*snapshot.Snapshot, error)
	Ready() bool
	Years() []int
	Reload(ctx context.Context, year int) error
	Series(id string) ([]kpi.Row, error)
	SeriesByName(name string) ([]kpi.Row, error)
}

// Server holds the handler dependencies.
type Server struct {
	svc         *atlas.Service
	cache       Cache
	metrics     *Metrics
	corsOrigins []string
	timeout     time.Duration
	log         *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records request latency and mounts /metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithCORSOrigins sets the allowed CORS origins. The default is "*".
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.corsOrigins = origins
		}
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// New creates a Server.
func New(svc *atlas.Service, cache Cache, opts ...Option) *Server {
	s := &Server{
		svc:         svc,
		cache:       cache,
		corsOrigins: []string{"*"},
		timeout:     60 * time.Second,
		log:         zap.L().With(zap.String("component", "api")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))
	r.Use(accessLog(s.log, s.metrics))
	if s.timeout > 0 {
		r.Use(chimw.Timeout(s.timeout))
	}

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		api.Get("/adjacency", s.adjacency)
		api.Get("/geojson", s.geoJSON)
		api.Get("/kpis", s.kpis)
		api.Get("/kpi-averages", s.averages)
		api.Get("/moran-scores", s.moranScores)
		api.Get("/moran/global", s.globalMoran)
		api.Get("/timeseries", s.timeseriesByName)

		api.Route("/entities/{id}", func(e chi.Router) {
			e.Get("/", s.entity)
			e.Get("/timeseries", s.timeseries)
			e.Get("/neighbors", s.neighbors)
		})

		api.Route("/analyse", func(a chi.Router) {
			a.Get("/correlations", s.correlations)
			a.Get("/cluster-map", s.clusterMap)
			a.Get("/cluster-presets", s.clusterPresets)
			a.Get("/kpi-deviation-map", s.deviationMap)
			a.Get("/regression", s.regression)
			a.Get("/outliers", s.outliers)
		})

		api.Post("/cache/{year}/reload", s.reload)
	})

	return r
}
