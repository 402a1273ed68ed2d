package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the Prometheus registry of the HTTP server.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.HistogramVec
	engines  *prometheus.HistogramVec
	years    prometheus.GaugeFunc
	memo     prometheus.GaugeFunc
}

// NewMetrics registers the request and engine histograms. cachedYears and
// memoisedYears feed the cache gauges; either may be nil.
func NewMetrics(cachedYears, memoisedYears func() int) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m.requests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kpiatlas",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"route", "method", "status"})
	m.engines = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kpiatlas",
		Name:      "engine_duration_seconds",
		Help:      "Analytics engine run time.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
	}, []string{"engine"})
	m.registry.MustRegister(m.requests, m.engines)

	if cachedYears != nil {
		m.years = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "kpiatlas",
			Name:      "cache_years",
			Help:      "Years held in the snapshot cache.",
		}, func() float64 { return float64(cachedYears()) })
		m.registry.MustRegister(m.years)
	}
	if memoisedYears != nil {
		m.memo = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "kpiatlas",
			Name:      "adjacency_memo_years",
			Help:      "Years with a memoised adjacency graph.",
		}, func() float64 { return float64(memoisedYears()) })
		m.registry.MustRegister(m.memo)
	}
	return m
}

// ObserveEngine records one engine run. It matches atlas.WithObserver.
func (m *Metrics) ObserveEngine(engine string, d time.Duration) {
	m.engines.WithLabelValues(engine).Observe(d.Seconds())
}

func (m *Metrics) observeRequest(route, method string, status int, d time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
