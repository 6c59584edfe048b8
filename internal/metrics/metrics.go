// Package metrics defines the Prometheus instruments of the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the Prometheus metrics for the engine.
type Metrics struct {
	UpdatesTotal        *prometheus.CounterVec
	CapacityExceeded    *prometheus.CounterVec
	CycleDuration       prometheus.Histogram
	CyclesTotal         *prometheus.CounterVec
	RoutesEvaluated     *prometheus.CounterVec
	OptimizerIterations *prometheus.HistogramVec
	Opportunities       *prometheus.CounterVec
	RegistryVenues      prometheus.Gauge
	IndexedRoutes       prometheus.Gauge
	FeedRecords         *prometheus.CounterVec
	PipelineRuns        *prometheus.CounterVec
}

// New creates and registers the engine metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbengine_venue_updates_total",
			Help: "Venue updates processed, labeled by result (applied, stale, rejected).",
		}, []string{"result"}),
		CapacityExceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbengine_capacity_exceeded_total",
			Help: "Inserts refused because a configured cap was reached.",
		}, []string{"cap"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arbengine_cycle_duration_seconds",
			Help:    "Wall time of one dispatch cycle.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbengine_cycles_total",
			Help: "Dispatch cycles, labeled by result (ok, aborted).",
		}, []string{"result"}),
		RoutesEvaluated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbengine_routes_evaluated_total",
			Help: "Routes considered in dispatch cycles, labeled by outcome.",
		}, []string{"outcome"}),
		OptimizerIterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arbengine_optimizer_iterations",
			Help:    "Search iterations per optimized route.",
			Buckets: prometheus.LinearBuckets(0, 10, 21),
		}, []string{"method"}),
		Opportunities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbengine_opportunities_total",
			Help: "Opportunities, labeled by outcome (forwarded, superseded, duplicate, published).",
		}, []string{"outcome"}),
		RegistryVenues: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arbengine_registry_venues",
			Help: "Venues currently tracked by the registry.",
		}),
		IndexedRoutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arbengine_indexed_routes",
			Help: "Routes currently held by the route index.",
		}),
		FeedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbengine_feed_records_total",
			Help: "Raw feed records, labeled by source and result (decoded, malformed).",
		}, []string{"source", "result"}),
		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbengine_pipeline_runs_total",
			Help: "Background pipeline runs, labeled by job (checkpoint, restore, archive) and result.",
		}, []string{"job", "result"}),
	}
	reg.MustRegister(
		m.UpdatesTotal,
		m.CapacityExceeded,
		m.CycleDuration,
		m.CyclesTotal,
		m.RoutesEvaluated,
		m.OptimizerIterations,
		m.Opportunities,
		m.RegistryVenues,
		m.IndexedRoutes,
		m.FeedRecords,
		m.PipelineRuns,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
