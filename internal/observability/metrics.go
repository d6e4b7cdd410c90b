// Package observability holds the Prometheus instrumentation for the search
// engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters and histograms for searches and schema
// resolution. It implements schema.Recorder.
type Metrics struct {
	SearchesTotal  *prometheus.CounterVec // labels: kind={nearby,area}, outcome={ok,error,degraded}
	SearchDuration prometheus.Histogram
	RowsDropped    prometheus.Counter

	SchemaCacheLookups *prometheus.CounterVec // labels: result={hit,miss}
	SchemaResolutions  *prometheus.CounterVec // labels: result={ok,failed}
}

// NewMetrics creates and registers all engine metrics. Pass nil to use the
// default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		SearchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shelter_search",
			Name:      "searches_total",
			Help:      "Total search requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "shelter_search",
			Name:      "search_duration_seconds",
			Help:      "End-to-end duration of a search request.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		RowsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shelter_search",
			Name:      "rows_dropped_total",
			Help:      "Rows dropped during normalization or the distance re-check.",
		}),
		SchemaCacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shelter_search",
			Name:      "schema_cache_lookups_total",
			Help:      "Schema cache lookups by result.",
		}, []string{"result"}),
		SchemaResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shelter_search",
			Name:      "schema_resolutions_total",
			Help:      "Catalog resolution attempts by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.SearchesTotal,
		m.SearchDuration,
		m.RowsDropped,
		m.SchemaCacheLookups,
		m.SchemaResolutions,
	)
	return m
}

// SchemaCacheHit implements schema.Recorder.
func (m *Metrics) SchemaCacheHit() {
	m.SchemaCacheLookups.WithLabelValues("hit").Inc()
}

// SchemaCacheMiss implements schema.Recorder.
func (m *Metrics) SchemaCacheMiss() {
	m.SchemaCacheLookups.WithLabelValues("miss").Inc()
}

// SchemaResolved implements schema.Recorder.
func (m *Metrics) SchemaResolved(ok bool) {
	if ok {
		m.SchemaResolutions.WithLabelValues("ok").Inc()
	} else {
		m.SchemaResolutions.WithLabelValues("failed").Inc()
	}
}
