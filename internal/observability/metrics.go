package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "warehouse_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the warehouse pipeline.
type Metrics struct {
	RunActive   prometheus.Gauge
	Runs        *prometheus.CounterVec // labels: status
	RunDuration prometheus.Histogram

	// Extraction metrics.
	FetchAttempts *prometheus.CounterVec   // labels: source, outcome={success,error,circuit_open,breaker_busy}
	FetchEntities *prometheus.CounterVec   // labels: source, outcome={fetched,exhausted,rejected,circuit_open,cancelled,land_error}
	FetchDuration *prometheus.HistogramVec // labels: source
	RawRows       *prometheus.CounterVec   // labels: source

	// Transform metrics.
	FactRows         *prometheus.CounterVec // labels: table={weather,revision}
	TransformSkipped *prometheus.CounterVec // labels: entity, reason
	PageChanges      *prometheus.CounterVec // labels: change={inserted,unchanged,retitled}
	ResolverCache    *prometheus.CounterVec // labels: result={hit,miss}

	// Gate and refresh metrics.
	GateResults     *prometheus.CounterVec   // labels: suite, outcome={pass,fail,error}
	RefreshDuration *prometheus.HistogramVec // labels: view, mode={concurrent,plain}
	RefreshErrors   *prometheus.CounterVec   // labels: view
}

func newMetrics() *Metrics {
	return &Metrics{
		RunActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_active",
			Help:      "1 while a pipeline run is in progress, 0 otherwise.",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed pipeline runs by terminal status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a complete pipeline run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Source HTTP fetch attempts by source and outcome.",
		}, []string{"source", "outcome"}),
		FetchEntities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_entities_total",
			Help:      "Entities processed by the extractor by final outcome.",
		}, []string{"source", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of a single source fetch attempt.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		RawRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raw_rows_appended_total",
			Help:      "Rows appended to the raw layer by source.",
		}, []string{"source"}),
		FactRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fact_rows_written_total",
			Help:      "Fact rows upserted or inserted by table.",
		}, []string{"table"}),
		TransformSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_skipped_total",
			Help:      "Entities skipped by the transformer by reason.",
		}, []string{"entity", "reason"}),
		PageChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_dimension_changes_total",
			Help:      "Outcomes of applying page snapshots to the type-2 dimension.",
		}, []string{"change"}),
		ResolverCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_resolver_cache_total",
			Help:      "Location key lookups by cache result.",
		}, []string{"result"}),
		GateResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quality_gate_results_total",
			Help:      "Quality suite evaluations by suite and outcome.",
		}, []string{"suite", "outcome"}),
		RefreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregate_refresh_duration_seconds",
			Help:      "Duration of a materialized view refresh.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"view", "mode"}),
		RefreshErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregate_refresh_errors_total",
			Help:      "Failed materialized view refreshes by view.",
		}, []string{"view"}),
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RunActive,
		m.Runs,
		m.RunDuration,
		m.FetchAttempts,
		m.FetchEntities,
		m.FetchDuration,
		m.RawRows,
		m.FactRows,
		m.TransformSkipped,
		m.PageChanges,
		m.ResolverCache,
		m.GateResults,
		m.RefreshDuration,
		m.RefreshErrors,
	)
	return m
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, so
// tests can build as many as they like without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
