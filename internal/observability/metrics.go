package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "humanitarian_etl"

// Metrics holds the Prometheus collectors for the ingestion pipeline.
type Metrics struct {
	PipelineRunning prometheus.Gauge
	RunDuration     prometheus.Histogram
	UnitsTotal      *prometheus.CounterVec // labels: source, outcome={ok,failed,skipped}

	// Per (source, variable) record accounting.
	RecordsProcessed  *prometheus.CounterVec // labels: source, variable
	RecordsSkipped    *prometheus.CounterVec // labels: source, variable
	RecordErrors      *prometheus.CounterVec // labels: source, variable
	ObservationsSaved *prometheus.CounterVec // labels: source

	// Provider HTTP calls.
	RetrieveRequests    *prometheus.CounterVec   // labels: source, outcome={success,rate_limited,authentication_failed,circuit_open,failed}
	RetrieveDuration    *prometheus.HistogramVec // labels: source
	CircuitBreakerState *prometheus.GaugeVec     // labels: source; 0 closed, 1 half-open, 2 open

	// Location resolution.
	LocationMatches *prometheus.CounterVec // labels: source, strategy
	MatchCache      *prometheus.CounterVec // labels: result={hit,miss}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics so tests can build as many
// as they like without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a pipeline run is in progress.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete pipeline run across all sources.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		UnitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_total",
			Help:      "Retrieve/process units by source and outcome.",
		}, []string{"source", "outcome"}),
		RecordsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_processed_total",
			Help:      "Observations produced from provider records.",
		}, []string{"source", "variable"}),
		RecordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Provider records filtered out or left unmatched.",
		}, []string{"source", "variable"}),
		RecordErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_errors_total",
			Help:      "Malformed provider records.",
		}, []string{"source", "variable"}),
		ObservationsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_saved_total",
			Help:      "Observations upserted into the store.",
		}, []string{"source"}),
		RetrieveRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieve_requests_total",
			Help:      "Provider HTTP requests by outcome.",
		}, []string{"source", "outcome"}),
		RetrieveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieve_duration_seconds",
			Help:      "Provider HTTP request duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Provider circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}, []string{"source"}),
		LocationMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_matches_total",
			Help:      "Location resolutions by source and matching strategy.",
		}, []string{"source", "strategy"}),
		MatchCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_cache_total",
			Help:      "Location match cache lookups by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PipelineRunning,
		m.RunDuration,
		m.UnitsTotal,
		m.RecordsProcessed,
		m.RecordsSkipped,
		m.RecordErrors,
		m.ObservationsSaved,
		m.RetrieveRequests,
		m.RetrieveDuration,
		m.CircuitBreakerState,
		m.LocationMatches,
		m.MatchCache,
	}
}
