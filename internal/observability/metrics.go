// Package observability provides Prometheus metrics and periodic component
// health checks for the pipeline.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every pipeline metric on a private registry so tests can
// run isolated instances side by side.
type Metrics struct {
	registry *prometheus.Registry

	// Feed
	MigrationsDetected *prometheus.CounterVec // source
	MigrationsDeduped  prometheus.Counter
	DetectionLatencyMs prometheus.Histogram
	FeedReconnects     *prometheus.CounterVec // source

	// Enrichment
	EnrichmentRequests *prometheus.CounterVec // provider, outcome
	EnrichmentLagMs    prometheus.Histogram

	// Matching and execution
	MatchesTotal       prometheus.Counter
	TokensFiltered     prometheus.Counter
	SnipesTotal        *prometheus.CounterVec // result
	SnipeAttempts      prometheus.Histogram
	ExecutionLatencyMs prometheus.Histogram

	// Positions
	OpenPositions prometheus.Gauge
	ExitsTotal    *prometheus.CounterVec // reason

	// Fan-out
	EventsPublished   *prometheus.CounterVec // topic
	ActivityRowsTotal prometheus.Counter
	StreamClients     prometheus.Gauge
}

// NewMetrics creates and registers every pipeline metric.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Name: name, Help: help}
	}

	m := &Metrics{registry: reg}

	m.MigrationsDetected = prometheus.NewCounterVec(
		factory("gradient_migrations_detected_total", "Unique migrations emitted downstream"),
		[]string{"source"})
	m.MigrationsDeduped = prometheus.NewCounter(
		factory("gradient_migrations_deduped_total", "Duplicate upstream reports dropped by the feed"))
	m.DetectionLatencyMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gradient_detection_latency_ms",
		Help:    "On-chain event to downstream emit latency",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})
	m.FeedReconnects = prometheus.NewCounterVec(
		factory("gradient_feed_reconnects_total", "Upstream feed reconnect attempts"),
		[]string{"source"})

	m.EnrichmentRequests = prometheus.NewCounterVec(
		factory("gradient_enrichment_requests_total", "Enrichment provider calls"),
		[]string{"provider", "outcome"})
	m.EnrichmentLagMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gradient_enrichment_lag_ms",
		Help:    "Detection to first enrichment merge latency",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 15000, 60000},
	})

	m.MatchesTotal = prometheus.NewCounter(
		factory("gradient_matches_total", "Sniper filter matches"))
	m.TokensFiltered = prometheus.NewCounter(
		factory("gradient_tokens_filtered_total", "Migrations rejected by sniper filters"))
	m.SnipesTotal = prometheus.NewCounterVec(
		factory("gradient_snipes_total", "Completed buy executions"),
		[]string{"result"})
	m.SnipeAttempts = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gradient_snipe_attempts",
		Help:    "Submission attempts per completed snipe",
		Buckets: []float64{1, 2, 3, 4, 5},
	})
	m.ExecutionLatencyMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gradient_execution_latency_ms",
		Help:    "Intent to confirmed buy latency",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 15000, 30000},
	})

	m.OpenPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gradient_positions_open",
		Help: "Positions currently open or selling",
	})
	m.ExitsTotal = prometheus.NewCounterVec(
		factory("gradient_exits_total", "Position exits by trigger reason"),
		[]string{"reason"})

	m.EventsPublished = prometheus.NewCounterVec(
		factory("gradient_events_published_total", "Lifecycle events published to the bus"),
		[]string{"topic"})
	m.ActivityRowsTotal = prometheus.NewCounter(
		factory("gradient_activity_rows_total", "Activity rows written to the archive"))
	m.StreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gradient_stream_clients",
		Help: "Connected websocket clients",
	})

	reg.MustRegister(
		m.MigrationsDetected, m.MigrationsDeduped, m.DetectionLatencyMs, m.FeedReconnects,
		m.EnrichmentRequests, m.EnrichmentLagMs,
		m.MatchesTotal, m.TokensFiltered, m.SnipesTotal, m.SnipeAttempts, m.ExecutionLatencyMs,
		m.OpenPositions, m.ExitsTotal,
		m.EventsPublished, m.ActivityRowsTotal, m.StreamClients,
	)

	return m
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for test assertions.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
