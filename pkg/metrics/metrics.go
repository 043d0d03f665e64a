// Package metrics holds the service's Prometheus collectors. Every
// recorder is safe on a nil *Metrics, so one-shot commands can skip them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sitesearch"

var (
	fastBuckets = []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}
	httpBuckets = append(fastBuckets, 2.5, 5)
)

type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	SearchResultsCount prometheus.Histogram
	QueriesCanceled    prometheus.Counter

	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CacheEvictionsTotal prometheus.Counter
	CircuitBreakerState *prometheus.GaugeVec

	IndexBuildsTotal   *prometheus.CounterVec
	IndexBuildDuration prometheus.Histogram
	IndexesBuiltTotal  prometheus.Counter
	CorpusDocuments    prometheus.Gauge
	QueryWorkerReady   prometheus.Gauge
}

// New registers on the default registry; call it once per process.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	opts := func(subsystem, name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}
	}
	hist := func(subsystem, name, help string, buckets []float64) prometheus.HistogramOpts {
		return prometheus.HistogramOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets}
	}

	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts(opts("http", "requests_total",
			"HTTP requests by method, route and status.")), []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(hist("http", "request_duration_seconds",
			"HTTP request latency.", httpBuckets), []string{"method", "path"}),
		HTTPRequestsInFlight: f.NewGauge(prometheus.GaugeOpts(opts("http", "requests_in_flight",
			"HTTP requests being served."))),

		SearchQueriesTotal: f.NewCounterVec(prometheus.CounterOpts(opts("search", "queries_total",
			"Searches by result source (worker, cache, scan) and outcome.")), []string{"source", "outcome"}),
		SearchLatency: f.NewHistogramVec(hist("search", "latency_seconds",
			"Search latency by result source.", fastBuckets), []string{"source"}),
		SearchResultsCount: f.NewHistogram(hist("search", "results",
			"Results returned per search.", []float64{0, 1, 5, 10, 25, 50, 100})),
		QueriesCanceled: f.NewCounter(prometheus.CounterOpts(opts("search", "canceled_total",
			"Queries superseded by a newer query before the worker answered."))),

		CacheHitsTotal: f.NewCounter(prometheus.CounterOpts(opts("query_cache", "hits_total",
			"Query cache hits."))),
		CacheMissesTotal: f.NewCounter(prometheus.CounterOpts(opts("query_cache", "misses_total",
			"Query cache misses, expired entries included."))),
		CacheEvictionsTotal: f.NewCounter(prometheus.CounterOpts(opts("query_cache", "evictions_total",
			"Entries removed by expiry or size cleanup."))),
		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts(opts("", "circuit_breaker_state",
			"0 closed, 1 open, 2 half-open.")), []string{"name"}),

		IndexBuildsTotal: f.NewCounterVec(prometheus.CounterOpts(opts("index", "builds_total",
			"Build attempts by status (success, error, skipped).")), []string{"status"}),
		IndexBuildDuration: f.NewHistogram(hist("index", "build_duration_seconds",
			"Wall time of a full build, global plus section indexes.", prometheus.ExponentialBuckets(0.05, 2, 12))),
		IndexesBuiltTotal: f.NewCounter(prometheus.CounterOpts(opts("index", "built_total",
			"Individual indexes built, global and per section."))),
		CorpusDocuments: f.NewGauge(prometheus.GaugeOpts(opts("corpus", "documents",
			"Documents in the loaded corpus."))),
		QueryWorkerReady: f.NewGauge(prometheus.GaugeOpts(opts("search", "worker_ready",
			"1 while the query worker is hydrated."))),
	}
}

// ObserveSearch records one answered search.
func (m *Metrics) ObserveSearch(source, outcome string, d time.Duration, results int) {
	if m == nil {
		return
	}
	m.SearchQueriesTotal.WithLabelValues(source, outcome).Inc()
	m.SearchLatency.WithLabelValues(source).Observe(d.Seconds())
	m.SearchResultsCount.Observe(float64(results))
}

func (m *Metrics) QueryCanceled() {
	if m == nil {
		return
	}
	m.QueriesCanceled.Inc()
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

func (m *Metrics) CacheEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CacheEvictionsTotal.Add(float64(n))
}

// ObserveBuild records a finished build attempt.
func (m *Metrics) ObserveBuild(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.IndexBuildsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.IndexBuildDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) IndexBuilt() {
	if m == nil {
		return
	}
	m.IndexesBuiltTotal.Inc()
}

func (m *Metrics) SetCorpusSize(n int) {
	if m == nil {
		return
	}
	m.CorpusDocuments.Set(float64(n))
}

func (m *Metrics) SetWorkerReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.QueryWorkerReady.Set(1)
		return
	}
	m.QueryWorkerReady.Set(0)
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

