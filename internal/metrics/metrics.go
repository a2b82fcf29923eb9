package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeEmpty = "empty"
	OutcomeError = "error"
)

// Metrics holds the Prometheus collectors of the cache. A nil *Metrics is
// valid and records nothing, so tests and tools can skip wiring it.
type Metrics struct {
	registry *prometheus.Registry

	FetchTotal      *prometheus.CounterVec   // labels: exchange, kind, outcome
	FetchDuration   *prometheus.HistogramVec // labels: exchange, kind
	PersistFailures *prometheus.CounterVec   // labels: backend
	CachedSeries    prometheus.Gauge
	WarmupCycles    *prometheus.CounterVec // labels: exchange, outcome
	WarmupFailures  *prometheus.CounterVec // labels: exchange
	ExchangeBreaker *prometheus.GaugeVec   // labels: exchange; 0=closed 1=open 2=half-open
	QueryDuration   prometheus.Histogram
}

// New builds the collectors on a private registry together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candlecache_fetch_total",
			Help: "Exchange fetches performed by the store",
		}, []string{"exchange", "kind", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "candlecache_fetch_duration_seconds",
			Help:    "Latency of one incremental exchange fetch",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"exchange", "kind"}),
		PersistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candlecache_persist_failures_total",
			Help: "Failed snapshot writes to the persistence backend",
		}, []string{"backend"}),
		CachedSeries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "candlecache_cached_series",
			Help: "Number of cache keys holding a series",
		}),
		WarmupCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candlecache_warmup_cycles_total",
			Help: "Completed or aborted warmup cycles",
		}, []string{"exchange", "outcome"}),
		WarmupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candlecache_warmup_fetch_failures_total",
			Help: "Warmup fetches that failed and triggered a backoff",
		}, []string{"exchange"}),
		ExchangeBreaker: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "candlecache_exchange_breaker_state",
			Help: "Circuit breaker state per exchange (0=closed, 1=open, 2=half-open)",
		}, []string{"exchange"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "candlecache_query_duration_seconds",
			Help:    "Time to compose one /ohlcv.parquet response",
			Buckets: prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.FetchTotal,
		m.FetchDuration,
		m.PersistFailures,
		m.CachedSeries,
		m.WarmupCycles,
		m.WarmupFailures,
		m.ExchangeBreaker,
		m.QueryDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveFetch(exchange, kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(exchange, kind, outcome).Inc()
	m.FetchDuration.WithLabelValues(exchange, kind).Observe(d.Seconds())
}

func (m *Metrics) PersistFailed(backend string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(backend).Inc()
}

func (m *Metrics) SetCachedSeries(n int) {
	if m == nil {
		return
	}
	m.CachedSeries.Set(float64(n))
}

func (m *Metrics) WarmupCycle(exchange, outcome string) {
	if m == nil {
		return
	}
	m.WarmupCycles.WithLabelValues(exchange, outcome).Inc()
}

func (m *Metrics) WarmupFailure(exchange string) {
	if m == nil {
		return
	}
	m.WarmupFailures.WithLabelValues(exchange).Inc()
}

func (m *Metrics) BreakerState(exchange string, state int) {
	if m == nil {
		return
	}
	m.ExchangeBreaker.WithLabelValues(exchange).Set(float64(state))
}

func (m *Metrics) ObserveQuery(d time.Duration) {
	if m == nil {
		return
	}
	m.QueryDuration.Observe(d.Seconds())
}
