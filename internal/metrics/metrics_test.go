package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveFetchCounts(t *testing.T) {
	m := New()
	m.ObserveFetch("bybit", "ohlcv", OutcomeOK, time.Second)
	m.ObserveFetch("bybit", "ohlcv", OutcomeOK, time.Second)
	m.ObserveFetch("bybit", "ohlcv", OutcomeError, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchTotal.WithLabelValues("bybit", "ohlcv", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchTotal.WithLabelValues("bybit", "ohlcv", OutcomeError)))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.WarmupCycle("kraken", OutcomeOK)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `candlecache_warmup_cycles_total{exchange="kraken",outcome="ok"} 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveFetch("x", "y", OutcomeOK, time.Second)
	m.PersistFailed("parquet")
	m.SetCachedSeries(3)
	m.WarmupCycle("x", OutcomeOK)
	m.WarmupFailure("x")
	m.BreakerState("x", 1)
	m.ObserveQuery(time.Second)
}
