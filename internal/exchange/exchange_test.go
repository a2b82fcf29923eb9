package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"candlecache/internal/market"
	"candlecache/internal/series"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func fixedNow(t time.Time) func() time.Time { return func() time.Time { return t } }

// bybitServer serves hourly-or-coarser bars from bars, honouring start/end.
func bybitServer(t *testing.T, step time.Duration, count *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		start, _ := strconv.ParseInt(q.Get("start"), 10, 64)
		end, _ := strconv.ParseInt(q.Get("end"), 10, 64)
		var list [][]string
		for i := *count - 1; i >= 0; i-- {
			ts := t0.Add(time.Duration(i) * step).UnixMilli()
			if ts < start || ts > end {
				continue
			}
			p := strconv.Itoa(100 + i)
			list = append(list, []string{strconv.FormatInt(ts, 10), p, p, p, p, "2", "0"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"retCode": 0,
			"retMsg":  "OK",
			"result":  map[string]any{"list": list},
		})
	}))
}

func TestBybitFetchOHLCVIncremental(t *testing.T) {
	count := 3
	srv := bybitServer(t, time.Hour, &count)
	defer srv.Close()

	b := NewBybit(Options{BaseURL: srv.URL})
	b.rest.nowFn = fixedNow(t0.Add(3 * time.Hour))

	s, err := b.FetchOHLCV(context.Background(), nil, t0, 3600, "BTCUSDT", market.PriceNone)
	require.NoError(t, err)
	require.Equal(t, 3, s.Len())
	assert.True(t, s.Rows[0].Time.Equal(t0))
	assert.Equal(t, 102.0, s.Rows[2].Close)
	assert.Equal(t, 2.0, s.Rows[2].Volume)

	count = 4
	b.rest.nowFn = fixedNow(t0.Add(4 * time.Hour))
	next, err := b.FetchOHLCV(context.Background(), s, t0, 3600, "BTCUSDT", market.PriceNone)
	require.NoError(t, err)
	require.Equal(t, 4, next.Len())
	for i := 0; i < 3; i++ {
		assert.True(t, next.Rows[i].Time.Equal(s.Rows[i].Time))
		assert.Equal(t, s.Rows[i].Close, next.Rows[i].Close)
	}
}

func TestBybitDropsUnclosedBar(t *testing.T) {
	count := 3
	srv := bybitServer(t, time.Hour, &count)
	defer srv.Close()

	b := NewBybit(Options{BaseURL: srv.URL})
	b.rest.nowFn = fixedNow(t0.Add(2*time.Hour + 30*time.Minute))

	s, err := b.FetchOHLCV(context.Background(), nil, t0, 3600, "BTCUSDT", market.PriceNone)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
}

func TestBybitResamplesNonNativeInterval(t *testing.T) {
	count := 4
	srv := bybitServer(t, 4*time.Hour, &count)
	defer srv.Close()

	b := NewBybit(Options{BaseURL: srv.URL})
	b.rest.nowFn = fixedNow(t0.Add(16 * time.Hour))

	s, err := b.FetchOHLCV(context.Background(), nil, t0, 28800, "BTCUSDT", market.PriceNone)
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())
	assert.True(t, s.Rows[1].Time.Equal(t0.Add(8*time.Hour)))
	assert.Equal(t, 100.0, s.Rows[0].Open)
	assert.Equal(t, 101.0, s.Rows[0].Close)
	assert.Equal(t, 4.0, s.Rows[0].Volume)
}

func TestBybitRejectsUnsupportedPriceTypeAndInterval(t *testing.T) {
	b := NewBybit(Options{BaseURL: "http://127.0.0.1:1"})
	_, err := b.FetchOHLCV(context.Background(), nil, t0, 60, "BTCUSDT", market.PriceType("last"))
	assert.ErrorIs(t, err, ErrUnsupportedPriceType)

	_, err = b.FetchOHLCV(context.Background(), nil, t0, 7, "BTCUSDT", market.PriceNone)
	assert.ErrorIs(t, err, ErrUnsupportedInterval)
}

func TestBybitAPIErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"retCode":10001,"retMsg":"params error","result":{}}`))
	}))
	defer srv.Close()

	b := NewBybit(Options{BaseURL: srv.URL})
	b.rest.nowFn = fixedNow(t0.Add(time.Hour))
	_, err := b.FetchOHLCV(context.Background(), nil, t0, 60, "NOPE", market.PriceNone)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "10001", apiErr.Code)
}

func TestBybitCategory(t *testing.T) {
	assert.Equal(t, "linear", bybitCategory("BTCUSDT"))
	assert.Equal(t, "linear", bybitCategory("ETHPERP"))
	assert.Equal(t, "inverse", bybitCategory("BTCUSD"))
	assert.Equal(t, "inverse", bybitCategory("BTCUSDU21"))
}

func TestBybitListMarketsPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("category") == "linear" && q.Get("cursor") == "":
			_, _ = w.Write([]byte(`{"retCode":0,"result":{"list":[{"symbol":"BTCUSDT","status":"Trading"},{"symbol":"OLDUSDT","status":"Closed"}],"nextPageCursor":"p2"}}`))
		case q.Get("category") == "linear":
			_, _ = w.Write([]byte(`{"retCode":0,"result":{"list":[{"symbol":"ETHUSDT","status":"Trading"}],"nextPageCursor":""}}`))
		default:
			_, _ = w.Write([]byte(`{"retCode":0,"result":{"list":[{"symbol":"BTCUSD","status":"Trading"}]}}`))
		}
	}))
	defer srv.Close()

	got, err := NewBybit(Options{BaseURL: srv.URL}).ListMarkets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "BTCUSD"}, got)
}

func TestKrakenFetchAndList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/0/public/AssetPairs":
			_, _ = w.Write([]byte(`{"error":[],"result":{"XBTUSD":{},"XBTEUR":{},"ETHUSD":{}}}`))
		case "/0/public/OHLC":
			base := t0.Unix()
			body := `{"error":[],"result":{"XXBTZUSD":[` +
				`[` + strconv.FormatInt(base, 10) + `,"1","2","0.5","1.5","1.2","10",3],` +
				`[` + strconv.FormatInt(base+60, 10) + `,"1.5","2","1","1.8","1.6","5",2]` +
				`],"last":` + strconv.FormatInt(base+60, 10) + `}}`
			_, _ = w.Write([]byte(body))
		}
	}))
	defer srv.Close()

	k := NewKraken(Options{BaseURL: srv.URL})
	k.rest.nowFn = fixedNow(t0.Add(2 * time.Minute))

	pairs, err := k.ListMarkets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ETHUSD", "XBTEUR", "XBTUSD"}, pairs)

	s, err := k.FetchOHLCV(context.Background(), nil, t0, 60, "XBTUSD", market.PriceNone)
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())
	assert.Equal(t, 1.8, s.Rows[1].Close)
	assert.Equal(t, 5.0, s.Rows[1].Volume)
}

func TestKrakenErrorArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":["EQuery:Unknown asset pair"]}`))
	}))
	defer srv.Close()

	_, err := NewKraken(Options{BaseURL: srv.URL}).ListMarkets(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Contains(t, apiErr.Msg, "Unknown asset pair")
}

func TestFTXFundingRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/funding_rates", r.URL.Path)
		assert.Equal(t, "BTC-PERP", r.URL.Query().Get("future"))
		start, _ := strconv.ParseInt(r.URL.Query().Get("start_time"), 10, 64)
		if start > t0.Unix() {
			_, _ = w.Write([]byte(`{"success":true,"result":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"result":[
			{"future":"BTC-PERP","rate":0.0002,"time":"2024-01-01T01:00:00+00:00"},
			{"future":"BTC-PERP","rate":-0.0001,"time":"2024-01-01T00:00:00+00:00"}]}`))
	}))
	defer srv.Close()

	f := NewFTX(Options{BaseURL: srv.URL})
	f.rest.nowFn = fixedNow(t0.Add(2 * time.Hour))

	s, err := f.FetchFundingRate(context.Background(), nil, t0, "BTC-PERP")
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())
	assert.Equal(t, -0.0001, s.Rows[0].FR)
	assert.Equal(t, 0.0002, s.Rows[1].FR)
	assert.True(t, series.IsMissing(s.Rows[0].Close))
}

func TestFTXIndexName(t *testing.T) {
	assert.Equal(t, "BTC", ftxIndexName("BTC-PERP"))
	assert.Equal(t, "ETH", ftxIndexName("ETH-0924"))
	assert.Equal(t, "BTC", ftxIndexName("BTC"))
}

func TestGateFetchOHLCVMarkPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/futures/usdt/candlesticks", r.URL.Path)
		assert.Equal(t, "mark_BTC_USDT", r.URL.Query().Get("contract"))
		w.Header().Set("Content-Type", "application/json")
		ts := t0.Unix()
		_, _ = w.Write([]byte(`[{"t":` + strconv.FormatInt(ts, 10) + `,"v":0,"o":"1","h":"2","l":"0.5","c":"1.5","sum":"0"}]`))
	}))
	defer srv.Close()

	g := NewGate(Options{BaseURL: srv.URL})
	g.rest.nowFn = fixedNow(t0.Add(time.Minute))

	s, err := g.FetchOHLCV(context.Background(), nil, t0, 60, "BTC_USDT", market.PriceMark)
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())
	assert.Equal(t, 1.5, s.Rows[0].Close)
	assert.True(t, series.IsMissing(s.Rows[0].Volume))

	_, err = g.FetchOHLCV(context.Background(), nil, t0, 60, "BTC_USDT", market.PricePremiumIndex)
	assert.ErrorIs(t, err, ErrUnsupportedPriceType)
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	k := NewKraken(Options{BaseURL: srv.URL, BreakerThreshold: 2, BreakerCooldown: time.Hour})
	for i := 0; i < 2; i++ {
		_, err := k.ListMarkets(context.Background())
		var he *HTTPError
		require.True(t, errors.As(err, &he))
		assert.Equal(t, http.StatusBadGateway, he.Status)
	}
	_, err := k.ListMarkets(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}
