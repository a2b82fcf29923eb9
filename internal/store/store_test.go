package store

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"candlecache/internal/exchange"
	"candlecache/internal/market"
	"candlecache/internal/series"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) FetchOHLCV(ctx context.Context, prev *series.Series, start time.Time, interval int, mkt string, pt market.PriceType) (*series.Series, error) {
	args := m.Called(prev, start, interval, mkt, pt)
	s, _ := args.Get(0).(*series.Series)
	return s, args.Error(1)
}

func (m *mockClient) FetchFundingRate(ctx context.Context, prev *series.Series, start time.Time, mkt string) (*series.Series, error) {
	args := m.Called(prev, start, mkt)
	s, _ := args.Get(0).(*series.Series)
	return s, args.Error(1)
}

func (m *mockClient) ListMarkets(ctx context.Context) ([]string, error) {
	args := m.Called()
	out, _ := args.Get(0).([]string)
	return out, args.Error(1)
}

// growingClient appends one minute bar per fetch and records concurrency.
type growingClient struct {
	mockClient
	delay    time.Duration
	inflight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
}

func (g *growingClient) FetchOHLCV(ctx context.Context, prev *series.Series, start time.Time, interval int, mkt string, pt market.PriceType) (*series.Series, error) {
	n := g.inflight.Add(1)
	defer g.inflight.Add(-1)
	for {
		seen := g.maxSeen.Load()
		if n <= seen || g.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	g.calls.Add(1)
	time.Sleep(g.delay)
	next := start
	if last, ok := prev.Last(); ok {
		next = last.Time.Add(time.Duration(interval) * time.Second)
	}
	v := float64(prev.Len())
	return series.Extend(prev, []series.Row{series.Candle(next, v, v, v, v, v)}), nil
}

func candles(n int, step time.Duration) *series.Series {
	rows := make([]series.Row, n)
	for i := range rows {
		v := float64(i)
		rows[i] = series.Candle(t0.Add(time.Duration(i)*step), v, v, v, v, v)
	}
	return series.New(rows)
}

func newStore(t *testing.T, clients map[market.Exchange]market.Client, p Persister) *Store {
	t.Helper()
	s, err := New(context.Background(), exchange.NewStaticRegistry(clients), Options{StartTime: t0, Persister: p})
	require.NoError(t, err)
	return s
}

func TestGetOHLCVIdempotentRead(t *testing.T) {
	c := &mockClient{}
	c.On("FetchOHLCV", (*series.Series)(nil), t0, 60, "BTCUSDT", market.PriceNone).Return(candles(3, time.Minute), nil).Once()
	s := newStore(t, map[market.Exchange]market.Client{market.Bybit: c}, nil)

	first, err := s.GetOHLCV(context.Background(), market.Bybit, "BTCUSDT", 60, market.PriceNone, false)
	require.NoError(t, err)
	first.Rows[0].Close = 999

	second, err := s.GetOHLCV(context.Background(), market.Bybit, "BTCUSDT", 60, market.PriceNone, false)
	require.NoError(t, err)
	require.Equal(t, 3, second.Len())
	assert.Equal(t, 0.0, second.Rows[0].Close)
	c.AssertNumberOfCalls(t, "FetchOHLCV", 1)
}

func TestGetOHLCVMonotonicGrowth(t *testing.T) {
	g := &growingClient{}
	s := newStore(t, map[market.Exchange]market.Client{market.Kraken: g}, nil)

	var prev *series.Series
	for i := 0; i < 4; i++ {
		cur, err := s.GetOHLCV(context.Background(), market.Kraken, "XBTUSD", 60, market.PriceNone, true)
		require.NoError(t, err)
		require.Equal(t, prev.Len()+1, cur.Len())
		for j := 0; j < prev.Len(); j++ {
			assert.True(t, prev.Rows[j].Time.Equal(cur.Rows[j].Time))
			assert.Equal(t, prev.Rows[j].Close, cur.Rows[j].Close)
		}
		require.NoError(t, cur.Validate())
		prev = cur
	}
}

func TestGetOHLCVMutualExclusion(t *testing.T) {
	g := &growingClient{delay: 5 * time.Millisecond}
	s := newStore(t, map[market.Exchange]market.Client{market.Kraken: g}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.GetOHLCV(context.Background(), market.Kraken, "XBTUSD", 60, market.PriceNone, true)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), g.maxSeen.Load())
	assert.Equal(t, int32(8), g.calls.Load())

	got, err := s.GetOHLCV(context.Background(), market.Kraken, "XBTUSD", 60, market.PriceNone, false)
	require.NoError(t, err)
	assert.Equal(t, 8, got.Len())
}

// blockingClient parks fetches for one market until released.
type blockingClient struct {
	mockClient
	blockMarket string
	entered     chan struct{}
	release     chan struct{}
}

func (b *blockingClient) FetchOHLCV(ctx context.Context, prev *series.Series, start time.Time, interval int, mkt string, pt market.PriceType) (*series.Series, error) {
	if mkt == b.blockMarket {
		close(b.entered)
		<-b.release
	}
	return candles(1, time.Minute), nil
}

func TestGetOHLCVKeyIsolation(t *testing.T) {
	b := &blockingClient{blockMarket: "SLOW", entered: make(chan struct{}), release: make(chan struct{})}
	s := newStore(t, map[market.Exchange]market.Client{market.Okex: b}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.GetOHLCV(context.Background(), market.Okex, "SLOW", 60, market.PriceNone, true)
	}()
	<-b.entered

	fast, err := s.GetOHLCV(context.Background(), market.Okex, "FAST", 60, market.PriceNone, true)
	require.NoError(t, err)
	assert.Equal(t, 1, fast.Len())

	close(b.release)
	<-done
}

func TestGetOHLCVErrorNotCached(t *testing.T) {
	c := &mockClient{}
	boom := errors.New("boom")
	c.On("FetchOHLCV", (*series.Series)(nil), t0, 60, "BTCUSDT", market.PriceNone).Return(nil, boom).Once()
	c.On("FetchOHLCV", (*series.Series)(nil), t0, 60, "BTCUSDT", market.PriceNone).Return(candles(2, time.Minute), nil).Once()
	s := newStore(t, map[market.Exchange]market.Client{market.Bybit: c}, nil)

	_, err := s.GetOHLCV(context.Background(), market.Bybit, "BTCUSDT", 60, market.PriceNone, false)
	assert.ErrorIs(t, err, boom)

	got, err := s.GetOHLCV(context.Background(), market.Bybit, "BTCUSDT", 60, market.PriceNone, false)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len())
	c.AssertExpectations(t)
}

func TestGetOHLCVNoDataIsCachedButRefetchedWhenForced(t *testing.T) {
	c := &mockClient{}
	c.On("FetchOHLCV", (*series.Series)(nil), t0, 60, "NEW", market.PriceNone).Return(nil, nil).Twice()
	s := newStore(t, map[market.Exchange]market.Client{market.Bybit: c}, nil)

	for i := 0; i < 2; i++ {
		got, err := s.GetOHLCV(context.Background(), market.Bybit, "NEW", 60, market.PriceNone, false)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	_, err := s.GetOHLCV(context.Background(), market.Bybit, "NEW", 60, market.PriceNone, true)
	require.NoError(t, err)
	c.AssertNumberOfCalls(t, "FetchOHLCV", 2)
}

func TestUnknownExchange(t *testing.T) {
	s := newStore(t, nil, nil)
	_, err := s.GetOHLCV(context.Background(), market.Exchange("mtgox"), "BTCUSD", 60, market.PriceNone, false)
	assert.ErrorIs(t, err, market.ErrUnknownExchange)
	_, err = s.GetFundingRate(context.Background(), market.Exchange("mtgox"), "BTCUSD", false)
	assert.ErrorIs(t, err, market.ErrUnknownExchange)
}

func TestStatus(t *testing.T) {
	c := &mockClient{}
	c.On("FetchOHLCV", (*series.Series)(nil), t0, 60, "BTCUSDT", market.PriceNone).Return(candles(3, time.Minute), nil)
	c.On("FetchOHLCV", (*series.Series)(nil), t0, 60, "EMPTY", market.PriceNone).Return(nil, nil)
	s := newStore(t, map[market.Exchange]market.Client{market.Bybit: c}, nil)

	_, err := s.GetOHLCV(context.Background(), market.Bybit, "BTCUSDT", 60, market.PriceNone, false)
	require.NoError(t, err)
	_, err = s.GetOHLCV(context.Background(), market.Bybit, "EMPTY", 60, market.PriceNone, false)
	require.NoError(t, err)

	st := s.Status()
	assert.True(t, st.StartTime.Equal(t0))
	require.Len(t, st.Series, 2)
	full := st.Series["ohlcv,exchange=bybit,market=BTCUSDT,interval=60,price_type=none"]
	require.NotNil(t, full)
	assert.Equal(t, 3, full.Count)
	assert.True(t, full.MinTimestamp.Equal(t0))
	assert.True(t, full.MaxTimestamp.Equal(t0.Add(2*time.Minute)))

	empty, ok := st.Series["ohlcv,exchange=bybit,market=EMPTY,interval=60,price_type=none"]
	assert.True(t, ok)
	assert.Nil(t, empty)
}

func TestPersistenceRoundTrip(t *testing.T) {
	for _, backend := range []string{BackendParquet, BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			p, err := OpenPersister(backend, dir)
			require.NoError(t, err)

			c := &mockClient{}
			data := candles(5, time.Hour)
			data.Rows[2].Volume = math.NaN()
			c.On("FetchOHLCV", (*series.Series)(nil), t0, 3600, "BTC/USD", market.PriceNone).Return(data, nil).Once()
			s := newStore(t, map[market.Exchange]market.Client{market.Kraken: c}, p)
			_, err = s.GetOHLCV(context.Background(), market.Kraken, "BTC/USD", 3600, market.PriceNone, false)
			require.NoError(t, err)
			require.NoError(t, p.Close())

			p2, err := OpenPersister(backend, dir)
			require.NoError(t, err)
			defer p2.Close()
			fresh := &mockClient{}
			s2 := newStore(t, map[market.Exchange]market.Client{market.Kraken: fresh}, p2)

			got, err := s2.GetOHLCV(context.Background(), market.Kraken, "BTC/USD", 3600, market.PriceNone, false)
			require.NoError(t, err)
			require.Equal(t, 5, got.Len())
			for i := range data.Rows {
				assert.True(t, data.Rows[i].Time.Equal(got.Rows[i].Time))
				assert.Equal(t, data.Rows[i].Close, got.Rows[i].Close)
			}
			assert.True(t, series.IsMissing(got.Rows[2].Volume))
			fresh.AssertNotCalled(t, "FetchOHLCV", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestPersisterSaveReplacesRows(t *testing.T) {
	key := market.OHLCVKey(market.Bybit, "BTCUSDT", 60, market.PriceNone)
	for _, backend := range []string{BackendParquet, BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			p, err := OpenPersister(backend, t.TempDir())
			require.NoError(t, err)
			defer p.Close()

			require.NoError(t, p.Save(context.Background(), key, candles(4, time.Minute)))
			// A refetched snapshot with a hole inside the old bounds.
			data := candles(4, time.Minute)
			data.Rows = append(data.Rows[:1:1], data.Rows[2:]...)
			require.NoError(t, p.Save(context.Background(), key, data))

			all, err := p.LoadAll(context.Background())
			require.NoError(t, err)
			got := all[key]
			require.NotNil(t, got)
			require.Equal(t, 3, got.Len())
			for i := range data.Rows {
				assert.True(t, data.Rows[i].Time.Equal(got.Rows[i].Time))
			}
		})
	}
}

func TestOpenPersisterDisabledAndUnknown(t *testing.T) {
	p, err := OpenPersister(BackendParquet, "")
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = OpenPersister("redis", t.TempDir())
	assert.Error(t, err)
}
