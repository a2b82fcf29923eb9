package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"candlecache/internal/market"
	"candlecache/internal/series"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	defaultBinanceSpotREST    = "https://api.binance.com"
	defaultBinanceFuturesREST = "https://fapi.binance.com"
	binanceSpotPageLimit      = 1000
	binanceFuturesPageLimit   = 1500
)

var binanceIntervals = map[int]string{
	60:    "1m",
	180:   "3m",
	300:   "5m",
	900:   "15m",
	1800:  "30m",
	3600:  "1h",
	7200:  "2h",
	14400: "4h",
	21600: "6h",
	28800: "8h",
	43200: "12h",
	86400: "1d",
}

func binanceNatives() []int {
	out := make([]int, 0, len(binanceIntervals))
	for n := range binanceIntervals {
		out = append(out, n)
	}
	return out
}

// binanceKline is the common shape of spot and futures klines.
type binanceKline struct {
	openTime                        int64
	open, high, low, close, volume string
}

func binanceRows(kls []binanceKline) ([]series.Row, error) {
	rows := make([]series.Row, 0, len(kls))
	for _, kl := range kls {
		v, err := strNums(kl.open, kl.high, kl.low, kl.close, kl.volume)
		if err != nil {
			return nil, err
		}
		rows = append(rows, series.Candle(time.UnixMilli(kl.openTime), v[0], v[1], v[2], v[3], v[4]))
	}
	return rows, nil
}

// sdkError turns a go-binance API rejection into an APIError so it does not
// trip the breaker.
func sdkError(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Exchange: "binance", Code: strconv.FormatInt(apiErr.Code, 10), Msg: apiErr.Message}
	}
	return err
}

// BinanceSpot serves spot candles through go-binance.
type BinanceSpot struct {
	rest   *restClient
	client *binance.Client
}

func NewBinanceSpot(opts Options) *BinanceSpot {
	rest := newRESTClient(string(market.BinanceSpot), defaultBinanceSpotREST, opts)
	client := binance.NewClient("", "")
	client.BaseURL = rest.base
	client.HTTPClient = rest.http
	return &BinanceSpot{rest: rest, client: client}
}

func (b *BinanceSpot) FetchOHLCV(ctx context.Context, prev *series.Series, start time.Time, interval int, symbol string, pt market.PriceType) (*series.Series, error) {
	if pt != market.PriceNone {
		return nil, fmt.Errorf("binance_spot %s: %w", pt, ErrUnsupportedPriceType)
	}
	now := b.rest.now()
	return fetchForward(ctx, prev, start, interval, binanceNatives(), now, func(ctx context.Context, from time.Time, native int) ([]series.Row, time.Time, error) {
		end := windowEnd(from, time.Duration(native)*time.Second, binanceSpotPageLimit, now)
		var kls []*binance.Kline
		err := b.rest.call(ctx, func(ctx context.Context) error {
			var err error
			kls, err = b.client.NewKlinesService().
				Symbol(symbol).
				Interval(binanceIntervals[native]).
				StartTime(from.UnixMilli()).
				EndTime(end.UnixMilli() - 1).
				Limit(binanceSpotPageLimit).
				Do(ctx)
			return sdkError(err)
		})
		if err != nil {
			return nil, time.Time{}, err
		}
		flat := make([]binanceKline, 0, len(kls))
		for _, kl := range kls {
			if kl == nil {
				continue
			}
			flat = append(flat, binanceKline{kl.OpenTime, kl.Open, kl.High, kl.Low, kl.Close, kl.Volume})
		}
		rows, err := binanceRows(flat)
		return rows, end, err
	})
}

func (b *BinanceSpot) FetchFundingRate(ctx context.Context, prev *series.Series, start time.Time, symbol string) (*series.Series, error) {
	return nil, fmt.Errorf("binance_spot: %w", ErrNoFundingRate)
}

func (b *BinanceSpot) ListMarkets(ctx context.Context) ([]string, error) {
	var info *binance.ExchangeInfo
	err := b.rest.call(ctx, func(ctx context.Context) error {
		var err error
		info, err = b.client.NewExchangeInfoService().Do(ctx)
		return sdkError(err)
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status == "TRADING" {
			out = append(out, s.Symbol)
		}
	}
	return out, nil
}

// BinanceFuture serves USDⓈ-M futures candles through go-binance.
type BinanceFuture struct {
	rest   *restClient
	client *futures.Client
}

func NewBinanceFuture(opts Options) *BinanceFuture {
	rest := newRESTClient(string(market.BinanceFuture), defaultBinanceFuturesREST, opts)
	client := futures.NewClient("", "")
	client.BaseURL = rest.base
	client.HTTPClient = rest.http
	return &BinanceFuture{rest: rest, client: client}
}

func (b *BinanceFuture) FetchOHLCV(ctx context.Context, prev *series.Series, start time.Time, interval int, symbol string, pt market.PriceType) (*series.Series, error) {
	if pt != market.PriceNone {
		return nil, fmt.Errorf("binance_future %s: %w", pt, ErrUnsupportedPriceType)
	}
	now := b.rest.now()
	return fetchForward(ctx, prev, start, interval, binanceNatives(), now, func(ctx context.Context, from time.Time, native int) ([]series.Row, time.Time, error) {
		end := windowEnd(from, time.Duration(native)*time.Second, binanceFuturesPageLimit, now)
		var kls []*futures.Kline
		err := b.rest.call(ctx, func(ctx context.Context) error {
			var err error
			kls, err = b.client.NewKlinesService().
				Symbol(symbol).
				Interval(binanceIntervals[native]).
				StartTime(from.UnixMilli()).
				EndTime(end.UnixMilli() - 1).
				Limit(binanceFuturesPageLimit).
				Do(ctx)
			return sdkError(err)
		})
		if err != nil {
			return nil, time.Time{}, err
		}
		flat := make([]binanceKline, 0, len(kls))
		for _, kl := range kls {
			if kl == nil {
				continue
			}
			flat = append(flat, binanceKline{kl.OpenTime, kl.Open, kl.High, kl.Low, kl.Close, kl.Volume})
		}
		rows, err := binanceRows(flat)
		return rows, end, err
	})
}

func (b *BinanceFuture) FetchFundingRate(ctx context.Context, prev *series.Series, start time.Time, symbol string) (*series.Series, error) {
	return nil, fmt.Errorf("binance_future: %w", ErrNoFundingRate)
}

func (b *BinanceFuture) ListMarkets(ctx context.Context) ([]string, error) {
	var info *futures.ExchangeInfo
	err := b.rest.call(ctx, func(ctx context.Context) error {
		var err error
		info, err = b.client.NewExchangeInfoService().Do(ctx)
		return sdkError(err)
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status == "TRADING" {
			out = append(out, s.Symbol)
		}
	}
	return out, nil
}
