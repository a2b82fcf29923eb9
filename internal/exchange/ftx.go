package exchange

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"candlecache/internal/market"
	"candlecache/internal/series"

	"github.com/tidwall/gjson"
)

const (
	defaultFTXREST    = "https://ftx.com"
	ftxPageLimit      = 1500
	ftxFundingPerPage = 500
)

var ftxNatives = []int{15, 60, 300, 900, 3600, 14400, 86400}

// FTX serves futures and spot candles, index candles and hourly funding.
type FTX struct {
	rest *restClient
}

func NewFTX(opts Options) *FTX {
	return &FTX{rest: newRESTClient(string(market.FTX), defaultFTXREST, opts)}
}

// ftxIndexName maps a future to its underlying index: BTC-PERP -> BTC.
func ftxIndexName(name string) string {
	if i := strings.Index(name, "-"); i > 0 {
		return name[:i]
	}
	return name
}

func (f *FTX) FetchOHLCV(ctx context.Context, prev *series.Series, start time.Time, interval int, name string, pt market.PriceType) (*series.Series, error) {
	var path string
	switch pt {
	case market.PriceNone:
		path = "/api/markets/" + url.PathEscape(name) + "/candles"
	case market.PriceIndex:
		path = "/api/indexes/" + url.PathEscape(ftxIndexName(name)) + "/candles"
	default:
		return nil, fmt.Errorf("ftx %s: %w", pt, ErrUnsupportedPriceType)
	}
	now := f.rest.now()
	return fetchForward(ctx, prev, start, interval, ftxNatives, now, func(ctx context.Context, from time.Time, native int) ([]series.Row, time.Time, error) {
		end := windowEnd(from, time.Duration(native)*time.Second, ftxPageLimit, now)
		q := url.Values{}
		q.Set("resolution", strconv.Itoa(native))
		q.Set("start_time", strconv.FormatInt(from.Unix(), 10))
		q.Set("end_time", strconv.FormatInt(end.Unix()-1, 10))
		res, err := f.get(ctx, path, q)
		if err != nil {
			return nil, time.Time{}, err
		}
		items := res.Get("result").Array()
		rows := make([]series.Row, 0, len(items))
		for _, item := range items {
			ts := time.UnixMilli(int64(item.Get("time").Float()))
			vals := make([]float64, 5)
			for i, field := range []string{"open", "high", "low", "close", "volume"} {
				v, err := jsonNum(item.Get(field))
				if err != nil {
					return nil, time.Time{}, fmt.Errorf("ftx %s: %w", name, err)
				}
				vals[i] = v
			}
			rows = append(rows, series.Candle(ts, vals[0], vals[1], vals[2], vals[3], vals[4]))
		}
		return rows, end, nil
	})
}

func (f *FTX) FetchFundingRate(ctx context.Context, prev *series.Series, start time.Time, name string) (*series.Series, error) {
	now := f.rest.now()
	return fetchEventsForward(ctx, prev, start, now, func(ctx context.Context, from time.Time) ([]series.Row, time.Time, error) {
		end := windowEnd(from, time.Hour, ftxFundingPerPage, now)
		q := url.Values{}
		q.Set("future", name)
		q.Set("start_time", strconv.FormatInt(from.Unix(), 10))
		q.Set("end_time", strconv.FormatInt(end.Unix(), 10))
		res, err := f.get(ctx, "/api/funding_rates", q)
		if err != nil {
			return nil, time.Time{}, err
		}
		items := res.Get("result").Array()
		rows := make([]series.Row, 0, len(items))
		for _, item := range items {
			ts, err := time.Parse(time.RFC3339, item.Get("time").String())
			if err != nil {
				return nil, time.Time{}, fmt.Errorf("ftx %s: funding time: %w", name, err)
			}
			rate, err := jsonNum(item.Get("rate"))
			if err != nil {
				return nil, time.Time{}, fmt.Errorf("ftx %s: %w", name, err)
			}
			rows = append(rows, series.Funding(ts, rate))
		}
		return rows, end, nil
	})
}

func (f *FTX) ListMarkets(ctx context.Context) ([]string, error) {
	res, err := f.get(ctx, "/api/markets", nil)
	if err != nil {
		return nil, err
	}
	var out []string
	res.Get("result").ForEach(func(_, item gjson.Result) bool {
		if item.Get("enabled").Bool() {
			out = append(out, item.Get("name").String())
		}
		return true
	})
	return out, nil
}

func (f *FTX) get(ctx context.Context, path string, q url.Values) (gjson.Result, error) {
	res, err := f.rest.getJSON(ctx, path, q)
	if err != nil {
		return res, err
	}
	if !res.Get("success").Bool() {
		return res, &APIError{Exchange: "ftx", Code: "success=false", Msg: res.Get("error").String()}
	}
	return res, nil
}
