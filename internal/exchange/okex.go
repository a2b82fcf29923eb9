package exchange

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"candlecache/internal/market"
	"candlecache/internal/series"

	"github.com/tidwall/gjson"
)

const (
	defaultOkexREST = "https://www.okx.com"
	okexPageLimit   = 100
)

var okexBars = map[int]string{
	60:    "1m",
	180:   "3m",
	300:   "5m",
	900:   "15m",
	1800:  "30m",
	3600:  "1H",
	7200:  "2H",
	14400: "4H",
	21600: "6Hutc",
	43200: "12Hutc",
	86400: "1Dutc",
}

// Okex serves spot and swap candles from the v5 public API.
type Okex struct {
	rest *restClient
}

func NewOkex(opts Options) *Okex {
	return &Okex{rest: newRESTClient(string(market.Okex), defaultOkexREST, opts)}
}

func (o *Okex) FetchOHLCV(ctx context.Context, prev *series.Series, start time.Time, interval int, instID string, pt market.PriceType) (*series.Series, error) {
	if pt != market.PriceNone {
		return nil, fmt.Errorf("okex %s: %w", pt, ErrUnsupportedPriceType)
	}
	natives := make([]int, 0, len(okexBars))
	for n := range okexBars {
		natives = append(natives, n)
	}
	now := o.rest.now()
	return fetchForward(ctx, prev, start, interval, natives, now, func(ctx context.Context, from time.Time, native int) ([]series.Row, time.Time, error) {
		end := windowEnd(from, time.Duration(native)*time.Second, okexPageLimit, now)
		// history-candles returns rows with before < ts < after, newest first.
		q := url.Values{}
		q.Set("instId", instID)
		q.Set("bar", okexBars[native])
		q.Set("before", strconv.FormatInt(from.UnixMilli()-1, 10))
		q.Set("after", strconv.FormatInt(end.UnixMilli(), 10))
		q.Set("limit", strconv.Itoa(okexPageLimit))
		res, err := o.get(ctx, "/api/v5/market/history-candles", q)
		if err != nil {
			return nil, time.Time{}, err
		}
		data := res.Get("data").Array()
		rows := make([]series.Row, 0, len(data))
		for _, item := range data {
			arr := item.Array()
			if len(arr) == 0 {
				continue
			}
			ts, err := strconv.ParseInt(arr[0].String(), 10, 64)
			if err != nil {
				return nil, time.Time{}, fmt.Errorf("okex %s: bad ts %q", instID, arr[0].String())
			}
			row, err := candleFromArray(time.UnixMilli(ts), arr, 5)
			if err != nil {
				return nil, time.Time{}, fmt.Errorf("okex %s: %w", instID, err)
			}
			rows = append(rows, row)
		}
		return rows, end, nil
	})
}

func (o *Okex) FetchFundingRate(ctx context.Context, prev *series.Series, start time.Time, instID string) (*series.Series, error) {
	return nil, fmt.Errorf("okex: %w", ErrNoFundingRate)
}

func (o *Okex) ListMarkets(ctx context.Context) ([]string, error) {
	var out []string
	for _, instType := range []string{"SPOT", "SWAP"} {
		q := url.Values{}
		q.Set("instType", instType)
		res, err := o.get(ctx, "/api/v5/public/instruments", q)
		if err != nil {
			return nil, err
		}
		res.Get("data").ForEach(func(_, item gjson.Result) bool {
			if item.Get("state").String() == "live" {
				out = append(out, item.Get("instId").String())
			}
			return true
		})
	}
	return out, nil
}

func (o *Okex) get(ctx context.Context, path string, q url.Values) (gjson.Result, error) {
	res, err := o.rest.getJSON(ctx, path, q)
	if err != nil {
		return res, err
	}
	if code := res.Get("code").String(); code != "0" {
		return res, &APIError{Exchange: "okex", Code: code, Msg: res.Get("msg").String()}
	}
	return res, nil
}
