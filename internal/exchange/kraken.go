package exchange

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"candlecache/internal/market"
	"candlecache/internal/series"

	"github.com/tidwall/gjson"
)

const defaultKrakenREST = "https://api.kraken.com"

// Kraken OHLC intervals in seconds. The endpoint only keeps the most recent
// 720 bars per interval, so deep history is not available.
var krakenNatives = []int{60, 300, 900, 1800, 3600, 14400, 86400, 604800}

// Kraken serves spot candles from the public REST API.
type Kraken struct {
	rest *restClient
}

func NewKraken(opts Options) *Kraken {
	return &Kraken{rest: newRESTClient(string(market.Kraken), defaultKrakenREST, opts)}
}

func (k *Kraken) FetchOHLCV(ctx context.Context, prev *series.Series, start time.Time, interval int, pair string, pt market.PriceType) (*series.Series, error) {
	if pt != market.PriceNone {
		return nil, fmt.Errorf("kraken %s: %w", pt, ErrUnsupportedPriceType)
	}
	now := k.rest.now()
	return fetchForward(ctx, prev, start, interval, krakenNatives, now, func(ctx context.Context, from time.Time, native int) ([]series.Row, time.Time, error) {
		q := url.Values{}
		q.Set("pair", pair)
		q.Set("interval", strconv.Itoa(native/60))
		// since is exclusive.
		q.Set("since", strconv.FormatInt(from.Unix()-1, 10))
		res, err := k.get(ctx, "/0/public/OHLC", q)
		if err != nil {
			return nil, time.Time{}, err
		}
		var rows []series.Row
		var parseErr error
		res.Get("result").ForEach(func(key, value gjson.Result) bool {
			if key.String() == "last" || !value.IsArray() {
				return true
			}
			for _, item := range value.Array() {
				arr := item.Array()
				if len(arr) < 7 {
					continue
				}
				// [time, open, high, low, close, vwap, volume, count]
				row, err := candleFromArray(time.Unix(arr[0].Int(), 0), arr, 6)
				if err != nil {
					parseErr = fmt.Errorf("kraken %s: %w", pair, err)
					return false
				}
				rows = append(rows, row)
			}
			return true
		})
		if parseErr != nil {
			return nil, time.Time{}, parseErr
		}
		// Rows only ever end at the present; there is nothing to scan past.
		return rows, time.Time{}, nil
	})
}

func (k *Kraken) FetchFundingRate(ctx context.Context, prev *series.Series, start time.Time, pair string) (*series.Series, error) {
	return nil, fmt.Errorf("kraken: %w", ErrNoFundingRate)
}

func (k *Kraken) ListMarkets(ctx context.Context) ([]string, error) {
	res, err := k.get(ctx, "/0/public/AssetPairs", nil)
	if err != nil {
		return nil, err
	}
	var out []string
	res.Get("result").ForEach(func(key, _ gjson.Result) bool {
		out = append(out, key.String())
		return true
	})
	sort.Strings(out)
	return out, nil
}

func (k *Kraken) get(ctx context.Context, path string, q url.Values) (gjson.Result, error) {
	res, err := k.rest.getJSON(ctx, path, q)
	if err != nil {
		return res, err
	}
	if errs := res.Get("error").Array(); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.String())
		}
		return res, &APIError{Exchange: "kraken", Code: "error", Msg: strings.Join(msgs, "; ")}
	}
	return res, nil
}
