package exchange

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	"candlecache/internal/market"
	"candlecache/internal/series"

	"github.com/antihax/optional"
	gateapi "github.com/gateio/gateapi-go/v7"
	"github.com/tidwall/gjson"
)

const (
	defaultGateREST  = "https://api.gateio.ws/api/v4"
	gateSettle       = "usdt"
	gatePageLimit    = 1999
	gateFundingLimit = 1000
)

var gateIntervals = map[int]string{
	60:     "1m",
	300:    "5m",
	900:    "15m",
	1800:   "30m",
	3600:   "1h",
	14400:  "4h",
	28800:  "8h",
	86400:  "1d",
	604800: "7d",
}

// Gate serves USDT-settled perpetual candles through gateapi-go and the
// contract list and funding history through the REST API.
type Gate struct {
	rest *restClient
	api  *gateapi.APIClient
}

func NewGate(opts Options) *Gate {
	rest := newRESTClient(string(market.Gate), defaultGateREST, opts)
	conf := gateapi.NewConfiguration()
	conf.BasePath = rest.base
	conf.HTTPClient = rest.http
	return &Gate{rest: rest, api: gateapi.NewAPIClient(conf)}
}

// gateContract prefixes the contract for mark and index candles.
func gateContract(contract string, pt market.PriceType) (string, error) {
	switch pt {
	case market.PriceNone:
		return contract, nil
	case market.PriceMark:
		return "mark_" + contract, nil
	case market.PriceIndex:
		return "index_" + contract, nil
	}
	return "", fmt.Errorf("gate %s: %w", pt, ErrUnsupportedPriceType)
}

func (g *Gate) FetchOHLCV(ctx context.Context, prev *series.Series, start time.Time, interval int, contract string, pt market.PriceType) (*series.Series, error) {
	name, err := gateContract(contract, pt)
	if err != nil {
		return nil, err
	}
	natives := make([]int, 0, len(gateIntervals))
	for n := range gateIntervals {
		natives = append(natives, n)
	}
	now := g.rest.now()
	return fetchForward(ctx, prev, start, interval, natives, now, func(ctx context.Context, from time.Time, native int) ([]series.Row, time.Time, error) {
		end := windowEnd(from, time.Duration(native)*time.Second, gatePageLimit, now)
		opts := &gateapi.ListFuturesCandlesticksOpts{
			From:     optional.NewInt64(from.Unix()),
			To:       optional.NewInt64(end.Unix() - 1),
			Interval: optional.NewString(gateIntervals[native]),
		}
		var kls []gateapi.FuturesCandlestick
		err := g.rest.call(ctx, func(ctx context.Context) error {
			var err error
			kls, _, err = g.api.FuturesApi.ListFuturesCandlesticks(ctx, gateSettle, name, opts)
			return gateError(err)
		})
		if err != nil {
			return nil, time.Time{}, err
		}
		rows := make([]series.Row, 0, len(kls))
		for _, kl := range kls {
			v, err := strNums(kl.O, kl.H, kl.L, kl.C, kl.Sum)
			if err != nil {
				return nil, time.Time{}, fmt.Errorf("gate %s: %w", name, err)
			}
			if pt != market.PriceNone {
				v[4] = math.NaN()
			}
			ts := time.UnixMilli(int64(kl.T * 1000))
			rows = append(rows, series.Candle(ts, v[0], v[1], v[2], v[3], v[4]))
		}
		return rows, end, nil
	})
}

// gateError maps an SDK rejection to APIError so it does not trip the breaker.
func gateError(err error) error {
	if gerr, ok := err.(gateapi.GateAPIError); ok {
		return &APIError{Exchange: "gate", Code: gerr.Label, Msg: gerr.Message}
	}
	return err
}

func (g *Gate) FetchFundingRate(ctx context.Context, prev *series.Series, start time.Time, contract string) (*series.Series, error) {
	now := g.rest.now()
	return fetchEventsForward(ctx, prev, start, now, func(ctx context.Context, from time.Time) ([]series.Row, time.Time, error) {
		end := windowEnd(from, 8*time.Hour, gateFundingLimit, now)
		q := url.Values{}
		q.Set("contract", contract)
		q.Set("from", strconv.FormatInt(from.Unix(), 10))
		q.Set("to", strconv.FormatInt(end.Unix(), 10))
		q.Set("limit", strconv.Itoa(gateFundingLimit))
		res, err := g.rest.getJSON(ctx, "/futures/"+gateSettle+"/funding_rate", q)
		if err != nil {
			return nil, time.Time{}, err
		}
		items := res.Array()
		rows := make([]series.Row, 0, len(items))
		for _, item := range items {
			rate, err := jsonNum(item.Get("r"))
			if err != nil {
				return nil, time.Time{}, fmt.Errorf("gate %s: %w", contract, err)
			}
			rows = append(rows, series.Funding(time.Unix(item.Get("t").Int(), 0), rate))
		}
		return rows, end, nil
	})
}

func (g *Gate) ListMarkets(ctx context.Context) ([]string, error) {
	res, err := g.rest.getJSON(ctx, "/futures/"+gateSettle+"/contracts", nil)
	if err != nil {
		return nil, err
	}
	var out []string
	res.ForEach(func(_, item gjson.Result) bool {
		if !item.Get("in_delisting").Bool() {
			out = append(out, item.Get("name").String())
		}
		return true
	})
	return out, nil
}
