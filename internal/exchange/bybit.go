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
	defaultBybitREST = "https://api.bybit.com"
	bybitPageLimit   = 1000
)

var bybitIntervals = map[int]string{
	60:    "1",
	180:   "3",
	300:   "5",
	900:   "15",
	1800:  "30",
	3600:  "60",
	7200:  "120",
	14400: "240",
	21600: "360",
	43200: "720",
	86400: "D",
}

var bybitKlinePaths = map[market.PriceType]string{
	market.PriceNone:         "/v5/market/kline",
	market.PriceMark:         "/v5/market/mark-price-kline",
	market.PriceIndex:        "/v5/market/index-price-kline",
	market.PricePremiumIndex: "/v5/market/premium-index-price-kline",
}

// Bybit serves linear and inverse derivatives from the v5 public API.
type Bybit struct {
	rest *restClient
}

func NewBybit(opts Options) *Bybit {
	return &Bybit{rest: newRESTClient(string(market.Bybit), defaultBybitREST, opts)}
}

// bybitCategory maps a symbol to its v5 category. Coin-margined contracts
// quote in USD (BTCUSD, BTCUSDZ24); everything else is linear.
func bybitCategory(symbol string) string {
	s := strings.TrimRight(strings.ToUpper(symbol), "0123456789")
	if strings.HasSuffix(s, "USD") {
		return "inverse"
	}
	if n := len(s); n > 4 && strings.HasSuffix(s[:n-1], "USD") && strings.ContainsRune("FGHJKMNQUVXZ", rune(s[n-1])) {
		return "inverse"
	}
	return "linear"
}

func (b *Bybit) FetchOHLCV(ctx context.Context, prev *series.Series, start time.Time, interval int, symbol string, pt market.PriceType) (*series.Series, error) {
	path, ok := bybitKlinePaths[pt]
	if !ok || !market.Bybit.Supports(pt) {
		return nil, fmt.Errorf("bybit %s: %w", pt, ErrUnsupportedPriceType)
	}
	natives := make([]int, 0, len(bybitIntervals))
	for n := range bybitIntervals {
		natives = append(natives, n)
	}
	now := b.rest.now()
	category := bybitCategory(symbol)
	return fetchForward(ctx, prev, start, interval, natives, now, func(ctx context.Context, from time.Time, native int) ([]series.Row, time.Time, error) {
		step := time.Duration(native) * time.Second
		end := windowEnd(from, step, bybitPageLimit, now)
		q := url.Values{}
		q.Set("category", category)
		q.Set("symbol", symbol)
		q.Set("interval", bybitIntervals[native])
		q.Set("start", strconv.FormatInt(from.UnixMilli(), 10))
		q.Set("end", strconv.FormatInt(end.UnixMilli()-1, 10))
		q.Set("limit", strconv.Itoa(bybitPageLimit))
		res, err := b.get(ctx, path, q)
		if err != nil {
			return nil, time.Time{}, err
		}
		list := res.Get("result.list").Array()
		rows := make([]series.Row, 0, len(list))
		volIdx := 5
		if pt != market.PriceNone {
			volIdx = -1
		}
		for _, item := range list {
			arr := item.Array()
			if len(arr) == 0 {
				continue
			}
			ts := time.UnixMilli(arr[0].Int())
			row, err := candleFromArray(ts, arr, volIdx)
			if err != nil {
				return nil, time.Time{}, fmt.Errorf("bybit %s: %w", symbol, err)
			}
			rows = append(rows, row)
		}
		return rows, end, nil
	})
}

// FetchFundingRate is not used: bybit funding is derived from the premium
// index by the store.
func (b *Bybit) FetchFundingRate(ctx context.Context, prev *series.Series, start time.Time, symbol string) (*series.Series, error) {
	return nil, fmt.Errorf("bybit: %w", ErrNoFundingRate)
}

func (b *Bybit) ListMarkets(ctx context.Context) ([]string, error) {
	var out []string
	for _, category := range []string{"linear", "inverse"} {
		cursor := ""
		for {
			q := url.Values{}
			q.Set("category", category)
			q.Set("limit", "1000")
			if cursor != "" {
				q.Set("cursor", cursor)
			}
			res, err := b.get(ctx, "/v5/market/instruments-info", q)
			if err != nil {
				return nil, err
			}
			res.Get("result.list").ForEach(func(_, item gjson.Result) bool {
				if item.Get("status").String() == "Trading" {
					out = append(out, item.Get("symbol").String())
				}
				return true
			})
			cursor = res.Get("result.nextPageCursor").String()
			if cursor == "" {
				break
			}
		}
	}
	return out, nil
}

func (b *Bybit) get(ctx context.Context, path string, q url.Values) (gjson.Result, error) {
	res, err := b.rest.getJSON(ctx, path, q)
	if err != nil {
		return res, err
	}
	if code := res.Get("retCode").Int(); code != 0 {
		return res, &APIError{Exchange: "bybit", Code: strconv.FormatInt(code, 10), Msg: res.Get("retMsg").String()}
	}
	return res, nil
}
