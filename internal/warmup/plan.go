package warmup

import (
	"strings"

	"candlecache/internal/market"
)

// plan is what one exchange's warmup cycle fetches.
type plan struct {
	intervals  []int
	priceTypes []market.PriceType
	// keep filters the listed markets; nil keeps all.
	keep func(mkt string) bool
}

var noneOnly = []market.PriceType{market.PriceNone}

var plans = map[market.Exchange]plan{
	market.Bybit: {
		intervals:  []int{60, 180, 300, 900, 1800, 3600, 7200, 14400, 21600, 28800, 43200, 86400},
		priceTypes: []market.PriceType{market.PriceNone, market.PriceMark, market.PriceIndex, market.PricePremiumIndex},
		keep:       func(m string) bool { return !strings.ContainsAny(m, "0123456789") },
	},
	market.BinanceSpot: {
		intervals:  []int{60, 180, 300, 900, 1800, 3600, 7200, 14400, 21600, 28800, 43200, 86400},
		priceTypes: noneOnly,
	},
	market.BinanceFuture: {
		intervals:  []int{60, 180, 300, 900, 1800, 3600, 7200, 14400, 21600, 28800, 43200, 86400},
		priceTypes: noneOnly,
	},
	market.Kraken: {
		intervals:  []int{60, 300, 900, 1800, 3600, 14400, 86400, 604800},
		priceTypes: noneOnly,
		keep:       func(m string) bool { return strings.HasSuffix(m, "USD") },
	},
	market.Okex: {
		intervals:  []int{60, 180, 300, 900, 1800, 3600, 7200, 14400, 21600, 43200, 86400},
		priceTypes: noneOnly,
	},
	market.FTX: {
		intervals:  []int{60, 300, 900, 3600, 14400, 86400},
		priceTypes: noneOnly,
	},
	market.Gate: {
		intervals:  []int{60, 300, 900, 1800, 3600, 14400, 28800, 86400},
		priceTypes: noneOnly,
	},
}

// alwaysFetched is the bybit 1-minute premium index that funding rates are
// derived from; min_interval never skips it.
func alwaysFetched(ex market.Exchange, interval int, pt market.PriceType) bool {
	return ex == market.Bybit && interval == 60 && pt == market.PricePremiumIndex
}

type task struct {
	market    string
	interval  int
	priceType market.PriceType
}

// tasks expands the plan over the listed markets in market, interval, price
// type order.
func (p plan) tasks(ex market.Exchange, markets []string, minInterval int) []task {
	var out []task
	for _, m := range markets {
		if p.keep != nil && !p.keep(m) {
			continue
		}
		for _, iv := range p.intervals {
			for _, pt := range p.priceTypes {
				if minInterval > 0 && iv < minInterval && !alwaysFetched(ex, iv, pt) {
					continue
				}
				out = append(out, task{market: m, interval: iv, priceType: pt})
			}
		}
	}
	return out
}
