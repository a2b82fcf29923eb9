package market

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownExchange is returned for identifiers outside the supported set.
var ErrUnknownExchange = errors.New("unknown exchange")

// Exchange identifies one upstream venue. The set is closed: every value
// used by the store must appear in exchangeTable.
type Exchange string

const (
	Bybit         Exchange = "bybit"
	FTX           Exchange = "ftx"
	BinanceFuture Exchange = "binance_future"
	BinanceSpot   Exchange = "binance_spot"
	Okex          Exchange = "okex"
	Kraken        Exchange = "kraken"
	Gate          Exchange = "gate"
)

type exchangeInfo struct {
	// priceTypes lists the OHLCV price references the fetcher can serve.
	priceTypes []PriceType
}

var exchangeOrder = []Exchange{Bybit, FTX, BinanceFuture, BinanceSpot, Okex, Kraken, Gate}

var exchangeTable = map[Exchange]exchangeInfo{
	Bybit:         {priceTypes: []PriceType{PriceNone, PriceMark, PriceIndex, PricePremiumIndex}},
	FTX:           {priceTypes: []PriceType{PriceNone, PriceIndex}},
	BinanceFuture: {priceTypes: []PriceType{PriceNone}},
	BinanceSpot:   {priceTypes: []PriceType{PriceNone}},
	Okex:          {priceTypes: []PriceType{PriceNone}},
	Kraken:        {priceTypes: []PriceType{PriceNone}},
	Gate:          {priceTypes: []PriceType{PriceNone, PriceMark, PriceIndex}},
}

// Exchanges returns every supported exchange in a stable order.
func Exchanges() []Exchange {
	return append([]Exchange(nil), exchangeOrder...)
}

func ParseExchange(raw string) (Exchange, error) {
	ex := Exchange(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := exchangeTable[ex]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownExchange, raw)
	}
	return ex, nil
}

func (e Exchange) Valid() bool {
	_, ok := exchangeTable[e]
	return ok
}

func (e Exchange) String() string { return string(e) }

// Supports reports whether OHLCV for price type pt can be fetched from e.
func (e Exchange) Supports(pt PriceType) bool {
	for _, p := range exchangeTable[e].priceTypes {
		if p == pt {
			return true
		}
	}
	return false
}
