package market

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Kind separates candle entries from funding-rate entries in the cache.
type Kind string

const (
	KindOHLCV   Kind = "ohlcv"
	KindFunding Kind = "fr"
)

// Key identifies one cached series. It is comparable and used directly as a
// map key; String gives the stable serialized form.
type Key struct {
	Kind      Kind
	Exchange  Exchange
	Market    string
	Interval  int
	PriceType PriceType
}

func OHLCVKey(ex Exchange, market string, interval int, pt PriceType) Key {
	return Key{Kind: KindOHLCV, Exchange: ex, Market: market, Interval: interval, PriceType: pt}
}

func FundingKey(ex Exchange, market string) Key {
	return Key{Kind: KindFunding, Exchange: ex, Market: market}
}

// String serializes the key as comma separated name=value pairs. Market names
// are query-escaped, so ',', '=' and '/' never leak into the encoding and the
// result is safe as a file name.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(string(k.Kind))
	b.WriteString(",exchange=")
	b.WriteString(string(k.Exchange))
	b.WriteString(",market=")
	b.WriteString(url.QueryEscape(k.Market))
	if k.Kind == KindOHLCV {
		b.WriteString(",interval=")
		b.WriteString(strconv.Itoa(k.Interval))
		b.WriteString(",price_type=")
		b.WriteString(k.PriceType.String())
	}
	return b.String()
}

func ParseKey(raw string) (Key, error) {
	parts := strings.Split(raw, ",")
	if len(parts) == 0 {
		return Key{}, fmt.Errorf("empty key")
	}
	var k Key
	switch Kind(parts[0]) {
	case KindOHLCV:
		if len(parts) != 5 {
			return Key{}, fmt.Errorf("malformed ohlcv key %q", raw)
		}
		k.Kind = KindOHLCV
	case KindFunding:
		if len(parts) != 3 {
			return Key{}, fmt.Errorf("malformed fr key %q", raw)
		}
		k.Kind = KindFunding
	default:
		return Key{}, fmt.Errorf("unknown key kind in %q", raw)
	}
	for _, part := range parts[1:] {
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return Key{}, fmt.Errorf("malformed key field %q", part)
		}
		switch name {
		case "exchange":
			ex, err := ParseExchange(value)
			if err != nil {
				return Key{}, err
			}
			k.Exchange = ex
		case "market":
			m, err := url.QueryUnescape(value)
			if err != nil {
				return Key{}, fmt.Errorf("market in %q: %w", raw, err)
			}
			k.Market = m
		case "interval":
			iv, err := strconv.Atoi(value)
			if err != nil || iv <= 0 {
				return Key{}, fmt.Errorf("invalid interval in %q", raw)
			}
			k.Interval = iv
		case "price_type":
			pt, err := ParsePriceType(value)
			if err != nil {
				return Key{}, err
			}
			k.PriceType = pt
		default:
			return Key{}, fmt.Errorf("unexpected key field %q", name)
		}
	}
	if k.Exchange == "" || k.Market == "" {
		return Key{}, fmt.Errorf("incomplete key %q", raw)
	}
	if k.Kind == KindOHLCV && k.Interval == 0 {
		return Key{}, fmt.Errorf("missing interval in %q", raw)
	}
	return k, nil
}
