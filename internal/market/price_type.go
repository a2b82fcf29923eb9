package market

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownPriceType = errors.New("unknown price type")

// PriceType selects which price reference an OHLCV series is built from.
// The zero value is the traded price.
type PriceType string

const (
	PriceNone         PriceType = ""
	PriceMark         PriceType = "mark"
	PriceIndex        PriceType = "index"
	PricePremiumIndex PriceType = "premium_index"
)

func ParsePriceType(raw string) (PriceType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none":
		return PriceNone, nil
	case "mark":
		return PriceMark, nil
	case "index":
		return PriceIndex, nil
	case "premium_index":
		return PricePremiumIndex, nil
	default:
		return PriceNone, fmt.Errorf("%w: %q", ErrUnknownPriceType, raw)
	}
}

// String is the form used in cache keys; the traded price prints as "none".
func (p PriceType) String() string {
	if p == PriceNone {
		return "none"
	}
	return string(p)
}
