package exchange

import (
	"fmt"
	"math"
	"strings"
	"time"

	"candlecache/internal/series"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// parseNum reads an exchange number given as text. Empty and null values are
// missing (NaN).
func parseNum(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return math.NaN(), nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return math.NaN(), fmt.Errorf("parse number %q: %w", raw, err)
	}
	f, _ := d.Float64()
	return f, nil
}

func jsonNum(r gjson.Result) (float64, error) {
	if !r.Exists() || r.Type == gjson.Null {
		return math.NaN(), nil
	}
	return parseNum(r.String())
}

// candleFromArray builds a candle from a positional [t, o, h, l, c, (v)]
// array. Fields after the close that are absent stay missing.
func candleFromArray(t time.Time, arr []gjson.Result, volIdx int) (series.Row, error) {
	if len(arr) < 5 {
		return series.Row{}, fmt.Errorf("short candle: %d fields", len(arr))
	}
	vals := [5]float64{}
	idx := [5]int{1, 2, 3, 4, volIdx}
	for i, pos := range idx {
		if pos < 0 || pos >= len(arr) {
			vals[i] = math.NaN()
			continue
		}
		v, err := jsonNum(arr[pos])
		if err != nil {
			return series.Row{}, err
		}
		vals[i] = v
	}
	return series.Candle(t, vals[0], vals[1], vals[2], vals[3], vals[4]), nil
}

// strNums parses a fixed list of numeric strings in order.
func strNums(raws ...string) ([]float64, error) {
	out := make([]float64, len(raws))
	for i, raw := range raws {
		v, err := parseNum(raw)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
