package query

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"candlecache/internal/market"
)

// ErrBadRequest marks request validation failures.
var ErrBadRequest = errors.New("bad request")

// Request selects candles of one exchange for a set of markets.
type Request struct {
	Exchange market.Exchange
	Markets  []string
	Interval int
	// Start and End bound timestamps to [Start, End); zero is open.
	Start time.Time
	End   time.Time
	Mark  bool
	Index bool
}

// ParseRequest reads the /ohlcv.parquet query string. Markets are
// deduplicated and sorted.
func ParseRequest(q url.Values) (Request, error) {
	var req Request
	ex, err := market.ParseExchange(q.Get("exchange"))
	if err != nil {
		return req, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	req.Exchange = ex

	seen := make(map[string]struct{})
	for _, m := range strings.Split(q.Get("markets"), ",") {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		req.Markets = append(req.Markets, m)
	}
	if len(req.Markets) == 0 {
		return req, fmt.Errorf("%w: markets is required", ErrBadRequest)
	}
	sort.Strings(req.Markets)

	req.Interval, err = strconv.Atoi(strings.TrimSpace(q.Get("interval")))
	if err != nil || req.Interval <= 0 {
		return req, fmt.Errorf("%w: interval must be a positive number of seconds", ErrBadRequest)
	}

	if req.Start, err = parseUnixSeconds(q.Get("start_time")); err != nil {
		return req, fmt.Errorf("%w: start_time: %v", ErrBadRequest, err)
	}
	if req.End, err = parseUnixSeconds(q.Get("end_time")); err != nil {
		return req, fmt.Errorf("%w: end_time: %v", ErrBadRequest, err)
	}
	if req.Mark, err = parseFlag(q.Get("mark")); err != nil {
		return req, fmt.Errorf("%w: mark: %v", ErrBadRequest, err)
	}
	if req.Index, err = parseFlag(q.Get("index")); err != nil {
		return req, fmt.Errorf("%w: index: %v", ErrBadRequest, err)
	}
	return req, nil
}

func parseUnixSeconds(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, fmt.Errorf("invalid unix time %q", raw)
	}
	if math.Abs(f) > maxUnixSeconds {
		return time.Time{}, fmt.Errorf("unix time %q out of range", raw)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

// maxUnixSeconds bounds start_time/end_time so the int64 conversion is exact.
const maxUnixSeconds = 1 << 40

func parseFlag(raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return false, fmt.Errorf("invalid flag %q", raw)
	}
	return n != 0, nil
}
