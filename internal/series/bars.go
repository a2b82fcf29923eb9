package series

import (
	"math"
	"time"
)

// Floor aligns t down to a multiple of step counted from the unix epoch.
func Floor(t time.Time, step time.Duration) time.Time {
	ms := step.Milliseconds()
	if ms <= 0 {
		return t
	}
	ts := t.UnixMilli()
	rem := ts % ms
	if rem < 0 {
		rem += ms
	}
	return time.UnixMilli(ts - rem).UTC()
}

// DropUnclosed trims trailing candles whose period has not finished at now.
// Exchanges return the in-progress candle last; caching it would freeze a
// partial bar because the store never rewrites settled rows.
func DropUnclosed(rows []Row, interval time.Duration, now time.Time) []Row {
	if interval <= 0 {
		return rows
	}
	n := len(rows)
	for n > 0 && rows[n-1].Time.Add(interval).After(now) {
		n--
	}
	return rows[:n]
}

// Resample aggregates candles into buckets of interval: first open, max high,
// min low, last close, summed volume. Missing values are skipped; a bucket
// whose inputs are all missing keeps NaN for that column.
func Resample(rows []Row, interval time.Duration) []Row {
	rows = Normalize(rows)
	if len(rows) == 0 || interval <= 0 {
		return rows
	}
	out := make([]Row, 0, len(rows))
	var cur Row
	open := false
	for _, r := range rows {
		bucket := Floor(r.Time, interval)
		if !open || !bucket.Equal(cur.Time) {
			if open {
				out = append(out, cur)
			}
			cur = Candle(bucket, r.Open, r.High, r.Low, r.Close, r.Volume)
			open = true
			continue
		}
		if IsMissing(cur.Open) {
			cur.Open = r.Open
		}
		cur.High = nanMax(cur.High, r.High)
		cur.Low = nanMin(cur.Low, r.Low)
		if !IsMissing(r.Close) {
			cur.Close = r.Close
		}
		cur.Volume = nanSum(cur.Volume, r.Volume)
	}
	if open {
		out = append(out, cur)
	}
	return out
}

func nanMax(a, b float64) float64 {
	switch {
	case IsMissing(a):
		return b
	case IsMissing(b):
		return a
	}
	return math.Max(a, b)
}

func nanMin(a, b float64) float64 {
	switch {
	case IsMissing(a):
		return b
	case IsMissing(b):
		return a
	}
	return math.Min(a, b)
}

func nanSum(a, b float64) float64 {
	switch {
	case IsMissing(a):
		return b
	case IsMissing(b):
		return a
	}
	return a + b
}
