package exchange

import (
	"context"
	"fmt"
	"sort"
	"time"

	"candlecache/internal/series"
)

// pageFunc returns candles of native interval (seconds) at or after from.
// scanned is the exclusive end of the range the request covered; windowed
// APIs use it to step over empty stretches. A zero scanned with an empty
// page ends the fetch.
type pageFunc func(ctx context.Context, from time.Time, native int) (rows []series.Row, scanned time.Time, err error)

// eventPageFunc is pageFunc for point-in-time rows such as funding settlements.
type eventPageFunc func(ctx context.Context, from time.Time) (rows []series.Row, scanned time.Time, err error)

// maxPages bounds one incremental fetch so a misbehaving API cannot loop
// forever.
const maxPages = 10000

// nativeFor picks the largest native interval that evenly divides interval.
func nativeFor(interval int, natives []int) (int, error) {
	sorted := append([]int(nil), natives...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
	for _, n := range sorted {
		if n > 0 && interval%n == 0 {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: %ds", ErrUnsupportedInterval, interval)
}

// resumeFrom is where an incremental fetch starts: one step after the last
// cached row, otherwise start rounded up to the interval.
func resumeFrom(prev *series.Series, start time.Time, step time.Duration) time.Time {
	if last, ok := prev.Last(); ok {
		return last.Time.Add(step)
	}
	aligned := series.Floor(start, step)
	if aligned.Before(start) {
		aligned = aligned.Add(step)
	}
	return aligned
}

// pageAll walks pages from "from" until now. gap is added to the last row to
// get the next cursor.
func pageAll(ctx context.Context, from, now time.Time, gap time.Duration, page func(ctx context.Context, from time.Time) ([]series.Row, time.Time, error)) ([]series.Row, error) {
	var rows []series.Row
	cursor := from
	for i := 0; i < maxPages && cursor.Before(now); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, scanned, err := page(ctx, cursor)
		if err != nil {
			return nil, err
		}
		batch = series.Normalize(batch)
		next := scanned
		if len(batch) > 0 {
			next = batch[len(batch)-1].Time.Add(gap)
			rows = append(rows, batch...)
		}
		if next.IsZero() || !next.After(cursor) {
			break
		}
		cursor = next
	}
	return series.Normalize(rows), nil
}

func keepBetween(rows []series.Row, from, until time.Time) []series.Row {
	kept := rows[:0]
	for _, r := range rows {
		if r.Time.Before(from) || (!until.IsZero() && r.Time.After(until)) {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// fetchForward pages candles from the resume point up to now, resamples them
// when interval is not native, drops the unfinished bar and extends prev.
func fetchForward(ctx context.Context, prev *series.Series, start time.Time, interval int, natives []int, now time.Time, page pageFunc) (*series.Series, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %ds", ErrUnsupportedInterval, interval)
	}
	native, err := nativeFor(interval, natives)
	if err != nil {
		return nil, err
	}
	step := time.Duration(interval) * time.Second
	nativeStep := time.Duration(native) * time.Second
	from := resumeFrom(prev, start, step)

	rows, err := pageAll(ctx, from, now, nativeStep, func(ctx context.Context, cursor time.Time) ([]series.Row, time.Time, error) {
		return page(ctx, cursor, native)
	})
	if err != nil {
		return nil, err
	}
	rows = keepBetween(rows, from, time.Time{})
	if native != interval {
		rows = series.Resample(rows, step)
	}
	rows = series.DropUnclosed(rows, step, now)
	return series.Extend(prev, rows), nil
}

// fetchEventsForward pages irregular rows such as funding settlements. Rows
// dated after now are dropped.
func fetchEventsForward(ctx context.Context, prev *series.Series, start, now time.Time, page eventPageFunc) (*series.Series, error) {
	from := start
	if last, ok := prev.Last(); ok {
		from = last.Time.Add(time.Millisecond)
	}
	rows, err := pageAll(ctx, from, now, time.Millisecond, page)
	if err != nil {
		return nil, err
	}
	return series.Extend(prev, keepBetween(rows, from, now)), nil
}

// windowEnd caps a request window of n steps from "from" at now.
func windowEnd(from time.Time, step time.Duration, n int, now time.Time) time.Time {
	end := from.Add(step * time.Duration(n))
	if end.After(now) {
		return now
	}
	return end
}
