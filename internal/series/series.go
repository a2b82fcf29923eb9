// Package series holds the time-indexed tables the store caches: candles and
// funding rates keyed by a strictly increasing timestamp.
package series

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Row is one timestamp of a series. Columns that do not apply to the series
// (FR on candles, OHLCV on funding rates) and gaps hold NaN.
type Row struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	FR     float64
}

func Candle(t time.Time, open, high, low, close, volume float64) Row {
	return Row{Time: t.UTC(), Open: open, High: high, Low: low, Close: close, Volume: volume, FR: math.NaN()}
}

func Funding(t time.Time, fr float64) Row {
	nan := math.NaN()
	return Row{Time: t.UTC(), Open: nan, High: nan, Low: nan, Close: nan, Volume: nan, FR: fr}
}

func IsMissing(v float64) bool { return math.IsNaN(v) }

// Nullable maps NaN to nil for columnar encoders.
func Nullable(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// Series is an ordered table. A nil *Series means "no data" and every method
// accepts it.
type Series struct {
	Rows []Row
}

// New sorts rows by time and keeps the last row for duplicated timestamps.
func New(rows []Row) *Series {
	return &Series{Rows: Normalize(rows)}
}

func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Rows)
}

// Clone returns an independent copy; callers of the store only ever see clones.
func (s *Series) Clone() *Series {
	if s == nil {
		return nil
	}
	rows := make([]Row, len(s.Rows))
	copy(rows, s.Rows)
	return &Series{Rows: rows}
}

func (s *Series) First() (Row, bool) {
	if s.Len() == 0 {
		return Row{}, false
	}
	return s.Rows[0], true
}

func (s *Series) Last() (Row, bool) {
	if s.Len() == 0 {
		return Row{}, false
	}
	return s.Rows[len(s.Rows)-1], true
}

// Bounds returns the first and last timestamps.
func (s *Series) Bounds() (time.Time, time.Time, bool) {
	first, ok := s.First()
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	last, _ := s.Last()
	return first.Time, last.Time, true
}

// Validate checks that timestamps strictly increase.
func (s *Series) Validate() error {
	if s == nil {
		return nil
	}
	for i := 1; i < len(s.Rows); i++ {
		if !s.Rows[i].Time.After(s.Rows[i-1].Time) {
			return fmt.Errorf("row %d at %s does not follow %s", i, s.Rows[i].Time.Format(time.RFC3339), s.Rows[i-1].Time.Format(time.RFC3339))
		}
	}
	return nil
}

// Window returns the rows in [start, end). A zero bound is open.
func (s *Series) Window(start, end time.Time) *Series {
	if s == nil {
		return nil
	}
	lo := 0
	if !start.IsZero() {
		lo = sort.Search(len(s.Rows), func(i int) bool { return !s.Rows[i].Time.Before(start) })
	}
	hi := len(s.Rows)
	if !end.IsZero() {
		hi = sort.Search(len(s.Rows), func(i int) bool { return !s.Rows[i].Time.Before(end) })
	}
	if hi < lo {
		hi = lo
	}
	rows := make([]Row, hi-lo)
	copy(rows, s.Rows[lo:hi])
	return &Series{Rows: rows}
}

// Index maps each timestamp (unix ms) to its row position.
func (s *Series) Index() map[int64]int {
	out := make(map[int64]int, s.Len())
	if s == nil {
		return out
	}
	for i, r := range s.Rows {
		out[r.Time.UnixMilli()] = i
	}
	return out
}

// Normalize sorts by time and collapses duplicated timestamps, keeping the
// row that came last in the input.
func Normalize(rows []Row) []Row {
	if len(rows) == 0 {
		return nil
	}
	out := make([]Row, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	n := 0
	for i := range out {
		if n > 0 && out[i].Time.Equal(out[n-1].Time) {
			out[n-1] = out[i]
			continue
		}
		out[n] = out[i]
		n++
	}
	return out[:n]
}

// Extend appends the part of fresh that lies strictly after the last row of
// prev. Rows already in prev are never rewritten. Extending nil with nothing
// yields nil.
func Extend(prev *Series, fresh []Row) *Series {
	fresh = Normalize(fresh)
	if prev == nil {
		if len(fresh) == 0 {
			return nil
		}
		return &Series{Rows: fresh}
	}
	out := make([]Row, len(prev.Rows), len(prev.Rows)+len(fresh))
	copy(out, prev.Rows)
	last, ok := prev.Last()
	for _, r := range fresh {
		if ok && !r.Time.After(last.Time) {
			continue
		}
		out = append(out, r)
	}
	return &Series{Rows: out}
}
