package series

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func minute(i int) time.Time { return t0.Add(time.Duration(i) * time.Minute) }

func bar(i int, c float64) Row { return Candle(minute(i), c, c+1, c-1, c, 10) }

func times(s *Series) []time.Time {
	out := make([]time.Time, 0, s.Len())
	if s == nil {
		return out
	}
	for _, r := range s.Rows {
		out = append(out, r.Time)
	}
	return out
}

func closes(s *Series) []float64 {
	out := make([]float64, 0, s.Len())
	for _, r := range s.Rows {
		out = append(out, r.Close)
	}
	return out
}

func TestNormalizeSortsAndKeepsLastDuplicate(t *testing.T) {
	rows := Normalize([]Row{bar(2, 3), bar(0, 1), bar(2, 99), bar(1, 2)})
	s := &Series{Rows: rows}
	assert.Equal(t, []time.Time{minute(0), minute(1), minute(2)}, times(s))
	assert.Equal(t, []float64{1, 2, 99}, closes(s))
	assert.NoError(t, s.Validate())
}

func TestExtendKeepsSettledRows(t *testing.T) {
	prev := New([]Row{bar(0, 1), bar(1, 2)})

	next := Extend(prev, []Row{bar(1, 50), bar(2, 3), bar(3, 4)})

	assert.Equal(t, []float64{1, 2, 3, 4}, closes(next))
	assert.Equal(t, []float64{1, 2}, closes(prev), "prev must not be mutated")
}

func TestExtendNilAndEmpty(t *testing.T) {
	assert.Nil(t, Extend(nil, nil))

	s := Extend(nil, []Row{bar(1, 2), bar(0, 1)})
	require.NotNil(t, s)
	assert.Equal(t, []float64{1, 2}, closes(s))

	same := Extend(s, nil)
	assert.Equal(t, closes(s), closes(same))
}

func TestCloneIsIndependent(t *testing.T) {
	s := New([]Row{bar(0, 1)})
	c := s.Clone()
	c.Rows[0].Close = 42
	assert.Equal(t, 1.0, s.Rows[0].Close)
	assert.Nil(t, (*Series)(nil).Clone())
}

func TestWindowIsHalfOpen(t *testing.T) {
	s := New([]Row{bar(0, 1), bar(1, 2), bar(2, 3), bar(3, 4)})

	assert.Equal(t, []float64{2, 3}, closes(s.Window(minute(1), minute(3))))
	assert.Equal(t, []float64{1, 2, 3, 4}, closes(s.Window(time.Time{}, time.Time{})))
	assert.Equal(t, []float64{3, 4}, closes(s.Window(minute(2), time.Time{})))
	assert.Equal(t, 0, s.Window(minute(3), minute(1)).Len())
}

func TestBounds(t *testing.T) {
	_, _, ok := (*Series)(nil).Bounds()
	assert.False(t, ok)

	lo, hi, ok := New([]Row{bar(5, 1), bar(2, 1)}).Bounds()
	require.True(t, ok)
	assert.Equal(t, minute(2), lo)
	assert.Equal(t, minute(5), hi)
}

func TestValidateRejectsDuplicates(t *testing.T) {
	s := &Series{Rows: []Row{bar(0, 1), bar(0, 2)}}
	assert.Error(t, s.Validate())
}

func TestDropUnclosed(t *testing.T) {
	rows := []Row{bar(0, 1), bar(1, 2), bar(2, 3)}
	now := minute(2).Add(30 * time.Second)

	kept := DropUnclosed(rows, time.Minute, now)
	assert.Len(t, kept, 2)

	kept = DropUnclosed(rows, time.Minute, minute(3))
	assert.Len(t, kept, 3)
}

func TestFloor(t *testing.T) {
	at := time.Date(2024, 1, 1, 15, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), Floor(at, 8*time.Hour))
	assert.Equal(t, time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC), Floor(at, time.Hour))
}

func TestResample(t *testing.T) {
	rows := []Row{
		Candle(minute(0), 1, 5, 0.5, 2, 1),
		Candle(minute(1), 2, 6, 1, 3, 2),
		Candle(minute(2), 3, 4, 0.1, 4, math.NaN()),
		Candle(minute(3), 4, 4, 4, 4, 4),
	}
	out := Resample(rows, 3*time.Minute)
	require.Len(t, out, 2)

	assert.Equal(t, minute(0), out[0].Time)
	assert.Equal(t, 1.0, out[0].Open)
	assert.Equal(t, 6.0, out[0].High)
	assert.Equal(t, 0.1, out[0].Low)
	assert.Equal(t, 4.0, out[0].Close)
	assert.Equal(t, 3.0, out[0].Volume)

	assert.Equal(t, minute(3), out[1].Time)
	assert.Equal(t, 4.0, out[1].Close)
}

func TestParquetRoundTrip(t *testing.T) {
	s := New([]Row{
		Candle(minute(0), 1, 2, 0.5, 1.5, 100),
		Candle(minute(1), 1.5, 2.5, 1, 2, math.NaN()),
		Funding(minute(2), 0.0001),
	})

	var buf bytes.Buffer
	require.NoError(t, WriteParquet(&buf, s))

	got, err := ReadParquet(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Equal(t, s.Len(), got.Len())
	assert.Equal(t, times(s), times(got))
	assert.Equal(t, 1.5, got.Rows[0].Close)
	assert.Equal(t, 100.0, got.Rows[0].Volume)
	assert.True(t, IsMissing(got.Rows[1].Volume))
	assert.True(t, IsMissing(got.Rows[0].FR))
	assert.Equal(t, 0.0001, got.Rows[2].FR)
	assert.True(t, IsMissing(got.Rows[2].Close))
}
