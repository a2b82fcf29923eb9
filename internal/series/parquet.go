package series

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/parquet-go/parquet-go"
)

// fileRow is the on-disk layout of a cached series. Every value column is
// optional; NaN round-trips as null.
type fileRow struct {
	Timestamp int64    `parquet:"timestamp,timestamp(millisecond)"`
	Open      *float64 `parquet:"open,optional"`
	High      *float64 `parquet:"high,optional"`
	Low       *float64 `parquet:"low,optional"`
	Close     *float64 `parquet:"close,optional"`
	Volume    *float64 `parquet:"volume,optional"`
	FR        *float64 `parquet:"fr,optional"`
}

func WriteParquet(w io.Writer, s *Series) error {
	rows := make([]fileRow, 0, s.Len())
	if s != nil {
		for _, r := range s.Rows {
			rows = append(rows, fileRow{
				Timestamp: r.Time.UnixMilli(),
				Open:      Nullable(r.Open),
				High:      Nullable(r.High),
				Low:       Nullable(r.Low),
				Close:     Nullable(r.Close),
				Volume:    Nullable(r.Volume),
				FR:        Nullable(r.FR),
			})
		}
	}
	if err := parquet.Write(w, rows); err != nil {
		return fmt.Errorf("write parquet: %w", err)
	}
	return nil
}

func ReadParquet(r io.ReaderAt, size int64) (*Series, error) {
	rows, err := parquet.Read[fileRow](r, size)
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	return fromFileRows(rows), nil
}

func ReadParquetFile(path string) (*Series, error) {
	rows, err := parquet.ReadFile[fileRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return fromFileRows(rows), nil
}

func fromFileRows(rows []fileRow) *Series {
	out := make([]Row, 0, len(rows))
	for _, fr := range rows {
		out = append(out, Row{
			Time:   time.UnixMilli(fr.Timestamp).UTC(),
			Open:   deref(fr.Open),
			High:   deref(fr.High),
			Low:    deref(fr.Low),
			Close:  deref(fr.Close),
			Volume: deref(fr.Volume),
			FR:     deref(fr.FR),
		})
	}
	return New(out)
}

func deref(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
