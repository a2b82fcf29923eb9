// Package query assembles the /ohlcv.parquet table: candles joined with
// funding rates and optional mark/index prices, one block per market.
package query

import (
	"context"
	"fmt"
	"io"
	"time"

	"candlecache/internal/logger"
	"candlecache/internal/market"
	"candlecache/internal/series"

	"github.com/parquet-go/parquet-go"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds how many markets are loaded at once.
const DefaultWorkers = 16

// Store is the read side of store.Store.
type Store interface {
	GetOHLCV(ctx context.Context, ex market.Exchange, mkt string, interval int, pt market.PriceType, force bool) (*series.Series, error)
	GetFundingRate(ctx context.Context, ex market.Exchange, mkt string, force bool) (*series.Series, error)
}

// Record is one output row. Mark and index columns are null unless requested
// and served by the exchange.
type Record struct {
	Market    string   `parquet:"market"`
	Timestamp int64    `parquet:"timestamp,timestamp(millisecond)"`
	Op        *float64 `parquet:"op,optional"`
	Hi        *float64 `parquet:"hi,optional"`
	Lo        *float64 `parquet:"lo,optional"`
	Cl        *float64 `parquet:"cl,optional"`
	Volume    *float64 `parquet:"volume,optional"`
	FR        *float64 `parquet:"fr,optional"`
	OpMark    *float64 `parquet:"op_mark,optional"`
	HiMark    *float64 `parquet:"hi_mark,optional"`
	LoMark    *float64 `parquet:"lo_mark,optional"`
	ClMark    *float64 `parquet:"cl_mark,optional"`
	OpIndex   *float64 `parquet:"op_index,optional"`
	HiIndex   *float64 `parquet:"hi_index,optional"`
	LoIndex   *float64 `parquet:"lo_index,optional"`
	ClIndex   *float64 `parquet:"cl_index,optional"`
}

func (r Record) Time() time.Time { return time.UnixMilli(r.Timestamp).UTC() }

type Composer struct {
	store   Store
	workers int
}

func NewComposer(st Store, workers int) *Composer {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Composer{store: st, workers: workers}
}

// Compose loads every market concurrently and returns the rows sorted by
// (market, timestamp). Markets that fail or have no candles are logged and
// left out; an all-empty result is not an error.
func (c *Composer) Compose(ctx context.Context, req Request) ([]Record, error) {
	blocks := make([][]Record, len(req.Markets))
	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, mkt := range req.Markets {
		i, mkt := i, mkt
		g.Go(func() error {
			recs, err := c.market(ctx, req, mkt)
			if err != nil {
				logger.Warnf("query: skip %s %s interval=%d: %v", req.Exchange, mkt, req.Interval, err)
				return nil
			}
			blocks[i] = recs
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// req.Markets is sorted and each block is time ordered.
	total := 0
	for _, b := range blocks {
		total += len(b)
	}
	out := make([]Record, 0, total)
	for _, b := range blocks {
		out = append(out, b...)
	}
	return out, nil
}

func (c *Composer) market(ctx context.Context, req Request, mkt string) ([]Record, error) {
	ohlcv, err := c.store.GetOHLCV(ctx, req.Exchange, mkt, req.Interval, market.PriceNone, false)
	if err != nil {
		return nil, err
	}
	if ohlcv.Len() == 0 {
		logger.Warnf("query: no candles %s %s interval=%d", req.Exchange, mkt, req.Interval)
		return nil, nil
	}
	fr, err := c.store.GetFundingRate(ctx, req.Exchange, mkt, false)
	if err != nil {
		return nil, fmt.Errorf("funding: %w", err)
	}
	var mark, index *series.Series
	if req.Mark && req.Exchange.Supports(market.PriceMark) {
		if mark, err = c.store.GetOHLCV(ctx, req.Exchange, mkt, req.Interval, market.PriceMark, false); err != nil {
			return nil, fmt.Errorf("mark: %w", err)
		}
	}
	if req.Index && req.Exchange.Supports(market.PriceIndex) {
		if index, err = c.store.GetOHLCV(ctx, req.Exchange, mkt, req.Interval, market.PriceIndex, false); err != nil {
			return nil, fmt.Errorf("index: %w", err)
		}
	}
	return join(mkt, ohlcv.Window(req.Start, req.End), fr, mark, index), nil
}

// join left-joins funding, mark and index rows onto the candles by timestamp.
func join(mkt string, ohlcv, fr, mark, index *series.Series) []Record {
	frIdx, markIdx, indexIdx := fr.Index(), mark.Index(), index.Index()
	out := make([]Record, 0, ohlcv.Len())
	for _, r := range ohlcv.Rows {
		ts := r.Time.UnixMilli()
		rec := Record{
			Market:    mkt,
			Timestamp: ts,
			Op:        series.Nullable(r.Open),
			Hi:        series.Nullable(r.High),
			Lo:        series.Nullable(r.Low),
			Cl:        series.Nullable(r.Close),
			Volume:    series.Nullable(r.Volume),
		}
		if i, ok := frIdx[ts]; ok {
			rec.FR = series.Nullable(fr.Rows[i].FR)
		}
		if i, ok := markIdx[ts]; ok {
			m := mark.Rows[i]
			rec.OpMark, rec.HiMark, rec.LoMark, rec.ClMark = series.Nullable(m.Open), series.Nullable(m.High), series.Nullable(m.Low), series.Nullable(m.Close)
		}
		if i, ok := indexIdx[ts]; ok {
			x := index.Rows[i]
			rec.OpIndex, rec.HiIndex, rec.LoIndex, rec.ClIndex = series.Nullable(x.Open), series.Nullable(x.High), series.Nullable(x.Low), series.Nullable(x.Close)
		}
		out = append(out, rec)
	}
	return out
}

// WriteParquet encodes records as one parquet file.
func WriteParquet(w io.Writer, recs []Record) error {
	if err := parquet.Write(w, recs); err != nil {
		return fmt.Errorf("encode ohlcv parquet: %w", err)
	}
	return nil
}

// ReadParquet decodes a file written by WriteParquet.
func ReadParquet(r io.ReaderAt, size int64) ([]Record, error) {
	recs, err := parquet.Read[Record](r, size)
	if err != nil {
		return nil, fmt.Errorf("decode ohlcv parquet: %w", err)
	}
	return recs, nil
}
