package store

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"candlecache/internal/market"
	"candlecache/internal/series"
)

type fundingSource int

const (
	fundingAbsent fundingSource = iota
	fundingDirect
	fundingDerived
)

// fundingPolicy says where an exchange's funding rates come from and which
// markets have them at all.
type fundingPolicy struct {
	source   fundingSource
	eligible func(mkt string) bool
}

// fundingPolicies must have a row for every market.Exchange.
var fundingPolicies = map[market.Exchange]fundingPolicy{
	market.Bybit:         {source: fundingDerived, eligible: noDigit},
	market.FTX:           {source: fundingDirect, eligible: func(m string) bool { return strings.Contains(m, "-PERP") }},
	market.Gate:          {source: fundingDirect, eligible: func(m string) bool { return strings.HasSuffix(m, "_USDT") }},
	market.BinanceFuture: {source: fundingAbsent},
	market.BinanceSpot:   {source: fundingAbsent},
	market.Okex:          {source: fundingAbsent},
	market.Kraken:        {source: fundingAbsent},
}

// Dated futures carry their expiry in the symbol (BTCUSDU21).
func noDigit(mkt string) bool {
	return !strings.ContainsAny(mkt, "0123456789")
}

const (
	fundingBucket     = 8 * time.Hour
	fundingShift      = 2
	fundingClampBound = 0.0005
	// interest rate per 8h settlement: (quote rate - base rate) / 3.
	fundingInterestRate = (0.0006 - 0.0003) / 3.0
)

// GetFundingRate returns the funding-rate series of a market, or nil when the
// exchange or market has none.
func (s *Store) GetFundingRate(ctx context.Context, ex market.Exchange, mkt string, force bool) (*series.Series, error) {
	policy, ok := fundingPolicies[ex]
	if !ok {
		return nil, fmt.Errorf("%w: %q", market.ErrUnknownExchange, ex)
	}
	if policy.source == fundingAbsent || !policy.eligible(mkt) {
		return nil, nil
	}
	if policy.source == fundingDerived {
		pi, err := s.GetOHLCV(ctx, ex, mkt, 60, market.PricePremiumIndex, force)
		if err != nil {
			return nil, err
		}
		return deriveFunding(pi), nil
	}
	return s.fetchFunding(ctx, ex, mkt, force)
}

// deriveFunding turns a 1-minute premium index into settlement funding rates.
// The premium closes are averaged per 8h bucket, the interest term is added
// with the premium difference clamped, and each value is moved 2 buckets
// forward to the settlement it pays at. Buckets without a value are dropped.
func deriveFunding(pi *series.Series) *series.Series {
	if pi.Len() == 0 {
		return nil
	}
	type bucket struct {
		t   time.Time
		sum float64
		n   int
	}
	var buckets []bucket
	for _, r := range pi.Rows {
		t := series.Floor(r.Time, fundingBucket)
		if len(buckets) == 0 || !buckets[len(buckets)-1].t.Equal(t) {
			buckets = append(buckets, bucket{t: t})
		}
		if series.IsMissing(r.Close) {
			continue
		}
		b := &buckets[len(buckets)-1]
		b.sum += r.Close
		b.n++
	}

	raw := make([]float64, len(buckets))
	for i, b := range buckets {
		if b.n == 0 {
			raw[i] = math.NaN()
			continue
		}
		avg := b.sum / float64(b.n)
		raw[i] = avg + clamp(fundingInterestRate-avg, -fundingClampBound, fundingClampBound)
	}

	rows := make([]series.Row, 0, len(buckets))
	for i := fundingShift; i < len(buckets); i++ {
		fr := raw[i-fundingShift]
		if math.IsNaN(fr) {
			continue
		}
		rows = append(rows, series.Funding(buckets[i].t, fr))
	}
	if len(rows) == 0 {
		return nil
	}
	return &series.Series{Rows: rows}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
