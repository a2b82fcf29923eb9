package market

import (
	"context"
	"time"

	"candlecache/internal/series"
)

// Fetcher pulls series from one exchange. Both methods are incremental: given
// prev they return a series that extends it up to now without touching rows
// already in prev; given nil they return the history from start. A nil result
// with a nil error means the market has no data.
type Fetcher interface {
	FetchOHLCV(ctx context.Context, prev *series.Series, start time.Time, interval int, market string, pt PriceType) (*series.Series, error)
	FetchFundingRate(ctx context.Context, prev *series.Series, start time.Time, market string) (*series.Series, error)
}

// Lister enumerates the markets an exchange currently trades.
type Lister interface {
	ListMarkets(ctx context.Context) ([]string, error)
}

// Client is the full capability set an exchange adapter provides.
type Client interface {
	Fetcher
	Lister
}
