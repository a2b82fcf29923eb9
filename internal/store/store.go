// Package store is the per-key locked series cache. Each key holds one
// series that only grows through incremental fetches; callers always receive
// copies.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"candlecache/internal/logger"
	"candlecache/internal/market"
	"candlecache/internal/metrics"
	"candlecache/internal/series"
)

// Resolver returns the client for an exchange. exchange.Registry implements it.
type Resolver interface {
	Get(ex market.Exchange) (market.Client, error)
}

// Options configures a Store.
type Options struct {
	StartTime time.Time
	Persister Persister
	Metrics   *metrics.Metrics
}

type entry struct {
	mu     sync.Mutex
	data   *series.Series
	loaded bool
}

// Store maps keys to series. The table mutex only guards lazy entry creation;
// fetches hold the entry mutex alone, so different keys never wait on each
// other.
type Store struct {
	fetchers Resolver
	start    time.Time
	persist  Persister
	metrics  *metrics.Metrics

	mu      sync.Mutex
	entries map[market.Key]*entry
	cached  atomic.Int64
}

// New builds a store and pre-populates it from the persister when one is set.
func New(ctx context.Context, fetchers Resolver, opts Options) (*Store, error) {
	if fetchers == nil {
		return nil, errors.New("store: nil fetcher resolver")
	}
	s := &Store{
		fetchers: fetchers,
		start:    opts.StartTime.UTC(),
		persist:  opts.Persister,
		metrics:  opts.Metrics,
		entries:  make(map[market.Key]*entry),
	}
	if s.persist != nil {
		loaded, err := s.persist.LoadAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("store: load %s snapshots: %w", s.persist.Name(), err)
		}
		for key, data := range loaded {
			s.entries[key] = &entry{data: data, loaded: true}
		}
		s.cached.Store(int64(len(loaded)))
		logger.Infof("store: restored %d series from %s", len(loaded), s.persist.Name())
	}
	s.metrics.SetCachedSeries(len(s.entries))
	return s, nil
}

func (s *Store) StartTime() time.Time { return s.start }

// entry returns the entry for key, creating it on first use.
func (s *Store) entry(key market.Key) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	return e
}

// GetOHLCV returns the cached candles for the key, fetching when forced or
// when nothing was fetched yet. A nil series means the market has no data.
func (s *Store) GetOHLCV(ctx context.Context, ex market.Exchange, mkt string, interval int, pt market.PriceType, force bool) (*series.Series, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("store: invalid interval %d", interval)
	}
	fetcher, err := s.fetchers.Get(ex)
	if err != nil {
		return nil, err
	}
	key := market.OHLCVKey(ex, mkt, interval, pt)
	return s.load(ctx, key, force, func(prev *series.Series) (*series.Series, error) {
		return fetcher.FetchOHLCV(ctx, prev, s.start, interval, mkt, pt)
	})
}

// fetchFunding is the direct funding path shared by exchanges that publish a
// funding history.
func (s *Store) fetchFunding(ctx context.Context, ex market.Exchange, mkt string, force bool) (*series.Series, error) {
	fetcher, err := s.fetchers.Get(ex)
	if err != nil {
		return nil, err
	}
	key := market.FundingKey(ex, mkt)
	return s.load(ctx, key, force, func(prev *series.Series) (*series.Series, error) {
		return fetcher.FetchFundingRate(ctx, prev, s.start, mkt)
	})
}

// load runs the fetch/replace/copy protocol under the key lock and persists
// the copy after releasing it.
func (s *Store) load(ctx context.Context, key market.Key, force bool, fetch func(prev *series.Series) (*series.Series, error)) (*series.Series, error) {
	e := s.entry(key)

	e.mu.Lock()
	if force || !e.loaded {
		started := time.Now()
		fresh, err := fetch(e.data)
		s.metrics.ObserveFetch(string(key.Exchange), string(key.Kind), fetchOutcome(fresh, err), time.Since(started))
		if err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("fetch %s: %w", key, err)
		}
		if err := fresh.Validate(); err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("fetch %s: %w", key, err)
		}
		if !e.loaded {
			s.metrics.SetCachedSeries(int(s.cached.Add(1)))
		}
		e.data = fresh
		e.loaded = true
	}
	out := e.data.Clone()
	e.mu.Unlock()

	if s.persist != nil && out != nil {
		if err := s.persist.Save(ctx, key, out); err != nil {
			s.metrics.PersistFailed(s.persist.Name())
			return nil, fmt.Errorf("persist %s: %w", key, err)
		}
	}
	return out, nil
}

func fetchOutcome(s *series.Series, err error) string {
	switch {
	case err != nil:
		return metrics.OutcomeError
	case s == nil:
		return metrics.OutcomeEmpty
	default:
		return metrics.OutcomeOK
	}
}
