package store

import (
	"context"
	"fmt"

	"candlecache/internal/market"
	"candlecache/internal/series"
)

// Persister stores snapshots of cached series. Save replaces the stored
// snapshot of key atomically; LoadAll returns every stored snapshot.
type Persister interface {
	Name() string
	Save(ctx context.Context, key market.Key, s *series.Series) error
	LoadAll(ctx context.Context) (map[market.Key]*series.Series, error)
	Close() error
}

// Persistence backends.
const (
	BackendParquet = "parquet"
	BackendSQLite  = "sqlite"
)

// OpenPersister opens the named backend rooted at dir. An empty dir disables
// persistence and returns nil.
func OpenPersister(backend, dir string) (Persister, error) {
	if dir == "" {
		return nil, nil
	}
	switch backend {
	case "", BackendParquet:
		return NewParquetPersister(dir)
	case BackendSQLite:
		return NewSQLitePersister(dir)
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", backend)
	}
}
