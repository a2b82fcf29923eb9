package app

import (
	"context"
	"fmt"

	"candlecache/internal/config"
	"candlecache/internal/logger"
	"candlecache/internal/store"
	ohlcvhttp "candlecache/internal/transport/http/ohlcv"
	"candlecache/internal/warmup"

	"golang.org/x/sync/errgroup"
)

// App ties the store, the HTTP server and the warmup loops together.
type App struct {
	cfg       *config.Config
	store     *store.Store
	persister store.Persister
	server    *ohlcvhttp.Server
	warmers   []*warmup.Warmer
	Summary   *StartupSummary
}

// NewApp builds the application from cfg without starting it.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return buildAppWithWire(ctx, cfg)
}

// Run serves HTTP and runs every warmup loop until ctx ends or one of them
// fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.server == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	for _, w := range a.warmers {
		w := w
		group.Go(func() error { return w.Run(ctx) })
	}
	return group.Wait()
}

// Store exposes the cache for embedding and tests.
func (a *App) Store() *store.Store {
	if a == nil {
		return nil
	}
	return a.store
}

// Close releases the persistence backend.
func (a *App) Close() {
	if a == nil || a.persister == nil {
		return
	}
	if err := a.persister.Close(); err != nil {
		logger.Warnf("close %s persister: %v", a.persister.Name(), err)
	}
	a.persister = nil
}
