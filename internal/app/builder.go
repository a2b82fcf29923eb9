package app

import (
	"context"
	"fmt"
	"time"

	"candlecache/internal/config"
	"candlecache/internal/exchange"
	"candlecache/internal/logger"
	"candlecache/internal/market"
	"candlecache/internal/metrics"
	"candlecache/internal/pkg/circuit"
	"candlecache/internal/query"
	"candlecache/internal/store"
	ohlcvhttp "candlecache/internal/transport/http/ohlcv"
	"candlecache/internal/warmup"
)

// Fetchers resolves an exchange to its client.
type Fetchers interface {
	Get(ex market.Exchange) (market.Client, error)
}

type AppBuilder struct {
	cfg   *config.Config
	nowFn func() time.Time

	fetchersOverride Fetchers
	sleepOverride    func(ctx context.Context, d time.Duration) bool
}

type AppBuilderOption func(*AppBuilder)

// WithFetchers replaces the exchange registry built from config.
func WithFetchers(f Fetchers) AppBuilderOption {
	return func(b *AppBuilder) { b.fetchersOverride = f }
}

// WithWarmupSleep replaces the real wait of the warmup loops.
func WithWarmupSleep(fn func(ctx context.Context, d time.Duration) bool) AppBuilderOption {
	return func(b *AppBuilder) { b.sleepOverride = fn }
}

// WithClock pins the time used to resolve store.lookback_hours.
func WithClock(now func() time.Time) AppBuilderOption {
	return func(b *AppBuilder) { b.nowFn = now }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{cfg: cfg, nowFn: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	fetchers := b.fetchersOverride
	if fetchers == nil {
		opts, err := exchangeOptions(cfg.Exchanges, m)
		if err != nil {
			return nil, err
		}
		fetchers = exchange.NewRegistry(opts)
	}

	persister, err := store.OpenPersister(cfg.Store.Backend, cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open %s persister: %w", cfg.Store.Backend, err)
	}
	st, err := store.New(ctx, fetchers, store.Options{
		StartTime: cfg.Store.Start(b.nowFn()),
		Persister: persister,
		Metrics:   m,
	})
	if err != nil {
		closePersister(persister)
		return nil, err
	}

	server, err := ohlcvhttp.NewServer(ohlcvhttp.Config{
		Addr:        cfg.App.HTTPAddr,
		Status:      st,
		Composer:    query.NewComposer(st, cfg.HTTP.Workers),
		Metrics:     m,
		MetricsPath: cfg.Metrics.Path,
		CacheTTL:    cfg.HTTP.ResponseCacheTTL(),
		CacheLimit:  cfg.HTTP.ResponseCacheLimit,
	})
	if err != nil {
		closePersister(persister)
		return nil, err
	}

	var warmers []*warmup.Warmer
	if cfg.Warmup.Enabled {
		for _, name := range cfg.Warmup.Exchanges {
			ex, err := market.ParseExchange(name)
			if err != nil {
				closePersister(persister)
				return nil, err
			}
			w, err := warmup.New(ex, st, fetchers, warmup.Options{
				MinInterval: cfg.Warmup.MinInterval,
				Period:      cfg.Warmup.Period(),
				Backoff:     cfg.Warmup.Backoff(),
				Metrics:     m,
				Sleep:       b.sleepOverride,
			})
			if err != nil {
				closePersister(persister)
				return nil, err
			}
			warmers = append(warmers, w)
		}
	}

	return &App{
		cfg:       cfg,
		store:     st,
		persister: persister,
		server:    server,
		warmers:   warmers,
		Summary:   newStartupSummary(cfg, st.StartTime(), persister, warmers),
	}, nil
}

// exchangeOptions maps the exchanges section onto client options. Breaker
// transitions are logged and exported as a gauge.
func exchangeOptions(raw map[string]config.ExchangeConfig, m *metrics.Metrics) (map[market.Exchange]exchange.Options, error) {
	out := make(map[market.Exchange]exchange.Options, len(market.Exchanges()))
	onChange := func(name string, from, to circuit.State) {
		logger.Warnf("exchange %s breaker %s -> %s", name, from, to)
		m.BreakerState(name, int(to))
	}
	for _, ex := range market.Exchanges() {
		out[ex] = exchange.Options{OnBreakerChange: onChange}
	}
	for name, ec := range raw {
		ex, err := market.ParseExchange(name)
		if err != nil {
			return nil, err
		}
		out[ex] = exchange.Options{
			BaseURL:          ec.RESTBaseURL,
			Timeout:          time.Duration(ec.TimeoutSeconds) * time.Second,
			RatePerMinute:    ec.RateLimitPerMin,
			BreakerThreshold: ec.BreakerThreshold,
			BreakerCooldown:  time.Duration(ec.BreakerCooldownSeconds) * time.Second,
			OnBreakerChange:  onChange,
		}
	}
	return out, nil
}

func closePersister(p store.Persister) {
	if p == nil {
		return
	}
	if err := p.Close(); err != nil {
		logger.Warnf("close persister: %v", err)
	}
}
