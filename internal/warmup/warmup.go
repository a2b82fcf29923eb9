// Package warmup keeps the store hot: one loop per exchange repeatedly
// refetches every market, interval and price type it trades.
package warmup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"candlecache/internal/logger"
	"candlecache/internal/market"
	"candlecache/internal/metrics"
	"candlecache/internal/scheduler"
	"candlecache/internal/series"
)

const (
	DefaultPeriod  = 60 * time.Second
	DefaultBackoff = 60 * time.Second
)

// Store is the part of store.Store warmup drives.
type Store interface {
	GetOHLCV(ctx context.Context, ex market.Exchange, mkt string, interval int, pt market.PriceType, force bool) (*series.Series, error)
}

// Registry resolves the market lister of an exchange.
type Registry interface {
	Get(ex market.Exchange) (market.Client, error)
}

type Options struct {
	MinInterval int
	Period      time.Duration
	Backoff     time.Duration
	Metrics     *metrics.Metrics
	// Sleep replaces the real wait in tests.
	Sleep scheduler.Sleeper
}

// Warmer runs the warmup loop of one exchange.
type Warmer struct {
	exchange market.Exchange
	store    Store
	lister   market.Lister
	plan     plan
	opts     Options
	log      *slog.Logger
}

func New(ex market.Exchange, st Store, registry Registry, opts Options) (*Warmer, error) {
	p, ok := plans[ex]
	if !ok {
		return nil, fmt.Errorf("warmup: %w: %q", market.ErrUnknownExchange, ex)
	}
	client, err := registry.Get(ex)
	if err != nil {
		return nil, fmt.Errorf("warmup: %w", err)
	}
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Sleep == nil {
		opts.Sleep = scheduler.Sleep
	}
	return &Warmer{
		exchange: ex,
		store:    st,
		lister:   client,
		plan:     p,
		opts:     opts,
	}, nil
}

func (w *Warmer) Exchange() market.Exchange { return w.exchange }

// Run sleeps the period before each cycle and stops when ctx ends.
func (w *Warmer) Run(ctx context.Context) error {
	w.logger().Info("warmup started", "period", w.opts.Period, "min_interval", w.opts.MinInterval)
	sched := scheduler.NewPeriodicScheduler("warmup."+string(w.exchange), w.opts.Period).WithSleeper(w.opts.Sleep)
	sched.Start(ctx, func(ctx context.Context) {
		_ = w.RunCycle(ctx)
	})
	return nil
}

// RunCycle lists markets and force-fetches every planned series once. A
// failed fetch is logged and followed by a backoff; a failed listing aborts
// the cycle after the backoff.
func (w *Warmer) RunCycle(ctx context.Context) error {
	log := w.logger()
	started := time.Now()
	markets, err := w.lister.ListMarkets(ctx)
	if err != nil {
		log.Error("list markets failed", "err", err)
		w.opts.Metrics.WarmupCycle(string(w.exchange), metrics.OutcomeError)
		w.opts.Sleep(ctx, w.opts.Backoff)
		return fmt.Errorf("list %s markets: %w", w.exchange, err)
	}

	tasks := w.plan.tasks(w.exchange, markets, w.opts.MinInterval)
	failures := 0
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := w.store.GetOHLCV(ctx, w.exchange, t.market, t.interval, t.priceType, true); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			log.Error("warmup fetch failed",
				"market", t.market, "interval", t.interval, "price_type", t.priceType.String(), "err", err)
			w.opts.Metrics.WarmupFailure(string(w.exchange))
			if !w.opts.Sleep(ctx, w.opts.Backoff) {
				return ctx.Err()
			}
		}
	}
	w.opts.Metrics.WarmupCycle(string(w.exchange), metrics.OutcomeOK)
	log.Info("warmup cycle done",
		"markets", len(markets), "tasks", len(tasks), "failures", failures,
		"elapsed", time.Since(started).Truncate(time.Millisecond))
	return nil
}

func (w *Warmer) logger() *slog.Logger {
	if w.log == nil {
		w.log = logger.With("warmup." + string(w.exchange))
	}
	return w.log
}
