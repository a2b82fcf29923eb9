package exchange

import (
	"fmt"
	"sync"

	"candlecache/internal/market"
)

// Registry maps every supported exchange to its client. Clients are shared
// by the store and warmup so each exchange has a single request budget.
type Registry struct {
	mu      sync.RWMutex
	clients map[market.Exchange]market.Client
}

// NewRegistry builds one client per supported exchange. opts may omit
// exchanges; they get defaults.
func NewRegistry(opts map[market.Exchange]Options) *Registry {
	r := &Registry{clients: make(map[market.Exchange]market.Client)}
	for _, ex := range market.Exchanges() {
		o := opts[ex]
		var c market.Client
		switch ex {
		case market.Bybit:
			c = NewBybit(o)
		case market.FTX:
			c = NewFTX(o)
		case market.BinanceFuture:
			c = NewBinanceFuture(o)
		case market.BinanceSpot:
			c = NewBinanceSpot(o)
		case market.Okex:
			c = NewOkex(o)
		case market.Kraken:
			c = NewKraken(o)
		case market.Gate:
			c = NewGate(o)
		}
		if c != nil {
			r.clients[ex] = c
		}
	}
	return r
}

// NewStaticRegistry wraps prebuilt clients; used by tests and tools.
func NewStaticRegistry(clients map[market.Exchange]market.Client) *Registry {
	r := &Registry{clients: make(map[market.Exchange]market.Client, len(clients))}
	for ex, c := range clients {
		r.clients[ex] = c
	}
	return r
}

func (r *Registry) Get(ex market.Exchange) (market.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[ex]
	if !ok {
		return nil, fmt.Errorf("%w: %q", market.ErrUnknownExchange, ex)
	}
	return c, nil
}

func (r *Registry) Register(ex market.Exchange, c market.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[ex] = c
}
