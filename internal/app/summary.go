package app

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"candlecache/internal/config"
	"candlecache/internal/store"
	"candlecache/internal/warmup"
)

type StartupSummary struct {
	HTTPAddr    string
	MetricsPath string
	StartTime   time.Time
	Backend     string
	DataDir     string
	Warmup      []WarmupSummary
	Exchanges   map[string]config.ExchangeConfig
}

type WarmupSummary struct {
	Exchange    string
	MinInterval int
	Period      time.Duration
}

func newStartupSummary(cfg *config.Config, start time.Time, p store.Persister, warmers []*warmup.Warmer) *StartupSummary {
	s := &StartupSummary{
		HTTPAddr:  cfg.App.HTTPAddr,
		StartTime: start,
		Backend:   "-",
		Exchanges: cfg.Exchanges,
	}
	if cfg.Metrics.Enabled {
		s.MetricsPath = cfg.Metrics.Path
	}
	if p != nil {
		s.Backend = p.Name()
		s.DataDir = cfg.Store.DataDir
	}
	for _, w := range warmers {
		s.Warmup = append(s.Warmup, WarmupSummary{
			Exchange:    w.Exchange().String(),
			MinInterval: cfg.Warmup.MinInterval,
			Period:      cfg.Warmup.Period(),
		})
	}
	return s
}

func (s *StartupSummary) Print() {
	fmt.Print(s.String())
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	rule := strings.Repeat("=", 80)
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "%*s\n", 40+len("STARTUP SUMMARY")/2, "STARTUP SUMMARY")
	fmt.Fprintln(&b, rule)

	fmt.Fprintln(&b, "[HTTP]")
	fmt.Fprintf(&b, "  listen:  %s\n", s.HTTPAddr)
	fmt.Fprintf(&b, "  metrics: %s\n", orDash(s.MetricsPath))
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "[STORE]")
	fmt.Fprintf(&b, "  start:   %s\n", s.StartTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "  backend: %s\n", s.Backend)
	fmt.Fprintf(&b, "  dir:     %s\n", orDash(s.DataDir))
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "[WARMUP]")
	if len(s.Warmup) == 0 {
		fmt.Fprintln(&b, "  (disabled)")
	}
	for _, w := range s.Warmup {
		fmt.Fprintf(&b, "  > %-15s period=%s min_interval=%d\n", w.Exchange, w.Period, w.MinInterval)
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "[EXCHANGE OVERRIDES]")
	if len(s.Exchanges) == 0 {
		fmt.Fprintln(&b, "  (none)")
	}
	names := make([]string, 0, len(s.Exchanges))
	for name := range s.Exchanges {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ec := s.Exchanges[name]
		fmt.Fprintf(&b, "  > %-15s base=%s rate=%d/min breaker=%d\n", name, orDash(ec.RESTBaseURL), ec.RateLimitPerMin, ec.BreakerThreshold)
	}
	fmt.Fprintln(&b, rule)
	return b.String()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
