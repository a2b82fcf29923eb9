package config

import (
	"fmt"
	"strings"

	"candlecache/internal/market"
)

func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Warmup.validate(); err != nil {
		return err
	}
	for name, ex := range c.Exchanges {
		if _, err := market.ParseExchange(name); err != nil {
			return fmt.Errorf("exchanges.%s: %w", name, err)
		}
		if err := ex.validate(name); err != nil {
			return err
		}
	}
	if c.HTTP.Workers <= 0 {
		return fmt.Errorf("http.workers must be > 0")
	}
	if c.HTTP.ResponseCacheSeconds < 0 || c.HTTP.ResponseCacheLimit < 0 {
		return fmt.Errorf("http.response_cache_* must be >= 0")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(a.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("app.log_format must be text or json, got %q", a.LogFormat)
	}
	switch strings.ToLower(a.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("app.log_level %q is not a known level", a.LogLevel)
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if s.StartTime < 0 {
		return fmt.Errorf("store.start_time must be >= 0")
	}
	if s.StartTime == 0 && s.LookbackHours <= 0 {
		return fmt.Errorf("store.start_time or store.lookback_hours is required")
	}
	switch s.Backend {
	case "parquet", "sqlite":
	default:
		return fmt.Errorf("store.backend must be parquet or sqlite, got %q", s.Backend)
	}
	return nil
}

func (w *WarmupConfig) validate() error {
	if w.MinInterval < 0 {
		return fmt.Errorf("warmup.min_interval must be >= 0")
	}
	if w.Enabled && (w.PeriodSeconds <= 0 || w.BackoffSeconds <= 0) {
		return fmt.Errorf("warmup.period_seconds and warmup.backoff_seconds must be > 0")
	}
	seen := make(map[string]bool, len(w.Exchanges))
	for _, name := range w.Exchanges {
		if _, err := market.ParseExchange(name); err != nil {
			return fmt.Errorf("warmup.exchanges: %w", err)
		}
		if seen[name] {
			return fmt.Errorf("warmup.exchanges lists %s twice", name)
		}
		seen[name] = true
	}
	return nil
}

func (e ExchangeConfig) validate(name string) error {
	if e.TimeoutSeconds < 0 || e.RateLimitPerMin < 0 || e.BreakerThreshold < 0 || e.BreakerCooldownSeconds < 0 {
		return fmt.Errorf("exchanges.%s: numeric settings must be >= 0", name)
	}
	if u := strings.TrimSpace(e.RESTBaseURL); u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return fmt.Errorf("exchanges.%s.rest_base_url must be an http(s) url", name)
	}
	return nil
}
