package config

import (
	"strings"

	"candlecache/internal/market"
)

const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppLogFormat    = "text"
	defaultAppHTTPAddr     = ":5000"
	defaultLookbackHours   = 24 * 30
	defaultStoreBackend    = "parquet"
	defaultWarmupPeriod    = 60
	defaultWarmupBackoff   = 60
	defaultHTTPWorkers     = 16
	defaultResponseCache   = 3600
	defaultResponseLimit   = 32
	defaultMetricsPath     = "/metrics"
	defaultBreakerCooldown = 60
)

// applyDefaults fills every section; keys present in the file are left alone.
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Warmup.applyDefaults(keys)
	c.HTTP.applyDefaults(keys)
	c.Metrics.applyDefaults(keys)
	c.applyExchangeDefaults()
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.backend", &s.Backend, defaultStoreBackend),
		fieldDefault{
			key:   "store.lookback_hours",
			need:  func() bool { return s.LookbackHours <= 0 },
			apply: func() { s.LookbackHours = defaultLookbackHours },
		},
	)
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
}

func (w *WarmupConfig) applyDefaults(keys keySet) {
	if w == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("warmup.enabled", &w.Enabled, true),
		intFieldDefault("warmup.period_seconds", &w.PeriodSeconds, defaultWarmupPeriod),
		intFieldDefault("warmup.backoff_seconds", &w.BackoffSeconds, defaultWarmupBackoff),
		fieldDefault{
			key:  "warmup.exchanges",
			need: func() bool { return len(w.Exchanges) == 0 },
			apply: func() {
				all := market.Exchanges()
				w.Exchanges = make([]string, 0, len(all))
				for _, ex := range all {
					w.Exchanges = append(w.Exchanges, ex.String())
				}
			},
		},
	)
	for i, name := range w.Exchanges {
		w.Exchanges[i] = strings.ToLower(strings.TrimSpace(name))
	}
}

func (h *HTTPConfig) applyDefaults(keys keySet) {
	if h == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("http.workers", &h.Workers, defaultHTTPWorkers),
		intFieldDefault("http.response_cache_seconds", &h.ResponseCacheSeconds, defaultResponseCache),
		intFieldDefault("http.response_cache_limit", &h.ResponseCacheLimit, defaultResponseLimit),
	)
}

func (m *MetricsConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("metrics.enabled", &m.Enabled, true),
		stringFieldDefault("metrics.path", &m.Path, defaultMetricsPath),
	)
}

// applyExchangeDefaults lower-cases exchange names and fills the breaker
// cooldown. Base URLs stay empty so each client keeps its own default.
func (c *Config) applyExchangeDefaults() {
	if len(c.Exchanges) == 0 {
		return
	}
	out := make(map[string]ExchangeConfig, len(c.Exchanges))
	for name, ex := range c.Exchanges {
		if ex.BreakerThreshold > 0 && ex.BreakerCooldownSeconds <= 0 {
			ex.BreakerCooldownSeconds = defaultBreakerCooldown
		}
		out[strings.ToLower(strings.TrimSpace(name))] = ex
	}
	c.Exchanges = out
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
