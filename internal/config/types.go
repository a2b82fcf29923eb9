package config

import (
	"strings"
	"time"
)

// Config is the candlecache configuration root.
type Config struct {
	App       AppConfig                 `toml:"app"`
	Store     StoreConfig               `toml:"store"`
	Warmup    WarmupConfig              `toml:"warmup"`
	Exchanges map[string]ExchangeConfig `toml:"exchanges"`
	HTTP      HTTPConfig                `toml:"http"`
	Metrics   MetricsConfig             `toml:"metrics"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
	HTTPAddr  string `toml:"http_addr"`
}

// StoreConfig sets the cache horizon and the optional persistence backend.
// StartTime wins over LookbackHours when both are set.
type StoreConfig struct {
	StartTime     int64  `toml:"start_time"`
	LookbackHours int    `toml:"lookback_hours"`
	DataDir       string `toml:"data_dir"`
	Backend       string `toml:"backend"`
}

// Start resolves the cache start relative to now.
func (s StoreConfig) Start(now time.Time) time.Time {
	if s.StartTime > 0 {
		return time.Unix(s.StartTime, 0).UTC()
	}
	return now.UTC().Add(-time.Duration(s.LookbackHours) * time.Hour)
}

type WarmupConfig struct {
	Enabled        bool     `toml:"enabled"`
	MinInterval    int      `toml:"min_interval"`
	PeriodSeconds  int      `toml:"period_seconds"`
	BackoffSeconds int      `toml:"backoff_seconds"`
	Exchanges      []string `toml:"exchanges"`
}

func (w WarmupConfig) Period() time.Duration {
	return time.Duration(w.PeriodSeconds) * time.Second
}

func (w WarmupConfig) Backoff() time.Duration {
	return time.Duration(w.BackoffSeconds) * time.Second
}

// ExchangeConfig tunes one exchange REST client. Zero values keep the
// client defaults.
type ExchangeConfig struct {
	RESTBaseURL            string `toml:"rest_base_url"`
	TimeoutSeconds         int    `toml:"timeout_seconds"`
	RateLimitPerMin        int    `toml:"rate_limit_per_min"`
	BreakerThreshold       int    `toml:"breaker_threshold"`
	BreakerCooldownSeconds int    `toml:"breaker_cooldown_seconds"`
}

type HTTPConfig struct {
	Workers              int `toml:"workers"`
	ResponseCacheSeconds int `toml:"response_cache_seconds"`
	ResponseCacheLimit   int `toml:"response_cache_limit"`
}

func (h HTTPConfig) ResponseCacheTTL() time.Duration {
	return time.Duration(h.ResponseCacheSeconds) * time.Second
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}
