package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads path and its include list, applies defaults and validates.
// Files listed under include are merged first, so the including file wins.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	files, err := includeChain(abs, make(map[string]bool), make(map[string]bool))
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		tmp, err := readFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
		if err := v.MergeConfigMap(tmp.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging config file failed (%s): %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	keys := make(keySet)
	for _, k := range v.AllKeys() {
		keys.mark(k)
	}
	cfg.applyDefaults(keys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch reloads path whenever it changes on disk and hands the new config to
// fn. Invalid edits are reported to onErr and the previous config stays live.
func Watch(path string, fn func(*Config), onErr func(error)) error {
	if fn == nil {
		return fmt.Errorf("config watch requires a callback")
	}
	v, err := readFile(path)
	if err != nil {
		return fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load(path)
		if err != nil {
			if onErr != nil {
				onErr(fmt.Errorf("reload %s: %w", evt.Name, err))
			}
			return
		}
		fn(cfg)
	})
	v.WatchConfig()
	return nil
}

func readFile(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v, nil
}

// includeChain returns path's includes depth first, then path itself. A file
// reached twice is merged once; a file that includes itself is an error.
func includeChain(path string, done, visiting map[string]bool) ([]string, error) {
	path = filepath.Clean(path)
	if visiting[path] {
		return nil, fmt.Errorf("include cycle detected: %s", path)
	}
	if done[path] {
		return nil, nil
	}
	v, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	includes, err := includeList(v.Get("include"))
	if err != nil {
		return nil, fmt.Errorf("parsing include failed (%s): %w", path, err)
	}

	visiting[path] = true
	var out []string
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		sub, err := includeChain(inc, done, visiting)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	delete(visiting, path)
	done[path] = true
	return append(out, path), nil
}

func includeList(raw any) ([]string, error) {
	var items []any
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		items = val
	case []string:
		for _, s := range val {
			items = append(items, s)
		}
	default:
		return nil, fmt.Errorf("include must be a string array")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
