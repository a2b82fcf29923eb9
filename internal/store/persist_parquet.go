package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"candlecache/internal/logger"
	"candlecache/internal/market"
	"candlecache/internal/series"
)

const (
	parquetExt    = ".parquet"
	parquetTmpPfx = ".tmp-"
)

// ParquetPersister keeps one <key>.parquet file per series in a directory.
type ParquetPersister struct {
	dir string
}

func NewParquetPersister(dir string) (*ParquetPersister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &ParquetPersister{dir: dir}, nil
}

func (p *ParquetPersister) Name() string { return BackendParquet }

func (p *ParquetPersister) path(key market.Key) string {
	return filepath.Join(p.dir, key.String()+parquetExt)
}

// Save writes to a temp file in the same directory and renames it over the
// target so readers never see a partial file.
func (p *ParquetPersister) Save(ctx context.Context, key market.Key, s *series.Series) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(p.dir, parquetTmpPfx+"*"+parquetExt)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := series.WriteParquet(tmp, s); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, p.path(key)); err != nil {
		cleanup()
		return err
	}
	return nil
}

func (p *ParquetPersister) LoadAll(ctx context.Context) (map[market.Key]*series.Series, error) {
	items, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, err
	}
	out := make(map[market.Key]*series.Series, len(items))
	for _, item := range items {
		name := item.Name()
		if item.IsDir() || !strings.HasSuffix(name, parquetExt) {
			continue
		}
		if strings.HasPrefix(name, parquetTmpPfx) {
			_ = os.Remove(filepath.Join(p.dir, name))
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key, err := market.ParseKey(strings.TrimSuffix(name, parquetExt))
		if err != nil {
			logger.Warnf("store: skip %s: %v", name, err)
			continue
		}
		s, err := series.ReadParquetFile(filepath.Join(p.dir, name))
		if err != nil {
			return nil, err
		}
		if s.Len() == 0 {
			s = nil
		}
		out[key] = s
	}
	return out, nil
}

func (p *ParquetPersister) Close() error { return nil }
