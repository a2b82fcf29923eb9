package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"candlecache/internal/logger"
	"candlecache/internal/market"
	"candlecache/internal/series"

	_ "modernc.org/sqlite"
)

const sqliteFile = "candlecache.db"

// SQLitePersister keeps every series in one database: a rows table keyed by
// (series key, timestamp) and a manifest row per key.
type SQLitePersister struct {
	db   *sql.DB
	path string
}

func NewSQLitePersister(dir string) (*SQLitePersister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dir, sqliteFile)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSeriesSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLitePersister{db: db, path: path}, nil
}

func ensureSeriesSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS series_rows (
			series_key TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       REAL,
			high       REAL,
			low        REAL,
			close      REAL,
			volume     REAL,
			fr         REAL,
			PRIMARY KEY (series_key, ts)
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			series_key   TEXT PRIMARY KEY,
			min_time     INTEGER,
			max_time     INTEGER,
			rows         INTEGER DEFAULT 0,
			last_sync_at INTEGER
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *SQLitePersister) Name() string { return BackendSQLite }

// Save replaces the stored rows of key with s in one transaction.
func (p *SQLitePersister) Save(ctx context.Context, key market.Key, s *series.Series) error {
	first, last, ok := s.Bounds()
	if !ok {
		return nil
	}
	name := key.String()
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM series_rows WHERE series_key = ?`, name); err != nil {
		_ = tx.Rollback()
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO series_rows (series_key, ts, open, high, low, close, volume, fr)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, r := range s.Rows {
		if _, err := stmt.ExecContext(ctx, name, r.Time.UnixMilli(),
			nullFloat(r.Open), nullFloat(r.High), nullFloat(r.Low), nullFloat(r.Close), nullFloat(r.Volume), nullFloat(r.FR)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO manifest (series_key, min_time, max_time, rows, last_sync_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(series_key) DO UPDATE SET
		    min_time=excluded.min_time,
		    max_time=excluded.max_time,
		    rows=excluded.rows,
		    last_sync_at=excluded.last_sync_at`,
		name, first.UnixMilli(), last.UnixMilli(), s.Len(), time.Now().UnixMilli()); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (p *SQLitePersister) LoadAll(ctx context.Context) (map[market.Key]*series.Series, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT series_key, ts, open, high, low, close, volume, fr
		FROM series_rows ORDER BY series_key, ts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grouped := make(map[string][]series.Row)
	for rows.Next() {
		var (
			name string
			ts   int64
			vals [6]sql.NullFloat64
		)
		if err := rows.Scan(&name, &ts, &vals[0], &vals[1], &vals[2], &vals[3], &vals[4], &vals[5]); err != nil {
			return nil, err
		}
		grouped[name] = append(grouped[name], series.Row{
			Time:   time.UnixMilli(ts).UTC(),
			Open:   floatOrNaN(vals[0]),
			High:   floatOrNaN(vals[1]),
			Low:    floatOrNaN(vals[2]),
			Close:  floatOrNaN(vals[3]),
			Volume: floatOrNaN(vals[4]),
			FR:     floatOrNaN(vals[5]),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[market.Key]*series.Series, len(grouped))
	for name, rs := range grouped {
		key, err := market.ParseKey(name)
		if err != nil {
			logger.Warnf("store: skip sqlite series %q: %v", name, err)
			continue
		}
		out[key] = series.New(rs)
	}
	return out, nil
}

func (p *SQLitePersister) Close() error { return p.db.Close() }

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
