// Package store provides an on-disk cache for market data.
//
// CachedProvider decorates any data.Provider with a SQLite read-through
// cache. Historical data does not change, so entries never expire. Known
// absences are cached too, so a contract without a quote on a given day is
// only asked for once.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/contactkeval/wheel-replay/internal/data"
	"github.com/contactkeval/wheel-replay/internal/logger"
)

// Entry kinds, one per Provider method.
const (
	kindBars      = "bars"
	kindCalendar  = "calendar"
	kindContracts = "contracts"
	kindQuote     = "quote"
	kindFund      = "fund"
)

// Kinds lists the entry kinds Purge accepts.
var Kinds = []string{kindBars, kindCalendar, kindContracts, kindQuote, kindFund}

// CachedProvider implements data.Provider on top of a secondary provider.
type CachedProvider struct {
	db        *sql.DB
	secondary data.Provider

	hits   atomic.Int64
	misses atomic.Int64
}

// Open creates or opens the cache database at path. The special path
// ":memory:" keeps the cache in memory.
func Open(path string, secondary data.Provider) (*CachedProvider, error) {
	if secondary == nil {
		return nil, errors.New("store: secondary provider required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	if path == ":memory:" {
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// Limit open connections to 1 for SQLite to avoid locking issues
	db.SetMaxOpenConns(1)

	c := &CachedProvider{db: db, secondary: secondary}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logger.Debugf("event=cache_open path=%s secondary=%s", path, secondary.Name())
	return c, nil
}

// initSchema creates the cache table.
func (c *CachedProvider) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		kind TEXT NOT NULL,
		key TEXT NOT NULL,
		found INTEGER NOT NULL,
		payload TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (kind, key)
	);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Close closes the database.
func (c *CachedProvider) Close() error { return c.db.Close() }

// Stats reports cache hits and misses since Open.
func (c *CachedProvider) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *CachedProvider) Name() string             { return "sqlite-cache" }
func (c *CachedProvider) Secondary() data.Provider { return c.secondary }

// Purge drops every cached entry of kind, or all entries when kind is empty.
func (c *CachedProvider) Purge(ctx context.Context, kind string) (int64, error) {
	var res sql.Result
	var err error
	if kind == "" {
		res, err = c.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	} else {
		res, err = c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE kind = ?`, kind)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	return res.RowsAffected()
}

// --------------------------------------------------------------------------------------------
// Provider methods
// --------------------------------------------------------------------------------------------

func (c *CachedProvider) GetPriceHistory(ctx context.Context, code string, from, to time.Time) ([]data.Bar, error) {
	key := joinKey(code, day(from), day(to))
	stored, err := readThrough(ctx, c, kindBars, key, func() ([]storedBar, error) {
		bars, err := c.secondary.GetPriceHistory(ctx, code, from, to)
		if err != nil {
			return nil, err
		}
		out := make([]storedBar, len(bars))
		for i, b := range bars {
			out[i] = toStoredBar(b)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	bars := make([]data.Bar, len(stored))
	for i, s := range stored {
		bars[i] = s.bar()
	}
	return bars, nil
}

func (c *CachedProvider) GetTradingCalendar(ctx context.Context, exchange string, from, to time.Time) ([]time.Time, error) {
	key := joinKey(exchange, day(from), day(to))
	return readThrough(ctx, c, kindCalendar, key, func() ([]time.Time, error) {
		return c.secondary.GetTradingCalendar(ctx, exchange, from, to)
	})
}

func (c *CachedProvider) GetOptionContracts(ctx context.Context, exchange, underlying string) ([]data.ContractRow, error) {
	return readThrough(ctx, c, kindContracts, joinKey(exchange, underlying), func() ([]data.ContractRow, error) {
		rows, err := c.secondary.GetOptionContracts(ctx, exchange, underlying)
		for i := range rows {
			rows[i].Strike = finiteOrZero(rows[i].Strike)
			rows[i].Multiplier = finiteOrZero(rows[i].Multiplier)
		}
		return rows, err
	})
}

func (c *CachedProvider) GetOptionQuote(ctx context.Context, contractCode string, date time.Time) (data.Quote, error) {
	return readThrough(ctx, c, kindQuote, joinKey(contractCode, day(date)), func() (data.Quote, error) {
		q, err := c.secondary.GetOptionQuote(ctx, contractCode, date)
		if err == nil && q.ImpliedVol != nil && (math.IsNaN(*q.ImpliedVol) || math.IsInf(*q.ImpliedVol, 0)) {
			q.ImpliedVol = nil
		}
		return q, err
	})
}

func (c *CachedProvider) GetFundName(ctx context.Context, code string) (string, error) {
	return readThrough(ctx, c, kindFund, code, func() (string, error) {
		return c.secondary.GetFundName(ctx, code)
	})
}

// --------------------------------------------------------------------------------------------
// Read-through helper
// --------------------------------------------------------------------------------------------

// readThrough serves kind/key from the table, or calls fetch and stores
// its result. data.ErrNoData from fetch is stored as an absence; other
// errors are returned without caching.
func readThrough[T any](ctx context.Context, c *CachedProvider, kind, key string, fetch func() (T, error)) (T, error) {
	var zero T

	var found int
	var payload sql.NullString
	err := c.db.QueryRowContext(ctx,
		`SELECT found, payload FROM cache_entries WHERE kind = ? AND key = ?`, kind, key,
	).Scan(&found, &payload)
	switch {
	case err == nil:
		c.hits.Add(1)
		if found == 0 {
			return zero, fmt.Errorf("cached %s %s: %w", kind, key, data.ErrNoData)
		}
		var v T
		if err := json.Unmarshal([]byte(payload.String), &v); err != nil {
			return zero, fmt.Errorf("failed to decode cached %s %s: %w", kind, key, err)
		}
		return v, nil
	case !errors.Is(err, sql.ErrNoRows):
		return zero, fmt.Errorf("failed to read cache: %w", err)
	}

	c.misses.Add(1)
	v, err := fetch()
	if err != nil {
		if errors.Is(err, data.ErrNoData) && ctx.Err() == nil {
			if serr := c.put(ctx, kind, key, false, nil); serr != nil {
				logger.Warnf("event=cache_write_failed kind=%s key=%s err=%v", kind, key, serr)
			}
		}
		return zero, err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		logger.Warnf("event=cache_encode_failed kind=%s key=%s err=%v", kind, key, err)
		return v, nil
	}
	if err := c.put(ctx, kind, key, true, raw); err != nil {
		logger.Warnf("event=cache_write_failed kind=%s key=%s err=%v", kind, key, err)
	}
	return v, nil
}

func (c *CachedProvider) put(ctx context.Context, kind, key string, found bool, payload []byte) error {
	var p any
	if payload != nil {
		p = string(payload)
	}
	flag := 0
	if found {
		flag = 1
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO cache_entries (kind, key, found, payload) VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, key) DO UPDATE SET found = excluded.found, payload = excluded.payload
	`, kind, key, flag, p)
	return err
}

func joinKey(parts ...string) string { return strings.Join(parts, "|") }

// day formats d for keys; the zero time is an open bound.
func day(d time.Time) string {
	if d.IsZero() {
		return "-"
	}
	return d.Format(data.DateLayout)
}

func finiteOrZero(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// storedBar is a Bar whose missing prices survive JSON as null.
type storedBar struct {
	Date  time.Time `json:"date"`
	Open  *float64  `json:"open"`
	High  *float64  `json:"high"`
	Low   *float64  `json:"low"`
	Close *float64  `json:"close"`
	Vol   *float64  `json:"vol"`
}

func toStoredBar(b data.Bar) storedBar {
	return storedBar{
		Date:  b.Date,
		Open:  finite(b.Open),
		High:  finite(b.High),
		Low:   finite(b.Low),
		Close: finite(b.Close),
		Vol:   finite(b.Vol),
	}
}

func (s storedBar) bar() data.Bar {
	return data.Bar{
		Date:  s.Date,
		Open:  orNaN(s.Open),
		High:  orNaN(s.High),
		Low:   orNaN(s.Low),
		Close: orNaN(s.Close),
		Vol:   orNaN(s.Vol),
	}
}

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func orNaN(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}
