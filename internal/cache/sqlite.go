// Package cache implements the persistent OHLCV bar cache backed by
// SQLite. Rows are keyed by (symbol, exchange, interval, date); the
// cache answers range queries together with a freshness-and-coverage
// verdict so callers can decide whether a remote fetch is needed.
package cache

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"time"

	"github.com/pressly/goose/v3"

	"barvault/internal/domain"
	"barvault/internal/util"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

const dateLayout = "2006-01-02T15:04:05Z07:00" // RFC3339; sorts lexicographically in UTC

// Prefix identifies one cached series.
type Prefix struct {
	Symbol   string
	Exchange string
	Interval domain.Interval
}

// SQLiteBarCache is a durable bar cache over a single SQLite database
// file. All writes are committed before Put returns.
type SQLiteBarCache struct {
	db   *sql.DB
	path string
	ttl  time.Duration
	now  func() time.Time
}

// Options configures a SQLiteBarCache.
type Options struct {
	TTL time.Duration // freshness window; 0 means 24h
}

// Open opens (or creates) the bar cache at dbPath and runs schema
// migrations.
func Open(dbPath string, opts Options) (*SQLiteBarCache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, wrapErr("open", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, wrapErr("open", err)
	}
	// The write path is serialized through a single connection so bulk
	// upserts from concurrent batch workers cannot interleave.
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, wrapErr("migrate", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, wrapErr("migrate", err)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &SQLiteBarCache{
		db:   db,
		path: dbPath,
		ttl:  ttl,
		now:  time.Now,
	}, nil
}

// Close closes the underlying database connection.
func (c *SQLiteBarCache) Close() error {
	return c.db.Close()
}

// TTL returns the configured freshness window.
func (c *SQLiteBarCache) TTL() time.Duration { return c.ttl }

// Get returns all cached rows in [from, to] for the series, plus a
// boolean reporting whether the range is fully covered by fresh data.
// Coverage tolerates non-trading days at the range edges; freshness
// requires the newest covered row to have been cached within the TTL.
func (c *SQLiteBarCache) Get(ctx context.Context, symbol, exchange string, interval domain.Interval, from, to time.Time) ([]domain.Bar, bool, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT symbol, exchange, interval, date, open, high, low, close, volume, cached_at
		FROM bars
		WHERE symbol = ? AND exchange = ? AND interval = ? AND date >= ? AND date <= ?
		ORDER BY date`,
		symbol, exchange, string(interval),
		util.Day(from).Format(dateLayout),
		// End of the to-day, so intraday rows on that date are included.
		util.Day(to).Add(24*time.Hour-time.Second).Format(dateLayout))
	if err != nil {
		return nil, false, wrapErr("get", err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, false, wrapErr("get", err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, false, wrapErr("get", err)
	}

	return bars, c.coversFresh(bars, from, to), nil
}

// coversFresh reports whether bars fully cover [from, to] with fresh data.
func (c *SQLiteBarCache) coversFresh(bars []domain.Bar, from, to time.Time) bool {
	if len(bars) == 0 {
		return false
	}
	first, last := bars[0], bars[len(bars)-1]

	wantStart := util.FirstTradingDayOnOrAfter(from)
	wantEnd := util.LastTradingDayOnOrBefore(to)
	if wantStart.After(wantEnd) {
		// Range holds no trading days; anything cached covers it.
		return true
	}
	// Compare at day granularity; intraday bars carry times within the day.
	if util.Day(first.Date).After(wantStart) || util.Day(last.Date).Before(wantEnd) {
		return false
	}
	if interiorShortfall(bars, wantStart, wantEnd) {
		return false
	}
	return c.now().Sub(last.CachedAt) < c.ttl
}

// interiorShortfall reports whether the rows cover markedly fewer
// trading days than the range holds. Exchange holidays are not modelled
// by the calendar, so a shortfall within holidayTolerance is treated as
// covered; anything larger (a purged or never-filled hole) is not.
func interiorShortfall(bars []domain.Bar, wantStart, wantEnd time.Time) bool {
	expected := util.CountTradingDays(wantStart, wantEnd)
	if expected == 0 {
		return false
	}

	days := make(map[time.Time]struct{}, expected)
	for _, b := range bars {
		days[util.Day(b.Date)] = struct{}{}
	}
	return expected-len(days) > holidayTolerance(expected)
}

// holidayTolerance is the number of missing trading days accepted as
// plausible exchange holidays over a range of expected days. Roughly one
// holiday per month of trading days, with slack for short ranges.
func holidayTolerance(expected int) int {
	return expected/20 + 2
}

// Put performs a bulk idempotent upsert within a single transaction.
// Re-writing an existing (symbol, exchange, interval, date) key replaces
// its values and refreshes cached_at.
func (c *SQLiteBarCache) Put(ctx context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("put", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (symbol, exchange, interval, date, open, high, low, close, volume, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, exchange, interval, date) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			cached_at = excluded.cached_at`)
	if err != nil {
		return wrapErr("put", err)
	}
	defer stmt.Close()

	cachedAt := c.now().UTC().Unix()
	for _, b := range bars {
		_, err := stmt.ExecContext(ctx,
			b.Symbol, b.Exchange, string(b.Interval), b.Interval.Truncate(b.Date).Format(dateLayout),
			b.Open, b.High, b.Low, b.Close, b.Volume, cachedAt)
		if err != nil {
			return wrapErr("put", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("put", err)
	}
	return nil
}

// Coverage returns the coverage summary for one series. An empty summary
// (RowCount == 0) means the cache holds nothing for it.
func (c *SQLiteBarCache) Coverage(ctx context.Context, symbol, exchange string, interval domain.Interval) (domain.CoverageSummary, error) {
	cov := domain.CoverageSummary{Symbol: symbol, Exchange: exchange, Interval: interval}

	var minDate, maxDate sql.NullString
	var count int64
	err := c.db.QueryRowContext(ctx, `
		SELECT MIN(date), MAX(date), COUNT(*)
		FROM bars
		WHERE symbol = ? AND exchange = ? AND interval = ?`,
		symbol, exchange, string(interval)).Scan(&minDate, &maxDate, &count)
	if err != nil {
		return cov, wrapErr("coverage", err)
	}
	if count == 0 {
		return cov, nil
	}

	cov.RowCount = count
	if cov.MinDate, err = time.Parse(dateLayout, minDate.String); err != nil {
		return cov, wrapErr("coverage", err)
	}
	if cov.MaxDate, err = time.Parse(dateLayout, maxDate.String); err != nil {
		return cov, wrapErr("coverage", err)
	}

	// cached_at of the newest row by date, per the freshness rule.
	var cachedAt int64
	err = c.db.QueryRowContext(ctx, `
		SELECT cached_at FROM bars
		WHERE symbol = ? AND exchange = ? AND interval = ?
		ORDER BY date DESC LIMIT 1`,
		symbol, exchange, string(interval)).Scan(&cachedAt)
	if err != nil {
		return cov, wrapErr("coverage", err)
	}
	cov.NewestCachedAt = time.Unix(cachedAt, 0).UTC()

	return cov, nil
}

// PurgeStale deletes rows whose cached_at predates the cutoff and
// returns the number of rows deleted.
func (c *SQLiteBarCache) PurgeStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM bars WHERE cached_at < ?`, olderThan.UTC().Unix())
	if err != nil {
		return 0, wrapErr("purge", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("purge", err)
	}
	return n, nil
}

// Prefixes returns every distinct (symbol, exchange, interval) series in
// the cache, ordered by symbol.
func (c *SQLiteBarCache) Prefixes(ctx context.Context) ([]Prefix, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT DISTINCT symbol, exchange, interval FROM bars ORDER BY symbol, exchange, interval`)
	if err != nil {
		return nil, wrapErr("prefixes", err)
	}
	defer rows.Close()

	var prefixes []Prefix
	for rows.Next() {
		var p Prefix
		var iv string
		if err := rows.Scan(&p.Symbol, &p.Exchange, &iv); err != nil {
			return nil, wrapErr("prefixes", err)
		}
		p.Interval = domain.Interval(iv)
		prefixes = append(prefixes, p)
	}
	return prefixes, rows.Err()
}

// Dates returns the sorted trading dates cached for one series, used by
// the health monitor for gap detection.
func (c *SQLiteBarCache) Dates(ctx context.Context, p Prefix) ([]time.Time, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT date FROM bars
		WHERE symbol = ? AND exchange = ? AND interval = ?
		ORDER BY date`,
		p.Symbol, p.Exchange, string(p.Interval))
	if err != nil {
		return nil, wrapErr("dates", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, wrapErr("dates", err)
		}
		d, err := time.Parse(dateLayout, s)
		if err != nil {
			return nil, wrapErr("dates", err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// TotalRows returns the number of cached bars across all series.
func (c *SQLiteBarCache) TotalRows(ctx context.Context) (int64, error) {
	var n int64
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bars`).Scan(&n); err != nil {
		return 0, wrapErr("count", err)
	}
	return n, nil
}

// Size returns the on-disk size of the database file in bytes.
func (c *SQLiteBarCache) Size() (int64, error) {
	info, err := os.Stat(c.path)
	if err != nil {
		return 0, wrapErr("size", err)
	}
	return info.Size(), nil
}

// IntegrityCheck runs SQLite's quick integrity check.
func (c *SQLiteBarCache) IntegrityCheck(ctx context.Context) error {
	var result string
	if err := c.db.QueryRowContext(ctx, `PRAGMA quick_check`).Scan(&result); err != nil {
		return wrapErr("integrity", err)
	}
	if result != "ok" {
		return wrapErr("integrity", fmt.Errorf("quick_check: %s", result))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBar(r rowScanner) (domain.Bar, error) {
	var b domain.Bar
	var iv, date string
	var cachedAt int64
	if err := r.Scan(&b.Symbol, &b.Exchange, &iv, &date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &cachedAt); err != nil {
		return b, err
	}
	b.Interval = domain.Interval(iv)
	var err error
	if b.Date, err = time.Parse(dateLayout, date); err != nil {
		return b, err
	}
	b.CachedAt = time.Unix(cachedAt, 0).UTC()
	return b, nil
}
