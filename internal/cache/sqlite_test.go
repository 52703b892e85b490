package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"barvault/internal/domain"
)

func openTestCache(t *testing.T) *SQLiteBarCache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "bars.db"), Options{TTL: 24 * time.Hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func dailyBar(symbol string, date time.Time, close float64) domain.Bar {
	return domain.Bar{
		Symbol:   symbol,
		Exchange: "NSE",
		Interval: domain.IntervalDay,
		Date:     date,
		Open:     close - 1,
		High:     close + 1,
		Low:      close - 2,
		Close:    close,
		Volume:   1_000_000,
	}
}

// weekdayBars produces n consecutive trading-day bars starting at start.
func weekdayBars(symbol string, start time.Time, n int, close float64) []domain.Bar {
	var bars []domain.Bar
	d := start
	for len(bars) < n {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			bars = append(bars, dailyBar(symbol, d, close))
		}
		d = d.AddDate(0, 0, 1)
	}
	return bars
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bars.db")

	c1, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	c1.Close()

	// Re-opening an existing cache must not fail on already-applied
	// migrations.
	c2, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	c2.Close()
}

func TestPutGetRoundTrip(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	// Mon 2024-06-03 .. Fri 2024-06-07.
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	bars := weekdayBars("RELIANCE", start, 5, 2900)
	if err := c.Put(ctx, bars); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, fresh, err := c.Get(ctx, "RELIANCE", "NSE", domain.IntervalDay, start, start.AddDate(0, 0, 4))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("Get returned %d rows, want 5", len(got))
	}
	if !fresh {
		t.Error("Get should report fully fresh coverage for a just-written range")
	}
	if got[0].Close != 2900 {
		t.Errorf("first row Close = %v, want 2900", got[0].Close)
	}
	if got[0].CachedAt.IsZero() {
		t.Error("CachedAt should be set by Put")
	}
}

func TestPutUpsertIsIdempotent(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	date := time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC)
	if err := c.Put(ctx, []domain.Bar{dailyBar("INFY", date, 1500)}); err != nil {
		t.Fatalf("Put (first): %v", err)
	}
	if err := c.Put(ctx, []domain.Bar{dailyBar("INFY", date, 1510)}); err != nil {
		t.Fatalf("Put (second): %v", err)
	}

	got, _, err := c.Get(ctx, "INFY", "NSE", domain.IntervalDay, date, date)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("upsert left %d rows for one key, want exactly 1", len(got))
	}
	if got[0].Close != 1510 {
		t.Errorf("rewritten row Close = %v, want the later value 1510", got[0].Close)
	}
}

func TestGetPartialCoverageNotFresh(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	if err := c.Put(ctx, weekdayBars("TCS", start, 3, 3800)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Request extends past the cached range.
	got, fresh, err := c.Get(ctx, "TCS", "NSE", domain.IntervalDay, start, start.AddDate(0, 0, 9))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Get returned %d rows, want the 3 cached ones", len(got))
	}
	if fresh {
		t.Error("partial coverage must not report fully fresh")
	}
}

func TestGetWeekendEdgesStillCovered(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	// Cached Mon-Fri; request Sat-before through Sun-after.
	mon := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	if err := c.Put(ctx, weekdayBars("HDFCBANK", mon, 5, 1600)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	satBefore := mon.AddDate(0, 0, -2)
	sunAfter := mon.AddDate(0, 0, 6)
	_, fresh, err := c.Get(ctx, "HDFCBANK", "NSE", domain.IntervalDay, satBefore, sunAfter)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !fresh {
		t.Error("weekend days at the range edges should not break coverage")
	}
}

func TestGetStaleRowsNotFresh(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	if err := c.Put(ctx, weekdayBars("SBIN", start, 5, 830)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Age every row past the TTL.
	old := time.Now().Add(-48 * time.Hour).Unix()
	if _, err := c.db.Exec(`UPDATE bars SET cached_at = ?`, old); err != nil {
		t.Fatalf("aging rows: %v", err)
	}

	got, fresh, err := c.Get(ctx, "SBIN", "NSE", domain.IntervalDay, start, start.AddDate(0, 0, 4))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("stale rows must still be returned, got %d", len(got))
	}
	if fresh {
		t.Error("rows older than the TTL must not report fully fresh")
	}
}

func TestCoverage(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	cov, err := c.Coverage(ctx, "NOSUCH", "NSE", domain.IntervalDay)
	if err != nil {
		t.Fatalf("Coverage (empty): %v", err)
	}
	if !cov.Empty() {
		t.Error("coverage of an unknown symbol should be empty")
	}

	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	bars := weekdayBars("RELIANCE", start, 5, 2900)
	if err := c.Put(ctx, bars); err != nil {
		t.Fatalf("Put: %v", err)
	}

	cov, err = c.Coverage(ctx, "RELIANCE", "NSE", domain.IntervalDay)
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if cov.RowCount != 5 {
		t.Errorf("RowCount = %d, want 5", cov.RowCount)
	}
	if !cov.MinDate.Equal(start) {
		t.Errorf("MinDate = %v, want %v", cov.MinDate, start)
	}
	if !cov.MaxDate.Equal(start.AddDate(0, 0, 4)) {
		t.Errorf("MaxDate = %v, want %v", cov.MaxDate, start.AddDate(0, 0, 4))
	}
	if !cov.Fresh(24*time.Hour, time.Now()) {
		t.Error("just-written coverage should be fresh")
	}
}

func TestPurgeStale(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	if err := c.Put(ctx, weekdayBars("OLD", start, 3, 100)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	old := time.Now().Add(-30 * 24 * time.Hour).Unix()
	if _, err := c.db.Exec(`UPDATE bars SET cached_at = ? WHERE symbol = 'OLD'`, old); err != nil {
		t.Fatalf("aging rows: %v", err)
	}
	if err := c.Put(ctx, weekdayBars("NEW", start, 3, 200)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	n, err := c.PurgeStale(ctx, time.Now().Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeStale: %v", err)
	}
	if n != 3 {
		t.Errorf("PurgeStale deleted %d rows, want 3", n)
	}

	total, err := c.TotalRows(ctx)
	if err != nil {
		t.Fatalf("TotalRows: %v", err)
	}
	if total != 3 {
		t.Errorf("TotalRows after purge = %d, want 3", total)
	}
}

func TestPrefixesAndDates(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	if err := c.Put(ctx, weekdayBars("AAA", start, 2, 10)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put(ctx, weekdayBars("BBB", start, 4, 20)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	prefixes, err := c.Prefixes(ctx)
	if err != nil {
		t.Fatalf("Prefixes: %v", err)
	}
	if len(prefixes) != 2 {
		t.Fatalf("Prefixes returned %d series, want 2", len(prefixes))
	}
	if prefixes[0].Symbol != "AAA" || prefixes[1].Symbol != "BBB" {
		t.Errorf("Prefixes = %+v, want AAA then BBB", prefixes)
	}

	dates, err := c.Dates(ctx, prefixes[1])
	if err != nil {
		t.Fatalf("Dates: %v", err)
	}
	if len(dates) != 4 {
		t.Fatalf("Dates returned %d entries, want 4", len(dates))
	}
	if !dates[0].Equal(start) {
		t.Errorf("first date = %v, want %v", dates[0], start)
	}
}

func TestSizeAndIntegrity(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	size, err := c.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size <= 0 {
		t.Errorf("Size = %d, want > 0", size)
	}
	if err := c.IntegrityCheck(ctx); err != nil {
		t.Errorf("IntegrityCheck: %v", err)
	}
}

func TestCacheErrorDistinguishable(t *testing.T) {
	c := openTestCache(t)
	c.Close() // force storage failures

	_, _, err := c.Get(context.Background(), "X", "NSE", domain.IntervalDay, time.Now(), time.Now())
	if err == nil {
		t.Fatal("Get on a closed cache should fail")
	}
	var ce *CacheError
	if !errors.As(err, &ce) {
		t.Errorf("error %v should be a *CacheError", err)
	}
	if !IsCacheError(err) {
		t.Error("IsCacheError should report true")
	}
}

func TestPutGetHourlyBarsSameDay(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	day := time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC)
	var bars []domain.Bar
	for _, h := range []int{10, 11, 12} {
		b := dailyBar("RELIANCE", day.Add(time.Duration(h)*time.Hour), 100+float64(h))
		b.Interval = domain.IntervalHour
		bars = append(bars, b)
	}
	if err := c.Put(ctx, bars); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, hit, err := c.Get(ctx, "RELIANCE", "NSE", domain.IntervalHour, day, day)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("rows = %d, want 3 (one per hour, no collapsing)", len(got))
	}
	if !hit {
		t.Error("single fully-cached day should be a fresh hit")
	}
	for i, b := range got {
		if want := 10 + i; b.Date.Hour() != want {
			t.Errorf("row %d hour = %d, want %d", i, b.Date.Hour(), want)
		}
		if b.Close != 100+float64(10+i) {
			t.Errorf("row %d close = %v, each hour must keep its own values", i, b.Close)
		}
	}

	// The daily series for the same symbol is a separate key space.
	daily, _, err := c.Get(ctx, "RELIANCE", "NSE", domain.IntervalDay, day, day)
	if err != nil {
		t.Fatalf("Get daily: %v", err)
	}
	if len(daily) != 0 {
		t.Errorf("daily rows = %d, want 0", len(daily))
	}
}

func TestGetInteriorHoleNotCovered(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	// Two islands with two missing weeks between them.
	start := time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC)
	if err := c.Put(ctx, weekdayBars("RELIANCE", start, 5, 100)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	later := time.Date(2024, time.June, 24, 0, 0, 0, 0, time.UTC)
	if err := c.Put(ctx, weekdayBars("RELIANCE", later, 5, 110)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	end := time.Date(2024, time.June, 28, 0, 0, 0, 0, time.UTC)
	bars, hit, err := c.Get(ctx, "RELIANCE", "NSE", domain.IntervalDay, start, end)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(bars) != 10 {
		t.Fatalf("rows = %d, want 10", len(bars))
	}
	if hit {
		t.Error("a two-week interior hole must not report full coverage")
	}
}

func TestGetHolidaySizedShortfallStillCovers(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	start := time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC)
	if err := c.Put(ctx, weekdayBars("RELIANCE", start, 10, 100)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Drop one interior day, the shape of an exchange holiday.
	holiday := time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC)
	if _, err := c.db.Exec(`DELETE FROM bars WHERE date = ?`, holiday.Format(dateLayout)); err != nil {
		t.Fatalf("delete: %v", err)
	}

	end := time.Date(2024, time.June, 14, 0, 0, 0, 0, time.UTC)
	_, hit, err := c.Get(ctx, "RELIANCE", "NSE", domain.IntervalDay, start, end)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !hit {
		t.Error("a single missing interior day should still count as covered")
	}
}
