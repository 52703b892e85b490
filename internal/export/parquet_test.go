package export

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"barvault/internal/cache"
	"barvault/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestCache(t *testing.T) *cache.SQLiteBarCache {
	t.Helper()
	c, err := cache.Open(filepath.Join(t.TempDir(), "bars.db"), cache.Options{TTL: 24 * time.Hour})
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func putBars(t *testing.T, c *cache.SQLiteBarCache, symbol string, dates ...time.Time) {
	t.Helper()
	bars := make([]domain.Bar, 0, len(dates))
	for _, d := range dates {
		bars = append(bars, domain.Bar{
			Symbol:   symbol,
			Exchange: "NSE",
			Interval: domain.IntervalDay,
			Date:     d,
			Open:     100, High: 105, Low: 99, Close: 102,
			Volume: 1000,
		})
	}
	if err := c.Put(context.Background(), bars); err != nil {
		t.Fatalf("put: %v", err)
	}
}

func TestExportWritesPerSymbolYearFiles(t *testing.T) {
	c := openTestCache(t)
	putBars(t, c, "RELIANCE",
		day(2023, time.December, 28), day(2023, time.December, 29),
		day(2024, time.January, 1), day(2024, time.January, 2))

	dir := t.TempDir()
	e := NewParquetExporter(dir, c, discard())

	n, err := e.ExportAll(context.Background(), day(2023, time.January, 1), day(2024, time.December, 31))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != 4 {
		t.Fatalf("rows = %d, want 4", n)
	}

	for _, year := range []string{"2023", "2024"} {
		path := filepath.Join(dir, "NSE", "day", "RELIANCE", year+".parquet")
		rows, err := readParquetFile[BarRow](path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if len(rows) != 2 {
			t.Fatalf("%s: rows = %d, want 2", year, len(rows))
		}
	}
}

func TestExportMergesWithExistingFile(t *testing.T) {
	c := openTestCache(t)
	putBars(t, c, "TCS", day(2024, time.June, 3), day(2024, time.June, 4))

	dir := t.TempDir()
	e := NewParquetExporter(dir, c, discard())

	if _, err := e.ExportAll(context.Background(), day(2024, time.June, 1), day(2024, time.June, 30)); err != nil {
		t.Fatalf("first export: %v", err)
	}

	// New bar plus an overlapping one; the overlap must not duplicate.
	putBars(t, c, "TCS", day(2024, time.June, 4), day(2024, time.June, 5))
	if _, err := e.ExportAll(context.Background(), day(2024, time.June, 1), day(2024, time.June, 30)); err != nil {
		t.Fatalf("second export: %v", err)
	}

	path := filepath.Join(dir, "NSE", "day", "TCS", "2024.parquet")
	rows, err := readParquetFile[BarRow](path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].Date <= rows[i-1].Date {
			t.Fatalf("rows not sorted at %d", i)
		}
	}
}

func TestExportEmptyRangeWritesNothing(t *testing.T) {
	c := openTestCache(t)
	putBars(t, c, "INFY", day(2024, time.June, 3))

	dir := t.TempDir()
	e := NewParquetExporter(dir, c, discard())

	n, err := e.Export(context.Background(),
		cache.Prefix{Symbol: "INFY", Exchange: "NSE", Interval: domain.IntervalDay},
		day(2020, time.January, 1), day(2020, time.December, 31))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != 0 {
		t.Fatalf("rows = %d, want 0", n)
	}
	if _, err := readParquetFile[BarRow](filepath.Join(dir, "NSE", "day", "INFY", "2020.parquet")); err == nil {
		t.Fatal("expected no file for empty range")
	}
}
