// Package export dumps cached bars to Parquet files so backtest and
// screening tools can consume the dataset without touching SQLite.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"barvault/internal/cache"
	"barvault/internal/domain"
)

// BarRow is the Parquet schema for exported bar data.
type BarRow struct {
	Symbol   string  `parquet:"symbol"`
	Exchange string  `parquet:"exchange"`
	Date     int64   `parquet:"date,timestamp(millisecond)"` // Unix ms, midnight UTC
	Open     float64 `parquet:"open"`
	High     float64 `parquet:"high"`
	Low      float64 `parquet:"low"`
	Close    float64 `parquet:"close"`
	Volume   int64   `parquet:"volume"`
}

// Source is the slice of the cache the exporter reads.
type Source interface {
	Prefixes(ctx context.Context) ([]cache.Prefix, error)
	Get(ctx context.Context, symbol, exchange string, interval domain.Interval, from, to time.Time) ([]domain.Bar, bool, error)
}

var _ Source = (*cache.SQLiteBarCache)(nil)

// ParquetExporter writes one file per symbol and year under:
//
//	<Dir>/<EXCHANGE>/<interval>/<SYMBOL>/<YYYY>.parquet
type ParquetExporter struct {
	Dir string
	src Source
	log *slog.Logger
}

// NewParquetExporter creates an exporter rooted at dir.
func NewParquetExporter(dir string, src Source, log *slog.Logger) *ParquetExporter {
	if log == nil {
		log = slog.Default()
	}
	return &ParquetExporter{
		Dir: dir,
		src: src,
		log: log.With("component", "export"),
	}
}

// ExportAll exports every cached series over [from, to] and returns the
// number of rows written.
func (e *ParquetExporter) ExportAll(ctx context.Context, from, to time.Time) (int, error) {
	prefixes, err := e.src.Prefixes(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, p := range prefixes {
		n, err := e.Export(ctx, p, from, to)
		if err != nil {
			return total, fmt.Errorf("exporting %s: %w", p.Symbol, err)
		}
		total += n
	}
	e.log.Info("export complete", "series", len(prefixes), "rows", total)
	return total, nil
}

// Export exports one series over [from, to], merging with any rows
// already present in the target files.
func (e *ParquetExporter) Export(ctx context.Context, p cache.Prefix, from, to time.Time) (int, error) {
	bars, _, err := e.src.Get(ctx, p.Symbol, p.Exchange, p.Interval, from, to)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, nil
	}

	// Group by year, one file per year.
	byYear := make(map[int][]BarRow)
	for _, b := range bars {
		byYear[b.Date.Year()] = append(byYear[b.Date.Year()], BarRow{
			Symbol:   b.Symbol,
			Exchange: b.Exchange,
			Date:     b.Date.UnixMilli(),
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			Volume:   b.Volume,
		})
	}

	for year, rows := range byYear {
		path := e.barPath(p, year)

		existing, _ := readParquetFile[BarRow](path)
		merged := mergeRows(existing, rows)

		if err := writeParquetFile(path, merged); err != nil {
			return 0, fmt.Errorf("writing %s/%d: %w", p.Symbol, year, err)
		}
	}
	return len(bars), nil
}

// barPath returns the target path for one symbol-year file.
func (e *ParquetExporter) barPath(p cache.Prefix, year int) string {
	return filepath.Join(e.Dir,
		strings.ToUpper(p.Exchange),
		string(p.Interval),
		strings.ToUpper(p.Symbol),
		fmt.Sprintf("%d.parquet", year))
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

// mergeRows deduplicates rows by (symbol, date), preferring incoming
// rows over existing ones, sorted by date.
func mergeRows(existing, incoming []BarRow) []BarRow {
	type key struct {
		symbol string
		date   int64
	}
	seen := make(map[key]BarRow, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Date}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Date}] = r
	}

	merged := make([]BarRow, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Date < merged[j].Date
	})
	return merged
}
