// Package health implements the read-only cache health monitor. It
// scans the bar cache and the backfill checkpoint and reports coverage,
// freshness, detected gaps, and overall status. It never mutates state,
// so it is safe to run alongside any other component.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"barvault/internal/backfill"
	"barvault/internal/cache"
	"barvault/internal/domain"
	"barvault/internal/util"
)

// Status classifies the overall cache health.
type Status string

const (
	StatusHealthy  Status = "HEALTHY"
	StatusWarning  Status = "WARNING"
	StatusCritical Status = "CRITICAL"
)

// Gap is a run of missing trading days inside a symbol's covered range.
type Gap struct {
	Symbol string    `json:"symbol"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
}

// Report is the health monitor's output.
type Report struct {
	Status          Status    `json:"status"`
	CoveragePct     float64   `json:"coverage_pct"`
	FreshnessPct    float64   `json:"freshness_pct"`
	Gaps            []Gap     `json:"gaps"`
	DBSizeBytes     int64     `json:"db_size_bytes"`
	TotalRows       int64     `json:"total_rows"`
	Issues          []string  `json:"issues"`
	Recommendations []string  `json:"recommendations"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// Cache is the read-only slice of the bar cache the monitor uses.
type Cache interface {
	Prefixes(ctx context.Context) ([]cache.Prefix, error)
	Coverage(ctx context.Context, symbol, exchange string, interval domain.Interval) (domain.CoverageSummary, error)
	Dates(ctx context.Context, p cache.Prefix) ([]time.Time, error)
	TotalRows(ctx context.Context) (int64, error)
	Size() (int64, error)
	IntegrityCheck(ctx context.Context) error
	TTL() time.Duration
}

// Compile-time check against the SQLite cache.
var _ Cache = (*cache.SQLiteBarCache)(nil)

// minGapDays is the smallest run of consecutive missing trading days
// reported as a gap; shorter runs are indistinguishable from exchange
// holidays.
const minGapDays = 3

// Monitor produces health reports.
type Monitor struct {
	cache Cache
	ckpts *backfill.Store // optional; supplies the expected universe
	now   func() time.Time
	log   *slog.Logger
}

// NewMonitor creates a Monitor. ckpts may be nil, in which case the set
// of cached symbols is used as the expected universe.
func NewMonitor(c Cache, ckpts *backfill.Store, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		cache: c,
		ckpts: ckpts,
		now:   time.Now,
		log:   log.With("component", "health"),
	}
}

// Report scans the cache and produces a health report.
func (m *Monitor) Report(ctx context.Context) (*Report, error) {
	r := &Report{GeneratedAt: m.now().UTC()}

	integrityOK := true
	if err := m.cache.IntegrityCheck(ctx); err != nil {
		integrityOK = false
		r.Issues = append(r.Issues, fmt.Sprintf("storage integrity check failed: %v", err))
	}

	if size, err := m.cache.Size(); err == nil {
		r.DBSizeBytes = size
	}
	if rows, err := m.cache.TotalRows(ctx); err == nil {
		r.TotalRows = rows
	}

	prefixes, err := m.cache.Prefixes(ctx)
	if err != nil {
		return nil, err
	}

	fresh := 0
	for _, p := range prefixes {
		cov, err := m.cache.Coverage(ctx, p.Symbol, p.Exchange, p.Interval)
		if err != nil {
			r.Issues = append(r.Issues, fmt.Sprintf("coverage read failed for %s: %v", p.Symbol, err))
			continue
		}
		if cov.Fresh(m.cache.TTL(), m.now()) {
			fresh++
		}

		dates, err := m.cache.Dates(ctx, p)
		if err != nil {
			r.Issues = append(r.Issues, fmt.Sprintf("date scan failed for %s: %v", p.Symbol, err))
			continue
		}
		r.Gaps = append(r.Gaps, findGaps(p.Symbol, dates)...)
	}

	if len(prefixes) > 0 {
		r.FreshnessPct = 100 * float64(fresh) / float64(len(prefixes))
	}
	r.CoveragePct = m.coveragePct(len(prefixes))

	m.classify(r, integrityOK, len(prefixes))
	return r, nil
}

// coveragePct compares cached symbols against the expected universe from
// the last backfill checkpoint, when one is available.
func (m *Monitor) coveragePct(cachedSymbols int) float64 {
	expected := cachedSymbols
	if m.ckpts != nil {
		if ckpt, err := m.ckpts.Load(); err == nil && ckpt != nil {
			expected = len(ckpt.Completed) + len(ckpt.Failed) + len(ckpt.Remaining)
		}
	}
	if expected == 0 {
		return 0
	}
	if cachedSymbols > expected {
		cachedSymbols = expected
	}
	return 100 * float64(cachedSymbols) / float64(expected)
}

func (m *Monitor) classify(r *Report, integrityOK bool, prefixes int) {
	switch {
	case !integrityOK:
		r.Status = StatusCritical
		r.Recommendations = append(r.Recommendations, "restore the cache database from backup or rebuild it with a force-refresh backfill")
	case prefixes == 0:
		r.Status = StatusCritical
		r.Issues = append(r.Issues, "cache is empty")
		r.Recommendations = append(r.Recommendations, "run a historical backfill to populate the cache")
	case r.FreshnessPct < 70:
		r.Status = StatusCritical
		r.Issues = append(r.Issues, fmt.Sprintf("only %.1f%% of symbols are fresh", r.FreshnessPct))
		r.Recommendations = append(r.Recommendations, "run the incremental updater; check provider credentials if failures persist")
	case len(r.Gaps) > 0 || r.FreshnessPct < 90:
		r.Status = StatusWarning
		if len(r.Gaps) > 0 {
			r.Issues = append(r.Issues, fmt.Sprintf("date gaps detected in %d series", len(r.Gaps)))
			r.Recommendations = append(r.Recommendations, "re-run the backfill for the affected symbols to fill gaps")
		}
		if r.FreshnessPct < 90 {
			r.Issues = append(r.Issues, fmt.Sprintf("%.1f%% of symbols are fresh", r.FreshnessPct))
			r.Recommendations = append(r.Recommendations, "run the incremental updater")
		}
	default:
		r.Status = StatusHealthy
	}
}

// findGaps reports runs of at least minGapDays consecutive missing
// trading days between cached dates.
func findGaps(symbol string, dates []time.Time) []Gap {
	var gaps []Gap
	for i := 1; i < len(dates); i++ {
		prev, next := dates[i-1], dates[i]
		missing := util.CountTradingDays(prev, next) - 2 // exclude both endpoints
		if missing >= minGapDays {
			gaps = append(gaps, Gap{
				Symbol: symbol,
				From:   util.NextTradingDay(prev),
				To:     util.PrevTradingDay(next),
			})
		}
	}
	return gaps
}
