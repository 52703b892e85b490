// Package update implements the incremental daily updater that keeps the
// bar cache fresh with one small remote call per symbol.
package update

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"barvault/internal/domain"
	"barvault/internal/fetch"
	"barvault/internal/util"
)

// Config holds parameters for an incremental update pass.
type Config struct {
	Exchange     string
	Interval     domain.Interval
	LookbackDays int // history fetched for symbols with no prior coverage
}

func (c Config) withDefaults() Config {
	if c.Interval == "" {
		c.Interval = domain.IntervalDay
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = 30
	}
	return c
}

// Coverage is the slice of the cache the updater reads.
type Coverage interface {
	Coverage(ctx context.Context, symbol, exchange string, interval domain.Interval) (domain.CoverageSummary, error)
}

// Updater fetches only "since the last cached date" per symbol. Running
// it twice in the same day is a no-op on the second pass because the
// requested range is already fresh.
type Updater struct {
	coord *fetch.Coordinator
	cov   Coverage
	cfg   Config
	now   func() time.Time
	log   *slog.Logger
}

// NewUpdater creates an Updater.
func NewUpdater(coord *fetch.Coordinator, cov Coverage, cfg Config, log *slog.Logger) *Updater {
	if log == nil {
		log = slog.Default()
	}
	return &Updater{
		coord: coord,
		cov:   cov,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		log:   log.With("component", "updater"),
	}
}

// Name returns the job identifier.
func (u *Updater) Name() string { return "daily-update" }

// Run performs one incremental pass over symbols. Per-symbol failures
// are logged and folded into a summary error; they never abort the pass.
func (u *Updater) Run(ctx context.Context, symbols []string) error {
	to := util.LastTradingDayOnOrBefore(u.now())

	var failed int
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := u.updateSymbol(ctx, sym, to); err != nil {
			u.log.Warn("symbol update failed", "symbol", sym, "err", err)
			failed++
		}
	}

	u.log.Info("update pass done", "symbols", len(symbols), "failed", failed)
	if failed > 0 {
		return fmt.Errorf("update finished with %d failed symbols", failed)
	}
	return nil
}

func (u *Updater) updateSymbol(ctx context.Context, symbol string, to time.Time) error {
	cov, err := u.cov.Coverage(ctx, symbol, u.cfg.Exchange, u.cfg.Interval)

	var from time.Time
	switch {
	case err != nil:
		// Degraded cache read: fall back to the short lookback rather
		// than skipping the symbol.
		u.log.Warn("coverage read failed", "symbol", symbol, "err", err)
		from = to.AddDate(0, 0, -u.cfg.LookbackDays)
	case cov.Empty():
		// No history yet; a short lookback, never a full historical
		// fetch.
		from = to.AddDate(0, 0, -u.cfg.LookbackDays)
	default:
		from = util.NextTradingDay(cov.MaxDate)
	}

	if from.After(to) {
		// Already caught up.
		return nil
	}

	_, err = u.coord.Fetch(ctx, fetch.Request{
		Symbol:   symbol,
		Exchange: u.cfg.Exchange,
		Interval: u.cfg.Interval,
		From:     from,
		To:       to,
	})
	return err
}
