package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"barvault/internal/domain"
	"barvault/internal/fetch"
	"barvault/internal/util"
)

// Config holds parameters for a backfill run.
type Config struct {
	Exchange  string
	Interval  domain.Interval
	Years     int  // history depth (default 3)
	BatchSize int  // symbols per batch (default 10)
	Resume    bool // continue from an in-progress checkpoint
	KeepDone  bool // leave the completed checkpoint for inspection
}

func (c Config) withDefaults() Config {
	if c.Interval == "" {
		c.Interval = domain.IntervalDay
	}
	if c.Years <= 0 {
		c.Years = 3
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	return c
}

// Manager drives the fetch coordinator across a symbol universe and a
// multi-year range, persisting a checkpoint after every symbol so a
// multi-hour run can be killed and restarted without redoing work.
type Manager struct {
	coord *fetch.Coordinator
	store *Store
	cfg   Config
	now   func() time.Time
	log   *slog.Logger
}

// NewManager creates a Manager.
func NewManager(coord *fetch.Coordinator, store *Store, cfg Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		coord: coord,
		store: store,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		log:   log.With("component", "backfill"),
	}
}

// Name returns the job identifier.
func (m *Manager) Name() string { return "backfill" }

// Run backfills the cache for symbols. With Resume enabled an existing
// in-progress checkpoint takes precedence: symbols it has already
// completed or failed are skipped even when the caller re-supplies the
// full universe. The returned error is non-nil when the run finished
// with failed symbols, so scheduled invocations exit non-zero.
func (m *Manager) Run(ctx context.Context, symbols []string) error {
	ckpt, err := m.loadOrCreate(symbols)
	if err != nil {
		return err
	}
	if err := m.store.Save(ckpt); err != nil {
		return fmt.Errorf("persisting initial checkpoint: %w", err)
	}

	to := util.LastTradingDayOnOrBefore(m.now())
	from := to.AddDate(-m.cfg.Years, 0, 0)

	total := len(ckpt.Remaining)
	m.log.Info("starting backfill",
		"run_id", ckpt.RunID,
		"remaining", total,
		"completed", len(ckpt.Completed),
		"from", from.Format("2006-01-02"),
		"to", to.Format("2006-01-02"),
	)

	runStart := m.now()
	processed := 0
	for len(ckpt.Remaining) > 0 {
		if err := ctx.Err(); err != nil {
			// The checkpoint already reflects every finished symbol;
			// a restart resumes exactly here.
			return err
		}

		batch := ckpt.Remaining
		if len(batch) > m.cfg.BatchSize {
			batch = batch[:m.cfg.BatchSize]
		}
		batch = append([]string(nil), batch...)

		for _, sym := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}

			_, err := m.coord.Fetch(ctx, fetch.Request{
				Symbol:   sym,
				Exchange: m.cfg.Exchange,
				Interval: m.cfg.Interval,
				From:     from,
				To:       to,
			})
			if err != nil {
				m.log.Warn("symbol failed", "symbol", sym, "err", err)
				ckpt.MarkFailed(sym, err)
			} else {
				ckpt.MarkCompleted(sym)
			}
			processed++

			if err := m.store.Save(ckpt); err != nil {
				return fmt.Errorf("persisting checkpoint after %s: %w", sym, err)
			}
		}

		m.log.Info("batch done",
			"processed", processed,
			"total", total,
			"failed", len(ckpt.Failed),
			"elapsed", m.now().Sub(runStart).Round(time.Second),
		)
	}

	ckpt.Status = StatusComplete
	if m.cfg.KeepDone {
		if err := m.store.Save(ckpt); err != nil {
			return fmt.Errorf("persisting final checkpoint: %w", err)
		}
	} else {
		if err := m.store.Clear(); err != nil {
			return err
		}
	}

	m.log.Info("backfill complete",
		"completed", len(ckpt.Completed),
		"failed", len(ckpt.Failed),
		"elapsed", m.now().Sub(runStart).Round(time.Second),
	)

	if n := len(ckpt.Failed); n > 0 {
		return fmt.Errorf("backfill finished with %d failed symbols", n)
	}
	return nil
}

// loadOrCreate resumes an in-progress checkpoint or starts a new one.
// New symbols supplied by the caller that the checkpoint has never seen
// are appended to the remaining list.
func (m *Manager) loadOrCreate(symbols []string) (*Checkpoint, error) {
	if m.cfg.Resume {
		ckpt, err := m.store.Load()
		if err != nil {
			return nil, err
		}
		if ckpt != nil && ckpt.Status == StatusInProgress {
			for _, sym := range symbols {
				if !ckpt.Seen(sym) {
					ckpt.Remaining = append(ckpt.Remaining, sym)
				}
			}
			m.log.Info("resuming from checkpoint", "run_id", ckpt.RunID, "remaining", len(ckpt.Remaining))
			return ckpt, nil
		}
	}
	return NewCheckpoint(symbols), nil
}
