package fetch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"barvault/internal/cache"
	"barvault/internal/domain"
	"barvault/internal/provider"
	"barvault/internal/util"
)

// BarCache is the slice of the persistent cache the coordinator needs.
type BarCache interface {
	Get(ctx context.Context, symbol, exchange string, interval domain.Interval, from, to time.Time) ([]domain.Bar, bool, error)
	Put(ctx context.Context, bars []domain.Bar) error
	Coverage(ctx context.Context, symbol, exchange string, interval domain.Interval) (domain.CoverageSummary, error)
	TTL() time.Duration
}

// Compile-time check that the SQLite cache satisfies the interface.
var _ BarCache = (*cache.SQLiteBarCache)(nil)

// Request identifies one fetch: a series plus a date range.
type Request struct {
	Symbol       string
	Exchange     string
	Interval     domain.Interval
	From         time.Time
	To           time.Time
	ForceRefresh bool
}

// Statistics is a snapshot of the coordinator's lifetime counters.
type Statistics struct {
	CacheHits   int64
	CacheMisses int64
	APICalls    int64
	Errors      int64
}

// HitRate returns cache_hits / (cache_hits + cache_misses), or 0 when no
// fetches have happened.
func (s Statistics) HitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}

// BatchResult is the per-symbol outcome of FetchBatch.
type BatchResult struct {
	Bars []domain.Bar
	Err  error
}

// Coordinator serves bar requests cache-first: fully fresh coverage is
// answered with zero remote calls, anything else triggers a remote fetch
// scoped to the minimal missing sub-range, written back to the cache.
type Coordinator struct {
	cache       BarCache
	client      provider.Client
	exec        *Executor
	limiter     *util.RateLimiter
	concurrency int
	now         func() time.Time
	log         *slog.Logger

	hits     atomic.Int64
	misses   atomic.Int64
	apiCalls atomic.Int64
	errs     atomic.Int64
}

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	Cache       BarCache
	Client      provider.Client
	Executor    *Executor
	Limiter     *util.RateLimiter // optional; shared across all remote calls
	Concurrency int               // batch workers; <=1 means sequential
	Logger      *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Coordinator{
		cache:       cfg.Cache,
		client:      cfg.Client,
		exec:        cfg.Executor,
		limiter:     cfg.Limiter,
		concurrency: concurrency,
		now:         time.Now,
		log:         log.With("component", "coordinator"),
	}
}

// Statistics returns a snapshot of the lifetime counters.
func (c *Coordinator) Statistics() Statistics {
	return Statistics{
		CacheHits:   c.hits.Load(),
		CacheMisses: c.misses.Load(),
		APICalls:    c.apiCalls.Load(),
		Errors:      c.errs.Load(),
	}
}

// Breaker returns the executor's circuit-breaker snapshot.
func (c *Coordinator) Breaker() BreakerState {
	return c.exec.Breaker()
}

type dateRange struct {
	from, to time.Time
}

// Fetch returns all bars for the request, consulting the cache first.
// A cache read failure is treated as a miss; a cache write failure is
// logged but the freshly fetched data is still returned.
func (c *Coordinator) Fetch(ctx context.Context, req Request) ([]domain.Bar, error) {
	from, to := util.Day(req.From), util.Day(req.To)

	var cached []domain.Bar
	if !req.ForceRefresh {
		rows, ok, err := c.cache.Get(ctx, req.Symbol, req.Exchange, req.Interval, from, to)
		if err != nil {
			// Degraded cache: fall through to a remote fetch.
			c.log.Warn("cache read failed, treating as miss", "symbol", req.Symbol, "err", err)
		} else {
			cached = rows
			if ok {
				c.hits.Add(1)
				return rows, nil
			}
		}
	}
	c.misses.Add(1)

	fetched, err := c.fetchMissing(ctx, req, from, to)
	if err != nil {
		c.errs.Add(1)
		return nil, err
	}

	if len(fetched) > 0 {
		if err := c.cache.Put(ctx, fetched); err != nil {
			// Persistence failed but the data is correct; the caller
			// still gets it.
			c.log.Error("cache write failed", "symbol", req.Symbol, "rows", len(fetched), "err", err)
		}
	}

	return mergeBars(cached, fetched, from, to), nil
}

// fetchMissing fetches the minimal missing/stale sub-ranges remotely.
func (c *Coordinator) fetchMissing(ctx context.Context, req Request, from, to time.Time) ([]domain.Bar, error) {
	var fetched []domain.Bar
	for _, sub := range c.missingRanges(ctx, req, from, to) {
		bars, err := c.fetchRemote(ctx, req, sub)
		if err != nil {
			return nil, err
		}
		fetched = append(fetched, bars...)
	}
	return fetched, nil
}

// missingRanges computes which sub-ranges of [from, to] need a remote
// call. With no usable coverage (or on force refresh) it is the full
// range; otherwise a leading gap before the cached min date and/or a
// trailing gap after the cached max date. A stale tail refetches from
// the cached max date inclusive, since that row may have been written
// mid-session.
func (c *Coordinator) missingRanges(ctx context.Context, req Request, from, to time.Time) []dateRange {
	full := []dateRange{{from: from, to: to}}
	if req.ForceRefresh {
		return full
	}

	cov, err := c.cache.Coverage(ctx, req.Symbol, req.Exchange, req.Interval)
	if err != nil || cov.Empty() {
		return full
	}

	var subs []dateRange

	if from.Before(cov.MinDate) {
		headEnd := util.PrevTradingDay(cov.MinDate)
		if headEnd.After(to) {
			headEnd = to
		}
		if !headEnd.Before(from) {
			subs = append(subs, dateRange{from: from, to: headEnd})
		}
	}

	tailStart := cov.MaxDate
	if cov.Fresh(c.cache.TTL(), c.now()) {
		tailStart = util.NextTradingDay(cov.MaxDate)
	}
	if tailStart.Before(from) {
		tailStart = from
	}
	if !tailStart.After(to) {
		subs = append(subs, dateRange{from: tailStart, to: to})
	}

	if len(subs) == 0 {
		// Coverage looked complete yet the read verdict was a miss;
		// refetch the full range rather than returning nothing.
		return full
	}
	return subs
}

// fetchRemote runs one remote call through the executor, counting every
// attempted call (retries included) in api_calls.
func (c *Coordinator) fetchRemote(ctx context.Context, req Request, sub dateRange) ([]domain.Bar, error) {
	var bars []domain.Bar
	op := func(opCtx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(opCtx); err != nil {
				return err
			}
		}
		c.apiCalls.Add(1)
		got, err := c.client.FetchBars(opCtx, req.Symbol, req.Exchange, req.Interval, sub.from, sub.to)
		if err != nil {
			return err
		}
		bars = got
		return nil
	}

	if err := c.exec.Execute(ctx, op); err != nil {
		return nil, err
	}

	c.log.Debug("remote fetch",
		"symbol", req.Symbol,
		"from", sub.from.Format("2006-01-02"),
		"to", sub.to.Format("2006-01-02"),
		"rows", len(bars),
	)
	return bars, nil
}

// FetchBatch applies Fetch per symbol. One symbol's failure is recorded
// in its BatchResult and does not abort the rest. With a concurrency
// above one, workers share the coordinator's limiter and executor so the
// global request rate and breaker state stay coordinated.
func (c *Coordinator) FetchBatch(ctx context.Context, symbols []string, exchange string, interval domain.Interval, from, to time.Time) map[string]BatchResult {
	results := make(map[string]BatchResult, len(symbols))

	if c.concurrency <= 1 {
		for _, sym := range symbols {
			bars, err := c.Fetch(ctx, Request{
				Symbol: sym, Exchange: exchange, Interval: interval, From: from, To: to,
			})
			results[sym] = BatchResult{Bars: bars, Err: err}
			if ctx.Err() != nil {
				break
			}
		}
		return results
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			bars, err := c.Fetch(gctx, Request{
				Symbol: sym, Exchange: exchange, Interval: interval, From: from, To: to,
			})
			mu.Lock()
			results[sym] = BatchResult{Bars: bars, Err: err}
			mu.Unlock()
			return nil // per-symbol errors never abort the batch
		})
	}
	g.Wait()

	return results
}

// mergeBars unions cached and fetched rows over [from, to], preferring
// fetched rows on key collision, sorted by date.
func mergeBars(cached, fetched []domain.Bar, from, to time.Time) []domain.Bar {
	seen := make(map[domain.BarKey]domain.Bar, len(cached)+len(fetched))
	for _, b := range cached {
		seen[b.Key()] = b
	}
	for _, b := range fetched {
		seen[b.Key()] = b
	}

	merged := make([]domain.Bar, 0, len(seen))
	for _, b := range seen {
		// Day granularity, so intraday bars on the boundary days survive.
		if d := util.Day(b.Date); d.Before(util.Day(from)) || d.After(util.Day(to)) {
			continue
		}
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Date.Before(merged[j].Date)
	})
	return merged
}
