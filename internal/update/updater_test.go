package update

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"barvault/internal/cache"
	"barvault/internal/domain"
	"barvault/internal/fetch"
	"barvault/internal/util"
)

type recordingClient struct {
	mu       sync.Mutex
	calls    int
	lastFrom time.Time
	lastTo   time.Time
	failFor  map[string]error
}

func (r *recordingClient) FetchBars(_ context.Context, symbol, exchange string, interval domain.Interval, from, to time.Time) ([]domain.Bar, error) {
	r.mu.Lock()
	r.calls++
	r.lastFrom, r.lastTo = from, to
	err := r.failFor[symbol]
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}

	var bars []domain.Bar
	for _, d := range util.TradingDays(from, to) {
		bars = append(bars, domain.Bar{
			Symbol: symbol, Exchange: exchange, Interval: interval,
			Date: d, Open: 99, High: 101, Low: 98, Close: 100, Volume: 1000,
		})
	}
	return bars, nil
}

func (r *recordingClient) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestUpdater(t *testing.T, client *recordingClient, now time.Time) (*Updater, *cache.SQLiteBarCache) {
	t.Helper()
	barCache, err := cache.Open(filepath.Join(t.TempDir(), "bars.db"), cache.Options{})
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() { barCache.Close() })

	coord := fetch.NewCoordinator(fetch.CoordinatorConfig{
		Cache:  barCache,
		Client: client,
		Executor: fetch.NewExecutor(fetch.ExecutorConfig{
			MaxRetries: 1,
			BaseDelay:  time.Millisecond,
		}, nil),
	})

	u := NewUpdater(coord, barCache, Config{Exchange: "NSE", LookbackDays: 30}, nil)
	u.now = func() time.Time { return now }
	return u, barCache
}

func seedBars(t *testing.T, c *cache.SQLiteBarCache, symbol string, from, to time.Time) {
	t.Helper()
	var bars []domain.Bar
	for _, d := range util.TradingDays(from, to) {
		bars = append(bars, domain.Bar{
			Symbol: symbol, Exchange: "NSE", Interval: domain.IntervalDay,
			Date: d, Open: 99, High: 101, Low: 98, Close: 100, Volume: 1000,
		})
	}
	if err := c.Put(context.Background(), bars); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}
}

func TestRunFetchesOnlySinceLastCachedDate(t *testing.T) {
	// "Now" is Fri 2024-06-14; the cache holds history through
	// Tue 2024-06-11.
	now := time.Date(2024, 6, 14, 12, 0, 0, 0, time.UTC)
	client := &recordingClient{}
	u, barCache := newTestUpdater(t, client, now)

	seedBars(t, barCache, "RELIANCE",
		time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC))

	if err := u.Run(context.Background(), []string{"RELIANCE"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantFrom := time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC)
	wantTo := time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)
	if !client.lastFrom.Equal(wantFrom) {
		t.Errorf("remote from = %v, want %v (day after cached max)", client.lastFrom, wantFrom)
	}
	if !client.lastTo.Equal(wantTo) {
		t.Errorf("remote to = %v, want %v", client.lastTo, wantTo)
	}

	cov, err := barCache.Coverage(context.Background(), "RELIANCE", "NSE", domain.IntervalDay)
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if !cov.MaxDate.Equal(wantTo) {
		t.Errorf("cache max date after update = %v, want %v", cov.MaxDate, wantTo)
	}
}

func TestRunShortLookbackWithoutCoverage(t *testing.T) {
	now := time.Date(2024, 6, 14, 12, 0, 0, 0, time.UTC)
	client := &recordingClient{}
	u, _ := newTestUpdater(t, client, now)

	if err := u.Run(context.Background(), []string{"NEWSYM"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantFrom := time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -30)
	if !client.lastFrom.Equal(wantFrom) {
		t.Errorf("remote from = %v, want the 30-day lookback %v", client.lastFrom, wantFrom)
	}
	if client.callCount() != 1 {
		t.Errorf("remote calls = %d, want 1 (never a full historical fetch)", client.callCount())
	}
}

func TestRunTwiceSameDayIsNoOp(t *testing.T) {
	now := time.Date(2024, 6, 14, 12, 0, 0, 0, time.UTC)
	client := &recordingClient{}
	u, _ := newTestUpdater(t, client, now)

	if err := u.Run(context.Background(), []string{"RELIANCE"}); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	calls := client.callCount()

	if err := u.Run(context.Background(), []string{"RELIANCE"}); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if client.callCount() != calls {
		t.Errorf("second same-day run made %d extra remote calls, want 0", client.callCount()-calls)
	}
}

func TestRunAlreadyUpToDateSkipsSymbol(t *testing.T) {
	now := time.Date(2024, 6, 14, 12, 0, 0, 0, time.UTC)
	client := &recordingClient{}
	u, barCache := newTestUpdater(t, client, now)

	// Cached through "today": nothing to do.
	seedBars(t, barCache, "RELIANCE",
		time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC))

	if err := u.Run(context.Background(), []string{"RELIANCE"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if client.callCount() != 0 {
		t.Errorf("remote calls = %d, want 0 for an up-to-date symbol", client.callCount())
	}
}

func TestRunIsolatesSymbolFailures(t *testing.T) {
	now := time.Date(2024, 6, 14, 12, 0, 0, 0, time.UTC)
	client := &recordingClient{failFor: map[string]error{"BAD": errors.New("remote refused")}}
	u, barCache := newTestUpdater(t, client, now)

	err := u.Run(context.Background(), []string{"BAD", "GOOD"})
	if err == nil {
		t.Fatal("Run with a failing symbol should return a summary error")
	}

	cov, cerr := barCache.Coverage(context.Background(), "GOOD", "NSE", domain.IntervalDay)
	if cerr != nil {
		t.Fatalf("Coverage: %v", cerr)
	}
	if cov.Empty() {
		t.Error("GOOD should have been updated despite BAD failing")
	}
}
