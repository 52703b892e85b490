// Package domain defines the core data types shared across barvault:
// OHLCV bars, bar intervals, and cache coverage summaries.
package domain

import "time"

// Interval identifies the bar aggregation period.
type Interval string

const (
	IntervalDay    Interval = "day"
	IntervalHour   Interval = "hour"
	IntervalMinute Interval = "minute"
)

// Truncate normalizes a bar timestamp to the interval's canonical form:
// midnight UTC for daily bars, the top of the hour or minute for
// intraday bars. Two observations of the same period always normalize
// to the same instant.
func (i Interval) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch i {
	case IntervalHour:
		return t.Truncate(time.Hour)
	case IntervalMinute:
		return t.Truncate(time.Minute)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// Bar is one OHLCV observation, uniquely identified by
// (Symbol, Exchange, Interval, Date). CachedAt records when the row was
// written to the cache and is set by the cache on Put, not by providers.
type Bar struct {
	Symbol   string
	Exchange string
	Interval Interval
	Date     time.Time // trading date, midnight UTC for daily bars
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   int64
	CachedAt time.Time
}

// Key returns the identity tuple of the bar as a comparable value.
func (b Bar) Key() BarKey {
	return BarKey{
		Symbol:   b.Symbol,
		Exchange: b.Exchange,
		Interval: b.Interval,
		Date:     b.Interval.Truncate(b.Date).Format(time.RFC3339),
	}
}

// BarKey is the comparable identity of a Bar.
type BarKey struct {
	Symbol   string
	Exchange string
	Interval Interval
	Date     string
}

// CoverageSummary describes what the cache holds for one
// (symbol, exchange, interval) prefix. It is derived from stored rows,
// never stored itself.
type CoverageSummary struct {
	Symbol         string
	Exchange       string
	Interval       Interval
	MinDate        time.Time
	MaxDate        time.Time
	RowCount       int64
	NewestCachedAt time.Time // cached_at of the most recently written row
}

// Empty reports whether there are no cached rows for the prefix.
func (c CoverageSummary) Empty() bool { return c.RowCount == 0 }

// Fresh reports whether the newest cached row was written within ttl of now.
func (c CoverageSummary) Fresh(ttl time.Duration, now time.Time) bool {
	if c.Empty() {
		return false
	}
	return now.Sub(c.NewestCachedAt) < ttl
}
