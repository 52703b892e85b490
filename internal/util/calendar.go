package util

import "time"

// Trading-calendar date arithmetic. Weekends are treated as non-trading
// days; exchange holidays are not modelled, so callers that need exact
// session boundaries must tolerate a missing day here and there (the
// cache freshness TTL absorbs this).

// Day truncates t to midnight UTC, the canonical form for daily bar dates.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// IsTradingDay reports whether t falls on a weekday.
func IsTradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// NextTradingDay returns the first trading day strictly after t.
func NextTradingDay(t time.Time) time.Time {
	d := Day(t).AddDate(0, 0, 1)
	for !IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// PrevTradingDay returns the last trading day strictly before t.
func PrevTradingDay(t time.Time) time.Time {
	d := Day(t).AddDate(0, 0, -1)
	for !IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// FirstTradingDayOnOrAfter returns t if it is a trading day, otherwise
// the next trading day.
func FirstTradingDayOnOrAfter(t time.Time) time.Time {
	d := Day(t)
	for !IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// LastTradingDayOnOrBefore returns t if it is a trading day, otherwise
// the previous trading day.
func LastTradingDayOnOrBefore(t time.Time) time.Time {
	d := Day(t)
	for !IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// TradingDays returns all trading days in [from, to], inclusive.
func TradingDays(from, to time.Time) []time.Time {
	var days []time.Time
	for d := Day(from); !d.After(Day(to)); d = d.AddDate(0, 0, 1) {
		if IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// CountTradingDays returns the number of trading days in [from, to].
func CountTradingDays(from, to time.Time) int {
	n := 0
	for d := Day(from); !d.After(Day(to)); d = d.AddDate(0, 0, 1) {
		if IsTradingDay(d) {
			n++
		}
	}
	return n
}
