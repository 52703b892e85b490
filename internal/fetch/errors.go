package fetch

import (
	"errors"
	"fmt"
	"time"
)

// CircuitOpenError is returned without any remote call being attempted
// while the circuit breaker is open.
type CircuitOpenError struct {
	RetryAfter time.Duration // time until the breaker allows a trial call
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open, retry after %s", e.RetryAfter.Round(time.Second))
}

// IsCircuitOpen reports whether err is (or wraps) a *CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	return errors.As(err, &coe)
}

// FetchExhaustedError is returned when every retry attempt failed. The
// last underlying remote error is attached.
type FetchExhaustedError struct {
	Attempts int
	Err      error
}

func (e *FetchExhaustedError) Error() string {
	return fmt.Sprintf("remote fetch failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *FetchExhaustedError) Unwrap() error { return e.Err }

// IsExhausted reports whether err is (or wraps) a *FetchExhaustedError.
func IsExhausted(err error) bool {
	var fee *FetchExhaustedError
	return errors.As(err, &fee)
}
