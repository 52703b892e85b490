// Package provider defines the remote market-data client interface and
// concrete adapters for it. The rest of barvault depends only on the
// Client interface; a provider is injected at wiring time.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"barvault/internal/domain"
)

// Client is a blocking remote market-data source. Implementations return
// an error on any failure (network, auth, rate limit); failures are
// retryable unless they are an *InvalidSymbolError.
type Client interface {
	// FetchBars returns OHLCV bars for the symbol in [from, to].
	FetchBars(ctx context.Context, symbol, exchange string, interval domain.Interval, from, to time.Time) ([]domain.Bar, error)
}

// InvalidSymbolError reports that the remote provider does not know the
// symbol. It is never retried.
type InvalidSymbolError struct {
	Symbol string
}

func (e *InvalidSymbolError) Error() string {
	return fmt.Sprintf("invalid symbol %q", e.Symbol)
}

// IsInvalidSymbol reports whether err is (or wraps) an *InvalidSymbolError.
func IsInvalidSymbol(err error) bool {
	var ise *InvalidSymbolError
	return errors.As(err, &ise)
}
