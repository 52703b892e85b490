package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"barvault/internal/domain"
	"barvault/internal/util"
)

// Compile-time interface check.
var _ Client = (*AlpacaClient)(nil)

// AlpacaClient adapts the Alpaca market-data API to the Client interface.
type AlpacaClient struct {
	client *marketdata.Client
}

// NewAlpacaClient creates an AlpacaClient with the given credentials.
// dataURL overrides the default market-data endpoint when non-empty.
func NewAlpacaClient(apiKey, apiSecret, dataURL string) *AlpacaClient {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &AlpacaClient{client: marketdata.NewClient(opts)}
}

// FetchBars returns bars for the symbol in [from, to]. The exchange tag
// is stamped onto the returned rows; Alpaca itself serves consolidated
// US data regardless of listing venue.
func (c *AlpacaClient) FetchBars(ctx context.Context, symbol, exchange string, interval domain.Interval, from, to time.Time) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tf, err := timeFrame(interval)
	if err != nil {
		return nil, err
	}

	alpacaBars, err := c.client.GetBars(strings.ToUpper(symbol), marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     util.Day(from),
		End:       util.Day(to).Add(24*time.Hour - time.Second),
	})
	if err != nil {
		if isUnknownSymbol(err) {
			return nil, &InvalidSymbolError{Symbol: symbol}
		}
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}

	bars := make([]domain.Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, domain.Bar{
			Symbol:   strings.ToUpper(symbol),
			Exchange: exchange,
			Interval: interval,
			Date:     interval.Truncate(ab.Timestamp),
			Open:     ab.Open,
			High:     ab.High,
			Low:      ab.Low,
			Close:    ab.Close,
			Volume:   int64(ab.Volume),
		})
	}
	return bars, nil
}

func timeFrame(interval domain.Interval) (marketdata.TimeFrame, error) {
	switch interval {
	case domain.IntervalDay:
		return marketdata.OneDay, nil
	case domain.IntervalHour:
		return marketdata.OneHour, nil
	case domain.IntervalMinute:
		return marketdata.OneMin, nil
	default:
		return marketdata.TimeFrame{}, fmt.Errorf("unsupported interval %q", interval)
	}
}

// isUnknownSymbol sniffs the provider error for an unknown-symbol
// response. The SDK does not expose a typed error for this case, so the
// message text is the only signal available.
func isUnknownSymbol(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid symbol") ||
		strings.Contains(msg, "unknown symbol") ||
		strings.Contains(msg, "not found")
}
