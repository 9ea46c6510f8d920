// Package priceservice resolves a best-effort last price for a symbol via
// the broker's snapshot-quote API.
package priceservice

import (
	"context"
	"fmt"
	"time"

	"tradingcore/internal/broker"
	"tradingcore/internal/marketdata"
)

// DefaultTimeout is used when a caller requests a price with a zero
// timeout.
const DefaultTimeout = 3 * time.Second

// Service implements enginectx.PriceService against a live broker
// connection, falling back to the multi-provider market-data client when
// the broker snapshot fails or the connection is degraded.
type Service struct {
	broker   broker.Client
	fallback *marketdata.Client
}

// NewService constructs a price service bound to a broker connection.
func NewService(brokerClient broker.Client) *Service {
	return &Service{broker: brokerClient}
}

// WithFallback attaches a secondary market-data client (e.g. Alpaca or
// Polygon behind internal/marketdata's provider fallback) consulted when
// the broker snapshot quote errors.
func (s *Service) WithFallback(client *marketdata.Client) *Service {
	s.fallback = client
	return s
}

// LastPrice returns the broker's last-trade snapshot price for symbol,
// falling back to the midpoint of bid/ask if last is zero (e.g. outside
// regular trading hours for some instruments), and to the fallback
// market-data client if the broker call itself errors.
func (s *Service) LastPrice(ctx context.Context, symbol string, timeout time.Duration) (float64, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	quote, err := s.broker.SnapshotQuote(ctx, broker.Contract{Symbol: symbol}, timeout)
	if err != nil {
		if s.fallback != nil {
			if fq, ferr := s.fallback.GetQuote(ctx, symbol); ferr == nil && fq.Price != 0 {
				return fq.Price, nil
			}
		}
		return 0, fmt.Errorf("priceservice: snapshot %s: %w", symbol, err)
	}
	if quote.Last != 0 {
		return quote.Last, nil
	}
	if quote.Bid != 0 && quote.Ask != 0 {
		return (quote.Bid + quote.Ask) / 2, nil
	}
	return 0, fmt.Errorf("priceservice: no usable price for %s", symbol)
}
