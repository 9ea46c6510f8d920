// Package sizing implements position-sizing for linked entry orders.
package sizing

import (
	"context"
	"fmt"
	"math"
	"time"

	"tradingcore/internal/engine/enginectx"
)

const (
	// DollarAllocationThreshold is the boundary above which a
	// qtyOrAllocation value is interpreted as a dollar amount rather than
	// an explicit share count.
	DollarAllocationThreshold = 1000

	MinShares = 1
	MaxShares = 10_000
)

// Sizer implements enginectx.PositionSizer, resolving a dollar allocation
// to a clamped share count via the price service, or passing an explicit
// share count through unchanged.
type Sizer struct {
	PriceService enginectx.PriceService
	QuoteTimeout time.Duration
}

// NewSizer constructs a Sizer. A zero QuoteTimeout defaults to 3s.
func NewSizer(priceService enginectx.PriceService, quoteTimeout time.Duration) *Sizer {
	if quoteTimeout <= 0 {
		quoteTimeout = 3 * time.Second
	}
	return &Sizer{PriceService: priceService, QuoteTimeout: quoteTimeout}
}

// Resolve implements enginectx.PositionSizer.
func (s *Sizer) Resolve(ctx context.Context, symbol string, qtyOrAllocation float64) (int, error) {
	if qtyOrAllocation <= DollarAllocationThreshold {
		shares := int(qtyOrAllocation)
		return clamp(shares)
	}

	price, err := s.PriceService.LastPrice(ctx, symbol, s.QuoteTimeout)
	if err != nil {
		return 0, fmt.Errorf("sizing: last price unavailable for %s: %w", symbol, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("sizing: non-positive price for %s: %v", symbol, price)
	}

	shares := int(math.Floor(qtyOrAllocation / price))
	return clamp(shares)
}

func clamp(shares int) (int, error) {
	if shares < MinShares {
		return 0, fmt.Errorf("sizing: resolved %d shares, below minimum %d", shares, MinShares)
	}
	if shares > MaxShares {
		return MaxShares, nil
	}
	return shares, nil
}
