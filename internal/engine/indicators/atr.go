// Package indicators computes rolling technical indicators from broker
// historical bars.
package indicators

import (
	"context"
	"strconv"
	"sync"
	"time"

	"tradingcore/internal/broker"
	"tradingcore/internal/marketdata"
)

// Manager maintains a rolling window of true ranges per (symbol, period,
// barSize) and refreshes it from the broker's historical-bars API on a
// schedule. It implements enginectx.IndicatorManager.
type Manager struct {
	broker        broker.Client
	fallback      *marketdata.Client
	refreshPeriod time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	trueRanges []float64
	fetchedAt  time.Time
}

// DefaultRefreshPeriod bounds how often a symbol's bars are re-fetched from
// the broker; repeated ATR lookups within this window reuse the cached
// true-range window instead of re-requesting history.
const DefaultRefreshPeriod = 10 * time.Second

// NewManager constructs an indicator manager bound to a broker connection.
func NewManager(brokerClient broker.Client) *Manager {
	return &Manager{
		broker:        brokerClient,
		refreshPeriod: DefaultRefreshPeriod,
		cache:         make(map[string]cacheEntry),
	}
}

// WithFallback attaches a secondary market-data client consulted when the
// broker's historical-bars request fails.
func (m *Manager) WithFallback(client *marketdata.Client) *Manager {
	m.fallback = client
	return m
}

// ATR returns the mean true range over the last period bars of size
// barSize. ok is false until at least period bars are available.
func (m *Manager) ATR(ctx context.Context, symbol string, period int, barSize time.Duration) (float64, bool) {
	key := cacheKey(symbol, period, barSize)

	m.mu.Lock()
	entry, fresh := m.cache[key]
	stale := !fresh || time.Since(entry.fetchedAt) > m.refreshPeriod
	m.mu.Unlock()

	if stale {
		trueRanges, err := m.fetchTrueRanges(ctx, symbol, period, barSize)
		if err != nil {
			m.mu.Lock()
			entry = m.cache[key]
			m.mu.Unlock()
		} else {
			entry = cacheEntry{trueRanges: trueRanges, fetchedAt: time.Now().UTC()}
			m.mu.Lock()
			m.cache[key] = entry
			m.mu.Unlock()
		}
	}

	if len(entry.trueRanges) < period {
		return 0, false
	}

	window := entry.trueRanges[len(entry.trueRanges)-period:]
	sum := 0.0
	for _, tr := range window {
		sum += tr
	}
	return sum / float64(period), true
}

func (m *Manager) fetchTrueRanges(ctx context.Context, symbol string, period int, barSize time.Duration) ([]float64, error) {
	lookback := barSize * time.Duration(period+1)
	bars, err := m.broker.RequestHistoricalBars(ctx, broker.Contract{Symbol: symbol}, lookback, barSize)
	if err == nil {
		return trueRanges(bars), nil
	}
	if m.fallback == nil {
		return nil, err
	}

	// Broker history unavailable (e.g. disconnected): fall back to the
	// secondary market-data client's 1-minute candles. This is coarser than
	// the broker's 10s bars, so the resulting ATR is an approximation for
	// as long as the broker connection stays down.
	candles, ferr := m.fallback.GetCandles(ctx, symbol, marketdata.Timeframe1Min, period+1)
	if ferr != nil {
		return nil, err
	}
	return trueRangesFromCandles(candles), nil
}

// trueRanges computes TR_i = max(High_i-Low_i, |High_i-Close_{i-1}|,
// |Low_i-Close_{i-1}|) for every bar after the first.
func trueRanges(bars []broker.Bar) []float64 {
	if len(bars) < 2 {
		return nil
	}
	out := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		hi, lo, prevClose := bars[i].High, bars[i].Low, bars[i-1].Close
		tr := hi - lo
		if v := absFloat(hi - prevClose); v > tr {
			tr = v
		}
		if v := absFloat(lo - prevClose); v > tr {
			tr = v
		}
		out = append(out, tr)
	}
	return out
}

// trueRangesFromCandles mirrors trueRanges for the fallback market-data
// client's candle shape.
func trueRangesFromCandles(candles []marketdata.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		hi, lo, prevClose := candles[i].High, candles[i].Low, candles[i-1].Close
		tr := hi - lo
		if v := absFloat(hi - prevClose); v > tr {
			tr = v
		}
		if v := absFloat(lo - prevClose); v > tr {
			tr = v
		}
		out = append(out, tr)
	}
	return out
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func cacheKey(symbol string, period int, barSize time.Duration) string {
	return symbol + "|" + barSize.String() + "|" + strconv.Itoa(period)
}
