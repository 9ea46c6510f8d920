package indicators

import (
	"context"
	"testing"
	"time"

	"tradingcore/internal/broker"
)

type stubBroker struct {
	broker.Client
	bars []broker.Bar
	err  error
}

func (s *stubBroker) RequestHistoricalBars(ctx context.Context, c broker.Contract, duration, barSize time.Duration) ([]broker.Bar, error) {
	return s.bars, s.err
}

func TestATRUnavailableBelowPeriod(t *testing.T) {
	m := NewManager(&stubBroker{bars: []broker.Bar{
		{High: 10, Low: 9, Close: 9.5},
		{High: 10.5, Low: 9.5, Close: 10},
	}})
	if _, ok := m.ATR(context.Background(), "ABC", 14, 10*time.Second); ok {
		t.Fatal("expected ATR unavailable with fewer than period true ranges")
	}
}

func TestATRMeanOfTrueRanges(t *testing.T) {
	bars := []broker.Bar{
		{High: 10, Low: 9, Close: 9.5},
		{High: 11, Low: 9.5, Close: 10.5}, // TR = max(1.5, 1.5, 0) = 1.5
		{High: 12, Low: 10.5, Close: 11.5}, // TR = max(1.5, 1.5, 0) = 1.5
	}
	m := NewManager(&stubBroker{bars: bars})
	atr, ok := m.ATR(context.Background(), "ABC", 2, 10*time.Second)
	if !ok {
		t.Fatal("expected ATR available with exactly period true ranges")
	}
	if atr != 1.5 {
		t.Fatalf("expected ATR 1.5, got %v", atr)
	}
}
