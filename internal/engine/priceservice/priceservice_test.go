package priceservice

import (
	"context"
	"testing"
	"time"

	"tradingcore/internal/broker"
)

type stubQuoteBroker struct {
	broker.Client
	quote broker.Quote
	err   error
}

func (s *stubQuoteBroker) SnapshotQuote(ctx context.Context, c broker.Contract, timeout time.Duration) (broker.Quote, error) {
	return s.quote, s.err
}

func TestLastPriceUsesLastTrade(t *testing.T) {
	svc := NewService(&stubQuoteBroker{quote: broker.Quote{Last: 101.5, Bid: 101, Ask: 102}})
	price, err := svc.LastPrice(context.Background(), "ABC", 0)
	if err != nil {
		t.Fatal(err)
	}
	if price != 101.5 {
		t.Fatalf("expected 101.5, got %v", price)
	}
}

func TestLastPriceFallsBackToMidpoint(t *testing.T) {
	svc := NewService(&stubQuoteBroker{quote: broker.Quote{Bid: 100, Ask: 102}})
	price, err := svc.LastPrice(context.Background(), "ABC", 0)
	if err != nil {
		t.Fatal(err)
	}
	if price != 101 {
		t.Fatalf("expected midpoint 101, got %v", price)
	}
}

func TestLastPriceErrorsWithNoUsablePrice(t *testing.T) {
	svc := NewService(&stubQuoteBroker{quote: broker.Quote{}})
	if _, err := svc.LastPrice(context.Background(), "ABC", 0); err == nil {
		t.Fatal("expected error with no usable price")
	}
}
