package signalsource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tradingcore/internal/engine/events"
)

func TestPollOnceEmitsPredictionSignalsWithShortMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected Authorization header, got %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode([]record{
			{Ticker: "AAPL", Signal: "BUY", Confidence: 0.8, StockPrice: 150, Ts: 1700000000},
			{Ticker: "TSLA", Signal: "SHORT", Confidence: 0.9, StockPrice: 250, Ts: 1700000001},
			{Ticker: "BAD", Signal: "HOLD", Confidence: 0.5, StockPrice: 10, Ts: 1700000002},
		})
	}))
	defer srv.Close()

	bus := events.NewBus()
	received := make(chan *events.PredictionSignal, 4)
	bus.Subscribe(events.KindPredictionSignal, func(ctx context.Context, evt events.Event) {
		received <- evt.(*events.PredictionSignal)
	})

	src := NewSource(Config{BaseURL: srv.URL, APIKey: "test-key"}, bus)
	src.pollOnce(context.Background(), []string{"AAPL", "TSLA", "BAD"})

	got := map[string]events.SignalType{}
	for i := 0; i < 2; i++ {
		select {
		case sig := <-received:
			got[sig.Symbol] = sig.Signal
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for signal events")
		}
	}

	if got["AAPL"] != events.SignalBuy {
		t.Errorf("expected AAPL BUY, got %v", got["AAPL"])
	}
	if got["TSLA"] != events.SignalShort {
		t.Errorf("expected TSLA SHORT, got %v", got["TSLA"])
	}
	if _, ok := got["BAD"]; ok {
		t.Error("expected invalid signal type to be dropped, not emitted")
	}
}

func TestStaleBeforeFirstSuccessfulPoll(t *testing.T) {
	src := NewSource(Config{BaseURL: "http://example.invalid"}, events.NewBus())
	if !src.Stale(time.Minute) {
		t.Error("expected Stale to report true before any successful poll")
	}
}

func TestStaleFalseAfterRecentPoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]record{})
	}))
	defer srv.Close()

	src := NewSource(Config{BaseURL: srv.URL}, events.NewBus())
	src.pollOnce(context.Background(), []string{"AAPL"})

	if src.Stale(time.Minute) {
		t.Error("expected Stale to report false immediately after a successful poll")
	}
}

func TestFetchReturnsErrorOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	src := NewSource(Config{BaseURL: srv.URL}, events.NewBus())
	if _, err := src.fetch(context.Background(), []string{"AAPL"}); err == nil {
		t.Error("expected error for 500 response, got nil")
	}
}
