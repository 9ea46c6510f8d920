package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadBasketMissingPathFallsBackToDefaults(t *testing.T) {
	basket, err := LoadBasket("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(basket.Tickers) != len(DefaultTickers) {
		t.Fatalf("expected %d default tickers, got %d", len(DefaultTickers), len(basket.Tickers))
	}
	for _, tc := range basket.Tickers {
		if tc.Allocation != DefaultAllocation {
			t.Errorf("%s: expected default allocation %.0f, got %.0f", tc.Symbol, DefaultAllocation, tc.Allocation)
		}
		if tc.CooldownMinutes != DefaultCooldownMinutes {
			t.Errorf("%s: expected default cooldown %d, got %d", tc.Symbol, DefaultCooldownMinutes, tc.CooldownMinutes)
		}
	}
}

func TestLoadBasketFromFileAppliesDefaultsForZeroFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "basket.json")
	raw, _ := json.Marshal(Basket{Tickers: []TickerConfig{
		{Symbol: "AAPL", ConfidenceThreshold: 0.7},
		{Symbol: "MSFT", ConfidenceThreshold: 0.6, Allocation: 5000, ATRStopMultiplier: 4, ATRTargetMultiplier: 2, CooldownMinutes: 10},
	}})
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	basket, err := LoadBasket(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if basket.Tickers[0].Allocation != DefaultAllocation {
		t.Errorf("expected AAPL to receive default allocation, got %.0f", basket.Tickers[0].Allocation)
	}
	if basket.Tickers[1].Allocation != 5000 {
		t.Errorf("expected MSFT allocation to stay 5000, got %.0f", basket.Tickers[1].Allocation)
	}
}

func TestLoadBasketRejectsConfidenceThresholdOutOfRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "basket.json")
	raw, _ := json.Marshal(Basket{Tickers: []TickerConfig{{Symbol: "AAPL", ConfidenceThreshold: 1.5}}})
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadBasket(path); err == nil {
		t.Error("expected error for out-of-range confidenceThreshold, got nil")
	}
}

func TestLoadEnvAppliesDefaults(t *testing.T) {
	for _, key := range []string{"IB_HOST", "IB_PORT", "IB_CLIENT_ID", "SIGNAL_API_BASE_URL", "SIGNAL_POLL_INTERVAL_SECONDS"} {
		t.Setenv(key, "")
	}

	env := LoadEnv()
	if env.IBHost != "127.0.0.1" {
		t.Errorf("expected default IBHost, got %q", env.IBHost)
	}
	if env.IBPort != 7497 {
		t.Errorf("expected default IBPort 7497, got %d", env.IBPort)
	}
	if env.PollInterval.Seconds() != 15 {
		t.Errorf("expected default poll interval 15s, got %v", env.PollInterval)
	}
}

func TestLoadEnvHonorsOverrides(t *testing.T) {
	t.Setenv("IB_HOST", "10.0.0.5")
	t.Setenv("IB_PORT", "7496")
	t.Setenv("IB_CLIENT_ID", "42")

	env := LoadEnv()
	if env.IBHost != "10.0.0.5" || env.IBPort != 7496 || env.IBClientID != 42 {
		t.Errorf("expected overrides to apply, got %+v", env)
	}
}
