// Package config loads the per-ticker trading basket and the process-wide
// environment configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// TickerConfig holds the per-ticker basket keys. ConfidenceThreshold has
// no default and must lie in [0,1]; an entry that omits it decodes as 0
// and passes validation. Every other numeric field falls back to a
// package-level default when zero.
type TickerConfig struct {
	Symbol              string  `json:"symbol"`
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
	Allocation          float64 `json:"allocation"`
	ATRStopMultiplier   float64 `json:"atrStopMultiplier"`
	ATRTargetMultiplier float64 `json:"atrTargetMultiplier"`
	CooldownMinutes     int     `json:"cooldownMinutes"`
}

// Defaults applied to a TickerConfig whose JSON left a field at its zero
// value.
const (
	DefaultAllocation          = 10_000.0
	DefaultATRStopMultiplier   = 6.0
	DefaultATRTargetMultiplier = 3.0
	DefaultCooldownMinutes     = 3
)

// Basket is the full set of tickers the engine trades.
type Basket struct {
	Tickers []TickerConfig `json:"tickers"`
}

// DefaultTickers is the deployment's default 8-ticker basket.
var DefaultTickers = []string{"AAPL", "MSFT", "NVDA", "AMZN", "GOOGL", "META", "TSLA", "AMD"}

// LoadBasket reads a basket configuration file. A missing path falls back
// to DefaultTickers with every field at its package default, mirroring the
// teacher's signal-generator config loader's fallback-on-defaults style.
func LoadBasket(path string) (*Basket, error) {
	if path == "" {
		return defaultBasket(), nil
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultBasket(), nil
		}
		return nil, fmt.Errorf("config: open basket %s: %w", path, err)
	}
	defer file.Close()

	var basket Basket
	if err := json.NewDecoder(file).Decode(&basket); err != nil {
		return nil, fmt.Errorf("config: decode basket %s: %w", path, err)
	}

	for i := range basket.Tickers {
		applyTickerDefaults(&basket.Tickers[i])
		if err := validateTicker(basket.Tickers[i]); err != nil {
			return nil, err
		}
	}
	return &basket, nil
}

func defaultBasket() *Basket {
	tickers := make([]TickerConfig, 0, len(DefaultTickers))
	for _, sym := range DefaultTickers {
		tc := TickerConfig{Symbol: sym, ConfidenceThreshold: 0.65}
		applyTickerDefaults(&tc)
		tickers = append(tickers, tc)
	}
	return &Basket{Tickers: tickers}
}

func applyTickerDefaults(tc *TickerConfig) {
	if tc.Allocation == 0 {
		tc.Allocation = DefaultAllocation
	}
	if tc.ATRStopMultiplier == 0 {
		tc.ATRStopMultiplier = DefaultATRStopMultiplier
	}
	if tc.ATRTargetMultiplier == 0 {
		tc.ATRTargetMultiplier = DefaultATRTargetMultiplier
	}
	if tc.CooldownMinutes == 0 {
		tc.CooldownMinutes = DefaultCooldownMinutes
	}
}

func validateTicker(tc TickerConfig) error {
	if tc.Symbol == "" {
		return fmt.Errorf("config: ticker entry missing symbol")
	}
	if tc.ConfidenceThreshold < 0 || tc.ConfidenceThreshold > 1 {
		return fmt.Errorf("config: %s confidenceThreshold %.2f out of [0,1]", tc.Symbol, tc.ConfidenceThreshold)
	}
	return nil
}

// Env holds the environment-variable-driven process configuration.
type Env struct {
	IBHost        string
	IBPort        int
	IBClientID    int
	IBAccount     string
	SignalBaseURL string
	SignalAPIKey  string
	MetricsPort   string
	BasketPath    string
	PollInterval  time.Duration
}

// LoadEnv reads Env from the process environment, applying defaults for
// any variable left unset.
func LoadEnv() Env {
	env := Env{
		IBHost:        getenvDefault("IB_HOST", "127.0.0.1"),
		IBPort:        parseIntEnv("IB_PORT", 7497),
		IBClientID:    parseIntEnv("IB_CLIENT_ID", 1),
		IBAccount:     os.Getenv("IB_ACCOUNT"),
		SignalBaseURL: getenvDefault("SIGNAL_API_BASE_URL", "http://localhost:8180"),
		SignalAPIKey:  os.Getenv("SIGNAL_API_KEY"),
		MetricsPort:   getenvDefault("METRICS_PORT", "9090"),
		BasketPath:    os.Getenv("BASKET_CONFIG_PATH"),
		PollInterval:  time.Duration(parseIntEnv("SIGNAL_POLL_INTERVAL_SECONDS", 15)) * time.Second,
	}
	return env
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}
