// Command trader runs the equity trading engine: it polls the prediction
// signal source, evaluates the per-ticker rule basket, manages linked order
// groups through a live Interactive Brokers connection, and serves a
// Prometheus metrics endpoint, following the shutdown and HTTP-server
// pattern of a long-running broker-connected worker process.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"tradingcore/internal/broker"
	"tradingcore/internal/broker/ibsocket"
	"tradingcore/internal/config"
	"tradingcore/internal/engine/enginectx"
	"tradingcore/internal/engine/events"
	"tradingcore/internal/engine/fillmanager"
	"tradingcore/internal/engine/indicators"
	"tradingcore/internal/engine/linked"
	"tradingcore/internal/engine/orders"
	"tradingcore/internal/engine/positions"
	"tradingcore/internal/engine/priceservice"
	"tradingcore/internal/engine/rules"
	"tradingcore/internal/engine/sizing"
	"tradingcore/internal/guardrails"
	"tradingcore/internal/marketdata"
	"tradingcore/internal/observability"
	"tradingcore/internal/risk"
	"tradingcore/internal/signalsource"
)

var (
	version   = "0.1.0"
	startTime = time.Now()
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := config.LoadEnv()
	basket, err := config.LoadBasket(env.BasketPath)
	if err != nil {
		log.Fatalf("trader: load basket: %v", err)
	}

	log.Printf("starting trader v%s: %d tickers, ib=%s:%d client=%d", version, len(basket.Tickers), env.IBHost, env.IBPort, env.IBClientID)

	brokerClient, err := ibsocket.NewClient(ibsocket.Config{
		Host: env.IBHost, Port: env.IBPort, ClientID: env.IBClientID, Account: env.IBAccount,
	})
	if err != nil {
		log.Fatalf("trader: connect broker: %v", err)
	}
	defer brokerClient.Close()

	reg := observability.NewRegistry()
	metrics := observability.NewTradingMetrics(reg)

	bus := events.NewBus()
	orderMgr := orders.NewManager(brokerClient, bus, metrics)
	posTracker := positions.NewTracker(bus)
	tradeTracker := linked.NewTradeTracker()

	priceSvc := priceservice.NewService(brokerClient)
	indicatorMgr := indicators.NewManager(brokerClient)
	if fallback := maybeFallbackMarketData(ctx); fallback != nil {
		priceSvc.WithFallback(fallback)
		indicatorMgr.WithFallback(fallback)
		defer fallback.Close()
	}
	sizer := sizing.NewSizer(priceSvc, 0)

	riskPolicy, err := risk.LoadPolicy(os.Getenv("RISK_POLICY_PATH"))
	if err != nil {
		log.Fatalf("trader: load risk policy: %v", err)
	}
	riskEnforcer := risk.NewEnforcer(riskPolicy)

	ruleEngine := rules.NewEngine(bus, time.Second, rules.Deps{
		OrderManager:     orderMgr,
		PositionTracker:  posTracker,
		PriceService:     priceSvc,
		IndicatorManager: indicatorMgr,
		PositionSizer:    sizer,
		TradeTracker:     tradeTracker,
	})

	fillMgr := fillmanager.NewManager(orderMgr, posTracker, tradeTracker, ruleEngine, bus)
	fillMgr.Start()
	defer fillMgr.Stop()

	for _, tc := range basket.Tickers {
		registerTickerRules(ruleEngine, tc, riskEnforcer)
	}

	bus.Subscribe(events.KindPredictionSignal, func(ctx context.Context, evt events.Event) {
		sig := evt.(*events.PredictionSignal)
		metrics.SignalsPublished.Inc("symbol", sig.Symbol, "direction", string(sig.Signal))
	})

	signalSrc := signalsource.NewSource(signalsource.Config{BaseURL: env.SignalBaseURL, APIKey: env.SignalAPIKey}, bus)

	var brokerConnected atomic.Bool
	brokerConnected.Store(true)

	monitor := buildHealthMonitor(&brokerConnected, orderMgr, posTracker, bus, metrics, signalSrc, fillMgr)
	go monitor.Run(ctx)

	go pumpBrokerEvents(ctx, brokerClient, orderMgr, bus, &brokerConnected)

	ruleEngine.Start(ctx)
	defer ruleEngine.Stop()

	symbols := make([]string, 0, len(basket.Tickers))
	for _, tc := range basket.Tickers {
		symbols = append(symbols, tc.Symbol)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth(monitor))
	mux.HandleFunc("/metrics", handleMetrics(reg))

	server := &http.Server{
		Addr:         ":" + env.MetricsPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("trader: http listening on :%s", env.MetricsPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("trader: http server failed: %v", err)
		}
	}()

	go signalSrc.Run(ctx, symbols, env.PollInterval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("trader: shutdown signal received, stopping")
	cancel()
	bus.Disable()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("trader: http shutdown error: %v", err)
	}
	log.Println("trader: stopped")
}

// registerTickerRules installs the entry-on-signal and reversal rules for
// one basket ticker: a BUY signal opens/reverses into a long, a SHORT
// signal opens/reverses into a short (SHORT maps to an order side of
// SELL), and a SELL signal closes the symbol's active position through
// ClosePositionAction; no short is opened after that close.
func registerTickerRules(engine *rules.Engine, tc config.TickerConfig, enforcer *risk.Enforcer) {
	cooldownSec := tc.CooldownMinutes * 60
	riskGate := &rules.RiskGateCondition{Enforcer: enforcer}

	engine.RegisterRule(&rules.Rule{
		RuleID:      tc.Symbol + "-entry-long",
		Name:        tc.Symbol + " long entry on BUY signal",
		Enabled:     true,
		Priority:    10,
		CooldownSec: cooldownSec,
		Condition: rules.And{
			&rules.SignalCondition{Symbol: tc.Symbol, Types: []events.SignalType{events.SignalBuy}, MinConfidence: tc.ConfidenceThreshold},
			riskGate,
		},
		ActionDo: &linked.LinkedCreateOrderAction{
			Symbol: tc.Symbol, QtyOrAllocation: tc.Allocation, Side: orders.SideBuy,
			AutoProtective: true, ATRStopMult: tc.ATRStopMultiplier, ATRTargetMult: tc.ATRTargetMultiplier,
		},
		RuleScopedContext: map[string]any{"symbol": tc.Symbol},
	})

	engine.RegisterRule(&rules.Rule{
		RuleID:      tc.Symbol + "-entry-short",
		Name:        tc.Symbol + " short entry on SHORT signal",
		Enabled:     true,
		Priority:    10,
		CooldownSec: cooldownSec,
		Condition: rules.And{
			&rules.SignalCondition{Symbol: tc.Symbol, Types: []events.SignalType{events.SignalShort}, MinConfidence: tc.ConfidenceThreshold},
			riskGate,
		},
		ActionDo: &linked.LinkedCreateOrderAction{
			Symbol: tc.Symbol, QtyOrAllocation: tc.Allocation, Side: orders.SideSell,
			AutoProtective: true, ATRStopMult: tc.ATRStopMultiplier, ATRTargetMult: tc.ATRTargetMultiplier,
		},
		RuleScopedContext: map[string]any{"symbol": tc.Symbol},
	})

	engine.RegisterRule(&rules.Rule{
		RuleID:   tc.Symbol + "-close-on-sell",
		Name:     tc.Symbol + " close long on SELL signal",
		Enabled:  true,
		Priority: 20,
		Condition: &rules.SignalCondition{
			Symbol: tc.Symbol, Types: []events.SignalType{events.SignalSell}, MinConfidence: tc.ConfidenceThreshold,
		},
		ActionDo: &rules.ClosePositionAction{Symbol: tc.Symbol, Reason: "signal_sell_reversal"},
	})
}

// pumpBrokerEvents drains the broker's push channels and dispatches status
// and fill updates into the order manager, mirroring connectivity state into
// connected for the health monitor's broker probe.
func pumpBrokerEvents(ctx context.Context, client broker.Client, orderMgr *orders.Manager, bus *events.Bus, connected *atomic.Bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-client.Statuses():
			if !ok {
				return
			}
			orderMgr.HandleStatus(ctx, upd)
		case fr, ok := <-client.Fills():
			if !ok {
				return
			}
			orderMgr.HandleFill(ctx, fr)
		case _, ok := <-client.Commissions():
			if !ok {
				return
			}
		case err, ok := <-client.Errors():
			if !ok {
				return
			}
			observability.LogEvent(ctx, observability.LevelWarn, "broker_error", map[string]any{"error": err.Error()})
			bus.Emit(ctx, events.NewErrorEvent("broker", "broker_error", err.Error()))
		case isConnected, ok := <-client.Connected():
			if !ok {
				return
			}
			connected.Store(isConnected)
			if isConnected {
				bus.Emit(ctx, events.NewConnectEvent("broker"))
			} else {
				bus.Emit(ctx, events.NewDisconnectEvent("broker"))
			}
		}
	}
}

// buildHealthMonitor wires the platform guardrails: probes for broker
// connectivity, signal-source staleness, and fill-manager backlog escalate,
// on repeated failure, to a system halt that sweeps every open position
// closed via LinkedCloseAllAction before broadcasting an ErrorEvent for any
// rule or operator tooling subscribed to it.
func buildHealthMonitor(brokerConnected *atomic.Bool, orderMgr *orders.Manager, posTracker *positions.Tracker, bus *events.Bus, metrics *observability.TradingMetrics, signalSrc *signalsource.Source, fillMgr *fillmanager.Manager) *guardrails.HealthMonitor {
	brokerProbe := guardrails.NewFuncProbe("broker_connection", func(ctx context.Context) guardrails.CheckResult {
		if brokerConnected.Load() {
			return guardrails.CheckResult{Status: guardrails.StatusOK, Message: "broker connected"}
		}
		return guardrails.CheckResult{Status: guardrails.StatusFailed, Message: "broker disconnected"}
	})

	const signalStaleAfter = 2 * time.Minute
	signalProbe := guardrails.NewFuncProbe("signal_source_freshness", func(ctx context.Context) guardrails.CheckResult {
		if signalSrc.Stale(signalStaleAfter) {
			return guardrails.CheckResult{Status: guardrails.StatusDegraded, Message: fmt.Sprintf("no successful signal poll in the last %s", signalStaleAfter)}
		}
		return guardrails.CheckResult{Status: guardrails.StatusOK, Message: "signal source fresh"}
	})

	const fillQueueBacklogLimit = 64
	fillQueueProbe := guardrails.NewFuncProbe("fill_queue_backlog", func(ctx context.Context) guardrails.CheckResult {
		depth := fillMgr.QueueDepth()
		if depth >= fillQueueBacklogLimit {
			return guardrails.CheckResult{Status: guardrails.StatusDegraded, Message: fmt.Sprintf("fill queue backlog at %d operations", depth)}
		}
		return guardrails.CheckResult{Status: guardrails.StatusOK, Message: fmt.Sprintf("fill queue depth %d", depth)}
	})

	haltCb := func(reason string) {
		observability.LogEvent(context.Background(), observability.LevelError, "system_halt", map[string]any{"reason": reason})
		metrics.HaltEvents.Inc("reason", reason)

		for symbol := range posTracker.Summary() {
			closeAll := &linked.LinkedCloseAllAction{Symbol: symbol, Reason: "guardrail_halt: " + reason}
			closeAll.Execute(&enginectx.Context{
				Ctx:             context.Background(),
				OrderManager:    orderMgr,
				PositionTracker: posTracker,
			})
		}

		bus.Emit(context.Background(), events.NewErrorEvent("guardrails", "system_halt", reason))
	}

	cfg := guardrails.DefaultMonitorConfig()
	return guardrails.NewHealthMonitor(cfg, haltCb, brokerProbe, signalProbe, fillQueueProbe)
}

func handleHealth(monitor *guardrails.HealthMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if monitor.IsHalted() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"halted"}`)
			return
		}
		fmt.Fprintf(w, `{"status":"ok","uptime":%q}`, time.Since(startTime).String())
	}
}

func handleMetrics(reg *observability.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		reg.WriteText(w)
	}
}

// maybeFallbackMarketData constructs the optional secondary market-data
// client when at least one provider API
// key is present in the environment; it returns nil (no fallback) when the
// deployment only has the broker connection available.
func maybeFallbackMarketData(ctx context.Context) *marketdata.Client {
	var providers []marketdata.ProviderConfig
	if key := os.Getenv("ALPACA_API_KEY"); key != "" {
		providers = append(providers, marketdata.ProviderConfig{
			Name: marketdata.ProviderAlpaca, APIKey: key, APISecret: os.Getenv("ALPACA_API_SECRET"),
			Priority: 1, Enabled: true,
		})
	}
	if key := os.Getenv("POLYGON_API_KEY"); key != "" {
		providers = append(providers, marketdata.ProviderConfig{
			Name: marketdata.ProviderPolygon, APIKey: key, Priority: 2, Enabled: true,
		})
	}
	if len(providers) == 0 {
		return nil
	}

	cfg := marketdata.DefaultConfig()
	cfg.Providers = providers
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Cache.RedisURL = redisURL
	} else {
		cfg.Cache.Enabled = false
	}

	client, err := marketdata.NewClient(cfg)
	if err != nil {
		observability.LogEvent(ctx, observability.LevelWarn, "marketdata_fallback_unavailable", map[string]any{"error": err.Error()})
		return nil
	}
	return client
}

var _ enginectx.CooldownResetter = (*rules.Engine)(nil)
