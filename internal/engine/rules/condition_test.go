package rules

import (
	"context"
	"testing"
	"time"

	"tradingcore/internal/engine/enginectx"
	"tradingcore/internal/engine/events"
	"tradingcore/internal/engine/positions"
	"tradingcore/internal/risk"
)

func TestSignalConditionMatchesSymbolTypeAndConfidence(t *testing.T) {
	sig := events.NewPredictionSignal("test", "AAPL", events.SignalBuy, 0.8, 150, time.Now())
	c := &enginectx.Context{Event: sig}

	cond := &SignalCondition{Symbol: "AAPL", Types: []events.SignalType{events.SignalBuy}, MinConfidence: 0.7}
	if !cond.Evaluate(c) {
		t.Fatal("expected match on symbol, type, and confidence")
	}

	if (&SignalCondition{Symbol: "MSFT", Types: []events.SignalType{events.SignalBuy}}).Evaluate(c) {
		t.Fatal("expected no match for different symbol")
	}
	if (&SignalCondition{Symbol: "AAPL", Types: []events.SignalType{events.SignalShort}}).Evaluate(c) {
		t.Fatal("expected no match for different signal type")
	}
	if (&SignalCondition{Symbol: "AAPL", MinConfidence: 0.9}).Evaluate(c) {
		t.Fatal("expected no match below MinConfidence")
	}
}

func TestSignalConditionIgnoresNonSignalEvents(t *testing.T) {
	c := &enginectx.Context{Event: events.NewConnectEvent("broker")}
	cond := &SignalCondition{Symbol: "AAPL"}
	if cond.Evaluate(c) {
		t.Fatal("expected no match for a non-PredictionSignal event")
	}
}

func TestRiskGateConditionBlocksAtMaxPositions(t *testing.T) {
	policy := risk.DefaultPolicy()
	policy.Portfolio.MaxPositions = 1
	enforcer := risk.NewEnforcer(policy)
	gate := &RiskGateCondition{Enforcer: enforcer}

	tracker := positions.NewTracker(events.NewBus())
	c := &enginectx.Context{Ctx: context.Background(), PositionTracker: tracker}

	if !gate.Evaluate(c) {
		t.Fatal("expected gate open with zero open positions")
	}

	tracker.OpenOrUpdate(context.Background(), "AAPL", positions.SideBuy, 10, 100, "o1", positions.RoleMain)
	if gate.Evaluate(c) {
		t.Fatal("expected gate closed once open positions reached MaxPositions")
	}
}

func TestRiskGateConditionPermissiveWhenNilOrUnbounded(t *testing.T) {
	if !(&RiskGateCondition{}).Evaluate(&enginectx.Context{}) {
		t.Fatal("expected nil Enforcer to be permissive")
	}

	policy := risk.DefaultPolicy()
	policy.Portfolio.MaxPositions = 0
	gate := &RiskGateCondition{Enforcer: risk.NewEnforcer(policy)}
	if !gate.Evaluate(&enginectx.Context{PositionTracker: positions.NewTracker(events.NewBus())}) {
		t.Fatal("expected MaxPositions<=0 to be unbounded")
	}
}
