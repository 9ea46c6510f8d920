// Package rules implements the declarative condition/action DSL and rule
// engine.
package rules

import (
	"time"

	"tradingcore/internal/engine/enginectx"
	"tradingcore/internal/engine/events"
	"tradingcore/internal/engine/positions"
	"tradingcore/internal/risk"
)

// Condition is the capability every leaf and combinator satisfies.
type Condition interface {
	Evaluate(c *enginectx.Context) bool
}

// Predicate compares a field value pulled off an event's metadata map (or,
// for typed fields, a value the caller extracts beforehand).
type Predicate func(value any) bool

// Equals returns a Predicate matching values equal to want.
func Equals(want any) Predicate {
	return func(v any) bool { return v == want }
}

// ─── EventCondition ───────────────────────────────────────────────────────

// EventCondition matches when the in-flight evaluation was triggered by an
// event of the given kind and every field predicate passes against the
// event's Metadata().
type EventCondition struct {
	EventKind       events.Kind
	FieldPredicates map[string]Predicate
}

func (e *EventCondition) Evaluate(c *enginectx.Context) bool {
	if c.Event == nil {
		return false
	}
	if c.Event.Kind() != e.EventKind {
		return false
	}
	meta := c.Event.Metadata()
	for field, pred := range e.FieldPredicates {
		v, ok := meta[field]
		if !ok || !pred(v) {
			return false
		}
	}
	return true
}

// ─── SignalCondition ──────────────────────────────────────────────────────

// SignalCondition matches an in-flight PredictionSignal event for Symbol
// whose Signal is one of Types (any type, if empty) and whose Confidence
// is at least MinConfidence.
type SignalCondition struct {
	Symbol        string
	Types         []events.SignalType
	MinConfidence float64
}

func (s *SignalCondition) Evaluate(c *enginectx.Context) bool {
	sig, ok := c.Event.(*events.PredictionSignal)
	if !ok || sig.Symbol != s.Symbol {
		return false
	}
	if sig.Confidence < s.MinConfidence {
		return false
	}
	if len(s.Types) == 0 {
		return true
	}
	for _, t := range s.Types {
		if sig.Signal == t {
			return true
		}
	}
	return false
}

// ─── RiskGateCondition ────────────────────────────────────────────────────

// RiskGateCondition blocks a would-be entry once the open-position count
// reaches the risk policy's portfolio-level cap. A nil Enforcer
// is permissive.
type RiskGateCondition struct {
	Enforcer *risk.Enforcer
}

func (r *RiskGateCondition) Evaluate(c *enginectx.Context) bool {
	if r.Enforcer == nil {
		return true
	}
	max := r.Enforcer.Policy().Portfolio.MaxPositions
	if max <= 0 {
		return true
	}
	return len(c.PositionTracker.Summary()) < max
}

// ─── PositionCondition ────────────────────────────────────────────────────

// PositionCondition inspects the tracked position for Symbol (or, if
// Symbol is empty, the symbol carried by the in-flight event).
type PositionCondition struct {
	Symbol              string
	MinUnrealizedPnlPct *float64
	MaxUnrealizedPnlPct *float64
	MinDuration         *time.Duration
	Status              *positions.Status
}

func (p *PositionCondition) Evaluate(c *enginectx.Context) bool {
	symbol := p.Symbol
	if symbol == "" {
		symbol = eventSymbol(c.Event)
	}
	if symbol == "" {
		return false
	}
	pos, err := c.PositionTracker.GetBySymbol(symbol)
	if err != nil {
		return false
	}
	if p.Status != nil && pos.Status != *p.Status {
		return false
	}
	if p.MinDuration != nil && time.Since(pos.OpenedAt) < *p.MinDuration {
		return false
	}
	pnlPct := unrealizedPnlPct(pos)
	if p.MinUnrealizedPnlPct != nil && pnlPct < *p.MinUnrealizedPnlPct {
		return false
	}
	if p.MaxUnrealizedPnlPct != nil && pnlPct > *p.MaxUnrealizedPnlPct {
		return false
	}
	return true
}

func unrealizedPnlPct(pos *positions.Position) float64 {
	if pos.EntryPrice == 0 {
		return 0
	}
	return pos.UnrealizedPnl / (pos.EntryPrice * float64(signedAbs(pos.NetQty))) * 100
}

func signedAbs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func eventSymbol(evt events.Event) string {
	if evt == nil {
		return ""
	}
	switch e := evt.(type) {
	case *events.PriceEvent:
		return e.Symbol
	case *events.VolumeEvent:
		return e.Symbol
	case *events.IndicatorEvent:
		return e.Symbol
	case *events.PredictionSignal:
		return e.Symbol
	case *events.FillEvent:
		return e.Symbol
	case *events.PositionOpenEvent:
		return e.Symbol
	case *events.PositionUpdateEvent:
		return e.Symbol
	case *events.PositionCloseEvent:
		return e.Symbol
	default:
		return ""
	}
}

// ─── TimeCondition ────────────────────────────────────────────────────────

// TimeCondition gates on wall-clock time. StartTime/EndTime are
// "HH:MM" in the local timezone; an empty bound is unconstrained.
type TimeCondition struct {
	StartTime      string
	EndTime        string
	DaysOfWeek     []time.Weekday
	MarketHoursOnly bool
}

func (t *TimeCondition) Evaluate(c *enginectx.Context) bool {
	now := time.Now()
	if len(t.DaysOfWeek) > 0 && !containsWeekday(t.DaysOfWeek, now.Weekday()) {
		return false
	}
	if t.MarketHoursOnly && !isMarketHours(now) {
		return false
	}
	if t.StartTime != "" && clockString(now) < t.StartTime {
		return false
	}
	if t.EndTime != "" && clockString(now) > t.EndTime {
		return false
	}
	return true
}

func containsWeekday(days []time.Weekday, d time.Weekday) bool {
	for _, w := range days {
		if w == d {
			return true
		}
	}
	return false
}

func clockString(t time.Time) string {
	return t.Format("15:04")
}

// isMarketHours is a coarse US-equities-session check (09:30-16:00 local,
// weekdays). It intentionally does not account for holidays; a deployment
// that needs holiday accuracy should layer a calendar on top via a custom
// TimeCondition.
func isMarketHours(t time.Time) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	c := clockString(t)
	return c >= "09:30" && c <= "16:00"
}

// ─── MarketCondition ──────────────────────────────────────────────────────

// PriceBounds constrains an indicator-free price range check.
type PriceBounds struct {
	Min, Max float64
}

// MarketCondition inspects live market state for Symbol via the indicator
// manager and the in-flight event's price, if any.
type MarketCondition struct {
	Symbol              string
	PriceBounds         *PriceBounds
	MinVolume           *int64
	MaxVolatility       *float64
	IndicatorPredicates map[string]Predicate
}

func (m *MarketCondition) Evaluate(c *enginectx.Context) bool {
	priceEvt, ok := c.Event.(*events.PriceEvent)
	if !ok || priceEvt.Symbol != m.Symbol {
		return false
	}
	if m.PriceBounds != nil {
		if priceEvt.Price < m.PriceBounds.Min || priceEvt.Price > m.PriceBounds.Max {
			return false
		}
	}
	if m.MinVolume != nil && priceEvt.Volume < *m.MinVolume {
		return false
	}
	for name, pred := range m.IndicatorPredicates {
		v, ok := c.IndicatorManager.ATR(c.Ctx, m.Symbol, 14, 10*time.Second)
		_ = name
		if !ok || !pred(v) {
			return false
		}
	}
	return true
}

// ─── Combinators ──────────────────────────────────────────────────────────

// And is true iff every sub-condition is true.
type And []Condition

func (a And) Evaluate(c *enginectx.Context) bool {
	for _, cond := range a {
		if !cond.Evaluate(c) {
			return false
		}
	}
	return true
}

// Or is true iff any sub-condition is true.
type Or []Condition

func (o Or) Evaluate(c *enginectx.Context) bool {
	for _, cond := range o {
		if cond.Evaluate(c) {
			return true
		}
	}
	return false
}

// Not negates a single sub-condition.
type Not struct{ Cond Condition }

func (n Not) Evaluate(c *enginectx.Context) bool {
	return !n.Cond.Evaluate(c)
}
