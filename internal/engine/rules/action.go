package rules

import (
	"tradingcore/internal/engine/enginectx"
	"tradingcore/internal/engine/orders"
	"tradingcore/internal/engine/positions"
	"tradingcore/internal/observability"
)

// Action is the capability every leaf and combinator satisfies. Execute
// returns a success flag: failure does not retry automatically, the rule
// simply re-fires on its next eligible evaluation.
type Action interface {
	Execute(c *enginectx.Context) bool
}

// CreateOrderAction submits a single order directly, bypassing the
// linked-order machinery (no TradeTracker guard, no protective orders).
// Used for rules that manage their own brackets explicitly.
type CreateOrderAction struct {
	Symbol string
	Side   orders.Side
	Qty    int
	Type   orders.Type
	Limit  float64
	Stop   float64
	TIF    orders.TimeInForce
}

func (a *CreateOrderAction) Execute(c *enginectx.Context) bool {
	spec := orders.Spec{
		Symbol: a.Symbol, Side: a.Side, Qty: a.Qty, Type: a.Type,
		LimitPrice: a.Limit, StopPrice: a.Stop, TIF: a.TIF,
	}
	o := c.OrderManager.CreateOrder(spec)
	if err := c.OrderManager.Submit(c.Ctx, o.OrderID); err != nil {
		observability.LogEvent(c.Ctx, observability.LevelWarn, "create_order_action_failed", map[string]any{
			"symbol": a.Symbol, "error": err.Error(),
		})
		return false
	}
	return true
}

// CancelOrderAction cancels a single order by ID.
type CancelOrderAction struct {
	OrderID string
	Reason  string
}

func (a *CancelOrderAction) Execute(c *enginectx.Context) bool {
	if err := c.OrderManager.Cancel(c.Ctx, a.OrderID, a.Reason); err != nil {
		return false
	}
	return true
}

// CreateBracketAction submits an entry order plus a stop and/or target at
// fixed prices, without auto-protective ATR sizing (see linked package for
// that behavior).
type CreateBracketAction struct {
	Symbol       string
	Side         orders.Side
	Qty          int
	StopPrice    float64
	TargetPrice  float64
	HasStop      bool
	HasTarget    bool
}

func (a *CreateBracketAction) Execute(c *enginectx.Context) bool {
	entry := c.OrderManager.CreateOrder(orders.Spec{
		Symbol: a.Symbol, Side: a.Side, Qty: a.Qty, Type: orders.TypeMarket,
	})
	if err := c.OrderManager.Submit(c.Ctx, entry.OrderID); err != nil {
		return false
	}

	opposite := a.Side.Opposite()
	ok := true
	if a.HasStop {
		stop := c.OrderManager.CreateOrder(orders.Spec{
			Symbol: a.Symbol, Side: opposite, Qty: a.Qty, Type: orders.TypeStop,
			StopPrice: a.StopPrice, ParentID: entry.OrderID,
		})
		if err := c.OrderManager.Submit(c.Ctx, stop.OrderID); err != nil {
			ok = false
		}
	}
	if a.HasTarget {
		target := c.OrderManager.CreateOrder(orders.Spec{
			Symbol: a.Symbol, Side: opposite, Qty: a.Qty, Type: orders.TypeLimit,
			LimitPrice: a.TargetPrice, ParentID: entry.OrderID,
		})
		if err := c.OrderManager.Submit(c.Ctx, target.OrderID); err != nil {
			ok = false
		}
	}
	return ok
}

// ClosePositionAction cancels every open order attached to Symbol's active
// position and submits an opposing market order for its current net qty.
type ClosePositionAction struct {
	Symbol string
	Reason string
}

func (a *ClosePositionAction) Execute(c *enginectx.Context) bool {
	pos, err := c.PositionTracker.GetBySymbol(a.Symbol)
	if err != nil {
		return false
	}
	for _, orderID := range pos.AllOrderIDs() {
		_ = c.OrderManager.Cancel(c.Ctx, orderID, a.Reason)
	}
	side := orders.SideSell
	if pos.Side == positions.SideSell {
		side = orders.SideBuy
	}
	closeOrder := c.OrderManager.CreateOrder(orders.Spec{
		Symbol: a.Symbol, Side: side, Qty: signedAbs(pos.NetQty), Type: orders.TypeMarket,
	})
	if err := c.OrderManager.Submit(c.Ctx, closeOrder.OrderID); err != nil {
		return false
	}
	_ = c.PositionTracker.AttachOrder(pos.PositionID, positions.RoleClose, closeOrder.OrderID)
	return true
}

// AdjustPositionAction records a rule-driven risk parameter change on the
// tracked position (e.g. tightening ATR multipliers) without submitting
// any order.
type AdjustPositionAction struct {
	Symbol              string
	ATRStopMultiplier   *float64
	ATRTargetMultiplier *float64
}

func (a *AdjustPositionAction) Execute(c *enginectx.Context) bool {
	pos, err := c.PositionTracker.GetBySymbol(a.Symbol)
	if err != nil {
		return false
	}
	if a.ATRStopMultiplier != nil {
		pos.ATRStopMultiplier = *a.ATRStopMultiplier
	}
	if a.ATRTargetMultiplier != nil {
		pos.ATRTargetMultiplier = *a.ATRTargetMultiplier
	}
	return true
}

// CreatePositionAction seeds an OPENING position record with zero quantity
// ahead of an entry, used by rules that want to reserve a symbol before
// submitting orders. Qty is not applied; the record gains quantity only
// from later fills.
type CreatePositionAction struct {
	Symbol string
	Side   positions.Side
	Qty    int
}

func (a *CreatePositionAction) Execute(c *enginectx.Context) bool {
	c.PositionTracker.OpenOrUpdate(c.Ctx, a.Symbol, a.Side, 0, 0, "", positions.RoleMain)
	return true
}

// LogAction emits a structured log line; used for intent logging (e.g.
// "ignored duplicate side").
type LogAction struct {
	Event  string
	Fields map[string]any
}

func (a *LogAction) Execute(c *enginectx.Context) bool {
	observability.LogEvent(c.Ctx, observability.LevelInfo, a.Event, a.Fields)
	return true
}

// ─── Combinators ──────────────────────────────────────────────────────────

// Sequential executes every action in order, short-circuiting on the first
// failure.
type Sequential []Action

func (s Sequential) Execute(c *enginectx.Context) bool {
	for _, a := range s {
		if !a.Execute(c) {
			return false
		}
	}
	return true
}

// Conditional executes Action only if Cond evaluates true; it reports
// success either way when the condition is false (a suppressed action is
// not a failure).
type Conditional struct {
	Cond   Condition
	Action Action
}

func (cc *Conditional) Execute(c *enginectx.Context) bool {
	if !cc.Cond.Evaluate(c) {
		return true
	}
	return cc.Action.Execute(c)
}
