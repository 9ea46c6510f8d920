package linked

import (
	"tradingcore/internal/engine/enginectx"
	"tradingcore/internal/engine/orders"
	"tradingcore/internal/engine/positions"
)

// LinkedCloseAllAction cancels every open order for a symbol's active
// position and submits an opposing market order for its current net qty.
// Used by rule-driven manual closes and the guardrail emergency-halt sweep.
type LinkedCloseAllAction struct {
	Symbol string
	Reason string
}

func (a *LinkedCloseAllAction) Execute(c *enginectx.Context) bool {
	pos, err := c.PositionTracker.GetBySymbol(a.Symbol)
	if err != nil {
		return true // nothing to close
	}

	for _, orderID := range pos.AllOrderIDs() {
		_ = c.OrderManager.Cancel(c.Ctx, orderID, a.Reason)
	}

	side := orders.SideSell
	if pos.Side == positions.SideSell {
		side = orders.SideBuy
	}
	qty := pos.NetQty
	if qty < 0 {
		qty = -qty
	}
	o := c.OrderManager.CreateOrder(orders.Spec{
		Symbol: a.Symbol, Side: side, Qty: qty, Type: orders.TypeMarket,
	})
	if err := c.OrderManager.Submit(c.Ctx, o.OrderID); err != nil {
		return false
	}
	_ = c.PositionTracker.AttachOrder(pos.PositionID, positions.RoleClose, o.OrderID)
	return true
}
