package linked

import (
	"tradingcore/internal/engine/enginectx"
	"tradingcore/internal/engine/orders"
	"tradingcore/internal/engine/positions"
)

// LinkedScaleInAction adds to an already-profitable open position. It is a
// no-op (reported as success) if there is no OPEN position or the
// position's unrealized PnL% is below TriggerProfitPct.
type LinkedScaleInAction struct {
	Symbol           string
	ScaleQty         int
	TriggerProfitPct float64
}

func (a *LinkedScaleInAction) Execute(c *enginectx.Context) bool {
	pos, err := c.PositionTracker.GetBySymbol(a.Symbol)
	if err != nil || pos.Status != positions.StatusOpen {
		return true
	}

	if unrealizedPnlPct(pos) < a.TriggerProfitPct {
		return true
	}

	side := orders.SideBuy
	if pos.Side == positions.SideSell {
		side = orders.SideSell
	}
	o := c.OrderManager.CreateOrder(orders.Spec{
		Symbol: a.Symbol, Side: side, Qty: a.ScaleQty, Type: orders.TypeMarket,
	})
	if err := c.OrderManager.Submit(c.Ctx, o.OrderID); err != nil {
		return false
	}
	_ = c.PositionTracker.AttachOrder(pos.PositionID, positions.RoleScale, o.OrderID)
	return true
}

func unrealizedPnlPct(pos *positions.Position) float64 {
	if pos.EntryPrice == 0 || pos.NetQty == 0 {
		return 0
	}
	qty := pos.NetQty
	if qty < 0 {
		qty = -qty
	}
	return pos.UnrealizedPnl / (pos.EntryPrice * float64(qty)) * 100
}
