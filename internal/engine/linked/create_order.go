package linked

import (
	"context"
	"time"

	"tradingcore/internal/engine/enginectx"
	"tradingcore/internal/engine/events"
	"tradingcore/internal/engine/orders"
	"tradingcore/internal/engine/positions"
	"tradingcore/internal/observability"
)

// ReversalWaitTimeout bounds how long a reversal waits for the closing
// fill before proceeding to the new entry regardless.
var ReversalWaitTimeout = 5 * time.Second

// LinkedCreateOrderAction implements the entry-with-auto-protective-orders
// action: duplicate-side suppression, opposite-side
// reversal, position sizing, and ATR- or percentage-based protective
// order placement.
type LinkedCreateOrderAction struct {
	Symbol          string
	QtyOrAllocation float64
	Side            orders.Side
	AutoProtective  bool
	ATRStopMult     float64
	ATRTargetMult   float64
	StopLossPct     *float64
	TakeProfitPct   *float64
}

func (a *LinkedCreateOrderAction) Execute(c *enginectx.Context) bool {
	if side, active := c.TradeTracker.Active(a.Symbol); active {
		if side == string(a.Side) {
			observability.LogEvent(c.Ctx, observability.LevelInfo, "ignored_duplicate_side", map[string]any{
				"symbol": a.Symbol, "side": string(a.Side),
			})
			return true
		}
		if !a.reverse(c) {
			return false
		}
	}

	shares, err := c.PositionSizer.Resolve(c.Ctx, a.Symbol, a.QtyOrAllocation)
	if err != nil {
		observability.LogEvent(c.Ctx, observability.LevelWarn, "linked_entry_sizing_failed", map[string]any{
			"symbol": a.Symbol, "error": err.Error(),
		})
		return false
	}

	entry := c.OrderManager.CreateOrder(orders.Spec{
		Symbol: a.Symbol, Side: a.Side, Qty: shares, Type: orders.TypeMarket,
	})
	if err := c.OrderManager.Submit(c.Ctx, entry.OrderID); err != nil {
		observability.LogEvent(c.Ctx, observability.LevelWarn, "linked_entry_submit_failed", map[string]any{
			"symbol": a.Symbol, "error": err.Error(),
		})
		return false
	}

	posSide := positions.SideBuy
	if a.Side == orders.SideSell {
		posSide = positions.SideSell
	}
	pos := c.PositionTracker.OpenOrUpdate(c.Ctx, a.Symbol, posSide, 0, 0, entry.OrderID, positions.RoleMain)
	c.TradeTracker.Start(a.Symbol, string(a.Side))

	if a.AutoProtective {
		a.placeProtectiveOrders(c, pos.PositionID, shares)
	}

	return true
}

// reverse cancels every open order on the symbol's current position,
// submits an opposing market order for its net qty, and waits (bounded)
// for the resulting PositionCloseEvent before the caller proceeds to open
// the new, opposite-side position.
func (a *LinkedCreateOrderAction) reverse(c *enginectx.Context) bool {
	pos, err := c.PositionTracker.GetBySymbol(a.Symbol)
	if err != nil {
		// TradeTracker said active but PositionTracker disagrees; log and
		// let the entry proceed since there is nothing to reverse out of.
		observability.LogEvent(c.Ctx, observability.LevelWarn, "reversal_no_tracked_position", map[string]any{
			"symbol": a.Symbol,
		})
		return true
	}

	for _, orderID := range pos.AllOrderIDs() {
		_ = c.OrderManager.Cancel(c.Ctx, orderID, "reversal")
	}

	closeSide := orders.SideSell
	if pos.Side == positions.SideSell {
		closeSide = orders.SideBuy
	}
	qty := pos.NetQty
	if qty < 0 {
		qty = -qty
	}
	closeOrder := c.OrderManager.CreateOrder(orders.Spec{
		Symbol: a.Symbol, Side: closeSide, Qty: qty, Type: orders.TypeMarket,
	})
	if err := c.OrderManager.Submit(c.Ctx, closeOrder.OrderID); err != nil {
		return false
	}
	_ = c.PositionTracker.AttachOrder(pos.PositionID, positions.RoleClose, closeOrder.OrderID)

	a.waitForClose(c, a.Symbol)
	return true
}

func (a *LinkedCreateOrderAction) waitForClose(c *enginectx.Context, symbol string) {
	if c.Bus == nil {
		return
	}
	done := make(chan struct{}, 1)
	var handler events.Handler
	handler = func(ctx context.Context, evt events.Event) {
		if closeEvt, ok := evt.(*events.PositionCloseEvent); ok && closeEvt.Symbol == symbol {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	}
	c.Bus.Subscribe(events.KindPositionCloseEvent, handler)
	defer c.Bus.Unsubscribe(events.KindPositionCloseEvent, handler)

	select {
	case <-done:
	case <-time.After(ReversalWaitTimeout):
		observability.LogEvent(c.Ctx, observability.LevelWarn, "reversal_close_wait_timeout", map[string]any{
			"symbol": symbol,
		})
	}
}

func (a *LinkedCreateOrderAction) placeProtectiveOrders(c *enginectx.Context, positionID string, shares int) {
	entryRef, err := c.PriceService.LastPrice(c.Ctx, a.Symbol, 3*time.Second)
	if err != nil {
		observability.LogEvent(c.Ctx, observability.LevelWarn, "protective_price_unavailable", map[string]any{
			"symbol": a.Symbol, "error": err.Error(),
		})
		return
	}

	var stopPrice, targetPrice float64
	atr, atrOK := c.IndicatorManager.ATR(c.Ctx, a.Symbol, 14, 10*time.Second)

	switch {
	case atrOK:
		stopPrice, targetPrice = a.atrPrices(entryRef, atr)
	case a.StopLossPct != nil || a.TakeProfitPct != nil:
		stopPrice, targetPrice = a.pctPrices(entryRef)
	default:
		observability.LogEvent(c.Ctx, observability.LevelWarn, "no_protective_orders_placed", map[string]any{
			"symbol": a.Symbol, "reason": "atr_unavailable_and_no_pct_fallback",
		})
		return
	}

	opposite := a.Side.Opposite()

	stop := c.OrderManager.CreateOrder(orders.Spec{
		Symbol: a.Symbol, Side: opposite, Qty: shares, Type: orders.TypeStop, StopPrice: stopPrice,
	})
	if err := c.OrderManager.Submit(c.Ctx, stop.OrderID); err == nil {
		_ = c.PositionTracker.AttachOrder(positionID, positions.RoleStop, stop.OrderID)
	}

	target := c.OrderManager.CreateOrder(orders.Spec{
		Symbol: a.Symbol, Side: opposite, Qty: shares, Type: orders.TypeLimit, LimitPrice: targetPrice,
	})
	if err := c.OrderManager.Submit(c.Ctx, target.OrderID); err == nil {
		_ = c.PositionTracker.AttachOrder(positionID, positions.RoleTarget, target.OrderID)
	}
}

func (a *LinkedCreateOrderAction) atrPrices(entryRef, atr float64) (stop, target float64) {
	if a.Side == orders.SideBuy {
		return entryRef - a.ATRStopMult*atr, entryRef + a.ATRTargetMult*atr
	}
	return entryRef + a.ATRStopMult*atr, entryRef - a.ATRTargetMult*atr
}

func (a *LinkedCreateOrderAction) pctPrices(entryRef float64) (stop, target float64) {
	stopPct, targetPct := 0.0, 0.0
	if a.StopLossPct != nil {
		stopPct = *a.StopLossPct
	}
	if a.TakeProfitPct != nil {
		targetPct = *a.TakeProfitPct
	}
	if a.Side == orders.SideBuy {
		return entryRef * (1 - stopPct), entryRef * (1 + targetPct)
	}
	return entryRef * (1 + stopPct), entryRef * (1 - targetPct)
}
