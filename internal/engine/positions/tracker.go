package positions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradingcore/internal/engine/events"
	"tradingcore/internal/observability"
)

// Tracker is the authoritative per-symbol position state: the single
// source of truth the rest of the engine reads. A single
// mutex guards the position map and symbol index; callers never see a
// Position mutated outside the tracker.
type Tracker struct {
	mu       sync.Mutex
	byID     map[string]*Position
	bySymbol map[string]string // symbol -> positionId, only while active

	bus *events.Bus
}

// NewTracker constructs a position tracker bound to the shared event bus.
func NewTracker(bus *events.Bus) *Tracker {
	return &Tracker{
		byID:     make(map[string]*Position),
		bySymbol: make(map[string]string),
		bus:      bus,
	}
}

// OpenOrUpdate applies a fill attributed to a main/doubledown/scale order.
// If no active position exists for symbol, one is created in OPENING;
// otherwise the fill is merged into the existing position (weighted-average
// entry price, accumulated qty, status promoted to OPEN).
//
// Invariant enforced here: at most one OPEN or OPENING position exists per
// symbol at any time.
func (t *Tracker) OpenOrUpdate(ctx context.Context, symbol string, side Side, qty int, price float64, orderID string, role Role) *Position {
	t.mu.Lock()

	posID, exists := t.bySymbol[symbol]
	var pos *Position
	firstOpen := false

	if exists {
		pos = t.byID[posID]
	} else {
		pos = &Position{
			PositionID: uuid.New().String(),
			Symbol:     symbol,
			Side:       side,
			Status:     StatusOpening,
			OpenedAt:   time.Now().UTC(),
		}
		t.byID[pos.PositionID] = pos
		t.bySymbol[symbol] = pos.PositionID
		firstOpen = true
	}

	totalCost := pos.EntryPrice*float64(pos.NetQty) + price*float64(qty)
	pos.NetQty += qty
	if pos.NetQty != 0 {
		pos.EntryPrice = totalCost / float64(signedAbs(pos.NetQty))
	}
	appendOrderID(pos.orderIDsForRole(role), orderID)
	if firstOpen {
		pos.Status = StatusOpening
	} else {
		pos.Status = StatusOpen
	}

	positionID := pos.PositionID
	t.mu.Unlock()

	if firstOpen {
		t.bus.Emit(ctx, events.NewPositionOpenEvent("position_tracker", symbol, positionID))
		observability.LogEvent(ctx, observability.LevelInfo, "position_opened", map[string]any{
			"symbol": symbol, "position_id": positionID, "side": string(side), "qty": qty,
		})
	} else {
		t.bus.Emit(ctx, events.NewPositionUpdateEvent("position_tracker", symbol, positionID))
	}

	return pos
}

// RecordProtectiveFill applies a fill from a stop or target order, reducing
// net position toward zero. If net reaches zero the position transitions to
// CLOSED and a PositionCloseEvent is emitted.
func (t *Tracker) RecordProtectiveFill(ctx context.Context, symbol string, filledQty int, reason string) {
	t.mu.Lock()
	posID, exists := t.bySymbol[symbol]
	if !exists {
		t.mu.Unlock()
		return
	}
	pos := t.byID[posID]

	if pos.NetQty < 0 {
		pos.NetQty += filledQty
	} else {
		pos.NetQty -= filledQty
	}

	closed := pos.NetQty == 0
	if closed {
		pos.Status = StatusClosed
		pos.ClosedAt = time.Now().UTC()
		pos.CloseReason = reason
		delete(t.bySymbol, symbol)
	} else {
		pos.Status = StatusAdjusting
	}
	positionID := pos.PositionID
	realized := pos.RealizedPnl
	t.mu.Unlock()

	if closed {
		t.bus.Emit(ctx, events.NewPositionCloseEvent("position_tracker", symbol, positionID, reason, realized))
		observability.LogEvent(ctx, observability.LevelInfo, "position_closed", map[string]any{
			"symbol": symbol, "position_id": positionID, "reason": reason,
		})
	} else {
		t.bus.Emit(ctx, events.NewPositionUpdateEvent("position_tracker", symbol, positionID))
	}
}

// AttachOrder records orderID against positionID under role.
func (t *Tracker) AttachOrder(positionID string, role Role, orderID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.byID[positionID]
	if !ok {
		return &ErrUnknownPosition{PositionID: positionID}
	}
	appendOrderID(pos.orderIDsForRole(role), orderID)
	return nil
}

// DetachOrder removes orderID from positionID's order lists, regardless of
// role.
func (t *Tracker) DetachOrder(positionID string, orderID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.byID[positionID]
	if !ok {
		return &ErrUnknownPosition{PositionID: positionID}
	}
	for _, role := range []Role{RoleMain, RoleStop, RoleTarget, RoleDoubleDown, RoleScale, RoleClose} {
		ids := pos.orderIDsForRole(role)
		for i, id := range *ids {
			if id == orderID {
				*ids = append((*ids)[:i], (*ids)[i+1:]...)
				break
			}
		}
	}
	return nil
}

// Close forcibly closes positionID, removing it from the active symbol
// index and emitting PositionCloseEvent. Cancelling the position's open
// orders is the caller's responsibility (the unified fill manager or a
// LinkedCloseAllAction) since the tracker does not hold an OrderManager
// reference.
func (t *Tracker) Close(ctx context.Context, positionID string, reason string) error {
	t.mu.Lock()
	pos, ok := t.byID[positionID]
	if !ok {
		t.mu.Unlock()
		return &ErrUnknownPosition{PositionID: positionID}
	}
	pos.Status = StatusClosed
	pos.ClosedAt = time.Now().UTC()
	pos.CloseReason = reason
	delete(t.bySymbol, pos.Symbol)
	symbol := pos.Symbol
	realized := pos.RealizedPnl
	t.mu.Unlock()

	t.bus.Emit(ctx, events.NewPositionCloseEvent("position_tracker", symbol, positionID, reason, realized))
	return nil
}

// GetBySymbol returns the active position for symbol, if any.
func (t *Tracker) GetBySymbol(symbol string) (*Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	posID, ok := t.bySymbol[symbol]
	if !ok {
		return nil, &ErrNoActivePosition{Symbol: symbol}
	}
	return t.byID[posID], nil
}

// GetByID returns the position for positionID regardless of whether it is
// still active.
func (t *Tracker) GetByID(positionID string) (*Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.byID[positionID]
	if !ok {
		return nil, &ErrUnknownPosition{PositionID: positionID}
	}
	return pos, nil
}

// Summary returns every currently active (non-CLOSED) position, keyed by
// symbol — used by the guardrail halt sweep and rules.RiskGateCondition.
func (t *Tracker) Summary() map[string]*Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]*Position, len(t.bySymbol))
	for symbol, id := range t.bySymbol {
		out[symbol] = t.byID[id]
	}
	return out
}

func signedAbs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// appendOrderID adds orderID to *ids unless it is blank, ids is nil (an
// unrecognized role), or orderID is already present — a role's order is
// attached once at creation time and the same ID arrives again on every
// subsequent fill against it.
func appendOrderID(ids *[]string, orderID string) {
	if ids == nil || orderID == "" {
		return
	}
	for _, id := range *ids {
		if id == orderID {
			return
		}
	}
	*ids = append(*ids, orderID)
}
