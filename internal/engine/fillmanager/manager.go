// Package fillmanager implements the unified fill manager: the only
// component that, in response to fills, resizes protective orders and
// closes positions.
package fillmanager

import (
	"context"
	"sync"
	"time"

	"tradingcore/internal/engine/enginectx"
	"tradingcore/internal/engine/events"
	"tradingcore/internal/engine/orders"
	"tradingcore/internal/engine/positions"
	"tradingcore/internal/observability"
)

const (
	retryAttempts = 3
	retryDelay    = 500 * time.Millisecond
	queueDepth    = 256
)

type opKind int

const (
	opCancel opKind = iota
	opCreate
	opFinalizeClose
)

type operation struct {
	kind opKind

	symbol     string
	positionID string

	// opCancel
	cancelOrderID string

	// opCreate
	role       positions.Role
	side       orders.Side
	qty        int
	orderType  orders.Type
	limitPrice float64
	stopPrice  float64

	// opFinalizeClose
	reason string
}

type symbolState struct {
	mu    sync.Mutex // serializes the fill-processing critical section
	queue chan operation
}

// Manager is the unified fill manager. It subscribes to FillEvent and
// drives protective-order resizing and position closure; see HandleFill
// for the authoritative per-fill logic.
type Manager struct {
	orderMgr         enginectx.OrderManager
	posTracker       enginectx.PositionTracker
	tradeTracker     enginectx.TradeTracker
	cooldownResetter enginectx.CooldownResetter
	bus              *events.Bus

	mu       sync.Mutex
	bySymbol map[string]*symbolState
	handler  events.Handler
}

// NewManager constructs a fill manager bound to its collaborators.
func NewManager(orderMgr enginectx.OrderManager, posTracker enginectx.PositionTracker, tradeTracker enginectx.TradeTracker, cooldownResetter enginectx.CooldownResetter, bus *events.Bus) *Manager {
	return &Manager{
		orderMgr:         orderMgr,
		posTracker:       posTracker,
		tradeTracker:     tradeTracker,
		cooldownResetter: cooldownResetter,
		bus:              bus,
		bySymbol:         make(map[string]*symbolState),
	}
}

// Start subscribes the manager to FillEvent on the bus.
func (m *Manager) Start() {
	m.handler = func(ctx context.Context, evt events.Event) { m.HandleFill(ctx, evt) }
	m.bus.Subscribe(events.KindFillEvent, m.handler)
}

// Stop unsubscribes from the bus. It does not stop the per-symbol workers:
// their queues are never closed, so each worker keeps waiting on its queue
// for the life of the process.
func (m *Manager) Stop() {
	if m.handler != nil {
		m.bus.Unsubscribe(events.KindFillEvent, m.handler)
	}
}

// QueueDepth returns the total number of operations queued across every
// symbol worker, for the guardrail backlog probe.
func (m *Manager) QueueDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, st := range m.bySymbol {
		total += len(st.queue)
	}
	return total
}

func (m *Manager) stateFor(symbol string) *symbolState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.bySymbol[symbol]
	if !ok {
		st = &symbolState{queue: make(chan operation, queueDepth)}
		m.bySymbol[symbol] = st
		go m.worker(st)
	}
	return st
}

// HandleFill is the authoritative per-fill handler.
func (m *Manager) HandleFill(ctx context.Context, evt events.Event) {
	fill, ok := evt.(*events.FillEvent)
	if !ok {
		return
	}

	st := m.stateFor(fill.Symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	pos, err := m.posTracker.GetBySymbol(fill.Symbol)
	if err != nil {
		return
	}

	role := classify(pos, fill.OrderID)
	if role == "" {
		observability.LogEvent(ctx, observability.LevelWarn, "fill_unclassified_order", map[string]any{
			"symbol": fill.Symbol, "order_id": fill.OrderID,
		})
		return
	}

	order, err := m.orderMgr.GetOrder(fill.OrderID)
	if err != nil {
		return
	}
	fullyFilled := order.Status == orders.StatusFilled

	netQty := m.recomputeNet(pos)

	switch role {
	case positions.RoleMain, positions.RoleDoubleDown, positions.RoleScale:
		m.posTracker.OpenOrUpdate(ctx, fill.Symbol, pos.Side, fill.Shares, fill.Price, fill.OrderID, role)
		if role == positions.RoleMain {
			if absInt(netQty) != m.sumProtectiveQty(pos) {
				m.enqueueResize(st, pos, netQty, nil)
			}
		} else {
			m.enqueueResize(st, pos, netQty, nil)
		}
	case positions.RoleStop, positions.RoleTarget, positions.RoleClose:
		if fullyFilled {
			// enqueueCloseAll cancels every remaining linked order and
			// finalizes the close below; RecordProtectiveFill is skipped
			// here so the position isn't closed twice.
			m.enqueueCloseAll(st, pos, string(role))
			if role == positions.RoleStop {
				m.cooldownResetter.ResetSymbol(fill.Symbol)
			}
		} else {
			m.posTracker.RecordProtectiveFill(ctx, fill.Symbol, fill.Shares, string(role))
			if role != positions.RoleClose {
				m.enqueueResize(st, pos, netQty, map[positions.Role]bool{role: true})
			}
		}
	}

	observability.RecordFillProcessed(ctx, fill.Symbol, string(role), netQty, role != positions.RoleMain || absInt(netQty) != m.sumProtectiveQty(pos))
}

func classify(pos *positions.Position, orderID string) positions.Role {
	switch {
	case contains(pos.MainOrderIDs, orderID):
		return positions.RoleMain
	case contains(pos.DoubleDownOrderIDs, orderID):
		return positions.RoleDoubleDown
	case contains(pos.ScaleOrderIDs, orderID):
		return positions.RoleScale
	case contains(pos.StopOrderIDs, orderID):
		return positions.RoleStop
	case contains(pos.TargetOrderIDs, orderID):
		return positions.RoleTarget
	case contains(pos.CloseOrderIDs, orderID):
		return positions.RoleClose
	default:
		return ""
	}
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// recomputeNet sums signed fills across every order attached to pos,
// across all roles.
func (m *Manager) recomputeNet(pos *positions.Position) int {
	net := 0
	for _, id := range pos.AllOrderIDs() {
		o, err := m.orderMgr.GetOrder(id)
		if err != nil {
			continue
		}
		net += o.SignedFilled()
	}
	return net
}

// sumProtectiveQty sums the order qty of every non-terminal stop/target
// order attached to pos.
func (m *Manager) sumProtectiveQty(pos *positions.Position) int {
	total := 0
	for _, id := range append(append([]string{}, pos.StopOrderIDs...), pos.TargetOrderIDs...) {
		o, err := m.orderMgr.GetOrder(id)
		if err != nil || o.Status.IsTerminal() {
			continue
		}
		total += o.Qty
	}
	return total
}

// enqueueResize cancels and recreates every non-excluded, non-terminal
// protective order whose quantity no longer matches |netQty|.
func (m *Manager) enqueueResize(st *symbolState, pos *positions.Position, netQty int, exclude map[positions.Role]bool) {
	newQty := absInt(netQty)
	side := orders.SideSell
	if pos.Side == positions.SideSell {
		side = orders.SideBuy
	}

	for _, role := range []positions.Role{positions.RoleStop, positions.RoleTarget} {
		if exclude[role] {
			continue
		}
		ids := roleIDs(pos, role)
		for _, id := range ids {
			o, err := m.orderMgr.GetOrder(id)
			if err != nil || o.Status.IsTerminal() {
				continue
			}
			if o.Qty == newQty {
				continue // no delta
			}
			st.queue <- operation{kind: opCancel, symbol: pos.Symbol, cancelOrderID: id}
			orderType := orders.TypeStop
			limitPrice, stopPrice := 0.0, o.StopPrice
			if role == positions.RoleTarget {
				orderType = orders.TypeLimit
				limitPrice, stopPrice = o.LimitPrice, 0
			}
			st.queue <- operation{
				kind: opCreate, symbol: pos.Symbol, positionID: pos.PositionID,
				role: role, side: side, qty: newQty, orderType: orderType,
				limitPrice: limitPrice, stopPrice: stopPrice,
			}
		}
	}
}

// enqueueCloseAll cancels every open linked order for pos and finalizes
// the position close once the cancels have drained (FIFO ordering of the
// per-symbol queue guarantees the finalize runs last).
func (m *Manager) enqueueCloseAll(st *symbolState, pos *positions.Position, reason string) {
	for _, id := range pos.AllOrderIDs() {
		o, err := m.orderMgr.GetOrder(id)
		if err != nil || o.Status.IsTerminal() {
			continue
		}
		st.queue <- operation{kind: opCancel, symbol: pos.Symbol, cancelOrderID: id}
	}
	st.queue <- operation{kind: opFinalizeClose, symbol: pos.Symbol, positionID: pos.PositionID, reason: reason}
}

func roleIDs(pos *positions.Position, role positions.Role) []string {
	switch role {
	case positions.RoleStop:
		return pos.StopOrderIDs
	case positions.RoleTarget:
		return pos.TargetOrderIDs
	default:
		return nil
	}
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// worker drains st.queue in FIFO order for one symbol, retrying transient
// broker errors up to retryAttempts times with retryDelay backoff. It never holds st.mu while calling the broker.
func (m *Manager) worker(st *symbolState) {
	for op := range st.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		switch op.kind {
		case opCancel:
			m.withRetry(ctx, "cancel", func() error {
				return m.orderMgr.Cancel(ctx, op.cancelOrderID, "resize")
			})
		case opCreate:
			var createErr error
			m.withRetry(ctx, "create", func() error {
				spec := orders.Spec{
					Symbol: op.symbol, Side: op.side, Qty: op.qty, Type: op.orderType,
					LimitPrice: op.limitPrice, StopPrice: op.stopPrice,
				}
				o := m.orderMgr.CreateOrder(spec)
				createErr = m.orderMgr.Submit(ctx, o.OrderID)
				if createErr == nil {
					_ = m.posTracker.AttachOrder(op.positionID, op.role, o.OrderID)
				}
				return createErr
			})
		case opFinalizeClose:
			if err := m.posTracker.Close(ctx, op.positionID, op.reason); err == nil {
				m.tradeTracker.Stop(op.symbol)
			}
		}
		cancel()
	}
}

func (m *Manager) withRetry(ctx context.Context, opName string, fn func() error) {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return
		}
		time.Sleep(retryDelay)
	}
	observability.LogEvent(ctx, observability.LevelError, "fillmanager_op_exhausted", map[string]any{
		"op": opName, "error": err.Error(),
	})
}
