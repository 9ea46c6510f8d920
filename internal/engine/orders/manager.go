package orders

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"tradingcore/internal/broker"
	"tradingcore/internal/engine/events"
	"tradingcore/internal/observability"
)

// Manager is the sole owner of Order records and the sole mutator of order
// status. All status/fill mutations happen under a single mutex over the
// order map; events are emitted after the lock is released.
type Manager struct {
	mu       sync.Mutex
	byID     map[string]*Order
	bySymbol map[string][]string

	broker  broker.Client
	bus     *events.Bus
	metrics *observability.TradingMetrics
}

// NewManager constructs an order manager bound to a broker connection and
// the shared event bus.
func NewManager(brokerClient broker.Client, bus *events.Bus, metrics *observability.TradingMetrics) *Manager {
	return &Manager{
		byID:     make(map[string]*Order),
		bySymbol: make(map[string][]string),
		broker:   brokerClient,
		bus:      bus,
		metrics:  metrics,
	}
}

// CreateOrder allocates a new Order in CREATED status. It does not submit
// to the broker; call Submit to do that.
func (m *Manager) CreateOrder(spec Spec) *Order {
	id := uuid.New().String()
	o := newOrder(id, spec)

	m.mu.Lock()
	m.byID[id] = o
	m.bySymbol[spec.Symbol] = append(m.bySymbol[spec.Symbol], id)
	m.mu.Unlock()

	return o
}

// Submit transitions orderID to PENDING_SUBMIT and calls the broker. A
// synchronous submission error moves the order straight to REJECTED.
func (m *Manager) Submit(ctx context.Context, orderID string) error {
	o, err := m.getLocked(orderID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	o.Status = StatusPendingSubmit
	spec := broker.OrderSpec{
		OrderID:    0,
		Contract:   broker.Contract{Symbol: o.Symbol},
		Side:       brokerSide(o.Side),
		Qty:        o.Qty,
		Type:       brokerType(o.Type),
		LimitPrice: o.LimitPrice,
		StopPrice:  o.StopPrice,
		TIF:        brokerTIF(o.TIF),
	}
	m.mu.Unlock()

	brokerOrderID, submitErr := m.broker.SubmitOrder(ctx, spec)

	m.mu.Lock()
	if submitErr != nil {
		o.Status = StatusRejected
		o.RejectReason = submitErr.Error()
	} else {
		o.BrokerOrderID = brokerOrderID
		o.Status = StatusAccepted
	}
	m.mu.Unlock()

	if submitErr != nil {
		observability.LogEvent(ctx, observability.LevelWarn, "order_submit_rejected", map[string]any{
			"order_id": orderID, "symbol": o.Symbol, "error": submitErr.Error(),
		})
		m.bus.Emit(ctx, events.NewRejectEvent("order_manager", orderID, submitErr.Error()))
		return fmt.Errorf("orders: submit %s: %w", orderID, submitErr)
	}
	return nil
}

// Cancel transitions orderID to PENDING_CANCEL and calls the broker. It is
// a no-op if the order is already in a terminal state.
func (m *Manager) Cancel(ctx context.Context, orderID string, reason string) error {
	o, err := m.getLocked(orderID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if o.Status.IsTerminal() {
		m.mu.Unlock()
		return nil
	}
	o.Status = StatusPendingCancel
	brokerOrderID := o.BrokerOrderID
	m.mu.Unlock()

	if err := m.broker.CancelOrder(ctx, brokerOrderID); err != nil {
		return fmt.Errorf("orders: cancel %s: %w", orderID, err)
	}
	return nil
}

// GetOrder returns the order for orderID.
func (m *Manager) GetOrder(orderID string) (*Order, error) {
	return m.getLocked(orderID)
}

// OrdersForSymbol returns every order the manager has created for symbol,
// oldest first.
func (m *Manager) OrdersForSymbol(symbol string) []*Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.bySymbol[symbol]
	out := make([]*Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := m.byID[id]; ok {
			out = append(out, o)
		}
	}
	return out
}

func (m *Manager) getLocked(orderID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[orderID]
	if !ok {
		return nil, &ErrUnknownOrder{OrderID: orderID}
	}
	return o, nil
}

// HandleStatus applies a broker status push to the matching order and
// emits OrderStatusEvent. Statuses the broker reports for an order this
// manager never created are logged and ignored.
func (m *Manager) HandleStatus(ctx context.Context, upd broker.StatusUpdate) {
	o := m.findByBrokerID(upd.OrderID)
	if o == nil {
		observability.LogEvent(ctx, observability.LevelWarn, "order_status_unknown_order", map[string]any{
			"broker_order_id": upd.OrderID, "status": upd.Status,
		})
		return
	}

	internal := broker.MapBrokerStatus(upd.Status)
	if internal == "" {
		observability.LogEvent(ctx, observability.LevelWarn, "order_status_unmapped", map[string]any{
			"order_id": o.OrderID, "broker_status": upd.Status,
		})
		return
	}

	m.mu.Lock()
	o.Status = Status(internal)
	o.UpdatedAt = upd.At
	orderID := o.OrderID
	m.mu.Unlock()

	m.bus.Emit(ctx, events.NewOrderStatusEvent("order_manager", orderID, internal, upd.Filled, upd.Remaining, upd.AvgFillPrice))
}

// HandleFill applies a single execution to the matching order, updates
// cumulativeFilled/avgFillPrice/remaining, transitions to FILLED when
// complete, and emits a FillEvent. A duplicate fill report (broker
// re-delivery) is a no-op beyond the first application because it is
// matched against the order's already-updated cumulativeFilled by the
// broker's own reported totals, not re-summed locally.
func (m *Manager) HandleFill(ctx context.Context, fr broker.FillReport) {
	o := m.findByBrokerID(fr.OrderID)
	if o == nil {
		observability.LogEvent(ctx, observability.LevelWarn, "fill_unknown_order", map[string]any{
			"broker_order_id": fr.OrderID,
		})
		return
	}

	m.mu.Lock()
	if o.CumulativeFilled >= fr.CumulativeFilled {
		// Already applied (duplicate broker message); nothing to do.
		m.mu.Unlock()
		return
	}
	deltaShares := fr.CumulativeFilled - o.CumulativeFilled
	o.applyFill(deltaShares, fr.Price)
	if o.Remaining == 0 {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartiallyFilled
	}
	orderID := o.OrderID
	symbol := o.Symbol
	side := o.Side
	cumFilled := o.CumulativeFilled
	remaining := o.Remaining
	m.mu.Unlock()

	m.bus.Emit(ctx, events.NewFillEvent("order_manager", orderID, symbol, events.Side(side), deltaShares, fr.Price, cumFilled, remaining))
}

// HandleCancel records a broker-confirmed cancel and emits CancelEvent.
func (m *Manager) HandleCancel(ctx context.Context, brokerOrderID int64) {
	o := m.findByBrokerID(brokerOrderID)
	if o == nil {
		return
	}
	m.mu.Lock()
	o.Status = StatusCancelled
	orderID := o.OrderID
	m.mu.Unlock()
	m.bus.Emit(ctx, events.NewCancelEvent("order_manager", orderID))
}

func (m *Manager) findByBrokerID(brokerOrderID int64) *Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byID {
		if o.BrokerOrderID == brokerOrderID {
			return o
		}
	}
	return nil
}
