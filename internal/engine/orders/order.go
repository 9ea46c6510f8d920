// Package orders implements the order and order-group state machine.
package orders

import (
	"fmt"
	"time"

	"tradingcore/internal/broker"
)

// Status is an order's lifecycle state.
type Status string

const (
	StatusCreated         Status = "CREATED"
	StatusPendingSubmit   Status = "PENDING_SUBMIT"
	StatusAccepted        Status = "ACCEPTED"
	StatusRejected        Status = "REJECTED"
	StatusSubmitted       Status = "SUBMITTED"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusPendingCancel   Status = "PENDING_CANCEL"
	StatusCancelled       Status = "CANCELLED"
	StatusInactive        Status = "INACTIVE"
)

// IsTerminal reports whether status is a terminal order state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusInactive:
		return true
	default:
		return false
	}
}

// Side is an order's buy/sell direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Type is the broker order type.
type Type string

const (
	TypeMarket    Type = "MARKET"
	TypeLimit     Type = "LIMIT"
	TypeStop      Type = "STOP"
	TypeStopLimit Type = "STOP_LIMIT"
	TypeTrail     Type = "TRAIL"
)

// TimeInForce constrains how long an order remains working.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
)

// Role is how an order relates to a position within a linked order group.
type Role string

const (
	RoleMain       Role = "main"
	RoleStop       Role = "stop"
	RoleTarget     Role = "target"
	RoleDoubleDown Role = "doubledown"
	RoleScale      Role = "scale"
)

// Spec describes an order to be created. LimitPrice/StopPrice are only
// meaningful for the order types that use them.
type Spec struct {
	Symbol     string
	Side       Side
	Qty        int
	Type       Type
	LimitPrice float64
	StopPrice  float64
	TIF        TimeInForce
	ParentID   string
}

// Order is the engine's view of a single broker order. cumulativeFilled +
// remaining == qty is an invariant maintained by every mutation method
// below; status == FILLED iff remaining == 0 && cumulativeFilled == qty.
type Order struct {
	OrderID          string
	BrokerOrderID    int64
	Symbol           string
	Side             Side
	Qty              int
	Type             Type
	LimitPrice       float64
	StopPrice        float64
	TIF              TimeInForce
	ParentOrderID    string
	Status           Status
	CumulativeFilled int
	Remaining        int
	AvgFillPrice     float64
	CreatedAt        time.Time
	SubmittedAt      time.Time
	UpdatedAt        time.Time
	RejectReason     string
}

func newOrder(id string, spec Spec) *Order {
	return &Order{
		OrderID:       id,
		Symbol:        spec.Symbol,
		Side:          spec.Side,
		Qty:           spec.Qty,
		Type:          spec.Type,
		LimitPrice:    spec.LimitPrice,
		StopPrice:     spec.StopPrice,
		TIF:           spec.TIF,
		ParentOrderID: spec.ParentID,
		Status:        StatusCreated,
		Remaining:     spec.Qty,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
}

// SignedFilled returns the order's cumulative filled quantity signed by
// side: positive for BUY, negative for SELL. Used by the fill manager's
// net-qty recomputation.
func (o *Order) SignedFilled() int {
	if o.Side == SideSell {
		return -o.CumulativeFilled
	}
	return o.CumulativeFilled
}

// applyFill records a single execution, updating cumulativeFilled (and the
// weighted avgFillPrice) and remaining. It does not decide the resulting
// status; Manager.HandleFill sets that afterwards from the resulting
// Remaining count (FILLED at zero, PARTIALLY_FILLED otherwise).
func (o *Order) applyFill(shares int, price float64) {
	if shares <= 0 {
		return
	}
	totalCost := o.AvgFillPrice*float64(o.CumulativeFilled) + price*float64(shares)
	o.CumulativeFilled += shares
	if o.CumulativeFilled > 0 {
		o.AvgFillPrice = totalCost / float64(o.CumulativeFilled)
	}
	o.Remaining = o.Qty - o.CumulativeFilled
	if o.Remaining < 0 {
		o.Remaining = 0
	}
	o.UpdatedAt = time.Now().UTC()
}

func brokerSide(s Side) broker.OrderSide {
	if s == SideSell {
		return broker.SideSell
	}
	return broker.SideBuy
}

func brokerType(t Type) broker.OrderType {
	switch t {
	case TypeLimit:
		return broker.TypeLimit
	case TypeStop:
		return broker.TypeStop
	case TypeStopLimit:
		return broker.TypeStopLimit
	case TypeTrail:
		return broker.TypeTrail
	default:
		return broker.TypeMarket
	}
}

func brokerTIF(t TimeInForce) broker.TimeInForce {
	switch t {
	case TIFGTC:
		return broker.TIFGTC
	case TIFIOC:
		return broker.TIFIOC
	default:
		return broker.TIFDay
	}
}

// ErrUnknownOrder is returned by Manager lookups for an orderID the
// manager never created.
type ErrUnknownOrder struct{ OrderID string }

func (e *ErrUnknownOrder) Error() string {
	return fmt.Sprintf("orders: unknown order %q", e.OrderID)
}
