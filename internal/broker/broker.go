// Package broker defines the contract the engine uses to talk to a live
// broker connection. The engine never frames the wire protocol itself;
// concrete implementations (ibsocket) live in sibling packages.
package broker

import (
	"context"
	"time"
)

// OrderSide is the buy/sell direction of a broker order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType is the broker order type.
type OrderType string

const (
	TypeMarket    OrderType = "MARKET"
	TypeLimit     OrderType = "LIMIT"
	TypeStop      OrderType = "STOP"
	TypeStopLimit OrderType = "STOP_LIMIT"
	TypeTrail     OrderType = "TRAIL"
)

// TimeInForce constrains how long a broker order remains working.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
)

// Contract identifies a tradeable instrument. The engine only trades
// equities; Exchange/Currency default to broker-sensible values ("SMART",
// "USD") when left blank.
type Contract struct {
	Symbol   string
	Exchange string
	Currency string
}

// OrderSpec describes an order to submit. OrderID is caller-assigned; a
// value <= 0 asks the broker to assign one.
type OrderSpec struct {
	OrderID    int64
	Contract   Contract
	Side       OrderSide
	Qty        int
	Type       OrderType
	LimitPrice float64
	StopPrice  float64
	TIF        TimeInForce
}

// Bar is a single historical OHLCV bar.
type Bar struct {
	Start  time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// StatusUpdate is a broker-reported order status push.
type StatusUpdate struct {
	OrderID      int64
	Status       string
	Filled       int
	Remaining    int
	AvgFillPrice float64
	At           time.Time
}

// FillReport is a single execution report.
type FillReport struct {
	OrderID          int64
	Symbol           string
	Side             OrderSide
	Shares           int
	Price            float64
	CumulativeFilled int
	Remaining        int
	At               time.Time
}

// CommissionReport carries the commission charged for a fill, reported by
// the broker asynchronously and joined to the fill by ExecID out-of-band.
type CommissionReport struct {
	OrderID    int64
	Commission float64
}

// Quote is a best-effort snapshot price used by PriceService.
type Quote struct {
	Symbol string
	Last   float64
	Bid    float64
	Ask    float64
	At     time.Time
}

// Client is the capability the engine needs from a live broker connection.
// Every RTT method is context-cancellable and expected to be wrapped by a
// circuit breaker at the call site (see internal/resilience).
type Client interface {
	SubmitOrder(ctx context.Context, spec OrderSpec) (orderID int64, err error)
	CancelOrder(ctx context.Context, orderID int64) error
	SubscribeMarketData(ctx context.Context, c Contract) (reqID int64, err error)
	Unsubscribe(ctx context.Context, reqID int64) error
	RequestHistoricalBars(ctx context.Context, c Contract, duration time.Duration, barSize time.Duration) ([]Bar, error)
	SnapshotQuote(ctx context.Context, c Contract, timeout time.Duration) (Quote, error)

	// Statuses, Fills, Commissions, Errors, and Connected are push streams.
	// Implementations must keep delivering on these channels for the
	// lifetime of the Client; callers range over them from a single
	// background reader goroutine.
	Statuses() <-chan StatusUpdate
	Fills() <-chan FillReport
	Commissions() <-chan CommissionReport
	Errors() <-chan error
	Connected() <-chan bool

	Close() error
}
