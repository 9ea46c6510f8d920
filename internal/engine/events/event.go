// Package events implements the typed event model shared by every engine
// subsystem: a sealed hierarchy of market/order/position/signal/system
// events, routed by the event bus (see bus.go) via a static parent-chain
// table rather than reflection.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies an event's concrete variant. Kinds form a tree rooted at
// KindEvent; ancestors() walks the tree via the parentOf table below.
type Kind string

const (
	KindEvent Kind = "Event"

	KindMarketEvent    Kind = "MarketEvent"
	KindPriceEvent     Kind = "PriceEvent"
	KindVolumeEvent    Kind = "VolumeEvent"
	KindIndicatorEvent Kind = "IndicatorEvent"

	KindPredictionSignal Kind = "PredictionSignal"

	KindOrderEvent       Kind = "OrderEvent"
	KindOrderStatusEvent Kind = "OrderStatusEvent"
	KindFillEvent        Kind = "FillEvent"
	KindCancelEvent      Kind = "CancelEvent"
	KindRejectEvent      Kind = "RejectEvent"

	KindPositionEvent       Kind = "PositionEvent"
	KindPositionOpenEvent   Kind = "PositionOpenEvent"
	KindPositionUpdateEvent Kind = "PositionUpdateEvent"
	KindPositionCloseEvent  Kind = "PositionCloseEvent"

	KindSystemEvent     Kind = "SystemEvent"
	KindConnectEvent    Kind = "ConnectEvent"
	KindDisconnectEvent Kind = "DisconnectEvent"
	KindErrorEvent      Kind = "ErrorEvent"
)

// parentOf maps each non-root kind to its immediate supertype. A handler
// subscribed to a parent kind receives every descendant kind's events.
var parentOf = map[Kind]Kind{
	KindMarketEvent:    KindEvent,
	KindPriceEvent:     KindMarketEvent,
	KindVolumeEvent:    KindMarketEvent,
	KindIndicatorEvent: KindMarketEvent,

	KindPredictionSignal: KindEvent,

	KindOrderEvent:       KindEvent,
	KindOrderStatusEvent: KindOrderEvent,
	KindFillEvent:        KindOrderEvent,
	KindCancelEvent:      KindOrderEvent,
	KindRejectEvent:      KindOrderEvent,

	KindPositionEvent:       KindEvent,
	KindPositionOpenEvent:   KindPositionEvent,
	KindPositionUpdateEvent: KindPositionEvent,
	KindPositionCloseEvent:  KindPositionEvent,

	KindSystemEvent:     KindEvent,
	KindConnectEvent:    KindSystemEvent,
	KindDisconnectEvent: KindSystemEvent,
	KindErrorEvent:      KindSystemEvent,
}

// ancestors returns k and every supertype of k, most specific first, ending
// with KindEvent.
func ancestors(k Kind) []Kind {
	chain := []Kind{k}
	for {
		parent, ok := parentOf[k]
		if !ok {
			return chain
		}
		chain = append(chain, parent)
		k = parent
	}
}

// Event is the capability every concrete event variant satisfies.
type Event interface {
	EventID() string
	Kind() Kind
	Timestamp() time.Time
	Source() string
	Metadata() map[string]any
}

// Base carries the fields every event has regardless of variant. Concrete
// event structs embed Base and set kind via newBase.
type Base struct {
	id        string
	kind      Kind
	timestamp time.Time
	source    string
	metadata  map[string]any
}

func newBase(kind Kind, source string) Base {
	return Base{
		id:        uuid.New().String(),
		kind:      kind,
		timestamp: time.Now().UTC(),
		source:    source,
		metadata:  make(map[string]any),
	}
}

func (b Base) EventID() string         { return b.id }
func (b Base) Kind() Kind               { return b.kind }
func (b Base) Timestamp() time.Time     { return b.timestamp }
func (b Base) Source() string           { return b.source }
func (b Base) Metadata() map[string]any { return b.metadata }

// WithMetadata attaches a key/value pair to the event and returns the event
// for chaining at construction time.
func (b *Base) WithMetadata(key string, value any) {
	if b.metadata == nil {
		b.metadata = make(map[string]any)
	}
	b.metadata[key] = value
}

// ─── Market data ──────────────────────────────────────────────────────────

// PriceEvent carries a quote tick for a symbol.
type PriceEvent struct {
	Base
	Symbol string
	Price  float64
	Bid    float64
	Ask    float64
	Volume int64
}

// NewPriceEvent constructs a PriceEvent from the given source.
func NewPriceEvent(source, symbol string, price, bid, ask float64, volume int64) *PriceEvent {
	return &PriceEvent{
		Base:   newBase(KindPriceEvent, source),
		Symbol: symbol, Price: price, Bid: bid, Ask: ask, Volume: volume,
	}
}

// VolumeEvent carries a traded-volume update for a symbol.
type VolumeEvent struct {
	Base
	Symbol string
	Volume int64
}

func NewVolumeEvent(source, symbol string, volume int64) *VolumeEvent {
	return &VolumeEvent{Base: newBase(KindVolumeEvent, source), Symbol: symbol, Volume: volume}
}

// IndicatorEvent carries a computed indicator value (e.g. ATR) for a symbol.
type IndicatorEvent struct {
	Base
	Symbol string
	Name   string
	Value  float64
}

func NewIndicatorEvent(source, symbol, name string, value float64) *IndicatorEvent {
	return &IndicatorEvent{Base: newBase(KindIndicatorEvent, source), Symbol: symbol, Name: name, Value: value}
}

// ─── Signals ──────────────────────────────────────────────────────────────

// SignalType is the direction a PredictionSignal recommends.
type SignalType string

const (
	SignalBuy   SignalType = "BUY"
	SignalSell  SignalType = "SELL"
	SignalShort SignalType = "SHORT"
)

// PredictionSignal is emitted by the signal source adapter for one ticker.
type PredictionSignal struct {
	Base
	Symbol         string
	Signal         SignalType
	Confidence     float64
	ReferencePrice float64
	ModelTs        time.Time
}

func NewPredictionSignal(source, symbol string, signal SignalType, confidence, refPrice float64, modelTs time.Time) *PredictionSignal {
	return &PredictionSignal{
		Base:           newBase(KindPredictionSignal, source),
		Symbol:         symbol,
		Signal:         signal,
		Confidence:     confidence,
		ReferencePrice: refPrice,
		ModelTs:        modelTs,
	}
}

// ─── Orders ───────────────────────────────────────────────────────────────

// Side is the buy/sell direction of an order or fill.
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

// OrderStatusEvent reports a broker-acknowledged order status transition.
type OrderStatusEvent struct {
	Base
	OrderID      string
	Status       string
	Filled       int
	Remaining    int
	AvgFillPrice float64
	At           time.Time
}

func NewOrderStatusEvent(source, orderID, status string, filled, remaining int, avgFillPrice float64) *OrderStatusEvent {
	return &OrderStatusEvent{
		Base: newBase(KindOrderStatusEvent, source), OrderID: orderID, Status: status,
		Filled: filled, Remaining: remaining, AvgFillPrice: avgFillPrice, At: time.Now().UTC(),
	}
}

// FillEvent reports a single (possibly partial) execution against an order.
type FillEvent struct {
	Base
	OrderID          string
	Symbol           string
	Side             Side
	Shares           int
	Price            float64
	Commission       *float64
	CumulativeFilled int
	Remaining        int
	At               time.Time
}

func NewFillEvent(source, orderID, symbol string, side Side, shares int, price float64, cumulativeFilled, remaining int) *FillEvent {
	return &FillEvent{
		Base: newBase(KindFillEvent, source), OrderID: orderID, Symbol: symbol, Side: side,
		Shares: shares, Price: price, CumulativeFilled: cumulativeFilled, Remaining: remaining,
		At: time.Now().UTC(),
	}
}

// CancelEvent reports that an order was cancelled.
type CancelEvent struct {
	Base
	OrderID string
}

func NewCancelEvent(source, orderID string) *CancelEvent {
	return &CancelEvent{Base: newBase(KindCancelEvent, source), OrderID: orderID}
}

// RejectEvent reports that an order was rejected by the broker.
type RejectEvent struct {
	Base
	OrderID string
	Reason  string
}

func NewRejectEvent(source, orderID, reason string) *RejectEvent {
	return &RejectEvent{Base: newBase(KindRejectEvent, source), OrderID: orderID, Reason: reason}
}

// ─── Positions ────────────────────────────────────────────────────────────

// PositionOpenEvent marks the first fill that opens a tracked position.
type PositionOpenEvent struct {
	Base
	Symbol     string
	PositionID string
}

func NewPositionOpenEvent(source, symbol, positionID string) *PositionOpenEvent {
	return &PositionOpenEvent{Base: newBase(KindPositionOpenEvent, source), Symbol: symbol, PositionID: positionID}
}

// PositionUpdateEvent marks a fill that changed an open position's qty, entry
// price, or protective orders without closing it.
type PositionUpdateEvent struct {
	Base
	Symbol     string
	PositionID string
}

func NewPositionUpdateEvent(source, symbol, positionID string) *PositionUpdateEvent {
	return &PositionUpdateEvent{Base: newBase(KindPositionUpdateEvent, source), Symbol: symbol, PositionID: positionID}
}

// PositionCloseEvent marks a position reaching net-zero and being retired.
type PositionCloseEvent struct {
	Base
	Symbol      string
	PositionID  string
	Reason      string
	RealizedPnl float64
}

func NewPositionCloseEvent(source, symbol, positionID, reason string, realizedPnl float64) *PositionCloseEvent {
	return &PositionCloseEvent{
		Base: newBase(KindPositionCloseEvent, source), Symbol: symbol,
		PositionID: positionID, Reason: reason, RealizedPnl: realizedPnl,
	}
}

// ─── System ───────────────────────────────────────────────────────────────

// ConnectEvent marks a broker connection becoming ready.
type ConnectEvent struct{ Base }

func NewConnectEvent(source string) *ConnectEvent {
	return &ConnectEvent{Base: newBase(KindConnectEvent, source)}
}

// DisconnectEvent marks a broker connection dropping.
type DisconnectEvent struct{ Base }

func NewDisconnectEvent(source string) *DisconnectEvent {
	return &DisconnectEvent{Base: newBase(KindDisconnectEvent, source)}
}

// ErrorEvent carries a structured, machine-readable error for external
// monitors (guardrails, alerting) to consume.
type ErrorEvent struct {
	Base
	Code string
	Msg  string
}

func NewErrorEvent(source, code, msg string) *ErrorEvent {
	return &ErrorEvent{Base: newBase(KindErrorEvent, source), Code: code, Msg: msg}
}
