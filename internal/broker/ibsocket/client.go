// Package ibsocket implements broker.Client against Interactive Brokers'
// native TWS/Gateway socket API via github.com/gofinance/ib, mirroring the
// connection and market-data request patterns used elsewhere in this
// module for the same library (instrument and historical-data managers).
package ibsocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofinance/ib"

	"tradingcore/internal/broker"
	"tradingcore/internal/resilience"
)

// Config holds the connection parameters for a single TWS/Gateway socket.
type Config struct {
	Host     string // default "127.0.0.1"
	Port     int    // 7497 paper, 7496 live
	ClientID int
	Account  string
}

// Client is a broker.Client backed by a live Engine connection to
// TWS/Gateway. A single background goroutine drains the engine's reply
// stream and fans incoming messages out to the Statuses/Fills/
// Commissions/Errors channels. SubmitOrder and CancelOrder run through a
// circuit breaker; RequestHistoricalBars and SnapshotQuote also block on a
// round trip and are not wrapped by it.
type Client struct {
	cfg Config
	cb  *resilience.CircuitBreaker

	mu     sync.RWMutex
	engine *ib.Engine

	orderIDMu   sync.Mutex
	nextOrderID int64

	statuses    chan broker.StatusUpdate
	fills       chan broker.FillReport
	commissions chan broker.CommissionReport
	errs        chan error
	connected   chan bool
}

// NewClient connects to TWS/Gateway at cfg.Host:cfg.Port and starts the
// background reply reader. The returned Client is ready to submit orders
// and subscribe to market data immediately.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 7497
	}

	gateway := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	engine, err := ib.NewEngine(ib.EngineOptions{Gateway: gateway, Client: int64(cfg.ClientID)})
	if err != nil {
		return nil, fmt.Errorf("ibsocket: connect %s: %w", gateway, err)
	}

	c := &Client{
		cfg:         cfg,
		cb:          resilience.NewCircuitBreaker(resilience.DefaultConfig("ibsocket")),
		engine:      engine,
		nextOrderID: 1,
		statuses:    make(chan broker.StatusUpdate, 256),
		fills:       make(chan broker.FillReport, 256),
		commissions: make(chan broker.CommissionReport, 256),
		errs:        make(chan error, 64),
		connected:   make(chan bool, 4),
	}
	c.connected <- true
	go c.readReplies()
	return c, nil
}

// readReplies drains the engine's broadcast reply stream for the lifetime
// of the connection, translating order-lifecycle messages into this
// package's channels. It exits (and reports disconnect) when the engine
// closes the stream.
func (c *Client) readReplies() {
	for reply := range c.engine.All() {
		switch msg := reply.(type) {
		case *ib.OrderStatus:
			c.statuses <- broker.StatusUpdate{
				OrderID: msg.OrderID, Status: msg.Status,
				Filled: int(msg.Filled), Remaining: int(msg.Remaining),
				AvgFillPrice: msg.AvgFillPrice, At: time.Now().UTC(),
			}
		case *ib.ExecutionData:
			c.fills <- broker.FillReport{
				OrderID: msg.Exec.OrderID, Symbol: msg.Contract.Symbol,
				Side: execSide(msg.Exec.Side), Shares: int(msg.Exec.Shares),
				Price: msg.Exec.Price, CumulativeFilled: int(msg.Exec.CumQty),
				At: time.Now().UTC(),
			}
		case *ib.CommissionReport:
			c.commissions <- broker.CommissionReport{Commission: msg.Commission}
		case *ib.ErrorMessage:
			c.errs <- fmt.Errorf("ibsocket: tws error %d: %s", msg.Code, msg.Message)
		}
	}

	c.mu.Lock()
	c.engine = nil
	c.mu.Unlock()
	c.connected <- false
}

func execSide(side string) broker.OrderSide {
	if side == "SLD" || side == "SELL" {
		return broker.SideSell
	}
	return broker.SideBuy
}

func (c *Client) allocOrderID() int64 {
	c.orderIDMu.Lock()
	defer c.orderIDMu.Unlock()
	id := c.nextOrderID
	c.nextOrderID++
	return id
}

func contractFor(symbol string) ib.Contract {
	return ib.Contract{Symbol: symbol, SecurityType: "STK", Exchange: "SMART", Currency: "USD"}
}

// SubmitOrder places spec and returns the broker-assigned order ID.
func (c *Client) SubmitOrder(ctx context.Context, spec broker.OrderSpec) (int64, error) {
	c.mu.RLock()
	engine := c.engine
	c.mu.RUnlock()
	if engine == nil {
		return 0, fmt.Errorf("ibsocket: not connected")
	}

	orderID := spec.OrderID
	if orderID <= 0 {
		orderID = c.allocOrderID()
	}

	order := ib.Order{
		OrderID:   orderID,
		Action:    string(spec.Side),
		TotalQty:  int64(spec.Qty),
		OrderType: toIBOrderType(spec.Type),
		LmtPrice:  spec.LimitPrice,
		AuxPrice:  spec.StopPrice,
		Tif:       string(spec.TIF),
		Account:   c.cfg.Account,
	}

	_, err := c.cb.Execute(func() (any, error) {
		return nil, engine.Send(&ib.PlaceOrder{
			OrderID:  orderID,
			Contract: contractFor(spec.Contract.Symbol),
			Order:    order,
		})
	})
	if err != nil {
		return 0, fmt.Errorf("ibsocket: submit order: %w", err)
	}
	return orderID, nil
}

// CancelOrder requests cancellation of orderID.
func (c *Client) CancelOrder(ctx context.Context, orderID int64) error {
	c.mu.RLock()
	engine := c.engine
	c.mu.RUnlock()
	if engine == nil {
		return fmt.Errorf("ibsocket: not connected")
	}

	_, err := c.cb.Execute(func() (any, error) {
		return nil, engine.Send(&ib.CancelOrder{OrderID: orderID})
	})
	return err
}

// SubscribeMarketData opens a streaming tick subscription for c. The
// returned reqID is unused by this implementation beyond reporting it to
// the caller; the engine's InstrumentManager keeps the subscription alive
// for the engine's lifetime.
func (c *Client) SubscribeMarketData(ctx context.Context, contract broker.Contract) (int64, error) {
	c.mu.RLock()
	engine := c.engine
	c.mu.RUnlock()
	if engine == nil {
		return 0, fmt.Errorf("ibsocket: not connected")
	}

	mgr, err := ib.NewInstrumentManager(engine, contractFor(contract.Symbol))
	if err != nil {
		return 0, fmt.Errorf("ibsocket: subscribe %s: %w", contract.Symbol, err)
	}
	_ = mgr // not retained: Unsubscribe tracks no handles, so this manager is never closed.
	return c.allocOrderID(), nil
}

// Unsubscribe is a no-op placeholder; this package does not currently
// track InstrumentManager handles by reqID (see SubscribeMarketData).
func (c *Client) Unsubscribe(ctx context.Context, reqID int64) error {
	return nil
}

// RequestHistoricalBars fetches duration worth of OHLCV bars at barSize
// resolution, matching the polling pattern used by the rest of this
// module's Interactive Brokers integration.
func (c *Client) RequestHistoricalBars(ctx context.Context, contract broker.Contract, duration, barSize time.Duration) ([]broker.Bar, error) {
	c.mu.RLock()
	engine := c.engine
	c.mu.RUnlock()
	if engine == nil {
		return nil, fmt.Errorf("ibsocket: not connected")
	}

	req := ib.RequestHistoricalData{
		Contract:    contractFor(contract.Symbol),
		Duration:    ibDuration(duration),
		BarSize:     ibBarSize(barSize),
		WhatToShow:  ib.HistTrades,
		UseRTH:      true,
		EndDateTime: time.Now(),
	}

	mgr, err := ib.NewHistoricalDataManager(engine, req)
	if err != nil {
		return nil, fmt.Errorf("ibsocket: historical bars %s: %w", contract.Symbol, err)
	}
	defer mgr.Close()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if err := mgr.FatalError(); err != nil {
				return nil, fmt.Errorf("ibsocket: historical bars %s: %w", contract.Symbol, err)
			}
			items := mgr.Items()
			if len(items) > 0 {
				return convertBars(items), nil
			}
		}
	}
}

// SnapshotQuote waits up to timeout for a usable last/bid/ask price.
func (c *Client) SnapshotQuote(ctx context.Context, contract broker.Contract, timeout time.Duration) (broker.Quote, error) {
	c.mu.RLock()
	engine := c.engine
	c.mu.RUnlock()
	if engine == nil {
		return broker.Quote{}, fmt.Errorf("ibsocket: not connected")
	}

	mgr, err := ib.NewInstrumentManager(engine, contractFor(contract.Symbol))
	if err != nil {
		return broker.Quote{}, fmt.Errorf("ibsocket: snapshot %s: %w", contract.Symbol, err)
	}
	defer mgr.Close()

	deadline := time.After(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return broker.Quote{}, ctx.Err()
		case <-deadline:
			return quoteFrom(contract.Symbol, mgr)
		case <-ticker.C:
			if q, err := quoteFrom(contract.Symbol, mgr); err == nil {
				return q, nil
			}
		}
	}
}

func quoteFrom(symbol string, mgr *ib.InstrumentManager) (broker.Quote, error) {
	last, bid, ask := mgr.Last(), mgr.Bid(), mgr.Ask()
	if last == 0 && bid == 0 && ask == 0 {
		return broker.Quote{}, fmt.Errorf("ibsocket: no market data for %s", symbol)
	}
	return broker.Quote{Symbol: symbol, Last: last, Bid: bid, Ask: ask, At: time.Now().UTC()}, nil
}

func convertBars(items []ib.HistoricalDataItem) []broker.Bar {
	out := make([]broker.Bar, 0, len(items))
	for _, item := range items {
		out = append(out, broker.Bar{
			Start: item.Date, Open: item.Open, High: item.High,
			Low: item.Low, Close: item.Close, Volume: item.Volume,
		})
	}
	return out
}

func ibDuration(d time.Duration) string {
	days := int(d.Hours()/24) + 1
	return fmt.Sprintf("%d D", days)
}

func ibBarSize(d time.Duration) ib.HistDataBarSize {
	switch {
	case d <= 15*time.Second:
		return ib.HistBarSize15Sec
	case d <= time.Minute:
		return ib.HistBarSize1Min
	case d <= 5*time.Minute:
		return ib.HistBarSize5Min
	case d <= 15*time.Minute:
		return ib.HistBarSize15Min
	case d <= time.Hour:
		return ib.HistBarSize1Hour
	default:
		return ib.HistBarSize1Day
	}
}

func toIBOrderType(t broker.OrderType) string {
	switch t {
	case broker.TypeLimit:
		return "LMT"
	case broker.TypeStop:
		return "STP"
	case broker.TypeStopLimit:
		return "STP LMT"
	case broker.TypeTrail:
		return "TRAIL"
	default:
		return "MKT"
	}
}

func (c *Client) Statuses() <-chan broker.StatusUpdate        { return c.statuses }
func (c *Client) Fills() <-chan broker.FillReport             { return c.fills }
func (c *Client) Commissions() <-chan broker.CommissionReport { return c.commissions }
func (c *Client) Errors() <-chan error                        { return c.errs }
func (c *Client) Connected() <-chan bool                      { return c.connected }

// Close disconnects from TWS/Gateway.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil {
		return nil
	}
	c.engine.Stop()
	c.engine = nil
	return nil
}
