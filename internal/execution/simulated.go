package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/types"
)

// SimulatedConfig holds configuration for the simulated executor.
type SimulatedConfig struct {
	InitialCash        decimal.Decimal
	SlippageBps        decimal.Decimal // adverse slippage in basis points of price
	CommissionPerShare decimal.Decimal
	MinCommission      decimal.Decimal // per order
}

// DefaultSimulatedConfig returns sensible defaults.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		InitialCash:        decimal.NewFromInt(100000),
		SlippageBps:        decimal.NewFromInt(2),
		CommissionPerShare: decimal.RequireFromString("0.005"),
		MinCommission:      decimal.NewFromInt(1),
	}
}

type simOrder struct {
	id    string
	req   types.OrderRequest
	price decimal.Decimal // market price at submission
	at    time.Time
}

// SimulatedExecutor fills market orders for backtests. Submissions are
// queued and filled by Drain at the price seen when they were submitted,
// with slippage against the order and per-share commission. Buys that the
// cash balance cannot cover are rejected.
type SimulatedExecutor struct {
	cfg SimulatedConfig

	mu           sync.Mutex
	cash         decimal.Decimal
	holdings     map[string]int64
	queue        []*simOrder
	cancelled    []types.FillEvent
	usedOrderIDs map[string]bool
	fills        []types.FillEvent

	currentTime  time.Time
	currentPrice map[string]decimal.Decimal
}

// NewSimulatedExecutor creates a new simulated executor.
func NewSimulatedExecutor(cfg SimulatedConfig) *SimulatedExecutor {
	return &SimulatedExecutor{
		cfg:          cfg,
		cash:         cfg.InitialCash,
		holdings:     make(map[string]int64),
		usedOrderIDs: make(map[string]bool),
		currentPrice: make(map[string]decimal.Decimal),
	}
}

// UpdateMarket records the latest price of a symbol.
// Called by the backtest runner for each bar before the engine sees it.
func (s *SimulatedExecutor) UpdateMarket(event types.MarketEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Timestamp.After(s.currentTime) {
		s.currentTime = event.Timestamp
	}
	if event.Close.IsPositive() {
		s.currentPrice[event.Symbol] = event.Close
	}
}

// LastPrice returns the latest recorded price.
func (s *SimulatedExecutor) LastPrice(symbol string) (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.currentPrice[symbol]
	return p, ok
}

// SubmitOrder queues a market order.
func (s *SimulatedExecutor) SubmitOrder(_ context.Context, req types.OrderRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ClientOrderID != "" {
		if s.usedOrderIDs[req.ClientOrderID] {
			return "", types.ErrDuplicateOrder
		}
		s.usedOrderIDs[req.ClientOrderID] = true
	}
	if req.Quantity == 0 {
		return "", types.ErrInvalidOrderSize
	}

	price, ok := s.currentPrice[req.Symbol]
	if !ok {
		return "", fmt.Errorf("no market data for %s: %w", req.Symbol, types.ErrDataUnavailable)
	}

	o := &simOrder{
		id:    uuid.New().String(),
		req:   req,
		price: price,
		at:    s.currentTime,
	}
	s.queue = append(s.queue, o)
	return o.id, nil
}

// CancelOrder cancels a queued order. The cancellation is delivered by the
// next Drain.
func (s *SimulatedExecutor) CancelOrder(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, o := range s.queue {
		if o.id != orderID {
			continue
		}
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		s.cancelled = append(s.cancelled, types.FillEvent{
			OrderID:      o.id,
			Symbol:       o.req.Symbol,
			Status:       types.OrderStatusCancelled,
			FilledAt:     s.currentTime,
			RejectReason: "cancelled",
		})
		return nil
	}
	return fmt.Errorf("order %s: %w", orderID, types.ErrUnknownOrder)
}

// Drain executes every queued order and returns the resulting fill events
// in submission order, cancellations first.
func (s *SimulatedExecutor) Drain() []types.FillEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.cancelled
	s.cancelled = nil
	for _, o := range s.queue {
		out = append(out, s.execute(o))
	}
	s.queue = nil
	s.fills = append(s.fills, out...)
	return out
}

// execute fills one order. Must be called with lock held.
func (s *SimulatedExecutor) execute(o *simOrder) types.FillEvent {
	qty := o.req.Quantity
	shares := decimal.NewFromInt(qty).Abs()

	// Slippage moves the price against the order.
	slip := o.price.Mul(s.cfg.SlippageBps).Div(decimal.NewFromInt(10000))
	fillPrice := o.price.Add(slip)
	if qty < 0 {
		fillPrice = o.price.Sub(slip)
	}
	fillPrice = fillPrice.Round(4)

	commission := s.cfg.CommissionPerShare.Mul(shares)
	if commission.LessThan(s.cfg.MinCommission) {
		commission = s.cfg.MinCommission
	}

	fill := types.FillEvent{
		OrderID:  o.id,
		Symbol:   o.req.Symbol,
		FilledAt: o.at,
	}

	notional := fillPrice.Mul(decimal.NewFromInt(qty))
	if qty > 0 && notional.Add(commission).GreaterThan(s.cash) {
		fill.Status = types.OrderStatusRejected
		fill.RejectReason = "insufficient buying power"
		return fill
	}

	s.cash = s.cash.Sub(notional).Sub(commission)
	s.holdings[o.req.Symbol] += qty
	if s.holdings[o.req.Symbol] == 0 {
		delete(s.holdings, o.req.Symbol)
	}

	fill.Status = types.OrderStatusFilled
	fill.FilledQty = qty
	fill.AvgFillPrice = fillPrice
	fill.Commission = commission
	return fill
}

// Holdings returns net shares per symbol.
func (s *SimulatedExecutor) Holdings() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64, len(s.holdings))
	for k, v := range s.holdings {
		out[k] = v
	}
	return out
}

// Cash returns the cash balance.
func (s *SimulatedExecutor) Cash() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cash
}

// Equity returns cash plus holdings marked at the latest prices.
func (s *SimulatedExecutor) Equity() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	equity := s.cash
	for sym, qty := range s.holdings {
		equity = equity.Add(s.currentPrice[sym].Mul(decimal.NewFromInt(qty)))
	}
	return equity
}

// Fills returns every fill event delivered so far.
func (s *SimulatedExecutor) Fills() []types.FillEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.FillEvent, len(s.fills))
	copy(out, s.fills)
	return out
}

// Reset clears all state.
func (s *SimulatedExecutor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cash = s.cfg.InitialCash
	s.holdings = make(map[string]int64)
	s.queue = nil
	s.cancelled = nil
	s.usedOrderIDs = make(map[string]bool)
	s.fills = nil
	s.currentTime = time.Time{}
	s.currentPrice = make(map[string]decimal.Decimal)
}
