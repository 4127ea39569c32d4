// Package paper provides a simulated broker for paper trading.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/tathienbao/letf-intraday/internal/broker"
	"github.com/tathienbao/letf-intraday/internal/execution"
	"github.com/tathienbao/letf-intraday/internal/types"
)

// Config holds paper trading configuration.
type Config struct {
	InitialCash        decimal.Decimal
	SlippageBps        decimal.Decimal
	CommissionPerShare decimal.Decimal
	MinCommission      decimal.Decimal
	FillDelay          time.Duration
	// OrdersPerSecond limits submissions; zero disables the limit.
	OrdersPerSecond float64
	Burst           int
}

// DefaultConfig returns default paper trading config.
func DefaultConfig() Config {
	return Config{
		InitialCash:        decimal.NewFromInt(100000),
		SlippageBps:        decimal.NewFromInt(2),
		CommissionPerShare: decimal.RequireFromString("0.005"),
		MinCommission:      decimal.NewFromInt(1),
		FillDelay:          250 * time.Millisecond,
		OrdersPerSecond:    5,
		Burst:              10,
	}
}

// Broker implements broker.Broker against simulated fills. Orders are
// acknowledged immediately and filled on a goroutine after FillDelay at the
// latest price, so fills never arrive inside SubmitOrder.
type Broker struct {
	cfg     Config
	onFill  execution.FillHandler
	limiter *rate.Limiter
	logger  *slog.Logger

	state atomic.Int32

	// Account
	accountMu   sync.RWMutex
	cash        decimal.Decimal
	realized    decimal.Decimal
	commissions decimal.Decimal
	positions   map[string]*broker.Position

	// Orders
	ordersMu     sync.Mutex
	orders       map[string]*paperOrder
	usedOrderIDs map[string]bool
	nextOrderID  atomic.Int64

	pricesMu sync.RWMutex
	prices   map[string]decimal.Decimal

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

type paperOrder struct {
	broker.Order
	cancel chan struct{}
}

// NewBroker creates a new paper trading broker. onFill receives every fill,
// rejection and cancellation from a broker goroutine.
func NewBroker(cfg Config, onFill execution.FillHandler, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if onFill == nil {
		onFill = func(context.Context, types.FillEvent) {}
	}

	limit := rate.Inf
	if cfg.OrdersPerSecond > 0 {
		limit = rate.Limit(cfg.OrdersPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	ctx, stop := context.WithCancel(context.Background())
	b := &Broker{
		cfg:          cfg,
		onFill:       onFill,
		limiter:      rate.NewLimiter(limit, burst),
		logger:       logger.With("component", "paper_broker"),
		cash:         cfg.InitialCash,
		positions:    make(map[string]*broker.Position),
		orders:       make(map[string]*paperOrder),
		usedOrderIDs: make(map[string]bool),
		prices:       make(map[string]decimal.Decimal),
		ctx:          ctx,
		stop:         stop,
	}
	b.state.Store(int32(broker.StateDisconnected))
	return b
}

// Connect simulates connecting to broker.
func (b *Broker) Connect(ctx context.Context) error {
	b.state.Store(int32(broker.StateConnected))
	b.logger.Info("paper broker connected", "cash", b.cfg.InitialCash)
	return nil
}

// Disconnect stops fill delivery. Orders still in flight are dropped.
func (b *Broker) Disconnect() error {
	b.state.Store(int32(broker.StateDisconnected))
	b.stop()
	b.wg.Wait()
	b.logger.Info("paper broker disconnected")
	return nil
}

// Wait blocks until every in-flight order has been delivered or ctx is done.
func (b *Broker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns connection state.
func (b *Broker) State() broker.ConnectionState {
	return broker.ConnectionState(b.state.Load())
}

// IsConnected returns true if connected.
func (b *Broker) IsConnected() bool {
	return b.State() == broker.StateConnected
}

// UpdateMarket records the latest price of a symbol.
func (b *Broker) UpdateMarket(event types.MarketEvent) {
	if !event.Close.IsPositive() {
		return
	}
	b.pricesMu.Lock()
	b.prices[event.Symbol] = event.Close
	b.pricesMu.Unlock()
}

func (b *Broker) price(symbol string) (decimal.Decimal, bool) {
	b.pricesMu.RLock()
	defer b.pricesMu.RUnlock()
	p, ok := b.prices[symbol]
	return p, ok
}

// SubmitOrder accepts a market order. Submissions above the configured rate
// are refused immediately; the error matches both types.ErrOrderRejected and
// types.ErrRateLimitExceeded.
func (b *Broker) SubmitOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	if !b.IsConnected() {
		return "", broker.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Quantity == 0 {
		return "", types.ErrInvalidOrderSize
	}
	if _, ok := b.price(req.Symbol); !ok {
		return "", fmt.Errorf("no market data for %s: %w", req.Symbol, types.ErrDataUnavailable)
	}
	if !b.limiter.Allow() {
		return "", fmt.Errorf("submit %s: %w: %w", req.Symbol, types.ErrOrderRejected, types.ErrRateLimitExceeded)
	}

	now := time.Now()
	b.ordersMu.Lock()
	if req.ClientOrderID != "" {
		if b.usedOrderIDs[req.ClientOrderID] {
			b.ordersMu.Unlock()
			return "", types.ErrDuplicateOrder
		}
		b.usedOrderIDs[req.ClientOrderID] = true
	}
	o := &paperOrder{
		Order: broker.Order{
			OrderID:       fmt.Sprintf("PAPER-%d", b.nextOrderID.Add(1)),
			ClientOrderID: req.ClientOrderID,
			Symbol:        req.Symbol,
			Quantity:      req.Quantity,
			Kind:          req.Kind,
			Status:        types.OrderStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		cancel: make(chan struct{}),
	}
	b.orders[o.OrderID] = o
	b.ordersMu.Unlock()

	b.logger.Info("paper order placed",
		"order_id", o.OrderID,
		"symbol", req.Symbol,
		"action", types.Action(req.Quantity),
		"qty", req.Quantity,
		"kind", req.Kind,
	)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.simulateFill(o)
	}()

	return o.OrderID, nil
}

// simulateFill waits out the fill delay and delivers the outcome.
func (b *Broker) simulateFill(o *paperOrder) {
	timer := time.NewTimer(b.cfg.FillDelay)
	defer timer.Stop()

	select {
	case <-b.ctx.Done():
		return
	case <-o.cancel:
		b.deliver(b.cancelled(o))
		return
	case <-timer.C:
	}

	b.ordersMu.Lock()
	if o.Status != types.OrderStatusPending {
		b.ordersMu.Unlock()
		b.deliver(b.cancelled(o))
		return
	}
	fill := b.execute(o)
	o.Status = fill.Status
	o.FilledQty = fill.FilledQty
	o.AvgFillPrice = fill.AvgFillPrice
	o.Commission = fill.Commission
	o.UpdatedAt = time.Now()
	b.ordersMu.Unlock()

	b.deliver(fill)
}

func (b *Broker) cancelled(o *paperOrder) types.FillEvent {
	return types.FillEvent{
		OrderID:      o.OrderID,
		Symbol:       o.Symbol,
		Status:       types.OrderStatusCancelled,
		FilledAt:     time.Now(),
		RejectReason: "cancelled",
	}
}

func (b *Broker) deliver(fill types.FillEvent) {
	if b.ctx.Err() != nil {
		return
	}
	b.onFill(b.ctx, fill)
}

// execute fills o at the latest price. Must be called with ordersMu held.
func (b *Broker) execute(o *paperOrder) types.FillEvent {
	fill := types.FillEvent{
		OrderID:  o.OrderID,
		Symbol:   o.Symbol,
		FilledAt: time.Now(),
	}

	mark, _ := b.price(o.Symbol)
	qty := o.Quantity
	slip := mark.Mul(b.cfg.SlippageBps).Div(decimal.NewFromInt(10000))
	price := mark.Add(slip)
	if qty < 0 {
		price = mark.Sub(slip)
	}
	price = price.Round(4)

	commission := b.cfg.CommissionPerShare.Mul(decimal.NewFromInt(qty).Abs())
	if commission.LessThan(b.cfg.MinCommission) {
		commission = b.cfg.MinCommission
	}

	b.accountMu.Lock()
	defer b.accountMu.Unlock()

	notional := price.Mul(decimal.NewFromInt(qty))
	if qty > 0 && notional.Add(commission).GreaterThan(b.cash) {
		fill.Status = types.OrderStatusRejected
		fill.RejectReason = "insufficient buying power"
		b.logger.Warn("paper order rejected",
			"order_id", o.OrderID,
			"symbol", o.Symbol,
			"reason", fill.RejectReason,
		)
		return fill
	}

	b.cash = b.cash.Sub(notional).Sub(commission)
	b.commissions = b.commissions.Add(commission)
	b.applyFill(o.Symbol, qty, price)

	fill.Status = types.OrderStatusFilled
	fill.FilledQty = qty
	fill.AvgFillPrice = price
	fill.Commission = commission

	b.logger.Info("paper order filled",
		"order_id", o.OrderID,
		"symbol", o.Symbol,
		"qty", qty,
		"price", price,
		"commission", commission,
	)
	return fill
}

// applyFill updates the position book. Must be called with accountMu held.
func (b *Broker) applyFill(symbol string, qty int64, price decimal.Decimal) {
	pos, ok := b.positions[symbol]
	if !ok {
		b.positions[symbol] = &broker.Position{
			Symbol:      symbol,
			Shares:      qty,
			AvgCost:     price,
			MarketPrice: price,
			LastUpdated: time.Now(),
		}
		return
	}

	switch {
	case (pos.Shares > 0) == (qty > 0):
		// Adding to the position.
		held := decimal.NewFromInt(pos.Shares).Abs()
		added := decimal.NewFromInt(qty).Abs()
		pos.AvgCost = pos.AvgCost.Mul(held).Add(price.Mul(added)).Div(held.Add(added))
		pos.Shares += qty
	default:
		closed := min(abs(qty), abs(pos.Shares))
		pnl := price.Sub(pos.AvgCost).Mul(decimal.NewFromInt(closed))
		if pos.Shares < 0 {
			pnl = pnl.Neg()
		}
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		b.realized = b.realized.Add(pnl)

		remaining := pos.Shares + qty
		if remaining == 0 {
			delete(b.positions, symbol)
			return
		}
		if (remaining > 0) != (pos.Shares > 0) {
			pos.AvgCost = price
		}
		pos.Shares = remaining
	}
	pos.MarketPrice = price
	pos.LastUpdated = time.Now()
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// CancelOrder cancels an order that has not filled yet. Cancelling a
// finished order is a no-op; its outcome has already been delivered.
func (b *Broker) CancelOrder(_ context.Context, orderID string) error {
	b.ordersMu.Lock()
	defer b.ordersMu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, types.ErrUnknownOrder)
	}
	if o.Status == types.OrderStatusPending {
		o.Status = types.OrderStatusCancelled
		o.UpdatedAt = time.Now()
		close(o.cancel)
	}
	return nil
}

// GetOpenOrders returns orders still waiting for a fill.
func (b *Broker) GetOpenOrders(_ context.Context) ([]broker.Order, error) {
	b.ordersMu.Lock()
	defer b.ordersMu.Unlock()

	var orders []broker.Order
	for _, o := range b.orders {
		if o.IsOpen() {
			orders = append(orders, o.Order)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}

// GetPositions returns all positions marked at the latest prices.
func (b *Broker) GetPositions(_ context.Context) ([]broker.Position, error) {
	b.accountMu.RLock()
	defer b.accountMu.RUnlock()

	positions := make([]broker.Position, 0, len(b.positions))
	for _, p := range b.positions {
		positions = append(positions, b.marked(p))
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

func (b *Broker) marked(p *broker.Position) broker.Position {
	out := *p
	if px, ok := b.price(p.Symbol); ok {
		out.MarketPrice = px
	}
	shares := decimal.NewFromInt(p.Shares)
	out.MarketValue = out.MarketPrice.Mul(shares)
	out.UnrealizedPnL = out.MarketPrice.Sub(p.AvgCost).Mul(shares)
	return out
}

// GetAccountSummary returns simulated account summary.
func (b *Broker) GetAccountSummary(_ context.Context) (*broker.AccountSummary, error) {
	b.accountMu.RLock()
	defer b.accountMu.RUnlock()

	gross, unrealized := decimal.Zero, decimal.Zero
	for _, p := range b.positions {
		m := b.marked(p)
		gross = gross.Add(m.MarketValue.Abs())
		unrealized = unrealized.Add(m.UnrealizedPnL)
	}
	return &broker.AccountSummary{
		AccountID:      "PAPER",
		Currency:       "USD",
		NetLiquidation: b.equityLocked(),
		TotalCashValue: b.cash,
		GrossPosition:  gross,
		UnrealizedPnL:  unrealized,
		RealizedPnL:    b.realized,
		Commissions:    b.commissions,
		LastUpdated:    time.Now(),
	}, nil
}

// SeedPosition books shares bought at avgCost out of cash without an order.
// Used on warm start to carry journaled legs into a fresh broker.
func (b *Broker) SeedPosition(symbol string, shares int64, avgCost decimal.Decimal) {
	if shares == 0 || !avgCost.IsPositive() {
		return
	}
	b.accountMu.Lock()
	defer b.accountMu.Unlock()

	b.cash = b.cash.Sub(avgCost.Mul(decimal.NewFromInt(shares)))
	b.applyFill(symbol, shares, avgCost)
	b.logger.Info("paper position seeded", "symbol", symbol, "shares", shares, "avg_cost", avgCost)
}

// Holdings returns net shares per symbol.
func (b *Broker) Holdings() map[string]int64 {
	b.accountMu.RLock()
	defer b.accountMu.RUnlock()

	out := make(map[string]int64, len(b.positions))
	for sym, p := range b.positions {
		out[sym] = p.Shares
	}
	return out
}

// Equity returns cash plus positions marked at the latest prices.
func (b *Broker) Equity() decimal.Decimal {
	b.accountMu.RLock()
	defer b.accountMu.RUnlock()
	return b.equityLocked()
}

func (b *Broker) equityLocked() decimal.Decimal {
	equity := b.cash
	for _, p := range b.positions {
		equity = equity.Add(b.marked(p).MarketValue)
	}
	return equity
}

var _ broker.Broker = (*Broker)(nil)
