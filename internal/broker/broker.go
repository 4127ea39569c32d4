// Package broker provides broker connectivity for paper and live trading.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/execution"
	"github.com/tathienbao/letf-intraday/internal/types"
)

// ErrNotConnected is returned by order calls before Connect.
var ErrNotConnected = errors.New("broker not connected")

// ConnectionState represents the broker connection state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Broker is an order router with an account behind it. Fills are delivered
// asynchronously to the handler the broker was built with.
type Broker interface {
	execution.Executor

	// Connection management
	Connect(ctx context.Context) error
	Disconnect() error
	State() ConnectionState
	IsConnected() bool

	// Account information
	GetAccountSummary(ctx context.Context) (*AccountSummary, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetOpenOrders(ctx context.Context) ([]Order, error)

	// UpdateMarket feeds the latest traded price used for fills and marks.
	UpdateMarket(event types.MarketEvent)
}

// AccountSummary contains account information.
type AccountSummary struct {
	AccountID      string
	Currency       string
	NetLiquidation decimal.Decimal
	TotalCashValue decimal.Decimal
	GrossPosition  decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	RealizedPnL    decimal.Decimal
	Commissions    decimal.Decimal
	LastUpdated    time.Time
}

// Position represents a broker position in shares.
type Position struct {
	Symbol        string
	Shares        int64 // signed
	AvgCost       decimal.Decimal
	MarketPrice   decimal.Decimal
	MarketValue   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	LastUpdated   time.Time
}

// Side returns the position direction.
func (p Position) Side() types.Side {
	return types.SideOf(p.Shares)
}

// Order represents a broker order.
type Order struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Quantity      int64 // signed
	Kind          types.OrderKind
	Status        types.OrderStatus
	FilledQty     int64
	AvgFillPrice  decimal.Decimal
	Commission    decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsOpen reports whether the order can still fill or be cancelled.
func (o Order) IsOpen() bool {
	return !o.Status.IsFinal()
}
