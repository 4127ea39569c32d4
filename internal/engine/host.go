package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/persistence"
	"github.com/tathienbao/letf-intraday/internal/session"
	"github.com/tathienbao/letf-intraday/internal/types"
)

// Market answers the questions the engine cannot derive from its own ticks.
type Market interface {
	// Tradable reports whether orders may currently be placed on symbol.
	Tradable(symbol string) bool
	// LastPrice returns the latest trade price known to the host.
	LastPrice(symbol string) (decimal.Decimal, bool)
	// OpeningPrice returns the opening trade price of the session day.
	OpeningPrice(symbol string, day session.Day) (decimal.Decimal, bool)
}

// OrderRouter accepts market orders.
//
// The engine holds its lock while submitting, so an implementation must never
// call Engine.OnFill from inside SubmitOrder or CancelOrder. Fills are either
// queued and delivered later by the caller, or delivered from another goroutine.
type OrderRouter interface {
	SubmitOrder(ctx context.Context, req types.OrderRequest) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Sizer converts a target allocation into a share count.
// A zero result means no order should be placed.
type Sizer interface {
	SizeForAllocation(ctx context.Context, symbol string, fraction, price decimal.Decimal) (int64, error)
}

// Journal records engine state changes. Write errors are logged and counted,
// never returned to the caller of the engine.
type Journal interface {
	SaveOrder(ctx context.Context, order persistence.OrderRecord) error
	UpdateOrderStatus(ctx context.Context, orderID string, status types.OrderStatus, filledQty int64, fillPrice decimal.Decimal) error
	SaveLeg(ctx context.Context, leg persistence.LegRecord) error
	DeleteLeg(ctx context.Context, legID string) error
	SaveTrade(ctx context.Context, trade types.Trade) error
	SaveReference(ctx context.Context, ref persistence.ReferenceRecord) error
	DeleteReferences(ctx context.Context) error
	SaveThrottle(ctx context.Context, symbol, day string) error
}

// StateSource provides journaled state for a warm start.
type StateSource interface {
	GetLegs(ctx context.Context) ([]persistence.LegRecord, error)
	GetPendingOrders(ctx context.Context) ([]persistence.OrderRecord, error)
	GetReferences(ctx context.Context) ([]persistence.ReferenceRecord, error)
	GetThrottles(ctx context.Context) (map[string]string, error)
}
