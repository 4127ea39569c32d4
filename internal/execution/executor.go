// Package execution provides order routing for backtests and paper trading.
package execution

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/types"
)

// Executor routes engine orders and keeps the account they trade against.
// Fills are never delivered from inside SubmitOrder or CancelOrder.
type Executor interface {
	// SubmitOrder accepts a market order and returns its order ID.
	SubmitOrder(ctx context.Context, req types.OrderRequest) (string, error)

	// CancelOrder cancels an order that has not filled yet.
	CancelOrder(ctx context.Context, orderID string) error

	// Holdings returns net shares per symbol.
	Holdings() map[string]int64

	// Equity returns cash plus holdings marked at the last known prices.
	Equity() decimal.Decimal
}

// FillHandler receives order acknowledgements.
type FillHandler func(ctx context.Context, fill types.FillEvent)
