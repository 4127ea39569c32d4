// Package persistence journals engine state for audit and warm restarts.
package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/types"
)

// ErrNotFound is returned when an update targets a row that does not exist.
var ErrNotFound = errors.New("record not found")

// Repository defines the interface for state persistence.
type Repository interface {
	// Equity operations
	SaveEquitySnapshot(ctx context.Context, snapshot EquitySnapshot) error
	GetLatestEquitySnapshot(ctx context.Context) (*EquitySnapshot, error)
	GetEquityHistory(ctx context.Context, from, to time.Time) ([]EquitySnapshot, error)

	// Leg operations
	SaveLeg(ctx context.Context, leg LegRecord) error
	DeleteLeg(ctx context.Context, legID string) error
	GetLegs(ctx context.Context) ([]LegRecord, error)

	// Trade operations
	SaveTrade(ctx context.Context, trade types.Trade) error
	GetTrades(ctx context.Context, from, to time.Time) ([]types.Trade, error)
	GetTradesBySymbol(ctx context.Context, symbol string, limit int) ([]types.Trade, error)

	// Order operations
	SaveOrder(ctx context.Context, order OrderRecord) error
	GetPendingOrders(ctx context.Context) ([]OrderRecord, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status types.OrderStatus, filledQty int64, fillPrice decimal.Decimal) error

	// Session operations
	SaveReference(ctx context.Context, ref ReferenceRecord) error
	GetReferences(ctx context.Context) ([]ReferenceRecord, error)
	DeleteReferences(ctx context.Context) error
	SaveThrottle(ctx context.Context, symbol, day string) error
	GetThrottles(ctx context.Context) (map[string]string, error)

	// State operations
	SaveState(ctx context.Context, state BotState) error
	GetState(ctx context.Context) (*BotState, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// EquitySnapshot represents persisted equity state.
type EquitySnapshot struct {
	ID            int64
	Timestamp     time.Time
	Equity        decimal.Decimal
	HighWaterMark decimal.Decimal
	Drawdown      decimal.Decimal
	OpenPositions int
	DailyPL       decimal.Decimal
}

// LegRecord is a position leg in any live state.
// Quantity is the requested size while pending-open and the filled size after.
type LegRecord struct {
	ID              string
	Symbol          string
	State           string
	Quantity        int64
	EntryPrice      decimal.Decimal
	EntryCommission decimal.Decimal
	OpenedAt        time.Time
	OpenOrderID     string
	CloseOrderID    string
	ExitReason      string
	UpdatedAt       time.Time
}

// OrderRecord represents a persisted engine order.
type OrderRecord struct {
	ID            int64
	OrderID       string // router-assigned ID fills refer to
	ClientOrderID string
	Symbol        string
	Kind          types.OrderKind
	LegIDs        []string
	Quantity      int64
	RefPrice      decimal.Decimal
	Reason        string
	Day           string // session day at submission
	PrevThrottle  string // throttle value before an open order armed it
	Status        types.OrderStatus
	FilledQty     int64
	FilledPrice   decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ReferenceRecord is a captured session reference price.
type ReferenceRecord struct {
	Signal     string
	Price      decimal.Decimal
	Day        string
	CapturedAt time.Time
	Degraded   bool
}

// BotState represents the process-wide state for recovery.
type BotState struct {
	ID               int64
	LastUpdated      time.Time
	Day              string
	Phase            string
	Equity           decimal.Decimal
	HighWaterMark    decimal.Decimal
	KillSwitchActive bool
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	TotalPL          decimal.Decimal
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func utcOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
