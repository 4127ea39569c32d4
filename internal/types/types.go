// Package types defines shared types used across the trading system.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order or position.
type Side int

const (
	SideFlat Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "LONG"
	case SideShort:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideFlat
	}
}

// SideOf returns the side implied by a signed quantity.
func SideOf(qty int64) Side {
	switch {
	case qty > 0:
		return SideLong
	case qty < 0:
		return SideShort
	default:
		return SideFlat
	}
}

// Action returns BUY or SELL for a signed quantity.
func Action(qty int64) string {
	if qty < 0 {
		return "SELL"
	}
	return "BUY"
}

// OrderStatus represents the state of an order.
type OrderStatus int

const (
	OrderStatusCreated OrderStatus = iota
	OrderStatusPending
	OrderStatusPartialFill
	OrderStatusFilled
	OrderStatusRejected
	OrderStatusCancelled
	OrderStatusExpired
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusCreated:
		return "CREATED"
	case OrderStatusPending:
		return "PENDING"
	case OrderStatusPartialFill:
		return "PARTIAL_FILL"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusRejected:
		return "REJECTED"
	case OrderStatusCancelled:
		return "CANCELLED"
	case OrderStatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// IsFinal returns true if the order is in a terminal state.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// IsFailure returns true for terminal states that did not complete the order.
func (s OrderStatus) IsFailure() bool {
	switch s {
	case OrderStatusRejected, OrderStatusCancelled, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// OrderKind tells the reconciler what an order was submitted for.
type OrderKind int

const (
	OrderKindOpen OrderKind = iota
	OrderKindClose
	OrderKindLiquidation
)

func (k OrderKind) String() string {
	switch k {
	case OrderKindOpen:
		return "open"
	case OrderKindClose:
		return "close"
	case OrderKindLiquidation:
		return "liquidation"
	default:
		return "unknown"
	}
}

// MarketEvent is a price observation. For bar data Close is the observed
// price and Open is the first trade of the bar.
type MarketEvent struct {
	Symbol    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
}

// Price returns the observed trade price of the event.
func (e MarketEvent) Price() decimal.Decimal {
	return e.Close
}

// InstrumentPair links a signal instrument to the traded instrument it drives.
type InstrumentPair struct {
	Signal string `yaml:"signal"`
	Traded string `yaml:"traded"`
}

func (p InstrumentPair) String() string {
	return fmt.Sprintf("%s<-%s", p.Traded, p.Signal)
}

// DefaultPairs returns the leveraged ETFs and the underliers that drive them.
func DefaultPairs() []InstrumentPair {
	return []InstrumentPair{
		{Signal: "SPY", Traded: "SPXL"},
		{Signal: "NVDA", Traded: "NVDL"},
		{Signal: "TLT", Traded: "TMF"},
	}
}

// OrderRequest is a market order emitted by the engine.
type OrderRequest struct {
	ClientOrderID string
	Timestamp     time.Time
	Symbol        string
	Quantity      int64 // signed: positive buys, negative sells
	Kind          OrderKind
	Reason        string
	RefPrice      decimal.Decimal // signal price that triggered the order
}

// Side returns the order direction.
func (o OrderRequest) Side() Side {
	return SideOf(o.Quantity)
}

// FillEvent is an asynchronous acknowledgement from the order system.
// FilledQty and AvgFillPrice are cumulative for the order.
type FillEvent struct {
	OrderID      string
	Symbol       string
	Status       OrderStatus
	FilledQty    int64 // signed like the order
	AvgFillPrice decimal.Decimal
	Commission   decimal.Decimal
	FilledAt     time.Time
	RejectReason string
}

// Position is an open position leg on a traded instrument.
type Position struct {
	ID         string
	Symbol     string
	Quantity   int64 // signed
	EntryPrice decimal.Decimal
	OpenedAt   time.Time
	OrderID    string
}

// Side returns the position direction.
func (p Position) Side() Side {
	return SideOf(p.Quantity)
}

// Exit reasons recorded on trades.
const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
	ExitEndOfDay   = "end_of_day"
	ExitShutdown   = "shutdown"
)

// Trade is a completed round trip (for the audit trail).
// Commission covers both the entry and the exit fills.
type Trade struct {
	ID         string
	PositionID string
	Symbol     string
	Quantity   int64
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	EntryTime  time.Time
	ExitTime   time.Time
	GrossPL    decimal.Decimal
	Commission decimal.Decimal
	NetPL      decimal.Decimal
	ExitReason string
}

// NewTrade computes P&L for a closed position.
func NewTrade(id string, pos Position, exitPrice decimal.Decimal, exitTime time.Time, commission decimal.Decimal, reason string) Trade {
	gross := exitPrice.Sub(pos.EntryPrice).Mul(decimal.NewFromInt(pos.Quantity))
	return Trade{
		ID:         id,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Quantity:   pos.Quantity,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		EntryTime:  pos.OpenedAt,
		ExitTime:   exitTime,
		GrossPL:    gross,
		Commission: commission,
		NetPL:      gross.Sub(commission),
		ExitReason: reason,
	}
}

// TimerKind identifies a scheduled session event.
type TimerKind int

const (
	TimerSessionOpen TimerKind = iota
	TimerReferenceCapture
	TimerEndOfDay
)

func (k TimerKind) String() string {
	switch k {
	case TimerSessionOpen:
		return "session_open"
	case TimerReferenceCapture:
		return "reference_capture"
	case TimerEndOfDay:
		return "end_of_day"
	default:
		return "unknown"
	}
}

// EventKind discriminates Event.
type EventKind int

const (
	EventTick EventKind = iota
	EventTimer
)

// Event is the single input type of the engine: either a price tick or a
// scheduled timer.
type Event struct {
	Kind  EventKind
	Time  time.Time
	Tick  MarketEvent
	Timer TimerKind
}

// TickEvent wraps a market event.
func TickEvent(ev MarketEvent) Event {
	return Event{Kind: EventTick, Time: ev.Timestamp, Tick: ev}
}

// TimerEvent builds a timer event.
func TimerEvent(kind TimerKind, at time.Time) Event {
	return Event{Kind: EventTimer, Time: at, Timer: kind}
}
