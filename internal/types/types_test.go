package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// TestSide_String tests Side string conversion.
func TestSide_String(t *testing.T) {
	tests := []struct {
		side Side
		want string
	}{
		{SideLong, "LONG"},
		{SideShort, "SHORT"},
		{SideFlat, "FLAT"},
		{Side(99), "FLAT"}, // Unknown defaults to FLAT
	}

	for _, tt := range tests {
		got := tt.side.String()
		if got != tt.want {
			t.Errorf("Side(%d).String() = %s, want %s", tt.side, got, tt.want)
		}
	}
}

// TestSide_Opposite tests direction flip.
func TestSide_Opposite(t *testing.T) {
	tests := []struct {
		side Side
		want Side
	}{
		{SideLong, SideShort},
		{SideShort, SideLong},
		{SideFlat, SideFlat},
	}

	for _, tt := range tests {
		got := tt.side.Opposite()
		if got != tt.want {
			t.Errorf("Side(%d).Opposite() = %d, want %d", tt.side, got, tt.want)
		}
	}
}

func TestSideOf(t *testing.T) {
	tests := []struct {
		qty    int64
		side   Side
		action string
	}{
		{10, SideLong, "BUY"},
		{-10, SideShort, "SELL"},
		{0, SideFlat, "BUY"},
	}

	for _, tt := range tests {
		if got := SideOf(tt.qty); got != tt.side {
			t.Errorf("SideOf(%d) = %s, want %s", tt.qty, got, tt.side)
		}
		if got := Action(tt.qty); got != tt.action {
			t.Errorf("Action(%d) = %s, want %s", tt.qty, got, tt.action)
		}
	}
}

// TestOrderStatus_String tests status string conversion.
func TestOrderStatus_String(t *testing.T) {
	tests := []struct {
		status OrderStatus
		want   string
	}{
		{OrderStatusCreated, "CREATED"},
		{OrderStatusPending, "PENDING"},
		{OrderStatusPartialFill, "PARTIAL_FILL"},
		{OrderStatusFilled, "FILLED"},
		{OrderStatusRejected, "REJECTED"},
		{OrderStatusCancelled, "CANCELLED"},
		{OrderStatusExpired, "EXPIRED"},
		{OrderStatus(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		got := tt.status.String()
		if got != tt.want {
			t.Errorf("OrderStatus(%d).String() = %s, want %s", tt.status, got, tt.want)
		}
	}
}

// TestOrderStatus_IsFinal tests terminal state check.
func TestOrderStatus_IsFinal(t *testing.T) {
	tests := []struct {
		status  OrderStatus
		final   bool
		failure bool
	}{
		{OrderStatusCreated, false, false},
		{OrderStatusPending, false, false},
		{OrderStatusPartialFill, false, false},
		{OrderStatusFilled, true, false},
		{OrderStatusRejected, true, true},
		{OrderStatusCancelled, true, true},
		{OrderStatusExpired, true, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsFinal(); got != tt.final {
			t.Errorf("OrderStatus(%s).IsFinal() = %v, want %v", tt.status, got, tt.final)
		}
		if got := tt.status.IsFailure(); got != tt.failure {
			t.Errorf("OrderStatus(%s).IsFailure() = %v, want %v", tt.status, got, tt.failure)
		}
	}
}

func TestDefaultPairs(t *testing.T) {
	pairs := DefaultPairs()
	if len(pairs) != 3 {
		t.Fatalf("len(DefaultPairs()) = %d, want 3", len(pairs))
	}
	if pairs[0].String() != "SPXL<-SPY" {
		t.Errorf("pairs[0] = %s, want SPXL<-SPY", pairs[0])
	}
}

func TestNewTrade_PL(t *testing.T) {
	opened := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	pos := Position{
		ID:         "leg-1",
		Symbol:     "SPXL",
		Quantity:   100,
		EntryPrice: decimal.RequireFromString("100"),
		OpenedAt:   opened,
	}

	trade := NewTrade("t-1", pos, decimal.RequireFromString("101.5"), opened.Add(time.Hour), decimal.RequireFromString("1"), "take_profit")

	if !trade.GrossPL.Equal(decimal.RequireFromString("150")) {
		t.Errorf("GrossPL = %s, want 150", trade.GrossPL)
	}
	if !trade.NetPL.Equal(decimal.RequireFromString("149")) {
		t.Errorf("NetPL = %s, want 149", trade.NetPL)
	}
	if trade.PositionID != "leg-1" || trade.ExitReason != "take_profit" {
		t.Errorf("unexpected trade metadata: %+v", trade)
	}
}

// TestDecimal_RatioPrecision checks bracket arithmetic stays exact.
func TestDecimal_RatioPrecision(t *testing.T) {
	entry := decimal.RequireFromString("100")

	stop := entry.Mul(decimal.RequireFromString("0.993"))
	take := entry.Mul(decimal.RequireFromString("1.015"))

	if !stop.Equal(decimal.RequireFromString("99.3")) {
		t.Errorf("stop = %s, want 99.3", stop)
	}
	if !take.Equal(decimal.RequireFromString("101.5")) {
		t.Errorf("take = %s, want 101.5", take)
	}
}

func TestEventConstructors(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 31, 0, 0, time.UTC)

	tick := TickEvent(MarketEvent{Symbol: "SPY", Timestamp: now, Close: decimal.NewFromInt(500)})
	if tick.Kind != EventTick || !tick.Time.Equal(now) || !tick.Tick.Price().Equal(decimal.NewFromInt(500)) {
		t.Errorf("unexpected tick event: %+v", tick)
	}

	timer := TimerEvent(TimerReferenceCapture, now)
	if timer.Kind != EventTimer || timer.Timer != TimerReferenceCapture {
		t.Errorf("unexpected timer event: %+v", timer)
	}
	if timer.Timer.String() != "reference_capture" {
		t.Errorf("timer kind = %s", timer.Timer)
	}
}
