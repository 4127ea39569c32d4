package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/types"
)

// Backend-independent checks, run against every Repository implementation.

var baseTime = time.Date(2024, 3, 4, 14, 35, 0, 0, time.UTC)

func testLegs(t *testing.T, repo Repository) {
	ctx := context.Background()

	pending := LegRecord{
		ID:          "leg-1",
		Symbol:      "SPXL",
		State:       "pending_open",
		Quantity:    10,
		OpenOrderID: "ord-1",
		UpdatedAt:   baseTime,
	}
	if err := repo.SaveLeg(ctx, pending); err != nil {
		t.Fatalf("save leg: %v", err)
	}

	open := pending
	open.State = "open"
	open.EntryPrice = decimal.RequireFromString("120.45")
	open.EntryCommission = decimal.NewFromInt(1)
	open.OpenedAt = baseTime
	if err := repo.SaveLeg(ctx, open); err != nil {
		t.Fatalf("update leg: %v", err)
	}

	legs, err := repo.GetLegs(ctx)
	if err != nil {
		t.Fatalf("get legs: %v", err)
	}
	if len(legs) != 1 {
		t.Fatalf("expected 1 leg, got %d", len(legs))
	}
	got := legs[0]
	if got.State != "open" || got.Quantity != 10 || got.OpenOrderID != "ord-1" {
		t.Errorf("leg = %+v", got)
	}
	if !got.EntryPrice.Equal(open.EntryPrice) || !got.EntryCommission.Equal(open.EntryCommission) {
		t.Errorf("prices = %s / %s", got.EntryPrice, got.EntryCommission)
	}
	if !got.OpenedAt.Equal(baseTime) {
		t.Errorf("opened at = %v, want %v", got.OpenedAt, baseTime)
	}

	if err := repo.DeleteLeg(ctx, "leg-1"); err != nil {
		t.Fatalf("delete leg: %v", err)
	}
	if err := repo.DeleteLeg(ctx, "leg-1"); err != nil {
		t.Errorf("deleting a missing leg should succeed: %v", err)
	}
	legs, _ = repo.GetLegs(ctx)
	if len(legs) != 0 {
		t.Errorf("expected no legs, got %d", len(legs))
	}
}

func testOrders(t *testing.T, repo Repository) {
	ctx := context.Background()

	open := OrderRecord{
		OrderID:       "ord-1",
		ClientOrderID: "cid-1",
		Symbol:        "SPXL",
		Kind:          types.OrderKindOpen,
		LegIDs:        []string{"leg-1"},
		Quantity:      10,
		RefPrice:      decimal.RequireFromString("99.4"),
		Reason:        "entry",
		Day:           "2024-03-04",
		PrevThrottle:  "2024-03-01",
		Status:        types.OrderStatusPending,
		CreatedAt:     baseTime,
		UpdatedAt:     baseTime,
	}
	liq := OrderRecord{
		OrderID:       "ord-2",
		ClientOrderID: "cid-2",
		Symbol:        "TMF",
		Kind:          types.OrderKindLiquidation,
		LegIDs:        []string{"leg-2", "leg-3"},
		Quantity:      -30,
		Reason:        types.ExitEndOfDay,
		Day:           "2024-03-04",
		Status:        types.OrderStatusPending,
		CreatedAt:     baseTime.Add(time.Minute),
		UpdatedAt:     baseTime.Add(time.Minute),
	}
	for _, o := range []OrderRecord{open, liq} {
		if err := repo.SaveOrder(ctx, o); err != nil {
			t.Fatalf("save order %s: %v", o.OrderID, err)
		}
	}

	orders, err := repo.GetPendingOrders(ctx)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 pending orders, got %d", len(orders))
	}
	got := orders[0]
	if got.OrderID != "ord-1" || got.Kind != types.OrderKindOpen || got.PrevThrottle != "2024-03-01" {
		t.Errorf("order = %+v", got)
	}
	if !got.RefPrice.Equal(open.RefPrice) {
		t.Errorf("ref price = %s", got.RefPrice)
	}
	if len(orders[1].LegIDs) != 2 || orders[1].LegIDs[1] != "leg-3" {
		t.Errorf("leg ids = %v", orders[1].LegIDs)
	}
	if orders[1].Quantity != -30 {
		t.Errorf("quantity = %d", orders[1].Quantity)
	}

	// A partial fill stays pending.
	if err := repo.UpdateOrderStatus(ctx, "ord-1", types.OrderStatusPartialFill, 4, decimal.RequireFromString("120.4")); err != nil {
		t.Fatalf("partial: %v", err)
	}
	orders, _ = repo.GetPendingOrders(ctx)
	if len(orders) != 2 || orders[0].FilledQty != 4 || !orders[0].FilledPrice.Equal(decimal.RequireFromString("120.4")) {
		t.Errorf("after partial: %+v", orders)
	}

	if err := repo.UpdateOrderStatus(ctx, "ord-1", types.OrderStatusFilled, 10, decimal.RequireFromString("120.45")); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := repo.UpdateOrderStatus(ctx, "ord-2", types.OrderStatusCancelled, 0, decimal.Zero); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	orders, _ = repo.GetPendingOrders(ctx)
	if len(orders) != 0 {
		t.Errorf("expected no pending orders, got %+v", orders)
	}

	err = repo.UpdateOrderStatus(ctx, "missing", types.OrderStatusFilled, 1, decimal.NewFromInt(1))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("update of unknown order err = %v, want ErrNotFound", err)
	}
}

func testTrades(t *testing.T, repo Repository) {
	ctx := context.Background()

	trades := []types.Trade{
		{
			ID: "t1", PositionID: "leg-1", Symbol: "SPXL", Quantity: 10,
			EntryPrice: decimal.NewFromInt(100), ExitPrice: decimal.NewFromInt(102),
			EntryTime: baseTime, ExitTime: baseTime.Add(30 * time.Minute),
			GrossPL: decimal.NewFromInt(20), Commission: decimal.NewFromInt(2), NetPL: decimal.NewFromInt(18),
			ExitReason: types.ExitTakeProfit,
		},
		{
			ID: "t2", PositionID: "leg-2", Symbol: "TMF", Quantity: 50,
			EntryPrice: decimal.NewFromInt(6), ExitPrice: decimal.RequireFromString("5.8"),
			EntryTime: baseTime, ExitTime: baseTime.Add(time.Hour),
			GrossPL: decimal.NewFromInt(-10), Commission: decimal.NewFromInt(2), NetPL: decimal.NewFromInt(-12),
			ExitReason: types.ExitStopLoss,
		},
	}
	for _, tr := range trades {
		if err := repo.SaveTrade(ctx, tr); err != nil {
			t.Fatalf("save trade %s: %v", tr.ID, err)
		}
	}

	got, err := repo.GetTrades(ctx, baseTime, baseTime.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("get trades: %v", err)
	}
	if len(got) != 2 || got[0].ID != "t2" {
		t.Fatalf("trades = %+v, want newest first", got)
	}
	if !got[0].NetPL.Equal(decimal.NewFromInt(-12)) || got[0].ExitReason != types.ExitStopLoss {
		t.Errorf("trade t2 = %+v", got[0])
	}

	got, _ = repo.GetTrades(ctx, baseTime, baseTime.Add(45*time.Minute))
	if len(got) != 1 || got[0].ID != "t1" {
		t.Errorf("range query = %+v", got)
	}

	got, err = repo.GetTradesBySymbol(ctx, "SPXL", 10)
	if err != nil {
		t.Fatalf("get by symbol: %v", err)
	}
	if len(got) != 1 || got[0].PositionID != "leg-1" || got[0].Quantity != 10 {
		t.Errorf("by symbol = %+v", got)
	}
}

func testSessionState(t *testing.T, repo Repository) {
	ctx := context.Background()

	refs := []ReferenceRecord{
		{Signal: "TLT", Price: decimal.RequireFromString("92.1"), Day: "2024-03-04", CapturedAt: baseTime, Degraded: true},
		{Signal: "SPY", Price: decimal.RequireFromString("510.2"), Day: "2024-03-04", CapturedAt: baseTime},
	}
	for _, r := range refs {
		if err := repo.SaveReference(ctx, r); err != nil {
			t.Fatalf("save reference: %v", err)
		}
	}
	got, err := repo.GetReferences(ctx)
	if err != nil {
		t.Fatalf("get references: %v", err)
	}
	if len(got) != 2 || got[0].Signal != "SPY" || !got[1].Degraded {
		t.Errorf("references = %+v", got)
	}
	if !got[0].CapturedAt.Equal(baseTime) {
		t.Errorf("captured at = %v", got[0].CapturedAt)
	}

	if err := repo.DeleteReferences(ctx); err != nil {
		t.Fatalf("delete references: %v", err)
	}
	got, _ = repo.GetReferences(ctx)
	if len(got) != 0 {
		t.Errorf("references after delete = %+v", got)
	}

	if err := repo.SaveThrottle(ctx, "SPXL", "2024-03-04"); err != nil {
		t.Fatalf("save throttle: %v", err)
	}
	if err := repo.SaveThrottle(ctx, "TMF", "2024-03-04"); err != nil {
		t.Fatalf("save throttle: %v", err)
	}
	if err := repo.SaveThrottle(ctx, "TMF", ""); err != nil {
		t.Fatalf("clear throttle: %v", err)
	}
	throttles, err := repo.GetThrottles(ctx)
	if err != nil {
		t.Fatalf("get throttles: %v", err)
	}
	if len(throttles) != 1 || throttles["SPXL"] != "2024-03-04" {
		t.Errorf("throttles = %v", throttles)
	}
}

func testBotState(t *testing.T, repo Repository) {
	ctx := context.Background()

	if s, err := repo.GetState(ctx); err != nil || s != nil {
		t.Fatalf("empty state = %+v, %v", s, err)
	}

	state := BotState{
		LastUpdated:      baseTime,
		Day:              "2024-03-04",
		Phase:            "active",
		Equity:           decimal.RequireFromString("10250.5"),
		HighWaterMark:    decimal.NewFromInt(10400),
		KillSwitchActive: true,
		TotalTrades:      7,
		WinningTrades:    4,
		LosingTrades:     3,
		TotalPL:          decimal.RequireFromString("250.5"),
	}
	if err := repo.SaveState(ctx, state); err != nil {
		t.Fatalf("save state: %v", err)
	}
	state.TotalTrades = 8
	if err := repo.SaveState(ctx, state); err != nil {
		t.Fatalf("overwrite state: %v", err)
	}

	got, err := repo.GetState(ctx)
	if err != nil || got == nil {
		t.Fatalf("get state: %+v, %v", got, err)
	}
	if got.TotalTrades != 8 || got.Day != "2024-03-04" || got.Phase != "active" || !got.KillSwitchActive {
		t.Errorf("state = %+v", got)
	}
	if !got.Equity.Equal(state.Equity) || !got.TotalPL.Equal(state.TotalPL) {
		t.Errorf("equity = %s, total = %s", got.Equity, got.TotalPL)
	}
}

func testEquity(t *testing.T, repo Repository) {
	ctx := context.Background()

	if s, err := repo.GetLatestEquitySnapshot(ctx); err != nil || s != nil {
		t.Fatalf("empty latest = %+v, %v", s, err)
	}

	for i := 0; i < 5; i++ {
		err := repo.SaveEquitySnapshot(ctx, EquitySnapshot{
			Timestamp:     baseTime.Add(time.Duration(i) * time.Hour),
			Equity:        decimal.NewFromInt(int64(10000 + i*100)),
			HighWaterMark: decimal.NewFromInt(int64(10000 + i*100)),
			Drawdown:      decimal.Zero,
			OpenPositions: i,
			DailyPL:       decimal.NewFromInt(int64(i * 100)),
		})
		if err != nil {
			t.Fatalf("save snapshot %d: %v", i, err)
		}
	}

	latest, err := repo.GetLatestEquitySnapshot(ctx)
	if err != nil || latest == nil {
		t.Fatalf("latest: %+v, %v", latest, err)
	}
	if !latest.Equity.Equal(decimal.NewFromInt(10400)) || latest.OpenPositions != 4 {
		t.Errorf("latest = %+v", latest)
	}

	history, err := repo.GetEquityHistory(ctx, baseTime.Add(time.Hour), baseTime.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 || !history[0].Equity.Equal(decimal.NewFromInt(10100)) {
		t.Errorf("history = %+v", history)
	}
}

func runRepositoryContract(t *testing.T, open func(t *testing.T) Repository) {
	cases := []struct {
		name string
		fn   func(*testing.T, Repository)
	}{
		{"Legs", testLegs},
		{"Orders", testOrders},
		{"Trades", testTrades},
		{"SessionState", testSessionState},
		{"BotState", testBotState},
		{"Equity", testEquity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, open(t))
		})
	}
}
