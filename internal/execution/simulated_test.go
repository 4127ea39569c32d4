package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/types"
)

func testConfig() SimulatedConfig {
	return SimulatedConfig{
		InitialCash:        decimal.NewFromInt(10000),
		SlippageBps:        decimal.NewFromInt(10), // 0.1%
		CommissionPerShare: decimal.RequireFromString("0.01"),
		MinCommission:      decimal.NewFromInt(1),
	}
}

func bar(symbol, price string, ts time.Time) types.MarketEvent {
	p := decimal.RequireFromString(price)
	return types.MarketEvent{Symbol: symbol, Timestamp: ts, Open: p, High: p, Low: p, Close: p}
}

var t0 = time.Date(2024, 3, 4, 14, 35, 0, 0, time.UTC)

func TestSimulatedExecutor_BuyFillsWithSlippage(t *testing.T) {
	exec := NewSimulatedExecutor(testConfig())
	exec.UpdateMarket(bar("SPXL", "100", t0))

	id, err := exec.SubmitOrder(context.Background(), types.OrderRequest{
		ClientOrderID: "c1",
		Symbol:        "SPXL",
		Quantity:      10,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	fills := exec.Drain()
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	f := fills[0]
	if f.OrderID != id || f.Status != types.OrderStatusFilled || f.FilledQty != 10 {
		t.Fatalf("unexpected fill %+v", f)
	}
	if !f.AvgFillPrice.Equal(decimal.RequireFromString("100.1")) {
		t.Errorf("fill price = %s, want 100.1", f.AvgFillPrice)
	}
	// 10 shares * 0.01 is below the minimum.
	if !f.Commission.Equal(decimal.NewFromInt(1)) {
		t.Errorf("commission = %s, want 1", f.Commission)
	}

	// 10000 - 1001 - 1
	if !exec.Cash().Equal(decimal.NewFromInt(8998)) {
		t.Errorf("cash = %s, want 8998", exec.Cash())
	}
	if exec.Holdings()["SPXL"] != 10 {
		t.Errorf("holdings = %v", exec.Holdings())
	}
	// 8998 + 10*100
	if !exec.Equity().Equal(decimal.NewFromInt(9998)) {
		t.Errorf("equity = %s, want 9998", exec.Equity())
	}
}

func TestSimulatedExecutor_SellFillsBelowMarket(t *testing.T) {
	exec := NewSimulatedExecutor(testConfig())
	exec.UpdateMarket(bar("SPXL", "100", t0))

	if _, err := exec.SubmitOrder(context.Background(), types.OrderRequest{Symbol: "SPXL", Quantity: 10}); err != nil {
		t.Fatalf("buy: %v", err)
	}
	exec.Drain()

	exec.UpdateMarket(bar("SPXL", "110", t0.Add(time.Minute)))
	if _, err := exec.SubmitOrder(context.Background(), types.OrderRequest{Symbol: "SPXL", Quantity: -10}); err != nil {
		t.Fatalf("sell: %v", err)
	}
	fills := exec.Drain()
	if len(fills) != 1 || !fills[0].AvgFillPrice.Equal(decimal.RequireFromString("109.89")) {
		t.Fatalf("unexpected sell fill %+v", fills)
	}
	if fills[0].FilledQty != -10 {
		t.Errorf("FilledQty = %d, want -10", fills[0].FilledQty)
	}
	if len(exec.Holdings()) != 0 {
		t.Errorf("flat symbol should be removed: %v", exec.Holdings())
	}
	// 8998 + 1098.9 - 1
	if !exec.Cash().Equal(decimal.RequireFromString("10095.9")) {
		t.Errorf("cash = %s", exec.Cash())
	}
}

func TestSimulatedExecutor_CommissionPerShare(t *testing.T) {
	exec := NewSimulatedExecutor(testConfig())
	exec.UpdateMarket(bar("TMF", "5", t0))

	if _, err := exec.SubmitOrder(context.Background(), types.OrderRequest{Symbol: "TMF", Quantity: 500}); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	fills := exec.Drain()
	if !fills[0].Commission.Equal(decimal.NewFromInt(5)) {
		t.Errorf("commission = %s, want 5", fills[0].Commission)
	}
}

func TestSimulatedExecutor_DuplicateOrder(t *testing.T) {
	exec := NewSimulatedExecutor(testConfig())
	exec.UpdateMarket(bar("SPXL", "100", t0))

	req := types.OrderRequest{ClientOrderID: "dup", Symbol: "SPXL", Quantity: 1}
	if _, err := exec.SubmitOrder(context.Background(), req); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := exec.SubmitOrder(context.Background(), req); !errors.Is(err, types.ErrDuplicateOrder) {
		t.Errorf("second submit err = %v, want ErrDuplicateOrder", err)
	}
}

func TestSimulatedExecutor_RejectsWithoutPrice(t *testing.T) {
	exec := NewSimulatedExecutor(testConfig())

	_, err := exec.SubmitOrder(context.Background(), types.OrderRequest{Symbol: "SPXL", Quantity: 1})
	if !errors.Is(err, types.ErrDataUnavailable) {
		t.Errorf("err = %v, want ErrDataUnavailable", err)
	}

	exec.UpdateMarket(bar("SPXL", "100", t0))
	if _, err := exec.SubmitOrder(context.Background(), types.OrderRequest{Symbol: "SPXL"}); !errors.Is(err, types.ErrInvalidOrderSize) {
		t.Errorf("zero quantity err = %v", err)
	}
}

func TestSimulatedExecutor_InsufficientCashRejects(t *testing.T) {
	exec := NewSimulatedExecutor(testConfig())
	exec.UpdateMarket(bar("SPXL", "100", t0))

	if _, err := exec.SubmitOrder(context.Background(), types.OrderRequest{Symbol: "SPXL", Quantity: 200}); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	fills := exec.Drain()
	if fills[0].Status != types.OrderStatusRejected || fills[0].FilledQty != 0 {
		t.Fatalf("expected a rejection, got %+v", fills[0])
	}
	if !exec.Cash().Equal(decimal.NewFromInt(10000)) {
		t.Errorf("rejection must not move cash: %s", exec.Cash())
	}
}

func TestSimulatedExecutor_CancelBeforeDrain(t *testing.T) {
	exec := NewSimulatedExecutor(testConfig())
	exec.UpdateMarket(bar("SPXL", "100", t0))

	id, _ := exec.SubmitOrder(context.Background(), types.OrderRequest{Symbol: "SPXL", Quantity: 5})
	if err := exec.CancelOrder(context.Background(), id); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if err := exec.CancelOrder(context.Background(), id); !errors.Is(err, types.ErrUnknownOrder) {
		t.Errorf("second cancel err = %v", err)
	}

	fills := exec.Drain()
	if len(fills) != 1 || fills[0].Status != types.OrderStatusCancelled || fills[0].OrderID != id {
		t.Fatalf("expected a cancellation, got %+v", fills)
	}
	if len(exec.Holdings()) != 0 {
		t.Error("cancelled order must not trade")
	}
}

func TestSimulatedExecutor_FillsAtSubmissionPrice(t *testing.T) {
	cfg := testConfig()
	cfg.SlippageBps = decimal.Zero
	exec := NewSimulatedExecutor(cfg)
	exec.UpdateMarket(bar("SPXL", "100", t0))

	if _, err := exec.SubmitOrder(context.Background(), types.OrderRequest{Symbol: "SPXL", Quantity: 1}); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	exec.UpdateMarket(bar("SPXL", "120", t0.Add(time.Minute)))

	fills := exec.Drain()
	if !fills[0].AvgFillPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("fill price = %s, want 100", fills[0].AvgFillPrice)
	}
	if !fills[0].FilledAt.Equal(t0) {
		t.Errorf("FilledAt = %v, want %v", fills[0].FilledAt, t0)
	}
}

func TestSimulatedExecutor_Reset(t *testing.T) {
	exec := NewSimulatedExecutor(testConfig())
	exec.UpdateMarket(bar("SPXL", "100", t0))
	_, _ = exec.SubmitOrder(context.Background(), types.OrderRequest{ClientOrderID: "c1", Symbol: "SPXL", Quantity: 1})
	exec.Drain()

	exec.Reset()

	if len(exec.Holdings()) != 0 || len(exec.Fills()) != 0 {
		t.Error("Reset should clear holdings and fills")
	}
	if !exec.Cash().Equal(decimal.NewFromInt(10000)) {
		t.Errorf("cash = %s", exec.Cash())
	}
	if _, ok := exec.LastPrice("SPXL"); ok {
		t.Error("Reset should clear prices")
	}
}
