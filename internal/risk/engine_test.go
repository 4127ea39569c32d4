package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/alerting"
	"github.com/tathienbao/letf-intraday/internal/types"
)

func TestEngine_NewEngine(t *testing.T) {
	engine := NewEngine(DefaultConfig(), decimal.RequireFromString("10000"), nil)

	if engine.IsInSafeMode() {
		t.Error("New engine should not be in safe mode")
	}

	snapshot := engine.GetSnapshot()
	if !snapshot.Equity.Equal(decimal.RequireFromString("10000")) {
		t.Errorf("Initial equity = %s, want 10000", snapshot.Equity)
	}
	if !snapshot.Drawdown.IsZero() {
		t.Errorf("Initial drawdown = %s, want 0", snapshot.Drawdown)
	}
}

func TestEngine_SizeForAllocation(t *testing.T) {
	engine := NewEngine(DefaultConfig(), decimal.RequireFromString("10000"), nil)

	shares, err := engine.SizeForAllocation(context.Background(), "SPXL",
		decimal.RequireFromString("0.25"), decimal.RequireFromString("120"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	// 2500 / 120 = 20.8
	if shares != 20 {
		t.Errorf("shares = %d, want 20", shares)
	}
}

func TestEngine_SizeForAllocation_TooSmallIsZero(t *testing.T) {
	engine := NewEngine(DefaultConfig(), decimal.RequireFromString("100"), nil)

	shares, err := engine.SizeForAllocation(context.Background(), "SPXL",
		decimal.RequireFromString("0.1"), decimal.RequireFromString("120"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if shares != 0 {
		t.Errorf("shares = %d, want 0", shares)
	}
}

func TestEngine_SizeForAllocation_InvalidPrice(t *testing.T) {
	engine := NewEngine(DefaultConfig(), decimal.RequireFromString("10000"), nil)

	_, err := engine.SizeForAllocation(context.Background(), "SPXL",
		decimal.RequireFromString("0.1"), decimal.Zero)
	if !errors.Is(err, types.ErrInvalidPrice) {
		t.Errorf("err = %v, want ErrInvalidPrice", err)
	}
}

func TestEngine_SizeForAllocation_ExposureCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxExposurePerSymbolPct = decimal.RequireFromString("0.5")
	engine := NewEngine(cfg, decimal.RequireFromString("10000"), nil)

	// Already holding 40 shares at 100 = 4000 of a 5000 cap.
	engine.UpdatePosition("SPXL", 40, decimal.RequireFromString("100"))

	shares, err := engine.SizeForAllocation(context.Background(), "SPXL",
		decimal.RequireFromString("0.3"), decimal.RequireFromString("100"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if shares != 10 {
		t.Errorf("shares = %d, want 10 (capped)", shares)
	}

	// Other symbols are independent.
	shares, _ = engine.SizeForAllocation(context.Background(), "TMF",
		decimal.RequireFromString("0.3"), decimal.RequireFromString("100"))
	if shares != 30 {
		t.Errorf("TMF shares = %d, want 30", shares)
	}

	engine.UpdatePosition("SPXL", 0, decimal.Zero)
	if engine.GetSnapshot().OpenSymbols != 0 {
		t.Error("flat position should be removed")
	}
}

func TestEngine_SizeForAllocation_SafeMode(t *testing.T) {
	engine := NewEngine(DefaultConfig(), decimal.RequireFromString("10000"), nil)
	engine.EnterSafeMode("test")

	shares, err := engine.SizeForAllocation(context.Background(), "SPXL",
		decimal.RequireFromString("0.1"), decimal.RequireFromString("100"))
	if !errors.Is(err, types.ErrKillSwitchActive) {
		t.Errorf("err = %v, want ErrKillSwitchActive", err)
	}
	if shares != 0 {
		t.Errorf("shares = %d, want 0", shares)
	}
}

func TestEngine_SizeForAllocation_ContextCancelled(t *testing.T) {
	engine := NewEngine(DefaultConfig(), decimal.RequireFromString("10000"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.SizeForAllocation(ctx, "SPXL",
		decimal.RequireFromString("0.1"), decimal.RequireFromString("100"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestEngine_UpdateEquity_TriggersKillSwitch(t *testing.T) {
	engine := NewEngine(DefaultConfig(), decimal.RequireFromString("10000"), nil)
	alerter := alerting.NewMockAlerter()
	engine.SetAlerter(alerter)

	engine.UpdateEquity(decimal.RequireFromString("12000"))
	engine.UpdateEquity(decimal.RequireFromString("9700")) // 19.2% down
	if engine.IsInSafeMode() {
		t.Fatal("should not trip below the limit")
	}

	engine.UpdateEquity(decimal.RequireFromString("9600")) // 20% down
	if !engine.IsInSafeMode() {
		t.Fatal("should trip at the limit")
	}
	if alerter.CountEvent(alerting.EventKillSwitchActivated) != 1 {
		t.Errorf("expected one kill switch alert, got %d", alerter.CountEvent(alerting.EventKillSwitchActivated))
	}
	if !alerter.HasAlertWithSeverity(alerting.SeverityCritical) {
		t.Error("kill switch alert should be critical")
	}

	// Recovery does not leave safe mode by itself.
	engine.UpdateEquity(decimal.RequireFromString("12500"))
	if !engine.IsInSafeMode() {
		t.Error("safe mode requires a manual reset")
	}
	engine.ExitSafeMode()
	if engine.IsInSafeMode() {
		t.Error("ExitSafeMode should reset")
	}
}

func TestEngine_RestoreAndSessionMarks(t *testing.T) {
	engine := NewEngine(DefaultConfig(), decimal.RequireFromString("10000"), nil)
	engine.Restore(decimal.RequireFromString("11000"), decimal.RequireFromString("12000"), true)

	if !engine.IsInSafeMode() {
		t.Error("safe mode should be restored")
	}
	snap := engine.GetSnapshot()
	if !snap.HighWaterMark.Equal(decimal.RequireFromString("12000")) {
		t.Errorf("peak = %s", snap.HighWaterMark)
	}

	engine.ExitSafeMode()
	engine.StartSession()
	engine.UpdateEquity(decimal.RequireFromString("11500"))

	start, current, peak := engine.SessionMarks()
	if !start.Equal(decimal.RequireFromString("11000")) ||
		!current.Equal(decimal.RequireFromString("11500")) ||
		!peak.Equal(decimal.RequireFromString("12000")) {
		t.Errorf("SessionMarks() = %s, %s, %s", start, current, peak)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.MaxGlobalDrawdownPct.Equal(decimal.RequireFromString("0.20")) {
		t.Errorf("MaxGlobalDrawdownPct = %s, want 0.20", cfg.MaxGlobalDrawdownPct)
	}
	if !cfg.MaxExposurePerSymbolPct.Equal(decimal.NewFromInt(1)) {
		t.Errorf("MaxExposurePerSymbolPct = %s, want 1", cfg.MaxExposurePerSymbolPct)
	}
}
