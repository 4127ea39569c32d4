package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/types"
)

func pl(values ...int64) []types.Trade {
	trades := make([]types.Trade, len(values))
	for i, v := range values {
		trades[i] = types.Trade{NetPL: decimal.NewFromInt(v)}
	}
	return trades
}

func dailyCurve(values ...int64) []EquityPoint {
	base := time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC)
	out := make([]EquityPoint, len(values))
	for i, v := range values {
		out[i] = EquityPoint{Timestamp: base.AddDate(0, 0, i), Equity: decimal.NewFromInt(v)}
	}
	return out
}

func TestMetrics_TradeStatistics(t *testing.T) {
	tests := []struct {
		name         string
		trades       []types.Trade
		winRate      string
		profitFactor string
		avgWin       string
		avgLoss      string
		expectancy   string
	}{
		{"mixed", pl(100, -50, 75, -25, 50), "0.6", "3", "75", "-37.5", "30"},
		{"even split", pl(200, -100), "0.5", "2", "200", "-100", "50"},
		{"winners only", pl(100, 200), "1", "0", "150", "0", "150"},
		{"no trades", nil, "0", "0", "0", "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMetrics(&Result{Trades: tt.trades}, decimal.Zero)

			check := func(name string, got decimal.Decimal, want string) {
				t.Helper()
				if !got.Equal(decimal.RequireFromString(want)) {
					t.Errorf("%s = %s, want %s", name, got, want)
				}
			}
			check("WinRate", m.WinRate(), tt.winRate)
			check("ProfitFactor", m.ProfitFactor(), tt.profitFactor)
			check("AverageWin", m.AverageWin(), tt.avgWin)
			check("AverageLoss", m.AverageLoss(), tt.avgLoss)
			check("Expectancy", m.Expectancy(), tt.expectancy)
		})
	}
}

func TestMetrics_MaxDrawdown(t *testing.T) {
	result := &Result{DailyEquity: dailyCurve(10000, 11000, 9900, 10500, 12000, 10800)}
	m := NewMetrics(result, decimal.Zero)

	if got := m.MaxDrawdown(); !got.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("MaxDrawdown = %s, want 0.1", got)
	}
}

func TestMetrics_SharpeAndSortino(t *testing.T) {
	result := &Result{DailyEquity: dailyCurve(
		10000, 10100, 10050, 10200, 10150,
		10300, 10250, 10400, 10350, 10500,
		10450, 10600, 10550, 10700, 10650,
	)}
	m := NewMetrics(result, decimal.Zero)

	if s := m.SharpeRatio(); !s.IsPositive() {
		t.Errorf("SharpeRatio should be positive for a rising curve, got %s", s)
	}
	if s := m.SortinoRatio(); !s.IsPositive() {
		t.Errorf("SortinoRatio should be positive for a rising curve, got %s", s)
	}
	if c := m.CalmarRatio(); !c.IsPositive() {
		t.Errorf("CalmarRatio should be positive, got %s", c)
	}
}

func TestMetrics_RiskFreeRateLowersSharpe(t *testing.T) {
	result := &Result{DailyEquity: dailyCurve(10000, 10100, 10050, 10200, 10150, 10300)}

	base := NewMetrics(result, decimal.Zero).SharpeRatio()
	withRf := NewMetrics(result, decimal.RequireFromString("0.05")).SharpeRatio()
	if !withRf.LessThan(base) {
		t.Errorf("sharpe with risk-free rate %s should be below %s", withRf, base)
	}
}

func TestMetrics_AnnualizedReturnShortRun(t *testing.T) {
	m := NewMetrics(&Result{DailyEquity: dailyCurve(10000, 11000)}, decimal.Zero)

	if got := m.AnnualizedReturn(); !got.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("AnnualizedReturn = %s, want the raw 0.1 for a short run", got)
	}
}

func TestMetrics_EmptyCurve(t *testing.T) {
	m := NewMetrics(&Result{}, decimal.Zero)

	if !m.MaxDrawdown().IsZero() {
		t.Error("MaxDrawdown should be 0 for an empty curve")
	}
	if !m.SharpeRatio().IsZero() || !m.SortinoRatio().IsZero() || !m.CalmarRatio().IsZero() {
		t.Error("ratios should be 0 for an empty curve")
	}
}

func TestMetrics_ExitBreakdown(t *testing.T) {
	trades := []types.Trade{
		{ExitReason: types.ExitStopLoss},
		{ExitReason: types.ExitTakeProfit},
		{ExitReason: types.ExitStopLoss},
		{ExitReason: types.ExitEndOfDay},
	}
	got := NewMetrics(&Result{Trades: trades}, decimal.Zero).ExitBreakdown()

	if got[types.ExitStopLoss] != 2 || got[types.ExitTakeProfit] != 1 || got[types.ExitEndOfDay] != 1 {
		t.Errorf("breakdown = %v", got)
	}
}
