package backtest

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/types"
)

const tradingDaysPerYear = 252

// Metrics computes performance statistics from a result. Ratios that need
// returns use the daily equity curve (one point per session close).
type Metrics struct {
	trades       []types.Trade
	daily        []EquityPoint
	riskFreeRate decimal.Decimal // annual, e.g. 0.05
}

// NewMetrics creates a metrics calculator for result.
func NewMetrics(result *Result, riskFreeRate decimal.Decimal) *Metrics {
	return &Metrics{
		trades:       result.Trades,
		daily:        result.DailyEquity,
		riskFreeRate: riskFreeRate,
	}
}

// SharpeRatio returns the annualized Sharpe ratio of daily returns.
func (m *Metrics) SharpeRatio() decimal.Decimal {
	returns := m.dailyReturns()
	if len(returns) < 2 {
		return decimal.Zero
	}

	sd := standardDeviation(returns)
	if sd.IsZero() {
		return decimal.Zero
	}
	return m.excess(returns).Div(sd).Mul(sqrtYear())
}

// SortinoRatio is the Sharpe ratio with downside deviation in the denominator.
func (m *Metrics) SortinoRatio() decimal.Decimal {
	returns := m.dailyReturns()
	if len(returns) < 2 {
		return decimal.Zero
	}

	dd := downsideDeviation(returns, decimal.Zero)
	if dd.IsZero() {
		return decimal.Zero
	}
	return m.excess(returns).Div(dd).Mul(sqrtYear())
}

// MaxDrawdown returns the largest peak-to-trough decline of the daily curve
// as a ratio.
func (m *Metrics) MaxDrawdown() decimal.Decimal {
	return maxDrawdown(m.daily)
}

// CalmarRatio is the annualized return over the max drawdown.
func (m *Metrics) CalmarRatio() decimal.Decimal {
	dd := m.MaxDrawdown()
	if dd.IsZero() {
		return decimal.Zero
	}
	return m.AnnualizedReturn().Div(dd)
}

// AnnualizedReturn compounds the total return over the number of sessions.
func (m *Metrics) AnnualizedReturn() decimal.Decimal {
	if len(m.daily) < 2 {
		return decimal.Zero
	}

	first := m.daily[0].Equity
	last := m.daily[len(m.daily)-1].Equity
	if !first.IsPositive() {
		return decimal.Zero
	}
	total := last.Sub(first).Div(first)

	sessions := len(m.daily) - 1
	if sessions < 5 {
		return total
	}
	years := float64(sessions) / tradingDaysPerYear
	return decimal.NewFromFloat(math.Pow(1+total.InexactFloat64(), 1/years) - 1)
}

// WinRate returns the fraction of trades with positive net P&L.
func (m *Metrics) WinRate() decimal.Decimal {
	if len(m.trades) == 0 {
		return decimal.Zero
	}

	wins := 0
	for _, t := range m.trades {
		if t.NetPL.IsPositive() {
			wins++
		}
	}
	return decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(m.trades))))
}

// ProfitFactor returns gross profit over gross loss, zero without losses.
func (m *Metrics) ProfitFactor() decimal.Decimal {
	profit, loss := decimal.Zero, decimal.Zero
	for _, t := range m.trades {
		if t.NetPL.IsPositive() {
			profit = profit.Add(t.NetPL)
		} else {
			loss = loss.Add(t.NetPL.Abs())
		}
	}
	if loss.IsZero() {
		return decimal.Zero
	}
	return profit.Div(loss)
}

// AverageWin returns the mean net P&L of winning trades.
func (m *Metrics) AverageWin() decimal.Decimal {
	var wins []decimal.Decimal
	for _, t := range m.trades {
		if t.NetPL.IsPositive() {
			wins = append(wins, t.NetPL)
		}
	}
	return mean(wins)
}

// AverageLoss returns the mean net P&L of losing trades (negative).
func (m *Metrics) AverageLoss() decimal.Decimal {
	var losses []decimal.Decimal
	for _, t := range m.trades {
		if t.NetPL.IsNegative() {
			losses = append(losses, t.NetPL)
		}
	}
	return mean(losses)
}

// Expectancy is the expected net P&L per trade.
func (m *Metrics) Expectancy() decimal.Decimal {
	winRate := m.WinRate()
	return winRate.Mul(m.AverageWin()).Add(decimal.NewFromInt(1).Sub(winRate).Mul(m.AverageLoss()))
}

// ExitBreakdown counts trades by exit reason.
func (m *Metrics) ExitBreakdown() map[string]int {
	out := make(map[string]int)
	for _, t := range m.trades {
		out[t.ExitReason]++
	}
	return out
}

func (m *Metrics) excess(returns []decimal.Decimal) decimal.Decimal {
	dailyRf := m.riskFreeRate.Div(decimal.NewFromInt(tradingDaysPerYear))
	return mean(returns).Sub(dailyRf)
}

func (m *Metrics) dailyReturns() []decimal.Decimal {
	if len(m.daily) < 2 {
		return nil
	}

	returns := make([]decimal.Decimal, 0, len(m.daily)-1)
	for i := 1; i < len(m.daily); i++ {
		prev := m.daily[i-1].Equity
		if prev.IsZero() {
			continue
		}
		returns = append(returns, m.daily[i].Equity.Sub(prev).Div(prev))
	}
	return returns
}

func maxDrawdown(curve []EquityPoint) decimal.Decimal {
	if len(curve) == 0 {
		return decimal.Zero
	}

	peak := curve[0].Equity
	worst := decimal.Zero
	for _, p := range curve {
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
		if peak.IsPositive() {
			if dd := peak.Sub(p.Equity).Div(peak); dd.GreaterThan(worst) {
				worst = dd
			}
		}
	}
	return worst
}

func sqrtYear() decimal.Decimal {
	return decimal.NewFromFloat(math.Sqrt(tradingDaysPerYear))
}

func mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}

	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

// standardDeviation is the sample standard deviation.
func standardDeviation(values []decimal.Decimal) decimal.Decimal {
	if len(values) < 2 {
		return decimal.Zero
	}

	m := mean(values)
	sumSquares := decimal.Zero
	for _, v := range values {
		diff := v.Sub(m)
		sumSquares = sumSquares.Add(diff.Mul(diff))
	}

	variance := sumSquares.Div(decimal.NewFromInt(int64(len(values) - 1))).InexactFloat64()
	if variance <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(math.Sqrt(variance))
}

func downsideDeviation(returns []decimal.Decimal, target decimal.Decimal) decimal.Decimal {
	var below []decimal.Decimal
	for _, r := range returns {
		if r.LessThan(target) {
			below = append(below, r)
		}
	}
	return standardDeviation(below)
}
