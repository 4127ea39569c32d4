// Package risk sizes entries from account equity and enforces the drawdown
// kill switch.
package risk

import "github.com/shopspring/decimal"

// equityMarks holds the account equity and the marks derived from it. It has
// no lock of its own; the owning Engine guards it.
type equityMarks struct {
	current decimal.Decimal
	peak    decimal.Decimal

	sessionStart decimal.Decimal
	sessionLow   decimal.Decimal
}

func newEquityMarks(equity decimal.Decimal) equityMarks {
	return equityMarks{
		current:      equity,
		peak:         equity,
		sessionStart: equity,
		sessionLow:   equity,
	}
}

// mark records a new equity reading and reports whether it set a new peak.
func (m *equityMarks) mark(equity decimal.Decimal) bool {
	m.current = equity
	if equity.LessThan(m.sessionLow) {
		m.sessionLow = equity
	}
	if equity.GreaterThan(m.peak) {
		m.peak = equity
		return true
	}
	return false
}

// startSession rebases the session marks on the current equity.
func (m *equityMarks) startSession() {
	m.sessionStart = m.current
	m.sessionLow = m.current
}

// restore reloads persisted equity. A peak below current is raised to it.
func (m *equityMarks) restore(current, peak decimal.Decimal) {
	if peak.LessThan(current) {
		peak = current
	}
	*m = newEquityMarks(current)
	m.peak = peak
}

// drawdown is (peak - current) / peak; 0.15 means 15%.
func (m *equityMarks) drawdown() decimal.Decimal {
	return drawdown(m.current, m.peak)
}

// sessionReturn is current over session start, minus one.
func (m *equityMarks) sessionReturn() decimal.Decimal {
	if !m.sessionStart.IsPositive() {
		return decimal.Zero
	}
	return m.current.Div(m.sessionStart).Sub(decimal.NewFromInt(1))
}

func drawdown(current, peak decimal.Decimal) decimal.Decimal {
	if !peak.IsPositive() || current.GreaterThanOrEqual(peak) {
		return decimal.Zero
	}
	return peak.Sub(current).Div(peak)
}
