package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/alerting"
	"github.com/tathienbao/letf-intraday/internal/metrics"
	"github.com/tathienbao/letf-intraday/internal/types"
)

// Config holds the risk engine configuration.
type Config struct {
	MaxGlobalDrawdownPct    decimal.Decimal // e.g., 0.20 for 20%
	MaxExposurePerSymbolPct decimal.Decimal // notional cap per traded symbol, e.g., 1.00
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxGlobalDrawdownPct:    decimal.RequireFromString("0.20"),
		MaxExposurePerSymbolPct: decimal.RequireFromString("1.00"),
	}
}

// Snapshot is the equity state of the account.
type Snapshot struct {
	Timestamp     time.Time
	Equity        decimal.Decimal
	HighWaterMark decimal.Decimal
	Drawdown      decimal.Decimal
	SessionStart  decimal.Decimal
	SessionLow    decimal.Decimal
	SessionReturn decimal.Decimal
	SafeMode      bool
	OpenSymbols   int
}

type holding struct {
	shares int64
	price  decimal.Decimal
}

// Engine converts allocation fractions into share counts against the current
// equity and trips a kill switch when drawdown from peak reaches the limit.
// In safe mode every entry sizes to zero; exits are never blocked.
// Thread-safe for concurrent access.
type Engine struct {
	mu sync.RWMutex

	cfg      Config
	marks    equityMarks
	holdings map[string]holding

	safeMode   bool
	safeModeAt time.Time

	alerter  alerting.Alerter
	recorder *metrics.Recorder
	logger   *slog.Logger
}

// NewEngine creates a new risk engine.
func NewEngine(cfg Config, initialEquity decimal.Decimal, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:      cfg,
		marks:    newEquityMarks(initialEquity),
		holdings: make(map[string]holding),
		recorder: metrics.NewRecorder(),
		logger:   logger.With("component", "risk"),
	}
}

// SetAlerter installs the channel for the kill switch alert.
func (e *Engine) SetAlerter(a alerting.Alerter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alerter = a
}

// SizeForAllocation returns floor(equity * fraction / price), capped by the
// per-symbol exposure limit. It returns ErrKillSwitchActive in safe mode.
func (e *Engine) SizeForAllocation(ctx context.Context, symbol string, fraction, price decimal.Decimal) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	if e.safeMode {
		return 0, types.ErrKillSwitchActive
	}
	if e.marks.drawdown().GreaterThanOrEqual(e.cfg.MaxGlobalDrawdownPct) {
		e.enterSafeModeLocked(ctx, "max drawdown exceeded")
		return 0, types.ErrKillSwitchActive
	}
	if !price.IsPositive() {
		return 0, fmt.Errorf("size %s: %w", symbol, types.ErrInvalidPrice)
	}

	equity := e.marks.current
	result := CalculateAllocation(equity, fraction, price)
	if !result.Valid {
		e.logger.Info("allocation rejected",
			"symbol", symbol,
			"equity", equity,
			"price", price,
			"reason", result.RejectReason,
		)
		return 0, nil
	}

	shares := result.Shares
	if !e.cfg.MaxExposurePerSymbolPct.IsZero() {
		held := e.holdings[symbol].shares
		room := MaxShares(equity, e.cfg.MaxExposurePerSymbolPct, price) - held
		if room < 0 {
			room = 0
		}
		if capped := AdjustForMaxSize(shares, room); capped != shares {
			e.logger.Info("allocation capped by exposure limit",
				"symbol", symbol,
				"wanted", shares,
				"shares", capped,
				"held", held,
			)
			shares = capped
		}
	}

	e.logger.Debug("allocation sized",
		"symbol", symbol,
		"equity", equity,
		"fraction", fraction,
		"price", price,
		"shares", shares,
	)
	return shares, nil
}

// UpdateEquity updates the current equity and checks the drawdown limit.
func (e *Engine) UpdateEquity(equity decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.marks.mark(equity) {
		e.logger.Debug("new equity peak", "equity", equity)
	}

	dd := e.marks.drawdown()
	e.recorder.RecordEquity(equity, e.marks.peak, dd)

	if dd.GreaterThanOrEqual(e.cfg.MaxGlobalDrawdownPct) {
		e.enterSafeModeLocked(context.Background(), "max drawdown exceeded")
	}
}

// UpdatePosition records the net shares held in symbol at price.
func (e *Engine) UpdatePosition(symbol string, shares int64, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if shares == 0 {
		delete(e.holdings, symbol)
		return
	}
	e.holdings[symbol] = holding{shares: shares, price: price}
}

// StartSession marks the session's starting equity for the daily summary.
func (e *Engine) StartSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.marks.sessionStart.Equal(e.marks.current) {
		e.logger.Info("session equity rebased",
			"previous_start", e.marks.sessionStart,
			"start", e.marks.current,
		)
	}
	e.marks.startSession()
}

// SessionMarks returns session-start, current and peak equity.
func (e *Engine) SessionMarks() (start, current, peak decimal.Decimal) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.marks.sessionStart, e.marks.current, e.marks.peak
}

// Restore reloads persisted equity and kill switch state.
func (e *Engine) Restore(equity, peak decimal.Decimal, safeMode bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.marks.restore(equity, peak)
	e.safeMode = safeMode
	e.recorder.RecordSafeMode(safeMode)
	e.logger.Info("risk state restored",
		"equity", equity,
		"peak", e.marks.peak,
		"safe_mode", safeMode,
	)
}

// IsInSafeMode returns true if the engine is in safe mode.
func (e *Engine) IsInSafeMode() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.safeMode
}

// EnterSafeMode manually enters safe mode.
func (e *Engine) EnterSafeMode(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enterSafeModeLocked(context.Background(), reason)
}

// ExitSafeMode exits safe mode (manual reset).
func (e *Engine) ExitSafeMode() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.safeMode {
		e.safeMode = false
		e.recorder.RecordSafeMode(false)
		e.logger.Warn("safe mode exited manually")
	}
}

// GetSnapshot returns the current state.
func (e *Engine) GetSnapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	m := e.marks
	return Snapshot{
		Timestamp:     time.Now(),
		Equity:        m.current,
		HighWaterMark: m.peak,
		Drawdown:      m.drawdown(),
		SessionStart:  m.sessionStart,
		SessionLow:    m.sessionLow,
		SessionReturn: m.sessionReturn(),
		SafeMode:      e.safeMode,
		OpenSymbols:   len(e.holdings),
	}
}

// enterSafeModeLocked enters safe mode. Must be called with lock held.
func (e *Engine) enterSafeModeLocked(ctx context.Context, reason string) {
	if e.safeMode {
		return
	}

	e.safeMode = true
	e.safeModeAt = time.Now()
	e.recorder.RecordSafeMode(true)

	current, peak, dd := e.marks.current, e.marks.peak, e.marks.drawdown()

	e.logger.Error("KILL SWITCH ACTIVATED - entering safe mode",
		"reason", reason,
		"equity", current,
		"peak", peak,
		"drawdown", dd,
	)
	if err := alerting.Send(ctx, e.alerter, alerting.EventKillSwitchActivated, "Kill switch activated: "+reason,
		"equity", current.StringFixed(2),
		"peak", peak.StringFixed(2),
		"drawdown_pct", dd.Mul(decimal.NewFromInt(100)).StringFixed(2),
	); err != nil {
		e.logger.Warn("failed to send alert", "err", err)
	}
}
