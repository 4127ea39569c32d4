// Package backtest replays historical bars through the position engine.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/alerting"
	"github.com/tathienbao/letf-intraday/internal/engine"
	"github.com/tathienbao/letf-intraday/internal/execution"
	"github.com/tathienbao/letf-intraday/internal/observer"
	"github.com/tathienbao/letf-intraday/internal/risk"
	"github.com/tathienbao/letf-intraday/internal/session"
	"github.com/tathienbao/letf-intraday/internal/types"
)

// ProgressUpdate contains info for UI updates.
type ProgressUpdate struct {
	Bar       int
	TotalBars int
	Event     types.MarketEvent
	Equity    decimal.Decimal
	Trades    int
	WinRate   decimal.Decimal // percent
	Phase     string
	LastTrade string
}

// ProgressCallback is called on each bar for UI updates.
type ProgressCallback func(update ProgressUpdate)

// Config holds backtest configuration.
type Config struct {
	InitialEquity decimal.Decimal
	StartTime     time.Time
	EndTime       time.Time
	RiskFreeRate  decimal.Decimal

	Engine    engine.Config
	Risk      risk.Config
	Execution execution.SimulatedConfig
}

// Result holds backtest results.
type Result struct {
	StartEquity   decimal.Decimal
	EndEquity     decimal.Decimal
	TotalReturn   decimal.Decimal // ratio, 0.15 = 15%
	MaxDrawdown   decimal.Decimal // ratio, from the per-bar curve
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       decimal.Decimal // ratio
	ProfitFactor  decimal.Decimal
	SharpeRatio   decimal.Decimal
	SortinoRatio  decimal.Decimal
	CalmarRatio   decimal.Decimal
	Commissions   decimal.Decimal
	Bars          int
	Sessions      int
	ExitReasons   map[string]int
	Trades        []types.Trade
	EquityCurve   []EquityPoint
	DailyEquity   []EquityPoint
	Summaries     []alerting.DailySummary
}

// EquityPoint represents equity at a point in time.
type EquityPoint struct {
	Timestamp time.Time
	Equity    decimal.Decimal
	Drawdown  decimal.Decimal
}

// Runner replays a bar feed in event time. Session timers are synthesized
// from the calendar and delivered ahead of any bar with the same timestamp.
// Simulated fills are drained after every input so the engine never sees a
// fill from inside its own order submission.
type Runner struct {
	cfg      Config
	logger   *slog.Logger
	feed     observer.MarketDataFeed
	calendar session.Calendar
	history  *observer.BarHistory
	executor *execution.SimulatedExecutor
	risk     *risk.Engine
	engine   *engine.Engine

	clock       time.Time
	trades      []types.Trade
	summaries   []alerting.DailySummary
	equityCurve []EquityPoint
	daily       []EquityPoint
	highWater   decimal.Decimal
	lastTrade   string

	progressCb ProgressCallback
	barCount   int
	totalBars  int
}

// NewRunner wires an engine to a simulated executor and a bar history.
func NewRunner(cfg Config, feed observer.MarketDataFeed, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.InitialEquity.IsPositive() {
		return nil, fmt.Errorf("initial equity %s: %w", cfg.InitialEquity, types.ErrInvalidConfig)
	}
	cfg.Execution.InitialCash = cfg.InitialEquity

	r := &Runner{
		cfg:       cfg,
		logger:    logger.With("component", "backtest"),
		feed:      feed,
		calendar:  cfg.Engine.Calendar,
		highWater: cfg.InitialEquity,
	}
	if err := r.build(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runner) build() error {
	r.history = observer.NewBarHistory(r.calendar)
	r.executor = execution.NewSimulatedExecutor(r.cfg.Execution)
	r.risk = risk.NewEngine(r.cfg.Risk, r.cfg.InitialEquity, r.logger)

	eng, err := engine.NewEngine(r.cfg.Engine, r.history, r.executor, r.risk, r.logger)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	eng.SetTradeHandler(func(t types.Trade) {
		r.trades = append(r.trades, t)
		r.lastTrade = fmt.Sprintf("%s %s %s", t.Symbol, t.ExitReason, t.NetPL.StringFixed(2))
	})
	eng.SetSummaryHandler(func(s alerting.DailySummary) {
		r.summaries = append(r.summaries, s)
	}, r.risk.SessionMarks)
	r.engine = eng
	return nil
}

// SetAlerter forwards engine alerts (trade lines, daily summaries).
func (r *Runner) SetAlerter(a alerting.Alerter) {
	r.engine.SetAlerter(a)
}

// SetProgressCallback sets a callback for UI updates.
func (r *Runner) SetProgressCallback(cb ProgressCallback) {
	r.progressCb = cb
}

// SetTotalBars sets the expected number of bars for progress display.
func (r *Runner) SetTotalBars(total int) {
	r.totalBars = total
}

// Engine exposes the engine under test.
func (r *Runner) Engine() *engine.Engine {
	return r.engine
}

// Run replays the feed for every configured pair.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	var symbols []string
	for _, p := range r.cfg.Engine.Pairs {
		symbols = append(symbols, p.Signal, p.Traded)
	}

	eventCh, err := r.feed.Subscribe(ctx, symbols...)
	if err != nil {
		return nil, fmt.Errorf("subscribe to feed: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case event, ok := <-eventCh:
			if !ok {
				return r.calculateResults(), nil
			}
			if !r.cfg.StartTime.IsZero() && event.Timestamp.Before(r.cfg.StartTime) {
				continue
			}
			if !r.cfg.EndTime.IsZero() && event.Timestamp.After(r.cfg.EndTime) {
				return r.calculateResults(), nil
			}
			r.step(ctx, event)
		}
	}
}

func (r *Runner) step(ctx context.Context, event types.MarketEvent) {
	if event.Timestamp.Before(r.clock) {
		r.logger.Debug("out-of-order bar dropped", "symbol", event.Symbol, "time", event.Timestamp)
		return
	}
	r.advanceTo(ctx, event.Timestamp)
	r.barCount++

	r.history.Record(event)
	r.executor.UpdateMarket(event)
	r.engine.Process(ctx, types.TickEvent(event))
	r.drain(ctx)

	equity := r.markEquity(event.Timestamp)
	r.risk.UpdatePosition(event.Symbol, r.executor.Holdings()[event.Symbol], event.Close)

	if r.progressCb != nil {
		_, phase := r.engine.SessionState()
		r.progressCb(ProgressUpdate{
			Bar:       r.barCount,
			TotalBars: r.totalBars,
			Event:     event,
			Equity:    equity,
			Trades:    len(r.trades),
			WinRate:   winRate(r.trades).Mul(decimal.NewFromInt(100)),
			Phase:     phase.String(),
			LastTrade: r.lastTrade,
		})
	}
}

// advanceTo fires every session timer in (clock, to].
func (r *Runner) advanceTo(ctx context.Context, to time.Time) {
	if r.clock.IsZero() {
		// Start just before the first session open so a data set that begins
		// at the open still gets its open timer.
		r.clock = to.Add(-time.Nanosecond)
		if open := r.calendar.OpenAt(r.calendar.Day(to)); open.Before(to) {
			r.clock = open.Add(-time.Nanosecond)
		}
	}

	for _, ev := range r.calendar.EventsBetween(r.clock, to) {
		if ev.Timer == types.TimerSessionOpen {
			r.risk.StartSession()
		}
		r.engine.Process(ctx, ev)
		r.drain(ctx)

		if ev.Timer == types.TimerEndOfDay {
			equity := r.markEquity(ev.Time)
			r.daily = append(r.daily, EquityPoint{
				Timestamp: ev.Time,
				Equity:    equity,
				Drawdown:  drawdownFrom(r.highWater, equity),
			})
		}
	}
	r.clock = to
}

// drain delivers queued fills until the executor is idle.
func (r *Runner) drain(ctx context.Context) {
	for {
		fills := r.executor.Drain()
		if len(fills) == 0 {
			return
		}
		holdings := r.executor.Holdings()
		for _, fill := range fills {
			if err := r.engine.OnFill(ctx, fill); err != nil {
				r.logger.Warn("fill not applied", "order_id", fill.OrderID, "err", err)
			}
			if price, ok := r.executor.LastPrice(fill.Symbol); ok {
				r.risk.UpdatePosition(fill.Symbol, holdings[fill.Symbol], price)
			}
		}
	}
}

func (r *Runner) markEquity(at time.Time) decimal.Decimal {
	equity := r.executor.Equity()
	r.risk.UpdateEquity(equity)
	if equity.GreaterThan(r.highWater) {
		r.highWater = equity
	}

	n := len(r.equityCurve)
	point := EquityPoint{Timestamp: at, Equity: equity, Drawdown: drawdownFrom(r.highWater, equity)}
	if n > 0 && r.equityCurve[n-1].Timestamp.Equal(at) {
		r.equityCurve[n-1] = point
	} else {
		r.equityCurve = append(r.equityCurve, point)
	}
	return equity
}

func (r *Runner) calculateResults() *Result {
	endEquity := r.executor.Equity()
	res := &Result{
		StartEquity: r.cfg.InitialEquity,
		EndEquity:   endEquity,
		MaxDrawdown: maxDrawdown(append([]EquityPoint{{Equity: r.cfg.InitialEquity}}, r.equityCurve...)),
		TotalTrades: len(r.trades),
		Bars:        r.barCount,
		Sessions:    len(r.daily),
		Trades:      r.trades,
		EquityCurve: r.equityCurve,
		Summaries:   r.summaries,
		Commissions: decimal.Zero,
	}
	res.TotalReturn = endEquity.Sub(r.cfg.InitialEquity).Div(r.cfg.InitialEquity)

	for _, t := range r.trades {
		res.Commissions = res.Commissions.Add(t.Commission)
		switch {
		case t.NetPL.IsPositive():
			res.WinningTrades++
		case t.NetPL.IsNegative():
			res.LosingTrades++
		}
	}

	// Daily returns start from the initial equity.
	res.DailyEquity = append([]EquityPoint{{Timestamp: r.firstTime(), Equity: r.cfg.InitialEquity}}, r.daily...)

	m := NewMetrics(res, r.cfg.RiskFreeRate)
	res.WinRate = m.WinRate()
	res.ProfitFactor = m.ProfitFactor()
	res.SharpeRatio = m.SharpeRatio()
	res.SortinoRatio = m.SortinoRatio()
	res.CalmarRatio = m.CalmarRatio()
	res.ExitReasons = m.ExitBreakdown()

	r.logger.Info("backtest complete",
		"bars", res.Bars,
		"sessions", res.Sessions,
		"trades", res.TotalTrades,
		"end_equity", res.EndEquity.StringFixed(2),
		"return", res.TotalReturn.StringFixed(4),
	)
	return res
}

func (r *Runner) firstTime() time.Time {
	if len(r.equityCurve) == 0 {
		return time.Time{}
	}
	return r.equityCurve[0].Timestamp
}

// Reset rebuilds the engine, executor and risk state for another run.
func (r *Runner) Reset() error {
	r.clock = time.Time{}
	r.trades = nil
	r.summaries = nil
	r.equityCurve = nil
	r.daily = nil
	r.highWater = r.cfg.InitialEquity
	r.lastTrade = ""
	r.barCount = 0
	return r.build()
}

func drawdownFrom(peak, equity decimal.Decimal) decimal.Decimal {
	if !peak.IsPositive() || equity.GreaterThanOrEqual(peak) {
		return decimal.Zero
	}
	return peak.Sub(equity).Div(peak)
}

func winRate(trades []types.Trade) decimal.Decimal {
	if len(trades) == 0 {
		return decimal.Zero
	}
	wins := 0
	for _, t := range trades {
		if t.NetPL.IsPositive() {
			wins++
		}
	}
	return decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(trades))))
}
