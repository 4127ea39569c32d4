// Package engine implements the signal-driven position lifecycle: session
// reference capture, entry on a drop of the signal instrument, bracket exits
// per leg, end-of-day liquidation and fill reconciliation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/alerting"
	"github.com/tathienbao/letf-intraday/internal/metrics"
	"github.com/tathienbao/letf-intraday/internal/session"
	"github.com/tathienbao/letf-intraday/internal/types"
)

// Mode selects how many legs a traded instrument may hold.
type Mode int

const (
	// ModeBoundedMultiplicity allows several concurrent legs per instrument.
	ModeBoundedMultiplicity Mode = iota
	// ModeSingleSlot allows at most one leg per instrument.
	ModeSingleSlot
)

func (m Mode) String() string {
	switch m {
	case ModeBoundedMultiplicity:
		return "bounded-multiplicity"
	case ModeSingleSlot:
		return "single-slot"
	default:
		return "unknown"
	}
}

// ParseMode parses a position_mode value.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bounded-multiplicity", "multi":
		return ModeBoundedMultiplicity, nil
	case "single-slot", "single":
		return ModeSingleSlot, nil
	default:
		return 0, fmt.Errorf("unknown position mode %q", s)
	}
}

// DefaultAllocation returns the per-entry equity fraction of the mode.
func (m Mode) DefaultAllocation() decimal.Decimal {
	if m == ModeSingleSlot {
		return decimal.NewFromInt(1).Div(decimal.NewFromInt(3))
	}
	return decimal.NewFromInt(1).Div(decimal.NewFromInt(6))
}

// Config holds engine configuration.
type Config struct {
	Pairs               []types.InstrumentPair
	Calendar            session.Calendar
	Mode                Mode
	EntryRatio          decimal.Decimal
	StopLossRatio       decimal.Decimal
	TakeProfitRatio     decimal.Decimal
	AllocationFraction  decimal.Decimal
	LiquidateAtEndOfDay bool
}

// DefaultConfig returns the default engine config for a mode.
func DefaultConfig(mode Mode) Config {
	return Config{
		Pairs:               types.DefaultPairs(),
		Calendar:            session.DefaultCalendar(),
		Mode:                mode,
		EntryRatio:          decimal.RequireFromString("0.995"),
		StopLossRatio:       decimal.RequireFromString("0.993"),
		TakeProfitRatio:     decimal.RequireFromString("1.015"),
		AllocationFraction:  mode.DefaultAllocation(),
		LiquidateAtEndOfDay: true,
	}
}

// Validate checks ratios, pairs and the calendar.
func (c Config) Validate() error {
	var errs []error
	one := decimal.NewFromInt(1)

	if !c.EntryRatio.IsPositive() || !c.EntryRatio.LessThan(one) {
		errs = append(errs, fmt.Errorf("entry_ratio must be in (0, 1), got %s", c.EntryRatio))
	}
	if !c.StopLossRatio.IsPositive() || !c.StopLossRatio.LessThan(one) {
		errs = append(errs, fmt.Errorf("stop_loss_ratio must be in (0, 1), got %s", c.StopLossRatio))
	}
	if !c.TakeProfitRatio.GreaterThan(one) {
		errs = append(errs, fmt.Errorf("take_profit_ratio must be > 1, got %s", c.TakeProfitRatio))
	}
	if !c.AllocationFraction.IsPositive() || c.AllocationFraction.GreaterThan(one) {
		errs = append(errs, fmt.Errorf("target_allocation_fraction must be in (0, 1], got %s", c.AllocationFraction))
	}
	if c.Mode != ModeBoundedMultiplicity && c.Mode != ModeSingleSlot {
		errs = append(errs, fmt.Errorf("unknown position mode %d", c.Mode))
	}

	if len(c.Pairs) == 0 {
		errs = append(errs, errors.New("at least one instrument pair is required"))
	}
	traded := make(map[string]bool)
	signals := make(map[string]bool)
	for _, p := range c.Pairs {
		if p.Signal == "" || p.Traded == "" {
			errs = append(errs, fmt.Errorf("pair %s: signal and traded are required: %w", p, types.ErrInvalidSymbol))
			continue
		}
		if traded[p.Traded] {
			errs = append(errs, fmt.Errorf("traded symbol %s appears in more than one pair", p.Traded))
		}
		if signals[p.Signal] {
			errs = append(errs, fmt.Errorf("signal symbol %s drives more than one traded symbol", p.Signal))
		}
		traded[p.Traded] = true
		signals[p.Signal] = true
	}

	if err := c.Calendar.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", types.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// instrument is the per-pair state machine owned by the engine.
type instrument struct {
	pair types.InstrumentPair
	book *book

	// exitAt is the timestamp of the last tick that closed a leg. Entries
	// carrying the same timestamp are refused.
	exitAt time.Time
}

// dailyStats accumulates the current session for the summary alert.
type dailyStats struct {
	day          session.Day
	entries      int
	trades       []types.Trade
	liquidations int
}

// Engine evaluates ticks and timer events for every instrument pair.
// All entry points are serialized by one mutex.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	market   Market
	router   OrderRouter
	sizer    Sizer
	journal  Journal
	alerter  alerting.Alerter
	recorder *metrics.Recorder

	onTrade    func(types.Trade)
	onSummary  func(alerting.DailySummary)
	equityFunc func() (start, end, high decimal.Decimal)

	mu          sync.Mutex
	gate        *session.Gate
	refs        *referenceTracker
	throttle    *throttle
	instruments map[string]*instrument // by traded symbol
	bySignal    map[string]*instrument
	order       []string // traded symbols, sorted
	lastPrice   map[string]decimal.Decimal
	orders      *orderTracker
	daily       dailyStats
	newID       func() string
}

// NewEngine creates an engine. Journal and alerter are optional and set with
// SetJournal / SetAlerter.
func NewEngine(cfg Config, market Market, router OrderRouter, sizer Sizer, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if market == nil || router == nil || sizer == nil {
		return nil, errors.New("engine requires a market, an order router and a sizer")
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:         cfg,
		logger:      logger.With("component", "engine"),
		market:      market,
		router:      router,
		sizer:       sizer,
		recorder:    metrics.NewRecorder(),
		gate:        session.NewGate(cfg.Calendar),
		refs:        newReferenceTracker(),
		throttle:    newThrottle(),
		instruments: make(map[string]*instrument, len(cfg.Pairs)),
		bySignal:    make(map[string]*instrument, len(cfg.Pairs)),
		lastPrice:   make(map[string]decimal.Decimal),
		orders:      newOrderTracker(),
		newID:       uuid.NewString,
	}

	for _, p := range cfg.Pairs {
		inst := &instrument{pair: p, book: newBook(cfg.Mode)}
		e.instruments[p.Traded] = inst
		e.bySignal[p.Signal] = inst
		e.order = append(e.order, p.Traded)
	}
	sort.Strings(e.order)

	return e, nil
}

// SetJournal installs the audit journal.
func (e *Engine) SetJournal(j Journal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.journal = j
}

// SetAlerter installs the alert channel. It should not block; wrap network
// alerters in alerting.AsyncAlerter.
func (e *Engine) SetAlerter(a alerting.Alerter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alerter = a
}

// SetTradeHandler registers a callback for every completed round trip.
// It runs under the engine lock and must not call back into the engine.
func (e *Engine) SetTradeHandler(fn func(types.Trade)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTrade = fn
}

// SetSummaryHandler registers a callback for the end-of-day summary.
// equity supplies the session's starting, current and peak equity.
func (e *Engine) SetSummaryHandler(fn func(alerting.DailySummary), equity func() (start, end, high decimal.Decimal)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSummary = fn
	e.equityFunc = equity
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// OnPrice evaluates one price observation.
func (e *Engine) OnPrice(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time) {
	e.Process(ctx, types.TickEvent(types.MarketEvent{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
	}))
}

// OnTimer applies one scheduled session event.
func (e *Engine) OnTimer(ctx context.Context, kind types.TimerKind, ts time.Time) {
	e.Process(ctx, types.TimerEvent(kind, ts))
}

// Process is the single entry point for ticks and timer events.
func (e *Engine) Process(ctx context.Context, ev types.Event) {
	timer := metrics.NewTimer()

	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Kind {
	case types.EventTick:
		e.handleTick(ctx, ev.Tick)
	case types.EventTimer:
		e.handleTimer(ctx, ev.Timer, ev.Time)
	}

	e.recorder.RecordHeartbeat()
	timer.ObserveTick()
}

func (e *Engine) handleTick(ctx context.Context, tick types.MarketEvent) {
	price := tick.Price()
	if !price.IsPositive() {
		e.logger.Warn("ignoring tick",
			"symbol", tick.Symbol,
			"price", price,
			"err", types.ErrInvalidPrice,
		)
		e.recorder.RecordError("invalid_price")
		return
	}
	e.lastPrice[tick.Symbol] = price

	if !e.gate.Allows(tick.Timestamp) {
		return
	}

	// Brackets are measured in the traded instrument's own price.
	if inst, ok := e.instruments[tick.Symbol]; ok {
		e.evaluateExits(ctx, inst, price, tick.Timestamp)
	}

	inst, ok := e.bySignal[tick.Symbol]
	if !ok {
		return
	}

	// Exits first; an instrument that closed at this timestamp, on either
	// symbol's tick, does not re-enter on it.
	if tradedPrice, ok := e.lastPrice[inst.pair.Traded]; ok {
		e.evaluateExits(ctx, inst, tradedPrice, tick.Timestamp)
	}
	e.evaluateEntry(ctx, inst, price, tick.Timestamp)
}

func (e *Engine) handleTimer(ctx context.Context, kind types.TimerKind, at time.Time) {
	tr := e.gate.Advance(kind, at)
	e.recorder.RecordSessionPhase(int(tr.To))

	if tr.Rollover {
		e.daily = dailyStats{day: tr.Day}
	}

	e.logger.Info("session timer",
		"event", kind.String(),
		"day", tr.Day.String(),
		"phase", tr.To.String(),
	)

	switch kind {
	case types.TimerReferenceCapture:
		for _, sym := range e.order {
			e.captureReference(ctx, e.instruments[sym], tr.Day, at)
		}
	case types.TimerEndOfDay:
		if tr.EnteredPostSession() {
			e.endOfDay(ctx, tr.Day, at)
		}
	}
}

// submit sends an order and records latency and outcome metrics.
func (e *Engine) submit(ctx context.Context, req types.OrderRequest) (string, error) {
	timer := metrics.NewTimer()
	id, err := e.router.SubmitOrder(ctx, req)
	timer.ObserveOrder()

	if err != nil {
		e.recorder.RecordOrder(req.Symbol, req.Kind.String(), "rejected")
		return "", fmt.Errorf("submit %s order %s: %w", req.Kind, req.Symbol, err)
	}
	if id == "" {
		id = req.ClientOrderID
	}
	e.recorder.RecordOrder(req.Symbol, req.Kind.String(), "submitted")
	return id, nil
}

// lookupPrice returns the freshest price for symbol: own ticks, then the host.
func (e *Engine) lookupPrice(symbol string) (decimal.Decimal, bool) {
	if p, ok := e.lastPrice[symbol]; ok {
		return p, true
	}
	return e.market.LastPrice(symbol)
}

func (e *Engine) alert(ctx context.Context, event alerting.AlertEvent, message string, fields ...any) {
	if err := alerting.Send(ctx, e.alerter, event, message, fields...); err != nil {
		e.logger.Warn("failed to send alert", "event", string(event), "err", err)
	}
}

// journalErr logs and counts a failed journal write.
func (e *Engine) journalErr(op string, err error) {
	if err == nil {
		return
	}
	e.logger.Error("journal write failed", "op", op, "err", err)
	e.recorder.RecordError("journal")
}

func (e *Engine) publishBook(inst *instrument) {
	e.recorder.RecordBook(inst.pair.Traded, len(inst.book.openLegs()), inst.book.netOpen())
}
