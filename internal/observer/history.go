package observer

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/session"
	"github.com/tathienbao/letf-intraday/internal/types"
)

// keepDays bounds how many session days of opening prices are retained.
const keepDays = 5

type symbolState struct {
	last     decimal.Decimal
	lastAt   time.Time
	halted   bool
	openings map[session.Day]decimal.Decimal
}

// BarHistory keeps the latest price and the session opening price of every
// symbol it has seen. It answers the engine's market queries.
type BarHistory struct {
	cal session.Calendar

	mu      sync.RWMutex
	symbols map[string]*symbolState
	days    []session.Day
}

// NewBarHistory creates an empty history for the given session calendar.
func NewBarHistory(cal session.Calendar) *BarHistory {
	return &BarHistory{
		cal:     cal,
		symbols: make(map[string]*symbolState),
	}
}

// Record stores an event. The first bar at or after the session open of a
// day sets that day's opening price; bars before the open or after the end
// of day never do.
func (h *BarHistory) Record(ev types.MarketEvent) {
	if !ev.Close.IsPositive() {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.symbols[ev.Symbol]
	if !ok {
		st = &symbolState{openings: make(map[session.Day]decimal.Decimal)}
		h.symbols[ev.Symbol] = st
	}
	if ev.Timestamp.Before(st.lastAt) {
		return
	}
	st.last = ev.Close
	st.lastAt = ev.Timestamp

	day := h.cal.Day(ev.Timestamp)
	if _, seen := st.openings[day]; seen {
		return
	}
	if ev.Timestamp.Before(h.cal.OpenAt(day)) || !ev.Timestamp.Before(h.cal.EndOfDayAt(day)) {
		return
	}
	open := ev.Open
	if !open.IsPositive() {
		open = ev.Close
	}
	st.openings[day] = open
	h.trackDay(day)
}

// trackDay remembers day and drops openings older than keepDays.
// Must be called with lock held.
func (h *BarHistory) trackDay(day session.Day) {
	for _, d := range h.days {
		if d == day {
			return
		}
	}
	h.days = append(h.days, day)
	if len(h.days) <= keepDays {
		return
	}
	drop := h.days[0]
	h.days = h.days[1:]
	for _, st := range h.symbols {
		delete(st.openings, drop)
	}
}

// OpeningPrice returns the opening trade price of symbol on day.
func (h *BarHistory) OpeningPrice(symbol string, day session.Day) (decimal.Decimal, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st, ok := h.symbols[symbol]
	if !ok {
		return decimal.Zero, false
	}
	p, ok := st.openings[day]
	return p, ok
}

// LastPrice returns the latest recorded price of symbol.
func (h *BarHistory) LastPrice(symbol string) (decimal.Decimal, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st, ok := h.symbols[symbol]
	if !ok {
		return decimal.Zero, false
	}
	return st.last, true
}

// LastUpdate returns when symbol was last recorded.
func (h *BarHistory) LastUpdate(symbol string) (time.Time, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st, ok := h.symbols[symbol]
	if !ok {
		return time.Time{}, false
	}
	return st.lastAt, true
}

// Tradable reports whether symbol has a price and is not halted.
func (h *BarHistory) Tradable(symbol string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st, ok := h.symbols[symbol]
	return ok && !st.halted
}

// SetHalted marks symbol as halted or resumed.
func (h *BarHistory) SetHalted(symbol string, halted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.symbols[symbol]
	if !ok {
		st = &symbolState{openings: make(map[session.Day]decimal.Decimal)}
		h.symbols[symbol] = st
	}
	st.halted = halted
}
