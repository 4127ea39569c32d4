package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/session"
	"github.com/tathienbao/letf-intraday/internal/types"
)

// Snapshot is a read-only view of engine state, served on the metrics
// server's /state endpoint and printed by the state command.
type Snapshot struct {
	Day          string               `json:"day"`
	Phase        string               `json:"phase"`
	Mode         string               `json:"mode"`
	References   []Reference          `json:"references"`
	Instruments  []InstrumentSnapshot `json:"instruments"`
	Orders       []OrderSnapshot      `json:"orders"`
	Entries      int                  `json:"entries_today"`
	Trades       int                  `json:"trades_today"`
	Liquidations int                  `json:"liquidations_today"`
}

// InstrumentSnapshot describes one traded instrument.
type InstrumentSnapshot struct {
	Signal    string          `json:"signal"`
	Traded    string          `json:"traded"`
	Throttle  string          `json:"throttle_day,omitempty"`
	LastPrice decimal.Decimal `json:"last_price"`
	NetOpen   int64           `json:"net_open"`
	Legs      []LegSnapshot   `json:"legs"`
}

// LegSnapshot describes one live leg with its bracket.
type LegSnapshot struct {
	ID           string          `json:"id"`
	State        string          `json:"state"`
	Quantity     int64           `json:"quantity"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	StopLoss     decimal.Decimal `json:"stop_loss"`
	TakeProfit   decimal.Decimal `json:"take_profit"`
	OpenedAt     time.Time       `json:"opened_at"`
	OpenOrderID  string          `json:"open_order_id,omitempty"`
	CloseOrderID string          `json:"close_order_id,omitempty"`
	ExitReason   string          `json:"exit_reason,omitempty"`
}

// OrderSnapshot describes an outstanding order.
type OrderSnapshot struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Symbol   string   `json:"symbol"`
	Quantity int64    `json:"quantity"`
	Filled   int64    `json:"filled"`
	LegIDs   []string `json:"leg_ids"`
	Retired  bool     `json:"retired,omitempty"`
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Day:          e.gate.Day().String(),
		Phase:        e.gate.Phase().String(),
		Mode:         e.cfg.Mode.String(),
		References:   e.refs.all(),
		Entries:      e.daily.entries,
		Trades:       len(e.daily.trades),
		Liquidations: e.daily.liquidations,
	}

	for _, sym := range e.order {
		inst := e.instruments[sym]
		is := InstrumentSnapshot{
			Signal:    inst.pair.Signal,
			Traded:    sym,
			Throttle:  e.throttle.day(sym).String(),
			LastPrice: e.lastPrice[sym],
			NetOpen:   inst.book.netOpen(),
			Legs:      make([]LegSnapshot, 0, len(inst.book.legs)),
		}
		for _, l := range inst.book.legs {
			ls := LegSnapshot{
				ID:           l.id,
				State:        l.state.String(),
				Quantity:     l.requested,
				OpenOrderID:  l.openOrderID,
				CloseOrderID: l.closeOrderID,
				ExitReason:   l.exitReason,
			}
			if l.state != legPendingOpen {
				ls.Quantity = l.pos.Quantity
				ls.EntryPrice = l.pos.EntryPrice
				ls.StopLoss, ls.TakeProfit = e.bracket(l.pos.EntryPrice)
				ls.OpenedAt = l.pos.OpenedAt
			}
			is.Legs = append(is.Legs, ls)
		}
		s.Instruments = append(s.Instruments, is)
	}

	add := func(p *pendingOrder, retired bool) {
		s.Orders = append(s.Orders, OrderSnapshot{
			ID:       p.id,
			Kind:     p.kind.String(),
			Symbol:   p.symbol,
			Quantity: p.quantity,
			Filled:   p.filled,
			LegIDs:   p.legIDs,
			Retired:  retired,
		})
	}
	for _, p := range e.orders.pending {
		add(p, false)
	}
	for _, p := range e.orders.retired {
		add(p, true)
	}
	sort.Slice(s.Orders, func(i, j int) bool { return s.Orders[i].ID < s.Orders[j].ID })

	return s
}

// SessionState returns the gate's day and phase.
func (e *Engine) SessionState() (session.Day, session.Phase) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gate.Day(), e.gate.Phase()
}

// Restore rebuilds legs, outstanding orders, references and throttles from
// journaled state. It must run before the first event. When references for
// a session survive, the gate resumes that session's active window.
func (e *Engine) Restore(ctx context.Context, src StateSource) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	legs, err := src.GetLegs(ctx)
	if err != nil {
		return fmt.Errorf("restore legs: %w", err)
	}
	orders, err := src.GetPendingOrders(ctx)
	if err != nil {
		return fmt.Errorf("restore orders: %w", err)
	}
	refs, err := src.GetReferences(ctx)
	if err != nil {
		return fmt.Errorf("restore references: %w", err)
	}
	throttles, err := src.GetThrottles(ctx)
	if err != nil {
		return fmt.Errorf("restore throttles: %w", err)
	}

	restoredLegs := 0
	for _, rec := range legs {
		inst, ok := e.instruments[rec.Symbol]
		if !ok {
			e.logger.Warn("restore: leg for unconfigured symbol", "leg_id", rec.ID, "symbol", rec.Symbol)
			continue
		}
		st, ok := parseLegState(rec.State)
		if !ok || st == legClosed {
			continue
		}
		l := &leg{
			id:           rec.ID,
			symbol:       rec.Symbol,
			state:        st,
			requested:    rec.Quantity,
			openOrderID:  rec.OpenOrderID,
			closeOrderID: rec.CloseOrderID,
			exitReason:   rec.ExitReason,
		}
		if st != legPendingOpen {
			l.pos = types.Position{
				ID:         rec.ID,
				Symbol:     rec.Symbol,
				Quantity:   rec.Quantity,
				EntryPrice: rec.EntryPrice,
				OpenedAt:   rec.OpenedAt,
				OrderID:    rec.OpenOrderID,
			}
			l.entryCommission = rec.EntryCommission
		}
		inst.book.add(l)
		restoredLegs++
	}

	restoredOrders := 0
	for _, rec := range orders {
		inst, ok := e.instruments[rec.Symbol]
		if !ok {
			e.logger.Warn("restore: order for unconfigured symbol", "order_id", rec.OrderID, "symbol", rec.Symbol)
			continue
		}
		p := &pendingOrder{
			id:           rec.OrderID,
			clientID:     rec.ClientOrderID,
			kind:         rec.Kind,
			symbol:       rec.Symbol,
			legIDs:       rec.LegIDs,
			quantity:     rec.Quantity,
			day:          session.Day(rec.Day),
			prevThrottle: session.Day(rec.PrevThrottle),
			reason:       rec.Reason,
			filled:       rec.FilledQty,
			fillPrice:    rec.FilledPrice,
		}
		if rec.Kind != types.OrderKindLiquidation {
			if len(rec.LegIDs) == 0 || inst.book.get(rec.LegIDs[0]) == nil {
				e.logger.Warn("restore: order without a live leg", "order_id", rec.OrderID, "kind", rec.Kind.String())
				continue
			}
		} else {
			// Flattened legs are not journaled; the fill is reconciled without
			// a trade record.
			e.logger.Warn("restore: liquidation order outstanding", "order_id", rec.OrderID, "symbol", rec.Symbol, "qty", rec.Quantity)
		}
		e.orders.add(p)
		restoredOrders++
	}

	for sym, day := range throttles {
		if _, ok := e.instruments[sym]; !ok {
			continue
		}
		e.throttle.set(sym, session.Day(day))
		e.recorder.RecordThrottle(sym, day != "")
	}

	var refDay session.Day
	for _, rec := range refs {
		if _, ok := e.bySignal[rec.Signal]; !ok {
			continue
		}
		ref := Reference{
			Signal:     rec.Signal,
			Price:      rec.Price,
			Day:        session.Day(rec.Day),
			CapturedAt: rec.CapturedAt,
			Degraded:   rec.Degraded,
		}
		e.refs.set(ref)
		e.recorder.RecordReference(ref.Signal, ref.Price, ref.Degraded)
		if ref.Day > refDay {
			refDay = ref.Day
		}
	}
	if !refDay.IsZero() {
		e.gate.Restore(refDay, session.PhaseActive)
		e.daily = dailyStats{day: refDay}
		e.recorder.RecordSessionPhase(int(session.PhaseActive))
	}

	for _, sym := range e.order {
		e.publishBook(e.instruments[sym])
	}

	e.logger.Info("state restored",
		"legs", restoredLegs,
		"orders", restoredOrders,
		"references", len(refs),
		"throttles", len(throttles),
		"day", e.gate.Day().String(),
		"phase", e.gate.Phase().String(),
	)
	return nil
}
