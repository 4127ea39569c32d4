package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/alerting"
	"github.com/tathienbao/letf-intraday/internal/persistence"
	"github.com/tathienbao/letf-intraday/internal/session"
	"github.com/tathienbao/letf-intraday/internal/types"
)

// pendingOrder correlates a submitted order with the legs it affects.
type pendingOrder struct {
	id       string
	clientID string
	kind     types.OrderKind
	symbol   string
	legIDs   []string
	quantity int64
	day      session.Day

	// Open orders: throttle value before arming, restored on a zero-fill failure.
	prevThrottle session.Day

	// Close orders: exit reason for the trade audit.
	reason string

	// Liquidation orders, and closes detached from the book at end of day:
	// positions being flattened, for the trade audit.
	positions []liquidatedLeg

	filled    int64
	fillPrice decimal.Decimal
}

type liquidatedLeg struct {
	pos             types.Position
	entryCommission decimal.Decimal
}

// orderTracker holds outstanding orders, plus the orders of the previous
// session dropped at end of day and the recently reconciled IDs. Two
// generations are kept so late notifications are still recognized.
type orderTracker struct {
	pending        map[string]*pendingOrder
	retired        map[string]*pendingOrder
	reconciled     map[string]types.OrderStatus
	prevReconciled map[string]types.OrderStatus
}

func newOrderTracker() *orderTracker {
	return &orderTracker{
		pending:        make(map[string]*pendingOrder),
		retired:        make(map[string]*pendingOrder),
		reconciled:     make(map[string]types.OrderStatus),
		prevReconciled: make(map[string]types.OrderStatus),
	}
}

func (t *orderTracker) add(p *pendingOrder) {
	t.pending[p.id] = p
}

func (t *orderTracker) resolve(id string, status types.OrderStatus) {
	delete(t.pending, id)
	delete(t.retired, id)
	t.reconciled[id] = status
}

func (t *orderTracker) wasReconciled(id string) bool {
	if _, ok := t.reconciled[id]; ok {
		return true
	}
	_, ok := t.prevReconciled[id]
	return ok
}

// retire moves every outstanding order except keep into the retired set and
// rotates the reconciled generations.
func (t *orderTracker) retire(keep map[string]bool) {
	retired := make(map[string]*pendingOrder)
	for id, p := range t.pending {
		if keep[id] {
			continue
		}
		retired[id] = p
		delete(t.pending, id)
	}
	t.retired = retired
	t.rotate()
}

// rotate starts a new generation of reconciled IDs.
func (t *orderTracker) rotate() {
	t.prevReconciled = t.reconciled
	t.reconciled = make(map[string]types.OrderStatus)
}

// OnFill reconciles an order acknowledgement with the book. Notifications for
// unknown or already reconciled orders are no-ops and return ErrUnknownOrder
// or ErrDuplicateFill for the caller's information.
func (e *Engine) OnFill(ctx context.Context, fill types.FillEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.orders.wasReconciled(fill.OrderID) {
		e.recorder.RecordIgnoredFill("duplicate")
		e.logger.Debug("ignoring fill for reconciled order",
			"order_id", fill.OrderID,
			"status", fill.Status.String(),
		)
		return fmt.Errorf("order %s: %w", fill.OrderID, types.ErrDuplicateFill)
	}

	p, ok := e.orders.pending[fill.OrderID]
	if !ok {
		if r, ok := e.orders.retired[fill.OrderID]; ok {
			e.lateFill(ctx, r, fill)
			return nil
		}
		e.recorder.RecordIgnoredFill("unknown")
		e.logger.Debug("ignoring fill for unknown order",
			"order_id", fill.OrderID,
			"symbol", fill.Symbol,
		)
		return fmt.Errorf("order %s: %w", fill.OrderID, types.ErrUnknownOrder)
	}

	if fill.Status == types.OrderStatusPartialFill {
		p.filled = fill.FilledQty
		p.fillPrice = fill.AvgFillPrice
		e.logger.Debug("partial fill",
			"order_id", p.id,
			"symbol", p.symbol,
			"filled", fill.FilledQty,
			"of", p.quantity,
		)
		return nil
	}
	if !fill.Status.IsFinal() {
		return nil
	}

	if fill.Status == types.OrderStatusFilled && (p.kind != types.OrderKindOpen || validOpenFill(p, fill)) {
		e.logTrade(ctx, p, fill)
	}

	switch p.kind {
	case types.OrderKindOpen:
		e.reconcileOpen(ctx, p, fill)
	case types.OrderKindClose:
		e.reconcileClose(ctx, p, fill)
	case types.OrderKindLiquidation:
		e.reconcileLiquidation(ctx, p, fill)
	}

	e.orders.resolve(p.id, fill.Status)
	if e.journal != nil {
		e.journalErr("update_order", e.journal.UpdateOrderStatus(ctx, p.id, fill.Status, fill.FilledQty, fill.AvgFillPrice))
	}
	return nil
}

func (e *Engine) reconcileOpen(ctx context.Context, p *pendingOrder, fill types.FillEvent) {
	inst := e.instruments[p.symbol]
	l := inst.book.get(p.legIDs[0])
	if l == nil {
		e.logger.Warn("open fill for missing leg", "order_id", p.id, "leg_id", p.legIDs[0])
		return
	}

	outcome := fill.Status.String()
	if fill.FilledQty != 0 && !validOpenFill(p, fill) {
		e.recorder.RecordError("malformed_fill")
		e.logger.Error("open fill with invalid price or side; treating entry as failed",
			"order_id", p.id,
			"symbol", p.symbol,
			"filled", fill.FilledQty,
			"requested", p.quantity,
			"price", fill.AvgFillPrice,
		)
		outcome = "malformed fill"
	} else if fill.FilledQty != 0 {
		if fill.Status.IsFailure() {
			e.logger.Warn("open order ended with a partial fill; keeping filled quantity",
				"order_id", p.id,
				"symbol", p.symbol,
				"status", fill.Status.String(),
				"filled", fill.FilledQty,
				"requested", p.quantity,
			)
		}
		l.open(fill.FilledQty, fill.AvgFillPrice, fill.Commission, fill.FilledAt)
		e.publishBook(inst)

		stop, take := e.bracket(l.pos.EntryPrice)
		e.logger.Info("position opened",
			"symbol", l.symbol,
			"leg_id", l.id,
			"qty", l.pos.Quantity,
			"entry", l.pos.EntryPrice,
			"stop", stop,
			"take", take,
		)
		e.alert(ctx, alerting.EventPositionOpened, "Position opened",
			"symbol", l.symbol,
			"qty", l.pos.Quantity,
			"entry", l.pos.EntryPrice.StringFixed(4),
		)
		if e.journal != nil {
			e.journalErr("save_leg", e.journal.SaveLeg(ctx, legRecord(l, fill.FilledAt)))
		}
		return
	}

	// Nothing filled: drop the leg and give the instrument its entry back.
	inst.book.remove(l.id)
	if e.throttle.rollback(p.symbol, p.day, p.prevThrottle) {
		e.recorder.RecordThrottle(p.symbol, e.throttle.isArmed(p.symbol, e.gate.Day()))
		if e.journal != nil {
			e.journalErr("save_throttle", e.journal.SaveThrottle(ctx, p.symbol, p.prevThrottle.String()))
		}
	}
	e.recorder.RecordOrder(p.symbol, p.kind.String(), "rejected")

	e.logger.Warn("entry order failed; throttle rolled back",
		"order_id", p.id,
		"symbol", p.symbol,
		"status", outcome,
		"reason", fill.RejectReason,
	)
	e.alert(ctx, alerting.EventOrderRejected, "Entry order "+outcome,
		"symbol", p.symbol,
		"reason", fill.RejectReason,
	)
	if e.journal != nil {
		e.journalErr("delete_leg", e.journal.DeleteLeg(ctx, l.id))
	}
}

// validOpenFill reports whether a non-empty open fill can become a leg: a
// positive price and shares on the side that was ordered.
func validOpenFill(p *pendingOrder, fill types.FillEvent) bool {
	return fill.AvgFillPrice.IsPositive() && (fill.FilledQty > 0) == (p.quantity > 0)
}

func (e *Engine) reconcileClose(ctx context.Context, p *pendingOrder, fill types.FillEvent) {
	inst := e.instruments[p.symbol]
	l := inst.book.get(p.legIDs[0])
	if l == nil {
		if len(p.positions) > 0 {
			e.reconcileDetachedClose(ctx, p, fill)
			return
		}
		e.logger.Warn("close fill for missing leg", "order_id", p.id, "leg_id", p.legIDs[0])
		return
	}

	if fill.Status == types.OrderStatusFilled {
		inst.book.remove(l.id)
		l.state = legClosed
		e.recordTrade(ctx, l.pos, l.entryCommission, fill.AvgFillPrice, fill.Commission, fill.FilledAt, l.exitReason)
		e.publishBook(inst)
		if e.journal != nil {
			e.journalErr("delete_leg", e.journal.DeleteLeg(ctx, l.id))
		}
		return
	}

	// Failed close. Any shares that did sell are booked as a trade and the
	// remainder goes back to open.
	if fill.FilledQty != 0 {
		closed := l.pos
		closed.Quantity = -fill.FilledQty
		share := decimal.NewFromInt(closed.Quantity).Div(decimal.NewFromInt(l.pos.Quantity))
		entryComm := l.entryCommission.Mul(share)
		e.recordTrade(ctx, closed, entryComm, fill.AvgFillPrice, fill.Commission, fill.FilledAt, l.exitReason)

		l.pos.Quantity += fill.FilledQty
		l.entryCommission = l.entryCommission.Sub(entryComm)
	}

	if l.pos.Quantity == 0 {
		inst.book.remove(l.id)
		l.state = legClosed
		if e.journal != nil {
			e.journalErr("delete_leg", e.journal.DeleteLeg(ctx, l.id))
		}
	} else {
		reason := l.exitReason
		l.reopen()
		e.logger.Warn("close order failed; position restored",
			"order_id", p.id,
			"symbol", p.symbol,
			"leg_id", l.id,
			"exit_reason", reason,
			"status", fill.Status.String(),
			"qty", l.pos.Quantity,
		)
		e.alert(ctx, alerting.EventOrderRejected, "Close order "+fill.Status.String()+"; position restored",
			"symbol", p.symbol,
			"qty", l.pos.Quantity,
			"reason", fill.RejectReason,
		)
		if e.journal != nil {
			e.journalErr("save_leg", e.journal.SaveLeg(ctx, legRecord(l, fill.FilledAt)))
		}
	}
	e.recorder.RecordOrder(p.symbol, p.kind.String(), "rejected")
	e.publishBook(inst)
}

// reconcileDetachedClose books a close whose leg was cleared from the book
// at end of day.
func (e *Engine) reconcileDetachedClose(ctx context.Context, p *pendingOrder, fill types.FillEvent) {
	lq := p.positions[0]
	if fill.Status == types.OrderStatusFilled {
		e.recordTrade(ctx, lq.pos, lq.entryCommission, fill.AvgFillPrice, fill.Commission, fill.FilledAt, p.reason)
		return
	}

	e.logger.Error("close order failed after the book was reset",
		"order_id", p.id,
		"symbol", p.symbol,
		"status", fill.Status.String(),
		"filled", fill.FilledQty,
		"qty", lq.pos.Quantity,
	)
	e.alert(ctx, alerting.EventStrayFill, "Unmanaged position after failed close",
		"symbol", p.symbol,
		"qty", lq.pos.Quantity+fill.FilledQty,
		"reason", fill.RejectReason,
	)
}

func (e *Engine) reconcileLiquidation(ctx context.Context, p *pendingOrder, fill types.FillEvent) {
	if fill.Status != types.OrderStatusFilled {
		e.logger.Error("liquidation order failed",
			"order_id", p.id,
			"symbol", p.symbol,
			"status", fill.Status.String(),
			"filled", fill.FilledQty,
			"qty", p.quantity,
			"reason", fill.RejectReason,
		)
		e.recorder.RecordOrder(p.symbol, p.kind.String(), "rejected")
		e.alert(ctx, alerting.EventLiquidationFailed, "End-of-day liquidation "+fill.Status.String(),
			"symbol", p.symbol,
			"qty", p.quantity,
			"filled", fill.FilledQty,
			"reason", fill.RejectReason,
		)
		return
	}

	reason := p.reason
	if reason == "" {
		reason = types.ExitEndOfDay
	}
	// Commission is shared pro rata across the flattened legs.
	total := decimal.NewFromInt(p.quantity).Abs()
	for _, lq := range p.positions {
		comm := decimal.Zero
		if total.IsPositive() {
			comm = fill.Commission.Mul(decimal.NewFromInt(lq.pos.Quantity).Abs()).Div(total)
		}
		e.recordTrade(ctx, lq.pos, lq.entryCommission, fill.AvgFillPrice, comm, fill.FilledAt, reason)
	}
}

// lateFill handles a notification for an order dropped at end of day.
func (e *Engine) lateFill(ctx context.Context, p *pendingOrder, fill types.FillEvent) {
	if !fill.Status.IsFinal() {
		return
	}
	e.orders.resolve(p.id, fill.Status)
	e.recorder.RecordIgnoredFill("late")

	if fill.FilledQty == 0 {
		e.logger.Info("late order outcome after book reset",
			"order_id", p.id,
			"symbol", p.symbol,
			"kind", p.kind.String(),
			"status", fill.Status.String(),
		)
		return
	}

	// Shares moved after the book was reset; an operator has to look.
	e.logger.Error("fill after book reset",
		"order_id", p.id,
		"symbol", p.symbol,
		"kind", p.kind.String(),
		"status", fill.Status.String(),
		"filled", fill.FilledQty,
		"price", fill.AvgFillPrice,
	)
	e.alert(ctx, alerting.EventStrayFill, "Fill after book reset",
		"symbol", p.symbol,
		"kind", p.kind.String(),
		"filled", fill.FilledQty,
		"price", fill.AvgFillPrice.String(),
	)
	if e.journal != nil {
		e.journalErr("update_order", e.journal.UpdateOrderStatus(ctx, p.id, fill.Status, fill.FilledQty, fill.AvgFillPrice))
	}
}

// recordTrade books a completed round trip.
func (e *Engine) recordTrade(ctx context.Context, pos types.Position, entryComm, exitPrice, exitComm decimal.Decimal, at time.Time, reason string) {
	trade := types.NewTrade(e.newID(), pos, exitPrice, at, entryComm.Add(exitComm), reason)
	e.daily.trades = append(e.daily.trades, trade)
	e.recorder.RecordTrade(trade.Symbol, reason, trade.NetPL.IsPositive())

	e.logger.Info("position closed",
		"symbol", trade.Symbol,
		"leg_id", trade.PositionID,
		"reason", reason,
		"qty", trade.Quantity,
		"entry", trade.EntryPrice,
		"exit", trade.ExitPrice,
		"net_pl", trade.NetPL.StringFixed(2),
	)
	e.alert(ctx, alerting.EventPositionClosed, "Position closed",
		"symbol", trade.Symbol,
		"reason", reason,
		"net_pl", trade.NetPL.StringFixed(2),
	)

	if e.journal != nil {
		e.journalErr("save_trade", e.journal.SaveTrade(ctx, trade))
	}
	if e.onTrade != nil {
		e.onTrade(trade)
	}
}

// logTrade writes the per-fill trade line.
func (e *Engine) logTrade(ctx context.Context, p *pendingOrder, fill types.FillEvent) {
	e.logger.Info(fmt.Sprintf("TRADE | %s | %s | %s | Qty: %d | Price: %s",
		fill.FilledAt.Format("2006-01-02 15:04:05"),
		p.symbol,
		types.Action(fill.FilledQty),
		fill.FilledQty,
		fill.AvgFillPrice.StringFixed(4),
	),
		"order_id", p.id,
		"kind", p.kind.String(),
	)
	e.recorder.RecordOrder(p.symbol, p.kind.String(), "filled")
	e.alert(ctx, alerting.EventOrderFilled, "Order filled",
		"symbol", p.symbol,
		"side", types.Action(fill.FilledQty),
		"qty", fill.FilledQty,
		"price", fill.AvgFillPrice.StringFixed(4),
		"kind", p.kind.String(),
	)
}

func legRecord(l *leg, at time.Time) persistence.LegRecord {
	qty := l.requested
	if l.state != legPendingOpen {
		qty = l.pos.Quantity
	}
	return persistence.LegRecord{
		ID:              l.id,
		Symbol:          l.symbol,
		State:           l.state.String(),
		Quantity:        qty,
		EntryPrice:      l.pos.EntryPrice,
		EntryCommission: l.entryCommission,
		OpenedAt:        l.pos.OpenedAt,
		OpenOrderID:     l.openOrderID,
		CloseOrderID:    l.closeOrderID,
		ExitReason:      l.exitReason,
		UpdatedAt:       at,
	}
}
