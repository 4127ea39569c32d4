package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/alerting"
	"github.com/tathienbao/letf-intraday/internal/persistence"
	"github.com/tathienbao/letf-intraday/internal/types"
)

// evaluateEntry opens a leg on inst's traded instrument when the signal price
// drops below reference * entry_ratio. Returns true if an order was submitted.
func (e *Engine) evaluateEntry(ctx context.Context, inst *instrument, price decimal.Decimal, ts time.Time) bool {
	traded := inst.pair.Traded
	day := e.gate.Day()

	ref, err := e.refs.current(inst.pair.Signal, day)
	if err != nil {
		return false
	}
	if !price.LessThan(ref.Price.Mul(e.cfg.EntryRatio)) {
		return false
	}

	// The trigger fired; every skip from here on is worth counting.
	if ts.Equal(inst.exitAt) {
		e.recorder.RecordEntrySkipped("exit_this_tick")
		e.logger.Debug("entry skipped: exit at this timestamp", "symbol", traded, "ts", ts)
		return false
	}
	if e.throttle.isArmed(traded, day) {
		e.recorder.RecordEntrySkipped("throttled")
		e.logger.Debug("entry skipped", "symbol", traded, "err", types.ErrThrottled)
		return false
	}
	if !inst.book.canEnter() {
		e.recorder.RecordEntrySkipped("slot_occupied")
		e.logger.Debug("entry skipped", "symbol", traded, "err", types.ErrSlotOccupied)
		return false
	}
	if !e.market.Tradable(traded) {
		e.recorder.RecordEntrySkipped("not_tradable")
		e.logger.Debug("entry skipped", "symbol", traded, "err", types.ErrNotTradable)
		return false
	}

	tradedPrice, ok := e.lookupPrice(traded)
	if !ok || !tradedPrice.IsPositive() {
		e.recorder.RecordEntrySkipped("no_price")
		e.logger.Warn("entry skipped", "symbol", traded, "err", types.ErrDataUnavailable)
		return false
	}

	qty, err := e.sizer.SizeForAllocation(ctx, traded, e.cfg.AllocationFraction, tradedPrice)
	if err != nil {
		e.recorder.RecordEntrySkipped("sizer_error")
		e.logger.Warn("entry skipped: sizing failed", "symbol", traded, "err", err)
		return false
	}
	if qty <= 0 {
		e.recorder.RecordEntrySkipped("zero_size")
		e.logger.Debug("entry skipped: zero size", "symbol", traded, "price", tradedPrice)
		return false
	}

	// Arm before submission so later ticks cannot submit again while the
	// order is in flight.
	prev := e.throttle.arm(traded, day)

	l := &leg{
		id:        e.newID(),
		symbol:    traded,
		state:     legPendingOpen,
		requested: qty,
	}
	req := types.OrderRequest{
		ClientOrderID: e.newID(),
		Timestamp:     ts,
		Symbol:        traded,
		Quantity:      qty,
		Kind:          types.OrderKindOpen,
		Reason:        "entry",
		RefPrice:      price,
	}

	orderID, err := e.submit(ctx, req)
	if err != nil {
		e.throttle.rollback(traded, day, prev)
		e.logger.Warn("entry order rejected on submit",
			"symbol", traded,
			"qty", qty,
			"err", err,
		)
		e.alert(ctx, alerting.EventOrderRejected, "Entry order rejected",
			"symbol", traded,
			"qty", qty,
			"error", err.Error(),
		)
		return false
	}

	l.openOrderID = orderID
	inst.book.add(l)
	e.orders.add(&pendingOrder{
		id:           orderID,
		clientID:     req.ClientOrderID,
		kind:         types.OrderKindOpen,
		symbol:       traded,
		legIDs:       []string{l.id},
		quantity:     qty,
		day:          day,
		prevThrottle: prev,
	})
	e.daily.entries++
	e.recorder.RecordThrottle(traded, true)

	e.logger.Info("entry order submitted",
		"order_id", orderID,
		"symbol", traded,
		"signal", inst.pair.Signal,
		"signal_price", price,
		"reference", ref.Price,
		"qty", qty,
		"price", tradedPrice,
	)

	if e.journal != nil {
		e.journalErr("save_order", e.journal.SaveOrder(ctx, persistence.OrderRecord{
			OrderID:       orderID,
			ClientOrderID: req.ClientOrderID,
			Symbol:        traded,
			Kind:          types.OrderKindOpen,
			LegIDs:        []string{l.id},
			Quantity:      qty,
			RefPrice:      price,
			Reason:        req.Reason,
			Day:           day.String(),
			PrevThrottle:  prev.String(),
			Status:        types.OrderStatusPending,
			CreatedAt:     ts,
			UpdatedAt:     ts,
		}))
		e.journalErr("save_leg", e.journal.SaveLeg(ctx, legRecord(l, ts)))
		e.journalErr("save_throttle", e.journal.SaveThrottle(ctx, traded, day.String()))
	}

	return true
}
