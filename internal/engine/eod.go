package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/alerting"
	"github.com/tathienbao/letf-intraday/internal/persistence"
	"github.com/tathienbao/letf-intraday/internal/session"
	"github.com/tathienbao/letf-intraday/internal/types"
)

// endOfDay runs on the day's ACTIVE -> POST_SESSION edge.
//
// With liquidation enabled every instrument is flattened by one market order
// for the net quantity of its open legs, pending entries are cancelled and
// the book and outstanding orders are cleared. The throttle is left alone;
// the next reference capture re-arms it.
func (e *Engine) endOfDay(ctx context.Context, day session.Day, at time.Time) {
	defer e.sendSummary(ctx, day)

	e.refs.reset()
	if e.journal != nil {
		e.journalErr("delete_references", e.journal.DeleteReferences(ctx))
	}

	if !e.cfg.LiquidateAtEndOfDay {
		e.orders.rotate()
		e.logger.Info("end of day: liquidation disabled, positions carry over",
			"day", day.String(),
		)
		return
	}

	keep := make(map[string]bool)
	orders := 0
	for _, sym := range e.order {
		ids, liquidated := e.liquidate(ctx, e.instruments[sym], types.ExitEndOfDay, at)
		for _, id := range ids {
			keep[id] = true
		}
		if liquidated {
			orders++
		}
	}
	e.orders.retire(keep)

	e.logger.Info("end of day: book flattened",
		"day", day.String(),
		"liquidation_orders", orders,
	)
}

// liquidate flattens one instrument. It returns the IDs of orders that stay
// tracked after the book is cleared (in-flight closes and the liquidation
// order) and whether a liquidation order was placed.
func (e *Engine) liquidate(ctx context.Context, inst *instrument, reason string, at time.Time) ([]string, bool) {
	traded := inst.pair.Traded

	for _, l := range inst.book.inState(legPendingOpen) {
		if err := e.router.CancelOrder(ctx, l.openOrderID); err != nil {
			e.logger.Warn("cancel pending entry",
				"order_id", l.openOrderID,
				"symbol", traded,
				"err", err,
			)
		}
	}

	// In-flight closes flatten their own legs; detach them from the book so
	// their fills are still booked as trades.
	var keep []string
	for _, l := range inst.book.inState(legPendingClose) {
		if p, ok := e.orders.pending[l.closeOrderID]; ok {
			p.positions = []liquidatedLeg{{pos: l.pos, entryCommission: l.entryCommission}}
			keep = append(keep, p.id)
		}
	}

	var legs []liquidatedLeg
	var legIDs []string
	for _, l := range inst.book.openLegs() {
		legs = append(legs, liquidatedLeg{pos: l.pos, entryCommission: l.entryCommission})
		legIDs = append(legIDs, l.id)
	}
	net := inst.book.netOpen()

	if e.journal != nil {
		for _, l := range inst.book.legs {
			e.journalErr("delete_leg", e.journal.DeleteLeg(ctx, l.id))
		}
	}
	inst.book.clear()
	e.publishBook(inst)

	if net == 0 {
		return keep, false
	}

	req := types.OrderRequest{
		ClientOrderID: e.newID(),
		Timestamp:     at,
		Symbol:        traded,
		Quantity:      -net,
		Kind:          types.OrderKindLiquidation,
		Reason:        reason,
	}
	orderID, err := e.submit(ctx, req)
	if err != nil {
		e.logger.Error("liquidation order failed",
			"symbol", traded,
			"qty", req.Quantity,
			"err", err,
		)
		e.alert(ctx, alerting.EventLiquidationFailed, "Liquidation order could not be placed",
			"symbol", traded,
			"qty", req.Quantity,
			"error", err.Error(),
		)
		return keep, false
	}

	e.orders.add(&pendingOrder{
		id:        orderID,
		clientID:  req.ClientOrderID,
		kind:      types.OrderKindLiquidation,
		symbol:    traded,
		legIDs:    legIDs,
		quantity:  req.Quantity,
		day:       e.gate.Day(),
		reason:    reason,
		positions: legs,
	})
	e.daily.liquidations++
	e.recorder.RecordLiquidation(traded)

	e.logger.Info("liquidation order submitted",
		"order_id", orderID,
		"symbol", traded,
		"qty", req.Quantity,
		"legs", len(legs),
		"reason", reason,
	)
	e.alert(ctx, alerting.EventEndOfDayLiquidation, "Liquidating "+traded,
		"qty", req.Quantity,
		"legs", len(legs),
		"reason", reason,
	)

	if e.journal != nil {
		e.journalErr("save_order", e.journal.SaveOrder(ctx, persistence.OrderRecord{
			OrderID:       orderID,
			ClientOrderID: req.ClientOrderID,
			Symbol:        traded,
			Kind:          types.OrderKindLiquidation,
			LegIDs:        legIDs,
			Quantity:      req.Quantity,
			Reason:        reason,
			Day:           e.gate.Day().String(),
			Status:        types.OrderStatusPending,
			CreatedAt:     at,
			UpdatedAt:     at,
		}))
	}
	return append(keep, orderID), true
}

// FlattenAll liquidates every instrument immediately, regardless of session
// phase. Used on shutdown when positions must not be left overnight.
func (e *Engine) FlattenAll(ctx context.Context, at time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	keep := make(map[string]bool)
	n := 0
	for _, sym := range e.order {
		ids, ok := e.liquidate(ctx, e.instruments[sym], types.ExitShutdown, at)
		for _, id := range ids {
			keep[id] = true
		}
		if ok {
			n++
		}
	}
	e.orders.retire(keep)
	return n
}

func (e *Engine) sendSummary(ctx context.Context, day session.Day) {
	if e.onSummary == nil && e.alerter == nil {
		return
	}

	// Without an equity source the summary reports session P&L from zero.
	start, high := decimal.Zero, decimal.Zero
	end := decimal.Zero
	for _, t := range e.daily.trades {
		end = end.Add(t.NetPL)
	}
	if e.equityFunc != nil {
		start, end, high = e.equityFunc()
	}

	open := 0
	for _, inst := range e.instruments {
		open += len(inst.book.legs)
	}

	safeMode := false
	if s, ok := e.sizer.(interface{ IsInSafeMode() bool }); ok {
		safeMode = s.IsInSafeMode()
	}

	summary := alerting.NewDailySummary(day.String(), start, end, high,
		e.daily.entries, e.daily.trades, e.daily.liquidations, safeMode, open)

	e.alert(ctx, alerting.EventDailySummary, "Session summary", summary.Fields()...)
	if e.onSummary != nil {
		e.onSummary(summary)
	}
}
