package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/alerting"
	"github.com/tathienbao/letf-intraday/internal/persistence"
	"github.com/tathienbao/letf-intraday/internal/types"
)

// bracket returns the stop-loss and take-profit thresholds of an entry price.
func (e *Engine) bracket(entry decimal.Decimal) (stop, take decimal.Decimal) {
	return entry.Mul(e.cfg.StopLossRatio), entry.Mul(e.cfg.TakeProfitRatio)
}

// exitReason reports whether price breaches the bracket around entry.
func (e *Engine) exitReason(entry, price decimal.Decimal) (string, bool) {
	stop, take := e.bracket(entry)
	switch {
	case price.LessThanOrEqual(stop):
		return types.ExitStopLoss, true
	case price.GreaterThanOrEqual(take):
		return types.ExitTakeProfit, true
	default:
		return "", false
	}
}

// evaluateExits closes every open leg of inst whose bracket is breached by
// the traded instrument's price. Each leg is judged against its own entry
// price. It returns the number of legs that qualified, whether or not their
// close was accepted.
func (e *Engine) evaluateExits(ctx context.Context, inst *instrument, price decimal.Decimal, ts time.Time) int {
	qualified := 0
	for _, l := range inst.book.openLegs() {
		reason, ok := e.exitReason(l.pos.EntryPrice, price)
		if !ok {
			continue
		}
		qualified++
		inst.exitAt = ts
		e.closeLeg(ctx, inst, l, reason, price, ts)
	}
	return qualified
}

// closeLeg submits the offsetting order for an open leg. The leg leaves the
// open set before submission so no later tick can close it twice.
func (e *Engine) closeLeg(ctx context.Context, inst *instrument, l *leg, reason string, price decimal.Decimal, ts time.Time) {
	l.state = legPendingClose
	l.exitReason = reason

	req := types.OrderRequest{
		ClientOrderID: e.newID(),
		Timestamp:     ts,
		Symbol:        l.symbol,
		Quantity:      -l.pos.Quantity,
		Kind:          types.OrderKindClose,
		Reason:        reason,
		RefPrice:      price,
	}

	orderID, err := e.submit(ctx, req)
	if err != nil {
		l.reopen()
		e.logger.Warn("close order rejected on submit; leg stays open",
			"symbol", l.symbol,
			"leg_id", l.id,
			"reason", reason,
			"err", err,
		)
		e.alert(ctx, alerting.EventOrderRejected, "Close order rejected",
			"symbol", l.symbol,
			"reason", reason,
			"error", err.Error(),
		)
		return
	}

	l.closeOrderID = orderID
	e.orders.add(&pendingOrder{
		id:       orderID,
		clientID: req.ClientOrderID,
		kind:     types.OrderKindClose,
		symbol:   l.symbol,
		legIDs:   []string{l.id},
		quantity: req.Quantity,
		day:      e.gate.Day(),
		reason:   reason,
	})
	e.publishBook(inst)

	stop, take := e.bracket(l.pos.EntryPrice)
	e.logger.Info("exit order submitted",
		"order_id", orderID,
		"symbol", l.symbol,
		"leg_id", l.id,
		"reason", reason,
		"qty", req.Quantity,
		"entry", l.pos.EntryPrice,
		"price", price,
		"stop", stop,
		"take", take,
	)

	if e.journal != nil {
		e.journalErr("save_order", e.journal.SaveOrder(ctx, persistence.OrderRecord{
			OrderID:       orderID,
			ClientOrderID: req.ClientOrderID,
			Symbol:        l.symbol,
			Kind:          types.OrderKindClose,
			LegIDs:        []string{l.id},
			Quantity:      req.Quantity,
			RefPrice:      price,
			Reason:        reason,
			Day:           e.gate.Day().String(),
			Status:        types.OrderStatusPending,
			CreatedAt:     ts,
			UpdatedAt:     ts,
		}))
		e.journalErr("save_leg", e.journal.SaveLeg(ctx, legRecord(l, ts)))
	}
}
