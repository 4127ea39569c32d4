package engine

import (
	"context"
	"errors"

	"github.com/tathienbao/letf-intraday/internal/types"
)

// Run feeds events and fills into the engine until ctx is cancelled or the
// event channel closes. Fills arrive on their own channel so a router may
// deliver them from any goroutine without re-entering the engine.
func (e *Engine) Run(ctx context.Context, events <-chan types.Event, fills <-chan types.FillEvent) error {
	e.logger.Info("engine loop started", "mode", e.cfg.Mode.String(), "pairs", len(e.cfg.Pairs))
	defer e.logger.Info("engine loop stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				e.logger.Warn("event channel closed")
				return nil
			}
			e.Process(ctx, ev)
		case fill, ok := <-fills:
			if !ok {
				fills = nil
				continue
			}
			if err := e.OnFill(ctx, fill); err != nil && !errors.Is(err, types.ErrDuplicateFill) {
				e.logger.Warn("fill not reconciled", "order_id", fill.OrderID, "err", err)
			}
		}
	}
}
