package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/alerting"
	"github.com/tathienbao/letf-intraday/internal/persistence"
	"github.com/tathienbao/letf-intraday/internal/session"
	"github.com/tathienbao/letf-intraday/internal/types"
)

// Reference is the session reference price of a signal instrument.
type Reference struct {
	Signal     string          `json:"signal"`
	Price      decimal.Decimal `json:"price"`
	Day        session.Day     `json:"day"`
	CapturedAt time.Time       `json:"captured_at"`
	Degraded   bool            `json:"degraded"`
}

// referenceTracker holds one reference per signal instrument.
type referenceTracker struct {
	refs map[string]Reference
}

func newReferenceTracker() *referenceTracker {
	return &referenceTracker{refs: make(map[string]Reference)}
}

func (t *referenceTracker) set(ref Reference) {
	t.refs[ref.Signal] = ref
}

// current returns the reference captured for day. It fails with ErrFeedGap
// when none was captured and ErrStaleReference when the held one is from an
// earlier session.
func (t *referenceTracker) current(signal string, day session.Day) (Reference, error) {
	ref, ok := t.refs[signal]
	if !ok {
		return Reference{}, types.ErrFeedGap
	}
	if ref.Day != day {
		return Reference{}, fmt.Errorf("%s reference from %s: %w", signal, ref.Day, types.ErrStaleReference)
	}
	return ref, nil
}

func (t *referenceTracker) reset() {
	t.refs = make(map[string]Reference)
}

func (t *referenceTracker) all() []Reference {
	out := make([]Reference, 0, len(t.refs))
	for _, r := range t.refs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Signal < out[j].Signal })
	return out
}

// captureReference records the session reference for inst's signal and
// re-arms the traded instrument's throttle for the new session.
//
// Price sources in order: the session opening price, the host's last price,
// the engine's own last tick. Fallbacks are flagged degraded but accepted.
func (e *Engine) captureReference(ctx context.Context, inst *instrument, day session.Day, at time.Time) {
	signal := inst.pair.Signal
	traded := inst.pair.Traded

	e.throttle.clear(traded)
	e.recorder.RecordThrottle(traded, false)
	if e.journal != nil {
		e.journalErr("save_throttle", e.journal.SaveThrottle(ctx, traded, ""))
	}

	price, ok := e.market.OpeningPrice(signal, day)
	degraded := false
	if !ok || !price.IsPositive() {
		degraded = true
		price, ok = e.market.LastPrice(signal)
		if !ok || !price.IsPositive() {
			price, ok = e.lastPrice[signal]
		}
	}

	if !ok || !price.IsPositive() {
		e.logger.Warn("no reference price for session",
			"signal", signal,
			"day", day.String(),
			"err", types.ErrFeedGap,
		)
		e.recorder.RecordError("reference_missing")
		e.alert(ctx, alerting.EventReferenceDegraded, "No session reference; entries disabled for the day",
			"signal", signal,
			"day", day.String(),
		)
		return
	}

	ref := Reference{
		Signal:     signal,
		Price:      price,
		Day:        day,
		CapturedAt: at,
		Degraded:   degraded,
	}
	e.refs.set(ref)
	e.recorder.RecordReference(signal, price, degraded)

	if e.journal != nil {
		e.journalErr("save_reference", e.journal.SaveReference(ctx, persistence.ReferenceRecord{
			Signal:     signal,
			Price:      price,
			Day:        day.String(),
			CapturedAt: at,
			Degraded:   degraded,
		}))
	}

	if degraded {
		e.logger.Warn("reference captured from last price",
			"signal", signal,
			"price", price,
			"day", day.String(),
			"err", types.ErrFeedGap,
		)
		e.alert(ctx, alerting.EventReferenceDegraded, "Reference captured from last price",
			"signal", signal,
			"price", price.String(),
		)
		return
	}

	e.logger.Info("reference captured",
		"signal", signal,
		"traded", traded,
		"price", price,
		"day", day.String(),
	)
}
