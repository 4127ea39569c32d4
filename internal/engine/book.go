package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/types"
)

// legState is the lifecycle of one position leg:
//
//	pending_open -> open -> pending_close -> closed
//	pending_open -> closed          (rejected with no fill)
//	pending_close -> open           (close rejected)
type legState int

const (
	legPendingOpen legState = iota
	legOpen
	legPendingClose
	legClosed
)

func (s legState) String() string {
	switch s {
	case legPendingOpen:
		return "pending_open"
	case legOpen:
		return "open"
	case legPendingClose:
		return "pending_close"
	case legClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func parseLegState(s string) (legState, bool) {
	for _, st := range []legState{legPendingOpen, legOpen, legPendingClose, legClosed} {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

// leg is one position on a traded instrument, from open order to close fill.
type leg struct {
	id        string
	symbol    string
	state     legState
	requested int64 // signed size of the open order

	pos             types.Position // valid once the leg has opened
	entryCommission decimal.Decimal

	openOrderID  string
	closeOrderID string
	exitReason   string
}

func (l *leg) open(qty int64, price, commission decimal.Decimal, at time.Time) {
	l.state = legOpen
	l.pos = types.Position{
		ID:         l.id,
		Symbol:     l.symbol,
		Quantity:   qty,
		EntryPrice: price,
		OpenedAt:   at,
		OrderID:    l.openOrderID,
	}
	l.entryCommission = commission
}

// reopen returns a pending_close leg to open after its close order failed.
func (l *leg) reopen() {
	l.state = legOpen
	l.closeOrderID = ""
	l.exitReason = ""
}

// book holds the live legs of one traded instrument in entry order.
// Closed legs are removed.
type book struct {
	mode Mode
	legs []*leg
}

func newBook(mode Mode) *book {
	return &book{mode: mode}
}

func (b *book) add(l *leg) {
	b.legs = append(b.legs, l)
}

func (b *book) get(id string) *leg {
	for _, l := range b.legs {
		if l.id == id {
			return l
		}
	}
	return nil
}

func (b *book) remove(id string) *leg {
	for i, l := range b.legs {
		if l.id == id {
			b.legs = append(b.legs[:i], b.legs[i+1:]...)
			return l
		}
	}
	return nil
}

// canEnter reports whether a new leg may be created. In single-slot mode any
// live leg, pending or open, occupies the slot.
func (b *book) canEnter() bool {
	return b.mode != ModeSingleSlot || len(b.legs) == 0
}

func (b *book) inState(st legState) []*leg {
	var out []*leg
	for _, l := range b.legs {
		if l.state == st {
			out = append(out, l)
		}
	}
	return out
}

func (b *book) openLegs() []*leg {
	return b.inState(legOpen)
}

// netOpen returns the signed share count held by open legs.
func (b *book) netOpen() int64 {
	var n int64
	for _, l := range b.legs {
		if l.state == legOpen {
			n += l.pos.Quantity
		}
	}
	return n
}

func (b *book) clear() {
	b.legs = nil
}
