package engine

import "github.com/tathienbao/letf-intraday/internal/session"

// throttle allows one entry per traded instrument per session. An entry is
// armed with the session day it was armed for; absence means disarmed.
type throttle struct {
	armed map[string]session.Day
}

func newThrottle() *throttle {
	return &throttle{armed: make(map[string]session.Day)}
}

func (t *throttle) isArmed(symbol string, day session.Day) bool {
	return t.armed[symbol] == day && !day.IsZero()
}

// arm marks symbol as entered for day and returns the previous value.
func (t *throttle) arm(symbol string, day session.Day) session.Day {
	prev := t.armed[symbol]
	t.armed[symbol] = day
	return prev
}

// rollback restores prev if the entry still holds the value armed for day.
// A capture that cleared the entry in between wins.
func (t *throttle) rollback(symbol string, day, prev session.Day) bool {
	if t.armed[symbol] != day {
		return false
	}
	t.set(symbol, prev)
	return true
}

func (t *throttle) clear(symbol string) {
	delete(t.armed, symbol)
}

func (t *throttle) set(symbol string, day session.Day) {
	if day.IsZero() {
		delete(t.armed, symbol)
		return
	}
	t.armed[symbol] = day
}

func (t *throttle) day(symbol string) session.Day {
	return t.armed[symbol]
}
