package session

import (
	"time"

	"github.com/tathienbao/letf-intraday/internal/types"
)

// Phase is the daily state of the session gate.
type Phase int

const (
	PhasePreSession Phase = iota
	PhaseActive
	PhasePostSession
)

func (p Phase) String() string {
	switch p {
	case PhasePreSession:
		return "PRE_SESSION"
	case PhaseActive:
		return "ACTIVE"
	case PhasePostSession:
		return "POST_SESSION"
	default:
		return "UNKNOWN"
	}
}

// Transition describes the effect of a timer event on the gate.
type Transition struct {
	From     Phase
	To       Phase
	Day      Day
	Rollover bool // the event started a new session day
}

// Changed reports whether the phase or day moved.
func (t Transition) Changed() bool {
	return t.From != t.To || t.Rollover
}

// EnteredPostSession reports whether this transition is the day's
// ACTIVE/PRE -> POST_SESSION edge.
func (t Transition) EnteredPostSession() bool {
	return t.To == PhasePostSession && (t.From != PhasePostSession || t.Rollover)
}

// Gate restricts evaluation to the active window of the current session.
// It is driven only by timer events; ticks never change its state.
// Not safe for concurrent use; the owner serializes access.
type Gate struct {
	cal   Calendar
	phase Phase
	day   Day
}

// NewGate creates a gate waiting for the first session.
func NewGate(cal Calendar) *Gate {
	return &Gate{cal: cal, phase: PhasePostSession}
}

// Calendar returns the gate's calendar.
func (g *Gate) Calendar() Calendar {
	return g.cal
}

// Phase returns the current phase.
func (g *Gate) Phase() Phase {
	return g.phase
}

// Day returns the current session day.
func (g *Gate) Day() Day {
	return g.day
}

// Advance applies a timer event and returns the resulting transition.
//
// session_open rolls over to the event's day in PRE_SESSION.
// reference_capture moves to ACTIVE, rolling over first if no open was seen.
// end_of_day moves to POST_SESSION; a repeated end_of_day for the same day is
// not a new transition.
func (g *Gate) Advance(kind types.TimerKind, at time.Time) Transition {
	day := g.cal.Day(at)
	tr := Transition{From: g.phase, Day: day, Rollover: day != g.day}

	switch kind {
	case types.TimerSessionOpen:
		g.phase = PhasePreSession
	case types.TimerReferenceCapture:
		g.phase = PhaseActive
	case types.TimerEndOfDay:
		g.phase = PhasePostSession
	}
	g.day = day

	tr.To = g.phase
	return tr
}

// Allows reports whether a tick at t may be evaluated.
func (g *Gate) Allows(t time.Time) bool {
	if g.phase != PhaseActive {
		return false
	}
	if g.cal.Day(t) != g.day {
		return false
	}
	return !t.Before(g.cal.CaptureAt(g.day)) && t.Before(g.cal.EndOfDayAt(g.day))
}

// Restore sets the gate state, used on warm start.
func (g *Gate) Restore(day Day, phase Phase) {
	g.day = day
	g.phase = phase
}
