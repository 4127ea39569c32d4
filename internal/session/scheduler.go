package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/tathienbao/letf-intraday/internal/types"
)

// Scheduler emits session timer events at their wall-clock times.
type Scheduler struct {
	cal         Calendar
	now         func() time.Time
	logger      *slog.Logger
	skipCatchUp bool
}

// NewScheduler creates a scheduler on the system clock.
func NewScheduler(cal Calendar, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cal: cal, now: time.Now, logger: logger}
}

// SetClock overrides the clock (for tests).
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// SkipCatchUp makes Run start with the next scheduled event. Used when the
// gate was restored into today's session.
func (s *Scheduler) SkipCatchUp() {
	s.skipCatchUp = true
}

// CatchUp returns the events needed to bring a gate started at now into the
// right phase for today: nothing before the open or after end of day,
// session_open during the pre-session, session_open + reference_capture
// during the active window. Catch-up events carry the time now.
func (s *Scheduler) CatchUp(now time.Time) []types.Event {
	day := s.cal.Day(now)
	if !s.cal.IsTradingDay(day) {
		return nil
	}
	switch {
	case now.Before(s.cal.OpenAt(day)), !now.Before(s.cal.EndOfDayAt(day)):
		return nil
	case now.Before(s.cal.CaptureAt(day)):
		return []types.Event{types.TimerEvent(types.TimerSessionOpen, now)}
	default:
		return []types.Event{
			types.TimerEvent(types.TimerSessionOpen, now),
			types.TimerEvent(types.TimerReferenceCapture, now),
		}
	}
}

// Run sends catch-up events and then every scheduled event to out until ctx
// is cancelled. It never closes out.
func (s *Scheduler) Run(ctx context.Context, out chan<- types.Event) error {
	last := s.now()
	if !s.skipCatchUp {
		for _, ev := range s.CatchUp(last) {
			if err := s.send(ctx, out, ev); err != nil {
				return err
			}
		}
	}

	for {
		next, ok := s.cal.NextEvent(last)
		if !ok {
			// Unreachable with a valid calendar; back off a day.
			last = last.AddDate(0, 0, 1)
			continue
		}

		wait := next.Time.Sub(s.now())
		if wait < 0 {
			wait = 0
		}

		s.logger.Debug("next session event",
			"event", next.Timer.String(),
			"at", next.Time,
			"in", wait,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err := s.send(ctx, out, next); err != nil {
			return err
		}
		last = next.Time
	}
}

func (s *Scheduler) send(ctx context.Context, out chan<- types.Event, ev types.Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- ev:
		s.logger.Info("session event", "event", ev.Timer.String(), "at", ev.Time)
		return nil
	}
}
