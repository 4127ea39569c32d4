// Package session models the exchange trading session: session days,
// scheduled session events and the gate that decides when tick-driven
// evaluation is allowed.
package session

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // exchange timezones without relying on the host zoneinfo

	"github.com/tathienbao/letf-intraday/internal/types"
)

// Day identifies a trading session by its date in the exchange location,
// formatted as YYYY-MM-DD.
type Day string

// IsZero reports whether the day is unset.
func (d Day) IsZero() bool {
	return d == ""
}

func (d Day) String() string {
	return string(d)
}

// DayOf returns the session day of t in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	return Day(t.In(loc).Format("2006-01-02"))
}

// Calendar holds the fixed wall-clock times of a session.
// Offsets are measured from local midnight in Location.
type Calendar struct {
	Location     *time.Location
	Open         time.Duration // 09:30
	CaptureDelay time.Duration // reference capture = Open + CaptureDelay
	EndOfDay     time.Duration // forced liquidation, 15:59
	Close        time.Duration // 16:00
}

// DefaultCalendar returns US equity regular trading hours.
func DefaultCalendar() Calendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return Calendar{
		Location:     loc,
		Open:         9*time.Hour + 30*time.Minute,
		CaptureDelay: time.Minute,
		EndOfDay:     15*time.Hour + 59*time.Minute,
		Close:        16 * time.Hour,
	}
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("clock %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("clock %q: bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock %q: bad minute", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// Validate checks the ordering of session times.
func (c Calendar) Validate() error {
	if c.Location == nil {
		return fmt.Errorf("calendar location is required")
	}
	if c.CaptureDelay < 0 {
		return fmt.Errorf("capture delay must not be negative")
	}
	if c.Open+c.CaptureDelay >= c.EndOfDay {
		return fmt.Errorf("reference capture must happen before end of day")
	}
	if c.Close != 0 && c.EndOfDay > c.Close {
		return fmt.Errorf("end of day must not be after session close")
	}
	return nil
}

// Day returns the session day of t.
func (c Calendar) Day(t time.Time) Day {
	return DayOf(t, c.Location)
}

// IsTradingDay reports whether d is a weekday. Exchange holidays are not
// modeled.
func (c Calendar) IsTradingDay(d Day) bool {
	t, err := c.midnight(d)
	if err != nil {
		return false
	}
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func (c Calendar) midnight(d Day) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", string(d), c.Location)
}

// at returns the instant offset past midnight of d. Adding the offset to the
// wall-clock date keeps DST transitions correct.
func (c Calendar) at(d Day, offset time.Duration) time.Time {
	t, err := c.midnight(d)
	if err != nil {
		return time.Time{}
	}
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)
	return time.Date(t.Year(), t.Month(), t.Day(), h, m, 0, 0, c.Location)
}

// OpenAt returns the session open of d.
func (c Calendar) OpenAt(d Day) time.Time {
	return c.at(d, c.Open)
}

// CaptureAt returns the reference capture time of d.
func (c Calendar) CaptureAt(d Day) time.Time {
	return c.at(d, c.Open+c.CaptureDelay)
}

// EndOfDayAt returns the forced liquidation time of d.
func (c Calendar) EndOfDayAt(d Day) time.Time {
	return c.at(d, c.EndOfDay)
}

// EventsOn returns the timer events of d in firing order. Non-trading days
// have none.
func (c Calendar) EventsOn(d Day) []types.Event {
	if !c.IsTradingDay(d) {
		return nil
	}
	return []types.Event{
		types.TimerEvent(types.TimerSessionOpen, c.OpenAt(d)),
		types.TimerEvent(types.TimerReferenceCapture, c.CaptureAt(d)),
		types.TimerEvent(types.TimerEndOfDay, c.EndOfDayAt(d)),
	}
}

// EventsBetween returns every timer event in (from, to], ordered by time.
func (c Calendar) EventsBetween(from, to time.Time) []types.Event {
	if !to.After(from) {
		return nil
	}

	var events []types.Event
	start, err := c.midnight(c.Day(from))
	if err != nil {
		return nil
	}
	last := c.Day(to)
	for d := start; ; d = d.AddDate(0, 0, 1) {
		day := DayOf(d, c.Location)
		for _, ev := range c.EventsOn(day) {
			if ev.Time.After(from) && !ev.Time.After(to) {
				events = append(events, ev)
			}
		}
		if day >= last {
			break
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Time.Before(events[j].Time)
	})
	return events
}

// NextEvent returns the first timer event strictly after t.
func (c Calendar) NextEvent(t time.Time) (types.Event, bool) {
	// A week always contains a trading day.
	events := c.EventsBetween(t, t.AddDate(0, 0, 8))
	if len(events) == 0 {
		return types.Event{}, false
	}
	return events[0], true
}
