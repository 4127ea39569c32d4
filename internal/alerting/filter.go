package alerting

import "context"

// EventFilter forwards only alerts whose event is in the allowed set.
// Alerts without an event field and critical alerts always pass.
type EventFilter struct {
	next    Alerter
	allowed map[AlertEvent]bool
}

// NewEventFilter wraps next. An empty event list, or one containing "all",
// returns next unchanged.
func NewEventFilter(next Alerter, events []string) Alerter {
	allowed := make(map[AlertEvent]bool, len(events))
	for _, e := range events {
		if e == "all" {
			return next
		}
		allowed[AlertEvent(e)] = true
	}
	if len(allowed) == 0 {
		return next
	}
	return &EventFilter{next: next, allowed: allowed}
}

// Name returns the wrapped alerter's name.
func (f *EventFilter) Name() string {
	return f.next.Name()
}

// Alert forwards the alert if its event is allowed.
func (f *EventFilter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	if severity < SeverityCritical {
		if event, ok := eventOf(fields); ok && !f.allowed[event] {
			return nil
		}
	}
	return f.next.Alert(ctx, severity, message, fields...)
}

// eventOf finds the "event" key that Send prepends.
func eventOf(fields []any) (AlertEvent, bool) {
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok && key == "event" {
			if v, ok := fields[i+1].(string); ok {
				return AlertEvent(v), true
			}
		}
	}
	return "", false
}
