// Package alerting delivers operator notifications for the trading engine.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityHigh is for high priority alerts.
	SeverityHigh
	// SeverityCritical is for critical alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Level maps the severity onto a log level.
func (s Severity) Level() slog.Level {
	switch s {
	case SeverityCritical:
		return slog.LevelError
	case SeverityHigh, SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// ParseSeverity parses a configured severity name. Empty means info.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "INFO":
		return SeverityInfo, nil
	case "WARNING", "WARN":
		return SeverityWarning, nil
	case "HIGH":
		return SeverityHigh, nil
	case "CRITICAL":
		return SeverityCritical, nil
	default:
		return SeverityInfo, fmt.Errorf("unknown severity %q", s)
	}
}

// Emoji returns an emoji for the severity level.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityHigh:
		return "🔴"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// AlertEvent represents a pre-defined alert event type.
type AlertEvent string

const (
	// EventKillSwitchActivated is sent when the drawdown limit blocks new entries.
	EventKillSwitchActivated AlertEvent = "kill_switch_activated"
	// EventOrderFilled is sent when an engine order is filled.
	EventOrderFilled AlertEvent = "order_filled"
	// EventOrderRejected is sent when an order is rejected, cancelled or expires.
	EventOrderRejected AlertEvent = "order_rejected"
	// EventPositionOpened is sent when a leg opens.
	EventPositionOpened AlertEvent = "position_opened"
	// EventPositionClosed is sent when a leg closes on a bracket exit.
	EventPositionClosed AlertEvent = "position_closed"
	// EventEndOfDayLiquidation is sent when end-of-day liquidation orders go out.
	EventEndOfDayLiquidation AlertEvent = "eod_liquidation"
	// EventLiquidationFailed is sent when a liquidation order cannot be placed or fails.
	EventLiquidationFailed AlertEvent = "liquidation_failed"
	// EventReferenceDegraded is sent when the session reference falls back or is missing.
	EventReferenceDegraded AlertEvent = "reference_degraded"
	// EventStrayFill is sent when a fill arrives for an order dropped at end of day.
	EventStrayFill AlertEvent = "stray_fill"
	// EventDailySummary is sent for the daily trading summary.
	EventDailySummary AlertEvent = "daily_summary"
	// EventFeedDisconnected is sent when the tick feed drops.
	EventFeedDisconnected AlertEvent = "feed_disconnected"
	// EventFeedRestored is sent when the tick feed reconnects.
	EventFeedRestored AlertEvent = "feed_restored"
	// EventBotStarted is sent when the process starts.
	EventBotStarted AlertEvent = "bot_started"
	// EventBotStopped is sent when the process stops.
	EventBotStopped AlertEvent = "bot_stopped"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventKillSwitchActivated, EventLiquidationFailed, EventStrayFill:
		return SeverityCritical
	case EventFeedDisconnected:
		return SeverityHigh
	case EventOrderRejected, EventReferenceDegraded:
		return SeverityWarning
	case EventOrderFilled, EventPositionOpened, EventPositionClosed, EventEndOfDayLiquidation:
		return SeverityInfo
	case EventDailySummary, EventBotStarted, EventBotStopped, EventFeedRestored:
		return SeverityInfo
	default:
		return SeverityInfo
	}
}

// Send alerts an event through a, ignoring a nil alerter.
func Send(ctx context.Context, a Alerter, event AlertEvent, message string, fields ...any) error {
	if a == nil {
		return nil
	}
	fields = append([]any{"event", string(event)}, fields...)
	return a.Alert(ctx, EventSeverity(event), message, fields...)
}
