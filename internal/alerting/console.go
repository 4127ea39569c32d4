package alerting

import (
	"context"
	"log/slog"
)

// ConsoleAlerter writes alerts into the process log at a level matching their
// severity. The event tag, when present, is lifted into the message.
type ConsoleAlerter struct {
	logger *slog.Logger
}

// NewConsoleAlerter creates a console alerter.
func NewConsoleAlerter(logger *slog.Logger) *ConsoleAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleAlerter{logger: logger.With("channel", "console")}
}

// Name returns the name of the alerter.
func (c *ConsoleAlerter) Name() string {
	return "console"
}

// Alert logs the alert.
func (c *ConsoleAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	prefix := "[ALERT] "
	if event, ok := eventOf(fields); ok {
		prefix = "[ALERT " + string(event) + "] "
	}
	attrs := append([]any{"severity", severity.String()}, fields...)
	c.logger.Log(ctx, severity.Level(), prefix+message, attrs...)
	return nil
}
