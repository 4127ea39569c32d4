package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type queuedAlert struct {
	severity Severity
	message  string
	fields   []any
}

// AsyncAlerter queues alerts and delivers them from a background goroutine,
// so callers holding locks never wait on a network channel. When the queue
// is full new alerts are dropped and logged.
type AsyncAlerter struct {
	next    Alerter
	logger  *slog.Logger
	timeout time.Duration

	queue chan queuedAlert
	wg    sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewAsyncAlerter wraps next with a queue of the given size.
func NewAsyncAlerter(next Alerter, size int, logger *slog.Logger) *AsyncAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 64
	}
	a := &AsyncAlerter{
		next:    next,
		logger:  logger,
		timeout: 15 * time.Second,
		queue:   make(chan queuedAlert, size),
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

// Name returns the name of the wrapped alerter.
func (a *AsyncAlerter) Name() string {
	return "async(" + a.next.Name() + ")"
}

// Alert enqueues the alert. It never blocks.
func (a *AsyncAlerter) Alert(_ context.Context, severity Severity, message string, fields ...any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}

	select {
	case a.queue <- queuedAlert{severity: severity, message: message, fields: fields}:
	default:
		a.dropped++
		a.logger.Warn("alert queue full, dropping alert",
			"severity", severity.String(),
			"message", message,
			"dropped", a.dropped,
		)
	}
	return nil
}

// Dropped returns the number of alerts dropped on a full queue.
func (a *AsyncAlerter) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Close stops accepting alerts and waits for the queue to drain.
func (a *AsyncAlerter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
}

func (a *AsyncAlerter) loop() {
	defer a.wg.Done()
	for q := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Alert(ctx, q.severity, q.message, q.fields...); err != nil {
			a.logger.Error("deliver alert",
				"alerter", a.next.Name(),
				"message", q.message,
				"err", err,
			)
		}
		cancel()
	}
}
