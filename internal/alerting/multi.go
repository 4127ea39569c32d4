package alerting

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

type route struct {
	alerter Alerter
	min     Severity
}

// MultiAlerter fans an alert out to every channel whose minimum severity it
// meets. Channels are called concurrently.
type MultiAlerter struct {
	mu     sync.RWMutex
	routes []route
	logger *slog.Logger
}

// NewMultiAlerter creates a fan-out over alerters, each receiving every
// severity.
func NewMultiAlerter(logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MultiAlerter{logger: logger}
	for _, a := range alerters {
		m.routes = append(m.routes, route{alerter: a, min: SeverityInfo})
	}
	return m
}

// Name returns the name of the alerter.
func (m *MultiAlerter) Name() string {
	return "multi"
}

// AddAlerter adds a channel that receives every severity.
func (m *MultiAlerter) AddAlerter(alerter Alerter) {
	m.Route(alerter, SeverityInfo)
}

// Route adds a channel that only receives alerts at or above floor.
func (m *MultiAlerter) Route(alerter Alerter, floor Severity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, route{alerter: alerter, min: floor})
}

// Alert delivers to the matching channels and joins their errors.
func (m *MultiAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	m.mu.RLock()
	targets := make([]Alerter, 0, len(m.routes))
	for _, r := range m.routes {
		if severity >= r.min {
			targets = append(targets, r.alerter)
		}
	}
	m.mu.RUnlock()

	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, a := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Alert(ctx, severity, message, fields...); err != nil {
				m.logger.Error("alert channel failed",
					"channel", a.Name(),
					"severity", severity.String(),
					"err", err,
				)
				errs[i] = err
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}
