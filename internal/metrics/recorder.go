package metrics

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordOrder records an order outcome.
func (r *Recorder) RecordOrder(symbol, kind, status string) {
	OrdersTotal.WithLabelValues(symbol, kind, status).Inc()
}

// RecordIgnoredFill records a fill the reconciler did not apply.
func (r *Recorder) RecordIgnoredFill(reason string) {
	FillsIgnored.WithLabelValues(reason).Inc()
}

// RecordTrade records a completed trade metric.
func (r *Recorder) RecordTrade(symbol, reason string, profitable bool) {
	outcome := "loss"
	if profitable {
		outcome = "win"
	}
	TradesTotal.WithLabelValues(symbol, reason, outcome).Inc()
}

// RecordBook publishes the open legs and net shares of a symbol.
func (r *Recorder) RecordBook(symbol string, legs int, shares int64) {
	PositionsOpen.WithLabelValues(symbol).Set(float64(legs))
	PositionShares.WithLabelValues(symbol).Set(float64(shares))
}

// RecordLiquidation records an end-of-day liquidation order.
func (r *Recorder) RecordLiquidation(symbol string) {
	Liquidations.WithLabelValues(symbol).Inc()
}

// RecordReference records a captured session reference.
func (r *Recorder) RecordReference(symbol string, price decimal.Decimal, degraded bool) {
	ReferencePrice.WithLabelValues(symbol).Set(price.InexactFloat64())
	if degraded {
		ReferenceDegraded.WithLabelValues(symbol).Inc()
	}
}

// RecordThrottle records the throttle state of a traded symbol.
func (r *Recorder) RecordThrottle(symbol string, armed bool) {
	if armed {
		ThrottleArmed.WithLabelValues(symbol).Set(1)
	} else {
		ThrottleArmed.WithLabelValues(symbol).Set(0)
	}
}

// RecordSessionPhase records the gate phase ordinal.
func (r *Recorder) RecordSessionPhase(phase int) {
	SessionPhase.Set(float64(phase))
}

// RecordEntrySkipped records a trigger that did not produce an order.
func (r *Recorder) RecordEntrySkipped(reason string) {
	EntriesSkipped.WithLabelValues(reason).Inc()
}

// RecordEquity records equity metrics.
func (r *Recorder) RecordEquity(current, highWaterMark, drawdown decimal.Decimal) {
	EquityCurrent.Set(current.InexactFloat64())
	EquityHighWaterMark.Set(highWaterMark.InexactFloat64())
	DrawdownCurrent.Set(drawdown.InexactFloat64())
}

// RecordDailyPL records session profit/loss.
func (r *Recorder) RecordDailyPL(pl decimal.Decimal) {
	DailyPL.Set(pl.InexactFloat64())
}

// RecordSafeMode records safe mode status.
func (r *Recorder) RecordSafeMode(active bool) {
	if active {
		SafeModeActive.Set(1)
	} else {
		SafeModeActive.Set(0)
	}
}

// RecordTickLatency records engine event processing latency.
func (r *Recorder) RecordTickLatency(duration time.Duration) {
	TickLatency.Observe(duration.Seconds())
}

// RecordOrderLatency records order submission latency.
func (r *Recorder) RecordOrderLatency(duration time.Duration) {
	OrderLatency.Observe(duration.Seconds())
}

// RecordHeartbeat records a heartbeat.
func (r *Recorder) RecordHeartbeat() {
	HeartbeatTimestamp.Set(float64(time.Now().Unix()))
}

// RecordDataFeedStatus records data feed connection status.
func (r *Recorder) RecordDataFeedStatus(connected bool) {
	if connected {
		DataFeedConnected.Set(1)
	} else {
		DataFeedConnected.Set(0)
	}
}

// RecordError records an error.
func (r *Recorder) RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveOrder observes the elapsed time as order latency.
func (t *Timer) ObserveOrder() {
	OrderLatency.Observe(t.Elapsed().Seconds())
}

// ObserveTick observes the elapsed time as event processing latency.
func (t *Timer) ObserveTick() {
	TickLatency.Observe(t.Elapsed().Seconds())
}
