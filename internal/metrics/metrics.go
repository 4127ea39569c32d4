// Package metrics exposes prometheus collectors and the health server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "letf"

var (
	// Orders and fills
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_total",
		Help:      "Orders emitted by the engine by symbol, kind and outcome.",
	}, []string{"symbol", "kind", "status"})

	FillsIgnored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fills_ignored_total",
		Help:      "Fill notifications ignored by the reconciler (duplicate, unknown, late).",
	}, []string{"reason"})

	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trades_total",
		Help:      "Completed round trips by symbol, exit reason and outcome.",
	}, []string{"symbol", "reason", "outcome"})

	// Positions
	PositionsOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "positions_open",
		Help:      "Open position legs per traded symbol.",
	}, []string{"symbol"})

	PositionShares = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "position_shares",
		Help:      "Net open shares per traded symbol.",
	}, []string{"symbol"})

	Liquidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "eod_liquidations_total",
		Help:      "End-of-day liquidation orders per traded symbol.",
	}, []string{"symbol"})

	// Session state
	ReferencePrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "reference_price",
		Help:      "Session reference price per signal symbol.",
	}, []string{"symbol"})

	ReferenceDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reference_degraded_total",
		Help:      "Reference captures that fell back to the last trade price.",
	}, []string{"symbol"})

	ThrottleArmed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "throttle_armed",
		Help:      "1 when the traded symbol already entered this session.",
	}, []string{"symbol"})

	SessionPhase = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "session_phase",
		Help:      "Session gate phase (0 pre, 1 active, 2 post).",
	})

	EntriesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entries_skipped_total",
		Help:      "Entry triggers that did not produce an order, by reason.",
	}, []string{"reason"})

	// Account
	EquityCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "equity_current",
		Help:      "Current account equity.",
	})

	EquityHighWaterMark = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "equity_high_water_mark",
		Help:      "Peak account equity.",
	})

	DrawdownCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "drawdown_current",
		Help:      "Current drawdown ratio from the high water mark.",
	})

	DailyPL = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "daily_pl",
		Help:      "Net P&L of the current session.",
	})

	SafeModeActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "safe_mode_active",
		Help:      "1 when the drawdown kill switch blocks new entries.",
	})

	// Latency
	TickLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tick_processing_seconds",
		Help:      "Time spent evaluating one engine event.",
		Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
	})

	OrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "order_submit_seconds",
		Help:      "Order submission latency.",
		Buckets:   prometheus.DefBuckets,
	})

	// Health
	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heartbeat_timestamp_seconds",
		Help:      "Unix time of the last processed event.",
	})

	DataFeedConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "data_feed_connected",
		Help:      "1 when the tick feed is connected.",
	})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Errors by type.",
	}, []string{"type"})

	UptimeSeconds = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Process uptime.",
	}, func() float64 { return time.Since(startTime).Seconds() })

	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information.",
	}, []string{"version", "commit", "build_time"})
)

var startTime = time.Now()

// SetBuildInfo publishes the build labels.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
