package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

func TestRecorder_RecordOrder(t *testing.T) {
	r := NewRecorder()

	before := testutil.ToFloat64(OrdersTotal.WithLabelValues("SPXL", "open", "filled"))
	r.RecordOrder("SPXL", "open", "filled")
	r.RecordOrder("SPXL", "close", "rejected")
	r.RecordOrder("TMF", "open", "filled")

	after := testutil.ToFloat64(OrdersTotal.WithLabelValues("SPXL", "open", "filled"))
	if after-before != 1 {
		t.Errorf("orders_total delta = %v, want 1", after-before)
	}
}

func TestRecorder_RecordTrade(t *testing.T) {
	r := NewRecorder()

	before := testutil.ToFloat64(TradesTotal.WithLabelValues("NVDL", "take_profit", "win"))
	r.RecordTrade("NVDL", "take_profit", true)
	r.RecordTrade("NVDL", "stop_loss", false)

	if got := testutil.ToFloat64(TradesTotal.WithLabelValues("NVDL", "take_profit", "win")) - before; got != 1 {
		t.Errorf("win delta = %v, want 1", got)
	}
}

func TestRecorder_RecordBook(t *testing.T) {
	r := NewRecorder()

	r.RecordBook("SPXL", 2, 150)
	if got := testutil.ToFloat64(PositionsOpen.WithLabelValues("SPXL")); got != 2 {
		t.Errorf("positions_open = %v, want 2", got)
	}
	if got := testutil.ToFloat64(PositionShares.WithLabelValues("SPXL")); got != 150 {
		t.Errorf("position_shares = %v, want 150", got)
	}

	r.RecordBook("SPXL", 0, 0)
	if got := testutil.ToFloat64(PositionsOpen.WithLabelValues("SPXL")); got != 0 {
		t.Errorf("positions_open after clear = %v, want 0", got)
	}
}

func TestRecorder_RecordReference(t *testing.T) {
	r := NewRecorder()

	degradedBefore := testutil.ToFloat64(ReferenceDegraded.WithLabelValues("TLT"))
	r.RecordReference("TLT", decimal.RequireFromString("92.15"), false)
	r.RecordReference("TLT", decimal.RequireFromString("92.40"), true)

	if got := testutil.ToFloat64(ReferencePrice.WithLabelValues("TLT")); got != 92.40 {
		t.Errorf("reference_price = %v, want 92.40", got)
	}
	if got := testutil.ToFloat64(ReferenceDegraded.WithLabelValues("TLT")) - degradedBefore; got != 1 {
		t.Errorf("degraded delta = %v, want 1", got)
	}
}

func TestRecorder_RecordThrottle(t *testing.T) {
	r := NewRecorder()

	r.RecordThrottle("TMF", true)
	if got := testutil.ToFloat64(ThrottleArmed.WithLabelValues("TMF")); got != 1 {
		t.Errorf("throttle_armed = %v, want 1", got)
	}
	r.RecordThrottle("TMF", false)
	if got := testutil.ToFloat64(ThrottleArmed.WithLabelValues("TMF")); got != 0 {
		t.Errorf("throttle_armed = %v, want 0", got)
	}
}

func TestRecorder_RecordEquity(t *testing.T) {
	r := NewRecorder()

	current := decimal.NewFromInt(10500)
	hwm := decimal.NewFromInt(11000)
	drawdown := decimal.NewFromFloat(0.045)

	r.RecordEquity(current, hwm, drawdown)

	if got := testutil.ToFloat64(EquityCurrent); got != 10500 {
		t.Errorf("equity_current = %v, want 10500", got)
	}
}

func TestRecorder_RecordSafeMode(t *testing.T) {
	r := NewRecorder()

	r.RecordSafeMode(true)
	if got := testutil.ToFloat64(SafeModeActive); got != 1 {
		t.Errorf("safe_mode_active = %v, want 1", got)
	}
	r.RecordSafeMode(false)
	if got := testutil.ToFloat64(SafeModeActive); got != 0 {
		t.Errorf("safe_mode_active = %v, want 0", got)
	}
}

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder()

	r.RecordEntrySkipped("throttled")
	r.RecordIgnoredFill("duplicate")
	r.RecordLiquidation("SPXL")
	r.RecordSessionPhase(1)
	r.RecordDailyPL(decimal.NewFromInt(-25))
	r.RecordError("order_submit")
	r.RecordHeartbeat()
	r.RecordDataFeedStatus(true)
	r.RecordOrderLatency(100 * time.Millisecond)
	r.RecordTickLatency(50 * time.Microsecond)

	if got := testutil.ToFloat64(SessionPhase); got != 1 {
		t.Errorf("session_phase = %v, want 1", got)
	}
	if got := testutil.ToFloat64(DataFeedConnected); got != 1 {
		t.Errorf("data_feed_connected = %v, want 1", got)
	}
}

func TestTimer(t *testing.T) {
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)

	elapsed := timer.Elapsed()
	if elapsed < 10*time.Millisecond {
		t.Errorf("elapsed = %v, expected >= 10ms", elapsed)
	}
}

func TestSetBuildInfo(t *testing.T) {
	SetBuildInfo("1.0.0", "abc123", "2024-12-31")
	if got := testutil.ToFloat64(BuildInfo.WithLabelValues("1.0.0", "abc123", "2024-12-31")); got != 1 {
		t.Errorf("build_info = %v, want 1", got)
	}
}

func TestMetricsRegistered(t *testing.T) {
	metrics := []prometheus.Collector{
		OrdersTotal,
		FillsIgnored,
		TradesTotal,
		PositionsOpen,
		PositionShares,
		Liquidations,
		ReferencePrice,
		ReferenceDegraded,
		ThrottleArmed,
		SessionPhase,
		EntriesSkipped,
		EquityCurrent,
		EquityHighWaterMark,
		DrawdownCurrent,
		DailyPL,
		SafeModeActive,
		TickLatency,
		OrderLatency,
		HeartbeatTimestamp,
		DataFeedConnected,
		ErrorsTotal,
		UptimeSeconds,
		BuildInfo,
	}

	for _, m := range metrics {
		if m == nil {
			t.Error("metric is nil")
		}
	}
}
