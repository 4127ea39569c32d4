package risk

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEquityMarks_Mark(t *testing.T) {
	tests := []struct {
		name       string
		readings   []string
		wantPeak   string
		wantLow    string
		wantDD     string
		wantReturn string
	}{
		{
			name:       "flat",
			readings:   nil,
			wantPeak:   "10000",
			wantLow:    "10000",
			wantDD:     "0",
			wantReturn: "0",
		},
		{
			name:       "new peak then give back",
			readings:   []string{"11000", "9900"},
			wantPeak:   "11000",
			wantLow:    "9900",
			wantDD:     "0.1",
			wantReturn: "-0.01",
		},
		{
			name:       "dip and recover",
			readings:   []string{"9500", "10200"},
			wantPeak:   "10200",
			wantLow:    "9500",
			wantDD:     "0",
			wantReturn: "0.02",
		},
		{
			name:       "kill switch depth",
			readings:   []string{"12500", "10000"},
			wantPeak:   "12500",
			wantLow:    "10000",
			wantDD:     "0.2",
			wantReturn: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newEquityMarks(d("10000"))
			for _, r := range tt.readings {
				m.mark(d(r))
			}
			if !m.peak.Equal(d(tt.wantPeak)) {
				t.Errorf("peak = %s, want %s", m.peak, tt.wantPeak)
			}
			if !m.sessionLow.Equal(d(tt.wantLow)) {
				t.Errorf("sessionLow = %s, want %s", m.sessionLow, tt.wantLow)
			}
			if !m.drawdown().Equal(d(tt.wantDD)) {
				t.Errorf("drawdown = %s, want %s", m.drawdown(), tt.wantDD)
			}
			if !m.sessionReturn().Equal(d(tt.wantReturn)) {
				t.Errorf("sessionReturn = %s, want %s", m.sessionReturn(), tt.wantReturn)
			}
		})
	}
}

func TestEquityMarks_MarkReportsNewPeak(t *testing.T) {
	m := newEquityMarks(d("10000"))

	if m.mark(d("10000")) {
		t.Error("equal equity is not a new peak")
	}
	if !m.mark(d("10001")) {
		t.Error("higher equity should be a new peak")
	}
	if m.mark(d("9000")) {
		t.Error("lower equity is not a new peak")
	}
}

func TestEquityMarks_StartSession(t *testing.T) {
	m := newEquityMarks(d("10000"))
	m.mark(d("9000"))
	m.mark(d("9500"))

	m.startSession()
	if !m.sessionStart.Equal(d("9500")) || !m.sessionLow.Equal(d("9500")) {
		t.Errorf("session marks = %s/%s, want 9500/9500", m.sessionStart, m.sessionLow)
	}
	if !m.peak.Equal(d("10000")) {
		t.Errorf("peak = %s, a new session keeps the all-time peak", m.peak)
	}
}

func TestEquityMarks_Restore(t *testing.T) {
	m := newEquityMarks(d("10000"))
	m.mark(d("8000"))

	m.restore(d("11000"), d("12000"))
	if !m.current.Equal(d("11000")) || !m.peak.Equal(d("12000")) {
		t.Errorf("restored = %s/%s", m.current, m.peak)
	}
	if !m.sessionLow.Equal(d("11000")) {
		t.Errorf("sessionLow = %s, restore rebases the session", m.sessionLow)
	}

	m.restore(d("13000"), d("12000"))
	if !m.peak.Equal(d("13000")) {
		t.Errorf("peak = %s, a stale peak below equity is raised", m.peak)
	}
}

func TestDrawdown_NonPositivePeak(t *testing.T) {
	for _, peak := range []string{"0", "-5"} {
		if dd := drawdown(d("100"), d(peak)); !dd.IsZero() {
			t.Errorf("drawdown(100, %s) = %s, want 0", peak, dd)
		}
	}
}

func TestEngine_SnapshotCarriesSessionMarks(t *testing.T) {
	engine := NewEngine(DefaultConfig(), d("10000"), nil)
	engine.UpdateEquity(d("9800"))
	engine.UpdateEquity(d("10100"))

	snap := engine.GetSnapshot()
	if !snap.SessionStart.Equal(d("10000")) || !snap.SessionLow.Equal(d("9800")) {
		t.Errorf("session = %s/%s", snap.SessionStart, snap.SessionLow)
	}
	if !snap.SessionReturn.Equal(d("0.01")) {
		t.Errorf("SessionReturn = %s, want 0.01", snap.SessionReturn)
	}

	engine.StartSession()
	if snap := engine.GetSnapshot(); !snap.SessionStart.Equal(d("10100")) || !snap.SessionReturn.IsZero() {
		t.Errorf("after StartSession = %s/%s", snap.SessionStart, snap.SessionReturn)
	}
}
