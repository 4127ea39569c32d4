package risk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/types"
)

// 100 goroutines updating equity must not corrupt the tracker.
func TestEngine_Concurrent_UpdateEquity(t *testing.T) {
	engine := NewEngine(DefaultConfig(), decimal.NewFromInt(10000), nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				engine.UpdateEquity(decimal.NewFromInt(int64(10000 + (id*j)%1000 - 500)))
			}
		}(i)
	}
	wg.Wait()

	snapshot := engine.GetSnapshot()
	if snapshot.HighWaterMark.LessThan(snapshot.Equity) {
		t.Error("HWM invariant violated after concurrent updates")
	}
}

// Sizing racing the kill switch either sizes normally or refuses; once
// tripped every call refuses.
func TestEngine_Concurrent_SizeNearKillSwitch(t *testing.T) {
	engine := NewEngine(DefaultConfig(), decimal.NewFromInt(10000), nil)
	engine.UpdateEquity(decimal.NewFromInt(8100)) // 19% down

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if id == 25 {
				engine.UpdateEquity(decimal.NewFromInt(7900))
				return
			}
			shares, err := engine.SizeForAllocation(context.Background(), "SPXL",
				decimal.RequireFromString("0.1"), decimal.NewFromInt(50))
			if err != nil && !errors.Is(err, types.ErrKillSwitchActive) {
				t.Errorf("unexpected error: %v", err)
			}
			if err != nil && shares != 0 {
				t.Errorf("refused sizing returned %d shares", shares)
			}
		}(i)
	}
	wg.Wait()

	if !engine.IsInSafeMode() {
		t.Fatal("kill switch should have tripped")
	}
	if _, err := engine.SizeForAllocation(context.Background(), "SPXL",
		decimal.RequireFromString("0.1"), decimal.NewFromInt(50)); !errors.Is(err, types.ErrKillSwitchActive) {
		t.Errorf("err = %v after trip", err)
	}
}

func TestEngine_Concurrent_GetSnapshotDuringUpdate(t *testing.T) {
	engine := NewEngine(DefaultConfig(), decimal.NewFromInt(10000), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ctx.Err() == nil; i++ {
			engine.UpdateEquity(decimal.NewFromInt(int64(10000 + i%500)))
		}
	}()

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				snapshot := engine.GetSnapshot()
				if snapshot.HighWaterMark.LessThan(snapshot.Equity) {
					t.Error("inconsistent snapshot: HWM < Equity")
				}
				if snapshot.Drawdown.IsNegative() {
					t.Error("inconsistent snapshot: negative drawdown")
				}
			}
		}()
	}

	wg.Wait()
}

func TestEngine_Concurrent_PositionUpdates(t *testing.T) {
	engine := NewEngine(DefaultConfig(), decimal.NewFromInt(10000), nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				engine.UpdatePosition("SPXL", int64(id%5+1), decimal.NewFromInt(100))
				_, _ = engine.SizeForAllocation(context.Background(), "SPXL",
					decimal.RequireFromString("0.1"), decimal.NewFromInt(100))
			}
		}(i)
	}
	wg.Wait()
}

// The feed goroutine marks equity while the scheduler rebases the session and
// the engine reads the marks for its daily summary.
func TestEngine_Concurrent_SessionMarks(t *testing.T) {
	engine := NewEngine(DefaultConfig(), decimal.NewFromInt(10000), nil)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			engine.UpdateEquity(decimal.NewFromInt(int64(9900 + i%200)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			engine.StartSession()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			start, current, peak := engine.SessionMarks()
			if peak.LessThan(current) || peak.LessThan(start) {
				t.Errorf("peak %s below start %s or current %s", peak, start, current)
				return
			}
		}
	}()
	wg.Wait()

	snap := engine.GetSnapshot()
	if snap.SessionLow.GreaterThan(snap.Equity) || snap.SessionLow.GreaterThan(snap.SessionStart) {
		t.Errorf("session low %s above equity %s or start %s", snap.SessionLow, snap.Equity, snap.SessionStart)
	}
}
