package observer

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/session"
	"github.com/tathienbao/letf-intraday/internal/types"
)

func bar(symbol string, at time.Time, open, close string) types.MarketEvent {
	return types.MarketEvent{
		Symbol:    symbol,
		Timestamp: at,
		Open:      decimal.RequireFromString(open),
		Close:     decimal.RequireFromString(close),
	}
}

func TestBarHistory_OpeningPrice(t *testing.T) {
	h := NewBarHistory(utcCalendar())
	day := session.Day("2024-03-04")
	open := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

	h.Record(bar("SPY", open.Add(-time.Minute), "499", "499.5")) // pre-market
	if _, ok := h.OpeningPrice("SPY", day); ok {
		t.Fatal("pre-market bar must not set the opening price")
	}

	h.Record(bar("SPY", open, "500", "500.5"))
	h.Record(bar("SPY", open.Add(time.Minute), "501", "501.5"))

	got, ok := h.OpeningPrice("SPY", day)
	if !ok || !got.Equal(decimal.NewFromInt(500)) {
		t.Errorf("OpeningPrice() = %s, %v; want 500", got, ok)
	}
	last, _ := h.LastPrice("SPY")
	if !last.Equal(decimal.RequireFromString("501.5")) {
		t.Errorf("LastPrice() = %s", last)
	}
}

func TestBarHistory_FirstBarWithoutOpenUsesClose(t *testing.T) {
	h := NewBarHistory(utcCalendar())
	at := time.Date(2024, 3, 4, 9, 45, 0, 0, time.UTC)

	h.Record(types.MarketEvent{Symbol: "TLT", Timestamp: at, Close: decimal.NewFromInt(92)})

	got, ok := h.OpeningPrice("TLT", "2024-03-04")
	if !ok || !got.Equal(decimal.NewFromInt(92)) {
		t.Errorf("OpeningPrice() = %s, %v; want 92", got, ok)
	}
}

func TestBarHistory_IgnoresBadAndOutOfOrderBars(t *testing.T) {
	h := NewBarHistory(utcCalendar())
	at := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

	h.Record(bar("SPY", at, "500", "0"))
	if h.Tradable("SPY") {
		t.Fatal("non-positive price must not be recorded")
	}

	h.Record(bar("SPY", at, "500", "501"))
	h.Record(bar("SPY", at.Add(-time.Minute), "490", "490"))
	last, _ := h.LastPrice("SPY")
	if !last.Equal(decimal.NewFromInt(501)) {
		t.Errorf("late bar overwrote last price: %s", last)
	}
	if ts, _ := h.LastUpdate("SPY"); !ts.Equal(at) {
		t.Errorf("LastUpdate() = %v", ts)
	}
}

func TestBarHistory_Tradable(t *testing.T) {
	h := NewBarHistory(utcCalendar())
	if h.Tradable("SPXL") {
		t.Error("unseen symbol should not be tradable")
	}

	h.Record(bar("SPXL", time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC), "120", "120"))
	if !h.Tradable("SPXL") {
		t.Error("priced symbol should be tradable")
	}

	h.SetHalted("SPXL", true)
	if h.Tradable("SPXL") {
		t.Error("halted symbol should not be tradable")
	}
	h.SetHalted("SPXL", false)
	if !h.Tradable("SPXL") {
		t.Error("resumed symbol should be tradable")
	}
}

func TestBarHistory_PrunesOldDays(t *testing.T) {
	h := NewBarHistory(utcCalendar())
	first := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

	for i := 0; i <= keepDays; i++ {
		h.Record(bar("SPY", first.AddDate(0, 0, i), "500", "500"))
	}

	if _, ok := h.OpeningPrice("SPY", "2024-03-04"); ok {
		t.Error("oldest day should be pruned")
	}
	if _, ok := h.OpeningPrice("SPY", session.DayOf(first.AddDate(0, 0, keepDays), time.UTC)); !ok {
		t.Error("latest day should be kept")
	}
}

func TestBarHistory_ConcurrentAccess(t *testing.T) {
	h := NewBarHistory(utcCalendar())
	at := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Record(bar("SPY", at.Add(time.Duration(j)*time.Second), "500", "500"))
				h.OpeningPrice("SPY", "2024-03-04")
				h.Tradable("SPY")
			}
		}(i)
	}
	wg.Wait()
}
