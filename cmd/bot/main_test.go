package main

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/persistence"
	"github.com/tathienbao/letf-intraday/internal/types"
)

func TestParseDay(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	got, err := parseDay("2024-03-04", loc)
	if err != nil {
		t.Fatalf("parseDay: %v", err)
	}
	if want := time.Date(2024, 3, 4, 0, 0, 0, 0, loc); !got.Equal(want) {
		t.Errorf("parseDay = %v, want %v", got, want)
	}

	if got, err := parseDay("", loc); err != nil || !got.IsZero() {
		t.Errorf("empty day = %v, %v; want zero time", got, err)
	}
	if _, err := parseDay("03/04/2024", loc); err == nil {
		t.Error("expected an error for a malformed day")
	}
}

func TestTradeTally(t *testing.T) {
	tally := &tradeTally{}
	tally.restore(&persistence.BotState{
		TotalTrades:   2,
		WinningTrades: 1,
		LosingTrades:  1,
		TotalPL:       decimal.NewFromInt(5),
	})

	tally.add(types.Trade{NetPL: decimal.NewFromInt(10)})
	tally.add(types.Trade{NetPL: decimal.Zero})

	total, wins, losses, pl := tally.totals()
	if total != 4 || wins != 2 || losses != 2 {
		t.Errorf("totals = %d/%d/%d, want 4/2/2", total, wins, losses)
	}
	if !pl.Equal(decimal.NewFromInt(15)) {
		t.Errorf("pl = %s, want 15", pl)
	}
}
