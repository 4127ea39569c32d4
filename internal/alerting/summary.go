package alerting

import (
	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/types"
)

// DailySummary contains session statistics for the end-of-day report.
type DailySummary struct {
	Day            string
	StartingEquity decimal.Decimal
	EndingEquity   decimal.Decimal
	HighWaterMark  decimal.Decimal
	TotalPL        decimal.Decimal
	ReturnPct      decimal.Decimal
	Drawdown       decimal.Decimal
	Entries        int
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	WinRate        decimal.Decimal
	ExitReasons    map[string]int
	Liquidations   int
	SafeModeActive bool
	OpenPositions  int
}

// NewDailySummary builds the summary of one session from its equity marks and
// the trades closed during it.
func NewDailySummary(
	day string,
	startEquity, endEquity, highWater decimal.Decimal,
	entries int,
	trades []types.Trade,
	liquidations int,
	safeModeActive bool,
	openPositions int,
) DailySummary {
	totalPL := endEquity.Sub(startEquity)

	var returnPct decimal.Decimal
	if !startEquity.IsZero() {
		returnPct = totalPL.Div(startEquity).Mul(decimal.NewFromInt(100))
	}

	var drawdown decimal.Decimal
	if !highWater.IsZero() {
		drawdown = highWater.Sub(endEquity).Div(highWater).Mul(decimal.NewFromInt(100))
		if drawdown.IsNegative() {
			drawdown = decimal.Zero
		}
	}

	reasons := make(map[string]int)
	wins, losses := 0, 0
	for _, t := range trades {
		reasons[t.ExitReason]++
		if t.NetPL.IsPositive() {
			wins++
		} else {
			losses++
		}
	}

	var winRate decimal.Decimal
	if len(trades) > 0 {
		winRate = decimal.NewFromInt(int64(wins)).
			Div(decimal.NewFromInt(int64(len(trades)))).
			Mul(decimal.NewFromInt(100))
	}

	return DailySummary{
		Day:            day,
		StartingEquity: startEquity,
		EndingEquity:   endEquity,
		HighWaterMark:  highWater,
		TotalPL:        totalPL,
		ReturnPct:      returnPct,
		Drawdown:       drawdown,
		Entries:        entries,
		TotalTrades:    len(trades),
		WinningTrades:  wins,
		LosingTrades:   losses,
		WinRate:        winRate,
		ExitReasons:    reasons,
		Liquidations:   liquidations,
		SafeModeActive: safeModeActive,
		OpenPositions:  openPositions,
	}
}

// Fields returns the summary as alert key/value pairs.
func (s DailySummary) Fields() []any {
	return []any{
		"day", s.Day,
		"pl", s.TotalPL.StringFixed(2),
		"return_pct", s.ReturnPct.StringFixed(2),
		"drawdown_pct", s.Drawdown.StringFixed(2),
		"entries", s.Entries,
		"trades", s.TotalTrades,
		"wins", s.WinningTrades,
		"losses", s.LosingTrades,
		"stop_loss", s.ExitReasons[types.ExitStopLoss],
		"take_profit", s.ExitReasons[types.ExitTakeProfit],
		"end_of_day", s.ExitReasons[types.ExitEndOfDay],
		"liquidations", s.Liquidations,
		"open_positions", s.OpenPositions,
	}
}
