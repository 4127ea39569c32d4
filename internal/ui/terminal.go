// Package ui renders backtest progress in a terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/term"

	"github.com/tathienbao/letf-intraday/internal/backtest"
)

// ANSI escape codes
const (
	ClearLine   = "\033[2K"
	MoveToStart = "\r"
	HideCursor  = "\033[?25l"
	ShowCursor  = "\033[?25h"
	ColorReset  = "\033[0m"
	ColorGreen  = "\033[32m"
	ColorRed    = "\033[31m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorDim    = "\033[2m"
	ColorBold   = "\033[1m"
)

// Candle represents OHLC data for one bar.
type Candle struct {
	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
}

// BacktestUI draws a candle chart of one watched symbol with a progress bar
// and running statistics underneath.
type BacktestUI struct {
	out         io.Writer
	watch       string
	candles     []Candle
	maxCandles  int
	chartHeight int
	every       int

	currentBar  int
	totalBars   int
	equity      decimal.Decimal
	startEquity decimal.Decimal
	trades      int
	winRate     decimal.Decimal
	phase       string
	lastTrade   string

	width        int
	linesPrinted int
}

// NewBacktestUI creates a UI that charts watch and redraws every n bars.
func NewBacktestUI(out io.Writer, watch string, totalBars int, startEquity decimal.Decimal) *BacktestUI {
	width := terminalWidth()

	maxCandles := width - 20
	if maxCandles < 20 {
		maxCandles = 20
	}
	if maxCandles > 100 {
		maxCandles = 100
	}

	every := totalBars / 500
	if every < 1 {
		every = 1
	}

	return &BacktestUI{
		out:         out,
		watch:       watch,
		candles:     make([]Candle, 0, maxCandles),
		maxCandles:  maxCandles,
		chartHeight: 12,
		every:       every,
		totalBars:   totalBars,
		startEquity: startEquity,
		equity:      startEquity,
		width:       width,
	}
}

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Start hides the cursor.
func (ui *BacktestUI) Start() {
	fmt.Fprint(ui.out, HideCursor)
	fmt.Fprintln(ui.out)
}

// Stop draws the final frame and restores the cursor.
func (ui *BacktestUI) Stop() {
	ui.Render()
	fmt.Fprint(ui.out, ShowCursor)
	fmt.Fprintln(ui.out)
}

// Update consumes one runner progress update. It is a backtest.ProgressCallback.
func (ui *BacktestUI) Update(u backtest.ProgressUpdate) {
	ui.currentBar = u.Bar
	if u.TotalBars > 0 {
		ui.totalBars = u.TotalBars
	}
	ui.equity = u.Equity
	ui.trades = u.Trades
	ui.winRate = u.WinRate
	ui.phase = u.Phase
	if u.LastTrade != "" {
		ui.lastTrade = u.LastTrade
	}

	if u.Event.Symbol == ui.watch {
		ui.addCandle(Candle{Open: u.Event.Open, High: u.Event.High, Low: u.Event.Low, Close: u.Event.Close})
	}
	if ui.currentBar%ui.every == 0 {
		ui.Render()
	}
}

func (ui *BacktestUI) addCandle(c Candle) {
	if !c.Open.IsPositive() {
		c.Open = c.Close
	}
	if !c.High.IsPositive() {
		c.High = decimal.Max(c.Open, c.Close)
	}
	if !c.Low.IsPositive() {
		c.Low = decimal.Min(c.Open, c.Close)
	}
	ui.candles = append(ui.candles, c)
	if len(ui.candles) > ui.maxCandles {
		ui.candles = ui.candles[1:]
	}
}

// Render draws the current frame over the previous one.
func (ui *BacktestUI) Render() {
	if ui.linesPrinted > 0 {
		fmt.Fprintf(ui.out, "\033[%dA", ui.linesPrinted)
	}

	lines := []string{ui.progressLine()}
	lines = append(lines, ui.renderChart()...)
	lines = append(lines, ui.statsLine())

	for _, line := range lines {
		fmt.Fprint(ui.out, ClearLine)
		fmt.Fprintln(ui.out, line)
	}
	ui.linesPrinted = len(lines)
}

func (ui *BacktestUI) progressLine() string {
	progress := 0.0
	if ui.totalBars > 0 {
		progress = float64(ui.currentBar) / float64(ui.totalBars)
	}
	if progress > 1 {
		progress = 1
	}
	barWidth := ui.width - 30
	if barWidth < 20 {
		barWidth = 20
	}
	filled := int(progress * float64(barWidth))
	return fmt.Sprintf("%s%s%s %.1f%% [%d/%d]%s",
		ColorCyan, strings.Repeat("█", filled), strings.Repeat("░", barWidth-filled),
		progress*100, ui.currentBar, ui.totalBars, ColorReset)
}

func (ui *BacktestUI) statsLine() string {
	pnlPct := decimal.Zero
	if !ui.startEquity.IsZero() {
		pnlPct = ui.equity.Sub(ui.startEquity).Div(ui.startEquity).Mul(decimal.NewFromInt(100))
	}
	pnlColor := ColorGreen
	if pnlPct.IsNegative() {
		pnlColor = ColorRed
	}

	return fmt.Sprintf("%sEquity:%s $%.0f (%s%+.2f%%%s) │ %sTrades:%s %d │ %sWin:%s %.1f%% │ %s%s%s │ %s",
		ColorBold, ColorReset, ui.equity.InexactFloat64(),
		pnlColor, pnlPct.InexactFloat64(), ColorReset,
		ColorBold, ColorReset, ui.trades,
		ColorBold, ColorReset, ui.winRate.InexactFloat64(),
		ColorYellow, ui.phase, ColorReset,
		ui.lastTrade)
}

// renderChart creates an ASCII candlestick chart of the watched symbol.
func (ui *BacktestUI) renderChart() []string {
	height := ui.chartHeight
	if len(ui.candles) < 2 {
		lines := make([]string, height)
		for i := range lines {
			lines[i] = ColorDim + "│" + ColorReset
		}
		return lines
	}

	minPrice, maxPrice := ui.candles[0].Low, ui.candles[0].High
	for _, c := range ui.candles {
		minPrice = decimal.Min(minPrice, c.Low)
		maxPrice = decimal.Max(maxPrice, c.High)
	}
	priceRange := maxPrice.Sub(minPrice)
	if priceRange.IsZero() {
		priceRange = decimal.NewFromInt(1)
	}
	padding := priceRange.Mul(decimal.RequireFromString("0.05"))
	minPrice = minPrice.Sub(padding)
	priceRange = maxPrice.Add(padding).Sub(minPrice)

	width := len(ui.candles)
	chart := make([][]rune, height)
	colors := make([][]string, height)
	for i := range chart {
		chart[i] = []rune(strings.Repeat(" ", width))
		colors[i] = make([]string, width)
	}

	for x, c := range ui.candles {
		color := ColorRed
		if c.Close.GreaterThanOrEqual(c.Open) {
			color = ColorGreen
		}

		highY := priceToY(c.High, minPrice, priceRange, height)
		lowY := priceToY(c.Low, minPrice, priceRange, height)
		bodyTop := priceToY(decimal.Max(c.Open, c.Close), minPrice, priceRange, height)
		bodyBottom := priceToY(decimal.Min(c.Open, c.Close), minPrice, priceRange, height)

		for y := highY; y <= lowY; y++ {
			if y >= 0 && y < height {
				chart[y][x] = '│'
				colors[y][x] = color
			}
		}
		for y := bodyTop; y <= bodyBottom; y++ {
			if y >= 0 && y < height {
				chart[y][x] = '█'
				colors[y][x] = color
			}
		}
	}

	lines := make([]string, 0, height+1)
	for y := 0; y < height; y++ {
		var sb strings.Builder
		if y%(height/4) == 0 {
			price := yToPrice(y, minPrice, priceRange, height)
			sb.WriteString(fmt.Sprintf("%s%7.2f%s │", ColorDim, price.InexactFloat64(), ColorReset))
		} else {
			sb.WriteString(fmt.Sprintf("%s        │%s", ColorDim, ColorReset))
		}
		for x := 0; x < width; x++ {
			sb.WriteString(colors[y][x])
			sb.WriteRune(chart[y][x])
		}
		sb.WriteString(ColorReset)
		lines = append(lines, sb.String())
	}
	lines = append(lines, fmt.Sprintf("%s        └%s %s%s", ColorDim, strings.Repeat("─", width), ui.watch, ColorReset))
	return lines
}

// priceToY converts a price to a row, 0 at the top.
func priceToY(price, minPrice, priceRange decimal.Decimal, height int) int {
	normalized := price.Sub(minPrice).Div(priceRange)
	y := decimal.NewFromInt(int64(height - 1)).Sub(normalized.Mul(decimal.NewFromInt(int64(height - 1))))
	return int(y.IntPart())
}

func yToPrice(y int, minPrice, priceRange decimal.Decimal, height int) decimal.Decimal {
	normalized := decimal.NewFromInt(int64(height - 1 - y)).Div(decimal.NewFromInt(int64(height - 1)))
	return minPrice.Add(priceRange.Mul(normalized))
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}

// ProgressLine prints a single updating progress line, for non-interactive
// output.
func ProgressLine(w io.Writer, current, total int, message string) {
	progress := 0.0
	if total > 0 {
		progress = float64(current) / float64(total) * 100
	}
	fmt.Fprintf(w, "%s%s[%d/%d] %.1f%% - %s", ClearLine, MoveToStart, current, total, progress, message)
}
