package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/backtest"
	"github.com/tathienbao/letf-intraday/internal/config"
	"github.com/tathienbao/letf-intraday/internal/observer"
	"github.com/tathienbao/letf-intraday/internal/ui"
)

var hundred = decimal.NewFromInt(100)

func cmdBacktest(args []string) {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	dataPath := fs.String("data", "", "Path to CSV data file (defaults to feed.path)")
	from := fs.String("from", "", "First session to replay (YYYY-MM-DD)")
	to := fs.String("to", "", "Last session to replay (YYYY-MM-DD)")
	watch := fs.String("watch", "", "Symbol to chart (defaults to the first traded symbol)")
	noUI := fs.Bool("no-ui", false, "Disable the terminal chart")
	verbose := fs.Bool("verbose", false, "Verbose output")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if *dataPath == "" {
		*dataPath = cfg.Feed.Path
	}
	if *dataPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --data is required when feed.path is not set")
		fs.Usage()
		os.Exit(1)
	}

	useUI := !*noUI && !*verbose && ui.IsTerminal()

	// The chart owns stdout, so logs drop to warnings on stderr.
	logLevel := slog.LevelInfo
	logOut := os.Stdout
	switch {
	case *verbose:
		logLevel = slog.LevelDebug
	case useUI:
		logLevel = slog.LevelWarn
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	engCfg := mustEngineConfig(cfg)
	loc := engCfg.Calendar.Location

	btCfg := backtest.Config{
		InitialEquity: cfg.StartingEquityDecimal(),
		RiskFreeRate:  decimal.NewFromFloat(cfg.Backtest.RiskFreeRate),
		Engine:        engCfg,
		Risk:          cfg.ToRiskConfig(),
		Execution:     cfg.ToSimulatedConfig(),
	}
	if btCfg.StartTime, err = parseDay(*from, loc); err != nil {
		fmt.Fprintf(os.Stderr, "Error: --from: %v\n", err)
		os.Exit(1)
	}
	if end, err := parseDay(*to, loc); err != nil {
		fmt.Fprintf(os.Stderr, "Error: --to: %v\n", err)
		os.Exit(1)
	} else if !end.IsZero() {
		btCfg.EndTime = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}

	feed := observer.NewBacktestFeed(*dataPath, loc)
	if err := feed.Load(); err != nil {
		slog.Error("failed to load data", "path", *dataPath, "err", err)
		os.Exit(1)
	}
	if feed.Skipped() > 0 {
		slog.Warn("malformed rows skipped", "count", feed.Skipped())
	}

	runner, err := backtest.NewRunner(btCfg, feed, logger)
	if err != nil {
		slog.Error("failed to create runner", "err", err)
		os.Exit(1)
	}
	runner.SetTotalBars(feed.EventCount())

	if *watch == "" && len(engCfg.Pairs) > 0 {
		*watch = engCfg.Pairs[0].Traded
	}

	var chart *ui.BacktestUI
	if useUI {
		chart = ui.NewBacktestUI(os.Stdout, *watch, feed.EventCount(), btCfg.InitialEquity)
		runner.SetProgressCallback(chart.Update)
		chart.Start()
	} else if !*verbose {
		step := max(feed.EventCount()/20, 1)
		runner.SetProgressCallback(func(u backtest.ProgressUpdate) {
			if u.Bar%step == 0 || u.Bar == u.TotalBars {
				ui.ProgressLine(os.Stderr, u.Bar, u.TotalBars, u.Event.Timestamp.In(loc).Format("2006-01-02"))
			}
		})
	}

	slog.Info("starting backtest",
		"data", *dataPath,
		"bars", feed.EventCount(),
		"symbols", feed.Symbols(),
		"mode", engCfg.Mode.String(),
		"equity", cfg.Account.StartingEquity,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := runner.Run(ctx)
	if chart != nil {
		chart.Stop()
	} else if !*verbose {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		slog.Error("backtest failed", "err", err)
		os.Exit(1)
	}

	printBacktestResults(result)
	printMetrics(backtest.NewMetrics(result, btCfg.RiskFreeRate))
	printSessions(result)
}

// parseDay parses a YYYY-MM-DD session date in loc. Empty means unbounded.
func parseDay(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation("2006-01-02", s, loc)
}

func printBacktestResults(result *backtest.Result) {
	fmt.Println("\n=== BACKTEST RESULTS ===")
	fmt.Printf("Sessions:         %d (%d bars)\n", result.Sessions, result.Bars)
	fmt.Printf("Starting Equity:  $%s\n", result.StartEquity.StringFixed(2))
	fmt.Printf("Ending Equity:    $%s\n", result.EndEquity.StringFixed(2))
	fmt.Printf("Total Return:     %s%%\n", result.TotalReturn.Mul(hundred).StringFixed(2))
	fmt.Printf("Max Drawdown:     %s%%\n", result.MaxDrawdown.Mul(hundred).StringFixed(2))
	fmt.Printf("Commissions:      $%s\n", result.Commissions.StringFixed(2))
	fmt.Println()
	fmt.Printf("Total Trades:     %d\n", result.TotalTrades)
	fmt.Printf("Winning Trades:   %d\n", result.WinningTrades)
	fmt.Printf("Losing Trades:    %d\n", result.LosingTrades)
	fmt.Printf("Win Rate:         %s%%\n", result.WinRate.Mul(hundred).StringFixed(2))
	fmt.Printf("Profit Factor:    %s\n", result.ProfitFactor.StringFixed(2))

	if len(result.ExitReasons) > 0 {
		reasons := make([]string, 0, len(result.ExitReasons))
		for r := range result.ExitReasons {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		fmt.Println("\nExits:")
		for _, r := range reasons {
			fmt.Printf("  %-16s %d\n", r, result.ExitReasons[r])
		}
	}
}

func printMetrics(m *backtest.Metrics) {
	fmt.Println("\n=== PERFORMANCE METRICS ===")
	fmt.Printf("Sharpe Ratio:     %s\n", m.SharpeRatio().StringFixed(2))
	fmt.Printf("Sortino Ratio:    %s\n", m.SortinoRatio().StringFixed(2))
	fmt.Printf("Calmar Ratio:     %s\n", m.CalmarRatio().StringFixed(2))
	fmt.Printf("Annual Return:    %s%%\n", m.AnnualizedReturn().Mul(hundred).StringFixed(2))
	fmt.Printf("Expectancy:       $%s\n", m.Expectancy().StringFixed(2))
	fmt.Printf("Avg Win:          $%s\n", m.AverageWin().StringFixed(2))
	fmt.Printf("Avg Loss:         $%s\n", m.AverageLoss().StringFixed(2))
}

func printSessions(result *backtest.Result) {
	if len(result.Summaries) == 0 {
		return
	}
	fmt.Println("\n=== SESSIONS ===")
	fmt.Printf("%-10s %12s %10s %8s %7s %5s\n", "Day", "Equity", "P&L", "Return", "Trades", "Liq")
	for _, s := range result.Summaries {
		fmt.Printf("%-10s %12s %10s %7s%% %7d %5d\n",
			s.Day,
			s.EndingEquity.StringFixed(2),
			s.TotalPL.StringFixed(2),
			s.ReturnPct.StringFixed(2),
			s.TotalTrades,
			s.Liquidations,
		)
	}
}
