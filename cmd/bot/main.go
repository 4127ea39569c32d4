// Package main is the entry point for the leveraged-ETF intraday bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/tathienbao/letf-intraday/internal/config"
	"github.com/tathienbao/letf-intraday/internal/engine"
	"github.com/tathienbao/letf-intraday/internal/persistence"
)

// Version information (set by build flags).
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Secrets such as TELEGRAM_BOT_TOKEN may live in a local .env file.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: .env not loaded: %v\n", err)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "backtest":
		cmdBacktest(os.Args[2:])
	case "run":
		cmdRun(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	case "state":
		cmdState(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`letf-bot - Leveraged ETF intraday trading

Buys a leveraged ETF when its underlying drops below the session reference
price, exits each leg on a bracket and flattens everything before the close.

Usage:
  letf-bot <command> [options]

Commands:
  run        Start paper trading on a live websocket feed
  backtest   Replay a multi-symbol CSV through the engine
  validate   Validate configuration file
  state      Print the journaled state
  version    Show version information
  help       Show this help message

Examples:
  letf-bot run --config config.yaml
  letf-bot backtest --config config.yaml --data data/bars_1m.csv
  letf-bot validate --config config.yaml
  letf-bot state --config config.yaml

Use "letf-bot <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("letf-bot version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	engCfg, err := cfg.ToEngineConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Starting equity:  $%.2f\n", cfg.Account.StartingEquity)
	fmt.Printf("  Position mode:    %s (allocation %s)\n", engCfg.Mode, engCfg.AllocationFraction.StringFixed(4))
	fmt.Printf("  Ratios:           entry %s, stop %s, target %s\n",
		engCfg.EntryRatio, engCfg.StopLossRatio, engCfg.TakeProfitRatio)
	fmt.Printf("  Session:          open %s, end of day %s (%s)\n",
		cfg.Market.SessionOpen, cfg.Market.EndOfDayTime, cfg.Market.Timezone)
	fmt.Printf("  EOD liquidation:  %t\n", engCfg.LiquidateAtEndOfDay)
	fmt.Printf("  Max drawdown:     %.1f%%\n", cfg.Risk.MaxGlobalDrawdownPct*100)
	pairs := make([]string, 0, len(engCfg.Pairs))
	for _, p := range engCfg.Pairs {
		pairs = append(pairs, p.String())
	}
	fmt.Printf("  Pairs:            %s\n", strings.Join(pairs, ", "))
	if cfg.Persistence.Enabled {
		fmt.Printf("  Persistence:      %s\n", cfg.Persistence.Type)
	}
	fmt.Printf("  Feed:             %s\n", cfg.Feed.Type)
}

func cmdState(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	trades := fs.Int("trades", 10, "Number of recent trades to show per symbol")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if !cfg.Persistence.Enabled {
		fmt.Fprintln(os.Stderr, "Error: persistence is disabled, there is no journaled state")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Persistence error: %v\n", err)
		os.Exit(1)
	}
	defer repo.Close()

	if err := printState(ctx, repo, cfg, *trades); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printState(ctx context.Context, repo persistence.Repository, cfg *config.Config, tradeLimit int) error {
	state, err := repo.GetState(ctx)
	if err != nil {
		return fmt.Errorf("get state: %w", err)
	}

	fmt.Println("=== BOT STATE ===")
	if state == nil {
		fmt.Println("No state saved yet.")
	} else {
		fmt.Printf("Last updated:     %s\n", state.LastUpdated.Format(time.RFC3339))
		fmt.Printf("Session:          %s %s\n", state.Day, state.Phase)
		fmt.Printf("Equity:           $%s\n", state.Equity.StringFixed(2))
		fmt.Printf("High-water mark:  $%s\n", state.HighWaterMark.StringFixed(2))
		fmt.Printf("Kill switch:      %t\n", state.KillSwitchActive)
		fmt.Printf("Trades:           %d (%d won, %d lost)\n", state.TotalTrades, state.WinningTrades, state.LosingTrades)
		fmt.Printf("Total P&L:        $%s\n", state.TotalPL.StringFixed(2))
	}

	refs, err := repo.GetReferences(ctx)
	if err != nil {
		return fmt.Errorf("get references: %w", err)
	}
	fmt.Println("\n=== REFERENCES ===")
	if len(refs) == 0 {
		fmt.Println("None.")
	}
	for _, r := range refs {
		degraded := ""
		if r.Degraded {
			degraded = " (degraded)"
		}
		fmt.Printf("%-6s %s  %s%s\n", r.Signal, r.Day, r.Price.StringFixed(4), degraded)
	}

	legs, err := repo.GetLegs(ctx)
	if err != nil {
		return fmt.Errorf("get legs: %w", err)
	}
	fmt.Println("\n=== LEGS ===")
	if len(legs) == 0 {
		fmt.Println("None.")
	}
	for _, l := range legs {
		fmt.Printf("%-6s %-14s qty=%-6d entry=%s opened=%s\n",
			l.Symbol, l.State, l.Quantity, l.EntryPrice.StringFixed(4), l.OpenedAt.Format(time.RFC3339))
	}

	orders, err := repo.GetPendingOrders(ctx)
	if err != nil {
		return fmt.Errorf("get orders: %w", err)
	}
	if len(orders) > 0 {
		fmt.Println("\n=== OUTSTANDING ORDERS ===")
		for _, o := range orders {
			fmt.Printf("%s %-6s %-11s qty=%-6d filled=%d %s\n",
				o.OrderID, o.Symbol, o.Kind, o.Quantity, o.FilledQty, o.Status)
		}
	}

	if tradeLimit > 0 {
		fmt.Println("\n=== RECENT TRADES ===")
		for _, p := range cfg.Pairs {
			trades, err := repo.GetTradesBySymbol(ctx, p.Traded, tradeLimit)
			if err != nil {
				return fmt.Errorf("get trades: %w", err)
			}
			for _, t := range trades {
				fmt.Printf("%s %-6s qty=%-6d %s -> %s net=%s %s\n",
					t.ExitTime.Format("2006-01-02 15:04"), t.Symbol, t.Quantity,
					t.EntryPrice.StringFixed(2), t.ExitPrice.StringFixed(2), t.NetPL.StringFixed(2), t.ExitReason)
			}
		}
	}
	return nil
}

// openRepository opens the configured backend. Both constructors migrate.
func openRepository(ctx context.Context, cfg *config.Config) (persistence.Repository, error) {
	if cfg.Persistence.Type == "postgres" {
		repo, err := persistence.NewPostgresRepository(ctx, cfg.Persistence.DSN)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}
	repo, err := persistence.NewSQLiteRepository(cfg.Persistence.Path)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func mustEngineConfig(cfg *config.Config) engine.Config {
	engCfg, err := cfg.ToEngineConfig()
	if err != nil {
		slog.Error("invalid engine config", "err", err)
		os.Exit(1)
	}
	return engCfg
}
