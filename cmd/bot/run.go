package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/alerting"
	"github.com/tathienbao/letf-intraday/internal/broker/paper"
	"github.com/tathienbao/letf-intraday/internal/config"
	"github.com/tathienbao/letf-intraday/internal/engine"
	"github.com/tathienbao/letf-intraday/internal/metrics"
	"github.com/tathienbao/letf-intraday/internal/observer"
	"github.com/tathienbao/letf-intraday/internal/persistence"
	"github.com/tathienbao/letf-intraday/internal/risk"
	"github.com/tathienbao/letf-intraday/internal/session"
	"github.com/tathienbao/letf-intraday/internal/types"
)

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	debug := fs.Bool("debug", false, "Debug logging")
	_ = fs.Parse(args)

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if cfg.Feed.Type != "websocket" {
		slog.Error("run needs a live feed", "feed_type", cfg.Feed.Type, "hint", "set feed.type: websocket or use the backtest command")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := newBot(ctx, cfg, logger)
	if err != nil {
		slog.Error("startup failed", "err", err)
		os.Exit(1)
	}

	if err := b.run(ctx); err != nil {
		slog.Error("bot stopped with error", "err", err)
	}
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := b.shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	slog.Info("letf-bot shutdown complete")
}

// bot holds the live paper-trading components.
type bot struct {
	cfg      *config.Config
	logger   *slog.Logger
	calendar session.Calendar

	repo     persistence.Repository
	risk     *risk.Engine
	alerter  alerting.Alerter
	closeAlr func()
	broker   *paper.Broker
	history  *observer.BarHistory
	feed     *observer.Observer
	engine   *engine.Engine
	server   *metrics.Server
	recorder *metrics.Recorder

	events chan types.Event
	fills  chan types.FillEvent
	tally  *tradeTally

	feedMu   sync.Mutex
	lastTick time.Time
	feedDown bool
}

func newBot(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*bot, error) {
	engCfg, err := cfg.ToEngineConfig()
	if err != nil {
		return nil, err
	}

	b := &bot{
		cfg:      cfg,
		logger:   logger,
		calendar: engCfg.Calendar,
		recorder: metrics.NewRecorder(),
		events:   make(chan types.Event, 256),
		fills:    make(chan types.FillEvent, 256),
		tally:    &tradeTally{},
		lastTick: time.Now(),
	}
	metrics.SetBuildInfo(Version, GitCommit, BuildTime)

	logger.Info("letf-bot starting",
		"version", Version,
		"mode", engCfg.Mode.String(),
		"pairs", len(engCfg.Pairs),
		"equity", cfg.Account.StartingEquity,
	)

	// Persistence
	startEquity := cfg.StartingEquityDecimal()
	var saved *persistence.BotState
	if cfg.Persistence.Enabled {
		b.repo, err = openRepository(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open persistence: %w", err)
		}
		saved, err = b.repo.GetState(ctx)
		if err != nil {
			return nil, fmt.Errorf("load state: %w", err)
		}
		if saved != nil && saved.Equity.IsPositive() {
			startEquity = saved.Equity
			b.tally.restore(saved)
		}
	}

	// Risk
	b.risk = risk.NewEngine(cfg.ToRiskConfig(), startEquity, logger)
	if saved != nil && saved.Equity.IsPositive() {
		b.risk.Restore(saved.Equity, saved.HighWaterMark, saved.KillSwitchActive)
	}

	// Alerting
	b.alerter, b.closeAlr = buildAlerter(cfg, logger)
	if b.alerter != nil {
		b.risk.SetAlerter(b.alerter)
	}

	// Broker
	paperCfg := cfg.ToPaperConfig()
	paperCfg.InitialCash = startEquity
	b.broker = paper.NewBroker(paperCfg, b.onFill, logger)
	if err := b.broker.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect broker: %w", err)
	}

	// Engine
	b.history = observer.NewBarHistory(engCfg.Calendar)
	b.engine, err = engine.NewEngine(engCfg, b.history, b.broker, b.risk, logger)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	if b.alerter != nil {
		b.engine.SetAlerter(b.alerter)
	}
	b.engine.SetTradeHandler(b.tally.add)
	b.engine.SetSummaryHandler(b.onSummary, b.risk.SessionMarks)

	if b.repo != nil {
		b.engine.SetJournal(b.repo)
		if err := b.engine.Restore(ctx, b.repo); err != nil {
			return nil, fmt.Errorf("restore engine: %w", err)
		}
		b.seedBroker()
	}

	// Feed
	ws := observer.NewWSFeed(cfg.ToWSConfig(), logger)
	b.feed = observer.NewObserver(ws, b.history)

	// Metrics
	if cfg.Metrics.Enabled {
		b.server = metrics.NewServer(cfg.ToMetricsServerConfig(), logger)
		b.server.RegisterHealthCheck("broker", func() metrics.Check {
			if b.broker.IsConnected() {
				return metrics.Healthy()
			}
			return metrics.Unhealthy("paper broker disconnected")
		})
		b.server.RegisterHealthCheck("feed", func() metrics.Check {
			if b.isFeedDown() {
				return metrics.Unhealthy("no ticks during the active session")
			}
			return metrics.Healthy()
		})
		b.server.RegisterHealthCheck("risk", func() metrics.Check {
			if b.risk.IsInSafeMode() {
				return metrics.Degraded("kill switch active, entries blocked")
			}
			return metrics.Healthy()
		})
		b.server.SetStateProvider(func() any { return b.engine.Snapshot() })
		if err := b.server.Start(); err != nil {
			return nil, fmt.Errorf("start metrics server: %w", err)
		}
	}

	return b, nil
}

// buildAlerter fans out to the configured channels behind the event filter
// and a queue, so a slow channel never blocks the engine.
func buildAlerter(cfg *config.Config, logger *slog.Logger) (alerting.Alerter, func()) {
	if !cfg.Alerting.Enabled {
		return nil, func() {}
	}

	multi := alerting.NewMultiAlerter(logger)
	for _, ch := range cfg.Alerting.Channels {
		floor, _ := alerting.ParseSeverity(ch.MinSeverity) // checked by Validate
		switch ch.Type {
		case "telegram":
			multi.Route(alerting.NewTelegramAlerter(alerting.TelegramConfig{
				BotToken: ch.BotToken,
				ChatID:   ch.ChatID,
			}), floor)
		case "console":
			multi.Route(alerting.NewConsoleAlerter(logger), floor)
		}
	}
	if len(cfg.Alerting.Channels) == 0 {
		multi.AddAlerter(alerting.NewConsoleAlerter(logger))
	}

	async := alerting.NewAsyncAlerter(alerting.NewEventFilter(multi, cfg.Alerting.Events), cfg.Alerting.QueueSize, logger)
	return async, async.Close
}

// seedBroker carries restored legs into the fresh paper account.
func (b *bot) seedBroker() {
	snap := b.engine.Snapshot()
	for _, inst := range snap.Instruments {
		for _, l := range inst.Legs {
			b.broker.SeedPosition(inst.Traded, l.Quantity, l.EntryPrice)
		}
	}
	if len(snap.Orders) > 0 {
		// The paper broker does not survive a restart; these orders will never
		// be acknowledged and their legs are settled at end of day.
		b.logger.Warn("restored orders have no broker counterpart", "orders", len(snap.Orders))
	}
}

// onFill runs on a broker goroutine.
func (b *bot) onFill(ctx context.Context, fill types.FillEvent) {
	if fill.FilledQty != 0 {
		holdings := b.broker.Holdings()
		b.risk.UpdatePosition(fill.Symbol, holdings[fill.Symbol], fill.AvgFillPrice)
	}
	select {
	case b.fills <- fill:
	case <-ctx.Done():
	}
}

func (b *bot) onSummary(s alerting.DailySummary) {
	// Called with the engine locked; the phase is known.
	b.logger.Info("session summary", s.Fields()...)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.saveState(ctx, s.Day, session.PhasePostSession.String())
}

func (b *bot) run(ctx context.Context) error {
	market, err := b.feed.Subscribe(ctx, b.cfg.Symbols()...)
	if err != nil {
		return fmt.Errorf("subscribe to feed: %w", err)
	}

	sched := session.NewScheduler(b.calendar, b.logger)
	now := time.Now()
	if day, phase := b.engine.SessionState(); phase == session.PhaseActive && day == b.calendar.Day(now) {
		b.logger.Info("resuming restored session", "day", day.String())
		sched.SkipCatchUp()
	}
	timers := make(chan types.Event, 8)

	_ = alerting.Send(ctx, b.alerter, alerting.EventBotStarted, "Bot started",
		"version", Version,
		"equity", b.risk.GetSnapshot().Equity.StringFixed(2),
	)

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		if err := sched.Run(ctx, timers); err != nil && ctx.Err() == nil {
			b.logger.Error("scheduler stopped", "err", err)
		}
	}()
	go func() {
		defer wg.Done()
		b.forward(ctx, market, timers)
	}()
	go func() {
		defer wg.Done()
		b.housekeeping(ctx)
	}()

	var runErr error
	go func() {
		defer wg.Done()
		runErr = b.engine.Run(ctx, b.events, b.fills)
	}()

	<-ctx.Done()
	wg.Wait()
	if runErr == context.Canceled {
		runErr = nil
	}
	return runErr
}

// forward feeds ticks and timers into the engine's event channel. A tick
// reaches the broker and the risk engine before the engine sees it.
func (b *bot) forward(ctx context.Context, market <-chan types.MarketEvent, timers <-chan types.Event) {
	for {
		var ev types.Event
		select {
		case <-ctx.Done():
			return

		case tick, ok := <-market:
			if !ok {
				b.logger.Warn("market feed closed")
				market = nil
				continue
			}
			b.sawTick(ctx)
			b.broker.UpdateMarket(tick)
			b.risk.UpdatePosition(tick.Symbol, b.broker.Holdings()[tick.Symbol], tick.Close)
			b.risk.UpdateEquity(b.broker.Equity())
			ev = types.TickEvent(tick)

		case t := <-timers:
			if t.Timer == types.TimerSessionOpen {
				b.risk.StartSession()
			}
			ev = t
		}

		select {
		case b.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (b *bot) sawTick(ctx context.Context) {
	b.feedMu.Lock()
	b.lastTick = time.Now()
	restored := b.feedDown
	b.feedDown = false
	b.feedMu.Unlock()

	if restored {
		b.recorder.RecordDataFeedStatus(true)
		_ = alerting.Send(ctx, b.alerter, alerting.EventFeedRestored, "Market data restored")
	}
}

func (b *bot) isFeedDown() bool {
	b.feedMu.Lock()
	defer b.feedMu.Unlock()
	return b.feedDown
}

// checkFeed flags a silent feed during the active window.
func (b *bot) checkFeed(ctx context.Context, now time.Time) {
	staleAfter := 2*b.cfg.ToWSConfig().PingInterval + 30*time.Second
	if _, phase := b.engine.SessionState(); phase != session.PhaseActive {
		return
	}

	b.feedMu.Lock()
	silent := now.Sub(b.lastTick)
	trip := !b.feedDown && silent > staleAfter
	if trip {
		b.feedDown = true
	}
	b.feedMu.Unlock()

	if trip {
		b.recorder.RecordDataFeedStatus(false)
		_ = alerting.Send(ctx, b.alerter, alerting.EventFeedDisconnected, "No market data",
			"silent_for", silent.Round(time.Second).String(),
		)
	}
}

// housekeeping snapshots equity and state and watches the feed.
func (b *bot) housekeeping(ctx context.Context) {
	snapshots := time.NewTicker(b.cfg.SnapshotInterval())
	defer snapshots.Stop()
	feedCheck := time.NewTicker(10 * time.Second)
	defer feedCheck.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-feedCheck.C:
			b.checkFeed(ctx, now)
		case now := <-snapshots.C:
			b.snapshot(ctx, now)
		}
	}
}

func (b *bot) snapshot(ctx context.Context, now time.Time) {
	if b.repo == nil {
		return
	}
	rs := b.risk.GetSnapshot()
	start, current, _ := b.risk.SessionMarks()
	err := b.repo.SaveEquitySnapshot(ctx, persistence.EquitySnapshot{
		Timestamp:     now,
		Equity:        rs.Equity,
		HighWaterMark: rs.HighWaterMark,
		Drawdown:      rs.Drawdown,
		OpenPositions: rs.OpenSymbols,
		DailyPL:       current.Sub(start),
	})
	if err != nil {
		b.logger.Warn("save equity snapshot failed", "err", err)
		b.recorder.RecordError("persistence")
	}

	day, phase := b.engine.SessionState()
	b.saveState(ctx, day.String(), phase.String())
}

// saveState must not call into the engine; it also runs from the summary
// handler.
func (b *bot) saveState(ctx context.Context, day, phase string) {
	if b.repo == nil {
		return
	}
	rs := b.risk.GetSnapshot()
	total, wins, losses, pl := b.tally.totals()
	err := b.repo.SaveState(ctx, persistence.BotState{
		LastUpdated:      time.Now(),
		Day:              day,
		Phase:            phase,
		Equity:           rs.Equity,
		HighWaterMark:    rs.HighWaterMark,
		KillSwitchActive: rs.SafeMode,
		TotalTrades:      total,
		WinningTrades:    wins,
		LosingTrades:     losses,
		TotalPL:          pl,
	})
	if err != nil {
		b.logger.Warn("save state failed", "err", err)
		b.recorder.RecordError("persistence")
	}
}

func (b *bot) shutdown(ctx context.Context) error {
	b.logger.Info("starting graceful shutdown", "timeout", b.cfg.ShutdownTimeout())

	steps := []struct {
		name string
		fn   func() error
	}{
		{"close feed", func() error {
			return b.feed.Close()
		}},
		{"flatten positions", func() error {
			if !b.cfg.Shutdown.ClosePositionsOnShutdown {
				return nil
			}
			n := b.engine.FlattenAll(ctx, time.Now())
			b.logger.Info("shutdown liquidation submitted", "orders", n)
			return nil
		}},
		{"await fills", func() error {
			if err := b.broker.Wait(ctx); err != nil {
				return err
			}
			b.drainFills(ctx)
			return nil
		}},
		{"disconnect broker", func() error {
			return b.broker.Disconnect()
		}},
		{"save state", func() error {
			b.risk.UpdateEquity(b.broker.Equity())
			day, phase := b.engine.SessionState()
			b.saveState(ctx, day.String(), phase.String())
			return nil
		}},
		{"stop metrics server", func() error {
			if b.server == nil {
				return nil
			}
			return b.server.Shutdown(ctx)
		}},
		{"close persistence", func() error {
			if b.repo == nil {
				return nil
			}
			return b.repo.Close()
		}},
		{"flush alerts", func() error {
			_ = alerting.Send(ctx, b.alerter, alerting.EventBotStopped, "Bot stopped",
				"equity", b.broker.Equity().StringFixed(2),
			)
			b.closeAlr()
			return nil
		}},
	}

	for _, step := range steps {
		select {
		case <-ctx.Done():
			return fmt.Errorf("shutdown timeout during: %s", step.name)
		default:
			b.logger.Debug("shutdown step", "step", step.name)
			if err := step.fn(); err != nil {
				b.logger.Warn("shutdown step failed", "step", step.name, "err", err)
			}
		}
	}
	return nil
}

// drainFills reconciles fills queued after the engine loop stopped.
func (b *bot) drainFills(ctx context.Context) {
	for {
		select {
		case fill := <-b.fills:
			if err := b.engine.OnFill(ctx, fill); err != nil {
				b.logger.Debug("late fill not applied", "order_id", fill.OrderID, "err", err)
			}
		default:
			return
		}
	}
}

// tradeTally keeps lifetime trade counts for the persisted bot state.
type tradeTally struct {
	mu     sync.Mutex
	total  int
	wins   int
	losses int
	pl     decimal.Decimal
}

func (t *tradeTally) add(tr types.Trade) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total++
	if tr.NetPL.IsPositive() {
		t.wins++
	} else {
		t.losses++
	}
	t.pl = t.pl.Add(tr.NetPL)
}

func (t *tradeTally) restore(s *persistence.BotState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total, t.wins, t.losses, t.pl = s.TotalTrades, s.WinningTrades, s.LosingTrades, s.TotalPL
}

func (t *tradeTally) totals() (total, wins, losses int, pl decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total, t.wins, t.losses, t.pl
}
