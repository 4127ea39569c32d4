// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/tathienbao/letf-intraday/internal/alerting"
	"github.com/tathienbao/letf-intraday/internal/broker/paper"
	"github.com/tathienbao/letf-intraday/internal/engine"
	"github.com/tathienbao/letf-intraday/internal/execution"
	"github.com/tathienbao/letf-intraday/internal/metrics"
	"github.com/tathienbao/letf-intraday/internal/observer"
	"github.com/tathienbao/letf-intraday/internal/risk"
	"github.com/tathienbao/letf-intraday/internal/session"
	"github.com/tathienbao/letf-intraday/internal/types"
)

// Config represents the full application configuration.
type Config struct {
	Account     AccountConfig          `yaml:"account"`
	Market      MarketConfig           `yaml:"market"`
	Pairs       []types.InstrumentPair `yaml:"pairs"`
	Strategy    StrategyConfig         `yaml:"strategy"`
	Execution   ExecutionConfig        `yaml:"execution"`
	Risk        RiskConfig             `yaml:"risk"`
	Persistence PersistenceConfig      `yaml:"persistence"`
	Alerting    AlertingConfig         `yaml:"alerting"`
	Metrics     MetricsConfig          `yaml:"metrics"`
	Feed        FeedConfig             `yaml:"feed"`
	Backtest    BacktestConfig         `yaml:"backtest"`
	Shutdown    ShutdownConfig         `yaml:"shutdown"`
}

// AccountConfig holds account-related settings.
type AccountConfig struct {
	StartingEquity float64 `yaml:"starting_equity"`
}

// MarketConfig holds the session calendar. Clock values are "HH:MM" in
// Timezone.
type MarketConfig struct {
	Timezone                 string `yaml:"timezone"`
	SessionOpen              string `yaml:"session_open"`
	ReferenceCaptureDelayMin int    `yaml:"reference_capture_delay_min"`
	EndOfDayTime             string `yaml:"end_of_day_time"`
	SessionClose             string `yaml:"session_close"`
}

// StrategyConfig holds the entry and exit rules.
type StrategyConfig struct {
	PositionMode             string  `yaml:"position_mode"`
	EntryRatio               float64 `yaml:"entry_ratio"`
	StopLossRatio            float64 `yaml:"stop_loss_ratio"`
	TakeProfitRatio          float64 `yaml:"take_profit_ratio"`
	TargetAllocationFraction float64 `yaml:"target_allocation_fraction"` // 0 = mode default
	EndOfDayLiquidation      *bool   `yaml:"end_of_day_liquidation_enabled"`
}

// ExecutionConfig holds order routing settings for the paper broker and the
// backtest simulator.
type ExecutionConfig struct {
	OrderTimeoutSec    int     `yaml:"order_timeout_sec"`
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`
	SlippageBps        float64 `yaml:"slippage_bps"`
	CommissionPerShare float64 `yaml:"commission_per_share"`
	MinCommission      float64 `yaml:"min_commission"`
	FillDelayMs        int     `yaml:"fill_delay_ms"`
}

// RiskConfig holds risk management settings.
type RiskConfig struct {
	MaxGlobalDrawdownPct    float64 `yaml:"max_global_drawdown_pct"`
	MaxExposurePerSymbolPct float64 `yaml:"max_exposure_per_symbol_pct"`
}

// PersistenceConfig holds persistence settings.
type PersistenceConfig struct {
	Enabled             bool   `yaml:"enabled"`
	Type                string `yaml:"type"` // sqlite | postgres
	Path                string `yaml:"path"` // for sqlite
	DSN                 string `yaml:"dsn"`  // for postgres
	SnapshotIntervalSec int    `yaml:"snapshot_interval_sec"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled   bool            `yaml:"enabled"`
	QueueSize int             `yaml:"queue_size"`
	Channels  []ChannelConfig `yaml:"channels"`
	Events    []string        `yaml:"events"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type        string `yaml:"type"` // telegram | console
	BotToken    string `yaml:"bot_token"`
	ChatID      string `yaml:"chat_id"`
	MinSeverity string `yaml:"min_severity"` // info (default) | warning | high | critical
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// FeedConfig selects the market data source.
type FeedConfig struct {
	Type            string `yaml:"type"` // csv | websocket
	Path            string `yaml:"path"` // for csv
	URL             string `yaml:"url"`  // for websocket
	PingIntervalSec int    `yaml:"ping_interval_sec"`
}

// BacktestConfig holds backtest reporting settings.
type BacktestConfig struct {
	RiskFreeRate float64 `yaml:"risk_free_rate"`
}

// ShutdownConfig holds shutdown settings.
type ShutdownConfig struct {
	TimeoutSec               int  `yaml:"timeout_sec"`
	ClosePositionsOnShutdown bool `yaml:"close_positions_on_shutdown"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes. ${VAR} references are
// expanded from the environment first.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate fills in defaults and reports every problem at once.
func (c *Config) Validate() error {
	c.applyDefaults()

	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Account.StartingEquity <= 0 {
		add("account.starting_equity must be positive")
	}

	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		add("market.timezone %q: %v", c.Market.Timezone, err)
	}
	for key, v := range map[string]string{
		"market.session_open":    c.Market.SessionOpen,
		"market.end_of_day_time": c.Market.EndOfDayTime,
		"market.session_close":   c.Market.SessionClose,
	} {
		if _, err := session.ParseClock(v); err != nil {
			add("%s: %v", key, err)
		}
	}
	if c.Market.ReferenceCaptureDelayMin < 0 {
		add("market.reference_capture_delay_min must not be negative")
	}

	if len(c.Pairs) == 0 {
		add("pairs: at least one signal/traded pair is required")
	}
	seen := make(map[string]bool)
	for i, p := range c.Pairs {
		if p.Signal == "" || p.Traded == "" {
			add("pairs[%d]: signal and traded are required", i)
			continue
		}
		if p.Signal == p.Traded {
			add("pairs[%d]: signal and traded must differ", i)
		}
		for _, sym := range []string{p.Signal, p.Traded} {
			if seen[sym] {
				add("pairs[%d]: symbol %s appears in more than one pair", i, sym)
			}
			seen[sym] = true
		}
	}

	if _, err := engine.ParseMode(c.Strategy.PositionMode); err != nil {
		add("strategy.position_mode: %v", err)
	}
	if c.Strategy.EntryRatio <= 0 || c.Strategy.EntryRatio >= 1 {
		add("strategy.entry_ratio must be in (0, 1)")
	}
	if c.Strategy.StopLossRatio <= 0 || c.Strategy.StopLossRatio >= 1 {
		add("strategy.stop_loss_ratio must be in (0, 1)")
	}
	if c.Strategy.TakeProfitRatio <= 1 {
		add("strategy.take_profit_ratio must be greater than 1")
	}
	if c.Strategy.TargetAllocationFraction < 0 || c.Strategy.TargetAllocationFraction > 1 {
		add("strategy.target_allocation_fraction must be in (0, 1]")
	}

	if c.Execution.SlippageBps < 0 || c.Execution.CommissionPerShare < 0 || c.Execution.MinCommission < 0 {
		add("execution: slippage and commissions must not be negative")
	}
	if c.Execution.RateLimitPerSecond < 0 {
		add("execution.rate_limit_per_second must not be negative")
	}

	if c.Risk.MaxGlobalDrawdownPct <= 0 || c.Risk.MaxGlobalDrawdownPct > 1 {
		add("risk.max_global_drawdown_pct must be between 0 and 1")
	}
	if c.Risk.MaxExposurePerSymbolPct <= 0 || c.Risk.MaxExposurePerSymbolPct > 1 {
		add("risk.max_exposure_per_symbol_pct must be between 0 and 1")
	}

	if c.Persistence.Enabled {
		switch c.Persistence.Type {
		case "sqlite":
			if c.Persistence.Path == "" {
				add("persistence.path is required for sqlite")
			}
		case "postgres":
			if c.Persistence.DSN == "" {
				add("persistence.dsn is required for postgres")
			}
		default:
			add("persistence.type must be 'sqlite' or 'postgres'")
		}
	}

	if c.Alerting.Enabled {
		for i, ch := range c.Alerting.Channels {
			switch ch.Type {
			case "console":
			case "telegram":
				if ch.BotToken == "" || ch.ChatID == "" {
					add("alerting.channels[%d]: telegram needs bot_token and chat_id", i)
				}
			default:
				add("alerting.channels[%d]: unknown type %q", i, ch.Type)
			}
			if _, err := alerting.ParseSeverity(ch.MinSeverity); err != nil {
				add("alerting.channels[%d].min_severity: %v", i, err)
			}
		}
	}

	switch c.Feed.Type {
	case "csv":
	case "websocket":
		if c.Feed.URL == "" {
			add("feed.url is required for websocket")
		}
	default:
		add("feed.type must be 'csv' or 'websocket'")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", types.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c *Config) applyDefaults() {
	cal := session.DefaultCalendar()
	if c.Market.Timezone == "" {
		c.Market.Timezone = cal.Location.String()
	}
	if c.Market.SessionOpen == "" {
		c.Market.SessionOpen = "09:30"
	}
	if c.Market.ReferenceCaptureDelayMin == 0 {
		c.Market.ReferenceCaptureDelayMin = int(cal.CaptureDelay / time.Minute)
	}
	if c.Market.EndOfDayTime == "" {
		c.Market.EndOfDayTime = "15:59"
	}
	if c.Market.SessionClose == "" {
		c.Market.SessionClose = "16:00"
	}

	if len(c.Pairs) == 0 {
		c.Pairs = types.DefaultPairs()
	}
	for i := range c.Pairs {
		c.Pairs[i].Signal = strings.ToUpper(strings.TrimSpace(c.Pairs[i].Signal))
		c.Pairs[i].Traded = strings.ToUpper(strings.TrimSpace(c.Pairs[i].Traded))
	}

	if c.Strategy.PositionMode == "" {
		c.Strategy.PositionMode = engine.ModeBoundedMultiplicity.String()
	}
	if c.Strategy.EntryRatio == 0 {
		c.Strategy.EntryRatio = 0.995
	}
	if c.Strategy.StopLossRatio == 0 {
		c.Strategy.StopLossRatio = 0.993
	}
	if c.Strategy.TakeProfitRatio == 0 {
		c.Strategy.TakeProfitRatio = 1.015
	}
	if c.Strategy.EndOfDayLiquidation == nil {
		enabled := true
		c.Strategy.EndOfDayLiquidation = &enabled
	}

	if c.Execution.OrderTimeoutSec <= 0 {
		c.Execution.OrderTimeoutSec = 5
	}
	if c.Execution.RateLimitBurst <= 0 {
		c.Execution.RateLimitBurst = 10
	}

	if c.Risk.MaxGlobalDrawdownPct == 0 {
		c.Risk.MaxGlobalDrawdownPct = 0.20
	}
	if c.Risk.MaxExposurePerSymbolPct == 0 {
		c.Risk.MaxExposurePerSymbolPct = 1.0
	}

	if c.Persistence.SnapshotIntervalSec <= 0 {
		c.Persistence.SnapshotIntervalSec = 60
	}
	if c.Alerting.QueueSize <= 0 {
		c.Alerting.QueueSize = 100
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = metrics.DefaultServerConfig().Port
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Feed.Type == "" {
		c.Feed.Type = "csv"
	}
	if c.Feed.PingIntervalSec <= 0 {
		c.Feed.PingIntervalSec = 15
	}
	if c.Shutdown.TimeoutSec <= 0 {
		c.Shutdown.TimeoutSec = 30
	}
}

// ToSessionCalendar converts the market section to a calendar.
func (c *Config) ToSessionCalendar() (session.Calendar, error) {
	loc, err := time.LoadLocation(c.Market.Timezone)
	if err != nil {
		return session.Calendar{}, fmt.Errorf("load timezone: %w", err)
	}
	open, err := session.ParseClock(c.Market.SessionOpen)
	if err != nil {
		return session.Calendar{}, err
	}
	eod, err := session.ParseClock(c.Market.EndOfDayTime)
	if err != nil {
		return session.Calendar{}, err
	}
	closeAt, err := session.ParseClock(c.Market.SessionClose)
	if err != nil {
		return session.Calendar{}, err
	}

	cal := session.Calendar{
		Location:     loc,
		Open:         open,
		CaptureDelay: time.Duration(c.Market.ReferenceCaptureDelayMin) * time.Minute,
		EndOfDay:     eod,
		Close:        closeAt,
	}
	if err := cal.Validate(); err != nil {
		return session.Calendar{}, fmt.Errorf("%w: %w", types.ErrInvalidConfig, err)
	}
	return cal, nil
}

// ToEngineConfig converts the strategy, pairs and market sections.
func (c *Config) ToEngineConfig() (engine.Config, error) {
	mode, err := engine.ParseMode(c.Strategy.PositionMode)
	if err != nil {
		return engine.Config{}, err
	}
	cal, err := c.ToSessionCalendar()
	if err != nil {
		return engine.Config{}, err
	}

	cfg := engine.DefaultConfig(mode)
	cfg.Pairs = append([]types.InstrumentPair(nil), c.Pairs...)
	cfg.Calendar = cal
	cfg.EntryRatio = decimal.NewFromFloat(c.Strategy.EntryRatio)
	cfg.StopLossRatio = decimal.NewFromFloat(c.Strategy.StopLossRatio)
	cfg.TakeProfitRatio = decimal.NewFromFloat(c.Strategy.TakeProfitRatio)
	if c.Strategy.TargetAllocationFraction > 0 {
		cfg.AllocationFraction = decimal.NewFromFloat(c.Strategy.TargetAllocationFraction)
	}
	cfg.LiquidateAtEndOfDay = c.Strategy.EndOfDayLiquidation == nil || *c.Strategy.EndOfDayLiquidation

	if err := cfg.Validate(); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}

// ToRiskConfig converts to risk.Config.
func (c *Config) ToRiskConfig() risk.Config {
	return risk.Config{
		MaxGlobalDrawdownPct:    decimal.NewFromFloat(c.Risk.MaxGlobalDrawdownPct),
		MaxExposurePerSymbolPct: decimal.NewFromFloat(c.Risk.MaxExposurePerSymbolPct),
	}
}

// ToSimulatedConfig converts the execution section for backtests.
func (c *Config) ToSimulatedConfig() execution.SimulatedConfig {
	return execution.SimulatedConfig{
		InitialCash:        c.StartingEquityDecimal(),
		SlippageBps:        decimal.NewFromFloat(c.Execution.SlippageBps),
		CommissionPerShare: decimal.NewFromFloat(c.Execution.CommissionPerShare),
		MinCommission:      decimal.NewFromFloat(c.Execution.MinCommission),
	}
}

// ToPaperConfig converts the execution section for the paper broker.
func (c *Config) ToPaperConfig() paper.Config {
	return paper.Config{
		InitialCash:        c.StartingEquityDecimal(),
		SlippageBps:        decimal.NewFromFloat(c.Execution.SlippageBps),
		CommissionPerShare: decimal.NewFromFloat(c.Execution.CommissionPerShare),
		MinCommission:      decimal.NewFromFloat(c.Execution.MinCommission),
		FillDelay:          time.Duration(c.Execution.FillDelayMs) * time.Millisecond,
		OrdersPerSecond:    c.Execution.RateLimitPerSecond,
		Burst:              c.Execution.RateLimitBurst,
	}
}

// ToWSConfig converts the feed section for the websocket feed.
func (c *Config) ToWSConfig() observer.WSConfig {
	cfg := observer.DefaultWSConfig(c.Feed.URL)
	cfg.PingInterval = time.Duration(c.Feed.PingIntervalSec) * time.Second
	return cfg
}

// ToMetricsServerConfig converts the metrics section.
func (c *Config) ToMetricsServerConfig() metrics.ServerConfig {
	cfg := metrics.DefaultServerConfig()
	cfg.Port = c.Metrics.Port
	cfg.MetricsPath = c.Metrics.Path
	return cfg
}

// StartingEquityDecimal returns starting equity as decimal.
func (c *Config) StartingEquityDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Account.StartingEquity)
}

// Symbols returns every signal and traded symbol.
func (c *Config) Symbols() []string {
	out := make([]string, 0, 2*len(c.Pairs))
	for _, p := range c.Pairs {
		out = append(out, p.Signal, p.Traded)
	}
	return out
}

// OrderTimeout returns the order timeout duration.
func (c *Config) OrderTimeout() time.Duration {
	return time.Duration(c.Execution.OrderTimeoutSec) * time.Second
}

// ShutdownTimeout returns the shutdown timeout duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Shutdown.TimeoutSec) * time.Second
}

// SnapshotInterval returns the snapshot interval duration.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Persistence.SnapshotIntervalSec) * time.Second
}

// IsAlertEventEnabled checks if an alert event type is enabled.
func (c *Config) IsAlertEventEnabled(event string) bool {
	if !c.Alerting.Enabled {
		return false
	}
	if len(c.Alerting.Events) == 0 {
		return true
	}
	for _, e := range c.Alerting.Events {
		if e == event || e == "all" {
			return true
		}
	}
	return false
}
