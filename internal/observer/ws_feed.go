package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/types"
)

// WSConfig configures a websocket feed.
type WSConfig struct {
	URL          string
	PingInterval time.Duration
	ReadTimeout  time.Duration
	MaxBackoff   time.Duration
}

// DefaultWSConfig returns keepalive and reconnect settings for url.
func DefaultWSConfig(url string) WSConfig {
	return WSConfig{
		URL:          url,
		PingInterval: 15 * time.Second,
		ReadTimeout:  30 * time.Second,
		MaxBackoff:   30 * time.Second,
	}
}

// wsSubscribe is sent after every (re)connect.
type wsSubscribe struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// wsMessage is a trade ("trade") or a minute bar ("bar"). Prices may be JSON
// strings or numbers. t is unix milliseconds.
type wsMessage struct {
	Type   string          `json:"type"`
	Symbol string          `json:"symbol"`
	Time   int64           `json:"t"`
	Price  decimal.Decimal `json:"p"`
	Open   decimal.Decimal `json:"o"`
	High   decimal.Decimal `json:"h"`
	Low    decimal.Decimal `json:"l"`
	Close  decimal.Decimal `json:"c"`
	Volume int64           `json:"v"`
}

func (m wsMessage) event() (types.MarketEvent, bool) {
	ev := types.MarketEvent{
		Symbol:    strings.ToUpper(m.Symbol),
		Timestamp: time.UnixMilli(m.Time),
		Volume:    m.Volume,
	}
	switch m.Type {
	case "trade":
		ev.Open, ev.High, ev.Low, ev.Close = m.Price, m.Price, m.Price, m.Price
	case "bar":
		ev.Open, ev.High, ev.Low, ev.Close = m.Open, m.High, m.Low, m.Close
	default:
		return ev, false
	}
	if ev.Symbol == "" || m.Time <= 0 || !ev.Close.IsPositive() {
		return ev, false
	}
	return ev, true
}

// WSFeed streams trades and bars from a websocket endpoint, reconnecting with
// exponential backoff until the context is cancelled.
type WSFeed struct {
	cfg    WSConfig
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewWSFeed creates a websocket feed.
func NewWSFeed(cfg WSConfig, logger *slog.Logger) *WSFeed {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 2 * cfg.PingInterval
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &WSFeed{cfg: cfg, logger: logger.With("component", "ws_feed")}
}

// Subscribe connects and streams events for symbols.
func (f *WSFeed) Subscribe(ctx context.Context, symbols ...string) (<-chan types.MarketEvent, error) {
	if f.cfg.URL == "" {
		return nil, fmt.Errorf("websocket feed url: %w", types.ErrInvalidConfig)
	}

	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()

	out := make(chan types.MarketEvent, 256)
	go func() {
		defer close(out)
		f.run(ctx, symbols, out)
	}()
	return out, nil
}

func (f *WSFeed) run(ctx context.Context, symbols []string, out chan<- types.MarketEvent) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		err := f.consume(ctx, symbols, out)
		if ctx.Err() != nil {
			return
		}
		f.logger.Warn("websocket feed disconnected, retrying", "err", err, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = time.Duration(math.Min(float64(f.cfg.MaxBackoff), float64(backoff)*1.8))
	}
}

func (f *WSFeed) consume(ctx context.Context, symbols []string, out chan<- types.MarketEvent) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock ReadMessage on cancellation.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if len(symbols) > 0 {
		if err := conn.WriteJSON(wsSubscribe{Action: "subscribe", Symbols: symbols}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	f.logger.Info("connected market data feed", "url", f.cfg.URL, "symbols", symbols)

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(f.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					f.logger.Warn("websocket ping failed", "err", err)
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			f.logger.Warn("failed to decode feed message", "err", err)
			continue
		}
		ev, ok := msg.event()
		if !ok || !wants(symbols, ev.Symbol) {
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops the feed.
func (f *WSFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
	return nil
}

// Name returns the feed identifier.
func (f *WSFeed) Name() string {
	return "websocket"
}
