package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramConfig holds configuration for Telegram alerter.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Timeout  time.Duration
	APIURL   string  // defaults to the public Bot API
	PerSec   float64 // send rate limit, defaults to 1 message per second
}

// TelegramAlerter sends alerts via the Telegram Bot API.
type TelegramAlerter struct {
	cfg     TelegramConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewTelegramAlerter creates a new Telegram alerter.
func NewTelegramAlerter(cfg TelegramConfig) *TelegramAlerter {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultTelegramAPI
	}
	if cfg.PerSec <= 0 {
		cfg.PerSec = 1
	}

	return &TelegramAlerter{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.PerSec), 3),
	}
}

// Name returns the name of the alerter.
func (t *TelegramAlerter) Name() string {
	return "telegram"
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	Parameters  struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters"`
}

// maxRetryAfter bounds how long a flood-control reply may hold a send.
const maxRetryAfter = 30 * time.Second

// Alert sends an alert via Telegram.
func (t *TelegramAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	return t.send(ctx, t.formatMessage(severity, message, fields...))
}

// SendDailySummary sends a formatted end-of-day summary.
func (t *TelegramAlerter) SendDailySummary(ctx context.Context, summary DailySummary) error {
	return t.send(ctx, formatDailySummary(summary))
}

// send posts text, retrying once when the API answers 429 with retry_after.
func (t *TelegramAlerter) send(ctx context.Context, text string) error {
	retryAfter, err := t.post(ctx, text)
	if retryAfter <= 0 {
		return err
	}
	if retryAfter > maxRetryAfter {
		return fmt.Errorf("%w (retry after %s)", err, retryAfter)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(retryAfter):
	}
	_, err = t.post(ctx, text)
	return err
}

func (t *TelegramAlerter) post(ctx context.Context, text string) (time.Duration, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit: %w", err)
	}

	body, err := json.Marshal(telegramMessage{
		ChatID:    t.cfg.ChatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return 0, fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.cfg.APIURL, "/"), t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}

	var tr telegramResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return 0, fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}
	if tr.OK {
		return 0, nil
	}
	err = fmt.Errorf("telegram API error: %s", tr.Description)
	if resp.StatusCode == http.StatusTooManyRequests {
		return time.Duration(tr.Parameters.RetryAfter) * time.Second, err
	}
	return 0, err
}

// formatMessage renders an alert as Telegram HTML. Caller text is escaped.
func (t *TelegramAlerter) formatMessage(severity Severity, message string, fields ...any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>[%s]</b>", severity.Emoji(), severity.String())
	if event, ok := eventOf(fields); ok {
		fmt.Fprintf(&b, " <code>%s</code>", html.EscapeString(string(event)))
	}
	b.WriteString("\n" + html.EscapeString(message))

	if details := formatDetails(fields...); details != "" {
		b.WriteString("\n\n<b>Details:</b>\n" + details)
	}

	fmt.Fprintf(&b, "\n\n<i>%s</i>", time.Now().Format("2006-01-02 15:04:05 MST"))
	return b.String()
}

// formatDetails renders key/value pairs as bullet lines. The event tag is
// shown in the header and skipped here; a trailing key without a value is
// dropped.
func formatDetails(fields ...any) string {
	var lines []string
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok || key == "event" {
			continue
		}
		lines = append(lines, "• "+html.EscapeString(key)+": "+html.EscapeString(fmt.Sprint(fields[i+1])))
	}
	return strings.Join(lines, "\n")
}

func formatDailySummary(s DailySummary) string {
	plEmoji := "📈"
	if s.TotalPL.IsNegative() {
		plEmoji = "📉"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>Session Summary</b>\n<b>Day:</b> %s\n\n", plEmoji, s.Day)

	b.WriteString("<b>Performance:</b>\n")
	fmt.Fprintf(&b, "• Equity: $%s → $%s\n", s.StartingEquity.StringFixed(2), s.EndingEquity.StringFixed(2))
	fmt.Fprintf(&b, "• P/L: $%s (%s%%)\n", s.TotalPL.StringFixed(2), s.ReturnPct.StringFixed(2))
	fmt.Fprintf(&b, "• Drawdown: %s%%\n\n", s.Drawdown.StringFixed(2))

	b.WriteString("<b>Activity:</b>\n")
	fmt.Fprintf(&b, "• Entries: %d\n", s.Entries)
	fmt.Fprintf(&b, "• Trades: %d (wins %d, losses %d, win rate %s%%)\n",
		s.TotalTrades, s.WinningTrades, s.LosingTrades, s.WinRate.StringFixed(1))

	reasons := make([]string, 0, len(s.ExitReasons))
	for r := range s.ExitReasons {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(&b, "• %s: %d\n", r, s.ExitReasons[r])
	}
	fmt.Fprintf(&b, "• Liquidation orders: %d\n\n", s.Liquidations)

	b.WriteString("<b>Status:</b>\n")
	fmt.Fprintf(&b, "• Kill switch: %s\n", boolToStatus(s.SafeModeActive))
	fmt.Fprintf(&b, "• Open positions: %d", s.OpenPositions)

	return b.String()
}

func boolToStatus(b bool) string {
	if b {
		return "🔴 Active"
	}
	return "🟢 Inactive"
}
