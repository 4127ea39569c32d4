package observer

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/types"
)

// BacktestFeed provides market data from a multi-symbol CSV file.
type BacktestFeed struct {
	filePath string
	loc      *time.Location
	events   []types.MarketEvent
	skipped  int
	loaded   bool
}

// NewBacktestFeed creates a new backtest feed from a CSV file.
// CSV format: timestamp,symbol,open,high,low,close,volume
// Timestamps without a zone are read in loc (UTC when nil).
func NewBacktestFeed(filePath string, loc *time.Location) *BacktestFeed {
	if loc == nil {
		loc = time.UTC
	}
	return &BacktestFeed{
		filePath: filePath,
		loc:      loc,
	}
}

// Subscribe starts sending historical market events in timestamp order.
// The channel will close when all data has been sent or context is cancelled.
func (f *BacktestFeed) Subscribe(ctx context.Context, symbols ...string) (<-chan types.MarketEvent, error) {
	if err := f.Load(); err != nil {
		return nil, err
	}

	ch := make(chan types.MarketEvent, 100)
	events := f.events

	go func() {
		defer close(ch)
		for _, event := range events {
			if !wants(symbols, event.Symbol) {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case ch <- event:
			}
		}
	}()

	return ch, nil
}

// Close releases resources.
func (f *BacktestFeed) Close() error {
	f.events = nil
	f.loaded = false
	return nil
}

// Name returns the feed identifier.
func (f *BacktestFeed) Name() string {
	return "csv"
}

// Load reads and parses the CSV file once.
func (f *BacktestFeed) Load() error {
	if f.loaded {
		return nil
	}

	file, err := os.Open(f.filePath)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	events, skipped, err := ParseCSV(file, f.loc)
	if err != nil {
		return fmt.Errorf("parse csv: %w", err)
	}

	f.events = events
	f.skipped = skipped
	f.loaded = true
	return nil
}

// Events returns the loaded events in timestamp order.
func (f *BacktestFeed) Events() []types.MarketEvent {
	return f.events
}

// EventCount returns the number of loaded events.
func (f *BacktestFeed) EventCount() int {
	return len(f.events)
}

// Skipped returns the number of malformed rows dropped while loading.
func (f *BacktestFeed) Skipped() int {
	return f.skipped
}

// Symbols returns the distinct symbols in the loaded data, sorted.
func (f *BacktestFeed) Symbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, ev := range f.events {
		if !seen[ev.Symbol] {
			seen[ev.Symbol] = true
			out = append(out, ev.Symbol)
		}
	}
	sort.Strings(out)
	return out
}

// ParseCSV parses multi-symbol bars from a CSV reader and returns them sorted
// by timestamp, keeping file order among equal timestamps. Rows that do not
// parse, or carry a non-positive close, are skipped and counted.
func ParseCSV(r io.Reader, loc *time.Location) ([]types.MarketEvent, int, error) {
	if loc == nil {
		loc = time.UTC
	}
	reader := csv.NewReader(bufio.NewReader(r))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var events []types.MarketEvent
	skipped := 0
	lineNum := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, skipped, fmt.Errorf("line %d: %w", lineNum, err)
		}
		lineNum++

		// Skip header row
		if lineNum == 1 && isHeader(record) {
			continue
		}

		event, err := parseRecord(record, loc)
		if err != nil {
			skipped++
			continue
		}

		events = append(events, event)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, skipped, nil
}

// parseRecord parses a single CSV record into a MarketEvent.
func parseRecord(record []string, loc *time.Location) (types.MarketEvent, error) {
	var event types.MarketEvent
	if len(record) < 6 {
		return event, fmt.Errorf("want at least 6 fields, got %d: %w", len(record), types.ErrInvalidData)
	}

	ts, err := parseTimestamp(record[0], loc)
	if err != nil {
		return event, fmt.Errorf("parse timestamp: %w", err)
	}
	event.Timestamp = ts

	event.Symbol = strings.ToUpper(strings.TrimSpace(record[1]))
	if event.Symbol == "" {
		return event, types.ErrInvalidSymbol
	}

	fields := []*decimal.Decimal{&event.Open, &event.High, &event.Low, &event.Close}
	names := []string{"open", "high", "low", "close"}
	for i, dst := range fields {
		v, err := decimal.NewFromString(record[2+i])
		if err != nil {
			return event, fmt.Errorf("parse %s: %w", names[i], err)
		}
		*dst = v
	}
	if !event.Close.IsPositive() {
		return event, types.ErrInvalidPrice
	}

	// Volume is optional.
	if len(record) > 6 {
		if vol, err := strconv.ParseInt(record[6], 10, 64); err == nil {
			event.Volume = vol
		}
	}

	return event, nil
}

// parseTimestamp tries multiple timestamp formats.
func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)

	// Try Unix timestamp first
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).In(loc), nil
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}

	formats := []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
		"01/02/2006 15:04:05",
	}
	for _, format := range formats {
		if t, err := time.ParseInLocation(format, s, loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unknown timestamp format: %s", s)
}

// isHeader checks if a record looks like a header row.
func isHeader(record []string) bool {
	if len(record) == 0 {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(record[0])) {
	case "timestamp", "time", "date", "datetime":
		return true
	}
	return false
}

// MemoryFeed provides market data from an in-memory slice.
// Useful for testing.
type MemoryFeed struct {
	events []types.MarketEvent
}

// NewMemoryFeed creates a feed from pre-loaded events.
func NewMemoryFeed(events []types.MarketEvent) *MemoryFeed {
	return &MemoryFeed{events: events}
}

// Subscribe starts sending events from memory.
func (f *MemoryFeed) Subscribe(ctx context.Context, symbols ...string) (<-chan types.MarketEvent, error) {
	ch := make(chan types.MarketEvent, len(f.events))
	events := f.events

	go func() {
		defer close(ch)
		for _, event := range events {
			if !wants(symbols, event.Symbol) {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case ch <- event:
			}
		}
	}()

	return ch, nil
}

// Close is a no-op for memory feed.
func (f *MemoryFeed) Close() error {
	return nil
}

// Name returns the feed identifier.
func (f *MemoryFeed) Name() string {
	return "memory"
}

// AddEvent adds an event to the feed.
func (f *MemoryFeed) AddEvent(event types.MarketEvent) {
	f.events = append(f.events, event)
}
