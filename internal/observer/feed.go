// Package observer handles market data feeds and the bar history the engine
// reads session opening prices from.
package observer

import (
	"context"

	"github.com/tathienbao/letf-intraday/internal/types"
)

// MarketDataFeed defines the interface for market data sources.
// Implementations can be live feeds or backtest data.
type MarketDataFeed interface {
	// Subscribe starts receiving market events for the given symbols, or for
	// every symbol the feed carries when symbols is empty. Events arrive in
	// timestamp order per symbol. The channel is closed when the context is
	// cancelled or the feed ends.
	Subscribe(ctx context.Context, symbols ...string) (<-chan types.MarketEvent, error)

	// Close shuts down the feed and releases resources.
	Close() error

	// Name returns the feed identifier (e.g., "csv", "websocket").
	Name() string
}

// Observer combines a data feed with the bar history. Every event is recorded
// before it is forwarded, so a consumer reacting to an event already sees it
// in the history.
type Observer struct {
	feed    MarketDataFeed
	history *BarHistory
}

// NewObserver creates a new observer with the given feed and history.
func NewObserver(feed MarketDataFeed, history *BarHistory) *Observer {
	return &Observer{
		feed:    feed,
		history: history,
	}
}

// Subscribe starts observing market data for symbols.
func (o *Observer) Subscribe(ctx context.Context, symbols ...string) (<-chan types.MarketEvent, error) {
	rawEvents, err := o.feed.Subscribe(ctx, symbols...)
	if err != nil {
		return nil, err
	}

	out := make(chan types.MarketEvent, 100)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-rawEvents:
				if !ok {
					return
				}
				if o.history != nil {
					o.history.Record(event)
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// History returns the bar history fed by this observer.
func (o *Observer) History() *BarHistory {
	return o.history
}

// Close shuts down the observer.
func (o *Observer) Close() error {
	return o.feed.Close()
}

func wants(symbols []string, symbol string) bool {
	if len(symbols) == 0 {
		return true
	}
	for _, s := range symbols {
		if s == symbol {
			return true
		}
	}
	return false
}
