package observer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/types"
)

// newWSServer serves one scripted session per connection.
func newWSServer(t *testing.T, subs chan<- wsSubscribe, messages []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub wsSubscribe
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subs <- sub
		for _, m := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWSFeed_StreamsTradesAndBars(t *testing.T) {
	subs := make(chan wsSubscribe, 1)
	srv := newWSServer(t, subs, []string{
		`{"type":"trade","symbol":"spy","t":1709562600000,"p":"510.25","v":100}`,
		`not json`,
		`{"type":"status","symbol":"SPY","t":1709562600000}`,
		`{"type":"trade","symbol":"QQQ","t":1709562600000,"p":440}`,
		`{"type":"trade","symbol":"SPY","t":1709562601000,"p":0}`,
		`{"type":"bar","symbol":"TLT","t":1709562660000,"o":91.5,"h":92,"l":91,"c":91.75,"v":2500}`,
	})

	feed := NewWSFeed(DefaultWSConfig("ws"+strings.TrimPrefix(srv.URL, "http")), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := feed.Subscribe(ctx, "SPY", "TLT")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	sub := <-subs
	if sub.Action != "subscribe" || len(sub.Symbols) != 2 {
		t.Errorf("subscribe message = %+v", sub)
	}

	var got []types.MarketEvent
	for len(got) < 2 {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatal("feed closed early")
			}
			got = append(got, ev)
		case <-ctx.Done():
			t.Fatalf("timeout, got %d events", len(got))
		}
	}

	if got[0].Symbol != "SPY" || !got[0].Close.Equal(decimal.RequireFromString("510.25")) || !got[0].Open.Equal(got[0].Close) {
		t.Errorf("trade event = %+v", got[0])
	}
	if !got[0].Timestamp.Equal(time.UnixMilli(1709562600000)) {
		t.Errorf("timestamp = %v", got[0].Timestamp)
	}
	if got[1].Symbol != "TLT" || !got[1].Open.Equal(decimal.RequireFromString("91.5")) || got[1].Volume != 2500 {
		t.Errorf("bar event = %+v", got[1])
	}

	if err := feed.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after Close")
	}
}

func TestWSFeed_RequiresURL(t *testing.T) {
	feed := NewWSFeed(WSConfig{}, nil)
	if _, err := feed.Subscribe(context.Background(), "SPY"); err == nil {
		t.Error("expected error without url")
	}
	if feed.Name() != "websocket" {
		t.Errorf("Name() = %s", feed.Name())
	}
}

func TestWSMessage_Event(t *testing.T) {
	tests := []struct {
		name string
		msg  wsMessage
		ok   bool
	}{
		{"trade", wsMessage{Type: "trade", Symbol: "SPY", Time: 1, Price: decimal.NewFromInt(1)}, true},
		{"bar", wsMessage{Type: "bar", Symbol: "SPY", Time: 1, Close: decimal.NewFromInt(1)}, true},
		{"unknown type", wsMessage{Type: "quote", Symbol: "SPY", Time: 1, Price: decimal.NewFromInt(1)}, false},
		{"no symbol", wsMessage{Type: "trade", Time: 1, Price: decimal.NewFromInt(1)}, false},
		{"no time", wsMessage{Type: "trade", Symbol: "SPY", Price: decimal.NewFromInt(1)}, false},
		{"zero price", wsMessage{Type: "trade", Symbol: "SPY", Time: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := tt.msg.event(); ok != tt.ok {
				t.Errorf("event() ok = %v, want %v", ok, tt.ok)
			}
		})
	}
}
