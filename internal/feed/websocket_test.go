package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ninjahangover/signalcartel-alien-sub001/internal/signal"
)

var upgrader = websocket.Upgrader{}

// producerServer upgrades each connection, pushes the given frames, then
// holds the connection open until the client goes away.
func producerServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSignalFeedDispatchesFrames(t *testing.T) {
	frameJSON := `{"type":"signals","symbol":"BTCUSD","signals":[` +
		`{"system_id":"mathematical-intuition","confidence":0.72,"direction":1,"magnitude":0.018,"reliability":0.8},` +
		`{"system_id":"order-book-ai","confidence":0.64,"direction":1,"magnitude":0.012,"reliability":0.7}]}`

	srv := producerServer(t, []string{frameJSON})
	defer srv.Close()

	type cycle struct {
		symbol  string
		signals []signal.Output
	}
	got := make(chan cycle, 1)

	cfg := DefaultStreamConfig()
	cfg.URL = wsURL(srv)
	f := NewSignalFeed(&cfg)
	f.SetHandler(func(symbol string, signals []signal.Output) {
		got <- cycle{symbol, signals}
	})

	if err := f.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer f.Close()

	select {
	case c := <-got:
		if c.symbol != "BTCUSD" {
			t.Errorf("symbol = %q, want BTCUSD", c.symbol)
		}
		if len(c.signals) != 2 {
			t.Fatalf("got %d signals, want 2", len(c.signals))
		}
		if c.signals[0].SystemID != "mathematical-intuition" {
			t.Errorf("first system = %q", c.signals[0].SystemID)
		}
		if c.signals[1].Confidence != 0.64 {
			t.Errorf("second confidence = %v, want 0.64", c.signals[1].Confidence)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no frame dispatched within 5s")
	}

	dispatched, dropped := f.Stats()
	if dispatched != 1 || dropped != 0 {
		t.Errorf("stats = (%d, %d), want (1, 0)", dispatched, dropped)
	}
}

func TestSignalFeedDropsMalformedFramesAndContinues(t *testing.T) {
	frames := []string{
		`{not json`,
		`{"type":"heartbeat"}`,
		`{"type":"signals","signals":[]}`,
		`{"type":"signals","symbol":"ETHUSD","signals":[]}`,
	}
	srv := producerServer(t, frames)
	defer srv.Close()

	got := make(chan string, 4)

	cfg := DefaultStreamConfig()
	cfg.URL = wsURL(srv)
	f := NewSignalFeed(&cfg)
	f.SetHandler(func(symbol string, _ []signal.Output) { got <- symbol })

	if err := f.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer f.Close()

	select {
	case sym := <-got:
		if sym != "ETHUSD" {
			t.Errorf("dispatched symbol = %q, want ETHUSD", sym)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("valid frame after malformed ones was not dispatched")
	}

	dispatched, dropped := f.Stats()
	if dispatched != 1 {
		t.Errorf("dispatched = %d, want 1", dispatched)
	}
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2 (bad json and missing symbol)", dropped)
	}
}

func TestSignalFeedSignalsReconnectWhenProducerDrops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "restarting"))
		conn.Close()
	}))
	defer srv.Close()

	cfg := DefaultStreamConfig()
	cfg.URL = wsURL(srv)
	f := NewSignalFeed(&cfg)

	if err := f.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer f.Close()

	select {
	case <-f.ReconnectChannel():
	case <-time.After(5 * time.Second):
		t.Fatal("no reconnect signal after producer dropped the connection")
	}
}

func TestSignalFeedRunRedialsAfterDrop(t *testing.T) {
	var mu sync.Mutex
	conns := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		mu.Lock()
		conns++
		n := conns
		mu.Unlock()

		if n == 1 {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "restarting"))
			return
		}

		frame := `{"type":"signals","symbol":"SOLUSD","signals":[]}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	got := make(chan string, 1)

	cfg := DefaultStreamConfig()
	cfg.URL = wsURL(srv)
	cfg.ReconnectDelay = 50 * time.Millisecond
	f := NewSignalFeed(&cfg)
	f.SetHandler(func(symbol string, _ []signal.Output) {
		select {
		case got <- symbol:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	select {
	case sym := <-got:
		if sym != "SOLUSD" {
			t.Errorf("symbol after redial = %q, want SOLUSD", sym)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("feed did not redial after the producer dropped it")
	}

	f.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after Close, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestSignalFeedCloseIdempotent(t *testing.T) {
	f := NewSignalFeed(nil)
	if err := f.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := f.Connect(context.Background()); err == nil {
		t.Fatal("Connect after Close should fail")
	}
}

func TestSignalFeedRunRequiresURL(t *testing.T) {
	f := NewSignalFeed(nil)
	if err := f.Run(context.Background()); err == nil {
		t.Fatal("Run without a URL should fail")
	}
}
