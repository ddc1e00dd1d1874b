// Package feed carries live inputs into the engine: producer signals arrive
// over a WebSocket stream, closed-trade outcomes arrive over the Kafka
// outcome topic. Neither path imports the engine; both hand decoded values
// to caller-supplied hooks so the wiring stays in main.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ninjahangover/signalcartel-alien-sub001/internal/signal"
)

// SignalHandler receives one decoded evaluation cycle. The feed calls it
// inline from the read loop, so handlers must not block for long.
type SignalHandler func(symbol string, signals []signal.Output)

// StreamConfig holds the producer stream tunables.
type StreamConfig struct {
	// URL of the producer signal stream; empty disables the feed.
	URL               string        `yaml:"url"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout" default:"30s" validate:"gt=0"`
	ReadTimeout       time.Duration `yaml:"read_timeout" default:"60s" validate:"gt=0"`
	PingInterval      time.Duration `yaml:"ping_interval" default:"30s" validate:"gt=0"`
	WriteTimeout      time.Duration `yaml:"write_timeout" default:"5s" validate:"gt=0"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" default:"5s" validate:"gt=0"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay" default:"1m" validate:"gt=0"`
}

// DefaultStreamConfig returns the stock stream tunables.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		HandshakeTimeout:  30 * time.Second,
		ReadTimeout:       60 * time.Second,
		PingInterval:      30 * time.Second,
		WriteTimeout:      5 * time.Second,
		ReconnectDelay:    5 * time.Second,
		MaxReconnectDelay: time.Minute,
	}
}

// frameTypeSignals marks an evaluation cycle. Producers multiplex
// heartbeats and notices on the same stream; everything else is ignored.
const frameTypeSignals = "signals"

// frame is the wire envelope producers publish once per cycle. An absent
// type is treated as a signal frame for older producers.
type frame struct {
	Type    string          `json:"type"`
	Symbol  string          `json:"symbol"`
	Signals []signal.Output `json:"signals"`
}

// SignalFeed maintains the WebSocket connection to the signal producer and
// dispatches each decoded cycle to the registered handler.
type SignalFeed struct {
	cfg         StreamConfig
	conn        *websocket.Conn
	connStop    chan struct{}
	mu          sync.RWMutex
	handler     SignalHandler
	reconnectCh chan struct{}
	closeCh     chan struct{}
	isConnected bool
	closed      bool
	logger      zerolog.Logger

	frames  int64
	dropped int64
}

// NewSignalFeed creates a feed for the configured producer stream. A nil
// config uses the defaults; the URL still has to be set before connecting.
func NewSignalFeed(cfg *StreamConfig) *SignalFeed {
	if cfg == nil {
		c := DefaultStreamConfig()
		cfg = &c
	}

	return &SignalFeed{
		cfg:         *cfg,
		reconnectCh: make(chan struct{}, 1),
		closeCh:     make(chan struct{}),
		logger:      log.With().Str("component", "signal_feed").Logger(),
	}
}

// SetHandler registers the cycle handler. Frames decoded before a handler
// is set are counted and discarded.
func (f *SignalFeed) SetHandler(h SignalHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

// Connect establishes the WebSocket connection and starts the read and
// ping loops for it.
func (f *SignalFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("feed closed")
	}
	if f.isConnected {
		return fmt.Errorf("already connected")
	}

	u, err := url.Parse(f.cfg.URL)
	if err != nil {
		return fmt.Errorf("invalid stream URL: %w", err)
	}

	f.logger.Info().Str("url", f.cfg.URL).Msg("connecting to signal stream")

	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.HandshakeTimeout}

	headers := make(map[string][]string)
	headers["User-Agent"] = []string{"signalcartel-fusion/1.1.0 (stream-ingest)"}

	conn, _, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return fmt.Errorf("stream connection failed: %w", err)
	}

	stop := make(chan struct{})
	f.conn = conn
	f.connStop = stop
	f.isConnected = true

	go f.messageLoop(ctx, conn, stop)
	go f.pingLoop(ctx, conn, stop)

	f.logger.Info().Msg("signal stream connected")
	return nil
}

// Run connects and keeps the stream alive until ctx is cancelled or Close
// is called, redialing with capped exponential backoff after drops.
func (f *SignalFeed) Run(ctx context.Context) error {
	if f.cfg.URL == "" {
		return fmt.Errorf("signal stream URL not configured")
	}

	delay := f.cfg.ReconnectDelay
	for {
		err := f.Connect(ctx)
		if err == nil {
			delay = f.cfg.ReconnectDelay
			select {
			case <-ctx.Done():
				f.Close()
				return ctx.Err()
			case <-f.closeCh:
				return nil
			case <-f.reconnectCh:
				f.disconnect()
			}
		} else {
			f.logger.Warn().Err(err).Dur("retry_in", delay).Msg("signal stream connect failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.closeCh:
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > f.cfg.MaxReconnectDelay {
			delay = f.cfg.MaxReconnectDelay
		}
	}
}

// IsConnected returns true while a producer connection is live.
func (f *SignalFeed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.isConnected
}

// ReconnectChannel signals when the connection dropped and needs a redial.
// Run consumes it; callers managing their own lifecycle may instead.
func (f *SignalFeed) ReconnectChannel() <-chan struct{} {
	return f.reconnectCh
}

// Stats reports frames dispatched and frames dropped since start.
func (f *SignalFeed) Stats() (dispatched, dropped int64) {
	return atomic.LoadInt64(&f.frames), atomic.LoadInt64(&f.dropped)
}

// Close stops the feed and all its goroutines. Safe to call more than once.
func (f *SignalFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	close(f.closeCh)

	err := f.teardownLocked()
	f.logger.Info().Msg("signal stream closed")
	return err
}

// disconnect tears the connection down but leaves the feed runnable.
func (f *SignalFeed) disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardownLocked()
}

func (f *SignalFeed) teardownLocked() error {
	if f.connStop != nil {
		close(f.connStop)
		f.connStop = nil
	}
	var err error
	if f.conn != nil {
		err = f.conn.Close()
		f.conn = nil
	}
	f.isConnected = false
	return err
}

// messageLoop reads frames until the connection stops. Each connection gets
// its own loop; stop belongs to this connection only, so a redial never
// races an older loop.
func (f *SignalFeed) messageLoop(ctx context.Context, conn *websocket.Conn, stop chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error().Interface("panic", r).Msg("signal stream read loop panic")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		default:
			conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))

			messageType, data, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-stop:
					// Deliberate teardown, not a drop.
					return
				default:
				}

				if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					f.logger.Warn().Err(err).Msg("signal stream closed by producer")
				} else {
					f.logger.Error().Err(err).Msg("signal stream read error")
				}
				f.triggerReconnect()
				return
			}

			if messageType != websocket.TextMessage {
				continue
			}

			if err := f.processFrame(data); err != nil {
				atomic.AddInt64(&f.dropped, 1)
				f.logger.Error().Err(err).Msg("dropping malformed signal frame")
			}
		}
	}
}

func (f *SignalFeed) processFrame(data []byte) error {
	var fr frame
	if err := json.Unmarshal(data, &fr); err != nil {
		return fmt.Errorf("failed to parse signal frame: %w", err)
	}

	switch fr.Type {
	case frameTypeSignals, "":
	default:
		f.logger.Debug().Str("type", fr.Type).Msg("ignoring non-signal frame")
		return nil
	}

	if fr.Symbol == "" {
		return fmt.Errorf("signal frame missing symbol")
	}

	atomic.AddInt64(&f.frames, 1)

	f.mu.RLock()
	handler := f.handler
	f.mu.RUnlock()

	if handler == nil {
		return nil
	}

	// An empty cycle still dispatches; the engine turns it into a neutral
	// hold rather than silence.
	handler(fr.Symbol, fr.Signals)
	return nil
}

func (f *SignalFeed) pingLoop(ctx context.Context, conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := f.ping(conn); err != nil {
				select {
				case <-stop:
					return
				default:
				}
				f.logger.Error().Err(err).Msg("signal stream ping failed")
				f.triggerReconnect()
				return
			}
		}
	}
}

func (f *SignalFeed) ping(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(f.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.PingMessage, nil)
}

func (f *SignalFeed) triggerReconnect() {
	select {
	case f.reconnectCh <- struct{}{}:
	default:
		// Already triggered.
	}
}
