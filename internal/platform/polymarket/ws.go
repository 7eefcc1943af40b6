package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/polyquant/tradebot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// handshakeTimeout bounds the WebSocket dial.
	handshakeTimeout = 15 * time.Second

	// reconnectBase is the initial delay before attempting to reconnect.
	reconnectBase = 5 * time.Second

	// reconnectMax caps the exponential backoff for reconnection.
	reconnectMax = 60 * time.Second
)

// RawFrame is one inbound WebSocket frame plus its codec hint.
type RawFrame struct {
	Data   []byte
	Binary bool
}

// WSClient is a client for the exchange market WebSocket channel. It owns a
// single connection at a time; Run dials, subscribes, and pushes raw frames
// to the caller until the context is cancelled, reconnecting with jittered
// exponential backoff on any failure. On every (re)connect the full current
// subscription membership is replayed in batches before frames flow.
type WSClient struct {
	wsURL       string
	heartbeat   time.Duration
	maxBatch    int
	frames      chan<- RawFrame
	onReconnect func()
	logger      *slog.Logger

	mu     sync.Mutex
	assets map[string]struct{}
	conn   *websocket.Conn
}

// NewWSClient creates a WebSocket client that delivers inbound frames to the
// given channel. onReconnect is invoked after each successful (re)connect and
// resubscribe, before any frame from the new session is delivered; the
// gateway uses it to mark all books stale.
func NewWSClient(wsURL string, heartbeat time.Duration, maxBatch int, frames chan<- RawFrame, onReconnect func(), logger *slog.Logger) *WSClient {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	if maxBatch <= 0 || maxBatch > 500 {
		maxBatch = 500
	}
	return &WSClient{
		wsURL:       wsURL,
		heartbeat:   heartbeat,
		maxBatch:    maxBatch,
		frames:      frames,
		onReconnect: onReconnect,
		logger:      logger.With(slog.String("component", "ws")),
		assets:      make(map[string]struct{}),
	}
}

// SetMembership replaces the subscription set. Newly added tokens are
// subscribed on the live connection; the full set is replayed on reconnect.
func (w *WSClient) SetMembership(tokenIDs []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	next := make(map[string]struct{}, len(tokenIDs))
	var added []string
	for _, id := range tokenIDs {
		next[id] = struct{}{}
		if _, ok := w.assets[id]; !ok {
			added = append(added, id)
		}
	}
	w.assets = next

	if w.conn != nil && len(added) > 0 {
		_ = w.subscribeLocked(added)
	}
}

// Members returns the current subscription membership.
func (w *WSClient) Members() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.assets))
	for id := range w.assets {
		out = append(out, id)
	}
	return out
}

// Run connects and pumps frames until ctx is cancelled. Each connection
// failure triggers a jittered exponential backoff starting at 5s, capped at
// 60s; the backoff resets after a session that stayed up past one heartbeat.
func (w *WSClient) Run(ctx context.Context) error {
	delay := reconnectBase
	for {
		start := time.Now()
		err := w.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(start) > w.heartbeat {
			delay = reconnectBase
		}

		jitter := time.Duration(rand.Int63n(int64(delay) / 2))
		w.logger.Warn("session ended, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("session", time.Since(start).Round(time.Millisecond)),
			slog.Duration("backoff", delay+jitter),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
		if delay > reconnectMax {
			delay = reconnectMax
		}
	}
}

// runSession dials, resubscribes, and reads frames until error or cancel.
func (w *WSClient) runSession(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}
	defer conn.Close()

	w.mu.Lock()
	w.conn = conn
	members := make([]string, 0, len(w.assets))
	for id := range w.assets {
		members = append(members, id)
	}
	err = w.subscribeLocked(members)
	w.mu.Unlock()
	if err != nil {
		return fmt.Errorf("polymarket/ws: resubscribe: %w", err)
	}
	defer func() {
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
	}()

	if w.onReconnect != nil {
		w.onReconnect()
	}

	// A missed heartbeat for 2x the interval is a disconnect.
	pongWait := 2 * w.heartbeat
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go w.pingLoop(ctx, conn, done)

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("polymarket/ws: read: %w", domain.ErrWSDisconnect)
		}
		// Text-level heartbeats used by the market channel.
		if len(raw) == 4 && string(raw) == "PING" {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.TextMessage, []byte("PONG"))
			continue
		}
		if len(raw) == 4 && string(raw) == "PONG" {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			continue
		}

		frame := RawFrame{Data: raw, Binary: msgType == websocket.BinaryMessage}
		select {
		case w.frames <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// subscribeLocked sends subscription commands in batches of maxBatch.
// Caller must hold w.mu.
func (w *WSClient) subscribeLocked(tokenIDs []string) error {
	if w.conn == nil || len(tokenIDs) == 0 {
		return nil
	}
	for start := 0; start < len(tokenIDs); start += w.maxBatch {
		end := start + w.maxBatch
		if end > len(tokenIDs) {
			end = len(tokenIDs)
		}
		cmd := WSCommand{Type: "market", AssetsIDs: tokenIDs[start:end]}
		_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := w.conn.WriteJSON(cmd); err != nil {
			return err
		}
	}
	return nil
}

// pingLoop sends PING text heartbeats at the configured interval until the
// session ends.
func (w *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
				return
			}
		}
	}
}
