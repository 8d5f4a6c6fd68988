package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/ordbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than
	// pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	// maxReconnectAttempts is the retry ceiling. Exceeding it stops
	// reconnection; the feed then requires an external restart.
	maxReconnectAttempts = 10
)

// EventHandler is called for every market event received on the feed.
type EventHandler func(domain.MarketEvent)

// feedCommand is the outbound subscribe/unsubscribe message.
type feedCommand struct {
	Topic            string `json:"topic"`
	Event            string `json:"event"`
	CollectionSymbol string `json:"collectionSymbol,omitempty"`
}

// feedMessage is the inbound event envelope.
type feedMessage struct {
	Topic   string      `json:"topic"`
	Payload apiActivity `json:"payload"`
}

// Feed is the live marketplace event stream. It manages the connection
// lifecycle, per-collection subscriptions, and reconnection with exponential
// backoff up to a fixed retry ceiling.
type Feed struct {
	wsURL  string
	apiKey string
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	// Subscriptions to restore on reconnect.
	subscriptions []feedCommand

	handlerMu sync.RWMutex
	handlers  []EventHandler

	// done is closed when the feed is shut down.
	done chan struct{}
}

// NewFeed creates a feed client for the given websocket URL.
func NewFeed(wsURL, apiKey string, logger *slog.Logger) *Feed {
	return &Feed{
		wsURL:  wsURL,
		apiKey: apiKey,
		logger: logger.With(slog.String("component", "feed")),
		done:   make(chan struct{}),
	}
}

// Connect establishes the websocket connection and starts the read and ping
// loops. Previously registered subscriptions are restored.
func (f *Feed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("marketplace/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	header := http.Header{}
	header.Set("X-NFT-API-Key", f.apiKey)

	conn, _, err := dialer.DialContext(ctx, f.wsURL, header)
	if err != nil {
		return fmt.Errorf("marketplace/ws: connect: %w", err)
	}

	f.conn = conn

	f.conn.SetReadDeadline(time.Now().Add(pongWait))
	f.conn.SetPongHandler(func(string) error {
		f.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go f.readLoop()
	go f.pingLoop()

	for _, cmd := range f.subscriptions {
		if err := f.sendCommand(cmd); err != nil {
			return fmt.Errorf("marketplace/ws: restore subscription: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes the feed to a collection's activity events.
func (f *Feed) Subscribe(ctx context.Context, collectionSymbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		return fmt.Errorf("marketplace/ws: not connected")
	}

	cmd := feedCommand{
		Topic:            "collection",
		Event:            "subscribe",
		CollectionSymbol: collectionSymbol,
	}
	if err := f.sendCommand(cmd); err != nil {
		return fmt.Errorf("marketplace/ws: subscribe to %s: %w", collectionSymbol, err)
	}

	// Track for reconnection.
	f.subscriptions = append(f.subscriptions, cmd)
	return nil
}

// Unsubscribe removes a collection subscription.
func (f *Feed) Unsubscribe(ctx context.Context, collectionSymbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		return fmt.Errorf("marketplace/ws: not connected")
	}

	cmd := feedCommand{
		Topic:            "collection",
		Event:            "unsubscribe",
		CollectionSymbol: collectionSymbol,
	}
	if err := f.sendCommand(cmd); err != nil {
		return fmt.Errorf("marketplace/ws: unsubscribe from %s: %w", collectionSymbol, err)
	}

	filtered := f.subscriptions[:0]
	for _, sub := range f.subscriptions {
		if sub.CollectionSymbol != collectionSymbol {
			filtered = append(filtered, sub)
		}
	}
	f.subscriptions = filtered
	return nil
}

// OnEvent registers a handler called for every inbound market event.
func (f *Feed) OnEvent(handler EventHandler) {
	f.handlerMu.Lock()
	defer f.handlerMu.Unlock()
	f.handlers = append(f.handlers, handler)
}

// Close shuts down the connection and stops the read loop.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}

	f.closed = true
	close(f.done)

	if f.conn != nil {
		_ = f.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return f.conn.Close()
	}
	return nil
}

// sendCommand sends a JSON command on the connection. Caller must hold f.mu.
func (f *Feed) sendCommand(cmd feedCommand) error {
	f.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return f.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads messages and dispatches them to handlers. On read failure it
// hands off to reconnect and exits; Connect restarts it on success.
func (f *Feed) readLoop() {
	for {
		select {
		case <-f.done:
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
				return
			default:
			}
			f.reconnect()
			return
		}

		f.handleMessage(message)
	}
}

// pingLoop keeps the connection alive with periodic pings.
func (f *Feed) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.mu.RLock()
			conn := f.conn
			f.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses an inbound frame and dispatches the event. Frames that
// do not parse or carry no event kind are dropped silently.
func (f *Feed) handleMessage(raw []byte) {
	var msg feedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Payload.Kind == "" {
		return
	}

	ev := msg.Payload.toDomain()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	f.handlerMu.RLock()
	handlers := f.handlers
	f.handlerMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// reconnect re-establishes the connection with exponential backoff, giving up
// after maxReconnectAttempts.
func (f *Feed) reconnect() {
	delay := reconnectDelay

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		select {
		case <-f.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := f.Connect(ctx)
		cancel()

		if err == nil {
			f.logger.Info("feed reconnected", slog.Int("attempt", attempt))
			return
		}
		f.logger.Warn("feed reconnect failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
	f.logger.Error("feed reconnect attempts exhausted, feed stopped")
}
