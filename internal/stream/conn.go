// Package stream maintains WebSocket connections to the venue's market data
// streams and dispatches decoded events to registered handlers.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed between frames from the peer. The venue
	// pings every few minutes; we also ping proactively.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// baseReconnectDelay is the first backoff step after a drop.
	baseReconnectDelay = time.Second

	// maxReconnectDelay caps the exponential backoff for depth and ticker streams.
	maxReconnectDelay = 30 * time.Second

	// maxTradeReconnectDelay caps the backoff for trade streams, which can
	// afford a longer pause because trades replay from REST on resume.
	maxTradeReconnectDelay = 60 * time.Second
)

// DepthHandler is called for every incremental depth update.
type DepthHandler func(domain.DepthDelta)

// TickerHandler is called for every rolling 24h ticker event.
type TickerHandler func(domain.Ticker24h)

// TradeHandler is called for every aggregate trade event.
type TradeHandler func(domain.AggTrade)

// StreamName builds the venue stream path for a symbol and channel suffix,
// e.g. StreamName("BTCUSDT", "depth") -> "btcusdt@depth".
func StreamName(symbol, channel string) string {
	return strings.ToLower(domain.NormalizeSymbol(symbol)) + "@" + channel
}

// Conn is a self-healing WebSocket connection to a single venue stream. It
// manages the connection lifecycle and dispatches decoded messages to
// registered handlers. A dropped connection reconnects with exponential
// backoff, resetting to the base delay after the first clean frame.
type Conn struct {
	url  string
	name string
	conn *websocket.Conn
	log  *slog.Logger

	maxDelay time.Duration

	mu     sync.RWMutex
	closed bool

	depthHandlers  []DepthHandler
	tickerHandlers []TickerHandler
	tradeHandlers  []TradeHandler
	handlerMu      sync.RWMutex

	// done is closed when the connection is shut down.
	done chan struct{}
}

// NewConn creates a connection for one stream name under baseURL, e.g.
// baseURL "wss://stream.binance.com:9443/ws" and name "btcusdt@depth".
func NewConn(baseURL, name string, log *slog.Logger) *Conn {
	maxDelay := maxReconnectDelay
	if strings.HasSuffix(name, "@aggTrade") {
		maxDelay = maxTradeReconnectDelay
	}
	return &Conn{
		url:      strings.TrimRight(baseURL, "/") + "/" + name,
		name:     name,
		maxDelay: maxDelay,
		log: log.With(
			slog.String("component", "stream"),
			slog.String("stream", name),
		),
		done: make(chan struct{}),
	}
}

// Name returns the venue stream name this connection serves.
func (c *Conn) Name() string { return c.name }

// Connect establishes the WebSocket connection and starts the read and ping
// loops.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("stream: connect %s: %w", c.name, domain.ErrConnection)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("stream: connect %s: %w: %v", c.name, domain.ErrConnection, err)
	}

	c.conn = conn

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	// The venue pings from its side as well; answer promptly.
	c.conn.SetPingHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	go c.readLoop()
	go c.pingLoop()

	c.log.Info("stream connected")
	return nil
}

// Connected reports whether the socket is currently established.
func (c *Conn) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.closed
}

// Close shuts down the connection and stops the read loop.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.done)

	if c.conn != nil {
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return c.conn.Close()
	}
	return nil
}

// OnDepthUpdate registers a handler for incremental depth updates.
func (c *Conn) OnDepthUpdate(handler DepthHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.depthHandlers = append(c.depthHandlers, handler)
}

// OnTicker registers a handler for rolling 24h ticker events.
func (c *Conn) OnTicker(handler TickerHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.tickerHandlers = append(c.tickerHandlers, handler)
}

// OnAggTrade registers a handler for aggregate trade events.
func (c *Conn) OnAggTrade(handler TradeHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.tradeHandlers = append(c.tradeHandlers, handler)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// readLoop continuously reads frames and dispatches them to handlers. On
// disconnect it hands off to reconnect and exits; reconnect restarts it.
func (c *Conn) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}

			c.log.Warn("stream dropped, reconnecting", slog.String("error", err.Error()))
			conn.Close()
			c.reconnect()
			return
		}

		c.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the socket alive.
func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()

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

// handleMessage decodes a raw frame and routes it to the matching handlers.
// Malformed frames are logged and dropped; they never tear down the stream.
func (c *Conn) handleMessage(raw []byte) {
	event, err := eventType(raw)
	if err != nil {
		c.log.Warn("dropping unparseable frame", slog.String("error", err.Error()))
		return
	}

	switch event {
	case "depthUpdate":
		var msg depthUpdateMessage
		if err := unmarshalFrame(raw, &msg); err != nil {
			c.log.Warn("dropping bad depth frame", slog.String("error", err.Error()))
			return
		}
		delta, err := msg.toDomain()
		if err != nil {
			c.log.Warn("dropping bad depth frame", slog.String("error", err.Error()))
			return
		}

		c.handlerMu.RLock()
		handlers := c.depthHandlers
		c.handlerMu.RUnlock()

		for _, h := range handlers {
			h(delta)
		}

	case "24hrTicker":
		var msg tickerMessage
		if err := unmarshalFrame(raw, &msg); err != nil {
			c.log.Warn("dropping bad ticker frame", slog.String("error", err.Error()))
			return
		}
		tick, err := msg.toDomain()
		if err != nil {
			c.log.Warn("dropping bad ticker frame", slog.String("error", err.Error()))
			return
		}

		c.handlerMu.RLock()
		handlers := c.tickerHandlers
		c.handlerMu.RUnlock()

		for _, h := range handlers {
			h(tick)
		}

	case "aggTrade":
		var msg aggTradeMessage
		if err := unmarshalFrame(raw, &msg); err != nil {
			c.log.Warn("dropping bad trade frame", slog.String("error", err.Error()))
			return
		}
		trade, err := msg.toDomain()
		if err != nil {
			c.log.Warn("dropping bad trade frame", slog.String("error", err.Error()))
			return
		}

		c.handlerMu.RLock()
		handlers := c.tradeHandlers
		c.handlerMu.RUnlock()

		for _, h := range handlers {
			h(trade)
		}
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the connection is closed.
func (c *Conn) reconnect() {
	delay := baseReconnectDelay

	for {
		select {
		case <-c.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := c.Connect(ctx)
		cancel()

		if err == nil {
			return
		}
		c.log.Warn("reconnect failed",
			slog.Duration("next_delay", delay),
			slog.String("error", err.Error()))

		delay *= 2
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
	}
}
