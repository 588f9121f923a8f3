// Package feed connects to the upstream market-data gateway over WebSocket
// and decodes price ticks and source wallet trades onto typed channels for
// the ingestion runner.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"copytrade-engine/internal/domain"
)

// Config configures feed client behavior.
type Config struct {
	// Endpoint is the ws:// or wss:// gateway URL.
	Endpoint string
	// Instruments to subscribe price ticks for.
	Instruments []string
	// Wallets to subscribe trade events for. Empty subscribes to all.
	Wallets []string

	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration

	// Buffer is the channel buffer absorbing feed bursts.
	Buffer int
}

// DefaultConfig returns default feed client configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		Buffer:            10000,
	}
}

// Client maintains a WebSocket connection to the gateway, resubscribing
// after reconnects. Decoded events are delivered with blocking sends so
// nothing is dropped; the buffer absorbs bursts.
type Client struct {
	cfg Config
	log zerolog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	closed       atomic.Bool
	reconnecting atomic.Bool
	done         chan struct{}
	wg           sync.WaitGroup

	ticks  chan *domain.PricePoint
	trades chan *domain.TradeEvent
}

// NewClient connects to the gateway and starts the read and ping loops.
func NewClient(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	def := DefaultConfig()
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}

	c := &Client{
		cfg:    cfg,
		log:    log,
		done:   make(chan struct{}),
		ticks:  make(chan *domain.PricePoint, cfg.Buffer),
		trades: make(chan *domain.TradeEvent, cfg.Buffer),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	if err := c.subscribe(); err != nil {
		c.conn.Close()
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// Ticks returns the decoded price tick stream. Closed on Close.
func (c *Client) Ticks() <-chan *domain.PricePoint { return c.ticks }

// Trades returns the decoded trade event stream. Closed on Close.
func (c *Client) Trades() <-chan *domain.TradeEvent { return c.trades }

// connect establishes the WebSocket connection.
func (c *Client) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// subscribe sends the subscription request for configured instruments
// and wallets.
func (c *Client) subscribe() error {
	req := subscribeRequest{
		Type:        "subscribe",
		Instruments: c.cfg.Instruments,
		Wallets:     c.cfg.Wallets,
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// Close closes the connection and both output channels.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()

	close(c.ticks)
	close(c.trades)
	return nil
}

// readLoop reads messages and dispatches decoded events.
func (c *Client) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.cfg.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			// Connection error, reconnect with exponential backoff.
			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.cfg.MaxReconnectDelay {
				reconnectDelay = c.cfg.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read.
		reconnectDelay = c.cfg.ReconnectDelay

		c.handleMessage(message)
	}
}

// reconnect attempts to reconnect and resubscribe.
func (c *Client) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.log.Warn().Err(err).Msg("feed reconnect failed, will retry")
		return
	}

	if err := c.subscribe(); err != nil {
		c.log.Warn().Err(err).Msg("feed resubscribe failed, will retry")
		return
	}

	c.log.Info().Str("endpoint", c.cfg.Endpoint).Msg("feed reconnected")
}

// handleMessage decodes a gateway message and dispatches it.
func (c *Client) handleMessage(message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.log.Warn().Err(err).Msg("undecodable feed message")
		return
	}

	switch env.Type {
	case "tick":
		c.dispatchTick(&env)
	case "trade":
		c.dispatchTrade(&env)
	case "subscribed", "pong":
		// Acknowledgments carry no payload.
	case "error":
		c.log.Error().Str("message", env.Message).Msg("feed gateway error")
	default:
		c.log.Warn().Str("type", env.Type).Msg("unknown feed message type")
	}
}

func (c *Client) dispatchTick(env *envelope) {
	if env.Instrument == "" || env.TimestampMs <= 0 {
		c.log.Warn().Msg("dropping malformed tick")
		return
	}

	p := &domain.PricePoint{
		Instrument:  env.Instrument,
		TimestampMs: env.TimestampMs,
		Price:       env.Price,
	}

	// Block until delivered, never drop ticks.
	select {
	case c.ticks <- p:
	case <-c.done:
	}
}

func (c *Client) dispatchTrade(env *envelope) {
	if env.Wallet == "" || env.Signature == "" {
		c.log.Warn().Msg("dropping malformed trade event")
		return
	}

	e := &domain.TradeEvent{
		Wallet:        env.Wallet,
		Signature:     env.Signature,
		TimestampMs:   env.TimestampMs,
		Instrument:    env.Instrument,
		Amount:        env.Amount,
		Direction:     domain.TradeDirection(env.Direction),
		PerpDirection: domain.PerpDirection(env.PerpDirection),
	}

	select {
	case c.trades <- e:
	case <-c.done:
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader handles reconnect.
				}
			}
			c.connMu.Unlock()
		}
	}
}

// Gateway wire types.

type subscribeRequest struct {
	Type        string   `json:"type"`
	Instruments []string `json:"instruments,omitempty"`
	Wallets     []string `json:"wallets,omitempty"`
}

type envelope struct {
	Type          string  `json:"type"`
	Instrument    string  `json:"instrument,omitempty"`
	Price         float64 `json:"price,omitempty"`
	TimestampMs   int64   `json:"timestamp_ms,omitempty"`
	Wallet        string  `json:"wallet,omitempty"`
	Signature     string  `json:"signature,omitempty"`
	Amount        float64 `json:"amount,omitempty"`
	Direction     string  `json:"direction,omitempty"`
	PerpDirection string  `json:"perp_direction,omitempty"`
	Message       string  `json:"message,omitempty"`
}
