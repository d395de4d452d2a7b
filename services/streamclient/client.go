package streamclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sort"
	"sync"
	"time"

	"quote_alert_backend/models"
	"quote_alert_backend/services/realtime"

	"github.com/gorilla/websocket"
)

// Reconnect defaults
const (
	DefaultMaxAttempts      = 5
	DefaultBaseDelay        = time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

var (
	// ErrEntitlementDenied is returned when the server refuses the connection by policy
	ErrEntitlementDenied = errors.New("realtime access denied")
	// ErrReconnectExhausted is returned once MaxAttempts consecutive attempts failed
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrNotConnected       = errors.New("not connected")
)

// Config configures a Client
type Config struct {
	URL              string
	Token            string
	MaxAttempts      int
	BaseDelay        time.Duration
	HandshakeTimeout time.Duration
}

// Client consumes the realtime quote stream and keeps its subscriptions
// across reconnects.
type Client struct {
	cfg     Config
	onQuote func([]models.Quote)

	mu       sync.Mutex
	conn     *websocket.Conn
	symbols  map[string]struct{}
	closed   bool
	lastPong time.Time
}

// New creates a client; onQuote is called from the read goroutine for every quote frame
func New(cfg Config, onQuote func([]models.Quote)) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if onQuote == nil {
		onQuote = func([]models.Quote) {}
	}
	return &Client{
		cfg:     cfg,
		onQuote: onQuote,
		symbols: make(map[string]struct{}),
	}
}

// Run connects and reads until ctx is done, Close is called, the server
// denies access or MaxAttempts consecutive attempts fail.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		established, err := c.session(ctx)
		if c.isClosed() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrEntitlementDenied) {
			return err
		}
		if established {
			attempt = 0
		}

		attempt++
		if attempt > c.cfg.MaxAttempts {
			return fmt.Errorf("%w: %v", ErrReconnectExhausted, err)
		}

		delay := c.cfg.BaseDelay * time.Duration(attempt)
		log.Printf("Warning: realtime stream lost (%v), reconnecting in %v (attempt %d/%d)",
			err, delay, attempt, c.cfg.MaxAttempts)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// session runs one connection. established reports whether the server admitted it.
func (c *Client) session(ctx context.Context) (established bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.endpoint(), nil)
	if err != nil {
		return false, fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, nil
	}
	c.conn = conn
	resend := c.trackedLocked()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
	}()

	if len(resend) > 0 {
		if err := c.write(realtime.TypeSubscribe, resend); err != nil {
			return false, err
		}
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				return established, fmt.Errorf("%w: %v", ErrEntitlementDenied, err)
			}
			return established, fmt.Errorf("read message error: %w", err)
		}

		var msg realtime.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Warning: ignoring malformed frame: %v", err)
			continue
		}

		switch msg.Type {
		case realtime.TypeConnected:
			established = true
		case realtime.TypeQuote:
			c.onQuote(msg.Data)
		case realtime.TypePong:
			c.mu.Lock()
			c.lastPong = time.Now()
			c.mu.Unlock()
		case realtime.TypeError:
			log.Printf("Warning: realtime server error: %s", msg.Error)
		}
	}
}

func (c *Client) endpoint() string {
	if c.cfg.Token == "" {
		return c.cfg.URL
	}
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return c.cfg.URL
	}
	q := u.Query()
	q.Set("token", c.cfg.Token)
	u.RawQuery = q.Encode()
	return u.String()
}

type outbound struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols,omitempty"`
}

func (c *Client) write(msgType string, symbols []string) error {
	data, err := json.Marshal(outbound{Type: msgType, Symbols: symbols})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", msgType, err)
	}
	return nil
}

// Subscribe tracks symbols and asks the server for them. Symbols are kept
// even when not connected and sent on the next connect.
func (c *Client) Subscribe(symbols ...string) error {
	normalized := models.NormalizeSymbols(symbols)
	if len(normalized) == 0 {
		return nil
	}
	c.mu.Lock()
	for _, s := range normalized {
		c.symbols[s] = struct{}{}
	}
	c.mu.Unlock()

	if err := c.write(realtime.TypeSubscribe, normalized); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// Unsubscribe stops tracking symbols
func (c *Client) Unsubscribe(symbols ...string) error {
	normalized := models.NormalizeSymbols(symbols)
	if len(normalized) == 0 {
		return nil
	}
	c.mu.Lock()
	for _, s := range normalized {
		delete(c.symbols, s)
	}
	c.mu.Unlock()

	if err := c.write(realtime.TypeUnsubscribe, normalized); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// Ping sends a heartbeat; the reply is visible through LastPong
func (c *Client) Ping() error {
	return c.write(realtime.TypePing, nil)
}

// LastPong returns when the last pong arrived
func (c *Client) LastPong() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}

// Subscriptions returns the tracked symbols, sorted
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trackedLocked()
}

func (c *Client) trackedLocked() []string {
	out := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Connected reports whether a connection is currently open
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close ends the stream with a normal closure and makes Run return nil
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.conn.Close()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
