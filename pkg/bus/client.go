package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// ErrNotConnected is returned by [Client.Emit] while no websocket connection
// is established.
var ErrNotConnected = errors.New("bus: not connected")

// DefaultURL is the address of a messagebus service on the local host.
const DefaultURL = "ws://127.0.0.1:8181/core"

// readLimit caps the size of a single inbound frame. Bus payloads are small
// JSON documents; the websocket library default of 32 KiB is too tight for
// messages carrying long utterances or serialized sessions.
const readLimit = 1 << 20

// Client is a [Bus] backed by a websocket connection to a messagebus service.
//
// The messagebus broadcasts every message to all connected clients, including
// the sender, so handlers registered with On see the client's own emits.
// Inbound messages are dispatched sequentially on the reader goroutine, which
// preserves the arrival order for each conversation.
//
// Client is safe for concurrent use.
type Client struct {
	url          string
	minBackoff   time.Duration
	maxBackoff   time.Duration
	writeTimeout time.Duration
	onConnect    func(context.Context)

	handlers *handlers

	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
}

// Compile-time interface assertion.
var _ Bus = (*Client)(nil)

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithReconnectBackoff sets the minimum and maximum delay between reconnect
// attempts. The delay doubles after each failed attempt. Defaults: 500ms, 30s.
func WithReconnectBackoff(min, max time.Duration) ClientOption {
	return func(c *Client) {
		if min > 0 {
			c.minBackoff = min
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithWriteTimeout bounds a single Emit. Default: 10s.
func WithWriteTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// WithOnConnect sets a function called after every successful connection,
// before any inbound message is dispatched. Emit already works inside fn. A
// restarted messagebus forgets fallback registrations, so this is where they
// are re-sent.
func WithOnConnect(fn func(ctx context.Context)) ClientOption {
	return func(c *Client) { c.onConnect = fn }
}

// NewClient creates a Client for the messagebus at url. No connection is made
// until [Client.Run] is called. An empty url selects [DefaultURL].
func NewClient(url string, opts ...ClientOption) *Client {
	if url == "" {
		url = DefaultURL
	}
	c := &Client{
		url:          url,
		minBackoff:   500 * time.Millisecond,
		maxBackoff:   30 * time.Second,
		writeTimeout: 10 * time.Second,
		handlers:     newHandlers(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.maxBackoff < c.minBackoff {
		c.maxBackoff = c.minBackoff
	}
	return c
}

// On implements [Bus].
func (c *Client) On(msgType string, h Handler) func() {
	return c.handlers.add(msgType, h)
}

// Connected reports whether a websocket connection is currently open.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Emit implements [Bus]. It returns [ErrNotConnected] while the client is
// between connections.
func (c *Client) Emit(ctx context.Context, msg Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("bus: encode %q: %w", msg.Type, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}

	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := c.conn.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("bus: write %q: %w", msg.Type, err)
	}
	return nil
}

// Run connects to the messagebus and dispatches inbound messages until ctx is
// cancelled. Dropped connections are re-established with exponential backoff.
// Run returns ctx.Err() on cancellation.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.minBackoff
	for {
		conn, _, err := websocket.Dial(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("bus: connect failed", "url", c.url, "retry_in", backoff, "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}

		backoff = c.minBackoff
		conn.SetReadLimit(readLimit)
		c.setConn(conn)
		slog.Info("bus: connected", "url", c.url)
		if c.onConnect != nil {
			c.onConnect(ctx)
		}

		err = c.readLoop(ctx, conn)
		c.setConn(nil)

		if ctx.Err() != nil {
			conn.Close(websocket.StatusNormalClosure, "shutting down")
			return ctx.Err()
		}
		conn.Close(websocket.StatusGoingAway, "reconnecting")
		slog.Warn("bus: connection lost", "url", c.url, "err", err)
	}
}

// readLoop reads frames from conn until it fails.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		msg, err := Unmarshal(data)
		if err != nil {
			slog.Debug("bus: dropping malformed frame", "err", err)
			continue
		}
		c.handlers.dispatch(msg.Type, msg)
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(conn != nil)
}
