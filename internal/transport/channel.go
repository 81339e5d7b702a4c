// Package transport holds the single persistent WebSocket connection to the
// chat server. Every new connection gets a fresh generation so frames from
// a superseded connection can be told apart.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrUnauthorized is returned when the server refuses the handshake
	// because of the access credential.
	ErrUnauthorized = errors.New("handshake unauthorized")
	// ErrNotOpen is returned by Conn.Send when the connection is not Open.
	ErrNotOpen = errors.New("connection not open")
	// ErrSuperseded is returned by Open when a newer Open or Close happened
	// while dialing.
	ErrSuperseded = errors.New("connection superseded")
)

const handshakeTimeout = 10 * time.Second

// Channel manages the current connection.
type Channel struct {
	endpoint string
	dialer   *websocket.Dialer
	logger   *zap.Logger

	gen     atomic.Uint64
	mu      sync.Mutex
	current *Conn
}

// NewChannel creates a Channel dialing endpoint.
func NewChannel(endpoint string, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		endpoint: endpoint,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		logger: logger,
	}
}

// Open dials a new connection authenticated with accessToken, superseding
// any previous one. Frames are passed to handler from a single goroutine in
// arrival order.
func (c *Channel) Open(ctx context.Context, accessToken string, handler FrameHandler) (*Conn, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("access_token", accessToken)
	u.RawQuery = q.Encode()

	conn := newConn(c.gen.Add(1), c.logger)
	c.mu.Lock()
	prev := c.current
	c.current = conn
	c.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	conn.state.Store(int32(Connecting))
	conn.logger.Info("dialing", zap.String("host", u.Host))
	ws, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		conn.shutdown(err)
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	if !conn.attach(ws) {
		_ = ws.Close()
		return nil, ErrSuperseded
	}
	conn.logger.Info("connection open")
	go conn.run(handler)
	return conn, nil
}

// Send writes frame on the current connection if it is Open. Otherwise the
// frame is discarded and Send returns false.
func (c *Channel) Send(frame []byte) bool {
	c.mu.Lock()
	conn := c.current
	c.mu.Unlock()
	if conn == nil {
		return false
	}
	return conn.Send(frame) == nil
}

// Generation returns the generation of the most recent connection.
func (c *Channel) Generation() uint64 {
	return c.gen.Load()
}

// Current returns the most recent connection, or nil.
func (c *Channel) Current() *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Close closes the current connection and retires its generation.
func (c *Channel) Close() error {
	c.gen.Add(1)
	c.mu.Lock()
	conn := c.current
	c.current = nil
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
