package transport

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	readLimit    = 1 << 20
)

// State is the lifecycle state of one connection instance.
type State int32

const (
	Disconnected State = iota
	Connecting
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ErrClosed is the Err of a connection closed locally.
var ErrClosed = errors.New("connection closed")

// FrameHandler receives every inbound text frame together with the
// generation of the connection that read it.
type FrameHandler func(gen uint64, frame []byte)

// Conn is one connection instance. Closed is terminal; a new connection
// gets a new Conn.
type Conn struct {
	id     string
	gen    uint64
	logger *zap.Logger

	state atomic.Int32

	mu  sync.Mutex
	ws  *websocket.Conn
	err error

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(gen uint64, logger *zap.Logger) *Conn {
	c := &Conn{
		id:   uuid.NewString(),
		gen:  gen,
		done: make(chan struct{}),
	}
	c.logger = logger.With(zap.String("conn", c.id), zap.Uint64("generation", gen))
	c.state.Store(int32(Disconnected))
	return c
}

// ID returns the instance id used in logs.
func (c *Conn) ID() string { return c.id }

// Generation returns the generation tag stamped on frames from this instance.
func (c *Conn) Generation() uint64 { return c.gen }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Done is closed once the connection is closed and its read loop has exited.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the connection closed. Valid after Done is closed.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the connection. Safe to call more than once.
func (c *Conn) Close() error {
	c.shutdown(ErrClosed)
	return nil
}

// Send writes one text frame. It fails with ErrNotOpen unless the
// connection is Open.
func (c *Conn) Send(frame []byte) error {
	if c.State() != Open {
		return ErrNotOpen
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Warn("write frame", zap.Error(err))
		_ = ws.Close()
		return err
	}
	return nil
}

func (c *Conn) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() == Closed {
		return false
	}
	c.ws = ws
	c.state.Store(int32(Open))
	return true
}

func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state.Store(int32(Closed))
		c.err = cause
		ws := c.ws
		c.mu.Unlock()

		if ws == nil {
			close(c.done)
			return
		}
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = ws.Close()
	})
}

func (c *Conn) run(handler FrameHandler) {
	go c.pingLoop()
	c.readLoop(handler)
}

func (c *Conn) readLoop(handler FrameHandler) {
	var readErr error
	defer func() {
		c.shutdown(readErr)
		close(c.done)
		c.logger.Info("connection closed", zap.NamedError("cause", c.Err()))
	}()

	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, payload, err := c.ws.ReadMessage()
		if err != nil {
			readErr = err
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if typ != websocket.TextMessage {
			c.logger.Warn("dropping non-text frame", zap.Int("type", typ))
			continue
		}
		handler(c.gen, payload)
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if c.State() != Open {
				return
			}
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

// IsPolicyViolation reports whether err is a close frame with the policy
// violation code, which the server uses to refuse an expired credential.
func IsPolicyViolation(err error) bool {
	return websocket.IsCloseError(err, websocket.ClosePolicyViolation)
}
