// Package chat ties the session supervisor, the transport channel, the
// reconciler and the command emitter into one client.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/msgr/internal/auth"
	"github.com/matheus3301/msgr/internal/bus"
	"github.com/matheus3301/msgr/internal/command"
	"github.com/matheus3301/msgr/internal/model"
	"github.com/matheus3301/msgr/internal/status"
	intsync "github.com/matheus3301/msgr/internal/sync"
	"github.com/matheus3301/msgr/internal/transport"
	"go.uber.org/zap"
)

// ErrNoTarget is returned by Send when neither a conversation nor a
// provisional target is selected.
var ErrNoTarget = errors.New("no conversation selected")

// Options tunes reconnect behavior.
type Options struct {
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	// StableAfter is how long a connection that applied no frame must stay
	// up before the reconnect delay starts over.
	StableAfter time.Duration
}

// Client is the chat client. All state lives in the engine; the client
// only sequences calls.
type Client struct {
	sup     *auth.Supervisor
	channel *transport.Channel
	engine  *intsync.Engine
	emitter *command.Emitter
	machine *status.Machine
	opts    Options
	logger  *zap.Logger

	lastFrame atomic.Int64 // unix nanos of the last applied frame
}

// NewClient wires the components together.
func NewClient(sup *auth.Supervisor, channel *transport.Channel, engine *intsync.Engine, emitter *command.Emitter, machine *status.Machine, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ReconnectInitial <= 0 {
		opts.ReconnectInitial = 500 * time.Millisecond
	}
	if opts.ReconnectMax < opts.ReconnectInitial {
		opts.ReconnectMax = 30 * time.Second
	}
	if opts.StableAfter <= 0 {
		opts.StableAfter = 10 * time.Second
	}
	return &Client{
		sup:     sup,
		channel: channel,
		engine:  engine,
		emitter: emitter,
		machine: machine,
		opts:    opts,
		logger:  logger,
	}
}

// Status returns the connection status.
func (c *Client) Status() status.State { return c.machine.Current() }

// Snapshot returns a copy of the chat state.
func (c *Client) Snapshot() intsync.State { return c.engine.Snapshot() }

// Subscribe returns state change events.
func (c *Client) Subscribe(bufSize int) (<-chan bus.Event, func()) {
	return c.engine.Subscribe(bufSize)
}

// Connect validates the credential and opens the connection. A session
// that cannot be renewed ends with auth.ErrSessionEnded and no dial.
func (c *Client) Connect(ctx context.Context) (*transport.Conn, error) {
	return c.connect(ctx, status.Disconnected)
}

func (c *Client) connect(ctx context.Context, onFailure status.State) (*transport.Conn, error) {
	if c.machine.Current() == status.LoggedOut {
		_ = c.machine.Transition(status.Disconnected)
	}
	if err := c.machine.Ensure(status.Connecting); err != nil {
		return nil, err
	}

	conn, err := c.dial(ctx)
	switch {
	case errors.Is(err, auth.ErrSessionEnded):
		c.endSession()
		return nil, err
	case err != nil:
		_ = c.machine.Transition(onFailure)
		return nil, err
	}

	if err := c.machine.Transition(status.Open); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Client) dial(ctx context.Context) (*transport.Conn, error) {
	access, err := c.sup.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}
	if id, err := c.sup.Subject(ctx); err == nil {
		c.engine.SetSelf(id)
	}

	conn, err := c.channel.Open(ctx, access, c.handleFrame)
	if errors.Is(err, transport.ErrUnauthorized) {
		c.logger.Info("handshake refused, refreshing credential")
		if access, err = c.sup.Refresh(ctx); err != nil {
			return nil, err
		}
		conn, err = c.channel.Open(ctx, access, c.handleFrame)
	}
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return conn, nil
}

func (c *Client) handleFrame(gen uint64, frame []byte) {
	if c.engine.HandleFrame(gen, frame) {
		c.lastFrame.Store(time.Now().UnixNano())
	}
}

// stable reports whether a connection dialed at started was healthy: it
// applied a frame or stayed up for StableAfter.
func (c *Client) stable(started time.Time) bool {
	return c.lastFrame.Load() >= started.UnixNano() || time.Since(started) >= c.opts.StableAfter
}

// Run keeps the connection up until ctx ends or the session ends. Every
// reconnect goes through the full credential check, and a connection the
// server closed forces a credential refresh first.
func (c *Client) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.ReconnectInitial
	b.MaxInterval = c.opts.ReconnectMax
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		started := time.Now()
		conn, err := c.connect(ctx, status.Reconnecting)
		switch {
		case errors.Is(err, auth.ErrSessionEnded):
			return err
		case ctx.Err() != nil:
			c.disconnect()
			return ctx.Err()
		case err != nil:
			c.logger.Warn("connect failed", zap.Error(err))
		default:
			select {
			case <-conn.Done():
			case <-ctx.Done():
				c.disconnect()
				return ctx.Err()
			}
			cause := conn.Err()
			c.logger.Warn("connection lost", zap.Error(cause),
				zap.Bool("policy_violation", transport.IsPolicyViolation(cause)))
			_ = c.machine.Ensure(status.Reconnecting)
			if c.stable(started) {
				b.Reset()
			}
			if !errors.Is(cause, transport.ErrClosed) {
				if err := c.refreshAfterClose(ctx); err != nil {
					return err
				}
			}
		}

		wait := b.NextBackOff()
		c.logger.Info("reconnecting", zap.Duration("in", wait))
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			c.disconnect()
			return ctx.Err()
		}
	}
}

// refreshAfterClose renews the credential after the server dropped the
// connection; the server closes sockets whose credential it no longer
// accepts. Only a forced logout is returned.
func (c *Client) refreshAfterClose(ctx context.Context) error {
	_, err := c.sup.Refresh(ctx)
	switch {
	case errors.Is(err, auth.ErrSessionEnded):
		c.endSession()
		return err
	case ctx.Err() != nil:
		c.disconnect()
		return ctx.Err()
	case err != nil:
		c.logger.Warn("refresh after close failed", zap.Error(err))
	}
	return nil
}

func (c *Client) disconnect() {
	_ = c.channel.Close()
	_ = c.machine.Ensure(status.Disconnected)
}

func (c *Client) endSession() {
	_ = c.channel.Close()
	c.engine.Reset()
	_ = c.machine.Ensure(status.LoggedOut)
}

// Login stores a new session for username.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if err := c.sup.Login(ctx, username, password); err != nil {
		return err
	}
	if c.machine.Current() == status.LoggedOut {
		_ = c.machine.Transition(status.Disconnected)
	}
	return nil
}

// Logout clears the session and drops all state.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.sup.Logout(ctx); err != nil {
		return err
	}
	c.endSession()
	return nil
}

// SelectConversation makes a conversation active and asks for its
// history and detail.
func (c *Client) SelectConversation(conversationID int64) error {
	c.engine.SelectConversation(conversationID)
	return errors.Join(
		c.emitter.RequestHistory(conversationID),
		c.emitter.RequestDetail(conversationID),
	)
}

// SelectUser picks a search result as the target of a new conversation.
func (c *Client) SelectUser(u model.SearchUser) {
	c.engine.SelectUser(u)
}

// Send posts content to the active conversation, or starts a conversation
// with the provisional target.
func (c *Client) Send(content string) error {
	sel := c.engine.Selection()
	switch {
	case sel.ActiveConversation != 0:
		return c.emitter.SendMessage(sel.ActiveConversation, content)
	case sel.Provisional != nil:
		return c.emitter.StartConversation(sel.Provisional.UserID, content)
	default:
		return ErrNoTarget
	}
}

// SendTo posts content to a given conversation without changing selection.
func (c *Client) SendTo(conversationID int64, content string) error {
	return c.emitter.SendMessage(conversationID, content)
}

// Search runs a user search. An empty query clears the results locally.
func (c *Client) Search(query string) error {
	if strings.TrimSpace(query) == "" {
		c.engine.ClearSearch()
		return nil
	}
	return c.emitter.Search(query)
}

// RequestContacts asks for the contact list.
func (c *Client) RequestContacts() error {
	c.engine.MarkContactsRequested()
	return c.emitter.RequestContacts()
}

// AddContact adds a user to the contact list.
func (c *Client) AddContact(userID int64, name string) error {
	return c.emitter.AddContact(userID, name)
}

// RequestDetail asks for a conversation's detail.
func (c *Client) RequestDetail(conversationID int64) error {
	return c.emitter.RequestDetail(conversationID)
}

// MarkRead reports messages up to messageID as read.
func (c *Client) MarkRead(conversationID, messageID int64) error {
	return c.emitter.MarkRead(conversationID, messageID)
}
