// Package command encodes user intents into outbound frames. Every call
// writes at most one frame; there is no queuing and no reply correlation.
package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/matheus3301/msgr/internal/protocol"
	"go.uber.org/zap"
)

var (
	// ErrInvalidCommand is returned for input that cannot form a valid frame.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrNotDelivered is returned when the channel was not open and the
	// frame was discarded.
	ErrNotDelivered = errors.New("channel not open, command discarded")
)

// FrameSender writes one frame if the connection is open.
type FrameSender interface {
	Send(frame []byte) bool
}

// Emitter turns intents into frames.
type Emitter struct {
	sender FrameSender
	logger *zap.Logger
}

// NewEmitter creates an Emitter writing to sender.
func NewEmitter(sender FrameSender, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{sender: sender, logger: logger}
}

// SendMessage posts content to an existing conversation.
func (e *Emitter) SendMessage(conversationID int64, content string) error {
	if err := validID("conversation id", conversationID); err != nil {
		return err
	}
	if err := validContent(content); err != nil {
		return err
	}
	return e.emit(protocol.TagNewMessage, protocol.NewMessage{ChatID: conversationID, Content: content})
}

// StartConversation opens a conversation with targetUserID, carrying the
// first message.
func (e *Emitter) StartConversation(targetUserID int64, content string) error {
	if err := validID("target user id", targetUserID); err != nil {
		return err
	}
	if err := validContent(content); err != nil {
		return err
	}
	return e.emit(protocol.TagStartNewChat, protocol.StartNewChat{TargetUserID: targetUserID, Content: content})
}

// RequestDetail asks for a conversation's detail.
func (e *Emitter) RequestDetail(conversationID int64) error {
	if err := validID("conversation id", conversationID); err != nil {
		return err
	}
	return e.emit(protocol.TagGetChatInfo, protocol.ChatRef{ChatID: conversationID})
}

// RequestHistory asks for a conversation's stored messages.
func (e *Emitter) RequestHistory(conversationID int64) error {
	if err := validID("conversation id", conversationID); err != nil {
		return err
	}
	return e.emit(protocol.TagGetMessages, protocol.ChatRef{ChatID: conversationID})
}

// Search looks users up by name.
func (e *Emitter) Search(query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: empty search query", ErrInvalidCommand)
	}
	return e.emit(protocol.TagSearch, protocol.SearchQuery{Prompt: query})
}

// RequestContacts asks for the contact list.
func (e *Emitter) RequestContacts() error {
	return e.emit(protocol.TagGetContacts, nil)
}

// AddContact adds userID to the contact list under name.
func (e *Emitter) AddContact(userID int64, name string) error {
	if err := validID("contact id", userID); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty contact name", ErrInvalidCommand)
	}
	return e.emit(protocol.TagAddToContacts, protocol.AddToContacts{ContactID: userID, Name: name})
}

// MarkRead reports that messages up to messageID have been read.
func (e *Emitter) MarkRead(conversationID, messageID int64) error {
	if err := validID("conversation id", conversationID); err != nil {
		return err
	}
	if err := validID("message id", messageID); err != nil {
		return err
	}
	return e.emit(protocol.TagReadMessage, protocol.ReadMessage{ChatID: conversationID, MessageID: messageID})
}

func (e *Emitter) emit(tag string, payload any) error {
	frame, err := protocol.Encode(tag, payload)
	if err != nil {
		return err
	}
	if !e.sender.Send(frame) {
		e.logger.Debug("command discarded", zap.String("event", tag))
		return ErrNotDelivered
	}
	e.logger.Debug("command sent", zap.String("event", tag))
	return nil
}

func validID(what string, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidCommand, what, id)
	}
	return nil
}

func validContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidCommand)
	}
	return nil
}
