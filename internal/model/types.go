// Package model holds the chat domain types shared by the protocol codec,
// the reconciler and the client facade.
package model

import "time"

// Message is one chat message. ReadReceipts maps a participant id to the
// time they read the message; a nil value means not read yet.
type Message struct {
	ID             int64
	ConversationID int64
	AuthorID       int64
	AuthorName     string
	Content        string
	SentAt         time.Time
	IsRead         bool
	ReadReceipts   map[int64]*time.Time
}

// Before reports whether m sorts before o in timeline order.
func (m Message) Before(o Message) bool {
	if !m.SentAt.Equal(o.SentAt) {
		return m.SentAt.Before(o.SentAt)
	}
	return m.ID < o.ID
}

// Clone returns a copy that shares no maps or pointers with m.
func (m Message) Clone() Message {
	if m.ReadReceipts == nil {
		return m
	}
	receipts := make(map[int64]*time.Time, len(m.ReadReceipts))
	for uid, at := range m.ReadReceipts {
		if at != nil {
			t := *at
			at = &t
		}
		receipts[uid] = at
	}
	m.ReadReceipts = receipts
	return m
}

// MessagePreview is the last-message excerpt shown in a conversation list.
type MessagePreview struct {
	SentAt     time.Time
	Content    string
	AuthorName string
}

// ConversationSummary is one row of the conversation list.
type ConversationSummary struct {
	ConversationID int64
	DisplayName    string
	LastMessage    *MessagePreview
	UnreadCount    int
}

// Clone returns a deep copy.
func (s ConversationSummary) Clone() ConversationSummary {
	if s.LastMessage != nil {
		p := *s.LastMessage
		s.LastMessage = &p
	}
	return s
}

// User is a participant of a conversation.
type User struct {
	UserID      int64
	DisplayName string
	Username    string
}

// ConversationDetail describes a conversation and its participants.
type ConversationDetail struct {
	ConversationID   int64
	DisplayName      string
	Participants     []User
	ParticipantCount int
	IsGroup          bool
}

// HasParticipant reports whether userID takes part in the conversation.
func (d ConversationDetail) HasParticipant(userID int64) bool {
	for _, p := range d.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (d ConversationDetail) Clone() ConversationDetail {
	if d.Participants != nil {
		d.Participants = append([]User(nil), d.Participants...)
	}
	return d
}

// SearchUser is one user search hit.
type SearchUser struct {
	UserID      int64
	DisplayName string
	Username    string
	IsContact   bool
}

// Contact is an entry of the session user's contact list.
type Contact struct {
	OwnerID     int64
	ContactID   int64
	DisplayName string
}

// ReadStatus reports that UserID has read ConversationID up to LastReadMessageID.
type ReadStatus struct {
	ConversationID    int64
	UserID            int64
	LastReadMessageID int64
	ReadAt            time.Time
}
