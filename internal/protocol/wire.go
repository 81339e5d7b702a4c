package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/matheus3301/msgr/internal/model"
)

type wireMessage struct {
	MessageID   int64        `json:"message_id"`
	ChatID      int64        `json:"chat_id"`
	UserID      int64        `json:"user_id"`
	DisplayName string       `json:"display_name"`
	Content     string       `json:"content"`
	SentAt      Timestamp    `json:"sent_at"`
	IsRead      bool         `json:"is_read"`
	ReadAtList  readReceipts `json:"read_at_list"`
}

func (w wireMessage) toModel() model.Message {
	return model.Message{
		ID:             w.MessageID,
		ConversationID: w.ChatID,
		AuthorID:       w.UserID,
		AuthorName:     w.DisplayName,
		Content:        w.Content,
		SentAt:         w.SentAt.Time,
		IsRead:         w.IsRead,
		ReadReceipts:   map[int64]*time.Time(w.ReadAtList),
	}
}

// readReceipts decodes [{"1": "2024-07-16T13:00:00Z"}, {"2": null}].
type readReceipts map[int64]*time.Time

func (r *readReceipts) UnmarshalJSON(b []byte) error {
	var entries []map[string]*Timestamp
	if err := json.Unmarshal(b, &entries); err != nil {
		return fmt.Errorf("read_at_list: %w", err)
	}
	if entries == nil {
		*r = nil
		return nil
	}
	out := make(readReceipts, len(entries))
	for _, entry := range entries {
		for key, ts := range entry {
			uid, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				return fmt.Errorf("read_at_list: user id %q: %w", key, err)
			}
			if ts == nil || ts.IsZero() {
				out[uid] = nil
				continue
			}
			at := ts.Time
			out[uid] = &at
		}
	}
	*r = out
	return nil
}

type wirePreview struct {
	SentAt      Timestamp `json:"sent_at"`
	Content     string    `json:"content"`
	DisplayName string    `json:"display_name"`
}

type wireSummary struct {
	ChatID      int64        `json:"chat_id"`
	ChatName    string       `json:"chat_name"`
	LastMessage *wirePreview `json:"last_message"`
	UnreadCount int          `json:"unread_count"`
}

func (w wireSummary) toModel() model.ConversationSummary {
	s := model.ConversationSummary{
		ConversationID: w.ChatID,
		DisplayName:    w.ChatName,
		UnreadCount:    w.UnreadCount,
	}
	if w.LastMessage != nil {
		s.LastMessage = &model.MessagePreview{
			SentAt:     w.LastMessage.SentAt.Time,
			Content:    w.LastMessage.Content,
			AuthorName: w.LastMessage.DisplayName,
		}
	}
	return s
}

type wireUser struct {
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	Username    string `json:"username"`
}

type wireDetail struct {
	ChatID           int64      `json:"chat_id"`
	ChatName         string     `json:"chat_name"`
	IsGroup          bool       `json:"is_group"`
	Participants     []wireUser `json:"participants"`
	ParticipantCount int        `json:"participant_count"`
}

func (w wireDetail) toModel() model.ConversationDetail {
	d := model.ConversationDetail{
		ConversationID:   w.ChatID,
		DisplayName:      w.ChatName,
		IsGroup:          w.IsGroup,
		ParticipantCount: w.ParticipantCount,
		Participants:     make([]model.User, 0, len(w.Participants)),
	}
	for _, p := range w.Participants {
		d.Participants = append(d.Participants, model.User(p))
	}
	if d.ParticipantCount == 0 {
		d.ParticipantCount = len(d.Participants)
	}
	return d
}

type wireSearchUser struct {
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	Username    string `json:"username"`
	IsContact   bool   `json:"is_contact"`
}

// searchResults accepts both a bare list and {"found_users": [...]}.
type searchResults []wireSearchUser

func (s *searchResults) UnmarshalJSON(b []byte) error {
	var list []wireSearchUser
	if err := json.Unmarshal(b, &list); err == nil {
		*s = list
		return nil
	}
	var wrapped struct {
		FoundUsers []wireSearchUser `json:"found_users"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return fmt.Errorf("search results: %w", err)
	}
	*s = wrapped.FoundUsers
	return nil
}

type wireContact struct {
	UserID    int64  `json:"user_id"`
	ContactID int64  `json:"contact_id"`
	Name      string `json:"name"`
}

func (w wireContact) toModel() model.Contact {
	return model.Contact{OwnerID: w.UserID, ContactID: w.ContactID, DisplayName: w.Name}
}

type wireReadStatus struct {
	ChatID            int64     `json:"chat_id"`
	UserID            int64     `json:"user_id"`
	LastReadMessageID int64     `json:"last_read_message_id"`
	ReadAt            Timestamp `json:"read_at"`
}
