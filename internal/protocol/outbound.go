package protocol

import (
	"encoding/json"
	"fmt"
)

// Outbound wire tags.
const (
	TagNewMessage    = "new_message"
	TagStartNewChat  = "start_new_chat"
	TagGetChatInfo   = "get_chat_info"
	TagGetMessages   = "get_chat_messages"
	TagSearch        = "search"
	TagGetContacts   = "get_contacts"
	TagAddToContacts = "add_to_contacts"
	TagReadMessage   = "read_message"
)

type NewMessage struct {
	ChatID  int64  `json:"chat_id"`
	Content string `json:"content"`
}

type StartNewChat struct {
	TargetUserID int64  `json:"target_user_id"`
	Content      string `json:"content"`
}

type ChatRef struct {
	ChatID int64 `json:"chat_id"`
}

type SearchQuery struct {
	Prompt string `json:"prompt"`
}

type AddToContacts struct {
	ContactID int64  `json:"contact_id"`
	Name      string `json:"name"`
}

type ReadMessage struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

// Encode builds an outbound frame. A nil payload omits the data field.
func Encode(tag string, payload any) ([]byte, error) {
	env := Envelope{Event: tag}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %q payload: %w", tag, err)
		}
		env.Data = data
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %q envelope: %w", tag, err)
	}
	return frame, nil
}
