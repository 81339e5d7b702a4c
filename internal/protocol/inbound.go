package protocol

import (
	"encoding/json"
	"errors"

	"github.com/matheus3301/msgr/internal/model"
)

// Inbound wire tags.
const (
	TagMessageSent             = "message_sent"
	TagUndeliveredMessagesSent = "undelivered_messages_sent"
	TagChatMessagesSent        = "chat_messages_sent"
	TagChatOverviewListSent    = "chat_overview_list_sent"
	TagChatCreated             = "chat_created"
	TagNewChatSent             = "new_chat_sent"
	TagChatInfoSent            = "chat_info_sent"
	TagSearchResultSent        = "search_result_sent"
	TagContactsSent            = "contacts_sent"
	TagAddedToContacts         = "added_to_contacts"
	TagReadStatusUpdated       = "read_status_updated"
)

// Event is a decoded inbound frame. The concrete type identifies the variant.
type Event interface {
	Tag() string
}

// MessageDelivered is one live message.
type MessageDelivered struct{ Message model.Message }

// BacklogDelivered carries messages queued while the client was away,
// possibly spanning several conversations.
type BacklogDelivered struct{ Messages []model.Message }

// HistoryPage carries stored messages requested for one conversation.
type HistoryPage struct{ Messages []model.Message }

// ConversationList replaces the conversation list.
type ConversationList struct{ Summaries []model.ConversationSummary }

// ConversationCreated answers a start-conversation request.
type ConversationCreated struct{ Detail model.ConversationDetail }

// ConversationAnnounced is a conversation someone else started with us.
type ConversationAnnounced struct{ Summary model.ConversationSummary }

// ConversationDetailReceived answers a detail request.
type ConversationDetailReceived struct{ Detail model.ConversationDetail }

// SearchResults replaces the user search results.
type SearchResults struct{ Users []model.SearchUser }

// ContactsReceived replaces the contact list.
type ContactsReceived struct{ Contacts []model.Contact }

// ContactAdded confirms an add-contact request.
type ContactAdded struct{ Contact model.Contact }

// ReadStatusUpdated reports how far a participant has read a conversation.
type ReadStatusUpdated struct{ Status model.ReadStatus }

// Unrecognized is any frame with a tag this client does not handle.
type Unrecognized struct {
	Event string
	Data  json.RawMessage
}

func (MessageDelivered) Tag() string           { return TagMessageSent }
func (BacklogDelivered) Tag() string           { return TagUndeliveredMessagesSent }
func (HistoryPage) Tag() string                { return TagChatMessagesSent }
func (ConversationList) Tag() string           { return TagChatOverviewListSent }
func (ConversationCreated) Tag() string        { return TagChatCreated }
func (ConversationAnnounced) Tag() string      { return TagNewChatSent }
func (ConversationDetailReceived) Tag() string { return TagChatInfoSent }
func (SearchResults) Tag() string              { return TagSearchResultSent }
func (ContactsReceived) Tag() string           { return TagContactsSent }
func (ContactAdded) Tag() string               { return TagAddedToContacts }
func (ReadStatusUpdated) Tag() string          { return TagReadStatusUpdated }
func (u Unrecognized) Tag() string             { return u.Event }

// Decode parses one inbound text frame. Unknown tags decode to Unrecognized
// without error; a body that does not fit its tag yields a *DecodeError.
func Decode(frame []byte) (Event, error) {
	env, err := parseEnvelope(frame)
	if err != nil {
		return nil, err
	}

	evt, err := decodePayload(env)
	if err != nil {
		return nil, &DecodeError{Tag: env.Event, Err: err}
	}
	return evt, nil
}

func decodePayload(env Envelope) (Event, error) {
	switch env.Event {
	case TagMessageSent:
		var w wireMessage
		if err := unmarshalData(env.Data, &w); err != nil {
			return nil, err
		}
		return MessageDelivered{Message: w.toModel()}, nil

	case TagUndeliveredMessagesSent:
		msgs, err := decodeMessages(env.Data)
		if err != nil {
			return nil, err
		}
		return BacklogDelivered{Messages: msgs}, nil

	case TagChatMessagesSent:
		msgs, err := decodeMessages(env.Data)
		if err != nil {
			return nil, err
		}
		return HistoryPage{Messages: msgs}, nil

	case TagChatOverviewListSent:
		var ws []wireSummary
		if err := unmarshalData(env.Data, &ws); err != nil {
			return nil, err
		}
		out := make([]model.ConversationSummary, 0, len(ws))
		for _, w := range ws {
			out = append(out, w.toModel())
		}
		return ConversationList{Summaries: out}, nil

	case TagChatCreated, TagChatInfoSent:
		var w wireDetail
		if err := unmarshalData(env.Data, &w); err != nil {
			return nil, err
		}
		if env.Event == TagChatCreated {
			return ConversationCreated{Detail: w.toModel()}, nil
		}
		return ConversationDetailReceived{Detail: w.toModel()}, nil

	case TagNewChatSent:
		var w wireSummary
		if err := unmarshalData(env.Data, &w); err != nil {
			return nil, err
		}
		return ConversationAnnounced{Summary: w.toModel()}, nil

	case TagSearchResultSent:
		var ws searchResults
		if err := unmarshalData(env.Data, &ws); err != nil {
			return nil, err
		}
		out := make([]model.SearchUser, 0, len(ws))
		for _, w := range ws {
			out = append(out, model.SearchUser(w))
		}
		return SearchResults{Users: out}, nil

	case TagContactsSent:
		var ws []wireContact
		if err := unmarshalData(env.Data, &ws); err != nil {
			return nil, err
		}
		out := make([]model.Contact, 0, len(ws))
		for _, w := range ws {
			out = append(out, w.toModel())
		}
		return ContactsReceived{Contacts: out}, nil

	case TagAddedToContacts:
		var w wireContact
		if err := unmarshalData(env.Data, &w); err != nil {
			return nil, err
		}
		return ContactAdded{Contact: w.toModel()}, nil

	case TagReadStatusUpdated:
		var w wireReadStatus
		if err := unmarshalData(env.Data, &w); err != nil {
			return nil, err
		}
		return ReadStatusUpdated{Status: model.ReadStatus{
			ConversationID:    w.ChatID,
			UserID:            w.UserID,
			LastReadMessageID: w.LastReadMessageID,
			ReadAt:            w.ReadAt.Time,
		}}, nil

	default:
		return Unrecognized{Event: env.Event, Data: env.Data}, nil
	}
}

func decodeMessages(data json.RawMessage) ([]model.Message, error) {
	var ws []wireMessage
	if err := unmarshalData(data, &ws); err != nil {
		return nil, err
	}
	out := make([]model.Message, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.toModel())
	}
	return out, nil
}

var errMissingData = errors.New("missing data")

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return errMissingData
	}
	return json.Unmarshal(data, v)
}
