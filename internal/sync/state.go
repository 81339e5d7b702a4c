package sync

import (
	"slices"
	"time"

	"github.com/matheus3301/msgr/internal/bus"
	"github.com/matheus3301/msgr/internal/model"
)

// State change kinds published on the bus. Payloads are noted per kind.
const (
	KindTimeline     = bus.NamespaceState + "timeline"     // TimelineChanged
	KindSummaries    = bus.NamespaceState + "summaries"    // nil
	KindDetail       = bus.NamespaceState + "detail"       // DetailChanged
	KindSearch       = bus.NamespaceState + "search"       // nil
	KindContacts     = bus.NamespaceState + "contacts"     // nil
	KindNotification = bus.NamespaceState + "notification" // *Notification, nil when cleared
	KindSelection    = bus.NamespaceState + "selection"    // Selection
	KindReset        = bus.NamespaceState + "reset"        // nil
)

// TimelineChanged names the conversation whose timeline changed.
type TimelineChanged struct {
	ConversationID int64
}

// DetailChanged names the conversation whose detail was replaced.
type DetailChanged struct {
	ConversationID int64
}

// Selection is the active conversation or the provisional target.
type Selection struct {
	ActiveConversation int64
	Provisional        *model.SearchUser
}

// Notification is a transient message for the user.
type Notification struct {
	ID   string
	Text string
	At   time.Time
}

// State is a point-in-time copy of everything the engine tracks.
type State struct {
	SelfID    int64
	Timelines map[int64][]model.Message
	Summaries []model.ConversationSummary
	// Details is keyed by conversation id, so a late response for one
	// conversation never replaces the detail of another.
	Details       map[int64]model.ConversationDetail
	SearchResults []model.SearchUser
	// Contacts is nil until first requested, empty while loading.
	Contacts           []model.Contact
	Notification       *Notification
	ActiveConversation int64
	Provisional        *model.SearchUser
}

// Timeline returns the messages of one conversation.
func (s State) Timeline(conversationID int64) []model.Message {
	return s.Timelines[conversationID]
}

// ActiveDetail returns the detail of the active conversation, if known.
func (s State) ActiveDetail() (model.ConversationDetail, bool) {
	d, ok := s.Details[s.ActiveConversation]
	return d, ok && s.ActiveConversation != 0
}

// Summary returns the summary of one conversation.
func (s State) Summary(conversationID int64) (model.ConversationSummary, bool) {
	for _, sum := range s.Summaries {
		if sum.ConversationID == conversationID {
			return sum, true
		}
	}
	return model.ConversationSummary{}, false
}

func cloneSummaries(in []model.ConversationSummary) []model.ConversationSummary {
	if in == nil {
		return nil
	}
	out := make([]model.ConversationSummary, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}

func cloneDetails(in map[int64]model.ConversationDetail) map[int64]model.ConversationDetail {
	out := make(map[int64]model.ConversationDetail, len(in))
	for id, d := range in {
		out[id] = d.Clone()
	}
	return out
}

func cloneSearchUser(u *model.SearchUser) *model.SearchUser {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func cloneNotification(n *Notification) *Notification {
	if n == nil {
		return nil
	}
	c := *n
	return &c
}

func summaryIndex(list []model.ConversationSummary, conversationID int64) int {
	return slices.IndexFunc(list, func(s model.ConversationSummary) bool {
		return s.ConversationID == conversationID
	})
}

// moveToFront places list[i] first, keeping the order of the rest.
func moveToFront(list []model.ConversationSummary, i int) {
	if i <= 0 {
		return
	}
	s := list[i]
	copy(list[1:i+1], list[:i])
	list[0] = s
}
