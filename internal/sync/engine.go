// Package sync folds decoded server events into the client's chat state:
// per-conversation timelines, the conversation list, details, search
// results, contacts and transient notifications.
package sync

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/msgr/internal/bus"
	"github.com/matheus3301/msgr/internal/model"
	"github.com/matheus3301/msgr/internal/protocol"
	"go.uber.org/zap"
)

// DefaultNotificationTTL is how long a notification stays visible.
const DefaultNotificationTTL = 3 * time.Second

// GenerationSource reports the generation of the live connection.
type GenerationSource interface {
	Generation() uint64
}

// Engine owns the chat state. Every mutation happens under one lock, one
// frame or one selection call at a time.
type Engine struct {
	gens   GenerationSource
	bus    *bus.Bus
	logger *zap.Logger
	ttl    time.Duration

	mu        sync.Mutex
	timelines map[int64]*Timeline
	st        State
	timer     *time.Timer
}

// NewEngine creates an engine. Frames whose generation differs from
// gens.Generation() are discarded; a nil gens accepts every frame.
func NewEngine(gens GenerationSource, b *bus.Bus, notificationTTL time.Duration, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notificationTTL <= 0 {
		notificationTTL = DefaultNotificationTTL
	}
	if b == nil {
		b = bus.New()
	}
	e := &Engine{
		gens:   gens,
		bus:    b,
		logger: logger,
		ttl:    notificationTTL,
	}
	e.resetLocked()
	return e
}

// HandleFrame decodes one inbound frame read by the connection of
// generation gen and applies it. Stale, malformed and undecodable frames
// are logged and dropped. It reports whether the frame was applied.
func (e *Engine) HandleFrame(gen uint64, frame []byte) bool {
	evt, err := protocol.Decode(frame)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			e.logger.Warn("dropping undecodable frame", zap.String("event", de.Tag), zap.Error(de.Err))
		} else {
			e.logger.Warn("dropping malformed frame", zap.Error(err))
		}
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gens != nil {
		if current := e.gens.Generation(); gen != current {
			e.logger.Debug("dropping frame from superseded connection",
				zap.Uint64("generation", gen), zap.Uint64("current", current), zap.String("event", evt.Tag()))
			return false
		}
	}
	e.applyLocked(evt)
	return true
}

// Apply merges one decoded event into the state.
func (e *Engine) Apply(evt protocol.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyLocked(evt)
}

func (e *Engine) applyLocked(evt protocol.Event) {
	switch ev := evt.(type) {
	case protocol.MessageDelivered:
		e.applyLive(ev.Message)
	case protocol.BacklogDelivered:
		e.mergeBatch(ev.Messages)
		e.logger.Info("backlog merged", zap.Int("messages", len(ev.Messages)))
	case protocol.HistoryPage:
		e.mergeBatch(ev.Messages)
	case protocol.ConversationList:
		e.st.Summaries = cloneSummaries(ev.Summaries)
		if e.st.Summaries == nil {
			e.st.Summaries = []model.ConversationSummary{}
		}
		e.publish(KindSummaries, nil)
	case protocol.ConversationCreated:
		e.applyCreated(ev.Detail)
	case protocol.ConversationAnnounced:
		e.prependSummary(ev.Summary.Clone())
		e.publish(KindSummaries, nil)
	case protocol.ConversationDetailReceived:
		e.st.Details[ev.Detail.ConversationID] = ev.Detail.Clone()
		e.publish(KindDetail, DetailChanged{ConversationID: ev.Detail.ConversationID})
	case protocol.SearchResults:
		e.st.SearchResults = append([]model.SearchUser{}, ev.Users...)
		e.publish(KindSearch, nil)
	case protocol.ContactsReceived:
		contacts := make([]model.Contact, 0, len(ev.Contacts))
		for _, c := range ev.Contacts {
			contacts = append(contacts, e.ownContact(c))
		}
		e.st.Contacts = contacts
		e.publish(KindContacts, nil)
	case protocol.ContactAdded:
		e.applyContactAdded(e.ownContact(ev.Contact))
	case protocol.ReadStatusUpdated:
		e.applyReadStatus(ev.Status)
	case protocol.Unrecognized:
		e.logger.Info("ignoring unrecognized event", zap.String("event", ev.Event))
	default:
		e.logger.Warn("unhandled event type", zap.String("type", fmt.Sprintf("%T", evt)))
	}
}

func (e *Engine) timeline(conversationID int64) *Timeline {
	t, ok := e.timelines[conversationID]
	if !ok {
		t = NewTimeline()
		e.timelines[conversationID] = t
	}
	return t
}

// applyLive inserts a pushed message. A message already held, whether
// pushed before or merged from a page or backlog, leaves the summary alone.
func (e *Engine) applyLive(m model.Message) {
	t := e.timeline(m.ConversationID)
	known := t.Contains(m.ID)
	t.Insert(m)
	e.publish(KindTimeline, TimelineChanged{ConversationID: m.ConversationID})
	if known {
		return
	}

	i := summaryIndex(e.st.Summaries, m.ConversationID)
	if i < 0 {
		return
	}
	sum := &e.st.Summaries[i]
	if sum.LastMessage == nil || !m.SentAt.Before(sum.LastMessage.SentAt) {
		sum.LastMessage = &model.MessagePreview{SentAt: m.SentAt, Content: m.Content, AuthorName: m.AuthorName}
	}
	if m.AuthorID != e.st.SelfID && m.ConversationID != e.st.ActiveConversation {
		sum.UnreadCount++
	}
	moveToFront(e.st.Summaries, i)
	e.publish(KindSummaries, nil)
}

// mergeBatch partitions msgs by conversation and sort-merges each part.
func (e *Engine) mergeBatch(msgs []model.Message) {
	parts := make(map[int64][]model.Message)
	for _, m := range msgs {
		parts[m.ConversationID] = append(parts[m.ConversationID], m)
	}
	ids := make([]int64, 0, len(parts))
	for id := range parts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		e.timeline(id).Merge(parts[id])
		e.publish(KindTimeline, TimelineChanged{ConversationID: id})
	}
}

func (e *Engine) applyCreated(d model.ConversationDetail) {
	e.st.Details[d.ConversationID] = d.Clone()
	e.publish(KindDetail, DetailChanged{ConversationID: d.ConversationID})

	if summaryIndex(e.st.Summaries, d.ConversationID) < 0 {
		e.prependSummary(model.ConversationSummary{ConversationID: d.ConversationID, DisplayName: d.DisplayName})
		e.publish(KindSummaries, nil)
	}

	if p := e.st.Provisional; p != nil && d.HasParticipant(p.UserID) {
		e.logger.Info("provisional conversation confirmed",
			zap.Int64("user_id", p.UserID), zap.Int64("conversation_id", d.ConversationID))
		e.st.Provisional = nil
		e.st.ActiveConversation = d.ConversationID
		e.publishSelection()
	}
}

// prependSummary puts s first, replacing an entry with the same id.
func (e *Engine) prependSummary(s model.ConversationSummary) {
	list := slices.DeleteFunc(e.st.Summaries, func(x model.ConversationSummary) bool {
		return x.ConversationID == s.ConversationID
	})
	e.st.Summaries = append([]model.ConversationSummary{s}, list...)
}

func (e *Engine) ownContact(c model.Contact) model.Contact {
	if c.OwnerID == 0 {
		c.OwnerID = e.st.SelfID
	}
	return c
}

func (e *Engine) applyContactAdded(c model.Contact) {
	i := slices.IndexFunc(e.st.Contacts, func(x model.Contact) bool { return x.ContactID == c.ContactID })
	if i >= 0 {
		e.st.Contacts[i] = c
	} else {
		e.st.Contacts = append(e.st.Contacts, c)
	}
	e.publish(KindContacts, nil)

	for i := range e.st.SearchResults {
		if e.st.SearchResults[i].UserID == c.ContactID {
			e.st.SearchResults[i].IsContact = true
			e.publish(KindSearch, nil)
		}
	}

	e.setNotification(fmt.Sprintf("%s added to contacts", c.DisplayName))
}

func (e *Engine) applyReadStatus(rs model.ReadStatus) {
	t, ok := e.timelines[rs.ConversationID]
	if ok {
		readAt := rs.ReadAt
		touched := t.update(rs.LastReadMessageID, func(m *model.Message) {
			if m.AuthorID == rs.UserID {
				return
			}
			if m.ReadReceipts == nil {
				m.ReadReceipts = make(map[int64]*time.Time)
			}
			if at := m.ReadReceipts[rs.UserID]; at == nil {
				ts := readAt
				m.ReadReceipts[rs.UserID] = &ts
			}
			m.IsRead = true
		})
		if touched {
			e.publish(KindTimeline, TimelineChanged{ConversationID: rs.ConversationID})
		}
	}

	if rs.UserID == e.st.SelfID {
		if i := summaryIndex(e.st.Summaries, rs.ConversationID); i >= 0 && e.st.Summaries[i].UnreadCount != 0 {
			e.st.Summaries[i].UnreadCount = 0
			e.publish(KindSummaries, nil)
		}
	}
}

func (e *Engine) setNotification(text string) {
	n := &Notification{ID: uuid.NewString(), Text: text, At: time.Now()}
	e.st.Notification = n
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.ttl, func() { e.clearNotification(n.ID) })
	e.publish(KindNotification, cloneNotification(n))
}

func (e *Engine) clearNotification(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.Notification == nil || e.st.Notification.ID != id {
		return
	}
	e.st.Notification = nil
	e.publish(KindNotification, (*Notification)(nil))
}

// SetSelf records the session user's id.
func (e *Engine) SetSelf(userID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.st.SelfID = userID
}

// SelectConversation makes conversationID active, drops any provisional
// target and zeroes its unread count.
func (e *Engine) SelectConversation(conversationID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.st.ActiveConversation = conversationID
	e.st.Provisional = nil
	if i := summaryIndex(e.st.Summaries, conversationID); i >= 0 && e.st.Summaries[i].UnreadCount != 0 {
		e.st.Summaries[i].UnreadCount = 0
		e.publish(KindSummaries, nil)
	}
	e.publishSelection()
}

// SelectUser picks a search result as the provisional target of a new
// conversation. The search results are consumed.
func (e *Engine) SelectUser(u model.SearchUser) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.st.Provisional = &u
	e.st.ActiveConversation = 0
	e.st.SearchResults = nil
	e.publish(KindSearch, nil)
	e.publishSelection()
}

// ClearSearch empties the search results.
func (e *Engine) ClearSearch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.st.SearchResults = nil
	e.publish(KindSearch, nil)
}

// MarkContactsRequested moves the contact list from unloaded to loading.
func (e *Engine) MarkContactsRequested() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.Contacts == nil {
		e.st.Contacts = []model.Contact{}
		e.publish(KindContacts, nil)
	}
}

// Selection returns the active conversation and the provisional target.
func (e *Engine) Selection() Selection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Selection{ActiveConversation: e.st.ActiveConversation, Provisional: cloneSearchUser(e.st.Provisional)}
}

// Reset forgets all state, as after the session ended.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
	e.publish(KindReset, nil)
}

func (e *Engine) resetLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.timelines = make(map[int64]*Timeline)
	e.st = State{Details: make(map[int64]model.ConversationDetail)}
}

// Stop cancels the pending notification timer.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// Snapshot returns a deep copy of the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.st
	s.Timelines = make(map[int64][]model.Message, len(e.timelines))
	for id, t := range e.timelines {
		s.Timelines[id] = t.Messages()
	}
	s.Summaries = cloneSummaries(e.st.Summaries)
	s.Details = cloneDetails(e.st.Details)
	if e.st.SearchResults != nil {
		s.SearchResults = slices.Clone(e.st.SearchResults)
	}
	if e.st.Contacts != nil {
		s.Contacts = append([]model.Contact{}, e.st.Contacts...)
	}
	s.Notification = cloneNotification(e.st.Notification)
	s.Provisional = cloneSearchUser(e.st.Provisional)
	return s
}

// Subscribe returns state change events. Events only say what changed;
// observers read the data with Snapshot.
func (e *Engine) Subscribe(bufSize int) (<-chan bus.Event, func()) {
	return e.bus.Subscribe(bus.NamespaceState, bufSize)
}

func (e *Engine) publishSelection() {
	e.publish(KindSelection, Selection{ActiveConversation: e.st.ActiveConversation, Provisional: cloneSearchUser(e.st.Provisional)})
}

func (e *Engine) publish(kind string, payload any) {
	e.bus.Emit(kind, payload)
}
