package sync

import (
	"slices"

	"github.com/matheus3301/msgr/internal/model"
)

// Timeline is the ordered, de-duplicated message history of one
// conversation. Entries are kept ascending by (SentAt, ID).
type Timeline struct {
	msgs  []model.Message
	index map[int64]int
}

// NewTimeline returns an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{index: make(map[int64]int)}
}

// Len returns the number of messages.
func (t *Timeline) Len() int { return len(t.msgs) }

// Contains reports whether a message with id is present.
func (t *Timeline) Contains(id int64) bool {
	_, ok := t.index[id]
	return ok
}

// Last returns the newest message.
func (t *Timeline) Last() (model.Message, bool) {
	if len(t.msgs) == 0 {
		return model.Message{}, false
	}
	return t.msgs[len(t.msgs)-1], true
}

// Messages returns a deep copy of the entries in order.
func (t *Timeline) Messages() []model.Message {
	out := make([]model.Message, len(t.msgs))
	for i, m := range t.msgs {
		out[i] = m.Clone()
	}
	return out
}

// Insert adds a single message. When m sorts after the current last entry
// it is appended directly and Insert returns true; otherwise it falls back
// to Merge.
func (t *Timeline) Insert(m model.Message) bool {
	if !t.Contains(m.ID) {
		if last, ok := t.Last(); !ok || last.Before(m) {
			t.index[m.ID] = len(t.msgs)
			t.msgs = append(t.msgs, m)
			return true
		}
	}
	t.Merge([]model.Message{m})
	return false
}

// Merge unions batch into the timeline by message id and re-sorts. On a
// duplicate id the batch copy wins. Merging the same batch twice, or two
// batches in either order, gives the same result.
func (t *Timeline) Merge(batch []model.Message) {
	if len(batch) == 0 {
		return
	}
	merged := make([]model.Message, 0, len(t.msgs)+len(batch))
	merged = append(merged, t.msgs...)
	for _, m := range batch {
		if i, ok := t.index[m.ID]; ok {
			merged[i] = m
			continue
		}
		t.index[m.ID] = len(merged)
		merged = append(merged, m)
	}

	slices.SortStableFunc(merged, compareMessages)
	t.msgs = merged
	for i, m := range t.msgs {
		t.index[m.ID] = i
	}
}

// update applies fn to every message with id <= upTo and reports whether
// any message was visited.
func (t *Timeline) update(upTo int64, fn func(m *model.Message)) bool {
	touched := false
	for i := range t.msgs {
		if t.msgs[i].ID <= upTo {
			fn(&t.msgs[i])
			touched = true
		}
	}
	return touched
}

func compareMessages(a, b model.Message) int {
	if c := a.SentAt.Compare(b.SentAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
