package sync

import (
	"reflect"
	"testing"
	"time"

	"github.com/matheus3301/msgr/internal/model"
)

var t0 = time.Date(2024, 7, 16, 12, 0, 0, 0, time.UTC)

func msg(id, conv int64, offset time.Duration) model.Message {
	return model.Message{ID: id, ConversationID: conv, AuthorID: 2, Content: "m", SentAt: t0.Add(offset)}
}

func ids(msgs []model.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func assertInvariants(t *testing.T, msgs []model.Message) {
	t.Helper()
	seen := make(map[int64]bool)
	for i, m := range msgs {
		if seen[m.ID] {
			t.Errorf("duplicate message id %d", m.ID)
		}
		seen[m.ID] = true
		if i > 0 && msgs[i-1].SentAt.After(m.SentAt) {
			t.Errorf("entry %d (%v) sent before entry %d (%v)", i, m.SentAt, i-1, msgs[i-1].SentAt)
		}
	}
}

func TestMergeIdempotent(t *testing.T) {
	batch := []model.Message{msg(3, 1, 3*time.Second), msg(1, 1, time.Second), msg(2, 1, 2*time.Second)}

	once := NewTimeline()
	once.Merge(batch)
	twice := NewTimeline()
	twice.Merge(batch)
	twice.Merge(batch)

	if !reflect.DeepEqual(once.Messages(), twice.Messages()) {
		t.Errorf("merge twice = %v, once = %v", ids(twice.Messages()), ids(once.Messages()))
	}
	assertInvariants(t, twice.Messages())
}

func TestMergeCommutative(t *testing.T) {
	a := []model.Message{msg(1, 1, time.Second), msg(4, 1, 4*time.Second), msg(5, 1, 4*time.Second)}
	b := []model.Message{msg(2, 1, 2*time.Second), msg(3, 1, 4*time.Second), msg(6, 1, 0)}

	ab := NewTimeline()
	ab.Merge(a)
	ab.Merge(b)
	ba := NewTimeline()
	ba.Merge(b)
	ba.Merge(a)

	if !reflect.DeepEqual(ab.Messages(), ba.Messages()) {
		t.Errorf("A then B = %v, B then A = %v", ids(ab.Messages()), ids(ba.Messages()))
	}
	want := []int64{6, 1, 2, 3, 4, 5}
	if got := ids(ab.Messages()); !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestMergeBatchCopyWins(t *testing.T) {
	tl := NewTimeline()
	tl.Merge([]model.Message{msg(1, 1, 0)})

	updated := msg(1, 1, 0)
	updated.IsRead = true
	tl.Merge([]model.Message{updated})

	if tl.Len() != 1 || !tl.Messages()[0].IsRead {
		t.Errorf("timeline = %+v, want the batch copy", tl.Messages())
	}
}

func TestMergeDuplicateWithinBatch(t *testing.T) {
	tl := NewTimeline()
	tl.Merge([]model.Message{msg(1, 1, 0), msg(2, 1, time.Second), msg(1, 1, 0)})
	if got := ids(tl.Messages()); !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Errorf("ids = %v, want [1 2]", got)
	}
}

func TestInsertFastPath(t *testing.T) {
	tl := NewTimeline()
	tl.Merge([]model.Message{msg(1, 7, 0), msg(2, 7, time.Second)})
	before := tl.Len()

	if !tl.Insert(msg(3, 7, 2*time.Second)) {
		t.Error("Insert() of a newer message did not take the append path")
	}
	if tl.Len() != before+1 {
		t.Errorf("Len() = %d, want %d", tl.Len(), before+1)
	}
	if last, _ := tl.Last(); last.ID != 3 {
		t.Errorf("last id = %d, want 3", last.ID)
	}
}

func TestInsertOutOfOrder(t *testing.T) {
	tl := NewTimeline()
	tl.Merge([]model.Message{msg(1, 7, 0), msg(3, 7, 2*time.Second)})

	if tl.Insert(msg(2, 7, time.Second)) {
		t.Error("Insert() of an older message took the append path")
	}
	if got := ids(tl.Messages()); !reflect.DeepEqual(got, []int64{1, 2, 3}) {
		t.Errorf("ids = %v, want [1 2 3]", got)
	}
}

func TestInsertDuplicate(t *testing.T) {
	tl := NewTimeline()
	tl.Insert(msg(1, 7, 0))
	tl.Insert(msg(1, 7, 0))
	if tl.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tl.Len())
	}
}

func TestHistoryAfterLivePush(t *testing.T) {
	tl := NewTimeline()
	tl.Insert(msg(3, 7, 3*time.Second))
	tl.Merge([]model.Message{msg(1, 7, time.Second), msg(2, 7, 2*time.Second), msg(3, 7, 3*time.Second)})

	got := tl.Messages()
	if !reflect.DeepEqual(ids(got), []int64{1, 2, 3}) {
		t.Errorf("ids = %v, want [1 2 3]", ids(got))
	}
	assertInvariants(t, got)
}

func TestMergeInvariantsRandomized(t *testing.T) {
	tl := NewTimeline()
	for round := range 20 {
		var batch []model.Message
		for i := range 10 {
			id := int64((round*7 + i*13) % 50)
			batch = append(batch, msg(id, 1, time.Duration(id%9)*time.Second))
		}
		tl.Merge(batch)
		tl.Insert(msg(int64(100+round), 1, time.Duration(round%5)*time.Second))
		assertInvariants(t, tl.Messages())
	}
}

func TestMessagesIsCopy(t *testing.T) {
	tl := NewTimeline()
	m := msg(1, 1, 0)
	at := t0
	m.ReadReceipts = map[int64]*time.Time{5: &at}
	tl.Insert(m)

	out := tl.Messages()
	out[0].Content = "changed"
	*out[0].ReadReceipts[5] = t0.Add(time.Hour)

	again := tl.Messages()
	if again[0].Content != "m" || !again[0].ReadReceipts[5].Equal(t0) {
		t.Error("Messages() shares memory with the timeline")
	}
}
