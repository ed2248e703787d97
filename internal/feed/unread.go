package feed

import (
	"github.com/ThenChiefGuy/Habibi-Connection/internal/conversation"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/models"
)

// Tracker keeps per-conversation unread counts for one session. Each
// conversation has a read cursor that only moves forward; a message counts as
// unread when it sorts after the cursor and was not sent by self.
type Tracker struct {
	self    string
	focused string
	cursors map[string]models.Position
	counts  map[string]int
	seeded  bool
}

func NewTracker(self string) *Tracker {
	return &Tracker{
		self:    self,
		cursors: make(map[string]models.Position),
		counts:  make(map[string]int),
	}
}

// Focus marks key as the conversation on screen and clears its count.
func (t *Tracker) Focus(key string) {
	t.focused = key
	delete(t.counts, key)
}

func (t *Tracker) Focused() string { return t.focused }

// Read advances the cursor of key to pos and clears its count.
func (t *Tracker) Read(key string, pos models.Position) {
	if pos.After(t.cursors[key]) {
		t.cursors[key] = pos
	}
	delete(t.counts, key)
}

// ObservePublic recounts the public feed. The first snapshot seeds the
// cursor, so a new session starts with nothing unread there.
func (t *Tracker) ObservePublic(msgs []models.FeedMessage) bool {
	key := conversation.PublicKey
	before := t.counts[key]
	if len(msgs) == 0 {
		t.seeded = true
		return false
	}
	last := msgs[len(msgs)-1].Position()
	if !t.seeded || t.focused == key {
		t.seeded = true
		t.Read(key, last)
		return before != 0
	}

	cursor := t.cursors[key]
	n := 0
	for _, m := range msgs {
		if m.Sender != t.self && m.Position().After(cursor) {
			n++
		}
	}
	t.set(key, n)
	return before != n
}

// ObserveInbox recounts private conversations from the unread-inbox snapshot.
func (t *Tracker) ObserveInbox(msgs []models.FeedMessage) bool {
	next := make(map[string]int)
	for _, m := range msgs {
		peer := m.Sender
		if peer == t.self || peer == t.focused {
			continue
		}
		if m.Position().After(t.cursors[peer]) {
			next[peer]++
		}
	}

	changed := false
	for key, n := range t.counts {
		if key == conversation.PublicKey {
			continue
		}
		if next[key] != n {
			changed = true
		}
		if _, ok := next[key]; !ok {
			delete(t.counts, key)
		}
	}
	for key, n := range next {
		if t.counts[key] != n {
			changed = true
		}
		t.counts[key] = n
	}
	return changed
}

func (t *Tracker) set(key string, n int) {
	if n == 0 {
		delete(t.counts, key)
		return
	}
	t.counts[key] = n
}

func (t *Tracker) Count(key string) int { return t.counts[key] }

// Counts returns a copy of the non-zero counts keyed by peer id or "public".
func (t *Tracker) Counts() map[string]int {
	out := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}
