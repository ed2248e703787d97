// Package typing drives the "is typing" indicator of a private conversation.
package typing

import (
	"context"
	"sync"
	"time"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/events"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/models"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/repository"
	"go.uber.org/zap"
)

// records this old are treated as abandoned
const staleAfter = 30 * time.Second

type State int

const (
	Idle State = iota
	Typing
)

func (s State) String() string {
	if s == Typing {
		return "typing"
	}
	return "idle"
}

// Machine is the typing state of one session. The record is written on
// Idle<->Typing transitions and rewritten while Typing once it is older than
// refresh, so continuous input never reads as stale.
type Machine struct {
	mu      sync.Mutex
	user    string
	store   repository.TypingStore
	bus     events.Publisher
	idle    time.Duration
	refresh time.Duration
	log     *zap.Logger
	state   State
	chatID  string
	written time.Time
	timer   *time.Timer
	gen     uint64
}

func NewMachine(user string, store repository.TypingStore, bus events.Publisher, idle time.Duration, log *zap.Logger) *Machine {
	return &Machine{user: user, store: store, bus: bus, idle: idle, refresh: staleAfter / 2, log: log}
}

// Keystroke records input in chatID. Public input (empty chatID) is ignored.
func (m *Machine) Keystroke(chatID string) {
	if chatID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Typing && m.chatID != chatID {
		m.toIdle()
	}
	m.gen++
	gen := m.gen
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.idle, func() { m.expire(gen) })

	switch {
	case m.state == Idle:
		m.state = Typing
		m.chatID = chatID
		m.write(true)
	case time.Since(m.written) >= m.refresh:
		m.write(true)
	}
}

func (m *Machine) expire(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state != Typing {
		return
	}
	m.toIdle()
}

// Stop forces Idle: on send, on conversation switch and on session end.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.state == Typing {
		m.toIdle()
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) toIdle() {
	m.state = Idle
	m.write(false)
}

func (m *Machine) write(isTyping bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	rec := models.Typing{UserID: m.user, IsTyping: isTyping, Timestamp: time.Now().UTC(), ChatID: m.chatID}
	if err := m.store.SetTyping(ctx, rec); err != nil {
		m.log.Warn("write typing record failed", zap.String("user_id", m.user), zap.Error(err))
		return
	}
	m.written = rec.Timestamp
	change := events.Change{Collection: models.TypingCollection, Op: events.OpUpdate, ID: m.user, ChatID: m.chatID}
	if err := m.bus.Publish(ctx, change); err != nil {
		m.log.Warn("publish typing change failed", zap.Error(err))
	}
}

// Observe returns who, other than self, is typing in chatID.
func Observe(records []models.Typing, self, chatID string) (string, bool) {
	if chatID == "" {
		return "", false
	}
	for _, r := range records {
		if r.ChatID == chatID && r.UserID != self && r.IsTyping {
			return r.UserID, true
		}
	}
	return "", false
}

// Source is the live query over all typing records.
type Source struct {
	store      repository.TypingStore
	staleAfter time.Duration
}

func NewSource(store repository.TypingStore) *Source {
	return &Source{store: store, staleAfter: staleAfter}
}

func (s *Source) Key() string { return "typing" }

func (s *Source) Load(ctx context.Context) ([]models.Typing, error) {
	recs, err := s.store.ListTyping(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-s.staleAfter)
	out := recs[:0]
	for _, r := range recs {
		if r.Timestamp.After(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Source) Affected(c events.Change) bool {
	return c.Collection == models.TypingCollection
}
