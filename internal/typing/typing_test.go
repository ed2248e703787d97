package typing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/events"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingStore keeps every write in order.
type recordingStore struct {
	mu     sync.Mutex
	writes []models.Typing
}

func (s *recordingStore) SetTyping(_ context.Context, t models.Typing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, t)
	return nil
}

func (s *recordingStore) ListTyping(context.Context) ([]models.Typing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := map[string]models.Typing{}
	for _, w := range s.writes {
		latest[w.UserID] = w
	}
	out := []models.Typing{}
	for _, w := range latest {
		out = append(out, w)
	}
	return out, nil
}

func (s *recordingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *recordingStore) last() models.Typing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[len(s.writes)-1]
}

func TestKeystrokesWriteOnlyOnTransition(t *testing.T) {
	store := &recordingStore{}
	m := NewMachine("alice", store, events.NewLocalBus(), 80*time.Millisecond, zap.NewNop())

	for i := 0; i < 5; i++ {
		m.Keystroke("alice_bob")
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, Typing, m.State())
	assert.Equal(t, 1, store.count())
	assert.True(t, store.last().IsTyping)
	assert.Equal(t, "alice_bob", store.last().ChatID)

	require.Eventually(t, func() bool { return m.State() == Idle }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, store.count())
	assert.False(t, store.last().IsTyping)
}

func TestKeystrokeReArmsTimer(t *testing.T) {
	store := &recordingStore{}
	m := NewMachine("alice", store, events.NewLocalBus(), 60*time.Millisecond, zap.NewNop())

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		m.Keystroke("alice_bob")
		time.Sleep(15 * time.Millisecond)
	}
	// still typing well past one idle interval
	assert.Equal(t, Typing, m.State())
	m.Stop()
	assert.Equal(t, Idle, m.State())
	assert.Equal(t, 2, store.count())
}

func TestStopAndPublicInput(t *testing.T) {
	store := &recordingStore{}
	m := NewMachine("alice", store, events.NewLocalBus(), time.Minute, zap.NewNop())

	m.Keystroke("")
	assert.Equal(t, Idle, m.State())
	assert.Zero(t, store.count())

	m.Stop()
	assert.Zero(t, store.count())

	m.Keystroke("alice_bob")
	m.Stop()
	assert.Equal(t, 2, store.count())
	assert.False(t, store.last().IsTyping)
}

func TestSwitchingConversationEndsPreviousTyping(t *testing.T) {
	store := &recordingStore{}
	m := NewMachine("alice", store, events.NewLocalBus(), time.Minute, zap.NewNop())

	m.Keystroke("alice_bob")
	m.Keystroke("alice_carol")
	defer m.Stop()

	require.Equal(t, 3, store.count())
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, models.Typing{UserID: "alice", IsTyping: false, ChatID: "alice_bob"}, withoutTime(store.writes[1]))
	assert.Equal(t, models.Typing{UserID: "alice", IsTyping: true, ChatID: "alice_carol"}, withoutTime(store.writes[2]))
}

func withoutTime(t models.Typing) models.Typing {
	t.Timestamp = time.Time{}
	return t
}

func TestObserve(t *testing.T) {
	now := time.Now()
	recs := []models.Typing{
		{UserID: "alice", IsTyping: true, ChatID: "alice_bob", Timestamp: now},
		{UserID: "carol", IsTyping: true, ChatID: "bob_carol", Timestamp: now},
		{UserID: "dave", IsTyping: false, ChatID: "bob_dave", Timestamp: now},
	}
	who, ok := Observe(recs, "bob", "alice_bob")
	assert.True(t, ok)
	assert.Equal(t, "alice", who)

	_, ok = Observe(recs, "alice", "alice_bob")
	assert.False(t, ok)
	_, ok = Observe(recs, "bob", "bob_dave")
	assert.False(t, ok)
	_, ok = Observe(recs, "bob", "")
	assert.False(t, ok)
}

func TestSourceDropsStale(t *testing.T) {
	store := &recordingStore{}
	require.NoError(t, store.SetTyping(context.Background(), models.Typing{UserID: "old", IsTyping: true, Timestamp: time.Now().Add(-time.Hour)}))
	require.NoError(t, store.SetTyping(context.Background(), models.Typing{UserID: "new", IsTyping: true, Timestamp: time.Now()}))

	recs, err := NewSource(store).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "new", recs[0].UserID)
}

func TestContinuousTypingStaysFresh(t *testing.T) {
	store := &recordingStore{}
	m := NewMachine("alice", store, events.NewLocalBus(), time.Minute, zap.NewNop())
	m.refresh = 40 * time.Millisecond
	defer m.Stop()
	src := NewSource(store)
	src.staleAfter = 100 * time.Millisecond

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		m.Keystroke("alice_bob")
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, Typing, m.State())
	assert.Greater(t, store.count(), 2)

	recs, err := src.Load(context.Background())
	require.NoError(t, err)
	who, ok := Observe(recs, "bob", "alice_bob")
	assert.True(t, ok)
	assert.Equal(t, "alice", who)
}
