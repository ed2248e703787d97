package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/conversation"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/events"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/live"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/models"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/presence"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/repository"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/service"
)

// direct delivers changes to the live managers synchronously.
type direct struct {
	fan live.Fanout
}

func (d *direct) Publish(_ context.Context, c events.Change) error {
	d.fan.Notify(c)
	return nil
}

type chanSink chan Envelope

func (c chanSink) Send(env Envelope) error {
	c <- env
	return nil
}

type harness struct {
	store *repository.Memory
	deps  Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zap.NewNop()
	store := repository.NewMemory()
	feeds := live.NewManager[[]models.FeedMessage](log, time.Second)
	views := live.NewManager[presence.View](log, time.Second)
	typers := live.NewManager[[]models.Typing](log, time.Second)
	t.Cleanup(func() {
		feeds.Close()
		views.Close()
		typers.Close()
	})
	bus := &direct{fan: live.Fanout{feeds, views, typers}}

	for id, name := range map[string]string{"alice": "Alice", "bob": "Bob"} {
		require.NoError(t, store.SaveUser(context.Background(), &models.User{ID: id, Name: name}))
	}
	return &harness{
		store: store,
		deps: Deps{
			Feeds:       feeds,
			Presence:    views,
			Typing:      typers,
			Messages:    service.NewMessageService(store, store, bus, nil, log),
			Store:       store,
			TypingStore: store,
			Tracker:     presence.NewTracker(store, presence.NewLocalConnections(), bus, log, 80),
			Bus:         bus,
			TypingIdle:  100 * time.Millisecond,
			Log:         log,
		},
	}
}

type client struct {
	s      *Session
	out    chanSink
	cancel context.CancelFunc
	done   chan error
}

func (h *harness) connect(t *testing.T, user string) *client {
	t.Helper()
	out := make(chanSink, 256)
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{s: New(user, h.deps, out), out: out, cancel: cancel, done: make(chan error, 1)}
	go func() { c.done <- c.s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-c.done
	})
	return c
}

func (c *client) push(t *testing.T, in Inbound) {
	t.Helper()
	require.NoError(t, c.s.Push(context.Background(), in))
}

// await reads envelopes until match accepts one.
func (c *client) await(t *testing.T, match func(Envelope) bool) Envelope {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case env := <-c.out:
			if match(env) {
				return env
			}
		case <-deadline:
			t.Fatal("expected envelope never arrived")
			return Envelope{}
		}
	}
}

func feedOf(conv string, n int) func(Envelope) bool {
	return func(env Envelope) bool {
		d, ok := env.Data.(FeedData)
		return env.Type == TypeFeed && ok && d.Conversation == conv && len(d.Messages) == n
	}
}

func unreadIs(key string, n int) func(Envelope) bool {
	return func(env Envelope) bool {
		d, ok := env.Data.(UnreadData)
		return env.Type == TypeUnread && ok && d.Counts[key] == n
	}
}

func ackFor(ref string) func(Envelope) bool {
	return func(env Envelope) bool {
		return (env.Type == TypeAck || env.Type == TypeError) && env.Ref == ref
	}
}

func TestPublicSendReachesBothSessions(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "alice")
	b := h.connect(t, "bob")
	a.await(t, feedOf("public", 0))
	b.await(t, feedOf("public", 0))

	a.push(t, Inbound{Type: ActSend, Ref: "1", Text: "hi"})
	ack := a.await(t, ackFor("1"))
	require.Equal(t, TypeAck, ack.Type)

	for _, c := range []*client{a, b} {
		env := c.await(t, feedOf("public", 1))
		m := env.Data.(FeedData).Messages[0]
		assert.Equal(t, "hi", m.Text)
		assert.Equal(t, "alice", m.Sender)
		assert.Equal(t, "Alice", m.SenderName)
		assert.False(t, m.IsRead)
		assert.Empty(t, m.Reactions)
	}
}

func TestThreeUnreadThenFocus(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "alice")
	b := h.connect(t, "bob")
	b.await(t, feedOf("public", 0))

	for _, ref := range []string{"1", "2", "3"} {
		a.push(t, Inbound{Type: ActSend, Ref: ref, Peer: "bob", Text: "msg " + ref})
		require.Equal(t, TypeAck, a.await(t, ackFor(ref)).Type)
	}
	b.await(t, unreadIs("alice", 3))

	b.push(t, Inbound{Type: ActFocus, Peer: "alice"})
	b.await(t, unreadIs("alice", 0))
	env := b.await(t, func(env Envelope) bool {
		d, ok := env.Data.(FeedData)
		if env.Type != TypeFeed || !ok || d.Conversation != "alice" || len(d.Messages) != 3 {
			return false
		}
		for _, m := range d.Messages {
			if !m.IsRead {
				return false
			}
		}
		return true
	})
	assert.Len(t, env.Data.(FeedData).Messages, 3)

	chatID := conversation.Resolve("alice", "bob")
	stored, err := h.store.FindMessages(context.Background(), repository.MessageQuery{Collection: conversation.PrivateCollection, ChatID: chatID})
	require.NoError(t, err)
	for _, m := range stored {
		assert.True(t, m.IsRead)
	}
}

func TestPrivateConversationAcrossSessions(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "alice")
	b := h.connect(t, "bob")

	a.push(t, Inbound{Type: ActFocus, Peer: "bob"})
	b.push(t, Inbound{Type: ActFocus, Peer: "alice"})
	a.await(t, feedOf("bob", 0))
	b.await(t, feedOf("alice", 0))

	a.push(t, Inbound{Type: ActSend, Ref: "a1", Text: "hello bob"})
	a.await(t, ackFor("a1"))
	b.push(t, Inbound{Type: ActSend, Ref: "b1", Text: "hello alice"})
	b.await(t, ackFor("b1"))

	gotA := a.await(t, feedOf("bob", 2)).Data.(FeedData).Messages
	gotB := b.await(t, feedOf("alice", 2)).Data.(FeedData).Messages
	assert.Equal(t, gotA[0].ChatID, gotB[0].ChatID)
	assert.Equal(t, "hello bob", gotB[0].Text)
	assert.Equal(t, "hello alice", gotA[1].Text)
}

func TestReactionScenario(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "alice")
	b := h.connect(t, "bob")

	a.push(t, Inbound{Type: ActSend, Ref: "1", Text: "like me"})
	ack := a.await(t, ackFor("1"))
	id := ack.Data.(*models.Message).ID
	b.await(t, feedOf("public", 1))

	b.push(t, Inbound{Type: ActReact, Ref: "r1", ID: id, Emoji: "👍"})
	b.await(t, ackFor("r1"))
	a.await(t, func(env Envelope) bool {
		d, ok := env.Data.(FeedData)
		return env.Type == TypeFeed && ok && len(d.Messages) == 1 &&
			assert.ObjectsAreEqual([]string{"bob"}, d.Messages[0].Reactions["👍"])
	})

	b.push(t, Inbound{Type: ActReact, Ref: "r2", ID: id, Emoji: "👍"})
	b.await(t, ackFor("r2"))
	a.await(t, func(env Envelope) bool {
		d, ok := env.Data.(FeedData)
		if env.Type != TypeFeed || !ok || len(d.Messages) != 1 {
			return false
		}
		_, present := d.Messages[0].Reactions["👍"]
		return !present
	})
}

func TestActionErrorKeepsSessionAlive(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "alice")
	b := h.connect(t, "bob")

	a.push(t, Inbound{Type: ActSend, Ref: "1", Text: "mine"})
	id := a.await(t, ackFor("1")).Data.(*models.Message).ID

	b.push(t, Inbound{Type: ActEdit, Ref: "e1", ID: id, Text: "theirs"})
	env := b.await(t, ackFor("e1"))
	assert.Equal(t, TypeError, env.Type)
	assert.NotEmpty(t, env.Error)

	b.push(t, Inbound{Type: "bogus", Ref: "x"})
	assert.Equal(t, TypeError, b.await(t, ackFor("x")).Type)

	b.push(t, Inbound{Type: ActSend, Ref: "2", Text: "still here"})
	assert.Equal(t, TypeAck, b.await(t, ackFor("2")).Type)

	b.push(t, Inbound{Type: ActFocus, Ref: "f", Peer: "a_b"})
	assert.Equal(t, TypeError, b.await(t, ackFor("f")).Type)
	b.push(t, Inbound{Type: ActSend, Ref: "3", Text: "still public"})
	assert.Equal(t, TypeAck, b.await(t, ackFor("3")).Type)
}

func TestTypingIndicator(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "alice")
	b := h.connect(t, "bob")

	a.push(t, Inbound{Type: ActFocus, Peer: "bob"})
	b.push(t, Inbound{Type: ActFocus, Peer: "alice"})
	b.await(t, feedOf("alice", 0))

	a.push(t, Inbound{Type: ActKeystroke})
	env := b.await(t, func(env Envelope) bool {
		d, ok := env.Data.(TypingData)
		return env.Type == TypeTyping && ok && d.Typing
	})
	assert.Equal(t, "Alice", env.Data.(TypingData).Name)

	// idle timeout ends it
	b.await(t, func(env Envelope) bool {
		d, ok := env.Data.(TypingData)
		return env.Type == TypeTyping && ok && !d.Typing && d.Conversation == "alice"
	})
}

func TestPresenceLifecycle(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "alice")
	a.await(t, func(env Envelope) bool {
		v, ok := env.Data.(PresenceData)
		return env.Type == TypePresence && ok && v.IsOnline("alice")
	})

	b := h.connect(t, "bob")
	b.push(t, Inbound{Type: ActStatus, Ref: "s", Status: "At lunch"})
	b.await(t, ackFor("s"))
	a.await(t, func(env Envelope) bool {
		v, ok := env.Data.(PresenceData)
		return env.Type == TypePresence && ok && v.StatusOf("bob") == "At lunch"
	})

	b.cancel()
	require.NoError(t, <-b.done)
	b.done <- nil
	a.await(t, func(env Envelope) bool {
		v, ok := env.Data.(PresenceData)
		return env.Type == TypePresence && ok && !v.IsOnline("bob")
	})
}
