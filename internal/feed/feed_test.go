package feed

import (
	"context"
	"testing"
	"time"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/conversation"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/events"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/models"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestSenderColor(t *testing.T) {
	// 0x0000016d = 365 -> 5
	assert.Equal(t, "hsl(5, 70%, 60%)", SenderColor("0000016dffff"))
	assert.Equal(t, "hsl(0, 70%, 60%)", SenderColor("00000000"))
	// parsing stops at the first non-hex character
	assert.Equal(t, "hsl(10, 70%, 60%)", SenderColor("a-zzzzzz"))
	assert.Equal(t, SenderColor("zed"), SenderColor("zed"))
	assert.Regexp(t, `^hsl\(\d+, 70%, 60%\)$`, SenderColor("zed"))
}

func TestReconcileJoinsProfiles(t *testing.T) {
	raw := []models.Message{
		{ID: "1", Sender: "aa11", Text: "hi", Timestamp: t0},
		{ID: "2", Sender: "ghost", Text: "boo", Timestamp: t0},
		{ID: "3", Sender: "bb22", Text: "yo", Timestamp: t0, Reactions: map[string][]string{"👍": {"aa11"}}},
	}
	profiles := map[string]models.User{
		"aa11": {ID: "aa11", Name: "Alice"},
		"bb22": {ID: "bb22"},
	}

	out := Reconcile(raw, profiles)
	require.Len(t, out, 3)

	assert.Equal(t, "Alice", out[0].SenderName)
	assert.Equal(t, SenderColor("aa11"), out[0].SenderColor)
	assert.NotNil(t, out[0].Reactions)
	assert.False(t, out[0].IsEdited)
	assert.False(t, out[0].IsRead)

	assert.Equal(t, UnknownSender, out[1].SenderName)
	assert.Equal(t, UnknownColor, out[1].SenderColor)

	assert.Equal(t, UnknownSender, out[2].SenderName)
	assert.Equal(t, SenderColor("bb22"), out[2].SenderColor)
	assert.Equal(t, []string{"3"}, []string{out[2].ID})
}

func TestSourceLoadAndAffected(t *testing.T) {
	store := repository.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.SaveUser(ctx, &models.User{ID: "alice", Name: "Alice"}))
	chat := conversation.Resolve("alice", "bob")
	require.NoError(t, store.InsertMessage(ctx, conversation.PrivateCollection, &models.Message{
		ID: "m1", Sender: "alice", Text: "hey", Timestamp: t0, ChatID: chat, Participants: []string{"alice", "bob"},
	}))
	require.NoError(t, store.InsertMessage(ctx, conversation.PrivateCollection, &models.Message{
		ID: "m2", Sender: "carol", Text: "other", Timestamp: t0, ChatID: conversation.Resolve("bob", "carol"), Participants: []string{"carol", "bob"},
	}))

	src := NewSource(store, store, Focused("bob", conversation.Private("alice")))
	items, err := src.Load(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Alice", items[0].SenderName)

	assert.True(t, src.Affected(events.Change{Collection: conversation.PrivateCollection, ChatID: chat}))
	assert.False(t, src.Affected(events.Change{Collection: conversation.PrivateCollection, ChatID: "bob_carol"}))
	assert.False(t, src.Affected(events.Change{Collection: conversation.PublicCollection}))
	assert.True(t, src.Affected(events.Change{Collection: models.UsersCollection, ID: "alice"}))

	inbox := NewSource(store, store, Inbox("bob"))
	items, err = inbox.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.True(t, inbox.Affected(events.Change{Collection: conversation.PrivateCollection, ChatID: "bob_carol"}))
	assert.False(t, inbox.Affected(events.Change{Collection: conversation.PrivateCollection, ChatID: "alice_carol"}))

	assert.Equal(t, Focused("alice", conversation.Private("bob")).Key(), Focused("bob", conversation.Private("alice")).Key())
	assert.NotEqual(t, Focused("bob", conversation.Public()).Key(), Pinned("bob", conversation.Public()).Key())
}

func msg(id, sender string, sec int, seq int64) models.FeedMessage {
	return models.FeedMessage{Message: models.Message{ID: id, Sender: sender, Timestamp: t0.Add(time.Duration(sec) * time.Second), Seq: seq}}
}

func TestTrackerPublic(t *testing.T) {
	tr := NewTracker("bob")
	tr.Focus("alice")

	// history present at session start is not unread
	assert.False(t, tr.ObservePublic([]models.FeedMessage{msg("1", "alice", 0, 1)}))
	assert.Zero(t, tr.Count(conversation.PublicKey))

	feed := []models.FeedMessage{msg("1", "alice", 0, 1), msg("2", "alice", 1, 2), msg("3", "bob", 2, 3)}
	assert.True(t, tr.ObservePublic(feed))
	assert.Equal(t, 1, tr.Count(conversation.PublicKey))

	// a message removed from the feed lowers the count instead of inflating it
	assert.True(t, tr.ObservePublic([]models.FeedMessage{msg("1", "alice", 0, 1), msg("3", "bob", 2, 3)}))
	assert.Zero(t, tr.Count(conversation.PublicKey))

	tr.Focus(conversation.PublicKey)
	tr.ObservePublic(append(feed, msg("4", "carol", 3, 4)))
	assert.Zero(t, tr.Count(conversation.PublicKey))
}

func TestTrackerInbox(t *testing.T) {
	tr := NewTracker("bob")
	tr.Focus(conversation.PublicKey)

	inbox := []models.FeedMessage{msg("1", "alice", 0, 1), msg("2", "alice", 1, 2), msg("3", "alice", 2, 3), msg("4", "carol", 2, 4)}
	assert.True(t, tr.ObserveInbox(inbox))
	assert.Equal(t, map[string]int{"alice": 3, "carol": 1}, tr.Counts())
	assert.False(t, tr.ObserveInbox(inbox))

	tr.Focus("alice")
	tr.Read("alice", inbox[2].Position())
	assert.Zero(t, tr.Count("alice"))

	// the inbox still lists alice's messages until the read lands
	assert.False(t, tr.ObserveInbox(inbox))
	assert.Equal(t, map[string]int{"carol": 1}, tr.Counts())

	tr.Focus(conversation.PublicKey)
	assert.False(t, tr.ObserveInbox(inbox))
	assert.Zero(t, tr.Count("alice"))

	assert.True(t, tr.ObserveInbox(append(inbox, msg("5", "alice", 5, 5))))
	assert.Equal(t, 1, tr.Count("alice"))

	assert.True(t, tr.ObserveInbox(nil))
	assert.Empty(t, tr.Counts())
}
