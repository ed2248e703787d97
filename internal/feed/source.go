package feed

import (
	"context"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/conversation"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/events"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/models"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/repository"
)

type Finder interface {
	FindMessages(ctx context.Context, q repository.MessageQuery) ([]models.Message, error)
}

type Profiles interface {
	GetUsers(ctx context.Context, ids []string) (map[string]models.User, error)
}

// Focused lists a conversation oldest first.
func Focused(self string, t conversation.Target) repository.MessageQuery {
	return repository.MessageQuery{Collection: t.Collection(), ChatID: t.ChatID(self)}
}

// Pinned lists the pinned messages of a conversation newest first.
func Pinned(self string, t conversation.Target) repository.MessageQuery {
	q := Focused(self, t)
	q.PinnedOnly = true
	q.Descending = true
	return q
}

// Inbox lists private messages sent to self that self has not read yet.
func Inbox(self string) repository.MessageQuery {
	return repository.MessageQuery{
		Collection:    conversation.PrivateCollection,
		Participant:   self,
		ExcludeSender: self,
		UnreadOnly:    true,
	}
}

// Source is a live message query whose snapshots are reconciled feed lists.
type Source struct {
	store Finder
	users Profiles
	q     repository.MessageQuery
}

func NewSource(store Finder, users Profiles, q repository.MessageQuery) *Source {
	return &Source{store: store, users: users, q: q}
}

func (s *Source) Key() string { return s.q.Key() }

func (s *Source) Query() repository.MessageQuery { return s.q }

func (s *Source) Load(ctx context.Context) ([]models.FeedMessage, error) {
	raw, err := s.store.FindMessages(ctx, s.q)
	if err != nil {
		return nil, err
	}
	profiles, err := s.users.GetUsers(ctx, senders(raw))
	if err != nil {
		return nil, err
	}
	return Reconcile(raw, profiles), nil
}

// Affected reports whether c can change this query's result. Profile edits
// touch every feed since sender names are joined in.
func (s *Source) Affected(c events.Change) bool {
	if c.Collection == models.UsersCollection {
		return true
	}
	if c.Collection != s.q.Collection {
		return false
	}
	switch {
	case c.ChatID == "":
		return true
	case s.q.ChatID != "":
		return c.ChatID == s.q.ChatID
	case s.q.Participant != "":
		return conversation.Includes(c.ChatID, s.q.Participant)
	}
	return true
}
