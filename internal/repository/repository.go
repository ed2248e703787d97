package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/models"
)

// MessageQuery describes one live message listing. Zero fields do not filter.
type MessageQuery struct {
	Collection    string
	ChatID        string
	Participant   string
	ExcludeSender string
	UnreadOnly    bool
	PinnedOnly    bool
	Descending    bool
	Limit         int64
}

// Key identifies the query shape; equal queries share one live stream.
func (q MessageQuery) Key() string {
	var b strings.Builder
	b.WriteString(q.Collection)
	fmt.Fprintf(&b, "|chat=%s|part=%s|not=%s", q.ChatID, q.Participant, q.ExcludeSender)
	if q.UnreadOnly {
		b.WriteString("|unread")
	}
	if q.PinnedOnly {
		b.WriteString("|pinned")
	}
	if q.Descending {
		b.WriteString("|desc")
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, "|limit=%d", q.Limit)
	}
	return b.String()
}

func (q MessageQuery) matches(m *models.Message) bool {
	if q.ChatID != "" && m.ChatID != q.ChatID {
		return false
	}
	if q.Participant != "" && !contains(m.Participants, q.Participant) {
		return false
	}
	if q.ExcludeSender != "" && m.Sender == q.ExcludeSender {
		return false
	}
	if q.UnreadOnly && m.IsRead {
		return false
	}
	if q.PinnedOnly && !m.IsPinned {
		return false
	}
	return true
}

// MessageSearch narrows an admin message listing. A message matches when its
// text contains Text or its sender is one of Senders. The zero value matches
// everything.
type MessageSearch struct {
	Text    string
	Senders []string
}

func (q MessageSearch) IsZero() bool { return q.Text == "" && len(q.Senders) == 0 }

func (q MessageSearch) matches(m *models.Message) bool {
	if q.IsZero() {
		return true
	}
	return (q.Text != "" && ContainsFold(m.Text, q.Text)) || contains(q.Senders, m.Sender)
}

// ContainsFold reports whether sub occurs in s, ignoring case.
func ContainsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// UserMatches reports whether q occurs in the name or email of u.
func UserMatches(u models.User, q string) bool {
	return q == "" || ContainsFold(u.Name, q) || ContainsFold(u.Email, q)
}

type MessageStore interface {
	// InsertMessage assigns the store sequence number and stores m.
	InsertMessage(ctx context.Context, coll string, m *models.Message) error
	GetMessage(ctx context.Context, coll, id string) (*models.Message, error)
	FindMessages(ctx context.Context, q MessageQuery) ([]models.Message, error)
	// UpdateText and DeleteOwned only touch a message whose sender is owner.
	UpdateText(ctx context.Context, coll, id, owner, text string) (*models.Message, error)
	DeleteOwned(ctx context.Context, coll, id, owner string) (*models.Message, error)
	ToggleReaction(ctx context.Context, coll, id, emoji, user string) (*models.Message, error)
	// TogglePinned flips isPinned in a single write.
	TogglePinned(ctx context.Context, coll, id string) (*models.Message, error)
	// MarkRead flips isRead on every unread message sent by sender in chatID.
	MarkRead(ctx context.Context, chatID, sender string) (int64, error)
	DeleteMessage(ctx context.Context, coll, id string) error
	PageMessages(ctx context.Context, coll, cursor string, limit int, q MessageSearch) (models.Page[models.Message], error)
}

type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUsers(ctx context.Context, ids []string) (map[string]models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	SaveUser(ctx context.Context, u *models.User) error
	DeleteUser(ctx context.Context, id string) error
	// PageUsers lists users whose name or email contains q; "" lists all.
	PageUsers(ctx context.Context, cursor string, limit int, q string) (models.Page[models.User], error)
}

type AccountStore interface {
	CreateAccount(ctx context.Context, a *models.Account) error
	AccountByEmail(ctx context.Context, email string) (*models.Account, error)
	AccountByID(ctx context.Context, id string) (*models.Account, error)
	UpdatePassword(ctx context.Context, id, hash string) error
}

type PresenceStore interface {
	SetPresence(ctx context.Context, p models.Presence) error
	ListPresence(ctx context.Context) ([]models.Presence, error)
	SetStatus(ctx context.Context, s models.Status) error
	ListStatuses(ctx context.Context) ([]models.Status, error)
}

type TypingStore interface {
	SetTyping(ctx context.Context, t models.Typing) error
	ListTyping(ctx context.Context) ([]models.Typing, error)
}

// Store is the document store behind the chat service.
type Store interface {
	MessageStore
	UserStore
	AccountStore
	PresenceStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func normalize(m *models.Message) {
	if m.Reactions == nil {
		m.Reactions = map[string][]string{}
	}
}

var (
	_ Store       = (*Memory)(nil)
	_ TypingStore = (*Memory)(nil)
	_ Store       = (*MongoRepository)(nil)
)
