// Package conversation maps a pair of users to the identifier shared by both
// sides of their private thread.
package conversation

import (
	"sort"
	"strings"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/models"
)

const (
	// PublicKey addresses the shared public feed.
	PublicKey = "public"

	PublicCollection  = "messages"
	PrivateCollection = "privateMessages"

	separator = "_"
)

// ValidID reports whether id can take part in a private conversation. Ids
// containing the separator would make two different pairs share a chat id.
func ValidID(id string) bool {
	return id != "" && !strings.Contains(id, separator)
}

// Resolve returns the conversation id of a and b. Resolve(a, b) == Resolve(b, a).
// Both ids must satisfy ValidID.
func Resolve(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, separator)
}

// Includes reports whether user is one of the two sides of chatID.
func Includes(chatID, user string) bool {
	for _, id := range strings.SplitN(chatID, separator, 2) {
		if id == user {
			return true
		}
	}
	return false
}

// Target is the conversation a session or request is aimed at: the public
// feed or a private thread with one peer.
type Target struct {
	peer string
}

func Public() Target { return Target{} }

func Private(peer string) Target { return Target{peer: peer} }

// Parse turns a path key back into a Target. "" and "public" are the public feed.
func Parse(key string) Target {
	if key == "" || key == PublicKey {
		return Public()
	}
	return Private(key)
}

func (t Target) IsPublic() bool { return t.peer == "" }

// Valid is false for a private target whose peer id cannot form a chat id.
func (t Target) Valid() bool { return t.IsPublic() || ValidID(t.peer) }

func (t Target) Peer() string { return t.peer }

// Key identifies the target from the viewer's side: "public" or the peer id.
func (t Target) Key() string {
	if t.IsPublic() {
		return PublicKey
	}
	return t.peer
}

// ChatID is empty for the public feed.
func (t Target) ChatID(self string) string {
	if t.IsPublic() {
		return ""
	}
	return Resolve(self, t.peer)
}

func (t Target) Collection() string {
	if t.IsPublic() {
		return PublicCollection
	}
	return PrivateCollection
}

// Contains reports whether m belongs to the conversation between self and the target.
func (t Target) Contains(self string, m *models.Message) bool {
	if t.IsPublic() {
		return m.ChatID == ""
	}
	return m.ChatID == t.ChatID(self)
}
