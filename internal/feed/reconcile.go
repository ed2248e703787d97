package feed

import (
	"fmt"
	"hash/fnv"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/models"
)

const (
	UnknownSender = "Unknown"
	UnknownColor  = "#666"
)

// SenderColor derives a stable hue from the sender id: the leading hex digits
// of its first 8 characters, or a hash of the id when it has none.
func SenderColor(id string) string {
	prefix := id
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	var hue uint64
	n := 0
	for ; n < len(prefix); n++ {
		d, ok := hexDigit(prefix[n])
		if !ok {
			break
		}
		hue = hue*16 + d
	}
	if n == 0 {
		h := fnv.New32a()
		_, _ = h.Write([]byte(id))
		hue = uint64(h.Sum32())
	}
	return fmt.Sprintf("hsl(%d, 70%%, 60%%)", hue%360)
}

func hexDigit(c byte) (uint64, bool) {
	switch {
	case c >= '0' && c <= '9':
		return uint64(c - '0'), true
	case c >= 'a' && c <= 'f':
		return uint64(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return uint64(c-'A') + 10, true
	}
	return 0, false
}

// Reconcile turns raw store rows into a render-ready list in the same order,
// joining each row with its sender's profile.
func Reconcile(raw []models.Message, profiles map[string]models.User) []models.FeedMessage {
	out := make([]models.FeedMessage, 0, len(raw))
	for _, m := range raw {
		if m.Reactions == nil {
			m.Reactions = map[string][]string{}
		}
		fm := models.FeedMessage{Message: m, SenderName: UnknownSender, SenderColor: UnknownColor}
		if u, ok := profiles[m.Sender]; ok {
			if u.Name != "" {
				fm.SenderName = u.Name
			}
			fm.SenderColor = SenderColor(m.Sender)
		}
		out = append(out, fm)
	}
	return out
}

func senders(raw []models.Message) []string {
	seen := make(map[string]struct{}, len(raw))
	ids := make([]string, 0, len(raw))
	for _, m := range raw {
		if _, ok := seen[m.Sender]; ok {
			continue
		}
		seen[m.Sender] = struct{}{}
		ids = append(ids, m.Sender)
	}
	return ids
}
