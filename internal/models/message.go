package models

import "time"

// Message is a chat message as persisted. Public and private messages share the
// shape; Participants and ChatID are only set on private ones.
type Message struct {
	ID           string              `json:"id" bson:"_id"`
	Text         string              `json:"text" bson:"text"`
	Sender       string              `json:"sender" bson:"sender"`
	Timestamp    time.Time           `json:"timestamp" bson:"timestamp"`
	Seq          int64               `json:"seq" bson:"seq"`
	Reactions    map[string][]string `json:"reactions" bson:"reactions"`
	IsEdited     bool                `json:"isEdited" bson:"is_edited"`
	IsRead       bool                `json:"isRead" bson:"is_read"`
	IsPinned     bool                `json:"isPinned" bson:"is_pinned"`
	ReplyTo      string              `json:"replyTo,omitempty" bson:"reply_to,omitempty"`
	ReplyText    string              `json:"replyText,omitempty" bson:"reply_text,omitempty"`
	ReplySender  string              `json:"replySender,omitempty" bson:"reply_sender,omitempty"`
	Image        string              `json:"image,omitempty" bson:"image,omitempty"`
	Participants []string            `json:"participants,omitempty" bson:"participants,omitempty"`
	ChatID       string              `json:"chatId,omitempty" bson:"chat_id,omitempty"`
}

// Position returns the message's place in store order.
func (m Message) Position() Position {
	return Position{Timestamp: m.Timestamp, Seq: m.Seq}
}

// HasReaction reports whether user is in the reaction set for emoji.
func (m Message) HasReaction(emoji, user string) bool {
	for _, u := range m.Reactions[emoji] {
		if u == user {
			return true
		}
	}
	return false
}

// FeedMessage is a message joined with its sender's profile, ready to render.
type FeedMessage struct {
	Message
	SenderName  string `json:"senderName"`
	SenderColor string `json:"senderColor"`
}

// Position orders messages by timestamp, then by store sequence for equal timestamps.
type Position struct {
	Timestamp time.Time `json:"timestamp"`
	Seq       int64     `json:"seq"`
}

// After reports whether p sorts strictly after o.
func (p Position) After(o Position) bool {
	if !p.Timestamp.Equal(o.Timestamp) {
		return p.Timestamp.After(o.Timestamp)
	}
	return p.Seq > o.Seq
}

func (p Position) IsZero() bool {
	return p.Timestamp.IsZero() && p.Seq == 0
}
