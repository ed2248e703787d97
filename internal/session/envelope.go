package session

import (
	"github.com/ThenChiefGuy/Habibi-Connection/internal/models"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/presence"
)

// Envelope types sent to the client.
const (
	TypeFeed     = "feed"
	TypePinned   = "pinned"
	TypeUnread   = "unread"
	TypePresence = "presence"
	TypeTyping   = "typing"
	TypeAck      = "ack"
	TypeError    = "error"
)

// Actions accepted from the client.
const (
	ActFocus     = "focus"
	ActSend      = "send"
	ActEdit      = "edit"
	ActDelete    = "delete"
	ActReact     = "react"
	ActPin       = "pin"
	ActRead      = "read"
	ActKeystroke = "typing"
	ActStatus    = "status"
)

// Envelope is one server to client frame. Ref echoes the client's request
// reference on ack and error frames.
type Envelope struct {
	Type  string      `json:"type"`
	Ref   string      `json:"ref,omitempty"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Inbound is one client action. Peer selects the conversation: a user id,
// "public", or empty for the focused conversation (focus treats empty as public).
type Inbound struct {
	Type    string `json:"type"`
	Ref     string `json:"ref,omitempty"`
	Peer    string `json:"peer,omitempty"`
	ID      string `json:"id,omitempty"`
	Text    string `json:"text,omitempty"`
	Image   string `json:"image,omitempty"`
	ReplyTo string `json:"replyTo,omitempty"`
	Emoji   string `json:"emoji,omitempty"`
	Status  string `json:"status,omitempty"`
}

type FeedData struct {
	Conversation string               `json:"conversation"`
	Messages     []models.FeedMessage `json:"messages"`
}

type UnreadData struct {
	Counts map[string]int `json:"counts"`
}

type TypingData struct {
	Conversation string `json:"conversation"`
	UserID       string `json:"userId,omitempty"`
	Name         string `json:"name,omitempty"`
	Typing       bool   `json:"typing"`
}

type PresenceData = presence.View
