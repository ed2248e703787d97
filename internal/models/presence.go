package models

import "time"

// Presence is the singleton online record of a user.
type Presence struct {
	UserID   string    `json:"userId" bson:"_id"`
	IsOnline bool      `json:"isOnline" bson:"is_online"`
	LastSeen time.Time `json:"lastSeen" bson:"last_seen"`
}

// Status is the free-text status line of a user.
type Status struct {
	UserID      string    `json:"userId" bson:"_id"`
	Status      string    `json:"status" bson:"status"`
	LastUpdated time.Time `json:"lastUpdated" bson:"last_updated"`
}

// Typing is the ephemeral typing record of a user.
type Typing struct {
	UserID    string    `json:"userId"`
	IsTyping  bool      `json:"isTyping"`
	Timestamp time.Time `json:"timestamp"`
	ChatID    string    `json:"chatId"`
}

// Page is one page of a cursor-paginated listing.
type Page[T any] struct {
	Items []T    `json:"items"`
	Next  string `json:"next,omitempty"`
}
