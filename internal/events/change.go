package events

import (
	"context"
	"encoding/json"
	"time"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change announces that a document in a collection was written. Receivers
// reload whatever they derived from that collection; the payload itself is
// never applied incrementally.
type Change struct {
	Collection string    `json:"collection"`
	Op         Op        `json:"op"`
	ID         string    `json:"id,omitempty"`
	ChatID     string    `json:"chatId,omitempty"`
	At         time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// Bus fans changes out to every subscriber in every process.
type Bus interface {
	Publisher
	// Subscribe delivers changes until ctx is done or the underlying
	// connection fails. The returned channel is closed in both cases.
	Subscribe(ctx context.Context) (<-chan Change, error)
	Close() error
}

func encode(c Change) ([]byte, error) {
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}
	return json.Marshal(c)
}

func decode(b []byte) (Change, error) {
	var c Change
	err := json.Unmarshal(b, &c)
	return c, err
}
