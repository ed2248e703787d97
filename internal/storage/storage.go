package storage

import (
	"context"
	"errors"
)

var (
	ErrInvalidFile    = errors.New("invalid file")
	ErrFileNotFound   = errors.New("file not found")
	ErrStorageFailure = errors.New("storage backend failure")
)

// Store keeps blobs by key.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	// URL returns a location the client can fetch key from.
	URL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Opener is implemented by stores that serve blobs themselves.
type Opener interface {
	Open(ctx context.Context, key string) ([]byte, string, error)
}
