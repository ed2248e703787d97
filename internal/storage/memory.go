package storage

import (
	"context"
	"sync"
)

type blob struct {
	contentType string
	data        []byte
}

// MemoryStore keeps blobs in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]blob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]blob)}
}

func (s *MemoryStore) Put(_ context.Context, key, contentType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = blob{contentType: contentType, data: append([]byte(nil), data...)}
	return nil
}

// URL is empty: memory blobs are served through Open.
func (s *MemoryStore) URL(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.blobs[key]; !ok {
		return "", ErrFileNotFound
	}
	return "", nil
}

func (s *MemoryStore) Open(_ context.Context, key string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[key]
	if !ok {
		return nil, "", ErrFileNotFound
	}
	return b.data, b.contentType, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}
