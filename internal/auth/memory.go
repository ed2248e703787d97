package auth

import (
	"context"
	"sync"
	"time"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/apperr"
)

type expiring struct {
	value string
	until time.Time
}

// MemoryState is a process-local TokenState.
type MemoryState struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	resets  map[string]expiring
}

func NewMemoryState() *MemoryState {
	return &MemoryState{
		revoked: make(map[string]time.Time),
		resets:  make(map[string]expiring),
	}
}

func (m *MemoryState) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[tokenID] = time.Now().Add(ttl)
	return nil
}

func (m *MemoryState) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.revoked[tokenID]
	if ok && time.Now().After(until) {
		delete(m.revoked, tokenID)
		return false, nil
	}
	return ok, nil
}

func (m *MemoryState) PutResetToken(_ context.Context, token, userID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[token] = expiring{value: userID, until: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryState) TakeResetToken(_ context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.resets[token]
	delete(m.resets, token)
	if !ok || time.Now().After(e.until) {
		return "", apperr.NotFound("auth.TakeResetToken", "reset token not found or expired")
	}
	return e.value, nil
}
