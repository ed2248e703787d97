package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/apperr"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// These tests need a disposable Redis: CHAT_TEST_REDIS_ADDR=localhost:6379.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("CHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHAT_TEST_REDIS_ADDR not set")
	}
	c, err := NewRedis(context.Background(), addr, "", 15, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Redis().FlushDB(context.Background())
		_ = c.Close()
	})
	return c
}

func TestConnectionsFloorAtZero(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	user := uuid.NewString()

	n, err := c.IncrConnections(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, _ = c.IncrConnections(ctx, user)
	assert.Equal(t, int64(2), n)

	n, _ = c.DecrConnections(ctx, user)
	assert.Equal(t, int64(1), n)
	n, _ = c.DecrConnections(ctx, user)
	assert.Equal(t, int64(0), n)
	n, _ = c.DecrConnections(ctx, user)
	assert.Equal(t, int64(0), n)
}

func TestTypingRecordsDropStale(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SetTyping(ctx, models.Typing{UserID: "fresh", IsTyping: true, ChatID: "a_b", Timestamp: time.Now()}))
	require.NoError(t, c.SetTyping(ctx, models.Typing{UserID: "old", IsTyping: true, ChatID: "a_b", Timestamp: time.Now().Add(-time.Hour)}))

	recs, err := c.ListTyping(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "fresh", recs[0].UserID)
}

func TestAllow(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := uuid.NewString()
	for i := 0; i < 3; i++ {
		ok, err := c.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := c.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResetTokenIsSingleUse(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.PutResetToken(ctx, "tok", "u1", time.Minute))

	uid, err := c.TakeResetToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)

	_, err = c.TakeResetToken(ctx, "tok")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestRevoke(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Revoke(ctx, "jti-1", time.Minute))
	revoked, err := c.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)
	revoked, _ = c.IsRevoked(ctx, "jti-2")
	assert.False(t, revoked)
}
