package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/apperr"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	typingKey = "typing_status"
	// typing records older than this are dropped on read
	typingTTL = 30 * time.Second
)

type Client struct {
	rdb *redis.Client
	log *zap.Logger
}

// NewRedis connects and pings Redis.
func NewRedis(ctx context.Context, addr, password string, db int, log *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info("redis connected", zap.String("addr", addr))
	return &Client{rdb: rdb, log: log}, nil
}

// Wrap adapts an existing client.
func Wrap(rdb *redis.Client, log *zap.Logger) *Client {
	return &Client{rdb: rdb, log: log}
}

func (c *Client) Redis() *redis.Client { return c.rdb }

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// -----------------------------
// Connections per user
// -----------------------------
func connKey(userID string) string { return "ws:conn:" + userID }

// IncrConnections records one more live session for userID and returns the count.
func (c *Client) IncrConnections(ctx context.Context, userID string) (int64, error) {
	n, err := c.rdb.Incr(ctx, connKey(userID)).Result()
	if err != nil {
		return 0, apperr.Transient("redis.IncrConnections", err)
	}
	// a crashed instance must not pin a user online forever
	c.rdb.Expire(ctx, connKey(userID), 24*time.Hour)
	return n, nil
}

const luaDecrFloor = `
local n = redis.call("decr", KEYS[1])
if n <= 0 then
  redis.call("del", KEYS[1])
  return 0
end
return n
`

func (c *Client) DecrConnections(ctx context.Context, userID string) (int64, error) {
	n, err := c.rdb.Eval(ctx, luaDecrFloor, []string{connKey(userID)}).Int64()
	if err != nil {
		return 0, apperr.Transient("redis.DecrConnections", err)
	}
	return n, nil
}

// -----------------------------
// Typing records
// -----------------------------
func (c *Client) SetTyping(ctx context.Context, t models.Typing) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := c.rdb.HSet(ctx, typingKey, t.UserID, b).Err(); err != nil {
		return apperr.Transient("redis.SetTyping", err)
	}
	return nil
}

func (c *Client) ListTyping(ctx context.Context) ([]models.Typing, error) {
	raw, err := c.rdb.HGetAll(ctx, typingKey).Result()
	if err != nil {
		return nil, apperr.Transient("redis.ListTyping", err)
	}
	cutoff := time.Now().Add(-typingTTL)
	out := make([]models.Typing, 0, len(raw))
	var stale []string
	for uid, v := range raw {
		var t models.Typing
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			c.log.Warn("invalid typing record", zap.String("user_id", uid), zap.Error(err))
			continue
		}
		if t.Timestamp.Before(cutoff) {
			stale = append(stale, uid)
			continue
		}
		out = append(out, t)
	}
	if len(stale) > 0 {
		c.rdb.HDel(ctx, typingKey, stale...)
	}
	return out, nil
}

// -----------------------------
// Rate limiting
// -----------------------------
const luaRateLimit = `
local current = redis.call("incr", KEYS[1])
if current == 1 then
  redis.call("expire", KEYS[1], ARGV[1])
end
return current
`

// Allow counts one hit against key and reports whether it is within limit for the window.
func (c *Client) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	secs := int(window.Seconds())
	if secs < 1 {
		secs = 1
	}
	count, err := c.rdb.Eval(ctx, luaRateLimit, []string{"rate:" + key}, secs).Int()
	if err != nil {
		return false, err
	}
	return count <= limit, nil
}

// -----------------------------
// Token denylist and password reset tokens
// -----------------------------
func (c *Client) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.rdb.Set(ctx, "revoked:"+tokenID, 1, ttl).Err()
}

func (c *Client) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, "revoked:"+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Client) PutResetToken(ctx context.Context, token, userID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, "pwreset:"+token, userID, ttl).Err()
}

// TakeResetToken returns the user the token was issued to and invalidates it.
func (c *Client) TakeResetToken(ctx context.Context, token string) (string, error) {
	uid, err := c.rdb.GetDel(ctx, "pwreset:"+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", apperr.NotFound("redis.TakeResetToken", "reset token not found or expired")
	}
	if err != nil {
		return "", apperr.Transient("redis.TakeResetToken", err)
	}
	return uid, nil
}

// Close Redis client
func (c *Client) Close() error {
	return c.rdb.Close()
}
