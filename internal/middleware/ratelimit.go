package middleware

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter decides whether key may make another request in the window.
// cache.Client implements it on Redis so limits hold across instances.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimit allows perMinute requests per authenticated user, or per client
// IP before authentication. Limiter failures let the request through.
func RateLimit(l Limiter, perMinute int, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := "rl:ip:" + clientIP(c)
		if uid := UserID(c); uid != "" {
			key = "rl:user:" + uid
		}
		ok, err := l.Allow(c.UserContext(), key, perMinute, time.Minute)
		if err != nil {
			log.Warn("rate limiter unavailable", zap.Error(err))
			return c.Next()
		}
		if !ok {
			log.Warn("rate limit exceeded", zap.String("key", key), zap.String("path", c.Path()))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"status": "error", "message": "rate limit exceeded"})
		}
		return c.Next()
	}
}

func clientIP(c *fiber.Ctx) string {
	ip := c.IP()
	if ip == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}

// LocalLimiter is a per-process token bucket Limiter.
type LocalLimiter struct {
	visitors sync.Map
}

type visitor struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{}
}

func (l *LocalLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	every := rate.Every(window / time.Duration(limit))
	v, _ := l.visitors.LoadOrStore(key, &visitor{limiter: rate.NewLimiter(every, limit)})
	vi := v.(*visitor)
	vi.mu.Lock()
	vi.lastSeen = time.Now()
	vi.mu.Unlock()
	return vi.limiter.Allow(), nil
}

// Sweep forgets keys idle for longer than idle. Run it periodically.
func (l *LocalLimiter) Sweep(idle time.Duration) {
	cutoff := time.Now().Add(-idle)
	l.visitors.Range(func(k, v interface{}) bool {
		vi := v.(*visitor)
		vi.mu.Lock()
		stale := vi.lastSeen.Before(cutoff)
		vi.mu.Unlock()
		if stale {
			l.visitors.Delete(k)
		}
		return true
	})
}
