package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/auth"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/metrics"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/session"
)

type Config struct {
	PingInterval     time.Duration
	WriteWait        time.Duration
	MaxMessageBytes  int64
	InboundPerSecond int
	SendBuffer       int
}

func (c *Config) defaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 * 1024
	}
	if c.InboundPerSecond <= 0 {
		c.InboundPerSecond = 20
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
}

// Hub owns every live connection of this process.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	deps    session.Deps
	cfg     Config
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewHub(deps session.Deps, cfg Config, log *zap.Logger) *Hub {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients: make(map[*Client]struct{}),
		deps:    deps,
		cfg:     cfg,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Authenticator resolves the access token of a connecting client.
type Authenticator interface {
	CurrentUser(ctx context.Context, token string) (*auth.Identity, error)
}

// Upgrade rejects non-websocket requests and unauthenticated clients before
// the protocol switch. The token comes from the "token" query parameter.
func Upgrade(authn Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"status": "error", "message": "websocket upgrade required"})
		}
		id, err := authn.CurrentUser(c.UserContext(), c.Query("token"))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"status": "error", "message": "unauthorized"})
		}
		c.Locals("user_id", id.ID)
		return c.Next()
	}
}

func (h *Hub) Handler() fiber.Handler {
	return websocket.New(h.Serve)
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx.Err() != nil {
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	metrics.Connections.Inc()
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		metrics.Connections.Dec()
		h.wg.Done()
	}
}

// Serve runs a chat session on conn until either side goes away.
func (h *Hub) Serve(conn *websocket.Conn) {
	uid, _ := conn.Locals("user_id").(string)
	if uid == "" {
		_ = conn.Close()
		return
	}
	log := h.log.With(zap.String("user_id", uid))
	c := newClient(conn, uid, h.cfg, log)
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	defer h.unregister(c)

	ctx, cancel := context.WithCancel(h.ctx)
	sess := session.New(uid, h.deps, c)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sess.Run(ctx); err != nil {
			log.Info("session ended", zap.Error(err))
		}
		// unblocks readPump
		_ = conn.Close()
	}()
	written := make(chan struct{})
	go func() {
		defer close(written)
		c.writePump()
	}()

	log.Debug("client connected")
	c.readPump(ctx, sess)
	cancel()
	<-done
	c.close()
	<-written
	log.Debug("client disconnected")
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown ends every session and waits for them to finish or ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.cancel()
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
