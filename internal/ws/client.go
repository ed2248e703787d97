package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/session"
)

var (
	ErrSlowConsumer = errors.New("client send buffer full")
	ErrClientClosed = errors.New("client closed")
)

// Client is one websocket connection. It is the session's Sink: envelopes
// are queued on send and written by writePump.
type Client struct {
	conn    *websocket.Conn
	uid     string
	cfg     Config
	log     *zap.Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(conn *websocket.Conn, uid string, cfg Config, log *zap.Logger) *Client {
	return &Client{
		conn:    conn,
		uid:     uid,
		cfg:     cfg,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.InboundPerSecond), cfg.InboundPerSecond),
		send:    make(chan []byte, cfg.SendBuffer),
	}
}

// Send queues env for writing. A full buffer fails instead of blocking the
// session.
func (c *Client) Send(env session.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrSlowConsumer
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump(ctx context.Context, sess *session.Session) {
	pongWait := 2 * c.cfg.PingInterval
	c.conn.SetReadLimit(c.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("read failed", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var in session.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			_ = c.Send(session.Envelope{Type: session.TypeError, Error: "malformed message"})
			continue
		}
		if !c.limiter.Allow() {
			_ = c.Send(session.Envelope{Type: session.TypeError, Ref: in.Ref, Error: "rate limited"})
			continue
		}
		if err := sess.Push(ctx, in); err != nil {
			return
		}
	}
}

// writePump drains send and keeps the connection alive with pings. It
// returns once send is closed or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(time.Second))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				return
			}
		}
	}
}
