package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus publishes changes on a Redis pub/sub channel so that every
// instance behind the load balancer sees them.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	log     *zap.Logger
}

func NewRedisBus(rdb *redis.Client, channel string, log *zap.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, channel: channel, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, c Change) error {
	payload, err := encode(c)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Change, error) {
	ps := b.rdb.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan Change, 256)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				c, err := decode([]byte(m.Payload))
				if err != nil {
					b.log.Warn("invalid change payload", zap.Error(err))
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the redis client is owned by the caller.
func (b *RedisBus) Close() error { return nil }
