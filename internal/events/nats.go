package events

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type NATSBus struct {
	nc      *nats.Conn
	subject string
	log     *zap.Logger
}

func NewNATSBus(url, subject string, log *zap.Logger) (*NATSBus, error) {
	nc, err := nats.Connect(url,
		nats.Name("habibi-chat"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSBus{nc: nc, subject: subject, log: log}, nil
}

func (b *NATSBus) Publish(_ context.Context, c Change) error {
	payload, err := encode(c)
	if err != nil {
		return err
	}
	if err := b.nc.Publish(b.subject, payload); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context) (<-chan Change, error) {
	msgs := make(chan *nats.Msg, 256)
	sub, err := b.nc.ChanSubscribe(b.subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}

	out := make(chan Change, 256)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-msgs:
				c, err := decode(m.Data)
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

func (b *NATSBus) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return err
	}
	return nil
}
