package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaBus writes changes to a single-partition topic. Each subscriber reads
// the partition from its tail without a consumer group, so every instance
// receives every change.
type KafkaBus struct {
	writer  *kafka.Writer
	brokers []string
	topic   string
	log     *zap.Logger
}

func NewKafkaBus(brokers []string, topic string, log *zap.Logger) *KafkaBus {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaBus{writer: w, brokers: brokers, topic: topic, log: log}
}

func (b *KafkaBus) Publish(ctx context.Context, c Change) error {
	payload, err := encode(c)
	if err != nil {
		return err
	}
	msg := kafka.Message{Key: []byte(c.Collection), Value: payload}

	var lastErr error
	for i := 0; i < 3; i++ {
		if lastErr = b.writer.WriteMessages(ctx, msg); lastErr == nil {
			return nil
		}
		b.log.Warn("kafka publish failed", zap.Int("attempt", i+1), zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 200 * time.Millisecond):
		}
	}
	return fmt.Errorf("kafka publish: %w", lastErr)
}

func (b *KafkaBus) Subscribe(ctx context.Context) (<-chan Change, error) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   b.brokers,
		Topic:     b.topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
		MaxWait:   250 * time.Millisecond,
	})
	if err := r.SetOffset(kafka.LastOffset); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("kafka set offset: %w", err)
	}

	out := make(chan Change, 256)
	go func() {
		defer close(out)
		defer r.Close()
		for {
			m, err := r.ReadMessage(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && ctx.Err() == nil {
					b.log.Error("kafka read error", zap.Error(err))
				}
				return
			}
			c, err := decode(m.Value)
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
	}()
	return out, nil
}

func (b *KafkaBus) Close() error {
	return b.writer.Close()
}
