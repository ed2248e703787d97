package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalBusFanOut(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	change := Change{Collection: "messages", Op: OpInsert, ID: "m1"}
	require.NoError(t, bus.Publish(context.Background(), change))

	for _, ch := range []<-chan Change{a, b} {
		select {
		case got := <-ch:
			assert.Equal(t, change, got)
		case <-time.After(time.Second):
			t.Fatal("change not delivered")
		}
	}
}

func TestLocalBusUnsubscribeOnCancel(t *testing.T) {
	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), Change{Collection: "users"}))
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(context.Background(), Change{}), ErrClosed)
}

func TestEncodeStampsTime(t *testing.T) {
	b, err := encode(Change{Collection: "users", Op: OpUpdate, ID: "u1"})
	require.NoError(t, err)
	c, err := decode(b)
	require.NoError(t, err)
	assert.Equal(t, "u1", c.ID)
	assert.False(t, c.At.IsZero())
}

// flakyBus fails its first subscribe and drops its first stream.
type flakyBus struct {
	mu    sync.Mutex
	calls int
	live  chan Change
}

func (f *flakyBus) Publish(context.Context, Change) error { return nil }
func (f *flakyBus) Close() error                          { return nil }

func (f *flakyBus) Subscribe(ctx context.Context) (<-chan Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	switch f.calls {
	case 1:
		return nil, errors.New("connection refused")
	case 2:
		ch := make(chan Change, 1)
		ch <- Change{Collection: "messages", ID: "first"}
		close(ch)
		return ch, nil
	default:
		return f.live, nil
	}
}

func TestListenReconnectsAndResyncs(t *testing.T) {
	orig := newBackOff
	newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	defer func() { newBackOff = orig }()

	bus := &flakyBus{live: make(chan Change, 1)}
	bus.live <- Change{Collection: "messages", ID: "second"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		seen    []string
		resyncs int32
	)
	done := make(chan struct{})
	go func() {
		Listen(ctx, bus, zap.NewNop(), func(c Change) {
			mu.Lock()
			seen = append(seen, c.ID)
			mu.Unlock()
		}, func() { atomic.AddInt32(&resyncs, 1) })
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"first", "second"}, seen)
	assert.Equal(t, int32(1), atomic.LoadInt32(&resyncs))

	cancel()
	close(bus.live)
	<-done
}
