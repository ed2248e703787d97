package events

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("bus closed")

type localSub struct {
	ch   chan Change
	done <-chan struct{}
}

// LocalBus is an in-process bus used by single-instance deployments and tests.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[int]*localSub
	next   int
	closed bool
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[int]*localSub)}
}

func (b *LocalBus) Publish(ctx context.Context, c Change) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, s := range b.subs {
		select {
		case s.ch <- c:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context) (<-chan Change, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	id := b.next
	b.next++
	s := &localSub{ch: make(chan Change, 256), done: ctx.Done()}
	b.subs[id] = s

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
		b.mu.Unlock()
	}()
	return s.ch, nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.ch)
	}
	return nil
}
