// Package live runs one reloading stream per distinct query and shares it
// between every subscriber asking for the same query.
package live

import (
	"context"
	"sync"
	"time"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/events"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/metrics"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Source is a live query: how to load it in full and which changes make it stale.
type Source[T any] interface {
	Key() string
	Load(ctx context.Context) (T, error)
	Affected(c events.Change) bool
}

// Snapshot is the complete current result of a query. Each one replaces the previous.
type Snapshot[T any] struct {
	Key   string
	Value T
	At    time.Time
}

type Manager[T any] struct {
	mu      sync.Mutex
	streams map[string]*stream[T]
	timeout time.Duration
	log     *zap.Logger
	closed  bool
}

func NewManager[T any](log *zap.Logger, loadTimeout time.Duration) *Manager[T] {
	if loadTimeout <= 0 {
		loadTimeout = 10 * time.Second
	}
	return &Manager[T]{
		streams: make(map[string]*stream[T]),
		timeout: loadTimeout,
		log:     log,
	}
}

type stream[T any] struct {
	key  string
	src  Source[T]
	kick chan struct{}
	stop chan struct{}
	subs map[*Subscription[T]]struct{}
	last *Snapshot[T]
}

func (st *stream[T]) poke() {
	select {
	case st.kick <- struct{}{}:
	default:
	}
}

// Subscription receives snapshots of one stream. A slow reader only ever
// sees the newest snapshot.
type Subscription[T any] struct {
	ch   chan Snapshot[T]
	m    *Manager[T]
	st   *stream[T]
	once sync.Once
}

func (s *Subscription[T]) Updates() <-chan Snapshot[T] { return s.ch }

func (s *Subscription[T]) Key() string {
	if s.st == nil {
		return ""
	}
	return s.st.key
}

// Close detaches the subscriber. The stream stops with its last subscriber.
// Snapshots already buffered for s are never read by anyone after Close.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		if s.st == nil {
			return
		}
		s.m.mu.Lock()
		defer s.m.mu.Unlock()
		delete(s.st.subs, s)
		if len(s.st.subs) == 0 && s.m.streams[s.st.key] == s.st {
			delete(s.m.streams, s.st.key)
			close(s.st.stop)
			metrics.LiveStreams.Dec()
		}
	})
}

func offer[T any](ch chan Snapshot[T], snap Snapshot[T]) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe attaches to the stream for src.Key(), starting it if needed. A
// running stream hands its latest snapshot to the new subscriber at once.
func (m *Manager[T]) Subscribe(src Source[T]) *Subscription[T] {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := &Subscription[T]{ch: make(chan Snapshot[T], 1), m: m}
	if m.closed {
		return sub
	}

	st, ok := m.streams[src.Key()]
	if !ok {
		st = &stream[T]{
			key:  src.Key(),
			src:  src,
			kick: make(chan struct{}, 1),
			stop: make(chan struct{}),
			subs: make(map[*Subscription[T]]struct{}),
		}
		m.streams[st.key] = st
		metrics.LiveStreams.Inc()
		go m.run(st)
		st.poke()
	}
	sub.st = st
	st.subs[sub] = struct{}{}
	if st.last != nil {
		offer(sub.ch, *st.last)
	}
	return sub
}

func (m *Manager[T]) run(st *stream[T]) {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 200 * time.Millisecond
	retry.MaxInterval = 10 * time.Second
	retry.MaxElapsedTime = 0

	for {
		select {
		case <-st.stop:
			return
		case <-st.kick:
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		v, err := st.src.Load(ctx)
		cancel()

		select {
		case <-st.stop:
			return
		default:
		}

		if err != nil {
			wait := retry.NextBackOff()
			m.log.Warn("live query load failed", zap.String("key", st.key), zap.Duration("retry_in", wait), zap.Error(err))
			time.AfterFunc(wait, st.poke)
			continue
		}
		retry.Reset()

		snap := Snapshot[T]{Key: st.key, Value: v, At: time.Now()}
		metrics.Snapshots.Inc()
		m.mu.Lock()
		st.last = &snap
		for sub := range st.subs {
			offer(sub.ch, snap)
		}
		m.mu.Unlock()
	}
}

// Notify reloads every stream the change affects.
func (m *Manager[T]) Notify(c events.Change) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.streams {
		if st.src.Affected(c) {
			st.poke()
		}
	}
}

// ReloadAll reloads every stream, e.g. after changes may have been missed.
func (m *Manager[T]) ReloadAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.streams {
		st.poke()
	}
}

// Streams returns the number of running streams.
func (m *Manager[T]) Streams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// Close stops every stream. Later subscriptions never receive anything.
func (m *Manager[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for key, st := range m.streams {
		close(st.stop)
		delete(m.streams, key)
		metrics.LiveStreams.Dec()
	}
}
