// Package session runs the chat state of one connected client. All of a
// session's state is owned by the goroutine in Run; snapshots and client
// actions are handled one at a time in arrival order.
package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/apperr"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/conversation"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/events"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/feed"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/live"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/models"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/presence"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/repository"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/service"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/typing"
)

const (
	actionTimeout = 10 * time.Second
	inboxSize     = 64
	unknownTyper  = "Someone"
)

var ErrClosed = errors.New("session closed")

// Sink delivers envelopes to the client. Send must not block for long; an
// error ends the session.
type Sink interface {
	Send(env Envelope) error
}

type Feeds = live.Manager[[]models.FeedMessage]

// Deps are the process-wide collaborators shared by all sessions.
type Deps struct {
	Feeds       *Feeds
	Presence    *live.Manager[presence.View]
	Typing      *live.Manager[[]models.Typing]
	Messages    *service.MessageService
	Store       repository.Store
	TypingStore repository.TypingStore
	Tracker     *presence.Tracker
	Bus         events.Publisher
	TypingIdle  time.Duration
	Log         *zap.Logger
}

type Session struct {
	self string
	deps Deps
	sink Sink
	log  *zap.Logger

	in   chan Inbound
	done chan struct{}

	target  conversation.Target
	unread  *feed.Tracker
	typist  *typing.Machine
	records []models.Typing
	shown   TypingData

	focused  *live.Subscription[[]models.FeedMessage]
	pinned   *live.Subscription[[]models.FeedMessage]
	inbox    *live.Subscription[[]models.FeedMessage]
	public   *live.Subscription[[]models.FeedMessage]
	presence *live.Subscription[presence.View]
	typing   *live.Subscription[[]models.Typing]
}

func New(self string, deps Deps, sink Sink) *Session {
	return &Session{
		self:   self,
		deps:   deps,
		sink:   sink,
		log:    deps.Log.With(zap.String("user_id", self)),
		in:     make(chan Inbound, inboxSize),
		done:   make(chan struct{}),
		unread: feed.NewTracker(self),
		typist: typing.NewMachine(self, deps.TypingStore, deps.Bus, deps.TypingIdle, deps.Log.Named("typing")),
	}
}

// Push queues a client action. It blocks while the queue is full.
func (s *Session) Push(ctx context.Context, in Inbound) error {
	select {
	case s.in <- in:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) source(q repository.MessageQuery) *feed.Source {
	return feed.NewSource(s.deps.Store, s.deps.Store, q)
}

// Run starts the session and serves it until ctx is done or the sink fails.
// Presence is marked offline and all subscriptions are released on return.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.teardown()

	startCtx, cancel := context.WithTimeout(ctx, actionTimeout)
	err := s.deps.Tracker.Start(startCtx, s.self)
	cancel()
	if err != nil {
		s.log.Warn("presence start failed", zap.Error(err))
	}

	s.presence = s.deps.Presence.Subscribe(presence.NewViewSource(s.deps.Store))
	s.typing = s.deps.Typing.Subscribe(typing.NewSource(s.deps.TypingStore))
	s.inbox = s.deps.Feeds.Subscribe(s.source(feed.Inbox(s.self)))
	s.public = s.deps.Feeds.Subscribe(s.source(feed.Focused(s.self, conversation.Public())))
	if err := s.focus(ctx, conversation.Public()); err != nil {
		return err
	}

	for {
		var err error
		select {
		case <-ctx.Done():
			return nil
		case in := <-s.in:
			err = s.handle(ctx, in)
		case snap := <-s.focused.Updates():
			err = s.onFocused(ctx, snap)
		case snap := <-s.pinned.Updates():
			if snap.Key == s.pinned.Key() {
				err = s.emit(Envelope{Type: TypePinned, Data: FeedData{Conversation: s.target.Key(), Messages: snap.Value}})
			}
		case snap := <-s.inbox.Updates():
			if s.unread.ObserveInbox(snap.Value) {
				err = s.emitUnread()
			}
		case snap := <-s.public.Updates():
			if s.unread.ObservePublic(snap.Value) {
				err = s.emitUnread()
			}
		case snap := <-s.presence.Updates():
			err = s.emit(Envelope{Type: TypePresence, Data: PresenceData(snap.Value)})
		case snap := <-s.typing.Updates():
			s.records = snap.Value
			err = s.emitTyping(ctx)
		}
		if err != nil {
			return err
		}
	}
}

func (s *Session) teardown() {
	s.typist.Stop()
	for _, sub := range []*live.Subscription[[]models.FeedMessage]{s.focused, s.pinned, s.inbox, s.public} {
		if sub != nil {
			sub.Close()
		}
	}
	if s.presence != nil {
		s.presence.Close()
	}
	if s.typing != nil {
		s.typing.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	s.deps.Tracker.End(ctx, s.self)
}

func (s *Session) emit(env Envelope) error {
	return s.sink.Send(env)
}

func (s *Session) emitUnread() error {
	return s.emit(Envelope{Type: TypeUnread, Data: UnreadData{Counts: s.unread.Counts()}})
}

// focus switches the conversation on screen. The old feed subscriptions are
// closed before the new ones open, so nothing from the old target can be
// read afterwards.
func (s *Session) focus(ctx context.Context, t conversation.Target) error {
	s.typist.Stop()
	if s.focused != nil {
		s.focused.Close()
		s.pinned.Close()
	}

	s.target = t
	s.unread.Focus(t.Key())
	s.focused = s.deps.Feeds.Subscribe(s.source(feed.Focused(s.self, t)))
	s.pinned = s.deps.Feeds.Subscribe(s.source(feed.Pinned(s.self, t)))

	if !t.IsPublic() {
		s.markRead(ctx)
	}
	if err := s.emitUnread(); err != nil {
		return err
	}
	return s.emitTyping(ctx)
}

func (s *Session) markRead(ctx context.Context) {
	actx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	if _, err := s.deps.Messages.MarkRead(actx, s.self, s.target); err != nil {
		s.log.Warn("mark read failed", zap.String("peer", s.target.Peer()), zap.Error(err))
	}
}

func (s *Session) onFocused(ctx context.Context, snap live.Snapshot[[]models.FeedMessage]) error {
	if snap.Key != s.focused.Key() {
		return nil
	}
	msgs := snap.Value
	if len(msgs) > 0 {
		s.unread.Read(s.target.Key(), msgs[len(msgs)-1].Position())
	}
	if !s.target.IsPublic() {
		for _, m := range msgs {
			if m.Sender == s.target.Peer() && !m.IsRead {
				s.markRead(ctx)
				break
			}
		}
	}
	return s.emit(Envelope{Type: TypeFeed, Data: FeedData{Conversation: s.target.Key(), Messages: msgs}})
}

// emitTyping reports who is typing in the focused conversation, if that
// changed since the last report.
func (s *Session) emitTyping(ctx context.Context) error {
	next := TypingData{Conversation: s.target.Key()}
	if uid, ok := typing.Observe(s.records, s.self, s.target.ChatID(s.self)); ok {
		next.UserID = uid
		next.Typing = true
		next.Name = unknownTyper
		lctx, cancel := context.WithTimeout(ctx, actionTimeout)
		if u, err := s.deps.Store.GetUser(lctx, uid); err == nil && u.Name != "" {
			next.Name = u.Name
		}
		cancel()
	}
	if next == s.shown {
		return nil
	}
	s.shown = next
	return s.emit(Envelope{Type: TypeTyping, Data: next})
}

// targetOf resolves the conversation an action is aimed at.
func (s *Session) targetOf(in Inbound) conversation.Target {
	if in.Peer == "" {
		return s.target
	}
	return conversation.Parse(in.Peer)
}

// handle runs one client action. Action failures are reported to the client
// and do not end the session.
func (s *Session) handle(ctx context.Context, in Inbound) error {
	if in.Type == ActFocus {
		t := conversation.Parse(in.Peer)
		if !t.Valid() {
			return s.emit(Envelope{Type: TypeError, Ref: in.Ref, Error: "invalid conversation peer"})
		}
		return s.focus(ctx, t)
	}

	actx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	t := s.targetOf(in)
	var (
		data interface{}
		err  error
	)
	switch in.Type {
	case ActSend:
		s.typist.Stop()
		data, err = s.deps.Messages.Send(actx, s.self, t, service.SendRequest{Text: in.Text, Image: in.Image, ReplyTo: in.ReplyTo})
	case ActEdit:
		data, err = s.deps.Messages.Edit(actx, s.self, t, in.ID, in.Text)
	case ActDelete:
		err = s.deps.Messages.Delete(actx, s.self, t, in.ID)
	case ActReact:
		data, err = s.deps.Messages.React(actx, s.self, t, in.ID, in.Emoji)
	case ActPin:
		data, err = s.deps.Messages.TogglePin(actx, s.self, t, in.ID)
	case ActRead:
		data, err = s.deps.Messages.MarkRead(actx, s.self, t)
	case ActKeystroke:
		s.typist.Keystroke(s.target.ChatID(s.self))
		return nil
	case ActStatus:
		err = s.deps.Tracker.SetStatus(actx, s.self, in.Status)
	default:
		err = apperr.Invalid("session.handle", "unknown action "+in.Type)
	}

	if err != nil {
		s.log.Debug("action failed", zap.String("action", in.Type), zap.Error(err))
		return s.emit(Envelope{Type: TypeError, Ref: in.Ref, Error: apperr.Message(err)})
	}
	return s.emit(Envelope{Type: TypeAck, Ref: in.Ref, Data: data})
}
