package presence

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/apperr"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/events"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/models"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/repository"
	"go.uber.org/zap"
)

const DefaultStatus = "Available"

// Connections counts live sessions per user across instances.
type Connections interface {
	IncrConnections(ctx context.Context, userID string) (int64, error)
	DecrConnections(ctx context.Context, userID string) (int64, error)
}

// LocalConnections counts sessions of a single instance.
type LocalConnections struct {
	mu sync.Mutex
	n  map[string]int64
}

func NewLocalConnections() *LocalConnections {
	return &LocalConnections{n: make(map[string]int64)}
}

func (c *LocalConnections) IncrConnections(_ context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n[userID]++
	return c.n[userID], nil
}

func (c *LocalConnections) DecrConnections(_ context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n[userID] <= 1 {
		delete(c.n, userID)
		return 0, nil
	}
	c.n[userID]--
	return c.n[userID], nil
}

type Tracker struct {
	store     repository.PresenceStore
	conns     Connections
	bus       events.Publisher
	log       *zap.Logger
	maxStatus int
	now       func() time.Time
}

func NewTracker(store repository.PresenceStore, conns Connections, bus events.Publisher, log *zap.Logger, maxStatus int) *Tracker {
	if maxStatus <= 0 {
		maxStatus = 80
	}
	return &Tracker{
		store:     store,
		conns:     conns,
		bus:       bus,
		log:       log,
		maxStatus: maxStatus,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

func (t *Tracker) publish(ctx context.Context, coll, userID string) {
	if err := t.bus.Publish(ctx, events.Change{Collection: coll, Op: events.OpUpdate, ID: userID}); err != nil {
		t.log.Warn("publish presence change failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// Start marks userID online with the default status.
func (t *Tracker) Start(ctx context.Context, userID string) error {
	if _, err := t.conns.IncrConnections(ctx, userID); err != nil {
		t.log.Warn("connection count failed", zap.String("user_id", userID), zap.Error(err))
	}
	now := t.now()
	if err := t.store.SetPresence(ctx, models.Presence{UserID: userID, IsOnline: true, LastSeen: now}); err != nil {
		return err
	}
	t.publish(ctx, models.PresenceCollection, userID)
	if err := t.store.SetStatus(ctx, models.Status{UserID: userID, Status: DefaultStatus, LastUpdated: now}); err != nil {
		return err
	}
	t.publish(ctx, models.StatusCollection, userID)
	return nil
}

// End marks userID offline once its last session ends. Failures are only
// logged; the session is going away regardless.
func (t *Tracker) End(ctx context.Context, userID string) {
	n, err := t.conns.DecrConnections(ctx, userID)
	if err != nil {
		t.log.Warn("connection count failed", zap.String("user_id", userID), zap.Error(err))
	} else if n > 0 {
		return
	}
	p := models.Presence{UserID: userID, IsOnline: false, LastSeen: t.now()}
	if err := t.store.SetPresence(ctx, p); err != nil {
		t.log.Warn("mark offline failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	t.publish(ctx, models.PresenceCollection, userID)
}

func (t *Tracker) SetStatus(ctx context.Context, userID, status string) error {
	status = strings.TrimSpace(status)
	if utf8.RuneCountInString(status) > t.maxStatus {
		return apperr.Invalid("presence.SetStatus", "status is too long")
	}
	if err := t.store.SetStatus(ctx, models.Status{UserID: userID, Status: status, LastUpdated: t.now()}); err != nil {
		return err
	}
	t.publish(ctx, models.StatusCollection, userID)
	return nil
}

// View is the presence of every known user.
type View struct {
	Online   map[string]bool      `json:"online"`
	Status   map[string]string    `json:"status"`
	LastSeen map[string]time.Time `json:"lastSeen"`
}

func (v View) IsOnline(userID string) bool { return v.Online[userID] }

func (v View) StatusOf(userID string) string {
	if s := v.Status[userID]; s != "" {
		return s
	}
	return DefaultStatus
}

// ViewSource is the live query over all presence and status records.
type ViewSource struct {
	store repository.PresenceStore
}

func NewViewSource(store repository.PresenceStore) *ViewSource {
	return &ViewSource{store: store}
}

func (s *ViewSource) Key() string { return "presence" }

func (s *ViewSource) Load(ctx context.Context) (View, error) {
	ps, err := s.store.ListPresence(ctx)
	if err != nil {
		return View{}, err
	}
	ss, err := s.store.ListStatuses(ctx)
	if err != nil {
		return View{}, err
	}
	v := View{
		Online:   make(map[string]bool, len(ps)),
		Status:   make(map[string]string, len(ss)),
		LastSeen: make(map[string]time.Time, len(ps)),
	}
	for _, p := range ps {
		v.Online[p.UserID] = p.IsOnline
		v.LastSeen[p.UserID] = p.LastSeen
	}
	for _, st := range ss {
		if st.Status == "" {
			st.Status = DefaultStatus
		}
		v.Status[st.UserID] = st.Status
	}
	return v, nil
}

func (s *ViewSource) Affected(c events.Change) bool {
	return c.Collection == models.PresenceCollection || c.Collection == models.StatusCollection
}
