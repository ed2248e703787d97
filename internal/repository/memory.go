package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/apperr"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/conversation"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/models"
)

// Memory is an in-process Store. It backs tests and the memory store driver.
type Memory struct {
	mu       sync.RWMutex
	messages map[string]map[string]*models.Message
	seq      map[string]int64
	users    map[string]models.User
	accounts map[string]models.Account
	presence map[string]models.Presence
	statuses map[string]models.Status
	typing   map[string]models.Typing
}

func NewMemory() *Memory {
	return &Memory{
		messages: make(map[string]map[string]*models.Message),
		seq:      make(map[string]int64),
		users:    make(map[string]models.User),
		accounts: make(map[string]models.Account),
		presence: make(map[string]models.Presence),
		statuses: make(map[string]models.Status),
		typing:   make(map[string]models.Typing),
	}
}

func cloneMessage(m *models.Message) models.Message {
	out := *m
	out.Reactions = make(map[string][]string, len(m.Reactions))
	for k, v := range m.Reactions {
		out.Reactions[k] = append([]string(nil), v...)
	}
	if m.Participants != nil {
		out.Participants = append([]string(nil), m.Participants...)
	}
	return out
}

func (s *Memory) coll(name string) map[string]*models.Message {
	c, ok := s.messages[name]
	if !ok {
		c = make(map[string]*models.Message)
		s.messages[name] = c
	}
	return c
}

func (s *Memory) InsertMessage(_ context.Context, coll string, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(coll)
	if _, ok := c[m.ID]; ok {
		return apperr.Conflict("repository.InsertMessage", "message already exists")
	}
	s.seq[coll]++
	m.Seq = s.seq[coll]
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC().Truncate(time.Millisecond)
	}
	normalize(m)
	stored := cloneMessage(m)
	c[m.ID] = &stored
	return nil
}

func (s *Memory) GetMessage(_ context.Context, coll, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[coll][id]
	if !ok {
		return nil, apperr.NotFound("repository.GetMessage", "message not found")
	}
	out := cloneMessage(m)
	return &out, nil
}

func sortMessages(list []models.Message, desc bool) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i].Position(), list[j].Position()
		if desc {
			return a.After(b)
		}
		return b.After(a)
	})
}

func (s *Memory) FindMessages(_ context.Context, q MessageQuery) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Message{}
	for _, m := range s.messages[q.Collection] {
		if q.matches(m) {
			out = append(out, cloneMessage(m))
		}
	}
	sortMessages(out, q.Descending)
	if q.Limit > 0 && int64(len(out)) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// owned returns the message if owner sent it. Must hold s.mu.
func (s *Memory) owned(op, coll, id, owner string) (*models.Message, error) {
	m, ok := s.coll(coll)[id]
	if !ok {
		return nil, apperr.NotFound(op, "message not found")
	}
	if m.Sender != owner {
		return nil, apperr.Permission(op, "only the sender can change this message")
	}
	return m, nil
}

func (s *Memory) UpdateText(_ context.Context, coll, id, owner, text string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.owned("repository.UpdateText", coll, id, owner)
	if err != nil {
		return nil, err
	}
	m.Text = text
	m.IsEdited = true
	out := cloneMessage(m)
	return &out, nil
}

func (s *Memory) DeleteOwned(_ context.Context, coll, id, owner string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.owned("repository.DeleteOwned", coll, id, owner)
	if err != nil {
		return nil, err
	}
	delete(s.coll(coll), id)
	out := cloneMessage(m)
	return &out, nil
}

func (s *Memory) ToggleReaction(_ context.Context, coll, id, emoji, user string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.coll(coll)[id]
	if !ok {
		return nil, apperr.NotFound("repository.ToggleReaction", "message not found")
	}
	normalize(m)
	users := m.Reactions[emoji]
	if contains(users, user) {
		kept := users[:0]
		for _, u := range users {
			if u != user {
				kept = append(kept, u)
			}
		}
		if len(kept) == 0 {
			delete(m.Reactions, emoji)
		} else {
			m.Reactions[emoji] = kept
		}
	} else {
		m.Reactions[emoji] = append(users, user)
	}
	out := cloneMessage(m)
	return &out, nil
}

func (s *Memory) TogglePinned(_ context.Context, coll, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.coll(coll)[id]
	if !ok {
		return nil, apperr.NotFound("repository.TogglePinned", "message not found")
	}
	m.IsPinned = !m.IsPinned
	out := cloneMessage(m)
	return &out, nil
}

func (s *Memory) MarkRead(_ context.Context, chatID, sender string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.coll(conversation.PrivateCollection) {
		if m.ChatID == chatID && m.Sender == sender && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *Memory) DeleteMessage(_ context.Context, coll, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(coll)
	if _, ok := c[id]; !ok {
		return apperr.NotFound("repository.DeleteMessage", "message not found")
	}
	delete(c, id)
	return nil
}

func (s *Memory) PageMessages(ctx context.Context, coll, cursor string, limit int, q MessageSearch) (models.Page[models.Message], error) {
	var after *models.Position
	if cursor != "" {
		var c messageCursor
		if err := decodeCursor(cursor, &c); err != nil {
			return models.Page[models.Message]{}, err
		}
		p := c.position()
		after = &p
	}
	all, _ := s.FindMessages(ctx, MessageQuery{Collection: coll, Descending: true})
	page := models.Page[models.Message]{Items: []models.Message{}}
	for _, m := range all {
		if (after != nil && !after.After(m.Position())) || !q.matches(&m) {
			continue
		}
		if len(page.Items) == limit {
			last := page.Items[len(page.Items)-1]
			page.Next = encodeCursor(messageCursor{TS: last.Timestamp.UnixNano(), Seq: last.Seq})
			break
		}
		page.Items = append(page.Items, m)
	}
	return page, nil
}

func (s *Memory) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperr.NotFound("repository.GetUser", "user not found")
	}
	return &u, nil
}

func (s *Memory) GetUsers(_ context.Context, ids []string) (map[string]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func sortUsers(list []models.User) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})
}

func (s *Memory) ListUsers(_ context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sortUsers(out)
	return out, nil
}

func (s *Memory) SaveUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = *u
	return nil
}

func (s *Memory) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return apperr.NotFound("repository.DeleteUser", "user not found")
	}
	delete(s.users, id)
	return nil
}

func (s *Memory) PageUsers(ctx context.Context, cursor string, limit int, q string) (models.Page[models.User], error) {
	var after *userCursor
	if cursor != "" {
		after = &userCursor{}
		if err := decodeCursor(cursor, after); err != nil {
			return models.Page[models.User]{}, err
		}
	}
	all, _ := s.ListUsers(ctx)
	page := models.Page[models.User]{Items: []models.User{}}
	for _, u := range all {
		if after != nil && (u.Name < after.Name || (u.Name == after.Name && u.ID <= after.ID)) {
			continue
		}
		if !UserMatches(u, q) {
			continue
		}
		if len(page.Items) == limit {
			last := page.Items[len(page.Items)-1]
			page.Next = encodeCursor(userCursor{Name: last.Name, ID: last.ID})
			break
		}
		page.Items = append(page.Items, u)
	}
	return page, nil
}

func (s *Memory) CreateAccount(_ context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(a.Email)
	for _, existing := range s.accounts {
		if strings.ToLower(existing.Email) == email {
			return apperr.Conflict("repository.CreateAccount", "email already in use")
		}
	}
	s.accounts[a.ID] = *a
	return nil
}

func (s *Memory) AccountByEmail(_ context.Context, email string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = strings.ToLower(email)
	for _, a := range s.accounts {
		if strings.ToLower(a.Email) == email {
			out := a
			return &out, nil
		}
	}
	return nil, apperr.NotFound("repository.AccountByEmail", "account not found")
}

func (s *Memory) AccountByID(_ context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, apperr.NotFound("repository.AccountByID", "account not found")
	}
	return &a, nil
}

func (s *Memory) UpdatePassword(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return apperr.NotFound("repository.UpdatePassword", "account not found")
	}
	a.PasswordHash = hash
	s.accounts[id] = a
	return nil
}

func (s *Memory) SetPresence(_ context.Context, p models.Presence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence[p.UserID] = p
	return nil
}

func (s *Memory) ListPresence(_ context.Context) ([]models.Presence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Presence, 0, len(s.presence))
	for _, p := range s.presence {
		out = append(out, p)
	}
	return out, nil
}

func (s *Memory) SetStatus(_ context.Context, st models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[st.UserID] = st
	return nil
}

func (s *Memory) ListStatuses(_ context.Context) ([]models.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Status, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, st)
	}
	return out, nil
}

func (s *Memory) SetTyping(_ context.Context, t models.Typing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing[t.UserID] = t
	return nil
}

func (s *Memory) ListTyping(_ context.Context) ([]models.Typing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Typing, 0, len(s.typing))
	for _, t := range s.typing {
		out = append(out, t)
	}
	return out, nil
}

func (s *Memory) Ping(context.Context) error { return nil }

func (s *Memory) Close(context.Context) error { return nil }
