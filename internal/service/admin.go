package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/apperr"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/conversation"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/events"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/metrics"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/models"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/repository"
)

const AdminPageSize = 10

// AdminService backs the moderation screens. Callers are expected to have
// checked the admin role; destructive calls additionally need confirmed.
type AdminService struct {
	users    repository.UserStore
	messages repository.MessageStore
	bus      events.Publisher
	pageSize int
	log      *zap.Logger
}

// NewAdminService pages listings by pageSize, or AdminPageSize when it is not positive.
func NewAdminService(users repository.UserStore, messages repository.MessageStore, bus events.Publisher, pageSize int, log *zap.Logger) *AdminService {
	if pageSize <= 0 {
		pageSize = AdminPageSize
	}
	return &AdminService{users: users, messages: messages, bus: bus, pageSize: pageSize, log: log}
}

// Users pages profiles whose name or email contains q.
func (s *AdminService) Users(ctx context.Context, cursor, q string) (models.Page[models.User], error) {
	return s.users.PageUsers(ctx, cursor, s.pageSize, strings.TrimSpace(q))
}

// Messages pages one message collection, newest first. A non-empty q keeps
// messages whose text contains it or whose sender's name does.
func (s *AdminService) Messages(ctx context.Context, collection, cursor, q string) (models.Page[models.Message], error) {
	coll, err := adminCollection(collection)
	if err != nil {
		return models.Page[models.Message]{}, err
	}
	search, err := s.messageSearch(ctx, strings.TrimSpace(q))
	if err != nil {
		return models.Page[models.Message]{}, err
	}
	return s.messages.PageMessages(ctx, coll, cursor, s.pageSize, search)
}

// messageSearch resolves q against display names up front so the store can
// filter by sender id while paging.
func (s *AdminService) messageSearch(ctx context.Context, q string) (repository.MessageSearch, error) {
	if q == "" {
		return repository.MessageSearch{}, nil
	}
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return repository.MessageSearch{}, err
	}
	search := repository.MessageSearch{Text: q}
	for _, u := range users {
		if repository.ContainsFold(u.Name, q) {
			search.Senders = append(search.Senders, u.ID)
		}
	}
	return search, nil
}

func adminCollection(name string) (string, error) {
	switch name {
	case "", "public", conversation.PublicCollection:
		return conversation.PublicCollection, nil
	case "private", conversation.PrivateCollection:
		return conversation.PrivateCollection, nil
	}
	return "", apperr.Invalid("service.adminCollection", "unknown message collection")
}

func requireConfirmation(op string, confirmed bool) error {
	if !confirmed {
		return apperr.Invalid(op, "confirmation required")
	}
	return nil
}

func (s *AdminService) DeleteUser(ctx context.Context, id string, confirmed bool) (err error) {
	const op = "service.AdminDeleteUser"
	defer func() { metrics.Observe("admin_delete_user", err) }()
	if err := requireConfirmation(op, confirmed); err != nil {
		return err
	}
	if err := s.users.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.log.Info("user deleted by admin", zap.String("user_id", id))
	s.publish(ctx, events.Change{Collection: models.UsersCollection, Op: events.OpDelete, ID: id})
	return nil
}

func (s *AdminService) DeleteMessage(ctx context.Context, collection, id string, confirmed bool) (err error) {
	const op = "service.AdminDeleteMessage"
	defer func() { metrics.Observe("admin_delete_message", err) }()
	if err := requireConfirmation(op, confirmed); err != nil {
		return err
	}
	coll, err := adminCollection(collection)
	if err != nil {
		return err
	}
	m, err := s.messages.GetMessage(ctx, coll, id)
	if err != nil {
		return err
	}
	if err := s.messages.DeleteMessage(ctx, coll, id); err != nil {
		return err
	}
	s.log.Info("message deleted by admin", zap.String("collection", coll), zap.String("id", id))
	s.publish(ctx, events.Change{Collection: coll, Op: events.OpDelete, ID: id, ChatID: m.ChatID})
	return nil
}

func (s *AdminService) publish(ctx context.Context, c events.Change) {
	if err := s.bus.Publish(ctx, c); err != nil {
		s.log.Warn("publish admin change failed", zap.String("collection", c.Collection), zap.Error(err))
	}
}
