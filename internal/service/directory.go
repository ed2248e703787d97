package service

import (
	"context"
	"errors"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/apperr"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/events"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/models"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/repository"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/storage"
)

// ProfileUpdate is what a user may change about themselves.
type ProfileUpdate struct {
	Name        string            `json:"name" validate:"required,max=60"`
	Bio         string            `json:"bio" validate:"max=500"`
	SocialLinks map[string]string `json:"socialLinks" validate:"max=10,dive,keys,max=30,endkeys,omitempty,url"`
	ThemeColor  string            `json:"themeColor" validate:"omitempty,hexcolor"`
}

// DirectoryService owns user profiles.
type DirectoryService struct {
	users  repository.UserStore
	bus    events.Publisher
	images *storage.Images
	policy *bluemonday.Policy
	log    *zap.Logger
}

func NewDirectoryService(users repository.UserStore, bus events.Publisher, images *storage.Images, log *zap.Logger) *DirectoryService {
	return &DirectoryService{users: users, bus: bus, images: images, policy: bluemonday.StrictPolicy(), log: log}
}

func (s *DirectoryService) Get(ctx context.Context, id string) (*models.User, error) {
	return s.users.GetUser(ctx, id)
}

// Lookup returns the profiles that exist among ids.
func (s *DirectoryService) Lookup(ctx context.Context, ids []string) (map[string]models.User, error) {
	return s.users.GetUsers(ctx, ids)
}

// List returns the profiles whose name contains q, ordered by name. An
// empty q lists everyone.
func (s *DirectoryService) List(ctx context.Context, q string) ([]models.User, error) {
	q = strings.TrimSpace(q)
	users, err := s.users.ListUsers(ctx)
	if err != nil || q == "" {
		return users, err
	}
	out := users[:0]
	for _, u := range users {
		if repository.ContainsFold(u.Name, q) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *DirectoryService) text(v string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(v)))
}

// Save creates or updates the caller's own profile. The email always comes
// from the identity, never from the request.
func (s *DirectoryService) Save(ctx context.Context, self, email string, in ProfileUpdate) (*models.User, error) {
	const op = "service.SaveProfile"
	name := s.text(in.Name)
	if name == "" {
		return nil, apperr.Invalid(op, "name is required")
	}

	u, err := s.users.GetUser(ctx, self)
	if errors.Is(err, apperr.ErrNotFound) {
		u, err = &models.User{ID: self}, nil
	}
	if err != nil {
		return nil, err
	}

	u.Name = name
	u.Email = email
	u.Bio = s.text(in.Bio)
	u.ThemeColor = in.ThemeColor
	u.SocialLinks = nil
	for k, v := range in.SocialLinks {
		if v = strings.TrimSpace(v); v == "" {
			continue
		}
		if u.SocialLinks == nil {
			u.SocialLinks = make(map[string]string, len(in.SocialLinks))
		}
		u.SocialLinks[s.text(k)] = v
	}
	u.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)

	if err := s.users.SaveUser(ctx, u); err != nil {
		return nil, err
	}
	s.publish(ctx, u.ID, events.OpUpdate)
	return u, nil
}

// UploadPhoto stores a new avatar for an existing profile.
func (s *DirectoryService) UploadPhoto(ctx context.Context, self, contentType string, data []byte) (*models.User, error) {
	const op = "service.UploadPhoto"
	if s.images == nil {
		return nil, apperr.Invalid(op, "image uploads are disabled")
	}
	u, err := s.users.GetUser(ctx, self)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Invalid(op, "save your profile before adding a photo")
		}
		return nil, err
	}
	img, err := s.images.Save(ctx, self, contentType, data)
	if err != nil {
		return nil, imageError(op, err)
	}
	u.PhotoURL = img.URL
	u.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)
	if err := s.users.SaveUser(ctx, u); err != nil {
		return nil, err
	}
	s.publish(ctx, u.ID, events.OpUpdate)
	return u, nil
}

func (s *DirectoryService) publish(ctx context.Context, id string, op events.Op) {
	if err := s.bus.Publish(ctx, events.Change{Collection: models.UsersCollection, Op: op, ID: id}); err != nil {
		s.log.Warn("publish profile change failed", zap.String("user_id", id), zap.Error(err))
	}
}
