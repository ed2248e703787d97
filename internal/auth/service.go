package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/apperr"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/mail"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/models"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/repository"
)

const (
	minPasswordLength = 6
	resetTokenTTL     = 30 * time.Minute
)

// TokenState tracks signed-out tokens and pending password resets.
// cache.Client implements it on Redis.
type TokenState interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	PutResetToken(ctx context.Context, token, userID string, ttl time.Duration) error
	TakeResetToken(ctx context.Context, token string) (string, error)
}

// Identity is the authenticated caller.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Options struct {
	IsAdmin  func(email string) bool
	ResetURL string
}

type Service struct {
	accounts repository.AccountStore
	tokens   *Tokens
	state    TokenState
	mailer   mail.Sender
	validate *validator.Validate
	opts     Options
	log      *zap.Logger
}

func NewService(accounts repository.AccountStore, tokens *Tokens, state TokenState, mailer mail.Sender, opts Options, log *zap.Logger) *Service {
	if opts.IsAdmin == nil {
		opts.IsAdmin = func(string) bool { return false }
	}
	return &Service{
		accounts: accounts,
		tokens:   tokens,
		state:    state,
		mailer:   mailer,
		validate: validator.New(),
		opts:     opts,
		log:      log,
	}
}

func (s *Service) checkCredentials(op, email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.validate.Var(email, "required,email"); err != nil {
		return "", apperr.Auth(op, "invalid email address")
	}
	if len(password) < minPasswordLength {
		return "", apperr.Auth(op, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	return email, nil
}

func (s *Service) SignUp(ctx context.Context, email, password string) (string, error) {
	const op = "auth.SignUp"
	email, err := s.checkCredentials(op, email, password)
	if err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	acc := &models.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.accounts.CreateAccount(ctx, acc); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return "", apperr.Auth(op, "email already in use")
		}
		return "", err
	}
	s.log.Info("account created", zap.String("user_id", acc.ID))
	return acc.ID, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	const op = "auth.SignIn"
	email = strings.ToLower(strings.TrimSpace(email))

	acc, err := s.accounts.AccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Auth(op, "invalid email or password")
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.Auth(op, "invalid email or password")
	}
	return s.issue(acc)
}

func (s *Service) issue(acc *models.Account) (*Session, error) {
	role := ""
	if s.opts.IsAdmin(acc.Email) {
		role = RoleAdmin
	}
	token, claims, err := s.tokens.Issue(acc.ID, acc.Email, role)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, UserID: acc.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// SignOut revokes token until it would have expired anyway.
func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		// already unusable
		return nil
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if err := s.state.Revoke(ctx, claims.ID, ttl); err != nil {
		return apperr.Transient("auth.SignOut", err)
	}
	return nil
}

func (s *Service) CurrentUser(ctx context.Context, token string) (*Identity, error) {
	const op = "auth.CurrentUser"
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, apperr.Auth(op, err.Error())
	}
	revoked, err := s.state.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, apperr.Transient(op, err)
	}
	if revoked {
		return nil, apperr.Auth(op, "token revoked")
	}
	return &Identity{ID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}

// SendPasswordReset mails a one-time reset link. Unknown addresses succeed
// without sending anything.
func (s *Service) SendPasswordReset(ctx context.Context, email string) error {
	const op = "auth.SendPasswordReset"
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.validate.Var(email, "required,email"); err != nil {
		return apperr.Invalid(op, "invalid email address")
	}

	acc, err := s.accounts.AccountByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	token, err := randomToken()
	if err != nil {
		return err
	}
	if err := s.state.PutResetToken(ctx, token, acc.ID, resetTokenTTL); err != nil {
		return apperr.Transient(op, err)
	}

	link := s.opts.ResetURL + "?token=" + url.QueryEscape(token)
	html := fmt.Sprintf(`<p>Someone asked to reset your Habibi Connection password.</p>
<p><a href="%s">Choose a new password</a>. The link expires in 30 minutes.</p>`, link)
	if err := s.mailer.Send(ctx, acc.Email, "Reset your password", html); err != nil {
		s.log.Error("password reset mail failed", zap.String("user_id", acc.ID), zap.Error(err))
		return apperr.Transient(op, err)
	}
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	const op = "auth.ResetPassword"
	if len(password) < minPasswordLength {
		return apperr.Auth(op, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	userID, err := s.state.TakeResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Auth(op, "reset link is invalid or expired")
		}
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.accounts.UpdatePassword(ctx, userID, string(hash))
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
