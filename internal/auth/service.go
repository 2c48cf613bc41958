package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/imrishuroy/textile-storefront/internal/apierr"
	"github.com/imrishuroy/textile-storefront/internal/users"
)

// UserStore is the subset of the users store the auth service needs.
type UserStore interface {
	Create(ctx context.Context, u users.User) (*users.User, error)
	GetByEmail(ctx context.Context, email string) (*users.User, error)
	TouchLogin(ctx context.Context, id string) error
	UpdateProfile(ctx context.Context, id string, upd users.ProfileUpdate) (*users.User, error)
}

// Service handles registration, login and password changes.
type Service struct {
	users         UserStore
	tokens        *Tokens
	hasher        *Hasher
	adminEmail    string
	adminPassword string
	log           *slog.Logger
}

func NewService(store UserStore, tokens *Tokens, hasher *Hasher, adminEmail, adminPassword string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:         store,
		tokens:        tokens,
		hasher:        hasher,
		adminEmail:    adminEmail,
		adminPassword: adminPassword,
		log:           logger.With("component", "auth"),
	}
}

// Tokens exposes the token issuer for middleware wiring.
func (s *Service) Tokens() *Tokens { return s.tokens }

// Register creates an account and returns a session token.
func (s *Service) Register(ctx context.Context, name, email, password string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || email == "" || password == "" {
		return "", apierr.Validation("all fields are required")
	}
	if !validEmail(email) {
		return "", apierr.Validation("invalid email format")
	}
	if len(password) < MinPasswordLength {
		return "", apierr.Validation(fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	u, err := s.users.Create(ctx, users.User{Name: name, Email: email, PasswordHash: hash})
	if errors.Is(err, users.ErrEmailTaken) {
		return "", apierr.Conflict("user already exists")
	}
	if err != nil {
		return "", err
	}
	s.log.InfoContext(ctx, "user registered", "user_id", u.ID)
	return s.tokens.Issue(u.ID, "")
}

// Login checks credentials, records the login and returns a session token.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	if email == "" || password == "" {
		return "", apierr.Validation("all fields are required")
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", apierr.NotFound("user does not exist")
	}
	if !s.hasher.Matches(u.PasswordHash, password) {
		return "", apierr.Unauthorized("invalid credentials")
	}
	if err := s.users.TouchLogin(ctx, u.ID); err != nil {
		s.log.WarnContext(ctx, "record login failed", "user_id", u.ID, "error", err)
	}
	return s.tokens.Issue(u.ID, "")
}

// UpdateProfile validates and applies a profile change. A new password is
// re-hashed before it is stored.
func (s *Service) UpdateProfile(ctx context.Context, userID string, upd users.ProfileUpdate, newPassword string) (*users.User, error) {
	if upd.Email != nil && !validEmail(*upd.Email) {
		return nil, apierr.Validation("invalid email format")
	}
	if newPassword != "" {
		if len(newPassword) < MinPasswordLength {
			return nil, apierr.Validation(fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
		}
		hash, err := s.hasher.Hash(newPassword)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		upd.PasswordHash = &hash
	}
	u, err := s.users.UpdateProfile(ctx, userID, upd)
	switch {
	case errors.Is(err, users.ErrNotFound):
		return nil, apierr.NotFound("user not found")
	case errors.Is(err, users.ErrEmailTaken):
		return nil, apierr.Conflict("email already in use")
	case err != nil:
		return nil, err
	}
	return u, nil
}

// AdminLogin compares against the configured operator credentials.
func (s *Service) AdminLogin(username, password string) (string, error) {
	if username == "" || password == "" {
		return "", apierr.Validation("all fields are required")
	}
	if s.adminEmail == "" || s.adminPassword == "" {
		return "", apierr.New(apierr.KindInternal, "admin credentials not configured")
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.adminEmail)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.adminPassword)) == 1
	if !userOK || !passOK {
		return "", apierr.Unauthorized("invalid admin credentials")
	}
	return s.tokens.Issue(AdminSubject, RoleAdmin)
}

// AdminEmail is reported by the admin verify endpoint.
func (s *Service) AdminEmail() string { return s.adminEmail }

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == strings.TrimSpace(email) && strings.Contains(addr.Address, ".")
}
