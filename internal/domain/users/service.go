package users

import (
	"context"
	"fmt"
	"strings"

	"github.com/medvision/medvision/internal/platform/auth"
)

// Service implements registration, authentication and user administration.
type Service struct {
	repo   Repository
	issuer *auth.TokenIssuer
}

func NewService(repo Repository, issuer *auth.TokenIssuer) *Service {
	return &Service{repo: repo, issuer: issuer}
}

// Register creates a new account. Self-registered accounts always start as
// diagnosticians; only an admin can promote them afterwards.
func (s *Service) Register(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if password == "" {
		return nil, fmt.Errorf("password is required")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &User{
		Username:     username,
		PasswordHash: hash,
		Role:         auth.RoleDiagnostician,
		Active:       true,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// CreateWithRole creates an account with an explicit role. Used by the admin
// bootstrap command; not exposed over HTTP.
func (s *Service) CreateWithRole(ctx context.Context, username, password string, role auth.Role) (*User, error) {
	if !role.Valid() {
		return nil, auth.ErrInvalidRole
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &User{
		Username:     strings.TrimSpace(username),
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate verifies credentials and returns a signed session token.
// Unknown usernames, wrong passwords and deactivated accounts are all
// reported as ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (string, error) {
	u, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	if !u.Active {
		return "", ErrInvalidCredentials
	}
	if !auth.VerifyPassword(password, u.PasswordHash) {
		return "", ErrInvalidCredentials
	}
	return s.issuer.Issue(u.ID, u.Role)
}

// ResolveUser implements auth.UserResolver for the token middleware.
func (s *Service) ResolveUser(ctx context.Context, id int64) (*auth.Identity, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, ErrNotFound
	}
	return u.Identity(), nil
}

// List returns a page of users with the total count.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*User, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// UpdateRole changes a user's role. The role string is validated against the
// closed role set before touching the database.
func (s *Service) UpdateRole(ctx context.Context, id int64, roleStr string) (*User, error) {
	role, err := auth.ParseRole(roleStr)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateRole(ctx, id, role); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}
