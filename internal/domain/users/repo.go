package users

import (
	"context"

	"github.com/medvision/medvision/internal/platform/auth"
)

// Repository defines the persistence interface for users.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	UpdateRole(ctx context.Context, id int64, role auth.Role) error
	List(ctx context.Context, limit, offset int) ([]*User, int, error)
}
