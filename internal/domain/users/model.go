package users

import (
	"errors"
	"time"

	"github.com/medvision/medvision/internal/platform/auth"
)

var (
	// ErrUsernameTaken is returned when registering a username that already exists.
	ErrUsernameTaken = errors.New("username already registered")
	// ErrNotFound is returned when a user does not exist.
	ErrNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned when authentication fails.
	ErrInvalidCredentials = errors.New("incorrect username or password")
)

// User maps to the users table.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         auth.Role `db:"role" json:"role"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Identity converts the user to its authentication identity.
func (u *User) Identity() *auth.Identity {
	return &auth.Identity{ID: u.ID, Username: u.Username, Role: u.Role}
}
