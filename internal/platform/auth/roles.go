package auth

import "fmt"

// Role is the closed set of user roles. Free-text role strings from the
// outside world must pass through ParseRole before entering the domain.
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleDiagnostician Role = "diagnostician"
	RoleClinician     Role = "clinician"
)

// ParseRole validates a raw role string against the closed set.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleDiagnostician, RoleClinician:
		return Role(s), nil
	}
	return "", fmt.Errorf("invalid role %q: %w", s, ErrInvalidRole)
}

// Valid reports whether the role is one of the enumerated values.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

func (r Role) String() string { return string(r) }
