package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated caller as seen by handlers and the RBAC gate.
type Identity struct {
	ID       int64
	Username string
	Role     Role
}

// UserResolver loads the user behind a token subject. The user directory
// implements it; the indirection keeps this package free of a dependency on
// the users domain.
type UserResolver interface {
	ResolveUser(ctx context.Context, id int64) (*Identity, error)
}

// Middleware authenticates requests with a bearer token. It validates the
// token, requires an integer subject, and loads the user through the
// resolver; a missing or inactive user is an authentication failure, not a
// not-found. All failures are 401, so role checks never run unauthenticated.
func Middleware(issuer *TokenIssuer, resolver UserResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims, err := issuer.Validate(parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			userID, err := claims.SubjectID()
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token subject")
			}

			ident, err := resolver.ResolveUser(c.Request().Context(), userID)
			if err != nil || ident == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "could not validate credentials")
			}

			ctx := context.WithValue(c.Request().Context(), identityKey, ident)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// IdentityFromContext returns the authenticated identity, or nil when the
// request did not pass the auth middleware.
func IdentityFromContext(ctx context.Context) *Identity {
	ident, _ := ctx.Value(identityKey).(*Identity)
	return ident
}

// WithIdentity returns a context carrying the given identity. Used by tests
// and by the middleware above.
func WithIdentity(ctx context.Context, ident *Identity) context.Context {
	return context.WithValue(ctx, identityKey, ident)
}
