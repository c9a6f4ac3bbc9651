package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medvision/medvision/internal/platform/auth"
)

// Logger emits one structured line per request. Authenticated requests carry
// the caller's user id and role so workflow actions (uploads, confirmations,
// prescriptions) can be traced back to an account.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)

			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}

			evt = evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("route", c.Path()).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())

			if ident := auth.IdentityFromContext(req.Context()); ident != nil {
				evt = evt.Int64("user_id", ident.ID).Str("role", string(ident.Role))
			}

			evt.Msg("request")
			return err
		}
	}
}
