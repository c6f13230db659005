package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/odlemon/khaya-portal-sub001/pkg/jwt"
	"github.com/odlemon/khaya-portal-sub001/pkg/log"
	"github.com/odlemon/khaya-portal-sub001/pkg/response"
)

const (
	UserIDKey = log.FieldUserID
	RoleKey   = log.FieldRole
	EmailKey  = "email"
)

// SessionSource yields the console's upstream bearer token and the
// identity it carries.
type SessionSource interface {
	Token(ctx context.Context) (string, error)
	Identity() *jwt.Identity
}

// SessionMiddleware defers requests while no upstream session exists.
type SessionMiddleware struct {
	source     SessionSource
	notReady   error
	retryAfter time.Duration
}

// NewSessionMiddleware creates the middleware. Errors matching notReady
// are answered with 503 and Retry-After; any other error with 500.
func NewSessionMiddleware(source SessionSource, notReady error, retryAfter time.Duration) *SessionMiddleware {
	return &SessionMiddleware{
		source:     source,
		notReady:   notReady,
		retryAfter: retryAfter,
	}
}

// RequireSession returns a Gin middleware that rejects requests until an
// upstream token is available and exposes its identity on the context.
func (m *SessionMiddleware) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := m.source.Token(c.Request.Context()); err != nil {
			if m.notReady != nil && errors.Is(err, m.notReady) {
				response.AuthNotReady(c, m.retryAfter)
				return
			}
			l := log.Ctx(c.Request.Context())
			l.Error().Err(err).Msg("failed to load session token")
			response.Abort(c, http.StatusInternalServerError, response.CodeInternal, "failed to load session")
			return
		}

		if id := m.source.Identity(); id != nil {
			c.Set(UserIDKey, id.UserID)
			c.Set(RoleKey, id.Role)
			c.Set(EmailKey, id.Email)
		}

		c.Next()
	}
}

// GetUserID extracts the session user ID from Gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetRole extracts the session role from Gin context.
func GetRole(c *gin.Context) string {
	return c.GetString(RoleKey)
}

// GetEmail extracts the session email from Gin context.
func GetEmail(c *gin.Context) string {
	return c.GetString(EmailKey)
}
