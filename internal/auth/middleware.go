package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kindkart/kindkart/internal/logging"
)

const (
	// ContextKeyUserID holds the authenticated user id in the gin context.
	ContextKeyUserID = "authUserID"
	// ContextKeyRole holds the caller's role claim.
	ContextKeyRole = "authRole"

	headerAdminSecret = "X-Admin-Secret"
)

// Option configures RequireAuth.
type Option func(*options)

type options struct {
	queryParam string
}

// WithQueryToken also accepts the token from the named query parameter.
// Browsers cannot set headers on WebSocket upgrades.
func WithQueryToken(param string) Option {
	return func(o *options) { o.queryParam = param }
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller in the gin context and the request logger.
func RequireAuth(v *Verifier, opts ...Option) gin.HandlerFunc {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" && o.queryParam != "" {
			token = c.Query(o.queryParam)
		}
		if token == "" {
			abortUnauthorized(c, ErrMissingToken)
			return
		}
		p, err := v.Verify(token)
		if err != nil {
			abortUnauthorized(c, err)
			return
		}

		c.Set(ContextKeyUserID, p.UserID)
		c.Set(ContextKeyRole, p.Role)
		c.Request = c.Request.WithContext(logging.WithUserID(c.Request.Context(), p.UserID))
		c.Next()
	}
}

// RequireAdmin allows callers with the admin role, or any authenticated
// caller presenting the configured admin secret.
func RequireAdmin(adminSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextKeyRole) == RoleAdmin {
			c.Next()
			return
		}
		if adminSecret != "" {
			given := c.GetHeader(headerAdminSecret)
			if given != "" && subtle.ConstantTimeCompare([]byte(given), []byte(adminSecret)) == 1 {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Admin access required",
		})
	}
}

// UserID returns the authenticated caller's id, or "" when unauthenticated.
func UserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func abortUnauthorized(c *gin.Context, err error) {
	msg := "Invalid or missing bearer token"
	if errors.Is(err, ErrTokenExpired) {
		msg = "Token expired"
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": msg,
	})
}
