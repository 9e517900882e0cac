// README: Firebase bearer-token auth; resolves the caller to a system user.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dispatch/internal/infra"
	"dispatch/internal/modules/user"
)

const userKey = "auth.user"

// UserLoader resolves a verified identity to an account.
type UserLoader interface {
	GetByUsername(ctx context.Context, username string) (*user.SystemUser, error)
}

// Auth verifies the Authorization bearer token and loads the matching
// system user. Unknown or inactive accounts are rejected even with a valid
// token.
func Auth(verifier infra.TokenVerifier, users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimPrefix(header, prefix))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		u, err := users.GetByUsername(c.Request.Context(), token.UID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown account"})
			return
		}
		if !u.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account disabled"})
			return
		}
		c.Set(userKey, *u)
		c.Next()
	}
}

// CurrentUser returns the authenticated account set by Auth.
func CurrentUser(c *gin.Context) (user.SystemUser, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return user.SystemUser{}, false
	}
	u, ok := v.(user.SystemUser)
	return u, ok
}

// RequireDispatcher gates dispatcher-only routes; admins pass.
func RequireDispatcher() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok || !u.IsDispatcher() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "dispatcher role required"})
			return
		}
		c.Next()
	}
}

// RequireVendor gates vendor-only routes. The account must be linked to a
// vendor row so its grade is known.
func RequireVendor() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok || !u.IsVendor() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "vendor role required"})
			return
		}
		c.Next()
	}
}
