package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"devconnector-chat/internal/models"
)

// TokenName is the cookie and query parameter carrying the credential.
const TokenName = "token"

// AuthTokenHeader carries a raw credential for clients that cannot set
// cookies or bearer headers.
const AuthTokenHeader = "X-Auth-Token"

// UserContextKey holds the authenticated models.User in the gin context.
const UserContextKey = "user"

// Authenticator verifies a raw credential.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (models.User, error)
}

// CredentialFromRequest returns the credential presented with the request:
// the token cookie, then the token query parameter, then a bearer header,
// then the X-Auth-Token header.
func CredentialFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(TokenName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if token := r.URL.Query().Get(TokenName); token != "" {
		return token
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return strings.TrimSpace(r.Header.Get(AuthTokenHeader))
}

// AuthMiddleware authenticates REST requests with the same credential as
// the websocket handshake.
func AuthMiddleware(authenticator Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := CredentialFromRequest(c.Request)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		user, err := authenticator.Authenticate(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(UserContextKey, user)
		c.Next()
	}
}

// UserFromContext returns the user set by AuthMiddleware.
func UserFromContext(c *gin.Context) (models.User, bool) {
	val, ok := c.Get(UserContextKey)
	if !ok {
		return models.User{}, false
	}
	user, ok := val.(models.User)
	return user, ok
}
