// identity.go provides middleware that resolves the caller identity for key
// and token operations. Authentication itself is delegated to the fronting
// gateway; this service trusts the X-User-ID header the gateway injects after
// verifying the session. Endpoints that require an identity use
// RequireIdentity; everything else can read the optional value.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// UserIDHeader is the trusted header carrying the verified caller identity.
	UserIDHeader = "X-User-ID"

	// UserIDKey is the gin.Context key under which the caller identity is stored.
	UserIDKey = "user_id"
)

// IdentityMiddleware copies the caller identity from the X-User-ID header
// into the gin context. It never rejects: endpoints that need an identity
// should also use RequireIdentity.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID := c.GetHeader(UserIDHeader); userID != "" {
			c.Set(UserIDKey, userID)
		}
		c.Next()
	}
}

// RequireIdentity aborts with 401 when no caller identity was provided.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "X-User-ID header required",
			})
			return
		}
		c.Next()
	}
}

// UserID returns the caller identity for the request, or "" when anonymous.
func UserID(c *gin.Context) string {
	if v, exists := c.Get(UserIDKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
