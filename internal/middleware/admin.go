// admin.go provides middleware for authenticating admin requests (key and
// token revocation, rotation). Admin endpoints use a separate credential
// scheme ("Authorization: AdminToken <credential>") verified against a bcrypt
// hash from configuration, independent of the normal caller-identity header.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// AdminContextKey is the context key set when a request is authenticated as admin.
const AdminContextKey = "is_admin_request"

// adminRateLimiter tracks per-IP attempt counts to prevent brute-force attacks
// on the admin credential. Allows maxAttempts per window per IP.
type adminRateLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

func newAdminRateLimiter() *adminRateLimiter {
	return &adminRateLimiter{
		attempts: make(map[string][]time.Time),
	}
}

const (
	adminMaxAttempts = 5
	adminRateWindow  = time.Minute
)

// allow returns true if the IP has not exceeded the rate limit.
func (rl *adminRateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-adminRateWindow)

	// Prune old entries
	recent := make([]time.Time, 0, len(rl.attempts[ip]))
	for _, t := range rl.attempts[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= adminMaxAttempts {
		rl.attempts[ip] = recent
		return false
	}

	rl.attempts[ip] = append(recent, now)
	return true
}

// AdminMiddleware validates admin credential authentication. It checks that:
//  1. An admin credential hash is configured (returns 403 if not).
//  2. The IP is not rate-limited (max 5 attempts per minute).
//  3. The Authorization header contains a valid "AdminToken <credential>" value.
//  4. The credential matches the configured bcrypt hash.
//
// On success, sets AdminContextKey=true in the gin context and calls c.Next().
func AdminMiddleware(credentialHash string) gin.HandlerFunc {
	rateLimiter := newAdminRateLimiter()

	return func(c *gin.Context) {
		// 1. Admin surface is disabled entirely when no hash is configured
		if credentialHash == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Admin endpoints are disabled. Set security.admin_credential_hash to enable them.",
			})
			return
		}

		// 2. Rate limit check before doing any bcrypt work
		clientIP := c.ClientIP()
		if !rateLimiter.allow(clientIP) {
			slog.Warn("admin middleware: rate limit exceeded", "ip", clientIP)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many admin credential attempts. Try again in one minute.",
			})
			return
		}

		// 3. Extract credential from Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required. Use: Authorization: AdminToken <credential>",
			})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "AdminToken") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization scheme. Use: Authorization: AdminToken <credential>",
			})
			return
		}
		rawCredential := strings.TrimSpace(parts[1])

		// 4. Verify credential against bcrypt hash
		if err := bcrypt.CompareHashAndPassword([]byte(credentialHash), []byte(rawCredential)); err != nil {
			slog.Warn("admin middleware: invalid admin credential", "ip", clientIP)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid admin credential",
			})
			return
		}

		c.Set(AdminContextKey, true)
		c.Next()
	}
}
