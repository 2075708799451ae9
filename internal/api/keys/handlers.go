// Package keys implements the HTTP handlers for the digital key lifecycle:
// generation, retrieval, listing, usage validation, and consumption. All
// endpoints require a caller identity injected by the fronting gateway; the
// plaintext secret appears only in generation and use responses and is never
// written to logs or storage.
package keys

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/db/models"
	keysvc "github.com/JoeLogavina/METENZI-B2B-sub007/internal/keys"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/middleware"
	tokensvc "github.com/JoeLogavina/METENZI-B2B-sub007/internal/tokens"
)

// generateRequest is the body of POST /v1/keys
type generateRequest struct {
	ProductID string            `json:"product_id" binding:"required"`
	KeyType   string            `json:"key_type"`
	MaxUses   int               `json:"max_uses"`
	ExpiresAt *time.Time        `json:"expires_at"`
	Metadata  map[string]string `json:"metadata"`
	// IssueDownloadToken additionally mints a download token for the new key
	// and returns its redemption URL alongside the plaintext.
	IssueDownloadToken bool `json:"issue_download_token"`
	// TokenExpiryMinutes bounds the minted token's lifetime; 0 means the
	// token service default. Ignored unless IssueDownloadToken is set.
	TokenExpiryMinutes int `json:"token_expiry_minutes"`
}

// @Summary      Generate a digital key
// @Description  Generates a new envelope-encrypted digital key for a product. The plaintext secret is returned exactly once and cannot be retrieved again. When issue_download_token is set, the response also carries a download_url that redeems the key through the token gate.
// @Tags         Keys
// @Accept       json
// @Produce      json
// @Param        request  body  generateRequest  true  "Key parameters"
// @Success      201  {object}  map[string]interface{}  "key, plain_secret, download_url?"
// @Failure      400  {object}  map[string]interface{}  "Invalid request body or key type"
// @Failure      503  {object}  map[string]interface{}  "Storage unavailable"
// @Router       /v1/keys [post]
// GenerateHandler handles key generation requests
func GenerateHandler(manager *keysvc.Manager, tokens *tokensvc.Service, baseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req generateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		userID := middleware.UserID(c)
		generated, err := manager.GenerateSecureKey(c.Request.Context(), req.ProductID, userID, keysvc.GenerateOptions{
			KeyType:   req.KeyType,
			MaxUses:   req.MaxUses,
			ExpiresAt: req.ExpiresAt,
			Metadata:  req.Metadata,
		})
		if err != nil {
			respondKeyError(c, err)
			return
		}

		resp := gin.H{
			"key":          generated.Key,
			"plain_secret": generated.PlainSecret,
		}

		if req.IssueDownloadToken && tokens != nil {
			issued, err := tokens.Issue(c.Request.Context(), generated.Key.ID, models.ResourceTypeLicenseKey, userID, tokensvc.IssueOptions{
				ExpiryMinutes: req.TokenExpiryMinutes,
			})
			if err != nil {
				// The key exists and its plaintext must still be handed out;
				// the caller can request a token separately.
				slog.Warn("download token issuance failed at key generation",
					"key_id", generated.Key.ID,
					"error", err)
			} else {
				resp["download_url"] = strings.TrimRight(baseURL, "/") + "/v1/resources/" + issued.Value
			}
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary      List digital keys
// @Description  Returns the digital keys issued to the calling user. Plaintext secrets are not included.
// @Tags         Keys
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "keys"
// @Failure      503  {object}  map[string]interface{}  "Storage unavailable"
// @Router       /v1/keys [get]
// ListHandler handles key listing requests
func ListHandler(manager *keysvc.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := manager.ListDigitalKeys(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			respondKeyError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"keys": list})
	}
}

// @Summary      Get a digital key
// @Description  Returns the stored record of a digital key. Plaintext is not included; use the use endpoint to decrypt.
// @Tags         Keys
// @Produce      json
// @Param        id  path  string  true  "Key ID"
// @Success      200  {object}  map[string]interface{}  "key"
// @Failure      404  {object}  map[string]interface{}  "Key not found"
// @Router       /v1/keys/{id} [get]
// GetHandler handles single key retrieval
func GetHandler(manager *keysvc.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := manager.GetDigitalKey(c.Request.Context(), c.Param("id"), middleware.UserID(c))
		if err != nil {
			respondKeyError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"key": key})
	}
}

// @Summary      Validate key usage
// @Description  Atomically validates the key (active, unexpired, uses remaining) and consumes one use without returning the plaintext. A false result carries the rejection reason.
// @Tags         Keys
// @Produce      json
// @Param        id  path  string  true  "Key ID"
// @Success      200  {object}  map[string]interface{}  "valid, remaining_uses or reason"
// @Failure      404  {object}  map[string]interface{}  "Key not found"
// @Router       /v1/keys/{id}/validate [post]
// ValidateHandler handles usage validation: the atomic check-and-increment
// without plaintext disclosure
func ValidateHandler(manager *keysvc.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := manager.ValidateUsage(c.Request.Context(), c.Param("id"))
		if err != nil {
			if reason, ok := rejectionReason(err); ok {
				// Business rejections are data on this endpoint, not errors.
				status := http.StatusOK
				if errors.Is(err, keysvc.ErrKeyNotFound) {
					status = http.StatusNotFound
				}
				c.JSON(status, gin.H{"valid": false, "reason": reason})
				return
			}
			respondKeyError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"valid":          true,
			"remaining_uses": key.RemainingUses(),
		})
	}
}

// @Summary      Use a digital key
// @Description  Atomically consumes one use of the key and returns the decrypted plaintext secret. Concurrent requests against the last remaining use cannot both succeed.
// @Tags         Keys
// @Produce      json
// @Param        id  path  string  true  "Key ID"
// @Success      200  {object}  map[string]interface{}  "plain_secret, remaining_uses, key"
// @Failure      404  {object}  map[string]interface{}  "Key not found"
// @Failure      410  {object}  map[string]interface{}  "Key revoked, expired, or exhausted"
// @Router       /v1/keys/{id}/use [post]
// UseHandler handles consuming key usage requests
func UseHandler(manager *keysvc.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := manager.UseDigitalKey(c.Request.Context(), c.Param("id"), middleware.UserID(c), c.ClientIP())
		if err != nil {
			respondKeyError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"plain_secret":   result.PlainSecret,
			"remaining_uses": result.RemainingUses,
			"key":            result.Key,
		})
	}
}

// rejectionReason maps a lifecycle rejection to the coarse reason code
// surfaced to callers. The bool is false for infrastructure errors.
func rejectionReason(err error) (string, bool) {
	switch {
	case errors.Is(err, keysvc.ErrKeyNotFound):
		return "key_not_found", true
	case errors.Is(err, keysvc.ErrKeyRevoked):
		return "key_revoked", true
	case errors.Is(err, keysvc.ErrKeyExpired):
		return "key_expired", true
	case errors.Is(err, keysvc.ErrUsageLimitExceeded):
		return "usage_limit_exceeded", true
	default:
		return "", false
	}
}

// respondKeyError translates manager errors into HTTP responses. Lifecycle
// rejections get their reason code in the body; infrastructure failures
// deliberately do not echo internal error text.
func respondKeyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, keysvc.ErrKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Key not found", "reason": "key_not_found"})
	case errors.Is(err, keysvc.ErrKeyRevoked):
		c.JSON(http.StatusGone, gin.H{"error": "Key has been revoked", "reason": "key_revoked"})
	case errors.Is(err, keysvc.ErrKeyExpired):
		c.JSON(http.StatusGone, gin.H{"error": "Key has expired", "reason": "key_expired"})
	case errors.Is(err, keysvc.ErrUsageLimitExceeded):
		c.JSON(http.StatusGone, gin.H{"error": "Key usage limit exceeded", "reason": "usage_limit_exceeded"})
	case errors.Is(err, keysvc.ErrInvalidKeyType):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid key type", "reason": "invalid_key_type"})
	case errors.Is(err, keysvc.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage temporarily unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
