// Package admin implements the administrative HTTP surface: key revocation
// and rotation, token revocation, resource uploads, and audit queries. Every
// route in this package sits behind the AdminToken credential middleware; the
// handlers themselves assume an authenticated operator.
package admin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	keysvc "github.com/JoeLogavina/METENZI-B2B-sub007/internal/keys"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/keystore"
)

// revokeKeyRequest is the body of POST /v1/admin/keys/:id/revoke
type revokeKeyRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// @Summary      Revoke a digital key
// @Description  Marks the key revoked. Revoking an already-revoked key is a no-op success and preserves the original revocation record.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        id       path  string            true  "Key ID"
// @Param        request  body  revokeKeyRequest  true  "Revocation reason"
// @Success      200  {object}  map[string]interface{}  "revoked: true"
// @Failure      404  {object}  map[string]interface{}  "Key not found"
// @Router       /v1/admin/keys/{id}/revoke [post]
// RevokeKeyHandler handles administrative key revocation
func RevokeKeyHandler(manager *keysvc.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req revokeKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		if err := manager.RevokeKey(c.Request.Context(), c.Param("id"), adminActor, req.Reason); err != nil {
			respondKeyAdminError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"revoked": true})
	}
}

// @Summary      Rotate a key's envelope
// @Description  Re-encrypts the key's stored envelope under the current master secret. Usage counters and lifecycle state are unchanged; the envelope fingerprint changes.
// @Tags         Admin
// @Produce      json
// @Param        id  path  string  true  "Key ID"
// @Success      200  {object}  map[string]interface{}  "key"
// @Failure      404  {object}  map[string]interface{}  "Key not found"
// @Failure      503  {object}  map[string]interface{}  "No master secret available"
// @Router       /v1/admin/keys/{id}/rotate [post]
// RotateKeyHandler handles administrative envelope rotation. Rotation always
// targets the keystore's current master secret, so the flow is: rotate the
// secret at the keystore (file reload or restart), then rotate each key.
func RotateKeyHandler(manager *keysvc.Manager, keys keystore.Keystore) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret, err := keys.Current()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Master secret unavailable"})
			return
		}

		key, err := manager.RotateKey(c.Request.Context(), c.Param("id"), secret)
		if err != nil {
			respondKeyAdminError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"key": key})
	}
}

// @Summary      Look a key up by fingerprint
// @Description  Returns the key whose envelope matches the given fingerprint. Fingerprints index envelopes without exposing plaintext.
// @Tags         Admin
// @Produce      json
// @Param        fingerprint  path  string  true  "Envelope fingerprint"
// @Success      200  {object}  map[string]interface{}  "key"
// @Failure      404  {object}  map[string]interface{}  "No key with that fingerprint"
// @Router       /v1/admin/keys/fingerprint/{fingerprint} [get]
// KeyByFingerprintHandler handles fingerprint lookups
func KeyByFingerprintHandler(manager *keysvc.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := manager.GetDigitalKeyByFingerprint(c.Request.Context(), c.Param("fingerprint"))
		if err != nil {
			respondKeyAdminError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"key": key})
	}
}

// adminActor is the identity written to audit rows for operator-initiated
// lifecycle calls. Operators authenticate with a shared credential, not a
// user account.
const adminActor = "admin"

// respondKeyAdminError translates manager errors into HTTP responses
func respondKeyAdminError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, keysvc.ErrKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
	case errors.Is(err, keysvc.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage temporarily unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
