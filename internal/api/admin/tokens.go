package admin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	tokensvc "github.com/JoeLogavina/METENZI-B2B-sub007/internal/tokens"
)

// @Summary      Revoke a download token
// @Description  Revokes the token by its record ID. Once revoked, no further validation can succeed even before expiry. Revoking twice is a no-op success.
// @Tags         Admin
// @Produce      json
// @Param        id  path  string  true  "Token record ID"
// @Success      200  {object}  map[string]interface{}  "revoked: true"
// @Failure      404  {object}  map[string]interface{}  "Token not found"
// @Router       /v1/admin/tokens/{id}/revoke [post]
// RevokeTokenHandler handles administrative token revocation
func RevokeTokenHandler(service *tokensvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := service.Revoke(c.Request.Context(), c.Param("id")); err != nil {
			switch {
			case errors.Is(err, tokensvc.ErrTokenNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "Token not found"})
			case errors.Is(err, tokensvc.ErrStorageUnavailable):
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage temporarily unavailable"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"revoked": true})
	}
}

// @Summary      Sweep expired tokens
// @Description  Marks every expired, still-open token consumed immediately, without waiting for the scheduled sweep.
// @Tags         Admin
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "swept"
// @Router       /v1/admin/tokens/sweep [post]
// SweepTokensHandler triggers an immediate expired-token sweep
func SweepTokensHandler(service *tokensvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		swept, err := service.SweepExpired(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage temporarily unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"swept": swept})
	}
}
