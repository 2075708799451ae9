// Package downloads implements the HTTP surface of the download token
// service: issuing tokens, validating them, listing a user's tokens, and the
// token-gated resource retrieval endpoint. Resource bytes always stream
// through this service — there are no signed URLs — so every retrieval passes
// the validation pipeline and is counted against the token.
package downloads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/db/models"
	keysvc "github.com/JoeLogavina/METENZI-B2B-sub007/internal/keys"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/middleware"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/storage"
	tokensvc "github.com/JoeLogavina/METENZI-B2B-sub007/internal/tokens"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/validation"
)

// issueRequest is the body of POST /v1/tokens
type issueRequest struct {
	ResourceID    string   `json:"resource_id" binding:"required"`
	ResourceType  string   `json:"resource_type" binding:"required"`
	ExpiryMinutes int      `json:"expiry_minutes"`
	MaxDownloads  int      `json:"max_downloads"`
	IPAllowlist   []string `json:"ip_allowlist"`
	FileName      string   `json:"file_name"`
	FileSize      *int64   `json:"file_size"`
	Checksum      string   `json:"checksum"`
}

// validateRequest is the body of POST /v1/tokens/validate
type validateRequest struct {
	Token string `json:"token" binding:"required"`
}

// @Summary      Issue a download token
// @Description  Issues a short-lived download token for a resource. The raw token value is returned exactly once; only its digest is stored.
// @Tags         Tokens
// @Accept       json
// @Produce      json
// @Param        request  body  issueRequest  true  "Token parameters"
// @Success      201  {object}  map[string]interface{}  "token, record"
// @Failure      400  {object}  map[string]interface{}  "Invalid request body or resource identifier"
// @Failure      404  {object}  map[string]interface{}  "Stored resource not found"
// @Router       /v1/tokens [post]
// IssueHandler handles token issuance requests
func IssueHandler(service *tokensvc.Service, store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req issueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		if err := validation.ValidateResourceType(req.ResourceType); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := validation.ValidateResourceID(req.ResourceID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		// For stored resources, refuse to issue a token that could never be
		// redeemed. License keys live in the database, not the object store.
		if req.ResourceType != models.ResourceTypeLicenseKey {
			exists, err := store.Exists(c.Request.Context(), validation.ResourcePath(req.ResourceType, req.ResourceID))
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Resource store temporarily unavailable"})
				return
			}
			if !exists {
				c.JSON(http.StatusNotFound, gin.H{"error": "Resource not found"})
				return
			}
		}

		issued, err := service.Issue(c.Request.Context(), req.ResourceID, req.ResourceType, middleware.UserID(c), tokensvc.IssueOptions{
			ExpiryMinutes: req.ExpiryMinutes,
			MaxDownloads:  req.MaxDownloads,
			IPAllowlist:   req.IPAllowlist,
			FileName:      req.FileName,
			FileSize:      req.FileSize,
			Checksum:      req.Checksum,
		})
		if err != nil {
			respondTokenError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"token":  issued.Value,
			"record": issued.Record,
		})
	}
}

// @Summary      List download tokens
// @Description  Returns the download tokens issued to the calling user. Raw token values are unrecoverable.
// @Tags         Tokens
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "tokens"
// @Router       /v1/tokens [get]
// ListHandler handles token listing requests
func ListHandler(service *tokensvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := service.ListTokens(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			respondTokenError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tokens": list})
	}
}

// @Summary      Validate a download token
// @Description  Runs the validation pipeline against a token value without consuming a download. Every attempt, pass or fail, is recorded.
// @Tags         Tokens
// @Accept       json
// @Produce      json
// @Param        request  body  validateRequest  true  "Token value"
// @Success      200  {object}  map[string]interface{}  "valid, reason, token"
// @Failure      400  {object}  map[string]interface{}  "Invalid request body"
// @Router       /v1/tokens/validate [post]
// ValidateHandler handles non-consuming token checks
func ValidateHandler(service *tokensvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		result, err := service.Validate(c.Request.Context(), req.Token, requestContext(c))
		if err != nil {
			respondTokenError(c, err)
			return
		}
		if !result.Valid {
			c.JSON(http.StatusOK, gin.H{"valid": false, "reason": result.Reason})
			return
		}
		c.JSON(http.StatusOK, gin.H{"valid": true, "token": result.Token})
	}
}

// @Summary      Download a protected resource
// @Description  Redeems a download token and streams the resource. For license-key tokens the key itself is delivered, consuming one key use and one token download. The download is counted only after the bytes were fully delivered.
// @Tags         Resources
// @Produce      octet-stream
// @Param        token  path  string  true  "Raw download token value"
// @Success      200  {file}  binary  "Resource bytes"
// @Failure      403  {object}  map[string]interface{}  "Requester IP not on the token's allow-list"
// @Failure      404  {object}  map[string]interface{}  "Unknown token or missing resource"
// @Failure      410  {object}  map[string]interface{}  "Token or key expired, consumed, or revoked"
// @Failure      429  {object}  map[string]interface{}  "Validation rate exceeded"
// @Router       /v1/resources/{token} [get]
// DownloadHandler handles token-gated resource retrieval
func DownloadHandler(service *tokensvc.Service, manager *keysvc.Manager, store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		value := c.Param("token")
		rc := requestContext(c)

		result, err := service.Validate(c.Request.Context(), value, rc)
		if err != nil {
			respondTokenError(c, err)
			return
		}
		if !result.Valid {
			respondRejection(c, result.Reason)
			return
		}
		token := result.Token

		if token.ResourceType == models.ResourceTypeLicenseKey {
			deliverLicenseKey(c, service, manager, value, token, rc)
			return
		}

		reader, err := store.Retrieve(c.Request.Context(), validation.ResourcePath(token.ResourceType, token.ResourceID))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Resource not found"})
				return
			}
			slog.Error("resource retrieval failed",
				"resource_id", token.ResourceID,
				"error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Resource store temporarily unavailable"})
			return
		}
		defer reader.Close()

		c.Header("Content-Type", "application/octet-stream")
		if token.FileName != nil {
			c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", *token.FileName))
		}
		if token.FileSize != nil {
			c.Header("Content-Length", strconv.FormatInt(*token.FileSize, 10))
		}
		if token.Checksum != nil {
			c.Header("X-Checksum-SHA256", *token.Checksum)
		}
		c.Status(http.StatusOK)

		start := time.Now()
		written, err := io.Copy(c.Writer, reader)
		durationMs := time.Since(start).Milliseconds()
		if err != nil {
			// Headers are already on the wire; all we can do is not count the
			// partial transfer as a redeemed download.
			slog.Warn("resource stream aborted",
				"resource_id", token.ResourceID,
				"bytes_sent", written,
				"error", err)
			return
		}

		// The request context dies with the client connection, and clients
		// routinely disconnect the instant the last byte lands. A delivered
		// download must be counted regardless, so the consume step runs on a
		// context that survives cancellation.
		consumeCtx := context.WithoutCancel(c.Request.Context())
		if _, err := service.Consume(consumeCtx, value, written, durationMs, rc); err != nil {
			// The bytes were delivered but the counted redemption lost a race
			// or hit storage trouble. The attempt log still has the delivery.
			slog.Warn("download consumption failed after delivery",
				"token_id", token.ID,
				"bytes_sent", written,
				"error", err)
		}
	}
}

// deliverLicenseKey redeems a license-key token: the plaintext lives in the
// database behind the key manager, not the object store. One key use and one
// token download are consumed, each atomically on its own row; the key gate
// runs first so a rejected key never burns the token.
func deliverLicenseKey(c *gin.Context, service *tokensvc.Service, manager *keysvc.Manager, value string, token *models.DownloadToken, rc tokensvc.RequestContext) {
	if manager == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Token does not reference a downloadable resource"})
		return
	}

	result, err := manager.UseDigitalKey(c.Request.Context(), token.ResourceID, token.UserID, rc.IP)
	if err != nil {
		respondKeyRejection(c, err)
		return
	}

	fileName := token.ResourceID + ".key"
	if token.FileName != nil {
		fileName = *token.FileName
	}
	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))

	start := time.Now()
	c.String(http.StatusOK, result.PlainSecret)
	durationMs := time.Since(start).Milliseconds()

	consumeCtx := context.WithoutCancel(c.Request.Context())
	if _, err := service.Consume(consumeCtx, value, int64(len(result.PlainSecret)), durationMs, rc); err != nil {
		slog.Warn("download consumption failed after delivery",
			"token_id", token.ID,
			"error", err)
	}
}

// respondKeyRejection maps key lifecycle errors on the download path
func respondKeyRejection(c *gin.Context, err error) {
	switch {
	case errors.Is(err, keysvc.ErrKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
	case errors.Is(err, keysvc.ErrKeyRevoked), errors.Is(err, keysvc.ErrKeyExpired), errors.Is(err, keysvc.ErrUsageLimitExceeded):
		c.JSON(http.StatusGone, gin.H{"error": "Key is no longer usable"})
	case errors.Is(err, keysvc.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage temporarily unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// requestContext captures the requester's network identity for the gate
// pipeline and the attempt log.
func requestContext(c *gin.Context) tokensvc.RequestContext {
	return tokensvc.RequestContext{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// respondRejection maps a gate pipeline reason code to an HTTP status
func respondRejection(c *gin.Context, reason string) {
	status := http.StatusForbidden
	switch reason {
	case tokensvc.ReasonTokenNotFound:
		status = http.StatusNotFound
	case tokensvc.ReasonTokenExpired, tokensvc.ReasonTokenConsumed, tokensvc.ReasonTokenRevoked:
		status = http.StatusGone
	case tokensvc.ReasonRateLimited:
		c.Header("Retry-After", "60")
		status = http.StatusTooManyRequests
	}
	c.JSON(status, gin.H{"error": "Download not authorized", "reason": reason})
}

// respondTokenError translates service errors into HTTP responses
func respondTokenError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tokensvc.ErrTokenNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Token not found", "reason": tokensvc.ReasonTokenNotFound})
	case errors.Is(err, tokensvc.ErrTokenExpired):
		c.JSON(http.StatusGone, gin.H{"error": "Token has expired", "reason": tokensvc.ReasonTokenExpired})
	case errors.Is(err, tokensvc.ErrTokenConsumed):
		c.JSON(http.StatusGone, gin.H{"error": "Token has been fully consumed", "reason": tokensvc.ReasonTokenConsumed})
	case errors.Is(err, tokensvc.ErrTokenRevoked):
		c.JSON(http.StatusGone, gin.H{"error": "Token has been revoked", "reason": tokensvc.ReasonTokenRevoked})
	case errors.Is(err, tokensvc.ErrIPNotAllowed):
		c.JSON(http.StatusForbidden, gin.H{"error": "Requester IP not allowed", "reason": tokensvc.ReasonIPNotAllowed})
	case errors.Is(err, tokensvc.ErrRateLimited):
		c.Header("Retry-After", "60")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded", "reason": tokensvc.ReasonRateLimited})
	case errors.Is(err, tokensvc.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage temporarily unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
