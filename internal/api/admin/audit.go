package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/db/repositories"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 500
)

// @Summary      Query the key usage audit log
// @Description  Returns key lifecycle audit entries, newest first, filtered by key, user, action, outcome, and time window.
// @Tags         Admin
// @Produce      json
// @Param        key_id   query  string  false  "Filter by key ID"
// @Param        user_id  query  string  false  "Filter by acting user"
// @Param        action   query  string  false  "Filter by action (key.generate, key.use, key.rotate, key.revoke, key.get)"
// @Param        success  query  bool    false  "Filter by outcome"
// @Param        start    query  string  false  "RFC3339 lower bound"
// @Param        end      query  string  false  "RFC3339 upper bound"
// @Param        limit    query  int     false  "Page size (default 50, max 500)"
// @Param        offset   query  int     false  "Page offset"
// @Success      200  {object}  map[string]interface{}  "logs, total, limit, offset"
// @Failure      400  {object}  map[string]interface{}  "Malformed filter"
// @Router       /v1/admin/audit/keys [get]
// KeyUsageLogsHandler handles key audit queries
func KeyUsageLogsHandler(repo *repositories.KeyUsageLogRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		filters, err := parseKeyUsageFilters(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		limit, offset := parsePagination(c)

		logs, total, err := repo.ListKeyUsageLogs(c.Request.Context(), filters, limit, offset)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage temporarily unavailable"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"logs":   logs,
			"total":  total,
			"limit":  limit,
			"offset": offset,
		})
	}
}

// @Summary      Query download attempts for a token
// @Description  Returns every recorded validation and consumption attempt against the given token, pass or fail.
// @Tags         Admin
// @Produce      json
// @Param        id  path  string  true  "Token record ID"
// @Success      200  {object}  map[string]interface{}  "attempts"
// @Router       /v1/admin/audit/tokens/{id}/attempts [get]
// DownloadAttemptsHandler handles per-token attempt queries
func DownloadAttemptsHandler(repo *repositories.DownloadAttemptRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		attempts, err := repo.ListDownloadAttemptsByToken(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage temporarily unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"attempts": attempts})
	}
}

// @Summary      Count recent failed attempts from an IP
// @Description  Returns how many failed download attempts the given IP produced in the last N minutes. Useful for abuse triage.
// @Tags         Admin
// @Produce      json
// @Param        ip       query  string  true   "Requester IP"
// @Param        minutes  query  int     false  "Window in minutes (default 60)"
// @Success      200  {object}  map[string]interface{}  "ip, failures, window_minutes"
// @Failure      400  {object}  map[string]interface{}  "Missing ip parameter"
// @Router       /v1/admin/audit/failures [get]
// RecentFailuresHandler handles per-IP failure counts
func RecentFailuresHandler(repo *repositories.DownloadAttemptRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.Query("ip")
		if ip == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ip query parameter is required"})
			return
		}
		minutes := 60
		if raw := c.Query("minutes"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "minutes must be a positive integer"})
				return
			}
			minutes = parsed
		}

		count, err := repo.CountRecentFailures(c.Request.Context(), ip, time.Now().Add(-time.Duration(minutes)*time.Minute))
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage temporarily unavailable"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"ip":             ip,
			"failures":       count,
			"window_minutes": minutes,
		})
	}
}

// parseKeyUsageFilters builds repository filters from query parameters
func parseKeyUsageFilters(c *gin.Context) (repositories.KeyUsageFilters, error) {
	var filters repositories.KeyUsageFilters

	if v := c.Query("key_id"); v != "" {
		filters.KeyID = &v
	}
	if v := c.Query("user_id"); v != "" {
		filters.UserID = &v
	}
	if v := c.Query("action"); v != "" {
		filters.Action = &v
	}
	if v := c.Query("success"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return filters, strconvBoolError("success", v)
		}
		filters.Success = &parsed
	}
	if v := c.Query("start"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, timeParseError("start", v)
		}
		filters.StartDate = &parsed
	}
	if v := c.Query("end"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, timeParseError("end", v)
		}
		filters.EndDate = &parsed
	}
	return filters, nil
}

// parsePagination returns a bounded limit/offset pair
func parsePagination(c *gin.Context) (int, int) {
	limit := defaultAuditPageSize
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxAuditPageSize {
		limit = maxAuditPageSize
	}

	offset := 0
	if raw := c.Query("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			offset = parsed
		}
	}
	return limit, offset
}

type filterError struct{ msg string }

func (e filterError) Error() string { return e.msg }

func strconvBoolError(name, value string) error {
	return filterError{msg: name + " must be true or false, got " + strconv.Quote(value)}
}

func timeParseError(name, value string) error {
	return filterError{msg: name + " must be an RFC3339 timestamp, got " + strconv.Quote(value)}
}
