package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request identifier on the wire.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key holding the request ID, so the
	// access logger and handlers can read it without touching headers.
	RequestIDKey = "request_id"
)

// RequestIDMiddleware tags every request with an identifier. An inbound
// X-Request-ID from a gateway or load balancer is reused unchanged; otherwise
// a fresh UUID v4 is minted. The ID lands in the gin.Context under
// RequestIDKey, in every access log line, and in the response header, which
// is how a client-reported download failure gets matched to its key usage
// and token consumption log entries.
//
// Register it before the logging middleware so every line carries the ID.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)

		// Echoed back so callers can quote the ID when reporting a failure.
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}
