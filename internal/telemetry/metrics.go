// Package telemetry provides application-level observability for the key
// protection service.
//
// All metrics are registered against the default Prometheus registry and are
// served on a side-channel HTTP server started by main.go:
//
//	GET http://<host>:<DKP_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router so it stays
// off the public ingress and clear of the validation rate limiter.
//
// HTTP metrics use c.FullPath() (route template such as /v1/keys/:id/use)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as token values.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Key lifecycle metrics.
//
// KeyOperationsTotal is a CounterVec with labels {operation, outcome}.
// "operation" is one of generate, use, rotate, revoke; "outcome" is "success"
// or the rejection reason (key_revoked, key_expired, usage_limit_exceeded,
// key_not_found, storage_unavailable, decryption_failed).
//
// Example PromQL queries:
//   - Rejection rate:  sum(rate(key_operations_total{outcome!="success"}[5m]))
//   - Uses per hour:   sum(rate(key_operations_total{operation="use",outcome="success"}[1h]))
var KeyOperationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "key_operations_total",
		Help: "Total number of digital key operations, by operation and outcome.",
	},
	[]string{"operation", "outcome"},
)

// CryptoOperationDuration is a HistogramVec with label {operation} (encrypt,
// decrypt, rotate) tracking envelope cipher latency. PBKDF2 key derivation
// dominates; a shift in p99 usually means an iteration-count change.
var CryptoOperationDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "crypto_operation_duration_seconds",
		Help:    "Histogram of envelope cipher operation latencies, by operation.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	},
	[]string{"operation"},
)

// Download token metrics.
//
// TokenValidationsTotal is a CounterVec with label {outcome}: "valid" or the
// rejection reason (token_not_found, token_expired, token_consumed,
// ip_not_allowed, rate_limited, storage_unavailable).
//
// Example PromQL queries:
//   - Abuse signal:  rate(token_validations_total{outcome="rate_limited"}[5m])
//   - Failure mix:   sum by (outcome) (rate(token_validations_total[1h]))
var (
	TokenValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_validations_total",
			Help: "Total number of download token validation attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	TokensIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokens_issued_total",
			Help: "Total number of download tokens issued, by resource type.",
		},
		[]string{"resource_type"},
	)

	ResourceDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resource_downloads_total",
			Help: "Total number of completed, token-gated resource downloads, by resource type.",
		},
		[]string{"resource_type"},
	)

	ResourceDownloadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resource_download_bytes_total",
			Help: "Total number of resource bytes delivered through consumed tokens.",
		},
	)
)

// RateLimitedTotal is a plain Counter incremented once per request rejected by
// the validation rate limiter, regardless of limiter backend (redis or
// in-process). An alert on a sustained non-zero rate is a brute-force signal.
var RateLimitedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "rate_limited_requests_total",
		Help: "Total number of requests rejected by the validation rate limiter.",
	},
)

// AuditShipFailuresTotal counts audit entries that could not be shipped to an
// external destination. Shipping is best effort, so this counter is the only
// place those failures surface besides the Warn log.
var AuditShipFailuresTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "audit_ship_failures_total",
		Help: "Total number of audit entries that failed to ship to an external destination.",
	},
)

// DBOpenConnections is a Gauge that tracks the number of open connections
// currently held by the sql.DB pool. It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of
// sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates the
// DBOpenConnections gauge. The goroutine exits cleanly when the database
// becomes unreachable (db.Ping fails), which happens automatically when the
// application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
