// Package api wires the HTTP surface of the key protection service: the Gin
// router, the middleware chain, and the long-lived services the handlers
// depend on (the key manager, the token service, the resource store, the
// audit recorder, and the rate limiters).
//
// Authentication of end users is delegated to the fronting gateway, which
// injects the caller identity as a trusted header. Administrative routes are
// guarded separately by a static bcrypt-hashed credential so that revocation
// and rotation remain possible even when the gateway is the thing that broke.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	adminapi "github.com/JoeLogavina/METENZI-B2B-sub007/internal/api/admin"
	downloadapi "github.com/JoeLogavina/METENZI-B2B-sub007/internal/api/downloads"
	keyapi "github.com/JoeLogavina/METENZI-B2B-sub007/internal/api/keys"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/audit"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/config"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/crypto"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/db/repositories"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/jobs"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/keys"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/keystore"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/middleware"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/ratelimit"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/storage"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/tokens"

	// Import storage backends to register them
	_ "github.com/JoeLogavina/METENZI-B2B-sub007/internal/storage/azure"
	_ "github.com/JoeLogavina/METENZI-B2B-sub007/internal/storage/gcs"
	_ "github.com/JoeLogavina/METENZI-B2B-sub007/internal/storage/local"
	_ "github.com/JoeLogavina/METENZI-B2B-sub007/internal/storage/s3"
)

// BackgroundServices holds references to background goroutines and resources
// that must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal.
type BackgroundServices struct {
	tokenSweeper *jobs.TokenSweeper
	memLimiters  []*ratelimit.Memory
	keystore     keystore.Keystore
	shipper      audit.Shipper
	redisClient  *redis.Client
}

// Shutdown stops all background goroutines and closes held resources. It
// should be called after the HTTP server has been shut down so that in-flight
// requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.tokenSweeper != nil {
		bg.tokenSweeper.Stop()
	}
	for _, limiter := range bg.memLimiters {
		limiter.Stop()
	}
	if file, ok := bg.keystore.(*keystore.File); ok {
		if err := file.Close(); err != nil {
			slog.Warn("keystore close failed", "error", err)
		}
	}
	if bg.shipper != nil {
		if err := bg.shipper.Close(); err != nil {
			slog.Warn("audit shipper close failed", "error", err)
		}
	}
	if bg.redisClient != nil {
		if err := bg.redisClient.Close(); err != nil {
			slog.Warn("redis close failed", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Initialize storage backend
	store, err := storage.NewStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage backend: %v", err)
	}
	log.Printf("Initialized storage backend: %s", cfg.Storage.DefaultBackend)

	// Master secret keystore: file-backed (hot-reloadable) when configured,
	// otherwise static from config/environment.
	ks, err := newKeystore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize keystore: %v", err)
	}

	// Audit shipping to external destinations (additive; rows are durable
	// regardless).
	shipper, err := newShipper(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize audit shipper: %v", err)
	}

	// Initialize repositories
	sqlxDB := sqlx.NewDb(db, "postgres")
	keyRepo := repositories.NewDigitalKeyRepository(db)
	tokenRepo := repositories.NewDownloadTokenRepository(db)
	keyLogRepo := repositories.NewKeyUsageLogRepository(db)
	attemptRepo := repositories.NewDownloadAttemptRepository(sqlxDB)

	recorder := audit.NewRecorder(keyLogRepo, attemptRepo, shipper)

	// Rate limiters: a shared Redis backend when configured, otherwise
	// in-process token buckets. The validation limiter feeds the token
	// service's gate pipeline; the HTTP limiter guards the issuance surface.
	bg := &BackgroundServices{keystore: ks, shipper: shipper}
	limiterConfig := ratelimit.Config{
		RequestsPerMinute: cfg.Security.RateLimiting.RequestsPerMinute,
		BurstSize:         cfg.Security.RateLimiting.Burst,
	}
	var validationLimiter, httpLimiter ratelimit.Limiter
	if cfg.Security.RateLimiting.Enabled {
		validationLimiter = newLimiter(cfg, limiterConfig, bg)
		httpLimiter = newLimiter(cfg, limiterConfig, bg)
	}

	// Domain services
	manager := keys.NewManager(keyRepo, crypto.NewEnvelopeCipher(ks), recorder, cfg.Keys.DefaultMaxUses)
	manager.SetQueryTimeout(cfg.Database.QueryTimeout)
	tokenService := tokens.NewService(tokenRepo, validationLimiter, recorder, cfg.Tokens.DefaultExpiryMinutes, cfg.Tokens.DefaultMaxDownloads)
	tokenService.SetQueryTimeout(cfg.Database.QueryTimeout)

	// Expired-token sweeper
	sweeper := jobs.NewTokenSweeper(tokenService, cfg.Tokens.SweepInterval)
	sweeper.Start(context.Background())
	bg.tokenSweeper = sweeper

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	router.Use(middleware.IdentityMiddleware())

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint (includes storage backend probe)
	router.GET("/ready", readinessHandler(db, store))

	// API version
	router.GET("/version", versionHandler())

	v1 := router.Group("/v1")
	if httpLimiter != nil {
		v1.Use(middleware.RateLimitMiddleware(httpLimiter))
	}
	{
		// Key lifecycle endpoints require a caller identity.
		keysGroup := v1.Group("/keys")
		keysGroup.Use(middleware.RequireIdentity())
		{
			keysGroup.POST("", keyapi.GenerateHandler(manager, tokenService, cfg.Server.BaseURL))
			keysGroup.GET("", keyapi.ListHandler(manager))
			keysGroup.GET("/:id", keyapi.GetHandler(manager))
			keysGroup.POST("/:id/validate", keyapi.ValidateHandler(manager))
			keysGroup.POST("/:id/use", keyapi.UseHandler(manager))
		}

		// Token issuance and listing require an identity; validation does
		// not, because download clients hold only the token.
		tokensGroup := v1.Group("/tokens")
		{
			tokensGroup.POST("/validate", downloadapi.ValidateHandler(tokenService))

			authed := tokensGroup.Group("")
			authed.Use(middleware.RequireIdentity())
			{
				authed.POST("", downloadapi.IssueHandler(tokenService, store))
				authed.GET("", downloadapi.ListHandler(tokenService))
			}
		}

		// Token-gated resource retrieval. The token itself is the capability;
		// no identity header is required.
		v1.GET("/resources/:token", downloadapi.DownloadHandler(tokenService, manager, store))

		// Administrative endpoints sit behind the static AdminToken credential.
		adminGroup := v1.Group("/admin")
		adminGroup.Use(middleware.AdminMiddleware(cfg.Security.AdminCredentialHash))
		{
			adminGroup.POST("/keys/:id/revoke", adminapi.RevokeKeyHandler(manager))
			adminGroup.POST("/keys/:id/rotate", adminapi.RotateKeyHandler(manager, ks))
			adminGroup.GET("/keys/fingerprint/:fingerprint", adminapi.KeyByFingerprintHandler(manager))

			adminGroup.POST("/tokens/:id/revoke", adminapi.RevokeTokenHandler(tokenService))
			adminGroup.POST("/tokens/sweep", adminapi.SweepTokensHandler(tokenService))

			adminGroup.PUT("/resources/:type/:id", adminapi.UploadResourceHandler(store))
			adminGroup.GET("/resources/:type/:id", adminapi.ResourceMetadataHandler(store))
			adminGroup.DELETE("/resources/:type/:id", adminapi.DeleteResourceHandler(store))

			adminGroup.GET("/audit/keys", adminapi.KeyUsageLogsHandler(keyLogRepo))
			adminGroup.GET("/audit/tokens/:id/attempts", adminapi.DownloadAttemptsHandler(attemptRepo))
			adminGroup.GET("/audit/failures", adminapi.RecentFailuresHandler(attemptRepo))
		}
	}

	return router, bg
}

// newKeystore selects the master secret source. A configured key file wins
// over the inline secret because it supports rotation without restart.
func newKeystore(cfg *config.Config) (keystore.Keystore, error) {
	if cfg.Security.EncryptionKeyFile != "" {
		return keystore.NewFile(cfg.Security.EncryptionKeyFile)
	}
	return keystore.NewStatic(cfg.Security.EncryptionKey)
}

// newShipper builds the audit shipper chain from configuration. Returns nil
// when no external destination is enabled.
func newShipper(cfg *config.Config) (audit.Shipper, error) {
	var shippers []audit.Shipper

	if cfg.Audit.File.Enabled {
		fs, err := audit.NewFileShipper(&audit.FileConfig{Path: cfg.Audit.File.Path})
		if err != nil {
			return nil, fmt.Errorf("file shipper: %w", err)
		}
		shippers = append(shippers, fs)
	}
	if cfg.Audit.Webhook.Enabled {
		ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{
			URL:     cfg.Audit.Webhook.URL,
			Headers: cfg.Audit.Webhook.Headers,
			Timeout: cfg.Audit.Webhook.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("webhook shipper: %w", err)
		}
		shippers = append(shippers, ws)
	}

	switch len(shippers) {
	case 0:
		return nil, nil
	case 1:
		return shippers[0], nil
	default:
		return audit.NewMultiShipper(shippers...), nil
	}
}

// newLimiter builds one rate limiter instance, Redis-backed when an address
// is configured. Memory limiters are registered for shutdown.
func newLimiter(cfg *config.Config, limiterConfig ratelimit.Config, bg *BackgroundServices) ratelimit.Limiter {
	if cfg.Redis.Addr != "" {
		if bg.redisClient == nil {
			bg.redisClient = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
		}
		return ratelimit.NewRedis(bg.redisClient, limiterConfig)
	}
	mem := ratelimit.NewMemory(limiterConfig)
	bg.memLimiters = append(bg.memLimiters, mem)
	return mem
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks database and resource store connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: dependency not ready"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also checks the resource store so
// that a Kubernetes readiness gate fails when uploads/downloads would error.
func readinessHandler(db *sql.DB, store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		// Check database connection
		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Check resource store — probe with a known-absent sentinel path.
		// Exists() exercises authentication and network connectivity without
		// creating any state.
		if _, err := store.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "resource store not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the current service and API versions.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		// Log the request
		if cfg.Logging.Format == "json" {
			logJSON(c, latency, path, query)
		} else {
			logText(c, latency, path, query)
		}
	}
}

// logJSON logs a request as a JSON-structured slog record.
func logJSON(c *gin.Context, latency time.Duration, path, query string) {
	requestID, _ := c.Get(middleware.RequestIDKey)
	slog.LogAttrs(
		c.Request.Context(),
		slog.LevelInfo,
		"http request",
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", fmt.Sprintf("%v", requestID)),
		slog.String("user_agent", c.Request.UserAgent()),
	)
}

// logText logs a request as a human-readable slog text record.
func logText(c *gin.Context, latency time.Duration, path, query string) {
	// reuse the same structured output; slog will emit text format when the global
	// handler is a TextHandler (configured in telemetry.SetupLogger).
	logJSON(c, latency, path, query)
}
