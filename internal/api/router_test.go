package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/config"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 8080},
		Storage: config.StorageConfig{
			DefaultBackend: "local",
			Local:          config.LocalStorageConfig{BasePath: t.TempDir()},
		},
		Security: config.SecurityConfig{
			EncryptionKey: "router-test-master-secret-01",
			RateLimiting: config.RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 600,
				Burst:             100,
			},
		},
		Keys:    config.KeysConfig{DefaultMaxUses: 1},
		Tokens:  config.TokensConfig{DefaultExpiryMinutes: 60, DefaultMaxDownloads: 1, SweepInterval: time.Hour},
		Logging: config.LoggingConfig{Level: "info", Format: "json"},
	}
}

func newTestServer(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	router, bg := NewRouter(testConfig(t), db)
	t.Cleanup(bg.Shutdown)

	return router, mock
}

func doRequest(router *gin.Engine, method, url string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	router, mock := newTestServer(t)
	mock.ExpectPing()

	w := doRequest(router, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestReadyEndpoint(t *testing.T) {
	router, mock := newTestServer(t)
	mock.ExpectPing()

	w := doRequest(router, http.MethodGet, "/ready", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestVersionEndpoint(t *testing.T) {
	router, _ := newTestServer(t)

	w := doRequest(router, http.MethodGet, "/version", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestKeysEndpointRequiresIdentity(t *testing.T) {
	router, _ := newTestServer(t)

	w := doRequest(router, http.MethodGet, "/v1/keys", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity header, got %d", w.Code)
	}
}

func TestAdminEndpointsDisabledWithoutCredentialHash(t *testing.T) {
	router, _ := newTestServer(t)

	w := doRequest(router, http.MethodPost, "/v1/admin/tokens/sweep", map[string]string{
		"Authorization": "AdminToken whatever",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with no admin hash configured, got %d", w.Code)
	}
}

func TestSecurityHeadersApplied(t *testing.T) {
	router, _ := newTestServer(t)

	w := doRequest(router, http.MethodGet, "/version", nil)
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected nosniff header, got %q", got)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	router, _ := newTestServer(t)

	w := doRequest(router, http.MethodGet, "/version", nil)
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Fatal("expected a request id response header")
	}
}
