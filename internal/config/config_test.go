package config

import (
	"os"
	"path/filepath"
	"testing"
)

// ---------------------------------------------------------------------------
// DatabaseConfig.GetDSN
// ---------------------------------------------------------------------------

func TestGetDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "standard config",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "keyprotect",
				Password: "secret",
				Name:     "key_protection",
				SSLMode:  "require",
			},
			want: "host=localhost port=5432 user=keyprotect password=secret dbname=key_protection sslmode=require",
		},
		{
			name: "disable ssl mode",
			cfg: DatabaseConfig{
				Host:     "db.example.com",
				Port:     5433,
				User:     "admin",
				Password: "pass",
				Name:     "mydb",
				SSLMode:  "disable",
			},
			want: "host=db.example.com port=5433 user=admin password=pass dbname=mydb sslmode=disable",
		},
		{
			name: "empty password",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "user",
				Password: "",
				Name:     "dbname",
				SSLMode:  "prefer",
			},
			want: "host=localhost port=5432 user=user password= dbname=dbname sslmode=prefer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetDSN(); got != tt.want {
				t.Errorf("GetDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "test-master-secret-value")

	cfg, err := Load(writeConfigFile(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Keys.DefaultMaxUses != 1 {
		t.Errorf("Keys.DefaultMaxUses = %d, want 1", cfg.Keys.DefaultMaxUses)
	}
	if cfg.Tokens.DefaultExpiryMinutes != 60 {
		t.Errorf("Tokens.DefaultExpiryMinutes = %d, want 60", cfg.Tokens.DefaultExpiryMinutes)
	}
	if cfg.Tokens.DefaultMaxDownloads != 1 {
		t.Errorf("Tokens.DefaultMaxDownloads = %d, want 1", cfg.Tokens.DefaultMaxDownloads)
	}
	if cfg.Storage.DefaultBackend != "local" {
		t.Errorf("Storage.DefaultBackend = %q, want local", cfg.Storage.DefaultBackend)
	}
	if !cfg.Security.RateLimiting.Enabled {
		t.Error("Security.RateLimiting.Enabled = false, want true")
	}
	if cfg.Security.EncryptionKey != "test-master-secret-value" {
		t.Errorf("Security.EncryptionKey = %q, want ENCRYPTION_KEY value", cfg.Security.EncryptionKey)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "test-master-secret-value")
	t.Setenv("DKP_SERVER_PORT", "9999")
	t.Setenv("DKP_DATABASE_HOST", "db.internal")
	t.Setenv("DKP_TOKENS_DEFAULT_MAX_DOWNLOADS", "3")

	cfg, err := Load(writeConfigFile(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Database.Host != "db.internal" {
		t.Errorf("Database.Host = %q, want db.internal", cfg.Database.Host)
	}
	if cfg.Tokens.DefaultMaxDownloads != 3 {
		t.Errorf("Tokens.DefaultMaxDownloads = %d, want 3", cfg.Tokens.DefaultMaxDownloads)
	}
}

func TestLoadRequiresEncryptionKey(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "")

	if _, err := Load(writeConfigFile(t, "{}\n")); err == nil {
		t.Error("Load() without an encryption key succeeded, want error")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "test-master-secret-value")

	yaml := `
server:
  port: 8443
tokens:
  default_expiry_minutes: 15
storage:
  default_backend: s3
  s3:
    bucket: protected-resources
    region: eu-central-1
`
	cfg, err := Load(writeConfigFile(t, yaml))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8443 {
		t.Errorf("Server.Port = %d, want 8443", cfg.Server.Port)
	}
	if cfg.Tokens.DefaultExpiryMinutes != 15 {
		t.Errorf("Tokens.DefaultExpiryMinutes = %d, want 15", cfg.Tokens.DefaultExpiryMinutes)
	}
	if cfg.Storage.S3.Bucket != "protected-resources" {
		t.Errorf("Storage.S3.Bucket = %q", cfg.Storage.S3.Bucket)
	}
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 8080},
			Security: SecurityConfig{EncryptionKey: "test-master-secret-value"},
			Keys:     KeysConfig{DefaultMaxUses: 1},
			Tokens:   TokensConfig{DefaultMaxDownloads: 1},
			Storage:  StorageConfig{DefaultBackend: "local"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"no master secret", func(c *Config) { c.Security.EncryptionKey = "" }, true},
		{"key file alone is enough", func(c *Config) {
			c.Security.EncryptionKey = ""
			c.Security.EncryptionKeyFile = "/run/secrets/master.key"
		}, false},
		{"zero max uses", func(c *Config) { c.Keys.DefaultMaxUses = 0 }, true},
		{"zero max downloads", func(c *Config) { c.Tokens.DefaultMaxDownloads = 0 }, true},
		{"unknown backend", func(c *Config) { c.Storage.DefaultBackend = "ftp" }, true},
		{"rate limiting misconfigured", func(c *Config) {
			c.Security.RateLimiting = RateLimitConfig{Enabled: true, RequestsPerMinute: 0, Burst: 1}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// expandEnv
// ---------------------------------------------------------------------------

func TestExpandEnv(t *testing.T) {
	t.Setenv("DKP_TEST_SECRET", "resolved")

	if got := expandEnv("${DKP_TEST_SECRET}"); got != "resolved" {
		t.Errorf("expandEnv(ref) = %q, want resolved", got)
	}
	if got := expandEnv("literal"); got != "literal" {
		t.Errorf("expandEnv(literal) = %q", got)
	}
	if got := expandEnv(""); got != "" {
		t.Errorf("expandEnv(empty) = %q", got)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}
