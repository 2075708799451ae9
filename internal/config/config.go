// Package config loads and validates the key-protection service configuration
// using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the DKP_ prefix (e.g., DKP_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment
// variables in containerized deployments.
//
// The ENCRYPTION_KEY variable has no DKP_ prefix because it may be injected by
// infrastructure tooling (e.g., Kubernetes secrets, Vault agent) that does not
// know the application-specific prefix and treats it as a generic secret name.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Security  SecurityConfig  `mapstructure:"security"`
	Keys      KeysConfig      `mapstructure:"keys"`
	Tokens    TokensConfig    `mapstructure:"tokens"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the host:port string the HTTP server listens on
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
	// QueryTimeout bounds every persistence call; on expiry the guarded
	// operation fails closed rather than waiting on a degraded database.
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

// GetDSN returns the PostgreSQL connection string
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// RedisConfig holds the optional Redis connection used for the shared
// rate-limiter counters. When Addr is empty the service falls back to an
// in-process limiter, which is only correct for single-instance deployments.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StorageConfig holds resource store backend configuration
type StorageConfig struct {
	DefaultBackend string             `mapstructure:"default_backend"`
	Local          LocalStorageConfig `mapstructure:"local"`
	S3             S3StorageConfig    `mapstructure:"s3"`
	Azure          AzureStorageConfig `mapstructure:"azure"`
	GCS            GCSStorageConfig   `mapstructure:"gcs"`
}

// LocalStorageConfig holds filesystem resource store configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// S3StorageConfig holds S3-compatible resource store configuration
type S3StorageConfig struct {
	// Endpoint is an optional S3-compatible endpoint URL (MinIO, Spaces, etc.)
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// AuthMethod selects credentials: "default" (AWS credential chain),
	// "static" (explicit keys), "oidc" (web identity), or "assume_role".
	AuthMethod           string `mapstructure:"auth_method"`
	AccessKeyID          string `mapstructure:"access_key_id"`
	SecretAccessKey      string `mapstructure:"secret_access_key"`
	RoleARN              string `mapstructure:"role_arn"`
	RoleSessionName      string `mapstructure:"role_session_name"`
	ExternalID           string `mapstructure:"external_id"`
	WebIdentityTokenFile string `mapstructure:"web_identity_token_file"`
}

// AzureStorageConfig holds Azure Blob resource store configuration
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
}

// GCSStorageConfig holds Google Cloud Storage resource store configuration
type GCSStorageConfig struct {
	Bucket string `mapstructure:"bucket"`
	// Endpoint is an optional override for GCS emulators
	Endpoint string `mapstructure:"endpoint"`
	// AuthMethod selects credentials: "default" (Application Default
	// Credentials), "service_account", or "workload_identity".
	AuthMethod      string `mapstructure:"auth_method"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
}

// SecurityConfig holds encryption and admin-access configuration
type SecurityConfig struct {
	// EncryptionKey is the master secret for the envelope cipher. Populated
	// from the un-prefixed ENCRYPTION_KEY environment variable when unset.
	EncryptionKey string `mapstructure:"encryption_key"`
	// EncryptionKeyFile, when set, takes precedence over EncryptionKey and
	// enables hot-reload of the master secret via the file keystore.
	EncryptionKeyFile string `mapstructure:"encryption_key_file"`
	// AdminCredentialHash is the bcrypt hash of the static credential
	// required by the /v1/admin endpoints (revocation, rotation).
	AdminCredentialHash string          `mapstructure:"admin_credential_hash"`
	RateLimiting        RateLimitConfig `mapstructure:"rate_limiting"`
}

// RateLimitConfig holds validation-attempt rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// KeysConfig holds digital key issuance defaults
type KeysConfig struct {
	// DefaultMaxUses applies when issuance does not specify a usage limit.
	// 1 means keys are single-use unless stated otherwise.
	DefaultMaxUses int `mapstructure:"default_max_uses"`
}

// TokensConfig holds download token issuance defaults
type TokensConfig struct {
	DefaultExpiryMinutes int `mapstructure:"default_expiry_minutes"`
	DefaultMaxDownloads  int `mapstructure:"default_max_downloads"`
	// SweepInterval controls how often expired tokens are marked consumed.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds the Prometheus side-channel configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// AuditConfig holds audit log shipping configuration. Durable audit rows are
// always written; shipping to external destinations is additive.
type AuditConfig struct {
	File    AuditFileConfig    `mapstructure:"file"`
	Webhook AuditWebhookConfig `mapstructure:"webhook"`
}

// AuditFileConfig holds file shipper configuration
type AuditFileConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// AuditWebhookConfig holds webhook shipper configuration
type AuditWebhookConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// Load reads configuration from the given path (or the default search
// locations), applies environment overrides, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/key-protection")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("DKP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures.
	// AutomaticEnv() alone does not surface them through Unmarshal.
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// The master secret may arrive through the generic ENCRYPTION_KEY
	// variable injected by secret-management tooling.
	if cfg.Security.EncryptionKey == "" {
		cfg.Security.EncryptionKey = os.Getenv("ENCRYPTION_KEY")
	}

	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Storage.S3.AccessKeyID = expandEnv(cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = expandEnv(cfg.Storage.S3.SecretAccessKey)
	cfg.Storage.Azure.AccountKey = expandEnv(cfg.Storage.Azure.AccountKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Security.EncryptionKey == "" && c.Security.EncryptionKeyFile == "" {
		return fmt.Errorf("security.encryption_key or security.encryption_key_file must be set (or ENCRYPTION_KEY in the environment)")
	}
	if c.Keys.DefaultMaxUses < 1 {
		return fmt.Errorf("keys.default_max_uses must be at least 1, got %d", c.Keys.DefaultMaxUses)
	}
	if c.Tokens.DefaultMaxDownloads < 1 {
		return fmt.Errorf("tokens.default_max_downloads must be at least 1, got %d", c.Tokens.DefaultMaxDownloads)
	}
	switch c.Storage.DefaultBackend {
	case "local", "s3", "azure", "gcs":
	default:
		return fmt.Errorf("storage.default_backend must be one of local, s3, azure, gcs; got %q", c.Storage.DefaultBackend)
	}
	if c.Security.RateLimiting.Enabled {
		if c.Security.RateLimiting.RequestsPerMinute < 1 {
			return fmt.Errorf("security.rate_limiting.requests_per_minute must be at least 1")
		}
		if c.Security.RateLimiting.Burst < 1 {
			return fmt.Errorf("security.rate_limiting.burst must be at least 1")
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "key_protection")
	v.SetDefault("database.user", "keyprotect")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)
	v.SetDefault("database.query_timeout", "5s")

	// Redis (optional; empty addr selects the in-process limiter)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	// Storage
	v.SetDefault("storage.default_backend", "local")
	v.SetDefault("storage.local.base_path", "./resources")
	v.SetDefault("storage.s3.auth_method", "default")
	v.SetDefault("storage.s3.role_session_name", "key-protection")

	// Security
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 60)
	v.SetDefault("security.rate_limiting.burst", 10)

	// Issuance defaults
	v.SetDefault("keys.default_max_uses", 1)
	v.SetDefault("tokens.default_expiry_minutes", 60)
	v.SetDefault("tokens.default_max_downloads", 1)
	v.SetDefault("tokens.sweep_interval", "10m")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Audit shipping
	v.SetDefault("audit.file.enabled", false)
	v.SetDefault("audit.webhook.enabled", false)
	v.SetDefault("audit.webhook.timeout", "10s")
}

// bindEnvVars explicitly binds every configuration key so that environment
// variables survive Unmarshal. viper.BindEnv only errors when called with
// zero keys; since every key here is non-empty the error is impossible, but
// it is still propagated for completeness.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		"server.host", "server.port", "server.base_url",
		"server.read_timeout", "server.write_timeout",
		"database.host", "database.port", "database.name", "database.user",
		"database.password", "database.ssl_mode", "database.max_connections",
		"database.min_idle_connections", "database.query_timeout",
		"redis.addr", "redis.password", "redis.db",
		"storage.default_backend", "storage.local.base_path",
		"storage.s3.endpoint", "storage.s3.region", "storage.s3.bucket",
		"storage.s3.auth_method", "storage.s3.access_key_id",
		"storage.s3.secret_access_key", "storage.s3.role_arn",
		"storage.s3.role_session_name", "storage.s3.external_id",
		"storage.azure.account_name", "storage.azure.account_key",
		"storage.azure.container_name",
		"storage.gcs.bucket", "storage.gcs.credentials_file",
		"security.encryption_key", "security.encryption_key_file",
		"security.admin_credential_hash",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"keys.default_max_uses",
		"tokens.default_expiry_minutes", "tokens.default_max_downloads",
		"tokens.sweep_interval",
		"logging.level", "logging.format",
		"telemetry.metrics.enabled", "telemetry.metrics.prometheus_port",
		"audit.file.enabled", "audit.file.path",
		"audit.webhook.enabled", "audit.webhook.url", "audit.webhook.timeout",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var for %s: %w", key, err)
		}
	}
	return nil
}

// expandEnv resolves ${VAR} references in sensitive configuration values so
// secrets can be passed indirectly through the environment.
func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(value, "${"), "}"))
	}
	return value
}
