package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bricksaw/warden/pkg/observability"
	"github.com/bricksaw/warden/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Subscription plan catalog configuration
	Catalog CatalogConfig

	// Billing configuration
	Billing BillingConfig

	// Identity configuration
	Identity IdentityConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// CatalogConfig holds subscription plan catalog settings
type CatalogConfig struct {
	// SeedPath points at a YAML plan catalog applied at startup. Empty
	// disables seeding; plans already in the database are left untouched.
	SeedPath string

	// WatchSeed re-applies the seed file when it changes on disk
	WatchSeed bool
}

// BillingConfig holds payment processor settings
type BillingConfig struct {
	// WebhookSecret signs processor webhook payloads. When empty,
	// signature verification is skipped (local development only).
	WebhookSecret string

	// TrialDays is the trial length granted on paid plan checkout
	TrialDays int

	// PortalBaseURL is the base the offline processor builds checkout and
	// portal links on when no real processor is configured
	PortalBaseURL string
}

// IdentityConfig holds authentication settings
type IdentityConfig struct {
	// OIDC verification for interactive principals
	OIDCEnabled  bool
	OIDCIssuer   string
	OIDCClientID string

	// ServiceTokens maps bearer tokens to principal ids for
	// machine-to-machine callers: "token1=admin-1,token2=admin-2"
	ServiceTokens string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Catalog:       loadCatalogConfig(),
		Billing:       loadBillingConfig(),
		Identity:      loadIdentityConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("WARDEN_HOST", "0.0.0.0"),
		Port:            getEnv("WARDEN_PORT", "8080"),
		ReadTimeout:     getEnvDuration("WARDEN_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WARDEN_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("WARDEN_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("WARDEN_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("WARDEN_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	if pgURL := getEnv("WARDEN_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if replicaURLs := getEnv("WARDEN_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = replicaURLs
	}
	if maxConns := getEnvInt("WARDEN_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("WARDEN_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("WARDEN_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	if redisURL := getEnv("WARDEN_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("WARDEN_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("WARDEN_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("WARDEN_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("WARDEN_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// S3 config for audit archive exports
	if s3Endpoint := getEnv("WARDEN_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("WARDEN_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("WARDEN_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey := getEnv("WARDEN_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("WARDEN_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	if s3UsePathStyle := getEnv("WARDEN_S3_USE_PATH_STYLE", ""); s3UsePathStyle != "" {
		cfg.S3UsePathStyle = strings.ToLower(s3UsePathStyle) == "true"
	}

	// Cache config
	if cacheEnabled := getEnv("WARDEN_CACHE_ENABLED", ""); cacheEnabled != "" {
		cfg.CacheEnabled = strings.ToLower(cacheEnabled) == "true"
	}
	if entitlementTTL := getEnvDuration("WARDEN_ENTITLEMENT_CACHE_TTL", 0); entitlementTTL > 0 {
		cfg.CacheTTL["entitlement"] = entitlementTTL
	}

	return cfg
}

// loadCatalogConfig loads plan catalog configuration from environment
func loadCatalogConfig() CatalogConfig {
	return CatalogConfig{
		SeedPath:  getEnv("WARDEN_PLAN_SEED_PATH", ""),
		WatchSeed: getEnvBool("WARDEN_PLAN_SEED_WATCH", false),
	}
}

// loadBillingConfig loads billing configuration from environment
func loadBillingConfig() BillingConfig {
	return BillingConfig{
		WebhookSecret: getEnv("WARDEN_WEBHOOK_SECRET", ""),
		TrialDays:     getEnvInt("WARDEN_TRIAL_DAYS", 14),
		PortalBaseURL: getEnv("WARDEN_BILLING_PORTAL_BASE_URL", "https://billing.bricksaw.dev"),
	}
}

// loadIdentityConfig loads identity configuration from environment
func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		OIDCEnabled:   getEnvBool("WARDEN_OIDC_ENABLED", false),
		OIDCIssuer:    getEnv("WARDEN_OIDC_ISSUER", ""),
		OIDCClientID:  getEnv("WARDEN_OIDC_CLIENT_ID", ""),
		ServiceTokens: getEnv("WARDEN_SERVICE_TOKENS", ""),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("WARDEN_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("WARDEN_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("WARDEN_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("WARDEN_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("WARDEN_OTEL_SERVICE_NAME", "warden"),
		OTelServiceVersion: getEnv("WARDEN_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("WARDEN_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("WARDEN_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Postgres is the system of record and is always required
	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	// Validate billing config
	if c.Billing.TrialDays < 0 {
		return fmt.Errorf("trial days must not be negative")
	}

	// Validate identity config
	if c.Identity.OIDCEnabled {
		if c.Identity.OIDCIssuer == "" {
			return fmt.Errorf("OIDC issuer is required when OIDC is enabled")
		}
		if c.Identity.OIDCClientID == "" {
			return fmt.Errorf("OIDC client ID is required when OIDC is enabled")
		}
	}
	if !c.Identity.OIDCEnabled && c.Identity.ServiceTokens == "" {
		return fmt.Errorf("at least one identity mechanism is required: enable OIDC or configure service tokens")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
		return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
