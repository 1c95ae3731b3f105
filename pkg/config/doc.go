// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	WARDEN_HOST="0.0.0.0"
//	WARDEN_PORT="8080"
//	WARDEN_HEALTH_PORT="9090"
//	WARDEN_READ_TIMEOUT="15s"
//	WARDEN_WRITE_TIMEOUT="15s"
//
// Storage settings:
//
//	WARDEN_POSTGRES_URL="postgres://localhost/warden"
//	WARDEN_POSTGRES_REPLICA_URLS="postgres://replica1,postgres://replica2"
//	WARDEN_POSTGRES_MAX_CONNS="20"
//	WARDEN_REDIS_URL="redis://localhost:6379"
//	WARDEN_S3_BUCKET="warden-audit-archive"
//	WARDEN_S3_REGION="us-east-1"
//
// Plan catalog settings:
//
//	WARDEN_PLAN_SEED_PATH="/etc/warden/plans.yaml"
//	WARDEN_PLAN_SEED_WATCH="true"
//
// Billing settings:
//
//	WARDEN_WEBHOOK_SECRET="whsec_..."
//	WARDEN_TRIAL_DAYS="14"
//
// Identity settings:
//
//	WARDEN_OIDC_ENABLED="true"
//	WARDEN_OIDC_ISSUER="https://id.bricksaw.com"
//	WARDEN_OIDC_CLIENT_ID="warden"
//	WARDEN_SERVICE_TOKENS="token1=admin-1,token2=admin-2"
//
// Observability settings:
//
//	WARDEN_LOG_LEVEL="info"  # debug, info, warn, error
//	WARDEN_METRICS_ENABLED="true"
//	WARDEN_OTEL_ENABLED="true"
//	WARDEN_OTEL_ENDPOINT="otel-collector:4317"
//	WARDEN_OTEL_SAMPLE_RATIO="0.25"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/observability: Uses observability configuration
package config
