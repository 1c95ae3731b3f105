package storage

import "time"

// Config for the storage backends
type Config struct {
	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// S3 config for audit archive exports
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Cache config
	CacheEnabled bool
	CacheTTL     map[string]time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheEnabled:     true,
		CacheTTL: map[string]time.Duration{
			"plan":        1 * time.Hour,
			"plan_list":   5 * time.Minute,
			"entitlement": 30 * time.Second,
		},
	}
}

// ArchiveEnabled reports whether S3 archive exports are configured
func (c Config) ArchiveEnabled() bool {
	return c.S3Endpoint != "" && c.S3Bucket != ""
}

// RedisEnabled reports whether a Redis cache is configured
func (c Config) RedisEnabled() bool {
	return c.RedisURL != ""
}
