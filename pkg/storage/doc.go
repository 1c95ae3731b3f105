// Package storage holds the shared persistence configuration for the Warden
// trust engine.
//
// # Overview
//
// Warden keeps all durable state in PostgreSQL: subscription plans, billing
// records, super-admin grants, impersonation sessions, and the append-only
// audit log. Redis backs the short-lived entitlement cache, and S3-compatible
// object storage receives periodic audit archive exports. This package defines
// the Config struct those backends are wired from; the concrete clients live
// in the postgres subpackage.
//
// # Configuration
//
//	cfg := storage.DefaultConfig()
//	cfg.PostgresURL = "postgres://localhost/warden"
//	cfg.RedisURL = "redis://localhost:6379/0"
//
// Replica URLs are optional. When configured, read-heavy paths such as audit
// searches and entitlement snapshots are served from replicas with automatic
// fallback to the primary.
//
// # Cache TTLs
//
// CacheTTL maps logical cache types to expirations:
//
//   - "plan": individual subscription plans resolved by id or slug
//   - "plan_list": the full active plan catalog
//   - "entitlement": per-organisation entitlement reports
//
// Entitlement reports deliberately use a short TTL so limit changes and usage
// growth surface quickly without hammering the usage counters on every
// request.
package storage
