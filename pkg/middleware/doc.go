// Package middleware assembles the request-side context privileged
// operations depend on.
//
// # Overview
//
// PrincipalMiddleware is the bridge from the identity boundary to the
// guard: it verifies the bearer credential (OIDC or service token), looks
// up the caller's live impersonation session and stores a fully formed
// guard.Principal in the request context. Nothing downstream reads
// ambient authentication state; handlers take the principal from here and
// pass it explicitly.
//
// RateLimiter is a Redis-backed fixed window shared across instances,
// keyed per principal. It fails open when the counter backend is down.
//
// RequestLogging emits one structured line per request carrying the
// request id, actor and impersonation marker.
//
// # Usage Example
//
//	principals := middleware.NewPrincipalMiddleware(verifier, impersonationSvc, logger)
//	api.Use(principals.Handler)
//	api.Use(middleware.RequestLogging(logger))
//
// # Related Packages
//
//   - pkg/identity: credential verification
//   - pkg/impersonation: the live-session lookup
//   - pkg/guard: consumes the Principal built here
package middleware
