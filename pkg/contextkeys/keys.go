// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here,
// except the logging keys owned by pkg/observability. This prevents typos,
// documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//   import "github.com/bricksaw/warden/pkg/contextkeys"
//   ctx = contextkeys.WithPrincipal(ctx, principal)
//   principal, ok := ctx.Value(contextkeys.PrincipalKey).(*guard.Principal)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *guard.Principal
	// Set by: middleware.Principal (pkg/middleware/principal.go)
	// Required by: all privileged API endpoints
	// Type: *guard.Principal
	PrincipalKey Key = "principal"

	// OrganisationKey contains *orgs.Organisation
	// Set by: org-scoped handlers after lookup
	// Required by: entitlement and lifecycle endpoints
	// Type: *orgs.Organisation
	OrganisationKey Key = "organisation"
)

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// WithOrganisation adds an organisation to the context
func WithOrganisation(ctx context.Context, org interface{}) context.Context {
	return context.WithValue(ctx, OrganisationKey, org)
}
