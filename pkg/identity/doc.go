// Package identity is the authentication boundary: it turns a bearer
// credential into a principal id and nothing more.
//
// Warden never authenticates credentials itself; interactive callers are
// verified against an external OIDC issuer and machine callers present
// pre-shared service tokens compared by SHA-256 digest in constant time.
// Chain tries each configured verifier in order so both kinds of caller
// share one Authorization header.
//
// # Related Packages
//
//   - pkg/middleware: builds the guard.Principal from the verified identity
package identity
