// Package api is the administrative HTTP surface of the trust engine.
//
// # Overview
//
// Handlers here are deliberately thin: they parse and validate the
// request, pull the authenticated principal out of the context, call one
// service method and map the error taxonomy onto HTTP statuses. Permission
// checks and audit writes never happen in this package; they live behind
// the guard inside each service, so there is no route wiring that can
// accidentally skip them.
//
// Two routes step outside that shape. The processor webhook authenticates
// with an HMAC signature instead of a bearer credential, and the audit
// search uses AuditQuery, the guarded facade over the audit store, because
// the log itself sits below the guard in the dependency order.
//
// Mutations that change what an organisation is entitled to (plan
// overrides, discounts, storage add-ons, usage writes, webhook events)
// invalidate the cached entitlement report on the way out.
//
// # Usage Example
//
//	server := api.NewServer(api.Config{
//		Plans:         planStore,
//		Organisations: orgService,
//		Entitlements:  entitlementService,
//		Billing:       billingService,
//		SuperAdmins:   superAdminService,
//		Impersonation: impersonationService,
//		AuditLog:      api.NewAuditQuery(auditStore, g),
//		Principals:    principalMiddleware,
//		WebhookSecret: cfg.Billing.WebhookSecret,
//		Logger:        logger,
//	})
//	http.ListenAndServe(":8080", server.Handler())
//
// # Related Packages
//
//   - pkg/middleware: principal construction and rate limiting
//   - pkg/guard: the permission/audit pipeline behind every mutation
//   - pkg/httputil: response and parsing helpers
package api
