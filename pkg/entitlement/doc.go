// Package entitlement derives what an organisation is currently allowed:
// resource limits, feature flags, field-category gating and the monthly
// price, from its plan, discount, storage add-on and live usage.
//
// # Overview
//
// Evaluate is a pure function: given the same inputs it produces the same
// report, touches nothing and reads no clock. Per resource it answers
// {current, limit, exceeded, percent}; exceeded (current >= limit) and
// at-warning (raw percent >= 80) are independent of each other and of the
// display clamp, and the unlimited sentinel is never divided by. Pricing
// bills every held seat beyond the plan's included count even when the
// tenant is over its seat limit, and the discount applies per line item to
// displayed prices only, never to limits.
//
// Missing inputs degrade instead of failing: a nil plan answers free-tier
// limits with the default field-category set, so broken billing data can
// never crash a caller.
//
// Service wraps the evaluation with its lookups (catalog, billing, usage),
// a short-lived Redis cache and the guard's view-all-organisations check.
//
// # Usage Example
//
//	report, err := service.Report(ctx, principal, orgID)
//	if err != nil {
//		return err
//	}
//	if report.Storage.AtWarning {
//		notifyStorageWarning(orgID)
//	}
//
// # Related Packages
//
//   - pkg/catalog: the plan limits and feature flags evaluated against
//   - pkg/billing: subscription status, discount and storage add-ons
//   - pkg/orgs: the live usage counters
package entitlement
