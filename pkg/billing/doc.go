// Package billing owns each organisation's subscription state: plan,
// trial, discount and storage add-ons.
//
// # Overview
//
// The organisation_billing table is the single source of billing truth.
// The free tier is the absence of a plan (current_plan_id NULL), so an
// organisation with no row at all is simply free; Get synthesises the
// default row rather than failing. Subscription status moves through
//
//	incomplete -> trialing -> active -> past_due -> active
//	                                 -> canceled | unpaid | paused
//
// driven from two directions. Payment-processor webhooks carry the
// processor's view of the world and apply directly after signature
// verification. Administrative overrides (set plan, apply discount, storage
// add-ons) run through the guard pipeline: permission check, mutation,
// audit entry.
//
// # Webhooks
//
// The processor signs each delivery with HMAC-SHA256 over
// "<timestamp>.<body>" in a "t=...,v1=..." header. VerifySignature checks
// the digest in constant time and rejects stale timestamps. A verified
// event is the authorisation; webhook writes carry no principal and no
// audit entry.
//
// # Usage Example
//
// Override a plan without touching the processor:
//
//	planID := "enterprise"
//	updated, err := service.SetOrganisationPlan(ctx, principal, orgID, billing.SetPlanParams{
//		PlanID: &planID,
//	})
//
// Apply a webhook event after verifying its signature:
//
//	if err := billing.VerifySignature(secret, header, body, time.Now()); err != nil {
//		return err
//	}
//	updated, err := service.ApplyProcessorEvent(ctx, event)
//
// # Related Packages
//
//   - pkg/catalog: the plans current_plan_id points into
//   - pkg/entitlement: turns billing rows into effective limits
package billing
