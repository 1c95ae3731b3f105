// Package orgs manages the organisation lifecycle and the usage counters
// entitlement checks run against.
//
// # Overview
//
// An organisation carries two independent lifecycle flags. Archived hides it
// from normal use and is freely reversible; blocked locks it out and always
// records an operator-stated reason. Both flags stay on the row so either
// transition can be undone, with one exception: DeletePermanently issues a
// hard DELETE, and because nothing survives to diff afterwards its audit
// entry is written before the destructive statement runs.
//
// Every lifecycle mutation goes through the guard pipeline under
// edit-all-organisations and appends exactly one audit entry of category
// organisation with before/after state. Reads run under
// view-all-organisations.
//
// # Usage Counters
//
// The organisation_usage table holds the per-tenant seat, record, report and
// storage counters. The counters are written by the main application through
// the usage-source surface (SetUsage replaces, AdjustUsage increments or
// decrements with a floor of zero); warden itself only ever reads them to
// build entitlement snapshots. These calls are authorised by the service
// token at the transport layer and are not audited.
//
// # Usage Example
//
// Block a tenant for non-payment:
//
//	org, err := service.Block(ctx, principal, orgID, "invoice 90 days overdue")
//
// Report a seat being taken:
//
//	usage, err := service.AdjustUsage(ctx, orgID, orgs.ResourceSeats, 1)
//
// # Related Packages
//
//   - pkg/entitlement: evaluates the counters against plan limits
//   - pkg/guard: the check -> execute -> audit pipeline
//   - pkg/audit: the entry shapes lifecycle changes are recorded with
package orgs
