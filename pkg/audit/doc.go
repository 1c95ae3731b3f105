// Package audit provides the append-only audit log for privileged operations.
//
// # Overview
//
// Every super-admin mutation lands here: organisation lifecycle changes, plan
// and discount assignments, super-admin management, and impersonation session
// starts and ends. The table is append-only; nothing in the codebase updates
// or deletes a row.
//
// # Entries
//
// An Entry names the acting super-admin, the action verb, one of nine closed
// categories, and the optional target (table, id, organisation). Structured
// detail rides in a tagged-union Payload with a `kind` discriminator:
// organisation_change, plan_change, discount_change, impersonation_detail,
// super_admin_change, or the opaque generic fallback. Unknown kinds decode to
// Generic so rows written by newer builds always load.
//
// # Usage Example
//
// Record an entry:
//
//	recorder.Record(ctx, &audit.Entry{
//		ActorUserID: principal.UserID,
//		Action:      "block_organisation",
//		Category:    audit.CategoryOrganisation,
//		TargetOrganisationID: &orgID,
//		Payload: audit.OrganisationChange{
//			Before: before,
//			After:  after,
//		},
//	})
//
// Search the log:
//
//	entries, err := store.Search(ctx, audit.Filter{
//		Category:    audit.CategoryImpersonation,
//		ActorID:     "usr_42",
//		Since:       &since,
//	}, 50, 0)
//
// # Failure Policy
//
// Audit writes are best-effort but never silent: a failed Record is logged at
// error level and counted in warden_audit_write_failures_total, and the
// primary operation is never rolled back. The one exception is impersonation
// start, where the caller inserts through InsertTx inside the session's own
// transaction so session and audit entry commit together.
//
// # Related Packages
//
//   - pkg/guard: runs check -> execute -> audit for privileged operations
//   - pkg/impersonation: transactional start_impersonation entries
//   - cmd/warden-aggregator: daily JSONL export of the log to S3
package audit
