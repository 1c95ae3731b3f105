// Package impersonation manages time-boxed sessions in which a super admin
// acts as a specific member of a specific organisation.
//
// # Overview
//
// Start requires the impersonate-users permission and commits the session
// row together with its start_impersonation audit entry in one transaction;
// a session the log does not know about cannot exist. Sessions live for
// exactly one hour. Expiry is lazy: readers filter expires_at in SQL and
// nothing sweeps dead rows.
//
// End is idempotent and owner-only. Concurrent sessions per admin are
// permitted; ActiveSession answers with the newest live one, which is what
// the request middleware attaches to the principal.
//
// # Related Packages
//
//   - pkg/guard: Principal carries the impersonation context End and
//     subsequent audited actions stamp
//   - pkg/middleware: resolves the caller's live session on each request
package impersonation
