// Package guard funnels every privileged operation through a single
// check -> execute -> audit pipeline.
//
// # Overview
//
// A Principal (the authenticated super admin, plus any live impersonation
// context) flows explicitly into Run; there is no ambient caller state. Run
// refuses before any mutation when the permission check fails, executes the
// operation, then appends its audit entry. AuditFirst flips the order for
// destructive writes whose evidence must land before the row disappears;
// such operations capture that evidence in Prepare, which runs after the
// check and before the entry is recorded.
//
// Audit attribution is stamped inside Run from the principal: the actor is
// always the authenticated super admin, never the impersonated user.
//
// # Usage Example
//
//	err := g.Run(ctx, principal, guard.Operation{
//		Permission: "edit-all-organisations",
//		Act: func(ctx context.Context) error {
//			return store.Archive(ctx, orgID)
//		},
//		Entry: &audit.Entry{
//			Action:               "archive_organisation",
//			Category:             audit.CategoryOrganisation,
//			TargetOrganisationID: &orgID,
//			Payload:              audit.OrganisationChange{Before: before, After: after},
//		},
//	})
//
// # Errors
//
// The package also owns the error taxonomy shared across the privileged
// surface: ErrPermissionDenied, ErrNotFound, ErrInvalidArgument and
// ErrUnavailable. Domain operations wrap them with context and the HTTP
// layer resolves status codes with errors.Is.
//
// # Related Packages
//
//   - pkg/superadmin: the PermissionChecker implementation
//   - pkg/audit: entry shapes and the never-silent recorder
//   - pkg/middleware: builds the Principal from the identity boundary
package guard
