// Package superadmin is the permission authority for privileged operators.
//
// # Overview
//
// Super admins are cross-tenant operators identified by user id, carrying a
// permission list drawn from a closed token vocabulary. HasPermission is the
// single authorisation question the rest of the system asks: an absent or
// inactive record answers false unconditionally, whatever its stored list
// says; errors are reserved for storage failures.
//
// Roster management (Grant, Revoke, SetPermissions, Get, List) runs through
// the guard pipeline under manage-super-admins and audits mutations in the
// user_management category. The first record is created out of band; there
// is no self-service path onto the roster.
//
// # Usage Example
//
//	store, err := superadmin.NewStore(db)
//	if err != nil {
//		return err
//	}
//	g := guard.NewGuard(store, recorder, logger, metrics)
//	svc := superadmin.NewService(store, g)
//
//	admin, err := svc.Grant(ctx, principal, "usr_support_lead", []superadmin.Permission{
//		superadmin.PermissionViewAllOrganisations,
//		superadmin.PermissionImpersonateUsers,
//	})
//
// # Related Packages
//
//   - pkg/guard: consumes HasPermission on every privileged operation
//   - pkg/impersonation: requires impersonate-users to start a session
package superadmin
