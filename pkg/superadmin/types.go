package superadmin

import "time"

// Permission is one token from the closed grant vocabulary. Anything outside
// this set is rejected at grant time, so the stored lists stay clean.
type Permission string

const (
	PermissionViewAllOrganisations Permission = "view-all-organisations"
	PermissionEditAllOrganisations Permission = "edit-all-organisations"
	PermissionViewAllUsers         Permission = "view-all-users"
	PermissionEditAllUsers         Permission = "edit-all-users"
	PermissionImpersonateUsers     Permission = "impersonate-users"
	PermissionManageSuperAdmins    Permission = "manage-super-admins"
	PermissionViewAuditLogs        Permission = "view-audit-logs"
)

// AllPermissions returns the grant vocabulary in stable order.
func AllPermissions() []Permission {
	return []Permission{
		PermissionViewAllOrganisations,
		PermissionEditAllOrganisations,
		PermissionViewAllUsers,
		PermissionEditAllUsers,
		PermissionImpersonateUsers,
		PermissionManageSuperAdmins,
		PermissionViewAuditLogs,
	}
}

// Valid reports whether p is a known permission token.
func (p Permission) Valid() bool {
	switch p {
	case PermissionViewAllOrganisations, PermissionEditAllOrganisations,
		PermissionViewAllUsers, PermissionEditAllUsers,
		PermissionImpersonateUsers, PermissionManageSuperAdmins,
		PermissionViewAuditLogs:
		return true
	}
	return false
}

func (p Permission) String() string {
	return string(p)
}

// SuperAdmin is one row of the super_admins roster. An inactive record keeps
// its permission list but carries none of its authority.
type SuperAdmin struct {
	UserID      string    `json:"user_id"`
	Active      bool      `json:"active"`
	Permissions []string  `json:"permissions"`
	GrantedBy   string    `json:"granted_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Holds reports whether the record's permission list contains token. It does
// not consider the active flag; HasPermission does.
func (a *SuperAdmin) Holds(token Permission) bool {
	for _, p := range a.Permissions {
		if p == string(token) {
			return true
		}
	}
	return false
}
