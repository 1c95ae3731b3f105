package api

import (
	"context"

	"github.com/bricksaw/warden/pkg/audit"
	"github.com/bricksaw/warden/pkg/billing"
	"github.com/bricksaw/warden/pkg/catalog"
	"github.com/bricksaw/warden/pkg/entitlement"
	"github.com/bricksaw/warden/pkg/guard"
	"github.com/bricksaw/warden/pkg/impersonation"
	"github.com/bricksaw/warden/pkg/orgs"
	"github.com/bricksaw/warden/pkg/superadmin"
)

// The handler layer depends on narrow interfaces rather than the concrete
// services so tests can swap in function-backed fakes. The production
// types satisfy these without adapters.

// PlanCatalog is the read side of the plan catalog. *catalog.Store
// satisfies it.
type PlanCatalog interface {
	List(ctx context.Context) ([]*catalog.Plan, error)
	Get(ctx context.Context, id string) (*catalog.Plan, error)
}

// OrganisationService covers lifecycle, roster reads and the usage-source
// writes. *orgs.Service satisfies it.
type OrganisationService interface {
	Snapshot(ctx context.Context, principal guard.Principal, id int64) (*orgs.Snapshot, error)
	List(ctx context.Context, principal guard.Principal, limit, offset int) ([]*orgs.Organisation, int64, error)
	Update(ctx context.Context, principal guard.Principal, id int64, params orgs.UpdateParams) (*orgs.Organisation, error)
	Archive(ctx context.Context, principal guard.Principal, id int64) (*orgs.Organisation, error)
	Restore(ctx context.Context, principal guard.Principal, id int64) (*orgs.Organisation, error)
	Block(ctx context.Context, principal guard.Principal, id int64, reason string) (*orgs.Organisation, error)
	Unblock(ctx context.Context, principal guard.Principal, id int64) (*orgs.Organisation, error)
	DeletePermanently(ctx context.Context, principal guard.Principal, id int64) error
	SetUsage(ctx context.Context, usage *orgs.Usage) error
	AdjustUsage(ctx context.Context, organisationID int64, resource orgs.Resource, delta int64) (*orgs.Usage, error)
}

// EntitlementService computes usage reports and owns their cache.
// *entitlement.Service satisfies it.
type EntitlementService interface {
	Report(ctx context.Context, principal guard.Principal, organisationID int64) (*entitlement.OrganisationEntitlements, error)
	Invalidate(ctx context.Context, organisationID int64)
}

// BillingService covers administrative billing overrides, session issuing
// and webhook application. *billing.Service satisfies it.
type BillingService interface {
	GetBilling(ctx context.Context, principal guard.Principal, organisationID int64) (*billing.Overview, error)
	SetOrganisationPlan(ctx context.Context, principal guard.Principal, organisationID int64, params billing.SetPlanParams) (*billing.OrganisationBilling, error)
	ApplyDiscount(ctx context.Context, principal guard.Principal, organisationID int64, percent int, reason string) (*billing.OrganisationBilling, error)
	SetStorageAddOn(ctx context.Context, principal guard.Principal, organisationID int64, blocks int64) (*billing.StorageAddOn, error)
	CreateCheckoutSession(ctx context.Context, principal guard.Principal, params billing.CheckoutParams) (*billing.Session, error)
	CreatePortalSession(ctx context.Context, principal guard.Principal, organisationID int64, returnURL string) (*billing.Session, error)
	ApplyProcessorEvent(ctx context.Context, event *billing.ProcessorEvent) (*billing.OrganisationBilling, error)
}

// SuperAdminService manages the roster. *superadmin.Service satisfies it.
type SuperAdminService interface {
	Grant(ctx context.Context, principal guard.Principal, userID string, permissions []superadmin.Permission) (*superadmin.SuperAdmin, error)
	Revoke(ctx context.Context, principal guard.Principal, userID string) error
	SetPermissions(ctx context.Context, principal guard.Principal, userID string, permissions []superadmin.Permission) (*superadmin.SuperAdmin, error)
	Get(ctx context.Context, principal guard.Principal, userID string) (*superadmin.SuperAdmin, error)
	List(ctx context.Context, principal guard.Principal) ([]*superadmin.SuperAdmin, error)
}

// ImpersonationService manages time-boxed sessions. *impersonation.Service
// satisfies it.
type ImpersonationService interface {
	Start(ctx context.Context, principal guard.Principal, targetUserID string, targetOrgID int64) (*impersonation.Session, error)
	End(ctx context.Context, principal guard.Principal, sessionID string) error
	ActiveSession(ctx context.Context, superAdminID string) (*impersonation.Session, error)
}

// AuditSearcher is the query side of the audit log. The search itself is
// guarded through guard.Guard by the caller-facing wrapper below; the
// store-level Search/Count pair satisfies the inner interface.
type AuditSearcher interface {
	Search(ctx context.Context, principal guard.Principal, filter audit.Filter, limit, offset int) ([]*audit.Entry, int64, error)
}
