package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/bricksaw/warden/pkg/audit"
	"github.com/bricksaw/warden/pkg/billing"
	"github.com/bricksaw/warden/pkg/catalog"
	"github.com/bricksaw/warden/pkg/contextkeys"
	"github.com/bricksaw/warden/pkg/entitlement"
	"github.com/bricksaw/warden/pkg/guard"
	"github.com/bricksaw/warden/pkg/impersonation"
	"github.com/bricksaw/warden/pkg/orgs"
	"github.com/bricksaw/warden/pkg/superadmin"
)

// The fakes are function-backed so each test supplies only the calls it
// expects; an unexpected call panics on the nil function and fails loudly.

type fakePlanCatalog struct {
	list func(ctx context.Context) ([]*catalog.Plan, error)
	get  func(ctx context.Context, id string) (*catalog.Plan, error)
}

func (f *fakePlanCatalog) List(ctx context.Context) ([]*catalog.Plan, error) {
	return f.list(ctx)
}

func (f *fakePlanCatalog) Get(ctx context.Context, id string) (*catalog.Plan, error) {
	return f.get(ctx, id)
}

type fakeOrgService struct {
	snapshot    func(ctx context.Context, principal guard.Principal, id int64) (*orgs.Snapshot, error)
	list        func(ctx context.Context, principal guard.Principal, limit, offset int) ([]*orgs.Organisation, int64, error)
	update      func(ctx context.Context, principal guard.Principal, id int64, params orgs.UpdateParams) (*orgs.Organisation, error)
	archive     func(ctx context.Context, principal guard.Principal, id int64) (*orgs.Organisation, error)
	restore     func(ctx context.Context, principal guard.Principal, id int64) (*orgs.Organisation, error)
	block       func(ctx context.Context, principal guard.Principal, id int64, reason string) (*orgs.Organisation, error)
	unblock     func(ctx context.Context, principal guard.Principal, id int64) (*orgs.Organisation, error)
	delete      func(ctx context.Context, principal guard.Principal, id int64) error
	setUsage    func(ctx context.Context, usage *orgs.Usage) error
	adjustUsage func(ctx context.Context, organisationID int64, resource orgs.Resource, delta int64) (*orgs.Usage, error)
}

func (f *fakeOrgService) Snapshot(ctx context.Context, p guard.Principal, id int64) (*orgs.Snapshot, error) {
	return f.snapshot(ctx, p, id)
}

func (f *fakeOrgService) List(ctx context.Context, p guard.Principal, limit, offset int) ([]*orgs.Organisation, int64, error) {
	return f.list(ctx, p, limit, offset)
}

func (f *fakeOrgService) Update(ctx context.Context, p guard.Principal, id int64, params orgs.UpdateParams) (*orgs.Organisation, error) {
	return f.update(ctx, p, id, params)
}

func (f *fakeOrgService) Archive(ctx context.Context, p guard.Principal, id int64) (*orgs.Organisation, error) {
	return f.archive(ctx, p, id)
}

func (f *fakeOrgService) Restore(ctx context.Context, p guard.Principal, id int64) (*orgs.Organisation, error) {
	return f.restore(ctx, p, id)
}

func (f *fakeOrgService) Block(ctx context.Context, p guard.Principal, id int64, reason string) (*orgs.Organisation, error) {
	return f.block(ctx, p, id, reason)
}

func (f *fakeOrgService) Unblock(ctx context.Context, p guard.Principal, id int64) (*orgs.Organisation, error) {
	return f.unblock(ctx, p, id)
}

func (f *fakeOrgService) DeletePermanently(ctx context.Context, p guard.Principal, id int64) error {
	return f.delete(ctx, p, id)
}

func (f *fakeOrgService) SetUsage(ctx context.Context, usage *orgs.Usage) error {
	return f.setUsage(ctx, usage)
}

func (f *fakeOrgService) AdjustUsage(ctx context.Context, organisationID int64, resource orgs.Resource, delta int64) (*orgs.Usage, error) {
	return f.adjustUsage(ctx, organisationID, resource, delta)
}

type fakeEntitlements struct {
	report      func(ctx context.Context, principal guard.Principal, organisationID int64) (*entitlement.OrganisationEntitlements, error)
	invalidated []int64
}

func (f *fakeEntitlements) Report(ctx context.Context, p guard.Principal, organisationID int64) (*entitlement.OrganisationEntitlements, error) {
	return f.report(ctx, p, organisationID)
}

func (f *fakeEntitlements) Invalidate(ctx context.Context, organisationID int64) {
	f.invalidated = append(f.invalidated, organisationID)
}

type fakeBillingService struct {
	getBilling      func(ctx context.Context, principal guard.Principal, organisationID int64) (*billing.Overview, error)
	setPlan         func(ctx context.Context, principal guard.Principal, organisationID int64, params billing.SetPlanParams) (*billing.OrganisationBilling, error)
	applyDiscount   func(ctx context.Context, principal guard.Principal, organisationID int64, percent int, reason string) (*billing.OrganisationBilling, error)
	setStorageAddOn func(ctx context.Context, principal guard.Principal, organisationID int64, blocks int64) (*billing.StorageAddOn, error)
	checkout        func(ctx context.Context, principal guard.Principal, params billing.CheckoutParams) (*billing.Session, error)
	portal          func(ctx context.Context, principal guard.Principal, organisationID int64, returnURL string) (*billing.Session, error)
	applyEvent      func(ctx context.Context, event *billing.ProcessorEvent) (*billing.OrganisationBilling, error)
}

func (f *fakeBillingService) GetBilling(ctx context.Context, p guard.Principal, organisationID int64) (*billing.Overview, error) {
	return f.getBilling(ctx, p, organisationID)
}

func (f *fakeBillingService) SetOrganisationPlan(ctx context.Context, p guard.Principal, organisationID int64, params billing.SetPlanParams) (*billing.OrganisationBilling, error) {
	return f.setPlan(ctx, p, organisationID, params)
}

func (f *fakeBillingService) ApplyDiscount(ctx context.Context, p guard.Principal, organisationID int64, percent int, reason string) (*billing.OrganisationBilling, error) {
	return f.applyDiscount(ctx, p, organisationID, percent, reason)
}

func (f *fakeBillingService) SetStorageAddOn(ctx context.Context, p guard.Principal, organisationID int64, blocks int64) (*billing.StorageAddOn, error) {
	return f.setStorageAddOn(ctx, p, organisationID, blocks)
}

func (f *fakeBillingService) CreateCheckoutSession(ctx context.Context, p guard.Principal, params billing.CheckoutParams) (*billing.Session, error) {
	return f.checkout(ctx, p, params)
}

func (f *fakeBillingService) CreatePortalSession(ctx context.Context, p guard.Principal, organisationID int64, returnURL string) (*billing.Session, error) {
	return f.portal(ctx, p, organisationID, returnURL)
}

func (f *fakeBillingService) ApplyProcessorEvent(ctx context.Context, event *billing.ProcessorEvent) (*billing.OrganisationBilling, error) {
	return f.applyEvent(ctx, event)
}

type fakeSuperAdminService struct {
	grant          func(ctx context.Context, principal guard.Principal, userID string, permissions []superadmin.Permission) (*superadmin.SuperAdmin, error)
	revoke         func(ctx context.Context, principal guard.Principal, userID string) error
	setPermissions func(ctx context.Context, principal guard.Principal, userID string, permissions []superadmin.Permission) (*superadmin.SuperAdmin, error)
	get            func(ctx context.Context, principal guard.Principal, userID string) (*superadmin.SuperAdmin, error)
	list           func(ctx context.Context, principal guard.Principal) ([]*superadmin.SuperAdmin, error)
}

func (f *fakeSuperAdminService) Grant(ctx context.Context, p guard.Principal, userID string, permissions []superadmin.Permission) (*superadmin.SuperAdmin, error) {
	return f.grant(ctx, p, userID, permissions)
}

func (f *fakeSuperAdminService) Revoke(ctx context.Context, p guard.Principal, userID string) error {
	return f.revoke(ctx, p, userID)
}

func (f *fakeSuperAdminService) SetPermissions(ctx context.Context, p guard.Principal, userID string, permissions []superadmin.Permission) (*superadmin.SuperAdmin, error) {
	return f.setPermissions(ctx, p, userID, permissions)
}

func (f *fakeSuperAdminService) Get(ctx context.Context, p guard.Principal, userID string) (*superadmin.SuperAdmin, error) {
	return f.get(ctx, p, userID)
}

func (f *fakeSuperAdminService) List(ctx context.Context, p guard.Principal) ([]*superadmin.SuperAdmin, error) {
	return f.list(ctx, p)
}

type fakeImpersonationService struct {
	start  func(ctx context.Context, principal guard.Principal, targetUserID string, targetOrgID int64) (*impersonation.Session, error)
	end    func(ctx context.Context, principal guard.Principal, sessionID string) error
	active func(ctx context.Context, superAdminID string) (*impersonation.Session, error)
}

func (f *fakeImpersonationService) Start(ctx context.Context, p guard.Principal, targetUserID string, targetOrgID int64) (*impersonation.Session, error) {
	return f.start(ctx, p, targetUserID, targetOrgID)
}

func (f *fakeImpersonationService) End(ctx context.Context, p guard.Principal, sessionID string) error {
	return f.end(ctx, p, sessionID)
}

func (f *fakeImpersonationService) ActiveSession(ctx context.Context, superAdminID string) (*impersonation.Session, error) {
	return f.active(ctx, superAdminID)
}

type fakeAuditSearcher struct {
	search func(ctx context.Context, principal guard.Principal, filter audit.Filter, limit, offset int) ([]*audit.Entry, int64, error)
}

func (f *fakeAuditSearcher) Search(ctx context.Context, p guard.Principal, filter audit.Filter, limit, offset int) ([]*audit.Entry, int64, error) {
	return f.search(ctx, p, filter, limit, offset)
}

// testDeps bundles the fakes a test wires into the server.
type testDeps struct {
	plans         *fakePlanCatalog
	organisations *fakeOrgService
	entitlements  *fakeEntitlements
	billing       *fakeBillingService
	superadmins   *fakeSuperAdminService
	impersonation *fakeImpersonationService
	auditLog      *fakeAuditSearcher
	webhookSecret string
}

func newTestServer(deps testDeps) *Server {
	if deps.entitlements == nil {
		deps.entitlements = &fakeEntitlements{}
	}

	return NewServer(Config{
		Plans:         deps.plans,
		Organisations: deps.organisations,
		Entitlements:  deps.entitlements,
		Billing:       deps.billing,
		SuperAdmins:   deps.superadmins,
		Impersonation: deps.impersonation,
		AuditLog:      deps.auditLog,
		WebhookSecret: deps.webhookSecret,
	})
}

// doRequest serves one request carrying an authenticated principal.
func doRequest(s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	return doRequestAs(s, guard.Principal{UserID: "usr_admin"}, method, path, body)
}

func doRequestAs(s *Server, principal guard.Principal, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if principal.UserID != "" {
		req = req.WithContext(contextkeys.WithPrincipal(req.Context(), &principal))
	}

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("failed to decode response body %q: %v", rec.Body.String(), err)
	}
}
