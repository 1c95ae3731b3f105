package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bricksaw/warden/pkg/api"
	"github.com/bricksaw/warden/pkg/audit"
	"github.com/bricksaw/warden/pkg/billing"
	"github.com/bricksaw/warden/pkg/catalog"
	"github.com/bricksaw/warden/pkg/entitlement"
	"github.com/bricksaw/warden/pkg/guard"
	"github.com/bricksaw/warden/pkg/identity"
	"github.com/bricksaw/warden/pkg/impersonation"
	"github.com/bricksaw/warden/pkg/middleware"
	"github.com/bricksaw/warden/pkg/orgs"
	"github.com/bricksaw/warden/pkg/superadmin"
)

// These tests run the full HTTP stack short of the database: real router,
// real principal middleware, real service-token verification, with the
// service layer stubbed. The stubs record the principal they were called
// with so the tests can prove identity flows from the Authorization header
// all the way into the services.

const (
	testToken     = "tok_integration_secret"
	testPrincipal = "usr_ops"
)

func newTestEngine(t *testing.T, sessions middleware.SessionSource) (*api.Server, *callRecord) {
	t.Helper()

	verifier, err := identity.ParseServiceTokens(testToken + "=" + testPrincipal)
	if err != nil {
		t.Fatalf("Failed to parse service tokens: %v", err)
	}

	rec := &callRecord{}
	server := api.NewServer(api.Config{
		Plans:         &planStub{rec},
		Organisations: &orgStub{rec},
		Entitlements:  &entitlementStub{rec},
		Billing:       &billingStub{rec},
		SuperAdmins:   &superAdminStub{rec},
		Impersonation: &impersonationStub{rec},
		AuditLog:      &auditStub{rec},
		Principals:    middleware.NewPrincipalMiddleware(verifier, sessions, nil),
		WebhookSecret: "whsec_integration",
	})
	return server, rec
}

func doJSON(t *testing.T, server *api.Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	return w
}

// TestAuthenticationBoundary covers the identity edge of the API: no
// credential, a bad credential, a malformed header, and a valid service
// token.
func TestAuthenticationBoundary(t *testing.T) {
	server, _ := newTestEngine(t, nil)

	testCases := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"no credential", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"malformed header", "Basic " + testToken, http.StatusUnauthorized},
		{"valid service token", "Bearer " + testToken, http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/plans", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			server.ServeHTTP(w, req)

			if w.Code != tc.wantStatus {
				t.Errorf("Expected status %d, got %d: %s", tc.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

// TestAdministrativeFlow walks the main admin surface with a verified
// caller and checks the authenticated identity reaches every service.
func TestAdministrativeFlow(t *testing.T) {
	server, rec := newTestEngine(t, nil)

	w := doJSON(t, server, "GET", "/api/v1/organisations/42", testToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if rec.lastPrincipal.UserID != testPrincipal {
		t.Errorf("Expected principal %q, got %q", testPrincipal, rec.lastPrincipal.UserID)
	}

	w = doJSON(t, server, "POST", "/api/v1/organisations/42/block", testToken,
		map[string]string{"reason": "chargeback dispute"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if rec.blockedReason != "chargeback dispute" {
		t.Errorf("Block reason did not reach the service: %q", rec.blockedReason)
	}

	w = doJSON(t, server, "GET", "/api/v1/organisations/42/entitlements", testToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var report entitlement.OrganisationEntitlements
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("Failed to parse entitlement report: %v", err)
	}
	if report.OrganisationID != 42 {
		t.Errorf("Expected organisation 42, got %d", report.OrganisationID)
	}

	w = doJSON(t, server, "POST", "/api/v1/superadmins", testToken, map[string]interface{}{
		"user_id":     "usr_new",
		"permissions": []string{"view-all-organisations"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	if rec.grantedUserID != "usr_new" {
		t.Errorf("Grant target did not reach the service: %q", rec.grantedUserID)
	}

	// Usage-source routes accept machine callers; the verified service
	// token qualifies.
	w = doJSON(t, server, "PUT", "/api/v1/organisations/42/usage", testToken,
		map[string]int64{"seats_count": 5, "records_count": 100})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, server, "GET", "/api/v1/audit?organisation_id=42", testToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if rec.auditFilter.TargetOrganisationID == nil || *rec.auditFilter.TargetOrganisationID != 42 {
		t.Errorf("Audit filter did not carry the organisation id: %+v", rec.auditFilter)
	}
}

// TestImpersonationAttachment checks that a live session makes every
// subsequent call carry the impersonated user, and a dead one does not.
func TestImpersonationAttachment(t *testing.T) {
	t.Run("live session attaches", func(t *testing.T) {
		sessions := &sessionStub{session: &impersonation.Session{
			ID:                   "imp_1",
			SuperAdminUserID:     testPrincipal,
			TargetUserID:         "usr_target",
			TargetOrganisationID: 42,
			StartedAt:            time.Now().UTC(),
			ExpiresAt:            time.Now().UTC().Add(30 * time.Minute),
			Active:               true,
		}}
		server, rec := newTestEngine(t, sessions)

		w := doJSON(t, server, "GET", "/api/v1/organisations/42", testToken, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		if rec.lastPrincipal.ImpersonatedUserID == nil || *rec.lastPrincipal.ImpersonatedUserID != "usr_target" {
			t.Errorf("Expected impersonated user usr_target, got %+v", rec.lastPrincipal)
		}
	})

	t.Run("expired session is ignored", func(t *testing.T) {
		sessions := &sessionStub{session: &impersonation.Session{
			ID:                   "imp_2",
			SuperAdminUserID:     testPrincipal,
			TargetUserID:         "usr_target",
			TargetOrganisationID: 42,
			StartedAt:            time.Now().UTC().Add(-2 * time.Hour),
			ExpiresAt:            time.Now().UTC().Add(-time.Hour),
			Active:               true,
		}}
		server, rec := newTestEngine(t, sessions)

		w := doJSON(t, server, "GET", "/api/v1/organisations/42", testToken, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		if rec.lastPrincipal.ImpersonatedUserID != nil {
			t.Errorf("Expected acting-as-self, got impersonation of %q", *rec.lastPrincipal.ImpersonatedUserID)
		}
	})
}

// TestProcessorWebhook exercises the one unauthenticated route: signature
// verification instead of a bearer credential.
func TestProcessorWebhook(t *testing.T) {
	server, rec := newTestEngine(t, nil)

	payload, _ := json.Marshal(billing.ProcessorEvent{
		Type:           billing.EventSubscriptionUpdated,
		OrganisationID: 42,
		PlanID:         "plan_pro",
		Status:         billing.StatusActive,
	})

	t.Run("signed payload is applied", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/billing/webhook", bytes.NewReader(payload))
		req.Header.Set("Warden-Signature", billing.SignPayload("whsec_integration", time.Now().UTC(), payload))
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		if rec.appliedEvent == nil || rec.appliedEvent.OrganisationID != 42 {
			t.Errorf("Event did not reach the billing service: %+v", rec.appliedEvent)
		}
	})

	t.Run("unsigned payload is rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/billing/webhook", bytes.NewReader(payload))
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("Expected status 401, got %d", w.Code)
		}
	})
}

// callRecord is the shared state behind the per-interface stubs.
type callRecord struct {
	lastPrincipal guard.Principal
	blockedReason string
	grantedUserID string
	auditFilter   audit.Filter
	appliedEvent  *billing.ProcessorEvent
}

type planStub struct{ rec *callRecord }

func (s *planStub) List(ctx context.Context) ([]*catalog.Plan, error) {
	return []*catalog.Plan{{ID: "plan_pro", Name: "Pro", Published: true}}, nil
}

func (s *planStub) Get(ctx context.Context, id string) (*catalog.Plan, error) {
	return &catalog.Plan{ID: id, Name: "Pro", Published: true}, nil
}

type orgStub struct{ rec *callRecord }

func (s *orgStub) Snapshot(ctx context.Context, principal guard.Principal, id int64) (*orgs.Snapshot, error) {
	s.rec.lastPrincipal = principal
	return &orgs.Snapshot{
		Organisation: &orgs.Organisation{ID: id, Name: "Acme Robotics"},
		Usage:        &orgs.Usage{OrganisationID: id},
	}, nil
}

func (s *orgStub) List(ctx context.Context, principal guard.Principal, limit, offset int) ([]*orgs.Organisation, int64, error) {
	s.rec.lastPrincipal = principal
	return nil, 0, nil
}

func (s *orgStub) Update(ctx context.Context, principal guard.Principal, id int64, params orgs.UpdateParams) (*orgs.Organisation, error) {
	s.rec.lastPrincipal = principal
	return &orgs.Organisation{ID: id}, nil
}

func (s *orgStub) Archive(ctx context.Context, principal guard.Principal, id int64) (*orgs.Organisation, error) {
	s.rec.lastPrincipal = principal
	return &orgs.Organisation{ID: id, Archived: true}, nil
}

func (s *orgStub) Restore(ctx context.Context, principal guard.Principal, id int64) (*orgs.Organisation, error) {
	s.rec.lastPrincipal = principal
	return &orgs.Organisation{ID: id}, nil
}

func (s *orgStub) Block(ctx context.Context, principal guard.Principal, id int64, reason string) (*orgs.Organisation, error) {
	s.rec.lastPrincipal = principal
	s.rec.blockedReason = reason
	return &orgs.Organisation{ID: id, Blocked: true, BlockedReason: reason}, nil
}

func (s *orgStub) Unblock(ctx context.Context, principal guard.Principal, id int64) (*orgs.Organisation, error) {
	s.rec.lastPrincipal = principal
	return &orgs.Organisation{ID: id}, nil
}

func (s *orgStub) DeletePermanently(ctx context.Context, principal guard.Principal, id int64) error {
	s.rec.lastPrincipal = principal
	return nil
}

func (s *orgStub) SetUsage(ctx context.Context, usage *orgs.Usage) error { return nil }

func (s *orgStub) AdjustUsage(ctx context.Context, organisationID int64, resource orgs.Resource, delta int64) (*orgs.Usage, error) {
	return &orgs.Usage{OrganisationID: organisationID}, nil
}

type entitlementStub struct{ rec *callRecord }

func (s *entitlementStub) Report(ctx context.Context, principal guard.Principal, organisationID int64) (*entitlement.OrganisationEntitlements, error) {
	s.rec.lastPrincipal = principal
	return &entitlement.OrganisationEntitlements{OrganisationID: organisationID, FreeAccess: true}, nil
}

func (s *entitlementStub) Invalidate(ctx context.Context, organisationID int64) {}

type billingStub struct{ rec *callRecord }

func (s *billingStub) GetBilling(ctx context.Context, principal guard.Principal, organisationID int64) (*billing.Overview, error) {
	s.rec.lastPrincipal = principal
	return &billing.Overview{Billing: &billing.OrganisationBilling{OrganisationID: organisationID}}, nil
}

func (s *billingStub) SetOrganisationPlan(ctx context.Context, principal guard.Principal, organisationID int64, params billing.SetPlanParams) (*billing.OrganisationBilling, error) {
	s.rec.lastPrincipal = principal
	return &billing.OrganisationBilling{OrganisationID: organisationID, CurrentPlanID: params.PlanID}, nil
}

func (s *billingStub) ApplyDiscount(ctx context.Context, principal guard.Principal, organisationID int64, percent int, reason string) (*billing.OrganisationBilling, error) {
	s.rec.lastPrincipal = principal
	return &billing.OrganisationBilling{OrganisationID: organisationID, DiscountPercent: percent}, nil
}

func (s *billingStub) SetStorageAddOn(ctx context.Context, principal guard.Principal, organisationID int64, blocks int64) (*billing.StorageAddOn, error) {
	s.rec.lastPrincipal = principal
	return &billing.StorageAddOn{OrganisationID: organisationID, Blocks: blocks, Active: blocks > 0}, nil
}

func (s *billingStub) CreateCheckoutSession(ctx context.Context, principal guard.Principal, params billing.CheckoutParams) (*billing.Session, error) {
	s.rec.lastPrincipal = principal
	return &billing.Session{ID: "cs_1", URL: "https://billing.example/checkout/cs_1"}, nil
}

func (s *billingStub) CreatePortalSession(ctx context.Context, principal guard.Principal, organisationID int64, returnURL string) (*billing.Session, error) {
	s.rec.lastPrincipal = principal
	return &billing.Session{ID: "ps_1", URL: "https://billing.example/portal/ps_1"}, nil
}

func (s *billingStub) ApplyProcessorEvent(ctx context.Context, event *billing.ProcessorEvent) (*billing.OrganisationBilling, error) {
	s.rec.appliedEvent = event
	return &billing.OrganisationBilling{OrganisationID: event.OrganisationID}, nil
}

type superAdminStub struct{ rec *callRecord }

func (s *superAdminStub) Grant(ctx context.Context, principal guard.Principal, userID string, permissions []superadmin.Permission) (*superadmin.SuperAdmin, error) {
	s.rec.lastPrincipal = principal
	s.rec.grantedUserID = userID
	perms := make([]string, len(permissions))
	for i, p := range permissions {
		perms[i] = p.String()
	}
	return &superadmin.SuperAdmin{UserID: userID, Active: true, Permissions: perms}, nil
}

func (s *superAdminStub) Revoke(ctx context.Context, principal guard.Principal, userID string) error {
	s.rec.lastPrincipal = principal
	return nil
}

func (s *superAdminStub) SetPermissions(ctx context.Context, principal guard.Principal, userID string, permissions []superadmin.Permission) (*superadmin.SuperAdmin, error) {
	s.rec.lastPrincipal = principal
	return &superadmin.SuperAdmin{UserID: userID, Active: true}, nil
}

func (s *superAdminStub) Get(ctx context.Context, principal guard.Principal, userID string) (*superadmin.SuperAdmin, error) {
	s.rec.lastPrincipal = principal
	return &superadmin.SuperAdmin{UserID: userID, Active: true}, nil
}

func (s *superAdminStub) List(ctx context.Context, principal guard.Principal) ([]*superadmin.SuperAdmin, error) {
	s.rec.lastPrincipal = principal
	return nil, nil
}

type impersonationStub struct{ rec *callRecord }

func (s *impersonationStub) Start(ctx context.Context, principal guard.Principal, targetUserID string, targetOrgID int64) (*impersonation.Session, error) {
	s.rec.lastPrincipal = principal
	return &impersonation.Session{
		ID:                   "imp_new",
		SuperAdminUserID:     principal.UserID,
		TargetUserID:         targetUserID,
		TargetOrganisationID: targetOrgID,
		Active:               true,
	}, nil
}

func (s *impersonationStub) End(ctx context.Context, principal guard.Principal, sessionID string) error {
	s.rec.lastPrincipal = principal
	return nil
}

func (s *impersonationStub) ActiveSession(ctx context.Context, superAdminID string) (*impersonation.Session, error) {
	return nil, guard.ErrNotFound
}

type auditStub struct{ rec *callRecord }

func (s *auditStub) Search(ctx context.Context, principal guard.Principal, filter audit.Filter, limit, offset int) ([]*audit.Entry, int64, error) {
	s.rec.lastPrincipal = principal
	s.rec.auditFilter = filter
	return nil, 0, nil
}

// sessionStub feeds the principal middleware a fixed session.
type sessionStub struct {
	session *impersonation.Session
}

func (s *sessionStub) ActiveSession(ctx context.Context, superAdminID string) (*impersonation.Session, error) {
	if s.session == nil {
		return nil, guard.ErrNotFound
	}
	return s.session, nil
}
