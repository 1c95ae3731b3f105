package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bricksaw/warden/pkg/guard"
	"github.com/bricksaw/warden/pkg/httputil"
	"github.com/bricksaw/warden/pkg/identity"
	"github.com/bricksaw/warden/pkg/middleware"
	"github.com/bricksaw/warden/pkg/observability"
)

// Server is the administrative HTTP surface. Every route except the
// processor webhook runs behind the principal middleware; authorisation
// itself stays with the guard inside each service, so a handler's job is
// parsing, validation and status mapping only.
type Server struct {
	router   *mux.Router
	validate *validator.Validate
	logger   *observability.Logger

	plans         PlanCatalog
	organisations OrganisationService
	entitlements  EntitlementService
	billing       BillingService
	superadmins   SuperAdminService
	impersonation ImpersonationService
	auditLog      AuditSearcher

	webhookSecret string
}

// Config carries the server's collaborators. Principals and RateLimiter
// are optional so unit tests can drive handlers directly.
type Config struct {
	Plans         PlanCatalog
	Organisations OrganisationService
	Entitlements  EntitlementService
	Billing       BillingService
	SuperAdmins   SuperAdminService
	Impersonation ImpersonationService
	AuditLog      AuditSearcher

	Principals  *middleware.PrincipalMiddleware
	RateLimiter *middleware.RateLimiter
	Health      *observability.HealthChecker
	Metrics     *observability.Metrics

	// WebhookSecret verifies processor webhook signatures. Empty means
	// signature verification is skipped (development only).
	WebhookSecret string

	Logger *observability.Logger
}

// NewServer builds the router. Route shape:
//
//	/api/v1/...            authenticated administrative surface
//	/api/v1/billing/webhook  signature-verified, no principal
//	/healthz /readyz       liveness and readiness probes
func NewServer(cfg Config) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		validate:      validator.New(),
		logger:        cfg.Logger,
		plans:         cfg.Plans,
		organisations: cfg.Organisations,
		entitlements:  cfg.Entitlements,
		billing:       cfg.Billing,
		superadmins:   cfg.SuperAdmins,
		impersonation: cfg.Impersonation,
		auditLog:      cfg.AuditLog,
		webhookSecret: cfg.WebhookSecret,
	}

	s.setupRoutes(cfg)
	return s
}

func (s *Server) setupRoutes(cfg Config) {
	if cfg.Health != nil {
		s.router.HandleFunc("/healthz", cfg.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/readyz", cfg.Health.Readiness).Methods("GET")
	}

	// The webhook authenticates with an HMAC signature, not a bearer
	// credential, so it sits outside the principal subrouter.
	s.router.HandleFunc("/api/v1/billing/webhook", s.processorWebhook).Methods("POST")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	if cfg.Metrics != nil {
		api.Use(observability.HTTPMetricsMiddleware(cfg.Metrics))
	}
	api.Use(httputil.RecoveryMiddleware, httputil.RequestIDMiddleware)
	if cfg.Principals != nil {
		api.Use(cfg.Principals.Handler)
	}
	if cfg.RateLimiter != nil {
		api.Use(cfg.RateLimiter.Handler)
	}
	if cfg.Logger != nil {
		api.Use(middleware.RequestLogging(cfg.Logger))
	}

	api.HandleFunc("/plans", s.listPlans).Methods("GET")
	api.HandleFunc("/plans/{id}", s.getPlan).Methods("GET")

	api.HandleFunc("/organisations", s.listOrganisations).Methods("GET")
	api.HandleFunc("/organisations/{id}", s.getOrganisation).Methods("GET")
	api.HandleFunc("/organisations/{id}", s.updateOrganisation).Methods("PATCH")
	api.HandleFunc("/organisations/{id}", s.deleteOrganisation).Methods("DELETE")
	api.HandleFunc("/organisations/{id}/archive", s.archiveOrganisation).Methods("POST")
	api.HandleFunc("/organisations/{id}/restore", s.restoreOrganisation).Methods("POST")
	api.HandleFunc("/organisations/{id}/block", s.blockOrganisation).Methods("POST")
	api.HandleFunc("/organisations/{id}/unblock", s.unblockOrganisation).Methods("POST")
	api.HandleFunc("/organisations/{id}/entitlements", s.getEntitlements).Methods("GET")
	api.HandleFunc("/organisations/{id}/usage", s.setUsage).Methods("PUT")
	api.HandleFunc("/organisations/{id}/usage/adjust", s.adjustUsage).Methods("POST")

	api.HandleFunc("/organisations/{id}/billing", s.getBilling).Methods("GET")
	api.HandleFunc("/organisations/{id}/billing/plan", s.setOrganisationPlan).Methods("POST")
	api.HandleFunc("/organisations/{id}/billing/discount", s.applyDiscount).Methods("POST")
	api.HandleFunc("/organisations/{id}/billing/storage-addon", s.setStorageAddOn).Methods("POST")
	api.HandleFunc("/organisations/{id}/billing/checkout-session", s.createCheckoutSession).Methods("POST")
	api.HandleFunc("/organisations/{id}/billing/portal-session", s.createPortalSession).Methods("POST")

	api.HandleFunc("/superadmins", s.listSuperAdmins).Methods("GET")
	api.HandleFunc("/superadmins", s.grantSuperAdmin).Methods("POST")
	api.HandleFunc("/superadmins/{userID}", s.getSuperAdmin).Methods("GET")
	api.HandleFunc("/superadmins/{userID}", s.patchSuperAdmin).Methods("PATCH")

	api.HandleFunc("/impersonation/sessions", s.startImpersonation).Methods("POST")
	api.HandleFunc("/impersonation/sessions/active", s.activeImpersonation).Methods("GET")
	api.HandleFunc("/impersonation/sessions/{id}", s.endImpersonation).Methods("DELETE")

	api.HandleFunc("/audit", s.searchAudit).Methods("GET")
}

// Handler wraps the router with HTTP-level tracing. This is what main
// mounts on the listener.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "warden-api")
}

// ServeHTTP implements http.Handler, bypassing the tracing wrapper. Tests
// use it directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// principal pulls the authenticated caller out of the request context. A
// missing principal means the route was wired without the middleware.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (guard.Principal, bool) {
	principal, ok := middleware.PrincipalFromRequest(r)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return guard.Principal{}, false
	}
	return principal, true
}

// servicePrincipal is principal plus the machine-caller restriction. The
// usage-source routes mutate the counters every entitlement answer is built
// on, and their authorisation is the service credential itself — an
// interactively authenticated user never qualifies, super admin or not.
func (s *Server) servicePrincipal(w http.ResponseWriter, r *http.Request) (guard.Principal, bool) {
	principal, ok := s.principal(w, r)
	if !ok {
		return guard.Principal{}, false
	}
	if principal.AuthMethod != string(identity.MethodServiceToken) {
		httputil.WriteForbidden(w, "usage source requires a service credential")
		return guard.Principal{}, false
	}
	return principal, true
}

// validateStruct runs validator tags over a decoded request body and writes
// the 400 itself on failure.
func (s *Server) validateStruct(w http.ResponseWriter, req interface{}) bool {
	if err := s.validate.Struct(req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// writeDomainError maps the guard error taxonomy onto HTTP statuses.
// Anything outside the taxonomy is a 500.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, guard.ErrPermissionDenied):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, guard.ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, guard.ErrInvalidArgument):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, guard.ErrUnavailable):
		httputil.WriteServiceUnavailable(w, err.Error())
	default:
		if s.logger != nil {
			s.logger.WithError(err).Error("Unclassified handler error")
		}
		httputil.WriteInternalError(w, errors.New("internal server error"))
	}
}

// parsePage reads limit/offset with the list defaults and caps.
func parsePage(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return 0, 0, false
	}
	offset, err = httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return 0, 0, false
	}

	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset, true
}
