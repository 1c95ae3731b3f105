package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/bricksaw/warden/pkg/billing"
	"github.com/bricksaw/warden/pkg/httputil"
)

// maxWebhookBody caps processor webhook payloads at 256 KiB. Real events
// are a few hundred bytes.
const maxWebhookBody = 256 * 1024

// getBilling handles GET /api/v1/organisations/{id}/billing.
func (s *Server) getBilling(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	overview, err := s.billing.GetBilling(r.Context(), principal, id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, overview)
}

// setOrganisationPlan handles POST /api/v1/organisations/{id}/billing/plan:
// the manual override that moves an organisation between plans without
// touching the payment processor.
func (s *Server) setOrganisationPlan(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var params billing.SetPlanParams
	if !httputil.ParseJSONOrError(w, r, &params) {
		return
	}

	row, err := s.billing.SetOrganisationPlan(r.Context(), principal, id, params)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.entitlements.Invalidate(r.Context(), id)
	httputil.WriteSuccess(w, row)
}

type applyDiscountRequest struct {
	Percent int    `json:"percent" validate:"gte=0,lte=100"`
	Reason  string `json:"reason" validate:"required"`
}

// applyDiscount handles POST /api/v1/organisations/{id}/billing/discount.
func (s *Server) applyDiscount(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req applyDiscountRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !s.validateStruct(w, &req) {
		return
	}

	row, err := s.billing.ApplyDiscount(r.Context(), principal, id, req.Percent, req.Reason)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.entitlements.Invalidate(r.Context(), id)
	httputil.WriteSuccess(w, row)
}

type setStorageAddOnRequest struct {
	Blocks int64 `json:"blocks" validate:"gte=0"`
}

// setStorageAddOn handles POST /api/v1/organisations/{id}/billing/storage-addon.
// Zero blocks deactivates the add-on.
func (s *Server) setStorageAddOn(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req setStorageAddOnRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !s.validateStruct(w, &req) {
		return
	}

	addOn, err := s.billing.SetStorageAddOn(r.Context(), principal, id, req.Blocks)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.entitlements.Invalidate(r.Context(), id)
	httputil.WriteSuccess(w, addOn)
}

type checkoutSessionRequest struct {
	PlanID     string `json:"plan_id" validate:"required"`
	Interval   string `json:"interval,omitempty" validate:"omitempty,oneof=monthly annual"`
	SuccessURL string `json:"success_url,omitempty" validate:"omitempty,url"`
	CancelURL  string `json:"cancel_url,omitempty" validate:"omitempty,url"`
}

// createCheckoutSession handles POST /api/v1/organisations/{id}/billing/checkout-session.
func (s *Server) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req checkoutSessionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !s.validateStruct(w, &req) {
		return
	}

	session, err := s.billing.CreateCheckoutSession(r.Context(), principal, billing.CheckoutParams{
		OrganisationID: id,
		PlanID:         req.PlanID,
		Interval:       req.Interval,
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, session)
}

type portalSessionRequest struct {
	ReturnURL string `json:"return_url,omitempty" validate:"omitempty,url"`
}

// createPortalSession handles POST /api/v1/organisations/{id}/billing/portal-session.
func (s *Server) createPortalSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req portalSessionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !s.validateStruct(w, &req) {
		return
	}

	session, err := s.billing.CreatePortalSession(r.Context(), principal, id, req.ReturnURL)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, session)
}

// processorWebhook handles POST /api/v1/billing/webhook. There is no
// principal behind a webhook; the signature header is the authentication.
// An empty configured secret skips verification for local development.
func (s *Server) processorWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read webhook body")
		return
	}

	if s.webhookSecret != "" {
		header := r.Header.Get("Warden-Signature")
		if err := billing.VerifySignature(s.webhookSecret, header, body, time.Now().UTC()); err != nil {
			if s.logger != nil {
				s.logger.WithError(err).Warn("Rejected processor webhook")
			}
			httputil.WriteUnauthorized(w, "invalid webhook signature")
			return
		}
	}

	var event billing.ProcessorEvent
	if err := json.Unmarshal(body, &event); err != nil {
		httputil.WriteBadRequest(w, "invalid webhook payload")
		return
	}
	if !s.validateStruct(w, &event) {
		return
	}

	row, err := s.billing.ApplyProcessorEvent(r.Context(), &event)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.entitlements.Invalidate(r.Context(), event.OrganisationID)
	httputil.WriteSuccess(w, row)
}
