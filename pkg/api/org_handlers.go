package api

import (
	"context"
	"net/http"

	"github.com/bricksaw/warden/pkg/guard"
	"github.com/bricksaw/warden/pkg/httputil"
	"github.com/bricksaw/warden/pkg/orgs"
)

// listOrganisations handles GET /api/v1/organisations.
func (s *Server) listOrganisations(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	limit, offset, ok := parsePage(w, r)
	if !ok {
		return
	}

	organisations, total, err := s.organisations.List(r.Context(), principal, limit, offset)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"organisations": organisations,
		"total":         total,
		"limit":         limit,
		"offset":        offset,
	})
}

// getOrganisation handles GET /api/v1/organisations/{id}. The response is
// the snapshot: lifecycle flags plus live usage counters.
func (s *Server) getOrganisation(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	snapshot, err := s.organisations.Snapshot(r.Context(), principal, id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, snapshot)
}

// updateOrganisation handles PATCH /api/v1/organisations/{id}.
func (s *Server) updateOrganisation(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var params orgs.UpdateParams
	if !httputil.ParseJSONOrError(w, r, &params) {
		return
	}

	organisation, err := s.organisations.Update(r.Context(), principal, id, params)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, organisation)
}

// The lifecycle operations share one shape: parse the id, run the service
// call, return the updated organisation.

func (s *Server) archiveOrganisation(w http.ResponseWriter, r *http.Request) {
	s.lifecycleOp(w, r, s.organisations.Archive)
}

func (s *Server) restoreOrganisation(w http.ResponseWriter, r *http.Request) {
	s.lifecycleOp(w, r, s.organisations.Restore)
}

func (s *Server) unblockOrganisation(w http.ResponseWriter, r *http.Request) {
	s.lifecycleOp(w, r, s.organisations.Unblock)
}

// blockOrganisation handles POST /api/v1/organisations/{id}/block. The
// reason is mandatory: a block without one is unreviewable.
func (s *Server) blockOrganisation(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason" validate:"required"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !s.validateStruct(w, &req) {
		return
	}

	organisation, err := s.organisations.Block(r.Context(), principal, id, req.Reason)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, organisation)
}

// deleteOrganisation handles DELETE /api/v1/organisations/{id}.
func (s *Server) deleteOrganisation(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.organisations.DeletePermanently(r.Context(), principal, id); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.entitlements.Invalidate(r.Context(), id)
	httputil.WriteNoContent(w)
}

// getEntitlements handles GET /api/v1/organisations/{id}/entitlements.
func (s *Server) getEntitlements(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	report, err := s.entitlements.Report(r.Context(), principal, id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, report)
}

// setUsageRequest carries the absolute counters the usage-source API
// overwrites. Machine collaborators report full state, not deltas.
type setUsageRequest struct {
	SeatsCount   int64 `json:"seats_count" validate:"gte=0"`
	RecordsCount int64 `json:"records_count" validate:"gte=0"`
	ReportsCount int64 `json:"reports_count" validate:"gte=0"`
	StorageBytes int64 `json:"storage_bytes" validate:"gte=0"`
}

// setUsage handles PUT /api/v1/organisations/{id}/usage.
func (s *Server) setUsage(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.servicePrincipal(w, r); !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req setUsageRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !s.validateStruct(w, &req) {
		return
	}

	usage := &orgs.Usage{
		OrganisationID: id,
		SeatsCount:     req.SeatsCount,
		RecordsCount:   req.RecordsCount,
		ReportsCount:   req.ReportsCount,
		StorageBytes:   req.StorageBytes,
	}
	if err := s.organisations.SetUsage(r.Context(), usage); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.entitlements.Invalidate(r.Context(), id)
	httputil.WriteSuccess(w, usage)
}

// adjustUsageRequest moves one counter by a signed delta.
type adjustUsageRequest struct {
	Resource string `json:"resource" validate:"required"`
	Delta    int64  `json:"delta" validate:"required"`
}

// adjustUsage handles POST /api/v1/organisations/{id}/usage/adjust.
func (s *Server) adjustUsage(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.servicePrincipal(w, r); !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req adjustUsageRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !s.validateStruct(w, &req) {
		return
	}

	resource := orgs.Resource(req.Resource)
	if !resource.Valid() {
		httputil.WriteBadRequest(w, "unknown resource: "+req.Resource)
		return
	}

	usage, err := s.organisations.AdjustUsage(r.Context(), id, resource, req.Delta)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.entitlements.Invalidate(r.Context(), id)
	httputil.WriteSuccess(w, usage)
}

type lifecycleFunc func(ctx context.Context, principal guard.Principal, id int64) (*orgs.Organisation, error)

func (s *Server) lifecycleOp(w http.ResponseWriter, r *http.Request, op lifecycleFunc) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	organisation, err := op(r.Context(), principal, id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, organisation)
}
