package api

import (
	"net/http"

	"github.com/bricksaw/warden/pkg/httputil"
)

type startImpersonationRequest struct {
	TargetUserID         string `json:"target_user_id" validate:"required"`
	TargetOrganisationID int64  `json:"target_organisation_id" validate:"required,gt=0"`
}

// startImpersonation handles POST /api/v1/impersonation/sessions.
func (s *Server) startImpersonation(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	var req startImpersonationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !s.validateStruct(w, &req) {
		return
	}

	session, err := s.impersonation.Start(r.Context(), principal, req.TargetUserID, req.TargetOrganisationID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, session)
}

// endImpersonation handles DELETE /api/v1/impersonation/sessions/{id}.
// Ending an already-ended session is a success: the caller wants it dead
// and it is.
func (s *Server) endImpersonation(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.impersonation.End(r.Context(), principal, id); err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// activeImpersonation handles GET /api/v1/impersonation/sessions/active:
// the caller's own live session, 404 when there is none.
func (s *Server) activeImpersonation(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	session, err := s.impersonation.ActiveSession(r.Context(), principal.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, session)
}
