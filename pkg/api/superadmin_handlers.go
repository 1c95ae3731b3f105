package api

import (
	"net/http"

	"github.com/bricksaw/warden/pkg/httputil"
	"github.com/bricksaw/warden/pkg/superadmin"
)

// listSuperAdmins handles GET /api/v1/superadmins.
func (s *Server) listSuperAdmins(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	admins, err := s.superadmins.List(r.Context(), principal)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"superadmins": admins,
		"total":       len(admins),
	})
}

// getSuperAdmin handles GET /api/v1/superadmins/{userID}.
func (s *Server) getSuperAdmin(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}

	admin, err := s.superadmins.Get(r.Context(), principal, userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, admin)
}

type grantSuperAdminRequest struct {
	UserID      string   `json:"user_id" validate:"required"`
	Permissions []string `json:"permissions" validate:"required,min=1"`
}

// grantSuperAdmin handles POST /api/v1/superadmins.
func (s *Server) grantSuperAdmin(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	var req grantSuperAdminRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !s.validateStruct(w, &req) {
		return
	}

	admin, err := s.superadmins.Grant(r.Context(), principal, req.UserID, toPermissions(req.Permissions))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, admin)
}

// patchSuperAdminRequest drives the roster PATCH. Active false revokes;
// active true re-grants with the given permissions; permissions alone
// replaces the list on an active record.
type patchSuperAdminRequest struct {
	Active      *bool    `json:"active,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// patchSuperAdmin handles PATCH /api/v1/superadmins/{userID}.
func (s *Server) patchSuperAdmin(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}

	var req patchSuperAdminRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Active == nil && req.Permissions == nil {
		httputil.WriteBadRequest(w, "nothing to change: set active or permissions")
		return
	}

	if req.Active != nil && !*req.Active {
		if err := s.superadmins.Revoke(r.Context(), principal, userID); err != nil {
			s.writeDomainError(w, err)
			return
		}
		httputil.WriteNoContent(w)
		return
	}

	var admin *superadmin.SuperAdmin
	var err error
	if req.Active != nil && *req.Active {
		// Re-granting reactivates a revoked record.
		admin, err = s.superadmins.Grant(r.Context(), principal, userID, toPermissions(req.Permissions))
	} else {
		admin, err = s.superadmins.SetPermissions(r.Context(), principal, userID, toPermissions(req.Permissions))
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, admin)
}

func toPermissions(tokens []string) []superadmin.Permission {
	permissions := make([]superadmin.Permission, 0, len(tokens))
	for _, token := range tokens {
		permissions = append(permissions, superadmin.Permission(token))
	}
	return permissions
}
