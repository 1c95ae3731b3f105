package api

import (
	"net/http"

	"github.com/bricksaw/warden/pkg/httputil"
)

// listPlans handles GET /api/v1/plans. The catalog is reference data, so
// any authenticated caller may read it.
func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.plans.List(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"plans": plans,
		"total": len(plans),
	})
}

// getPlan handles GET /api/v1/plans/{id}.
func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	plan, err := s.plans.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, plan)
}
