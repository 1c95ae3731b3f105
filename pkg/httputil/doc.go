// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, error responses,
// parameter parsing, validation, and common HTTP middleware patterns.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteSuccess(w, resource)
//	httputil.WriteCreated(w, resource)
//
// Error responses:
//
//	httputil.WriteError(w, http.StatusBadRequest, err)
//	httputil.WriteBadRequest(w, "Invalid input")
//	httputil.WriteUnauthorized(w, "Token expired")
//	httputil.WriteForbidden(w, "Insufficient permissions")
//
// # Request Parsing
//
// JSON parsing:
//
//	var req CreatePlanRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Path parameters:
//
//	orgID, err := httputil.ParsePathInt64(r, "orgID")
//	slug, err := httputil.ParsePathString(r, "slug")
//
// Query parameters:
//
//	limit, err := httputil.ParseQueryInt(r, "limit", 50)
//	offset, err := httputil.ParseQueryInt(r, "offset", 0)
//	from, err := httputil.ParseQueryTime(r, "from")
//
// # Validation
//
//	httputil.RequireNonEmpty(w, req.Reason, "reason")
//	httputil.RequirePositive(w, orgID, "org_id")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RecoveryMiddleware,
//		httputil.RequestIDMiddleware,
//		httputil.ContentTypeMiddleware,
//		httputil.MaxBytesMiddleware(1024*1024), // 1MB
//	)
//
// # Related Packages
//
//   - pkg/middleware: Authentication and authorization middleware
package httputil
