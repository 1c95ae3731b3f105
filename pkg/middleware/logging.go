package middleware

import (
	"net/http"
	"time"

	"github.com/bricksaw/warden/pkg/httputil"
	"github.com/bricksaw/warden/pkg/observability"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestLogging logs one structured line per request with the request id,
// authenticated principal and outcome.
func RequestLogging(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			fields := map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      sw.status,
				"duration_ms": time.Since(start).Milliseconds(),
			}
			if requestID := httputil.RequestIDFromContext(r.Context()); requestID != "" {
				fields["request_id"] = requestID
			}
			if principal, ok := PrincipalFromRequest(r); ok {
				fields["actor"] = principal.UserID
				if principal.Impersonating() {
					fields["impersonating"] = *principal.ImpersonatedUserID
				}
			}

			entry := logger.WithFields(fields)
			if sw.status >= http.StatusInternalServerError {
				entry.Error("Request failed")
			} else {
				entry.Info("Request handled")
			}
		})
	}
}
