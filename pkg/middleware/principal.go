package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bricksaw/warden/pkg/contextkeys"
	"github.com/bricksaw/warden/pkg/guard"
	"github.com/bricksaw/warden/pkg/identity"
	"github.com/bricksaw/warden/pkg/impersonation"
	"github.com/bricksaw/warden/pkg/observability"
)

// SessionSource answers whether a super admin currently holds a live
// impersonation session. *impersonation.Service satisfies it.
type SessionSource interface {
	ActiveSession(ctx context.Context, superAdminID string) (*impersonation.Session, error)
}

// PrincipalMiddleware builds the guard.Principal every privileged
// operation requires: the identity boundary names the caller, then a live
// impersonation session (if any) is attached so downstream audit entries
// carry the impersonated user.
type PrincipalMiddleware struct {
	verifier identity.Verifier
	sessions SessionSource
	logger   *observability.Logger
}

// NewPrincipalMiddleware creates the middleware. Sessions may be nil for
// surfaces that never impersonate (the usage-source API).
func NewPrincipalMiddleware(verifier identity.Verifier, sessions SessionSource, logger *observability.Logger) *PrincipalMiddleware {
	return &PrincipalMiddleware{
		verifier: verifier,
		sessions: sessions,
		logger:   logger,
	}
}

// Handler authenticates the request and stores the principal in its
// context. Requests without a verifiable bearer credential stop here with
// 401; authorisation stays with the guard.
func (m *PrincipalMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential, ok := bearerCredential(r)
		if !ok {
			unauthorizedResponse(w, "missing or malformed authorization header")
			return
		}

		id, err := m.verifier.Verify(r.Context(), credential)
		if err != nil {
			unauthorizedResponse(w, "invalid credential")
			return
		}

		principal := guard.Principal{UserID: id.UserID, AuthMethod: string(id.Method)}
		m.attachImpersonation(r.Context(), &principal)

		ctx := contextkeys.WithPrincipal(r.Context(), &principal)
		ctx = observability.WithUserID(ctx, id.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// attachImpersonation looks up the caller's live session. Lookup failures
// degrade to acting-as-self: a broken session store must not lock every
// admin out, and the guard still checks permissions either way.
func (m *PrincipalMiddleware) attachImpersonation(ctx context.Context, principal *guard.Principal) {
	if m.sessions == nil {
		return
	}

	session, err := m.sessions.ActiveSession(ctx, principal.UserID)
	if err != nil {
		if !errors.Is(err, guard.ErrNotFound) && m.logger != nil {
			m.logger.WithError(err).WithField("actor", principal.UserID).
				Warn("Impersonation session lookup failed; acting as self")
		}
		return
	}
	if session == nil || !session.Live(time.Now().UTC()) {
		return
	}

	principal.ImpersonatedUserID = &session.TargetUserID
	principal.ImpersonationOrgID = &session.TargetOrganisationID
}

// PrincipalFromContext returns the principal stored by Handler.
func PrincipalFromContext(ctx context.Context) (guard.Principal, bool) {
	principal, ok := ctx.Value(contextkeys.PrincipalKey).(*guard.Principal)
	if !ok || principal == nil {
		return guard.Principal{}, false
	}
	return *principal, true
}

// PrincipalFromRequest is PrincipalFromContext over a request.
func PrincipalFromRequest(r *http.Request) (guard.Principal, bool) {
	return PrincipalFromContext(r.Context())
}

func bearerCredential(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func unauthorizedResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
