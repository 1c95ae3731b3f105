package impersonation

import "time"

// SessionTTL is the fixed lifetime of an impersonation session. There is no
// extension path; a longer investigation means a fresh session.
const SessionTTL = time.Hour

// Session is one time-boxed window in which a super admin acts with the
// data visibility of a specific member of a specific organisation.
type Session struct {
	ID                   string     `json:"id"`
	SuperAdminUserID     string     `json:"super_admin_user_id"`
	TargetUserID         string     `json:"target_user_id"`
	TargetOrganisationID int64      `json:"target_organisation_id"`
	StartedAt            time.Time  `json:"started_at"`
	ExpiresAt            time.Time  `json:"expires_at"`
	Active               bool       `json:"active"`
	EndedAt              *time.Time `json:"ended_at,omitempty"`
}

// Live reports whether the session still grants impersonation at now.
// Expiry is lazy: nothing sweeps expired rows, readers just treat an active
// row past expires_at as dead.
func (s *Session) Live(now time.Time) bool {
	return s.Active && s.ExpiresAt.After(now)
}
