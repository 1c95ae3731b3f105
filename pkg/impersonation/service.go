package impersonation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bricksaw/warden/pkg/audit"
	"github.com/bricksaw/warden/pkg/guard"
	"github.com/bricksaw/warden/pkg/observability"
	"github.com/bricksaw/warden/pkg/superadmin"
)

const sessionsTable = "impersonation_sessions"

// Service runs the impersonation lifecycle through the guard pipeline.
type Service struct {
	db       *sql.DB
	store    *Store
	recorder *audit.Recorder
	guard    *guard.Guard
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewService creates the impersonation service. The db handle is the one the
// store writes through; Start opens its transactions on it.
func NewService(db *sql.DB, store *Store, recorder *audit.Recorder, g *guard.Guard, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		db:       db,
		store:    store,
		recorder: recorder,
		guard:    g,
		logger:   logger,
		metrics:  metrics,
	}
}

// Start opens a one-hour impersonation session against the target user. The
// session row and its start_impersonation audit entry commit in one
// transaction: an unaudited session can never exist.
func (s *Service) Start(ctx context.Context, principal guard.Principal, targetUserID string, targetOrgID int64) (*Session, error) {
	if targetUserID == "" {
		return nil, fmt.Errorf("target user id is required: %w", guard.ErrInvalidArgument)
	}
	if targetOrgID <= 0 {
		return nil, fmt.Errorf("target organisation id is required: %w", guard.ErrInvalidArgument)
	}

	var session *Session
	err := s.guard.Run(ctx, principal, guard.Operation{
		Permission: superadmin.PermissionImpersonateUsers.String(),
		Act: func(ctx context.Context) error {
			var actErr error
			session, actErr = s.start(ctx, principal, targetUserID, targetOrgID)
			return actErr
		},
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ImpersonationStartsTotal.Inc()
	}
	if s.logger != nil {
		s.logger.WithFields(map[string]interface{}{
			"session":      session.ID,
			"admin":        session.SuperAdminUserID,
			"target_user":  session.TargetUserID,
			"organisation": session.TargetOrganisationID,
		}).Info("Impersonation session started")
	}

	return session, nil
}

func (s *Service) start(ctx context.Context, principal guard.Principal, targetUserID string, targetOrgID int64) (*Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %v: %w", err, guard.ErrUnavailable)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	session := &Session{
		ID:                   uuid.New().String(),
		SuperAdminUserID:     principal.UserID,
		TargetUserID:         targetUserID,
		TargetOrganisationID: targetOrgID,
		StartedAt:            now,
		ExpiresAt:            now.Add(SessionTTL),
		Active:               true,
	}
	if err := s.store.InsertTx(ctx, tx, session); err != nil {
		return nil, err
	}

	entry := &audit.Entry{
		ActorUserID:          principal.UserID,
		ImpersonatingUserID:  principal.ImpersonatedUserID,
		Action:               "start_impersonation",
		Category:             audit.CategoryImpersonation,
		TargetTable:          strPtr(sessionsTable),
		TargetID:             strPtr(session.ID),
		TargetOrganisationID: &session.TargetOrganisationID,
		Payload: audit.ImpersonationDetail{
			SessionID:            session.ID,
			TargetUserID:         targetUserID,
			TargetOrganisationID: targetOrgID,
		},
	}
	if err := s.recorder.RecordTx(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("failed to record impersonation start: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit impersonation session: %v: %w", err, guard.ErrUnavailable)
	}

	return session, nil
}

// End closes the caller's session. Ending a session that is already over is
// a no-op; only the owning super admin can end it.
func (s *Service) End(ctx context.Context, principal guard.Principal, sessionID string) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return fmt.Errorf("invalid session id %q: %w", sessionID, guard.ErrInvalidArgument)
	}

	return s.guard.Run(ctx, principal, guard.Operation{
		Permission: superadmin.PermissionImpersonateUsers.String(),
		Act: func(ctx context.Context) error {
			return s.end(ctx, principal, sessionID)
		},
	})
}

func (s *Service) end(ctx context.Context, principal guard.Principal, sessionID string) error {
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.SuperAdminUserID != principal.UserID {
		return fmt.Errorf("session %s belongs to another super admin: %w", sessionID, guard.ErrPermissionDenied)
	}
	if !session.Live(time.Now()) {
		return nil
	}

	ended, err := s.store.End(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ended {
		// Raced with another End; the session is over either way.
		return nil
	}

	entry := &audit.Entry{
		ActorUserID:          principal.UserID,
		ImpersonatingUserID:  principal.ImpersonatedUserID,
		Action:               "end_impersonation",
		Category:             audit.CategoryImpersonation,
		TargetTable:          strPtr(sessionsTable),
		TargetID:             strPtr(sessionID),
		TargetOrganisationID: &session.TargetOrganisationID,
		Payload: audit.ImpersonationDetail{
			SessionID:            sessionID,
			TargetUserID:         session.TargetUserID,
			TargetOrganisationID: session.TargetOrganisationID,
		},
	}
	// Best effort past this point; the recorder logs and counts failures.
	_ = s.recorder.Record(ctx, entry)

	if s.logger != nil {
		s.logger.WithFields(map[string]interface{}{
			"session": sessionID,
			"admin":   principal.UserID,
		}).Info("Impersonation session ended")
	}

	return nil
}

// ActiveSession returns the caller's newest live session, or ErrNotFound
// when none exists. Middleware uses the same lookup to attach impersonation
// context to the principal.
func (s *Service) ActiveSession(ctx context.Context, superAdminID string) (*Session, error) {
	return s.store.ActiveSession(ctx, superAdminID)
}

func strPtr(s string) *string { return &s }
