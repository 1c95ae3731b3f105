package impersonation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bricksaw/warden/pkg/guard"
)

const selectSessionSQL = `
	SELECT id, super_admin_user_id, target_user_id, target_organisation_id,
		started_at, expires_at, active, ended_at
	FROM impersonation_sessions`

// Store persists impersonation sessions in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates the store and ensures the impersonation_sessions table
// exists.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	store := &Store{db: db}
	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure impersonation_sessions table: %w", err)
	}

	return store, nil
}

// ensureTable creates the impersonation_sessions table if it doesn't exist
func (s *Store) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS impersonation_sessions (
		id UUID PRIMARY KEY,
		super_admin_user_id VARCHAR(255) NOT NULL,
		target_user_id VARCHAR(255) NOT NULL,
		target_organisation_id BIGINT NOT NULL,
		started_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		ended_at TIMESTAMP WITH TIME ZONE
	);

	CREATE INDEX IF NOT EXISTS idx_impersonation_sessions_admin
		ON impersonation_sessions(super_admin_user_id, active);
	CREATE INDEX IF NOT EXISTS idx_impersonation_sessions_expires
		ON impersonation_sessions(expires_at);
	`

	_, err := s.db.Exec(query)
	return err
}

// InsertTx writes a new session inside the caller's transaction so it
// commits together with its start_impersonation audit entry.
func (s *Store) InsertTx(ctx context.Context, tx *sql.Tx, session *Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}

	query := `
	INSERT INTO impersonation_sessions (
		id, super_admin_user_id, target_user_id, target_organisation_id,
		started_at, expires_at, active
	) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := tx.ExecContext(ctx, query,
		session.ID, session.SuperAdminUserID, session.TargetUserID, session.TargetOrganisationID,
		session.StartedAt, session.ExpiresAt, session.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to insert impersonation session: %v: %w", err, guard.ErrUnavailable)
	}

	return nil
}

// Get fetches one session by id, live or not.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, selectSessionSQL+`
	WHERE id = $1`, id)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("impersonation session %s: %w", id, guard.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get impersonation session %s: %v: %w", id, err, guard.ErrUnavailable)
	}

	return session, nil
}

// End marks a session inactive with an end timestamp. Returns false when the
// session was already inactive, which callers treat as success.
func (s *Store) End(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE impersonation_sessions SET active = FALSE, ended_at = NOW()
		WHERE id = $1 AND active = TRUE`, id)
	if err != nil {
		return false, fmt.Errorf("failed to end impersonation session %s: %v: %w", id, err, guard.ErrUnavailable)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to end impersonation session %s: %v: %w", id, err, guard.ErrUnavailable)
	}

	return affected > 0, nil
}

// ActiveSession returns the super admin's newest live session. The SQL
// expiry filter is authoritative; rows past expires_at never come back,
// active flag notwithstanding.
func (s *Store) ActiveSession(ctx context.Context, superAdminID string) (*Session, error) {
	if superAdminID == "" {
		return nil, fmt.Errorf("super admin id is required: %w", guard.ErrInvalidArgument)
	}

	row := s.db.QueryRowContext(ctx, selectSessionSQL+`
	WHERE super_admin_user_id = $1 AND active = TRUE AND expires_at > NOW()
	ORDER BY started_at DESC
	LIMIT 1`, superAdminID)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no live impersonation session for %s: %w", superAdminID, guard.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up live session for %s: %v: %w", superAdminID, err, guard.ErrUnavailable)
	}

	return session, nil
}

// CountLive returns the number of live sessions across all super admins. The
// aggregator publishes it as a gauge.
func (s *Store) CountLive(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM impersonation_sessions WHERE active = TRUE AND expires_at > NOW()`).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count live impersonation sessions: %v: %w", err, guard.ErrUnavailable)
	}

	return count, nil
}

// scanSession scans a session from a database row
func scanSession(scanner interface {
	Scan(dest ...interface{}) error
}) (*Session, error) {
	var session Session
	err := scanner.Scan(
		&session.ID, &session.SuperAdminUserID, &session.TargetUserID, &session.TargetOrganisationID,
		&session.StartedAt, &session.ExpiresAt, &session.Active, &session.EndedAt,
	)
	if err != nil {
		return nil, err
	}

	return &session, nil
}
