package superadmin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/bricksaw/warden/pkg/guard"
)

const selectAdminSQL = `
	SELECT user_id, active, permissions, granted_by, created_at, updated_at
	FROM super_admins`

// Store persists the super-admin roster in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates the store and ensures the super_admins table exists.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	store := &Store{db: db}
	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure super_admins table: %w", err)
	}

	return store, nil
}

// ensureTable creates the super_admins table if it doesn't exist
func (s *Store) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS super_admins (
		user_id VARCHAR(255) PRIMARY KEY,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		permissions TEXT[] NOT NULL DEFAULT '{}',
		granted_by VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_super_admins_active ON super_admins(active);
	`

	_, err := s.db.Exec(query)
	return err
}

// HasPermission reports whether userID is an active super admin holding the
// permission token. An absent or inactive record answers false with no
// error; the error return is for storage failures only.
func (s *Store) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	if userID == "" || permission == "" {
		return false, nil
	}

	var active bool
	var permissions pq.StringArray
	err := s.db.QueryRowContext(ctx,
		`SELECT active, permissions FROM super_admins WHERE user_id = $1`, userID).
		Scan(&active, &permissions)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up super admin %q: %v: %w", userID, err, guard.ErrUnavailable)
	}
	if !active {
		return false, nil
	}

	for _, p := range permissions {
		if p == permission {
			return true, nil
		}
	}

	return false, nil
}

// Get fetches one roster record, active or not.
func (s *Store) Get(ctx context.Context, userID string) (*SuperAdmin, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required: %w", guard.ErrInvalidArgument)
	}

	row := s.db.QueryRowContext(ctx, selectAdminSQL+`
	WHERE user_id = $1`, userID)

	admin, err := scanAdmin(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("super admin %q: %w", userID, guard.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get super admin %q: %v: %w", userID, err, guard.ErrUnavailable)
	}

	return admin, nil
}

// List returns the whole roster, oldest grant first. Inactive records are
// included; the roster is the place revocations are visible.
func (s *Store) List(ctx context.Context) ([]*SuperAdmin, error) {
	rows, err := s.db.QueryContext(ctx, selectAdminSQL+`
	ORDER BY created_at ASC, user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list super admins: %v: %w", err, guard.ErrUnavailable)
	}
	defer rows.Close()

	admins := make([]*SuperAdmin, 0)
	for rows.Next() {
		admin, err := scanAdmin(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan super admin: %v: %w", err, guard.ErrUnavailable)
		}
		admins = append(admins, admin)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating super admins: %v: %w", err, guard.ErrUnavailable)
	}

	return admins, nil
}

// Grant upserts an active roster record with the given permission list. A
// revoked admin granted again comes back active under the new grantor.
func (s *Store) Grant(ctx context.Context, userID string, permissions []string, grantedBy string) (*SuperAdmin, error) {
	if permissions == nil {
		permissions = []string{}
	}

	query := `
	INSERT INTO super_admins (user_id, active, permissions, granted_by)
	VALUES ($1, TRUE, $2, $3)
	ON CONFLICT (user_id) DO UPDATE SET
		active = TRUE,
		permissions = EXCLUDED.permissions,
		granted_by = EXCLUDED.granted_by,
		updated_at = NOW()
	RETURNING user_id, active, permissions, granted_by, created_at, updated_at`

	row := s.db.QueryRowContext(ctx, query, userID, pq.Array(permissions), grantedBy)
	admin, err := scanAdmin(row)
	if err != nil {
		return nil, fmt.Errorf("failed to grant super admin %q: %v: %w", userID, err, guard.ErrUnavailable)
	}

	return admin, nil
}

// Deactivate turns the record's authority off without touching its
// permission list.
func (s *Store) Deactivate(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE super_admins SET active = FALSE, updated_at = NOW() WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate super admin %q: %v: %w", userID, err, guard.ErrUnavailable)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to deactivate super admin %q: %v: %w", userID, err, guard.ErrUnavailable)
	}
	if affected == 0 {
		return fmt.Errorf("super admin %q: %w", userID, guard.ErrNotFound)
	}

	return nil
}

// SetPermissions replaces the record's permission list.
func (s *Store) SetPermissions(ctx context.Context, userID string, permissions []string) (*SuperAdmin, error) {
	if permissions == nil {
		permissions = []string{}
	}

	query := `
	UPDATE super_admins SET permissions = $2, updated_at = NOW()
	WHERE user_id = $1
	RETURNING user_id, active, permissions, granted_by, created_at, updated_at`

	row := s.db.QueryRowContext(ctx, query, userID, pq.Array(permissions))
	admin, err := scanAdmin(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("super admin %q: %w", userID, guard.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set permissions for super admin %q: %v: %w", userID, err, guard.ErrUnavailable)
	}

	return admin, nil
}

// CountActive returns the number of active roster records. The aggregator
// publishes it as a gauge.
func (s *Store) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM super_admins WHERE active = TRUE`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active super admins: %v: %w", err, guard.ErrUnavailable)
	}

	return count, nil
}

// scanAdmin scans a super admin from a database row
func scanAdmin(scanner interface {
	Scan(dest ...interface{}) error
}) (*SuperAdmin, error) {
	var admin SuperAdmin
	err := scanner.Scan(
		&admin.UserID, &admin.Active, pq.Array(&admin.Permissions),
		&admin.GrantedBy, &admin.CreatedAt, &admin.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if admin.Permissions == nil {
		admin.Permissions = []string{}
	}

	return &admin, nil
}
