package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bricksaw/warden/pkg/guard"
)

const selectOrganisationSQL = `
	SELECT id, name, archived, archived_at, blocked, blocked_reason, blocked_at, created_at, updated_at
	FROM organisations`

const selectUsageSQL = `
	SELECT organisation_id, seats_count, records_count, reports_count, storage_bytes, updated_at
	FROM organisation_usage`

const returningOrganisation = `
	RETURNING id, name, archived, archived_at, blocked, blocked_reason, blocked_at, created_at, updated_at`

const returningUsage = `
	RETURNING organisation_id, seats_count, records_count, reports_count, storage_bytes, updated_at`

// DefaultListLimit bounds List calls that pass no limit of their own.
const DefaultListLimit = 100

// Store persists organisations and their usage counters in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates the store and ensures its tables exist.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	store := &Store{db: db}
	if err := store.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure organisation tables: %w", err)
	}

	return store, nil
}

// ensureTables creates the organisations and organisation_usage tables if they don't exist
func (s *Store) ensureTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS organisations (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		archived BOOLEAN NOT NULL DEFAULT FALSE,
		archived_at TIMESTAMP WITH TIME ZONE,
		blocked BOOLEAN NOT NULL DEFAULT FALSE,
		blocked_reason TEXT NOT NULL DEFAULT '',
		blocked_at TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_organisations_archived ON organisations(archived);
	CREATE INDEX IF NOT EXISTS idx_organisations_blocked ON organisations(blocked);

	CREATE TABLE IF NOT EXISTS organisation_usage (
		organisation_id BIGINT PRIMARY KEY,
		seats_count BIGINT NOT NULL DEFAULT 0,
		records_count BIGINT NOT NULL DEFAULT 0,
		reports_count BIGINT NOT NULL DEFAULT 0,
		storage_bytes BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);
	`

	_, err := s.db.Exec(query)
	return err
}

// Create inserts a fresh organisation. Tenant provisioning belongs to the
// main application; warden needs this only for seeding and tests.
func (s *Store) Create(ctx context.Context, name string) (*Organisation, error) {
	if name == "" {
		return nil, fmt.Errorf("organisation name is required: %w", guard.ErrInvalidArgument)
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO organisations (name) VALUES ($1)`+returningOrganisation, name)

	org, err := scanOrganisation(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create organisation %q: %v: %w", name, err, guard.ErrUnavailable)
	}

	return org, nil
}

// Get fetches one organisation.
func (s *Store) Get(ctx context.Context, id int64) (*Organisation, error) {
	if id <= 0 {
		return nil, fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}

	row := s.db.QueryRowContext(ctx, selectOrganisationSQL+`
	WHERE id = $1`, id)

	org, err := scanOrganisation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("organisation %d: %w", id, guard.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organisation %d: %v: %w", id, err, guard.ErrUnavailable)
	}

	return org, nil
}

// List returns organisations newest first with offset pagination. A
// non-positive limit falls back to DefaultListLimit.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*Organisation, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, selectOrganisationSQL+`
	ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list organisations: %v: %w", err, guard.ErrUnavailable)
	}
	defer rows.Close()

	orgs := make([]*Organisation, 0)
	for rows.Next() {
		org, err := scanOrganisation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organisation: %v: %w", err, guard.ErrUnavailable)
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating organisations: %v: %w", err, guard.ErrUnavailable)
	}

	return orgs, nil
}

// Count returns the total number of organisations, so list pagination can
// report a total alongside the page.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM organisations`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to count organisations: %v: %w", err, guard.ErrUnavailable)
	}

	return total, nil
}

// CountByStatus returns organisations per collapsed lifecycle status. The
// aggregator publishes the result as gauges.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int64, error) {
	query := `
	SELECT CASE WHEN blocked THEN 'blocked' WHEN archived THEN 'archived' ELSE 'active' END AS status, COUNT(*)
	FROM organisations GROUP BY 1`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count organisations by status: %v: %w", err, guard.ErrUnavailable)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %v: %w", err, guard.ErrUnavailable)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %v: %w", err, guard.ErrUnavailable)
	}

	return counts, nil
}

// SetArchived flips the archived flag. Archiving twice keeps the original
// archived_at; restoring clears it.
func (s *Store) SetArchived(ctx context.Context, id int64, archived bool) (*Organisation, error) {
	query := `
	UPDATE organisations SET
		archived = $2,
		archived_at = CASE WHEN $2 THEN COALESCE(archived_at, NOW()) ELSE NULL END,
		updated_at = NOW()
	WHERE id = $1` + returningOrganisation

	row := s.db.QueryRowContext(ctx, query, id, archived)
	org, err := scanOrganisation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("organisation %d: %w", id, guard.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set archived flag on organisation %d: %v: %w", id, err, guard.ErrUnavailable)
	}

	return org, nil
}

// SetBlocked sets the blocked flag and reason. Blocking twice refreshes the
// reason but keeps the first blocked_at; unblocking clears both.
func (s *Store) SetBlocked(ctx context.Context, id int64, blocked bool, reason string) (*Organisation, error) {
	query := `
	UPDATE organisations SET
		blocked = $2,
		blocked_reason = $3,
		blocked_at = CASE WHEN $2 THEN COALESCE(blocked_at, NOW()) ELSE NULL END,
		updated_at = NOW()
	WHERE id = $1` + returningOrganisation

	row := s.db.QueryRowContext(ctx, query, id, blocked, reason)
	org, err := scanOrganisation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("organisation %d: %w", id, guard.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set blocked flag on organisation %d: %v: %w", id, err, guard.ErrUnavailable)
	}

	return org, nil
}

// Update applies the content field edits, leaving nil fields untouched.
func (s *Store) Update(ctx context.Context, id int64, params UpdateParams) (*Organisation, error) {
	query := `
	UPDATE organisations SET
		name = COALESCE($2, name),
		updated_at = NOW()
	WHERE id = $1` + returningOrganisation

	row := s.db.QueryRowContext(ctx, query, id, params.Name)
	org, err := scanOrganisation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("organisation %d: %w", id, guard.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update organisation %d: %v: %w", id, err, guard.ErrUnavailable)
	}

	return org, nil
}

// Delete removes the organisation row and its usage counters in one
// transaction. There is no soft-delete fallback here; archive covers that.
func (s *Store) Delete(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete of organisation %d: %v: %w", id, err, guard.ErrUnavailable)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM organisations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete organisation %d: %v: %w", id, err, guard.ErrUnavailable)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete organisation %d: %v: %w", id, err, guard.ErrUnavailable)
	}
	if affected == 0 {
		return fmt.Errorf("organisation %d: %w", id, guard.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM organisation_usage WHERE organisation_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete usage for organisation %d: %v: %w", id, err, guard.ErrUnavailable)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of organisation %d: %v: %w", id, err, guard.ErrUnavailable)
	}

	return nil
}

// GetUsage returns the usage counters for one organisation. An organisation
// nothing has reported usage for yet answers with zero counters, not an
// error; the zero row is synthesised, never persisted.
func (s *Store) GetUsage(ctx context.Context, organisationID int64) (*Usage, error) {
	if organisationID <= 0 {
		return nil, fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}

	row := s.db.QueryRowContext(ctx, selectUsageSQL+`
	WHERE organisation_id = $1`, organisationID)

	usage, err := scanUsage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return &Usage{OrganisationID: organisationID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage for organisation %d: %v: %w", organisationID, err, guard.ErrUnavailable)
	}

	return usage, nil
}

// SetUsage upserts all counters at once, scanning the write timestamp back
// into the passed value.
func (s *Store) SetUsage(ctx context.Context, usage *Usage) error {
	if usage == nil {
		return fmt.Errorf("usage is required: %w", guard.ErrInvalidArgument)
	}
	if usage.OrganisationID <= 0 {
		return fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}
	if usage.SeatsCount < 0 || usage.RecordsCount < 0 || usage.ReportsCount < 0 || usage.StorageBytes < 0 {
		return fmt.Errorf("usage counters must not be negative: %w", guard.ErrInvalidArgument)
	}

	query := `
	INSERT INTO organisation_usage (organisation_id, seats_count, records_count, reports_count, storage_bytes)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (organisation_id) DO UPDATE SET
		seats_count = EXCLUDED.seats_count,
		records_count = EXCLUDED.records_count,
		reports_count = EXCLUDED.reports_count,
		storage_bytes = EXCLUDED.storage_bytes,
		updated_at = NOW()
	RETURNING updated_at`

	err := s.db.QueryRowContext(ctx, query,
		usage.OrganisationID, usage.SeatsCount, usage.RecordsCount, usage.ReportsCount, usage.StorageBytes,
	).Scan(&usage.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to set usage for organisation %d: %v: %w", usage.OrganisationID, err, guard.ErrUnavailable)
	}

	return nil
}

// AdjustUsage adds delta to one counter, creating the row on first touch.
// Counters clamp at zero; a decrement below zero leaves zero.
func (s *Store) AdjustUsage(ctx context.Context, organisationID int64, resource Resource, delta int64) (*Usage, error) {
	if organisationID <= 0 {
		return nil, fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}
	if !resource.Valid() {
		return nil, fmt.Errorf("unknown usage resource %q: %w", resource, guard.ErrInvalidArgument)
	}

	// The column name comes from the closed Resource switch, never from
	// caller input.
	column := usageColumn(resource)
	query := fmt.Sprintf(`
	INSERT INTO organisation_usage (organisation_id, %s)
	VALUES ($1, GREATEST($2, 0))
	ON CONFLICT (organisation_id) DO UPDATE SET
		%s = GREATEST(organisation_usage.%s + $2, 0),
		updated_at = NOW()`, column, column, column) + returningUsage

	row := s.db.QueryRowContext(ctx, query, organisationID, delta)
	usage, err := scanUsage(row)
	if err != nil {
		return nil, fmt.Errorf("failed to adjust %s usage for organisation %d: %v: %w", resource, organisationID, err, guard.ErrUnavailable)
	}

	return usage, nil
}

func usageColumn(r Resource) string {
	switch r {
	case ResourceSeats:
		return "seats_count"
	case ResourceRecords:
		return "records_count"
	case ResourceReports:
		return "reports_count"
	case ResourceStorage:
		return "storage_bytes"
	}
	return ""
}

// scanOrganisation scans an organisation from a database row
func scanOrganisation(row interface{ Scan(dest ...interface{}) error }) (*Organisation, error) {
	org := &Organisation{}
	err := row.Scan(
		&org.ID,
		&org.Name,
		&org.Archived,
		&org.ArchivedAt,
		&org.Blocked,
		&org.BlockedReason,
		&org.BlockedAt,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return org, nil
}

// scanUsage scans a usage row from a database row
func scanUsage(row interface{ Scan(dest ...interface{}) error }) (*Usage, error) {
	usage := &Usage{}
	err := row.Scan(
		&usage.OrganisationID,
		&usage.SeatsCount,
		&usage.RecordsCount,
		&usage.ReportsCount,
		&usage.StorageBytes,
		&usage.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return usage, nil
}
