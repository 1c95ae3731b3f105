package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DefaultSearchLimit bounds Search when the caller passes no limit.
const DefaultSearchLimit = 50

const selectEntrySQL = `
	SELECT id, actor_user_id, impersonating_user_id, action, category,
		target_table, target_id, target_organisation_id, payload, created_at
	FROM audit_log`

const insertEntrySQL = `
	INSERT INTO audit_log (
		actor_user_id, impersonating_user_id, action, category,
		target_table, target_id, target_organisation_id, payload
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING id, created_at`

// Store persists audit entries in PostgreSQL. The table is append-only: the
// store exposes no update or delete path.
type Store struct {
	db *sql.DB
}

// NewStore creates the store and ensures the audit_log table exists.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	store := &Store{db: db}
	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_log table: %w", err)
	}

	return store, nil
}

// ensureTable creates the audit_log table if it doesn't exist
func (s *Store) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		actor_user_id VARCHAR(255) NOT NULL,
		impersonating_user_id VARCHAR(255),
		action VARCHAR(100) NOT NULL,
		category VARCHAR(32) NOT NULL,
		target_table VARCHAR(64),
		target_id VARCHAR(255),
		target_organisation_id BIGINT,
		payload JSONB,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	-- Indexes for the filters Search exposes
	CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_log_category ON audit_log(category);
	CREATE INDEX IF NOT EXISTS idx_audit_log_actor ON audit_log(actor_user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_log_target_org ON audit_log(target_organisation_id);
	`

	_, err := s.db.Exec(query)
	return err
}

// Insert appends one entry. ID and CreatedAt are filled from the database on
// success.
func (s *Store) Insert(ctx context.Context, entry *Entry) error {
	return insertEntry(ctx, s.db, entry)
}

// InsertTx appends one entry inside the caller's transaction so the entry
// commits or rolls back together with the surrounding write.
func (s *Store) InsertTx(ctx context.Context, tx *sql.Tx, entry *Entry) error {
	return insertEntry(ctx, tx, entry)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func insertEntry(ctx context.Context, q rowQuerier, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("audit entry is required")
	}
	if entry.ActorUserID == "" {
		return fmt.Errorf("audit actor is required")
	}
	if entry.Action == "" {
		return fmt.Errorf("audit action is required")
	}
	if !entry.Category.Valid() {
		return fmt.Errorf("unknown audit category %q", entry.Category)
	}

	payloadJSON, err := MarshalPayload(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal audit payload: %w", err)
	}

	err = q.QueryRowContext(ctx, insertEntrySQL,
		entry.ActorUserID, entry.ImpersonatingUserID, entry.Action, string(entry.Category),
		entry.TargetTable, entry.TargetID, entry.TargetOrganisationID, payloadJSON,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// Search returns entries matching filter, newest first, with offset
// pagination. A non-positive limit falls back to DefaultSearchLimit.
func (s *Store) Search(ctx context.Context, filter Filter, limit, offset int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if offset < 0 {
		offset = 0
	}

	query := selectEntrySQL + "\n\tWHERE 1=1"

	clause, args := buildFilterClause(filter)
	query += clause

	argCount := len(args) + 1
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit log: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Count returns the number of entries matching filter. It runs the same
// filter clause as Search so pagination totals line up.
func (s *Store) Count(ctx context.Context, filter Filter) (int64, error) {
	query := "SELECT COUNT(*) FROM audit_log WHERE 1=1"

	clause, args := buildFilterClause(filter)
	query += clause

	var total int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	return total, nil
}

// CountByCategory returns entry totals grouped by category, for the gauge
// rollups the aggregator refreshes.
func (s *Store) CountByCategory(ctx context.Context) (map[Category]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT category, COUNT(*) FROM audit_log GROUP BY category")
	if err != nil {
		return nil, fmt.Errorf("failed to count audit entries by category: %w", err)
	}
	defer rows.Close()

	counts := make(map[Category]int64)
	for rows.Next() {
		var category Category
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("failed to scan category count: %w", err)
		}
		counts[category] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category counts: %w", err)
	}

	return counts, nil
}

// ListCreatedBetween returns entries with from <= created_at < to in insert
// order. The archive exporter uses it to stream one day's rows.
func (s *Store) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*Entry, error) {
	query := selectEntrySQL + "\n\tWHERE created_at >= $1 AND created_at < $2 ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// buildFilterClause renders the filter as AND conditions with positional
// parameters numbered from $1.
func buildFilterClause(filter Filter) (string, []interface{}) {
	clause := ""
	args := []interface{}{}
	argCount := 1

	if filter.Category != "" {
		clause += fmt.Sprintf(" AND category = $%d", argCount)
		args = append(args, string(filter.Category))
		argCount++
	}

	if filter.ActorID != "" {
		clause += fmt.Sprintf(" AND actor_user_id = $%d", argCount)
		args = append(args, filter.ActorID)
		argCount++
	}

	if filter.TargetOrganisationID != nil {
		clause += fmt.Sprintf(" AND target_organisation_id = $%d", argCount)
		args = append(args, *filter.TargetOrganisationID)
		argCount++
	}

	if filter.Since != nil {
		clause += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filter.Since)
	}

	return clause, args
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	entries := make([]*Entry, 0)
	for rows.Next() {
		entry := &Entry{}
		var payloadJSON []byte

		err := rows.Scan(
			&entry.ID, &entry.ActorUserID, &entry.ImpersonatingUserID, &entry.Action, &entry.Category,
			&entry.TargetTable, &entry.TargetID, &entry.TargetOrganisationID, &payloadJSON, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entry.Payload, err = UnmarshalPayload(payloadJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit payload: %w", err)
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}

	return entries, nil
}
