package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/lib/pq"

	"github.com/bricksaw/warden/pkg/guard"
	"github.com/bricksaw/warden/pkg/observability"
)

const (
	defaultPlanTTL = time.Hour
	defaultListTTL = 5 * time.Minute

	// One published-list entry; sized for headroom on single plans.
	planCacheSize = 64

	listCacheKey = "published"
)

const selectPlanSQL = `
	SELECT id, name, max_seats, max_records, max_reports, max_storage_gb,
		monthly_price_cents, annual_price_cents, per_seat_price_cents, base_users_included,
		features, field_categories, published, created_at
	FROM subscription_plans`

// Store serves the plan catalog from PostgreSQL behind expirable LRU caches.
// Plans are immutable once published, so cached reads only ever lag a fresh
// seed by the TTL.
type Store struct {
	db        *sql.DB
	logger    *observability.Logger
	metrics   *observability.Metrics
	planCache *lru.LRU[string, *Plan]
	listCache *lru.LRU[string, []*Plan]
}

// NewStore creates the store and ensures the subscription_plans table
// exists. Non-positive TTLs fall back to one hour for single plans and five
// minutes for the published list.
func NewStore(db *sql.DB, logger *observability.Logger, metrics *observability.Metrics, planTTL, listTTL time.Duration) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if planTTL <= 0 {
		planTTL = defaultPlanTTL
	}
	if listTTL <= 0 {
		listTTL = defaultListTTL
	}

	store := &Store{
		db:        db,
		logger:    logger,
		metrics:   metrics,
		planCache: lru.NewLRU[string, *Plan](planCacheSize, nil, planTTL),
		listCache: lru.NewLRU[string, []*Plan](1, nil, listTTL),
	}
	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure subscription_plans table: %w", err)
	}

	return store, nil
}

// ensureTable creates the subscription_plans table if it doesn't exist
func (s *Store) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS subscription_plans (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		max_seats BIGINT NOT NULL DEFAULT -1,
		max_records BIGINT NOT NULL DEFAULT -1,
		max_reports BIGINT NOT NULL DEFAULT -1,
		max_storage_gb BIGINT NOT NULL DEFAULT -1,
		monthly_price_cents BIGINT NOT NULL DEFAULT 0,
		annual_price_cents BIGINT NOT NULL DEFAULT 0,
		per_seat_price_cents BIGINT NOT NULL DEFAULT 0,
		base_users_included BIGINT NOT NULL DEFAULT 0,
		features TEXT[] NOT NULL DEFAULT '{}',
		field_categories TEXT[] NOT NULL DEFAULT '{}',
		published BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);
	`

	_, err := s.db.Exec(query)
	return err
}

// List returns the published catalog ordered by monthly price.
func (s *Store) List(ctx context.Context) ([]*Plan, error) {
	if plans, ok := s.listCache.Get(listCacheKey); ok {
		s.countCache("plan_list", true)
		return plans, nil
	}
	s.countCache("plan_list", false)

	query := selectPlanSQL + `
	WHERE published = TRUE ORDER BY monthly_price_cents ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %v: %w", err, guard.ErrUnavailable)
	}
	defer rows.Close()

	plans := make([]*Plan, 0)
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %v: %w", err, guard.ErrUnavailable)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plans: %v: %w", err, guard.ErrUnavailable)
	}

	s.listCache.Add(listCacheKey, plans)
	return plans, nil
}

// Get fetches one plan by id.
func (s *Store) Get(ctx context.Context, id string) (*Plan, error) {
	if id == "" {
		return nil, fmt.Errorf("plan id is required: %w", guard.ErrInvalidArgument)
	}

	if plan, ok := s.planCache.Get(id); ok {
		s.countCache("plan", true)
		return plan, nil
	}
	s.countCache("plan", false)

	plan, err := s.fetch(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %q: %w", id, guard.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan %q: %v: %w", id, err, guard.ErrUnavailable)
	}

	s.planCache.Add(id, plan)
	return plan, nil
}

// GetBySlug fetches a plan by its slug. Plan ids are slugs, so this is Get
// under the name display paths carry.
func (s *Store) GetBySlug(ctx context.Context, slug string) (*Plan, error) {
	return s.Get(ctx, slug)
}

// Exists reports whether a plan id is present in the catalog. It backs plan
// validation on billing writes.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}

	if _, ok := s.planCache.Get(id); ok {
		s.countCache("plan", true)
		return true, nil
	}

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM subscription_plans WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check plan %q: %v: %w", id, err, guard.ErrUnavailable)
	}

	return exists, nil
}

// fetch reads one row bypassing the cache. Returns the raw sql error.
func (s *Store) fetch(ctx context.Context, id string) (*Plan, error) {
	row := s.db.QueryRowContext(ctx, selectPlanSQL+`
	WHERE id = $1`, id)
	return scanPlan(row)
}

// invalidate drops both caches after a seed write.
func (s *Store) invalidate() {
	s.planCache.Purge()
	s.listCache.Purge()
}

func (s *Store) countCache(cacheType string, hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		s.metrics.CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// scanPlan scans a plan from a database row
func scanPlan(scanner interface {
	Scan(dest ...interface{}) error
}) (*Plan, error) {
	var plan Plan
	err := scanner.Scan(
		&plan.ID, &plan.Name,
		&plan.MaxSeats, &plan.MaxRecords, &plan.MaxReports, &plan.MaxStorageGB,
		&plan.MonthlyPriceCents, &plan.AnnualPriceCents, &plan.PerSeatPriceCents, &plan.BaseUsersIncluded,
		pq.Array(&plan.Features), pq.Array(&plan.FieldCategories),
		&plan.Published, &plan.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if plan.Features == nil {
		plan.Features = []string{}
	}
	if plan.FieldCategories == nil {
		plan.FieldCategories = []string{}
	}

	return &plan, nil
}
