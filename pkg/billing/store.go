package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bricksaw/warden/pkg/guard"
)

const selectBillingSQL = `
	SELECT organisation_id, processor_customer_id, processor_subscription_id,
		status, current_plan_id, trial_ends_at, subscription_ends_at,
		discount_percent, discount_applied_by, discount_applied_at, discount_reason,
		created_at, updated_at
	FROM organisation_billing`

const selectAddOnSQL = `
	SELECT organisation_id, blocks, block_size_gb, monthly_price_cents, active,
		created_at, updated_at
	FROM storage_addons`

// Store persists organisation billing rows and storage add-ons in
// PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates the store and ensures the billing tables exist.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	store := &Store{db: db}
	if err := store.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure billing tables: %w", err)
	}

	return store, nil
}

// ensureTables creates the organisation_billing and storage_addons tables
// if they don't exist
func (s *Store) ensureTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS organisation_billing (
		organisation_id BIGINT PRIMARY KEY,
		processor_customer_id VARCHAR(255),
		processor_subscription_id VARCHAR(255),
		status VARCHAR(32) NOT NULL DEFAULT 'active',
		current_plan_id VARCHAR(64),
		trial_ends_at TIMESTAMP WITH TIME ZONE,
		subscription_ends_at TIMESTAMP WITH TIME ZONE,
		discount_percent INTEGER NOT NULL DEFAULT 0,
		discount_applied_by VARCHAR(255),
		discount_applied_at TIMESTAMP WITH TIME ZONE,
		discount_reason TEXT,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_organisation_billing_status ON organisation_billing(status);
	CREATE INDEX IF NOT EXISTS idx_organisation_billing_plan ON organisation_billing(current_plan_id);

	CREATE TABLE IF NOT EXISTS storage_addons (
		organisation_id BIGINT PRIMARY KEY,
		blocks BIGINT NOT NULL DEFAULT 0,
		block_size_gb BIGINT NOT NULL DEFAULT 10,
		monthly_price_cents BIGINT NOT NULL DEFAULT 500,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);
	`

	_, err := s.db.Exec(query)
	return err
}

// Get returns the billing row for an organisation. Organisations are
// created outside this service and start with no row at all, so an absent
// row is the free tier, not an error.
func (s *Store) Get(ctx context.Context, organisationID int64) (*OrganisationBilling, error) {
	if organisationID <= 0 {
		return nil, fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}

	row := s.db.QueryRowContext(ctx, selectBillingSQL+` WHERE organisation_id = $1`, organisationID)
	billing, err := scanBilling(row)
	if errors.Is(err, sql.ErrNoRows) {
		return defaultBilling(organisationID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read billing for organisation %d: %v: %w", organisationID, err, guard.ErrUnavailable)
	}

	return billing, nil
}

// defaultBilling is the synthesised free-tier row for an organisation that
// has never touched billing. It is not persisted.
func defaultBilling(organisationID int64) *OrganisationBilling {
	return &OrganisationBilling{
		OrganisationID: organisationID,
		Status:         StatusActive,
	}
}

// Save upserts the billing row and refreshes CreatedAt and UpdatedAt from
// the database.
func (s *Store) Save(ctx context.Context, billing *OrganisationBilling) error {
	if billing == nil {
		return fmt.Errorf("billing row is required: %w", guard.ErrInvalidArgument)
	}
	if billing.OrganisationID <= 0 {
		return fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}

	query := `
		INSERT INTO organisation_billing (
			organisation_id, processor_customer_id, processor_subscription_id,
			status, current_plan_id, trial_ends_at, subscription_ends_at,
			discount_percent, discount_applied_by, discount_applied_at, discount_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (organisation_id) DO UPDATE SET
			processor_customer_id = EXCLUDED.processor_customer_id,
			processor_subscription_id = EXCLUDED.processor_subscription_id,
			status = EXCLUDED.status,
			current_plan_id = EXCLUDED.current_plan_id,
			trial_ends_at = EXCLUDED.trial_ends_at,
			subscription_ends_at = EXCLUDED.subscription_ends_at,
			discount_percent = EXCLUDED.discount_percent,
			discount_applied_by = EXCLUDED.discount_applied_by,
			discount_applied_at = EXCLUDED.discount_applied_at,
			discount_reason = EXCLUDED.discount_reason,
			updated_at = NOW()
		RETURNING created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query,
		billing.OrganisationID,
		billing.ProcessorCustomerID,
		billing.ProcessorSubscriptionID,
		billing.Status,
		billing.CurrentPlanID,
		billing.TrialEndsAt,
		billing.SubscriptionEndsAt,
		billing.DiscountPercent,
		billing.DiscountAppliedBy,
		billing.DiscountAppliedAt,
		billing.DiscountReason,
	).Scan(&billing.CreatedAt, &billing.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save billing for organisation %d: %v: %w", billing.OrganisationID, err, guard.ErrUnavailable)
	}

	return nil
}

// CountByStatus returns how many stored billing rows sit in each status.
// Free-tier organisations with no row are not counted.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM organisation_billing GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count billing rows by status: %v: %w", err, guard.ErrUnavailable)
	}
	defer rows.Close()

	counts := make(map[Status]int64)
	for rows.Next() {
		var status Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan billing status count: %v: %w", err, guard.ErrUnavailable)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read billing status counts: %v: %w", err, guard.ErrUnavailable)
	}

	return counts, nil
}

// GetStorageAddOn returns the storage add-on for an organisation. Absence
// is a zero-block inactive add-on, mirroring how Get treats billing rows.
func (s *Store) GetStorageAddOn(ctx context.Context, organisationID int64) (*StorageAddOn, error) {
	if organisationID <= 0 {
		return nil, fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}

	row := s.db.QueryRowContext(ctx, selectAddOnSQL+` WHERE organisation_id = $1`, organisationID)
	addOn, err := scanAddOn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return defaultAddOn(organisationID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read storage add-on for organisation %d: %v: %w", organisationID, err, guard.ErrUnavailable)
	}

	return addOn, nil
}

func defaultAddOn(organisationID int64) *StorageAddOn {
	return &StorageAddOn{
		OrganisationID:    organisationID,
		BlockSizeGB:       StorageBlockSizeGB,
		MonthlyPriceCents: DefaultBlockPriceCents,
	}
}

// SaveStorageAddOn upserts the add-on row and refreshes its timestamps.
func (s *Store) SaveStorageAddOn(ctx context.Context, addOn *StorageAddOn) error {
	if addOn == nil {
		return fmt.Errorf("storage add-on is required: %w", guard.ErrInvalidArgument)
	}
	if addOn.OrganisationID <= 0 {
		return fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}

	query := `
		INSERT INTO storage_addons (organisation_id, blocks, block_size_gb, monthly_price_cents, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (organisation_id) DO UPDATE SET
			blocks = EXCLUDED.blocks,
			block_size_gb = EXCLUDED.block_size_gb,
			monthly_price_cents = EXCLUDED.monthly_price_cents,
			active = EXCLUDED.active,
			updated_at = NOW()
		RETURNING created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query,
		addOn.OrganisationID,
		addOn.Blocks,
		addOn.BlockSizeGB,
		addOn.MonthlyPriceCents,
		addOn.Active,
	).Scan(&addOn.CreatedAt, &addOn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save storage add-on for organisation %d: %v: %w", addOn.OrganisationID, err, guard.ErrUnavailable)
	}

	return nil
}

// ActiveStorageAddOns returns every active add-on, keyed by organisation.
// The aggregator uses it to refresh storage gauges.
func (s *Store) ActiveStorageAddOns(ctx context.Context) (map[int64]*StorageAddOn, error) {
	rows, err := s.db.QueryContext(ctx, selectAddOnSQL+` WHERE active = TRUE`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active storage add-ons: %v: %w", err, guard.ErrUnavailable)
	}
	defer rows.Close()

	addOns := make(map[int64]*StorageAddOn)
	for rows.Next() {
		addOn, err := scanAddOn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan storage add-on: %v: %w", err, guard.ErrUnavailable)
		}
		addOns[addOn.OrganisationID] = addOn
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read storage add-ons: %v: %w", err, guard.ErrUnavailable)
	}

	return addOns, nil
}

func scanBilling(row interface{ Scan(dest ...interface{}) error }) (*OrganisationBilling, error) {
	billing := &OrganisationBilling{}
	err := row.Scan(
		&billing.OrganisationID,
		&billing.ProcessorCustomerID,
		&billing.ProcessorSubscriptionID,
		&billing.Status,
		&billing.CurrentPlanID,
		&billing.TrialEndsAt,
		&billing.SubscriptionEndsAt,
		&billing.DiscountPercent,
		&billing.DiscountAppliedBy,
		&billing.DiscountAppliedAt,
		&billing.DiscountReason,
		&billing.CreatedAt,
		&billing.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return billing, nil
}

func scanAddOn(row interface{ Scan(dest ...interface{}) error }) (*StorageAddOn, error) {
	addOn := &StorageAddOn{}
	err := row.Scan(
		&addOn.OrganisationID,
		&addOn.Blocks,
		&addOn.BlockSizeGB,
		&addOn.MonthlyPriceCents,
		&addOn.Active,
		&addOn.CreatedAt,
		&addOn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return addOn, nil
}
