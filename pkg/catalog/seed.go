package catalog

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/lib/pq"
	"gopkg.in/yaml.v3"

	"github.com/bricksaw/warden/pkg/guard"
)

// SeedFile is the YAML shape of a plan catalog seed.
type SeedFile struct {
	Plans []Plan `yaml:"plans"`
}

// LoadSeedFile reads and parses a YAML plan seed.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan seed: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse plan seed: %w", err)
	}

	for i := range seed.Plans {
		if seed.Plans[i].ID == "" {
			return nil, fmt.Errorf("plan %d in seed has no id", i)
		}
		if seed.Plans[i].Name == "" {
			return nil, fmt.Errorf("plan %q in seed has no name", seed.Plans[i].ID)
		}
	}

	return &seed, nil
}

// Seed applies a catalog seed: missing plans are inserted, unpublished rows
// are updated in place, published rows are never altered (drift is logged
// and skipped).
func (s *Store) Seed(ctx context.Context, plans []Plan) error {
	for i := range plans {
		plan := &plans[i]

		existing, err := s.fetch(ctx, plan.ID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if err := s.insertPlan(ctx, plan); err != nil {
				return err
			}
			if s.logger != nil {
				s.logger.WithField("plan", plan.ID).Info("Seeded plan")
			}
		case err != nil:
			return fmt.Errorf("failed to read plan %q during seed: %v: %w", plan.ID, err, guard.ErrUnavailable)
		case existing.Published:
			if !seedEquivalent(existing, plan) && s.logger != nil {
				s.logger.WithField("plan", plan.ID).Warn("Seed drift on published plan ignored")
			}
		default:
			if err := s.updateUnpublished(ctx, plan); err != nil {
				return err
			}
		}
	}

	s.invalidate()
	return nil
}

// SeedFromFile loads path and applies it.
func (s *Store) SeedFromFile(ctx context.Context, path string) error {
	seed, err := LoadSeedFile(path)
	if err != nil {
		return err
	}
	return s.Seed(ctx, seed.Plans)
}

func (s *Store) insertPlan(ctx context.Context, plan *Plan) error {
	query := `
		INSERT INTO subscription_plans (
			id, name, max_seats, max_records, max_reports, max_storage_gb,
			monthly_price_cents, annual_price_cents, per_seat_price_cents, base_users_included,
			features, field_categories, published
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.db.ExecContext(ctx, query,
		plan.ID, plan.Name,
		plan.MaxSeats, plan.MaxRecords, plan.MaxReports, plan.MaxStorageGB,
		plan.MonthlyPriceCents, plan.AnnualPriceCents, plan.PerSeatPriceCents, plan.BaseUsersIncluded,
		textArray(plan.Features), textArray(plan.FieldCategories), plan.Published,
	)
	if err != nil {
		return fmt.Errorf("failed to seed plan %q: %v: %w", plan.ID, err, guard.ErrUnavailable)
	}

	return nil
}

// updateUnpublished rewrites a draft row. The published guard repeats in SQL
// so a concurrent publish is never clobbered.
func (s *Store) updateUnpublished(ctx context.Context, plan *Plan) error {
	query := `
		UPDATE subscription_plans SET
			name = $2, max_seats = $3, max_records = $4, max_reports = $5, max_storage_gb = $6,
			monthly_price_cents = $7, annual_price_cents = $8, per_seat_price_cents = $9,
			base_users_included = $10, features = $11, field_categories = $12, published = $13
		WHERE id = $1 AND published = FALSE
	`

	_, err := s.db.ExecContext(ctx, query,
		plan.ID, plan.Name,
		plan.MaxSeats, plan.MaxRecords, plan.MaxReports, plan.MaxStorageGB,
		plan.MonthlyPriceCents, plan.AnnualPriceCents, plan.PerSeatPriceCents, plan.BaseUsersIncluded,
		textArray(plan.Features), textArray(plan.FieldCategories), plan.Published,
	)
	if err != nil {
		return fmt.Errorf("failed to update draft plan %q: %v: %w", plan.ID, err, guard.ErrUnavailable)
	}

	return nil
}

// textArray encodes a slice for a NOT NULL TEXT[] column; nil must land as
// an empty array, not SQL NULL.
func textArray(values []string) interface {
	driver.Valuer
	sql.Scanner
} {
	if values == nil {
		values = []string{}
	}
	return pq.Array(values)
}

// seedEquivalent compares the seedable fields, ignoring created_at.
func seedEquivalent(a, b *Plan) bool {
	return a.Name == b.Name &&
		a.MaxSeats == b.MaxSeats &&
		a.MaxRecords == b.MaxRecords &&
		a.MaxReports == b.MaxReports &&
		a.MaxStorageGB == b.MaxStorageGB &&
		a.MonthlyPriceCents == b.MonthlyPriceCents &&
		a.AnnualPriceCents == b.AnnualPriceCents &&
		a.PerSeatPriceCents == b.PerSeatPriceCents &&
		a.BaseUsersIncluded == b.BaseUsersIncluded &&
		slices.Equal(a.Features, b.Features) &&
		slices.Equal(a.FieldCategories, b.FieldCategories) &&
		a.Published == b.Published
}
