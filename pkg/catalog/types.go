package catalog

import "time"

// Unlimited is the sentinel for a limit with no ceiling. Entitlement
// arithmetic never divides by it.
const Unlimited int64 = -1

// IsUnlimited reports whether limit carries the unlimited sentinel.
func IsUnlimited(limit int64) bool {
	return limit == Unlimited
}

// Plan is one row of the subscription plan catalog. Plans are reference
// data: immutable once published, identified by a stable slug.
type Plan struct {
	ID                string    `json:"id" yaml:"id"`
	Name              string    `json:"name" yaml:"name"`
	MaxSeats          int64     `json:"max_seats" yaml:"max_seats"`
	MaxRecords        int64     `json:"max_records" yaml:"max_records"`
	MaxReports        int64     `json:"max_reports" yaml:"max_reports"`
	MaxStorageGB      int64     `json:"max_storage_gb" yaml:"max_storage_gb"`
	MonthlyPriceCents int64     `json:"monthly_price_cents" yaml:"monthly_price_cents"`
	AnnualPriceCents  int64     `json:"annual_price_cents" yaml:"annual_price_cents"`
	PerSeatPriceCents int64     `json:"per_seat_price_cents" yaml:"per_seat_price_cents"`
	BaseUsersIncluded int64     `json:"base_users_included" yaml:"base_users_included"`
	Features          []string  `json:"features" yaml:"features"`
	FieldCategories   []string  `json:"field_categories" yaml:"field_categories"`
	Published         bool      `json:"published" yaml:"published"`
	CreatedAt         time.Time `json:"created_at" yaml:"-"`
}

// HasFeature reports whether the plan carries the named feature flag.
func (p *Plan) HasFeature(flag string) bool {
	for _, f := range p.Features {
		if f == flag {
			return true
		}
	}
	return false
}

// AllowsFieldCategory reports whether the plan's allow-list contains the
// named field category. An empty allow-list allows nothing here; the
// entitlement evaluator applies the default-set fallback.
func (p *Plan) AllowsFieldCategory(category string) bool {
	for _, c := range p.FieldCategories {
		if c == category {
			return true
		}
	}
	return false
}
