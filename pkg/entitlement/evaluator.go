package entitlement

import (
	"math"
	"time"

	"github.com/bricksaw/warden/pkg/billing"
	"github.com/bricksaw/warden/pkg/catalog"
	"github.com/bricksaw/warden/pkg/orgs"
)

// BytesPerGB converts the catalog's storage limits into the byte counts
// usage is tracked in.
const BytesPerGB = int64(1) << 30

// WarningPercent is the at-warning threshold, checked against the raw
// (unclamped) percent.
const WarningPercent = 80

// FreeTierPlanID is the catalog slug free-tier organisations resolve to.
const FreeTierPlanID = "free"

// DefaultFieldCategories returns the allow-list fallback applied when an
// organisation has no plan or its plan lists no field categories.
func DefaultFieldCategories() []string {
	return []string{"basic", "evidence"}
}

// Input bundles everything one evaluation reads. Plan, StorageAddOn and
// Usage may each be nil; evaluation degrades instead of failing.
type Input struct {
	Plan            *catalog.Plan
	DiscountPercent int
	StorageAddOn    *billing.StorageAddOn
	Usage           *orgs.Usage
}

// ResourceUsage reports one resource's standing against its limit.
//
// Percent is round(100*current/limit) without clamping, so a tenant at
// double its record limit reads 200; DisplayPercent clamps to [0,100].
// Both stay nil when the limit is unlimited (or zero): nothing ever
// divides by those. Exceeded and AtWarning are evaluated independently of
// each other and of the clamp.
type ResourceUsage struct {
	Current        int64  `json:"current"`
	Limit          int64  `json:"limit"`
	Exceeded       bool   `json:"exceeded"`
	Percent        *int64 `json:"percent,omitempty"`
	DisplayPercent *int64 `json:"display_percent,omitempty"`
	AtWarning      bool   `json:"at_warning"`
}

// Pricing is the monthly price breakdown. List prices are undiscounted;
// TotalCents applies the discount per line item with half-up rounding on
// cents. Limits are never discounted.
type Pricing struct {
	BasePriceCents    int64 `json:"base_price_cents"`
	IncludedSeats     int64 `json:"included_seats"`
	BillableSeats     int64 `json:"billable_seats"`
	PerSeatPriceCents int64 `json:"per_seat_price_cents"`
	SeatsPriceCents   int64 `json:"seats_price_cents"`
	StorageAddOnCents int64 `json:"storage_addon_cents"`
	ListTotalCents    int64 `json:"list_total_cents"`
	DiscountPercent   int   `json:"discount_percent"`
	TotalCents        int64 `json:"total_cents"`
}

// OrganisationEntitlements is the full report: per-resource standing,
// effective storage, feature and field-category availability, pricing and
// subscription context.
type OrganisationEntitlements struct {
	OrganisationID     int64          `json:"organisation_id"`
	PlanID             *string        `json:"plan_id"`
	PlanName           string         `json:"plan_name,omitempty"`
	Status             billing.Status `json:"status,omitempty"`
	TrialDaysRemaining *int64         `json:"trial_days_remaining,omitempty"`
	FreeAccess         bool           `json:"free_access"`
	Seats              ResourceUsage  `json:"seats"`
	Records            ResourceUsage  `json:"records"`
	Reports            ResourceUsage  `json:"reports"`
	Storage            ResourceUsage  `json:"storage"`
	EffectiveStorageGB int64          `json:"effective_storage_gb"`
	Features           []string       `json:"features"`
	FieldCategories    []string       `json:"field_categories"`
	Pricing            Pricing        `json:"pricing"`
	EvaluatedAt        time.Time      `json:"evaluated_at"`
}

// HasFeature reports whether the evaluated plan carries the feature flag.
// Always false without a plan.
func (e *OrganisationEntitlements) HasFeature(token string) bool {
	for _, f := range e.Features {
		if f == token {
			return true
		}
	}
	return false
}

// AllowsFieldCategory reports whether the category sits in the effective
// allow-list, which already includes the default-set fallback.
func (e *OrganisationEntitlements) AllowsFieldCategory(category string) bool {
	for _, c := range e.FieldCategories {
		if c == category {
			return true
		}
	}
	return false
}

// AtStorageWarning reports whether storage sits at or past the warning
// threshold.
func (e *OrganisationEntitlements) AtStorageWarning() bool {
	return e.Storage.AtWarning
}

// Evaluate computes the entitlement report from its inputs alone: no
// lookups, no side effects, no clock. A nil plan answers free-tier style:
// zero limits, no features, the default field categories.
func Evaluate(in Input) *OrganisationEntitlements {
	usage := in.Usage
	if usage == nil {
		usage = &orgs.Usage{}
	}

	report := &OrganisationEntitlements{
		OrganisationID:  usage.OrganisationID,
		FreeAccess:      in.DiscountPercent == 100,
		Features:        planFeatures(in.Plan),
		FieldCategories: effectiveFieldCategories(in.Plan),
	}

	var maxSeats, maxRecords, maxReports int64
	if in.Plan != nil {
		report.PlanName = in.Plan.Name
		maxSeats = in.Plan.MaxSeats
		maxRecords = in.Plan.MaxRecords
		maxReports = in.Plan.MaxReports
	}

	report.Seats = resourceUsage(usage.SeatsCount, maxSeats)
	report.Records = resourceUsage(usage.RecordsCount, maxRecords)
	report.Reports = resourceUsage(usage.ReportsCount, maxReports)

	effectiveGB := EffectiveStorageGB(in.Plan, in.StorageAddOn)
	report.EffectiveStorageGB = effectiveGB
	storageLimit := effectiveGB
	if !catalog.IsUnlimited(effectiveGB) {
		storageLimit = effectiveGB * BytesPerGB
	}
	report.Storage = resourceUsage(usage.StorageBytes, storageLimit)

	report.Pricing = pricing(in.Plan, in.DiscountPercent, in.StorageAddOn, usage.SeatsCount)

	return report
}

// EffectiveStorageGB is the plan's base storage limit plus the active
// add-on blocks. An unlimited base stays unlimited; the add-on cannot
// extend what has no ceiling.
func EffectiveStorageGB(plan *catalog.Plan, addOn *billing.StorageAddOn) int64 {
	var base int64
	if plan != nil {
		base = plan.MaxStorageGB
	}
	if catalog.IsUnlimited(base) {
		return catalog.Unlimited
	}
	return base + addOn.ExtraStorageGB()
}

// resourceUsage applies the shared limit arithmetic. An unlimited limit is
// never exceeded and never divided by; a zero limit reads exceeded (nothing
// can be added) but likewise has no percent.
func resourceUsage(current, limit int64) ResourceUsage {
	r := ResourceUsage{Current: current, Limit: limit}
	if catalog.IsUnlimited(limit) {
		return r
	}

	r.Exceeded = current >= limit
	if limit > 0 {
		raw := int64(math.Round(100 * float64(current) / float64(limit)))
		display := raw
		if display > 100 {
			display = 100
		}
		if display < 0 {
			display = 0
		}
		r.Percent = &raw
		r.DisplayPercent = &display
		r.AtWarning = raw >= WarningPercent
	}

	return r
}

// pricing computes the monthly breakdown. Billable seats come from live
// usage, not the seat limit: a tenant momentarily over its limit is charged
// for every seat it holds.
func pricing(plan *catalog.Plan, discountPercent int, addOn *billing.StorageAddOn, seats int64) Pricing {
	p := Pricing{DiscountPercent: discountPercent}

	if plan != nil {
		p.BasePriceCents = plan.MonthlyPriceCents
		p.IncludedSeats = plan.BaseUsersIncluded
		p.PerSeatPriceCents = plan.PerSeatPriceCents
		if extra := seats - plan.BaseUsersIncluded; extra > 0 {
			p.BillableSeats = extra
			p.SeatsPriceCents = extra * plan.PerSeatPriceCents
		}
	}
	p.StorageAddOnCents = addOn.MonthlyCostCents()

	p.ListTotalCents = p.BasePriceCents + p.SeatsPriceCents + p.StorageAddOnCents
	p.TotalCents = discountLine(p.BasePriceCents, discountPercent) +
		discountLine(p.SeatsPriceCents, discountPercent) +
		discountLine(p.StorageAddOnCents, discountPercent)

	return p
}

// discountLine applies the discount to one line item, rounding half-up on
// cents.
func discountLine(cents int64, percent int) int64 {
	if percent <= 0 {
		return cents
	}
	if percent >= 100 {
		return 0
	}
	return (cents*int64(100-percent) + 50) / 100
}

func planFeatures(plan *catalog.Plan) []string {
	if plan == nil || len(plan.Features) == 0 {
		return []string{}
	}
	features := make([]string, len(plan.Features))
	copy(features, plan.Features)
	return features
}

func effectiveFieldCategories(plan *catalog.Plan) []string {
	if plan == nil || len(plan.FieldCategories) == 0 {
		return DefaultFieldCategories()
	}
	categories := make([]string, len(plan.FieldCategories))
	copy(categories, plan.FieldCategories)
	return categories
}
