package entitlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bricksaw/warden/pkg/billing"
	"github.com/bricksaw/warden/pkg/catalog"
	"github.com/bricksaw/warden/pkg/orgs"
)

func proPlan() *catalog.Plan {
	return &catalog.Plan{
		ID:                "pro",
		Name:              "Pro",
		MaxSeats:          25,
		MaxRecords:        10000,
		MaxReports:        500,
		MaxStorageGB:      10,
		MonthlyPriceCents: 4900,
		PerSeatPriceCents: 900,
		BaseUsersIncluded: 5,
		Features:          []string{"custom_branding", "api_access"},
		FieldCategories:   []string{"basic", "evidence", "signature"},
		Published:         true,
	}
}

func TestResourceUsage_ExceededTracksLimit(t *testing.T) {
	tests := []struct {
		name     string
		current  int64
		limit    int64
		exceeded bool
	}{
		{"under limit", 7, 10, false},
		{"at limit", 10, 10, true},
		{"over limit", 11, 10, true},
		{"zero usage", 0, 10, false},
		{"unlimited never exceeded", 1 << 40, catalog.Unlimited, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := resourceUsage(tt.current, tt.limit)
			assert.Equal(t, tt.exceeded, r.Exceeded)
		})
	}
}

func TestResourceUsage_PercentRawAndClamped(t *testing.T) {
	t.Run("raw percent is unclamped", func(t *testing.T) {
		r := resourceUsage(20, 10)
		require.NotNil(t, r.Percent)
		require.NotNil(t, r.DisplayPercent)
		assert.Equal(t, int64(200), *r.Percent)
		assert.Equal(t, int64(100), *r.DisplayPercent)
		assert.True(t, r.Exceeded)
		assert.True(t, r.AtWarning)
	})

	t.Run("warning independent of exceeded", func(t *testing.T) {
		r := resourceUsage(8, 10)
		require.NotNil(t, r.Percent)
		assert.Equal(t, int64(80), *r.Percent)
		assert.False(t, r.Exceeded)
		assert.True(t, r.AtWarning)
	})

	t.Run("unlimited has no percent", func(t *testing.T) {
		r := resourceUsage(500, catalog.Unlimited)
		assert.Nil(t, r.Percent)
		assert.Nil(t, r.DisplayPercent)
		assert.False(t, r.AtWarning)
	})

	t.Run("zero limit is exceeded but undivided", func(t *testing.T) {
		r := resourceUsage(1, 0)
		assert.True(t, r.Exceeded)
		assert.Nil(t, r.Percent)
	})

	t.Run("rounding is half-up", func(t *testing.T) {
		r := resourceUsage(1, 3)
		require.NotNil(t, r.Percent)
		assert.Equal(t, int64(33), *r.Percent)
	})
}

func TestEvaluate_SeatPricing(t *testing.T) {
	t.Run("extra seats billed beyond included count", func(t *testing.T) {
		report := Evaluate(Input{
			Plan:  proPlan(),
			Usage: &orgs.Usage{SeatsCount: 7},
		})

		assert.Equal(t, int64(2), report.Pricing.BillableSeats)
		assert.Equal(t, int64(1800), report.Pricing.SeatsPriceCents)
		assert.Equal(t, int64(4900+1800), report.Pricing.TotalCents)
	})

	t.Run("seats within included count bill nothing extra", func(t *testing.T) {
		report := Evaluate(Input{
			Plan:  proPlan(),
			Usage: &orgs.Usage{SeatsCount: 5},
		})

		assert.Zero(t, report.Pricing.BillableSeats)
		assert.Equal(t, int64(4900), report.Pricing.TotalCents)
	})

	t.Run("seats over the limit still bill in full", func(t *testing.T) {
		// Pricing never silently caps at the seat limit.
		report := Evaluate(Input{
			Plan:  proPlan(),
			Usage: &orgs.Usage{SeatsCount: 30},
		})

		assert.True(t, report.Seats.Exceeded)
		assert.Equal(t, int64(25), report.Pricing.BillableSeats)
		assert.Equal(t, int64(25*900), report.Pricing.SeatsPriceCents)
	})
}

func TestEvaluate_StorageAddOn(t *testing.T) {
	addOn := &billing.StorageAddOn{
		Blocks:            1,
		BlockSizeGB:       billing.StorageBlockSizeGB,
		MonthlyPriceCents: billing.DefaultBlockPriceCents,
		Active:            true,
	}

	t.Run("add-on extends the base limit", func(t *testing.T) {
		report := Evaluate(Input{
			Plan:         proPlan(),
			StorageAddOn: addOn,
			Usage:        &orgs.Usage{StorageBytes: 18 * BytesPerGB},
		})

		assert.Equal(t, int64(20), report.EffectiveStorageGB)
		require.NotNil(t, report.Storage.Percent)
		assert.Equal(t, int64(90), *report.Storage.Percent)
		assert.False(t, report.Storage.Exceeded)
		assert.True(t, report.Storage.AtWarning)
	})

	t.Run("inactive add-on contributes nothing", func(t *testing.T) {
		inactive := *addOn
		inactive.Active = false

		report := Evaluate(Input{Plan: proPlan(), StorageAddOn: &inactive})
		assert.Equal(t, int64(10), report.EffectiveStorageGB)
	})

	t.Run("unlimited base ignores the add-on", func(t *testing.T) {
		plan := proPlan()
		plan.MaxStorageGB = catalog.Unlimited

		report := Evaluate(Input{Plan: plan, StorageAddOn: addOn})
		assert.Equal(t, catalog.Unlimited, report.EffectiveStorageGB)
		assert.False(t, report.Storage.Exceeded)
		assert.Nil(t, report.Storage.Percent)
	})
}

func TestEvaluate_Discount(t *testing.T) {
	t.Run("applied per line item with half-up rounding", func(t *testing.T) {
		plan := proPlan()
		plan.MonthlyPriceCents = 999
		plan.PerSeatPriceCents = 333

		report := Evaluate(Input{
			Plan:            plan,
			DiscountPercent: 15,
			Usage:           &orgs.Usage{SeatsCount: 6},
		})

		// 999*0.85 = 849.15 -> 849; 333*0.85 = 283.05 -> 283.
		assert.Equal(t, int64(999+333), report.Pricing.ListTotalCents)
		assert.Equal(t, int64(849+283), report.Pricing.TotalCents)
	})

	t.Run("limits are never discounted", func(t *testing.T) {
		report := Evaluate(Input{
			Plan:            proPlan(),
			DiscountPercent: 50,
			Usage:           &orgs.Usage{SeatsCount: 20},
		})

		assert.Equal(t, int64(25), report.Seats.Limit)
	})

	t.Run("100 percent means free access", func(t *testing.T) {
		report := Evaluate(Input{
			Plan:            proPlan(),
			DiscountPercent: 100,
			Usage:           &orgs.Usage{SeatsCount: 9},
		})

		assert.True(t, report.FreeAccess)
		assert.Zero(t, report.Pricing.TotalCents)
		assert.NotZero(t, report.Pricing.ListTotalCents)
	})
}

func TestEvaluate_FeatureAndCategoryGating(t *testing.T) {
	t.Run("plan features are copied through", func(t *testing.T) {
		report := Evaluate(Input{Plan: proPlan()})

		assert.True(t, report.HasFeature("api_access"))
		assert.False(t, report.HasFeature("sso"))
		assert.True(t, report.AllowsFieldCategory("signature"))
		assert.False(t, report.AllowsFieldCategory("media"))
	})

	t.Run("no plan falls back to the default category set", func(t *testing.T) {
		report := Evaluate(Input{})

		assert.Equal(t, DefaultFieldCategories(), report.FieldCategories)
		assert.True(t, report.AllowsFieldCategory("basic"))
		assert.True(t, report.AllowsFieldCategory("evidence"))
		assert.False(t, report.AllowsFieldCategory("signature"))
		assert.False(t, report.HasFeature("api_access"))
	})

	t.Run("empty allow-list also falls back", func(t *testing.T) {
		plan := proPlan()
		plan.FieldCategories = nil

		report := Evaluate(Input{Plan: plan})
		assert.Equal(t, DefaultFieldCategories(), report.FieldCategories)
	})
}

func TestEvaluate_NilInputsDegrade(t *testing.T) {
	report := Evaluate(Input{})

	assert.Zero(t, report.Pricing.TotalCents)
	assert.Empty(t, report.Features)
	assert.False(t, report.FreeAccess)
	assert.Zero(t, report.Seats.Current)
	assert.True(t, report.Seats.Exceeded, "zero limit admits nothing")
	assert.Zero(t, report.EffectiveStorageGB)
}
