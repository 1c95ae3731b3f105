package billing

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bricksaw/warden/pkg/guard"
)

func TestOfflineProcessor_CreateCheckoutSession(t *testing.T) {
	processor := NewOfflineProcessor("https://billing.example.com/")

	t.Run("issues deterministic sessions", func(t *testing.T) {
		params := CheckoutParams{OrganisationID: 42, PlanID: "pro", Interval: IntervalMonthly}

		first, err := processor.CreateCheckoutSession(context.Background(), params)
		require.NoError(t, err)
		second, err := processor.CreateCheckoutSession(context.Background(), params)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.True(t, strings.HasPrefix(first.ID, "cs_"))
		assert.Equal(t, "https://billing.example.com/checkout/"+first.ID, first.URL)
	})

	t.Run("different inputs get different sessions", func(t *testing.T) {
		pro, err := processor.CreateCheckoutSession(context.Background(),
			CheckoutParams{OrganisationID: 42, PlanID: "pro", Interval: IntervalMonthly})
		require.NoError(t, err)
		enterprise, err := processor.CreateCheckoutSession(context.Background(),
			CheckoutParams{OrganisationID: 42, PlanID: "enterprise", Interval: IntervalMonthly})
		require.NoError(t, err)
		annual, err := processor.CreateCheckoutSession(context.Background(),
			CheckoutParams{OrganisationID: 42, PlanID: "pro", Interval: IntervalAnnual})
		require.NoError(t, err)

		assert.NotEqual(t, pro.ID, enterprise.ID)
		assert.NotEqual(t, pro.ID, annual.ID)
	})

	t.Run("requires an organisation", func(t *testing.T) {
		_, err := processor.CreateCheckoutSession(context.Background(),
			CheckoutParams{PlanID: "pro"})
		assert.ErrorIs(t, err, guard.ErrInvalidArgument)
	})

	t.Run("requires a plan", func(t *testing.T) {
		_, err := processor.CreateCheckoutSession(context.Background(),
			CheckoutParams{OrganisationID: 42})
		assert.ErrorIs(t, err, guard.ErrInvalidArgument)
	})
}

func TestOfflineProcessor_CreatePortalSession(t *testing.T) {
	processor := NewOfflineProcessor("https://billing.example.com")

	t.Run("issues portal URLs", func(t *testing.T) {
		session, err := processor.CreatePortalSession(context.Background(), 42, "https://app.example.com/settings")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(session.ID, "ps_"))
		assert.Equal(t, "https://billing.example.com/portal/"+session.ID, session.URL)
	})

	t.Run("requires an organisation", func(t *testing.T) {
		_, err := processor.CreatePortalSession(context.Background(), 0, "")
		assert.ErrorIs(t, err, guard.ErrInvalidArgument)
	})
}

func TestNewOfflineProcessor(t *testing.T) {
	t.Run("defaults the base URL", func(t *testing.T) {
		processor := NewOfflineProcessor("")

		session, err := processor.CreateCheckoutSession(context.Background(),
			CheckoutParams{OrganisationID: 1, PlanID: "pro"})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(session.URL, "https://billing.bricksaw.dev/checkout/"))
	})
}
