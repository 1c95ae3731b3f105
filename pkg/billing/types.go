package billing

import (
	"math"
	"time"
)

// Status is the subscription state of an organisation inside the paid
// machine. The free tier sits outside it: current_plan_id NULL, not a
// status value.
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusUnpaid     Status = "unpaid"
	StatusPaused     Status = "paused"
)

// Statuses returns every subscription status in stable order.
func Statuses() []Status {
	return []Status{
		StatusIncomplete,
		StatusTrialing,
		StatusActive,
		StatusPastDue,
		StatusCanceled,
		StatusUnpaid,
		StatusPaused,
	}
}

// Valid reports whether s is a known subscription status.
func (s Status) Valid() bool {
	switch s {
	case StatusIncomplete, StatusTrialing, StatusActive, StatusPastDue,
		StatusCanceled, StatusUnpaid, StatusPaused:
		return true
	}
	return false
}

// OrganisationBilling is one row of organisation_billing: the subscription
// state, plan pointer, trial window and discount for one organisation.
type OrganisationBilling struct {
	OrganisationID          int64      `json:"organisation_id"`
	ProcessorCustomerID     *string    `json:"processor_customer_id,omitempty"`
	ProcessorSubscriptionID *string    `json:"processor_subscription_id,omitempty"`
	Status                  Status     `json:"status"`
	CurrentPlanID           *string    `json:"current_plan_id"`
	TrialEndsAt             *time.Time `json:"trial_ends_at,omitempty"`
	SubscriptionEndsAt      *time.Time `json:"subscription_ends_at,omitempty"`
	DiscountPercent         int        `json:"discount_percent"`
	DiscountAppliedBy       *string    `json:"discount_applied_by,omitempty"`
	DiscountAppliedAt       *time.Time `json:"discount_applied_at,omitempty"`
	DiscountReason          *string    `json:"discount_reason,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// OnFreeTier reports whether the organisation carries no paid plan.
func (b *OrganisationBilling) OnFreeTier() bool {
	return b.CurrentPlanID == nil
}

// TrialDaysRemaining returns the whole days left in the trial at now,
// floored at zero, or nil when no trial end is set.
func (b *OrganisationBilling) TrialDaysRemaining(now time.Time) *int64 {
	return TrialDaysRemaining(b.TrialEndsAt, now)
}

// TrialDaysRemaining is ceil((trialEndsAt - now) / 24h) floored at zero,
// nil when unset. A trial ending in one minute still reports a full day.
func TrialDaysRemaining(trialEndsAt *time.Time, now time.Time) *int64 {
	if trialEndsAt == nil {
		return nil
	}

	remaining := trialEndsAt.Sub(now)
	if remaining <= 0 {
		zero := int64(0)
		return &zero
	}

	days := int64(math.Ceil(remaining.Hours() / 24))
	return &days
}

// StorageBlockSizeGB is the fixed size of one storage add-on block.
const StorageBlockSizeGB int64 = 10

// DefaultBlockPriceCents is the monthly price of one add-on block.
const DefaultBlockPriceCents int64 = 500

// StorageAddOn is one row of storage_addons. Each organisation has at most
// one, holding a count of 10 GB blocks on top of the plan's base limit.
type StorageAddOn struct {
	OrganisationID    int64     `json:"organisation_id"`
	Blocks            int64     `json:"blocks"`
	BlockSizeGB       int64     `json:"block_size_gb"`
	MonthlyPriceCents int64     `json:"monthly_price_cents"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ExtraStorageGB returns the storage the add-on contributes to the
// effective limit. An inactive add-on contributes nothing.
func (a *StorageAddOn) ExtraStorageGB() int64 {
	if a == nil || !a.Active {
		return 0
	}
	return a.Blocks * a.BlockSizeGB
}

// MonthlyCostCents returns what the add-on bills per month.
func (a *StorageAddOn) MonthlyCostCents() int64 {
	if a == nil || !a.Active {
		return 0
	}
	return a.Blocks * a.MonthlyPriceCents
}

// EventType identifies one processor webhook event.
type EventType string

const (
	EventSubscriptionCreated  EventType = "subscription.created"
	EventSubscriptionUpdated  EventType = "subscription.updated"
	EventSubscriptionDeleted  EventType = "subscription.deleted"
	EventInvoicePaid          EventType = "invoice.paid"
	EventInvoicePaymentFailed EventType = "invoice.payment_failed"
)

// Valid reports whether t is a handled webhook event type.
func (t EventType) Valid() bool {
	switch t {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventInvoicePaid, EventInvoicePaymentFailed:
		return true
	}
	return false
}

// ProcessorEvent is the parsed form of one webhook event. The HTTP layer
// verifies the signature and decodes the body; this package only applies
// the resulting state change.
type ProcessorEvent struct {
	Type           EventType  `json:"type" validate:"required"`
	OrganisationID int64      `json:"organisation_id" validate:"required,gt=0"`
	CustomerID     string     `json:"customer_id,omitempty"`
	SubscriptionID string     `json:"subscription_id,omitempty"`
	PlanID         string     `json:"plan_id,omitempty"`
	Status         Status     `json:"status,omitempty"`
	TrialEndsAt    *time.Time `json:"trial_ends_at,omitempty"`
	PeriodEndsAt   *time.Time `json:"period_ends_at,omitempty"`
}

// Overview is the administrative read model for one organisation: the
// billing row, its storage add-on and the derived trial countdown.
type Overview struct {
	Billing            *OrganisationBilling `json:"billing"`
	StorageAddOn       *StorageAddOn        `json:"storage_addon"`
	TrialDaysRemaining *int64               `json:"trial_days_remaining"`
}
