package billing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bricksaw/warden/pkg/audit"
	"github.com/bricksaw/warden/pkg/guard"
	"github.com/bricksaw/warden/pkg/observability"
	"github.com/bricksaw/warden/pkg/superadmin"
)

const billingTable = "organisation_billing"
const addOnTable = "storage_addons"

// DefaultTrialDays is the trial window granted when a plan override moves an
// organisation onto a paid plan without an explicit trial end.
const DefaultTrialDays = 14

// Billing intervals accepted by checkout sessions.
const (
	IntervalMonthly = "monthly"
	IntervalAnnual  = "annual"
)

// PlanValidator answers whether a plan id exists in the catalog. The
// catalog store satisfies it.
type PlanValidator interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Service owns organisation billing state. Administrative overrides run
// through the guard pipeline; processor webhooks apply directly because
// there is no principal behind them.
type Service struct {
	store     *Store
	plans     PlanValidator
	processor Processor
	guard     *guard.Guard
	logger    *observability.Logger
	metrics   *observability.Metrics
	trialDays int
}

// NewService creates the billing service. trialDays at or below zero falls
// back to DefaultTrialDays.
func NewService(store *Store, plans PlanValidator, processor Processor, g *guard.Guard, logger *observability.Logger, metrics *observability.Metrics, trialDays int) *Service {
	if trialDays <= 0 {
		trialDays = DefaultTrialDays
	}

	return &Service{
		store:     store,
		plans:     plans,
		processor: processor,
		guard:     g,
		logger:    logger,
		metrics:   metrics,
		trialDays: trialDays,
	}
}

// GetBilling returns the billing overview for one organisation, including
// the synthesised free-tier row when nothing is stored yet.
func (s *Service) GetBilling(ctx context.Context, principal guard.Principal, organisationID int64) (*Overview, error) {
	if organisationID <= 0 {
		return nil, fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}

	var overview *Overview
	err := s.guard.Run(ctx, principal, guard.Operation{
		Permission: superadmin.PermissionViewAllOrganisations.String(),
		Act: func(ctx context.Context) error {
			billing, err := s.store.Get(ctx, organisationID)
			if err != nil {
				return err
			}
			addOn, err := s.store.GetStorageAddOn(ctx, organisationID)
			if err != nil {
				return err
			}
			overview = &Overview{
				Billing:            billing,
				StorageAddOn:       addOn,
				TrialDaysRemaining: billing.TrialDaysRemaining(time.Now().UTC()),
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	return overview, nil
}

// SetPlanParams is the administrative plan-override surface. A nil PlanID
// moves the organisation to the free tier. Status, TrialEndsAt and
// SubscriptionEndsAt are optional; unset values are derived.
type SetPlanParams struct {
	PlanID             *string    `json:"plan_id"`
	Status             Status     `json:"status,omitempty"`
	TrialEndsAt        *time.Time `json:"trial_ends_at,omitempty"`
	SubscriptionEndsAt *time.Time `json:"subscription_ends_at,omitempty"`
}

// SetOrganisationPlan overrides the organisation's plan without touching the
// payment processor. The plan id is validated against the catalog before
// anything is written, and the change is audited with before and after ids.
func (s *Service) SetOrganisationPlan(ctx context.Context, principal guard.Principal, organisationID int64, params SetPlanParams) (*OrganisationBilling, error) {
	if organisationID <= 0 {
		return nil, fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}
	if params.PlanID != nil {
		if *params.PlanID == "" {
			return nil, fmt.Errorf("plan id must not be empty: %w", guard.ErrInvalidArgument)
		}
		exists, err := s.plans.Exists(ctx, *params.PlanID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("unknown plan %q: %w", *params.PlanID, guard.ErrInvalidArgument)
		}
	}
	if params.Status != "" && !params.Status.Valid() {
		return nil, fmt.Errorf("unknown subscription status %q: %w", params.Status, guard.ErrInvalidArgument)
	}

	entry := &audit.Entry{
		Action:               "set_organisation_plan",
		Category:             audit.CategoryOrganisation,
		TargetTable:          strPtr(billingTable),
		TargetID:             strPtr(strconv.FormatInt(organisationID, 10)),
		TargetOrganisationID: &organisationID,
	}

	var updated *OrganisationBilling
	err := s.guard.Run(ctx, principal, guard.Operation{
		Permission: superadmin.PermissionEditAllOrganisations.String(),
		Act: func(ctx context.Context) error {
			current, err := s.store.Get(ctx, organisationID)
			if err != nil {
				return err
			}

			// Unsupplied optional fields inherit the stored values; the
			// derivation below clears the trial where it no longer applies.
			next := *current
			next.CurrentPlanID = params.PlanID
			if params.TrialEndsAt != nil {
				next.TrialEndsAt = params.TrialEndsAt
			}
			if params.SubscriptionEndsAt != nil {
				next.SubscriptionEndsAt = params.SubscriptionEndsAt
			}
			next.Status = s.overrideStatus(current, &next, params)

			if err := s.store.Save(ctx, &next); err != nil {
				return err
			}

			entry.Payload = audit.PlanChange{
				PreviousPlanID: current.CurrentPlanID,
				NewPlanID:      params.PlanID,
			}
			updated = &next
			return nil
		},
		Entry: entry,
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.PlanOverridesTotal.Inc()
	}
	if s.logger != nil {
		s.logger.WithFields(map[string]interface{}{
			"organisation": organisationID,
			"plan":         planLabel(updated.CurrentPlanID),
			"status":       updated.Status,
		}).Info("Organisation plan overridden")
	}

	return updated, nil
}

// overrideStatus resolves the status of a plan override. An explicit status
// wins. Otherwise: the free tier and fully discounted plans are active with
// no trial; an organisation already inside the paid machine keeps its status
// across a plan switch; one entering it starts a trial.
func (s *Service) overrideStatus(current, next *OrganisationBilling, params SetPlanParams) Status {
	if params.Status != "" {
		return params.Status
	}
	if next.CurrentPlanID == nil {
		next.TrialEndsAt = nil
		return StatusActive
	}
	if next.DiscountPercent == 100 {
		next.TrialEndsAt = nil
		return StatusActive
	}
	if current.CurrentPlanID != nil {
		return current.Status
	}
	if next.TrialEndsAt == nil {
		trialEnd := time.Now().UTC().Add(time.Duration(s.trialDays) * 24 * time.Hour)
		next.TrialEndsAt = &trialEnd
	}
	return StatusTrialing
}

// ApplyDiscount sets the organisation's discount percentage, recording who
// applied it and why. A 100% discount on a trialing organisation activates
// it immediately; there is nothing left to pay for.
func (s *Service) ApplyDiscount(ctx context.Context, principal guard.Principal, organisationID int64, percent int, reason string) (*OrganisationBilling, error) {
	if organisationID <= 0 {
		return nil, fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}
	if percent < 0 || percent > 100 {
		return nil, fmt.Errorf("discount percent must be between 0 and 100: %w", guard.ErrInvalidArgument)
	}
	if reason == "" {
		return nil, fmt.Errorf("discount reason is required: %w", guard.ErrInvalidArgument)
	}

	entry := &audit.Entry{
		Action:               "apply_discount",
		Category:             audit.CategoryOrganisation,
		TargetTable:          strPtr(billingTable),
		TargetID:             strPtr(strconv.FormatInt(organisationID, 10)),
		TargetOrganisationID: &organisationID,
	}

	var updated *OrganisationBilling
	err := s.guard.Run(ctx, principal, guard.Operation{
		Permission: superadmin.PermissionEditAllOrganisations.String(),
		Act: func(ctx context.Context) error {
			current, err := s.store.Get(ctx, organisationID)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			next := *current
			next.DiscountPercent = percent
			next.DiscountAppliedBy = strPtr(principal.UserID)
			next.DiscountAppliedAt = &now
			next.DiscountReason = strPtr(reason)
			if percent == 100 && next.Status == StatusTrialing {
				next.Status = StatusActive
				next.TrialEndsAt = nil
			}

			if err := s.store.Save(ctx, &next); err != nil {
				return err
			}

			entry.Payload = audit.DiscountChange{
				PreviousPercent: current.DiscountPercent,
				NewPercent:      percent,
				Reason:          reason,
			}
			updated = &next
			return nil
		},
		Entry: entry,
	})
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.WithFields(map[string]interface{}{
			"organisation": organisationID,
			"percent":      percent,
			"applied_by":   principal.UserID,
		}).Info("Discount applied")
	}

	return updated, nil
}

// SetStorageAddOn sets the organisation's add-on block count. Zero blocks
// deactivates the add-on; a positive count purchases or resizes it.
func (s *Service) SetStorageAddOn(ctx context.Context, principal guard.Principal, organisationID int64, blocks int64) (*StorageAddOn, error) {
	if organisationID <= 0 {
		return nil, fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}
	if blocks < 0 {
		return nil, fmt.Errorf("block count must not be negative: %w", guard.ErrInvalidArgument)
	}

	entry := &audit.Entry{
		Action:               "set_storage_addon",
		Category:             audit.CategoryOrganisation,
		TargetTable:          strPtr(addOnTable),
		TargetID:             strPtr(strconv.FormatInt(organisationID, 10)),
		TargetOrganisationID: &organisationID,
	}

	var updated *StorageAddOn
	err := s.guard.Run(ctx, principal, guard.Operation{
		Permission: superadmin.PermissionEditAllOrganisations.String(),
		Act: func(ctx context.Context) error {
			current, err := s.store.GetStorageAddOn(ctx, organisationID)
			if err != nil {
				return err
			}

			next := *current
			next.Blocks = blocks
			next.BlockSizeGB = StorageBlockSizeGB
			if next.MonthlyPriceCents == 0 {
				next.MonthlyPriceCents = DefaultBlockPriceCents
			}
			next.Active = blocks > 0

			if err := s.store.SaveStorageAddOn(ctx, &next); err != nil {
				return err
			}

			entry.Payload = audit.Generic{
				"previous_blocks": current.Blocks,
				"blocks":          blocks,
				"block_size_gb":   StorageBlockSizeGB,
			}
			updated = &next
			return nil
		},
		Entry: entry,
	})
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.WithFields(map[string]interface{}{
			"organisation": organisationID,
			"blocks":       blocks,
			"active":       updated.Active,
		}).Info("Storage add-on updated")
	}

	return updated, nil
}

// CreateCheckoutSession asks the processor for a hosted checkout page for
// the given plan. State only changes later, when the processor's webhook
// confirms the subscription.
func (s *Service) CreateCheckoutSession(ctx context.Context, principal guard.Principal, params CheckoutParams) (*Session, error) {
	if params.OrganisationID <= 0 {
		return nil, fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}
	if params.PlanID == "" {
		return nil, fmt.Errorf("plan id is required: %w", guard.ErrInvalidArgument)
	}
	if params.Interval == "" {
		params.Interval = IntervalMonthly
	}
	if params.Interval != IntervalMonthly && params.Interval != IntervalAnnual {
		return nil, fmt.Errorf("unknown billing interval %q: %w", params.Interval, guard.ErrInvalidArgument)
	}
	exists, err := s.plans.Exists(ctx, params.PlanID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("unknown plan %q: %w", params.PlanID, guard.ErrInvalidArgument)
	}

	var session *Session
	err = s.guard.Run(ctx, principal, guard.Operation{
		Permission: superadmin.PermissionEditAllOrganisations.String(),
		Act: func(ctx context.Context) error {
			var actErr error
			session, actErr = s.processor.CreateCheckoutSession(ctx, params)
			return actErr
		},
	})
	s.countSession("checkout", err)
	if err != nil {
		return nil, err
	}

	return session, nil
}

// CreatePortalSession asks the processor for a hosted billing-portal page
// where the organisation manages its own subscription.
func (s *Service) CreatePortalSession(ctx context.Context, principal guard.Principal, organisationID int64, returnURL string) (*Session, error) {
	if organisationID <= 0 {
		return nil, fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}

	var session *Session
	err := s.guard.Run(ctx, principal, guard.Operation{
		Permission: superadmin.PermissionEditAllOrganisations.String(),
		Act: func(ctx context.Context) error {
			var actErr error
			session, actErr = s.processor.CreatePortalSession(ctx, organisationID, returnURL)
			return actErr
		},
	})
	s.countSession("portal", err)
	if err != nil {
		return nil, err
	}

	return session, nil
}

func (s *Service) countSession(kind string, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.CheckoutSessionsTotal.WithLabelValues(kind, status).Inc()
}

func planLabel(planID *string) string {
	if planID == nil {
		return "free"
	}
	return *planID
}

func strPtr(s string) *string {
	return &s
}
