package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bricksaw/warden/pkg/billing"
	"github.com/bricksaw/warden/pkg/catalog"
	"github.com/bricksaw/warden/pkg/guard"
	"github.com/bricksaw/warden/pkg/observability"
	"github.com/bricksaw/warden/pkg/orgs"
	"github.com/bricksaw/warden/pkg/superadmin"
)

// CacheType is the logical cache bucket entitlement reports live in; the
// storage config maps it to a TTL (30s by default).
const CacheType = "entitlement"

// DefaultCacheTTL applies when the storage config carries no TTL for the
// entitlement bucket.
const DefaultCacheTTL = 30 * time.Second

// PlanSource resolves plan ids against the catalog. *catalog.Store
// satisfies it.
type PlanSource interface {
	Get(ctx context.Context, id string) (*catalog.Plan, error)
}

// BillingSource supplies the billing row and storage add-on for an
// organisation. *billing.Store satisfies it; both calls synthesise
// free-tier defaults for organisations that never touched billing.
type BillingSource interface {
	Get(ctx context.Context, organisationID int64) (*billing.OrganisationBilling, error)
	GetStorageAddOn(ctx context.Context, organisationID int64) (*billing.StorageAddOn, error)
}

// UsageSource supplies the live usage counters. *orgs.Store satisfies it.
type UsageSource interface {
	GetUsage(ctx context.Context, organisationID int64) (*orgs.Usage, error)
}

// ReportCache parks evaluated reports between requests.
// *postgres.RedisClient satisfies it.
type ReportCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	TTLFor(cacheType string) time.Duration
}

// Service composes catalog, billing and usage into full entitlement
// reports. Reads run under view-all-organisations through the guard; the
// computation itself stays in the pure Evaluate.
type Service struct {
	plans   PlanSource
	billing BillingSource
	usage   UsageSource
	cache   ReportCache
	guard   *guard.Guard
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewService creates the service. Cache, logger and metrics may be nil.
func NewService(plans PlanSource, billingSource BillingSource, usage UsageSource, cache ReportCache, g *guard.Guard, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		plans:   plans,
		billing: billingSource,
		usage:   usage,
		cache:   cache,
		guard:   g,
		logger:  logger,
		metrics: metrics,
	}
}

// Report returns the organisation's entitlement report, from cache when a
// fresh one exists. Requires view-all-organisations.
func (s *Service) Report(ctx context.Context, principal guard.Principal, organisationID int64) (*OrganisationEntitlements, error) {
	if organisationID <= 0 {
		return nil, fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}

	var report *OrganisationEntitlements
	err := s.guard.Run(ctx, principal, guard.Operation{
		Permission: superadmin.PermissionViewAllOrganisations.String(),
		Act: func(ctx context.Context) error {
			var actErr error
			report, actErr = s.report(ctx, organisationID)
			return actErr
		},
	})
	if err != nil {
		return nil, err
	}

	return report, nil
}

// HasFeature answers one feature-availability question. A missing plan
// degrades to false, never an error.
func (s *Service) HasFeature(ctx context.Context, principal guard.Principal, organisationID int64, token string) (bool, error) {
	report, err := s.Report(ctx, principal, organisationID)
	if err != nil {
		return false, err
	}
	return report.HasFeature(token), nil
}

// AllowsFieldCategory answers one field-category gating question against
// the effective allow-list, default fallback included.
func (s *Service) AllowsFieldCategory(ctx context.Context, principal guard.Principal, organisationID int64, category string) (bool, error) {
	report, err := s.Report(ctx, principal, organisationID)
	if err != nil {
		return false, err
	}
	return report.AllowsFieldCategory(category), nil
}

// Invalidate drops the cached report after a billing or usage mutation so
// the next read re-evaluates. Best-effort: a cache outage only delays
// freshness by one TTL.
func (s *Service) Invalidate(ctx context.Context, organisationID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cacheKey(organisationID)); err != nil && s.logger != nil {
		s.logger.WithError(err).WithField("organisation_id", organisationID).
			Warn("Failed to invalidate entitlement cache")
	}
}

func (s *Service) report(ctx context.Context, organisationID int64) (*OrganisationEntitlements, error) {
	key := cacheKey(organisationID)
	if cached := s.fromCache(ctx, key); cached != nil {
		return cached, nil
	}

	billingRow, err := s.billing.Get(ctx, organisationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load billing for organisation %d: %w", organisationID, err)
	}
	addOn, err := s.billing.GetStorageAddOn(ctx, organisationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load storage add-on for organisation %d: %w", organisationID, err)
	}
	usage, err := s.usage.GetUsage(ctx, organisationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage for organisation %d: %w", organisationID, err)
	}

	// A dangling plan id degrades to free-tier answers instead of failing
	// the whole report; billing data must never crash a caller.
	var plan *catalog.Plan
	if billingRow.CurrentPlanID != nil {
		plan, err = s.plans.Get(ctx, *billingRow.CurrentPlanID)
		if err != nil && !errors.Is(err, guard.ErrNotFound) {
			return nil, fmt.Errorf("failed to load plan %q: %w", *billingRow.CurrentPlanID, err)
		}
		if plan == nil && s.logger != nil {
			s.logger.WithFields(map[string]interface{}{
				"organisation_id": organisationID,
				"plan_id":         *billingRow.CurrentPlanID,
			}).Warn("Billing references unknown plan; degrading to free tier")
		}
	}

	start := time.Now()
	report := Evaluate(Input{
		Plan:            plan,
		DiscountPercent: billingRow.DiscountPercent,
		StorageAddOn:    addOn,
		Usage:           usage,
	})
	report.OrganisationID = organisationID
	report.PlanID = billingRow.CurrentPlanID
	report.Status = billingRow.Status
	report.TrialDaysRemaining = billingRow.TrialDaysRemaining(time.Now().UTC())
	report.EvaluatedAt = time.Now().UTC()

	if s.metrics != nil {
		s.metrics.EntitlementEvaluationDuration.Observe(time.Since(start).Seconds())
		s.metrics.EntitlementEvaluationsTotal.WithLabelValues("computed").Inc()
	}

	s.toCache(ctx, key, report)

	return report, nil
}

func (s *Service) fromCache(ctx context.Context, key string) *OrganisationEntitlements {
	if s.cache == nil {
		return nil
	}

	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		if s.logger != nil {
			s.logger.WithError(err).Warn("Entitlement cache read failed")
		}
		return nil
	}
	if !ok {
		s.countCache(false)
		return nil
	}

	var report OrganisationEntitlements
	if err := json.Unmarshal(data, &report); err != nil {
		// A corrupt entry is a miss; the next Set overwrites it.
		if s.logger != nil {
			s.logger.WithError(err).Warn("Discarding corrupt entitlement cache entry")
		}
		s.countCache(false)
		return nil
	}

	s.countCache(true)
	if s.metrics != nil {
		s.metrics.EntitlementEvaluationsTotal.WithLabelValues("cache").Inc()
	}
	return &report
}

func (s *Service) toCache(ctx context.Context, key string, report *OrganisationEntitlements) {
	if s.cache == nil {
		return
	}

	data, err := json.Marshal(report)
	if err != nil {
		if s.logger != nil {
			s.logger.WithError(err).Error("Failed to marshal entitlement report for cache")
		}
		return
	}

	ttl := s.cache.TTLFor(CacheType)
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if err := s.cache.Set(ctx, key, data, ttl); err != nil && s.logger != nil {
		s.logger.WithError(err).Warn("Entitlement cache write failed")
	}
}

func (s *Service) countCache(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.CacheHitsTotal.WithLabelValues(CacheType).Inc()
	} else {
		s.metrics.CacheMissesTotal.WithLabelValues(CacheType).Inc()
	}
}

func cacheKey(organisationID int64) string {
	return fmt.Sprintf("entitlement:%d", organisationID)
}
