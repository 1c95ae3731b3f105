package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bricksaw/warden/pkg/guard"
)

// SignatureTolerance bounds how far a webhook timestamp may drift from the
// receiving clock before the request is rejected.
const SignatureTolerance = 5 * time.Minute

// SignPayload computes the signature header for a webhook body at ts. The
// signed content is "<unix>.<body>", keyed with HMAC-SHA256.
func SignPayload(secret string, ts time.Time, body []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), signatureDigest(secret, ts.Unix(), body))
}

func signatureDigest(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature header of the form
// "t=<unix>,v1=<hex>". Stale timestamps are rejected so a captured request
// cannot be replayed after the tolerance window.
func VerifySignature(secret, header string, body []byte, now time.Time) error {
	if header == "" {
		return fmt.Errorf("missing webhook signature: %w", guard.ErrPermissionDenied)
	}

	var ts int64
	var provided string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("malformed webhook timestamp: %w", guard.ErrPermissionDenied)
			}
			ts = parsed
		case "v1":
			provided = value
		}
	}
	if ts == 0 || provided == "" {
		return fmt.Errorf("malformed webhook signature: %w", guard.ErrPermissionDenied)
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > SignatureTolerance || age < -SignatureTolerance {
		return fmt.Errorf("webhook timestamp outside tolerance: %w", guard.ErrPermissionDenied)
	}

	expected := signatureDigest(secret, ts, body)
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return fmt.Errorf("webhook signature mismatch: %w", guard.ErrPermissionDenied)
	}

	return nil
}

// ApplyProcessorEvent applies one verified webhook event to the
// organisation's billing row and returns the updated row. No principal
// stands behind a webhook, so it bypasses the guard pipeline and writes no
// audit entry; the verified signature is the authorisation.
func (s *Service) ApplyProcessorEvent(ctx context.Context, event *ProcessorEvent) (*OrganisationBilling, error) {
	updated, err := s.applyEvent(ctx, event)
	s.countWebhook(event, err)
	if err != nil {
		if s.logger != nil {
			s.logger.WithError(err).WithFields(map[string]interface{}{
				"type": eventLabel(event),
			}).Warn("Webhook event rejected")
		}
		return nil, err
	}

	if s.logger != nil {
		s.logger.WithFields(map[string]interface{}{
			"type":         event.Type,
			"organisation": event.OrganisationID,
			"status":       updated.Status,
		}).Info("Webhook event applied")
	}

	return updated, nil
}

func (s *Service) applyEvent(ctx context.Context, event *ProcessorEvent) (*OrganisationBilling, error) {
	if event == nil {
		return nil, fmt.Errorf("event is required: %w", guard.ErrInvalidArgument)
	}
	if !event.Type.Valid() {
		return nil, fmt.Errorf("unknown webhook event type %q: %w", event.Type, guard.ErrInvalidArgument)
	}
	if event.OrganisationID <= 0 {
		return nil, fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}
	if event.Status != "" && !event.Status.Valid() {
		return nil, fmt.Errorf("unknown subscription status %q: %w", event.Status, guard.ErrInvalidArgument)
	}
	if event.PlanID != "" {
		exists, err := s.plans.Exists(ctx, event.PlanID)
		if err != nil {
			return nil, err
		}
		if !exists {
			// A 400 makes the processor retry after the plan is seeded
			// rather than silently dropping the organisation's plan.
			return nil, fmt.Errorf("unknown plan %q: %w", event.PlanID, guard.ErrInvalidArgument)
		}
	}

	current, err := s.store.Get(ctx, event.OrganisationID)
	if err != nil {
		return nil, err
	}

	next := *current
	switch event.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		s.syncSubscription(&next, event)
	case EventSubscriptionDeleted:
		s.endSubscription(&next, event)
	case EventInvoicePaid:
		// Payment clears every recoverable state; the trial is over once
		// money moves.
		switch next.Status {
		case StatusIncomplete, StatusTrialing, StatusPastDue, StatusUnpaid:
			next.Status = StatusActive
			next.TrialEndsAt = nil
		}
	case EventInvoicePaymentFailed:
		switch next.Status {
		case StatusTrialing, StatusActive:
			next.Status = StatusPastDue
		}
	}

	if err := s.store.Save(ctx, &next); err != nil {
		return nil, err
	}

	return &next, nil
}

// syncSubscription mirrors the processor's view of the subscription onto
// the row. Absent event fields leave the stored value alone.
func (s *Service) syncSubscription(next *OrganisationBilling, event *ProcessorEvent) {
	if event.CustomerID != "" {
		next.ProcessorCustomerID = strPtr(event.CustomerID)
	}
	if event.SubscriptionID != "" {
		next.ProcessorSubscriptionID = strPtr(event.SubscriptionID)
	}
	if event.PlanID != "" {
		next.CurrentPlanID = strPtr(event.PlanID)
	}
	if event.TrialEndsAt != nil {
		next.TrialEndsAt = event.TrialEndsAt
	}
	if event.PeriodEndsAt != nil {
		next.SubscriptionEndsAt = event.PeriodEndsAt
	}

	switch {
	case event.Status != "":
		next.Status = event.Status
	case event.Type == EventSubscriptionCreated && next.TrialEndsAt != nil && next.TrialEndsAt.After(time.Now()):
		next.Status = StatusTrialing
	case event.Type == EventSubscriptionCreated:
		next.Status = StatusActive
	}
}

// endSubscription drops the organisation back to the free tier. Clearing
// current_plan_id is what actually shrinks its entitlements.
func (s *Service) endSubscription(next *OrganisationBilling, event *ProcessorEvent) {
	next.Status = StatusCanceled
	next.CurrentPlanID = nil
	next.ProcessorSubscriptionID = nil
	next.TrialEndsAt = nil
	if event.PeriodEndsAt != nil {
		next.SubscriptionEndsAt = event.PeriodEndsAt
	} else {
		now := time.Now().UTC()
		next.SubscriptionEndsAt = &now
	}
}

func (s *Service) countWebhook(event *ProcessorEvent, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.WebhookEventsTotal.WithLabelValues(eventLabel(event), status).Inc()
}

func eventLabel(event *ProcessorEvent) string {
	if event == nil || event.Type == "" {
		return "unknown"
	}
	return string(event.Type)
}
