package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/bricksaw/warden/pkg/guard"
)

// CheckoutParams describes the hosted checkout page to create.
type CheckoutParams struct {
	OrganisationID int64  `json:"organisation_id" validate:"required,gt=0"`
	PlanID         string `json:"plan_id" validate:"required"`
	Interval       string `json:"interval,omitempty"`
	SuccessURL     string `json:"success_url,omitempty"`
	CancelURL      string `json:"cancel_url,omitempty"`
}

// Session is a hosted checkout or billing-portal page issued by the
// processor.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Processor is the payment-processor boundary. The engine only ever asks it
// for hosted session URLs; subscription state flows back through webhooks,
// never through these calls.
type Processor interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*Session, error)
	CreatePortalSession(ctx context.Context, organisationID int64, returnURL string) (*Session, error)
}

// OfflineProcessor issues deterministic local session URLs so development
// and tests run without a processor account. The same inputs always produce
// the same session id.
type OfflineProcessor struct {
	baseURL string
}

// NewOfflineProcessor creates the processor. An empty base URL falls back
// to the development billing host.
func NewOfflineProcessor(baseURL string) *OfflineProcessor {
	if baseURL == "" {
		baseURL = "https://billing.bricksaw.dev"
	}

	return &OfflineProcessor{baseURL: strings.TrimRight(baseURL, "/")}
}

// CreateCheckoutSession returns a checkout session keyed on the
// organisation, plan and interval.
func (p *OfflineProcessor) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*Session, error) {
	if params.OrganisationID <= 0 {
		return nil, fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}
	if params.PlanID == "" {
		return nil, fmt.Errorf("plan id is required: %w", guard.ErrInvalidArgument)
	}

	id := sessionID("cs", fmt.Sprintf("%d:%s:%s", params.OrganisationID, params.PlanID, params.Interval))
	return &Session{
		ID:  id,
		URL: fmt.Sprintf("%s/checkout/%s", p.baseURL, id),
	}, nil
}

// CreatePortalSession returns a billing-portal session for the
// organisation.
func (p *OfflineProcessor) CreatePortalSession(ctx context.Context, organisationID int64, returnURL string) (*Session, error) {
	if organisationID <= 0 {
		return nil, fmt.Errorf("organisation id must be positive: %w", guard.ErrInvalidArgument)
	}

	id := sessionID("ps", fmt.Sprintf("%d:%s", organisationID, returnURL))
	return &Session{
		ID:  id,
		URL: fmt.Sprintf("%s/portal/%s", p.baseURL, id),
	}, nil
}

func sessionID(prefix, seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return prefix + "_" + hex.EncodeToString(sum[:])[:24]
}
