package audit

import (
	"encoding/json"
	"fmt"
)

// Payload kind discriminators carried in the JSON `kind` key.
const (
	KindOrganisationChange  = "organisation_change"
	KindPlanChange          = "plan_change"
	KindDiscountChange      = "discount_change"
	KindImpersonationDetail = "impersonation_detail"
	KindSuperAdminChange    = "super_admin_change"
	KindGeneric             = "generic"
)

// Payload is structured detail attached to an audit entry. Concrete shapes
// encode with a `kind` discriminator so rows decode back to the right type.
type Payload interface {
	Kind() string
}

// OrganisationState is a point-in-time snapshot of the lifecycle flags an
// organisation mutation can touch.
type OrganisationState struct {
	Name          string `json:"name"`
	Archived      bool   `json:"archived"`
	Blocked       bool   `json:"blocked"`
	BlockedReason string `json:"blocked_reason,omitempty"`
}

// OrganisationChange records an organisation mutation as before/after state.
type OrganisationChange struct {
	Before OrganisationState `json:"before"`
	After  OrganisationState `json:"after"`
}

// Kind implements Payload.
func (OrganisationChange) Kind() string { return KindOrganisationChange }

// PlanChange records a subscription plan assignment. A nil plan id means the
// implicit free tier.
type PlanChange struct {
	PreviousPlanID *string `json:"previous_plan_id"`
	NewPlanID      *string `json:"new_plan_id"`
}

// Kind implements Payload.
func (PlanChange) Kind() string { return KindPlanChange }

// DiscountChange records a discount percentage adjustment and the operator's
// stated reason.
type DiscountChange struct {
	PreviousPercent int    `json:"previous_percent"`
	NewPercent      int    `json:"new_percent"`
	Reason          string `json:"reason"`
}

// Kind implements Payload.
func (DiscountChange) Kind() string { return KindDiscountChange }

// ImpersonationDetail records the session and target of an impersonation
// start or end.
type ImpersonationDetail struct {
	SessionID            string `json:"session_id"`
	TargetUserID         string `json:"target_user_id"`
	TargetOrganisationID int64  `json:"target_organisation_id"`
}

// Kind implements Payload.
func (ImpersonationDetail) Kind() string { return KindImpersonationDetail }

// SuperAdminChange records a grant, revoke, or permission-set mutation.
type SuperAdminChange struct {
	Permissions []string `json:"permissions"`
	Active      *bool    `json:"active,omitempty"`
}

// Kind implements Payload.
func (SuperAdminChange) Kind() string { return KindSuperAdminChange }

// Generic is the opaque fallback for detail without a structured shape, and
// the decode target for kinds this build does not know.
type Generic map[string]interface{}

// Kind implements Payload.
func (Generic) Kind() string { return KindGeneric }

// MarshalPayload encodes p with its kind discriminator injected at the top
// level. A nil payload marshals to nil.
func MarshalPayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}

	// Generic keeps a kind it already carries so unknown rows survive a
	// round trip unchanged.
	if p.Kind() != KindGeneric {
		m["kind"] = p.Kind()
	} else if _, ok := m["kind"]; !ok {
		m["kind"] = KindGeneric
	}

	return json.Marshal(m)
}

// UnmarshalPayload decodes raw into the concrete type named by its kind
// discriminator. Empty or null input yields nil; unknown kinds decode to
// Generic so rows written by newer builds still load.
func UnmarshalPayload(raw []byte) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("failed to read payload kind: %w", err)
	}

	switch probe.Kind {
	case KindOrganisationChange:
		var p OrganisationChange
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindPlanChange:
		var p PlanChange
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindDiscountChange:
		var p DiscountChange
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindImpersonationDetail:
		var p ImpersonationDetail
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindSuperAdminChange:
		var p SuperAdminChange
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		var p Generic
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
}
