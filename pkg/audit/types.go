package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// Category classifies an audit entry by the domain area it touches.
type Category string

// Audit categories. The set is closed: Record rejects anything else.
const (
	CategoryOrganisation   Category = "organisation"
	CategoryUser           Category = "user"
	CategoryUserManagement Category = "user_management"
	CategoryReport         Category = "report"
	CategoryTemplate       Category = "template"
	CategoryRecord         Category = "record"
	CategorySystem         Category = "system"
	CategoryImpersonation  Category = "impersonation"
	CategoryNotification   Category = "notification"
)

// Categories returns every known category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryOrganisation,
		CategoryUser,
		CategoryUserManagement,
		CategoryReport,
		CategoryTemplate,
		CategoryRecord,
		CategorySystem,
		CategoryImpersonation,
		CategoryNotification,
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryOrganisation, CategoryUser, CategoryUserManagement,
		CategoryReport, CategoryTemplate, CategoryRecord,
		CategorySystem, CategoryImpersonation, CategoryNotification:
		return true
	}
	return false
}

// Entry is a single row of the append-only audit log. ActorUserID is always
// the authenticated super-admin; ImpersonatingUserID carries the impersonated
// user's id when the action happened inside a live impersonation session.
type Entry struct {
	ID                   int64     `json:"id"`
	ActorUserID          string    `json:"actor_user_id"`
	ImpersonatingUserID  *string   `json:"impersonating_user_id,omitempty"`
	Action               string    `json:"action"`
	Category             Category  `json:"category"`
	TargetTable          *string   `json:"target_table,omitempty"`
	TargetID             *string   `json:"target_id,omitempty"`
	TargetOrganisationID *int64    `json:"target_organisation_id,omitempty"`
	Payload              Payload   `json:"payload,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// MarshalJSON encodes the entry with the payload's kind discriminator so
// readers can dispatch without knowing the concrete type.
func (e Entry) MarshalJSON() ([]byte, error) {
	payloadJSON, err := MarshalPayload(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit payload: %w", err)
	}

	type alias Entry
	return json.Marshal(struct {
		alias
		Payload json.RawMessage `json:"payload,omitempty"`
	}{
		alias:   alias(e),
		Payload: payloadJSON,
	})
}

// UnmarshalJSON decodes the entry, dispatching the payload on its kind
// discriminator. Unknown kinds decode to Generic so old rows always load.
func (e *Entry) UnmarshalJSON(data []byte) error {
	type alias Entry
	aux := struct {
		*alias
		Payload json.RawMessage `json:"payload"`
	}{
		alias: (*alias)(e),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	payload, err := UnmarshalPayload(aux.Payload)
	if err != nil {
		return fmt.Errorf("failed to unmarshal audit payload: %w", err)
	}
	e.Payload = payload
	return nil
}

// Filter narrows Search and Count. Zero-value fields are skipped; set fields
// combine conjunctively.
type Filter struct {
	Category             Category
	ActorID              string
	TargetOrganisationID *int64
	Since                *time.Time
}
