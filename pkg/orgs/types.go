package orgs

import "time"

// Organisation is one tenant as the administrative surface sees it. Content
// lives with the main application; warden owns the lifecycle flags.
type Organisation struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Archived      bool       `json:"archived"`
	ArchivedAt    *time.Time `json:"archived_at,omitempty"`
	Blocked       bool       `json:"blocked"`
	BlockedReason string     `json:"blocked_reason,omitempty"`
	BlockedAt     *time.Time `json:"blocked_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Lifecycle status labels. Blocked and archived are independent flags; the
// label collapses them with blocked taking precedence.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
	StatusBlocked  = "blocked"
)

// Status returns the collapsed lifecycle label for gauges and list views.
func (o *Organisation) Status() string {
	switch {
	case o.Blocked:
		return StatusBlocked
	case o.Archived:
		return StatusArchived
	default:
		return StatusActive
	}
}

// Resource names one tracked usage counter.
type Resource string

const (
	ResourceSeats   Resource = "seats"
	ResourceRecords Resource = "records"
	ResourceReports Resource = "reports"
	ResourceStorage Resource = "storage"
)

// Resources returns the tracked counters in stable order.
func Resources() []Resource {
	return []Resource{ResourceSeats, ResourceRecords, ResourceReports, ResourceStorage}
}

// Valid reports whether r names a tracked counter.
func (r Resource) Valid() bool {
	switch r {
	case ResourceSeats, ResourceRecords, ResourceReports, ResourceStorage:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (r Resource) String() string { return string(r) }

// Usage mirrors one organisation_usage row: the counters external
// collaborators keep current through the usage-source API. Storage is
// tracked in bytes, everything else as plain counts.
type Usage struct {
	OrganisationID int64     `json:"organisation_id"`
	SeatsCount     int64     `json:"seats_count"`
	RecordsCount   int64     `json:"records_count"`
	ReportsCount   int64     `json:"reports_count"`
	StorageBytes   int64     `json:"storage_bytes"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Count returns the counter for one resource, zero for an unknown one.
func (u *Usage) Count(r Resource) int64 {
	if u == nil {
		return 0
	}
	switch r {
	case ResourceSeats:
		return u.SeatsCount
	case ResourceRecords:
		return u.RecordsCount
	case ResourceReports:
		return u.ReportsCount
	case ResourceStorage:
		return u.StorageBytes
	}
	return 0
}

// Snapshot pairs an organisation with its live usage counters.
type Snapshot struct {
	Organisation *Organisation `json:"organisation"`
	Usage        *Usage        `json:"usage"`
}

// UpdateParams carries the editable content fields. Nil fields are left
// unchanged; the lifecycle flags have their own operations.
type UpdateParams struct {
	Name *string `json:"name"`
}
