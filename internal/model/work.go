package model

import (
	"time"
)

// WorkStatus represents the lifecycle state of a scheduled maintenance event
type WorkStatus string

const (
	WorkStatusScheduled  WorkStatus = "scheduled"
	WorkStatusInProgress WorkStatus = "in_progress"
	WorkStatusCompleted  WorkStatus = "completed"
	WorkStatusOverdue    WorkStatus = "overdue"
	WorkStatusCancelled  WorkStatus = "cancelled"
)

// Active reports whether work in this status still counts against the
// one-active-record-per-(asset, kind) invariant.
func (s WorkStatus) Active() bool {
	return s != WorkStatusCompleted && s != WorkStatusCancelled
}

// ActiveWorkStatuses lists every non-terminal status.
var ActiveWorkStatuses = []WorkStatus{
	WorkStatusScheduled,
	WorkStatusInProgress,
	WorkStatusOverdue,
}

// ScheduledWork is one instance of a due maintenance event
type ScheduledWork struct {
	ID              string     `json:"id"`
	AssetID         string     `json:"asset_id"`
	PolicyID        string     `json:"policy_id,omitempty"`
	Kind            PolicyKind `json:"kind"`
	ScheduledDate   time.Time  `json:"scheduled_date"`
	Status          WorkStatus `json:"status"`
	EscalationLevel int        `json:"escalation_level"`
	VendorID        string     `json:"vendor_id,omitempty"`
	AssignedTo      string     `json:"assigned_to,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// EntityType is the escalation-rule entity type this work falls under.
func (w *ScheduledWork) EntityType() string {
	return string(w.Kind)
}

// WorkState is the part of a ScheduledWork guarded by conditional writes.
type WorkState struct {
	Status          WorkStatus
	EscalationLevel int
}

// State returns the current guarded state of w.
func (w *ScheduledWork) State() WorkState {
	return WorkState{Status: w.Status, EscalationLevel: w.EscalationLevel}
}

// WorkFilter narrows scheduled work listings.
type WorkFilter struct {
	AssetID  string
	Kind     PolicyKind
	Statuses []WorkStatus
	DueFrom  *time.Time
	DueTo    *time.Time
}
