package model

// BatchOutcome summarizes a batch operation
type BatchOutcome string

const (
	OutcomeSuccess BatchOutcome = "success"
	OutcomePartial BatchOutcome = "partial"
	OutcomeFailed  BatchOutcome = "failed"
)

// ItemFailure is one per-item error inside a batch.
type ItemFailure struct {
	ID  string `json:"id"`
	Err error  `json:"-"`
	// Message mirrors Err for serialization.
	Message string `json:"error"`
}

// NewItemFailure builds an ItemFailure from an error.
func NewItemFailure(id string, err error) ItemFailure {
	return ItemFailure{ID: id, Err: err, Message: err.Error()}
}

// Outcome classifies a batch from its success and failure counts. A batch with
// no failures is a success even when nothing needed doing.
func Outcome(succeeded, failed int) BatchOutcome {
	switch {
	case failed == 0:
		return OutcomeSuccess
	case succeeded == 0:
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

// ScheduleResult is the aggregate result of an auto-schedule run.
type ScheduleResult struct {
	Created  []*ScheduledWork `json:"created"`
	Skipped  int              `json:"skipped"`
	Failures []ItemFailure    `json:"failures,omitempty"`
}

// Outcome classifies the run. Skipped assets count as handled.
func (r *ScheduleResult) Outcome() BatchOutcome {
	return Outcome(len(r.Created)+r.Skipped, len(r.Failures))
}

// EscalationResult is the aggregate result of an escalation run.
type EscalationResult struct {
	Events     []EscalationEvent `json:"events"`
	Scanned    int               `json:"scanned"`
	NowOverdue int               `json:"now_overdue"`
	Failures   []ItemFailure     `json:"failures,omitempty"`
}

// Outcome classifies the run.
func (r *EscalationResult) Outcome() BatchOutcome {
	return Outcome(r.Scanned-len(r.Failures), len(r.Failures))
}

// LifecycleResult is the aggregate result of a lifecycle scoring run.
type LifecycleResult struct {
	Scores        []*RecommendationScore `json:"scores"`
	Notifications int                    `json:"notifications"`
	Failures      []ItemFailure          `json:"failures,omitempty"`
}

// Outcome classifies the run. Every asset is scored, failed ones included.
func (r *LifecycleResult) Outcome() BatchOutcome {
	return Outcome(len(r.Scores)-len(r.Failures), len(r.Failures))
}

// ReminderResult is the aggregate result of an upcoming-work reminder run.
type ReminderResult struct {
	Sent     []*Notification `json:"sent"`
	Skipped  int             `json:"skipped"`
	Failures []ItemFailure   `json:"failures,omitempty"`
}

// Outcome classifies the run.
func (r *ReminderResult) Outcome() BatchOutcome {
	return Outcome(len(r.Sent)+r.Skipped, len(r.Failures))
}
