package model

import (
	"fmt"
	"strings"
	"time"
)

// ThresholdUnit defines how an escalation threshold is measured
type ThresholdUnit string

const (
	ThresholdDaysOverdue     ThresholdUnit = "days_overdue"
	ThresholdPercentInterval ThresholdUnit = "percent_interval"
)

// TargetKind is the kind of an escalation chain entry.
type TargetKind string

const (
	TargetUser     TargetKind = "user"
	TargetRole     TargetKind = "role"
	TargetAssignee TargetKind = "assignee"
)

// Target is one entry of an escalation rule's responsible-party chain.
type Target struct {
	Kind  TargetKind `json:"kind"`
	Value string     `json:"value,omitempty"`
}

func (t Target) String() string {
	if t.Kind == TargetAssignee {
		return string(TargetAssignee)
	}
	return string(t.Kind) + ":" + t.Value
}

// ParseTarget parses "user:<id>", "role:<name>" or "assignee".
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == string(TargetAssignee) {
		return Target{Kind: TargetAssignee}, nil
	}
	kind, value, ok := strings.Cut(s, ":")
	if !ok || value == "" {
		return Target{}, fmt.Errorf("invalid escalation target %q", s)
	}
	switch TargetKind(kind) {
	case TargetUser, TargetRole:
		return Target{Kind: TargetKind(kind), Value: value}, nil
	}
	return Target{}, fmt.Errorf("invalid escalation target kind %q", kind)
}

// EscalationRule defines one threshold of the escalation chain for an entity type
type EscalationRule struct {
	ID          string        `json:"id"`
	EntityType  string        `json:"entity_type"`
	Threshold   float64       `json:"threshold"`
	Unit        ThresholdUnit `json:"unit"`
	Targets     []Target      `json:"targets"`
	NotifyEmail bool          `json:"notify_email"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// EscalationEvent records one escalation level being actioned for a work item
type EscalationEvent struct {
	WorkID          string    `json:"work_id"`
	AssetID         string    `json:"asset_id"`
	RuleID          string    `json:"rule_id"`
	Level           int       `json:"level"`
	OverdueAmount   float64   `json:"overdue_amount"`
	NotificationIDs []string  `json:"notification_ids"`
	OccurredAt      time.Time `json:"occurred_at"`
}
