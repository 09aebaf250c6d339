package model

import "time"

// PolicyKind distinguishes preventive maintenance from calibration.
type PolicyKind string

const (
	PolicyKindPM          PolicyKind = "pm"
	PolicyKindCalibration PolicyKind = "calibration"
)

// Valid reports whether k is a known policy kind.
func (k PolicyKind) Valid() bool {
	return k == PolicyKindPM || k == PolicyKindCalibration
}

// Label is the human-readable name used in notification text.
func (k PolicyKind) Label() string {
	switch k {
	case PolicyKindPM:
		return "Preventive maintenance"
	case PolicyKindCalibration:
		return "Calibration"
	}
	return string(k)
}

// FrequencyUnit is the calendar unit of a maintenance interval.
type FrequencyUnit string

const (
	FrequencyDays   FrequencyUnit = "days"
	FrequencyWeeks  FrequencyUnit = "weeks"
	FrequencyMonths FrequencyUnit = "months"
	FrequencyYears  FrequencyUnit = "years"
)

// Frequency is a count of calendar units, e.g. 90 days.
type Frequency struct {
	Count int           `json:"count"`
	Unit  FrequencyUnit `json:"unit"`
}

// MaintenancePolicy describes how often an asset needs one kind of work.
type MaintenancePolicy struct {
	ID              string     `json:"id"`
	AssetID         string     `json:"asset_id"`
	Kind            PolicyKind `json:"kind"`
	Frequency       Frequency  `json:"frequency"`
	VendorID        string     `json:"vendor_id,omitempty"`
	AssignedTo      string     `json:"assigned_to,omitempty"`
	LastPerformedAt *time.Time `json:"last_performed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// BaseDate is the date recurrence is computed from. The policy's own last
// performed date wins, then the asset's last service date from the
// directory, then the policy creation date.
func (p *MaintenancePolicy) BaseDate(asset *Asset) time.Time {
	if p.LastPerformedAt != nil && !p.LastPerformedAt.IsZero() {
		return *p.LastPerformedAt
	}
	if asset != nil && asset.LastServiceDate != nil && !asset.LastServiceDate.IsZero() {
		return *asset.LastServiceDate
	}
	return p.CreatedAt
}
