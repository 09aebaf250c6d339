package model

import "time"

// Asset is a piece of biomedical equipment as seen by the maintenance core.
// Records are owned by the asset directory and are never mutated here.
type Asset struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Department      string     `json:"department,omitempty"`
	SerialNumber    string     `json:"serial_number,omitempty"`
	InstallDate     time.Time  `json:"install_date"`
	LastServiceDate *time.Time `json:"last_service_date,omitempty"`
	ReplacementCost float64    `json:"replacement_cost"`
	ServiceCost     float64    `json:"service_cost"`
	DowntimeHours   float64    `json:"downtime_hours"`
	// UtilizationPct is 0-100.
	UtilizationPct float64   `json:"utilization_pct"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AgeYears returns the asset age in fractional years at the given instant.
func (a *Asset) AgeYears(at time.Time) float64 {
	if a.InstallDate.IsZero() || at.Before(a.InstallDate) {
		return 0
	}
	return at.Sub(a.InstallDate).Hours() / (24 * 365.25)
}

// AssetFilter narrows asset directory listings.
type AssetFilter struct {
	IDs        []string
	Department string
	Limit      int
	Offset     int
}

// User is a person that can receive notifications.
type User struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
}
