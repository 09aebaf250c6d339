package model

import "time"

// NotificationType classifies user-facing notifications
type NotificationType string

const (
	NotificationReminder   NotificationType = "reminder"
	NotificationEscalation NotificationType = "escalation"
	NotificationEndOfLife  NotificationType = "end_of_life"
	NotificationSystem     NotificationType = "system"
)

// Notification is a persisted, user-facing message.
type Notification struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	Type            NotificationType `json:"type"`
	Title           string           `json:"title"`
	Message         string           `json:"message"`
	EntityType      string           `json:"entity_type,omitempty"`
	EntityID        string           `json:"entity_id,omitempty"`
	Read            bool             `json:"read"`
	CreatedAt       time.Time        `json:"created_at"`
	EmailRecipients []string         `json:"email_recipients,omitempty"`
}

// NotificationQuery matches notifications by recipient and linked entity.
// Empty fields match anything.
type NotificationQuery struct {
	UserID     string
	Type       NotificationType
	EntityType string
	EntityID   string
}

// NotificationPage is one page of a user's notifications, newest first.
type NotificationPage struct {
	Items    []*Notification `json:"items"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}
