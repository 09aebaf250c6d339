package scheduler

import "time"

const (
	maxTransitionAttempts = 3

	// DefaultReminderWindow is how far ahead reminders look for due work
	DefaultReminderWindow = 7 * 24 * time.Hour
)
