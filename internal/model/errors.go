package model

import "errors"

var (
	// ErrInvalidPolicy is returned when a maintenance frequency is unusable
	ErrInvalidPolicy = errors.New("invalid maintenance policy")

	// ErrAssetNotFound is returned when an asset id is unknown
	ErrAssetNotFound = errors.New("asset not found")

	// ErrDuplicateActiveSchedule is returned when an (asset, kind) pair already has active work
	ErrDuplicateActiveSchedule = errors.New("active schedule already exists")

	// ErrRuleNotFound is returned when no escalation rule exists for an entity type
	ErrRuleNotFound = errors.New("escalation rule not found")

	// ErrStoreUnavailable is returned when persistence fails
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrWorkNotFound is returned when a scheduled work id is unknown
	ErrWorkNotFound = errors.New("scheduled work not found")

	// ErrNotificationNotFound is returned when a notification id is unknown
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrInvalidTransition is returned when a status change is not allowed
	ErrInvalidTransition = errors.New("invalid status transition")
)
