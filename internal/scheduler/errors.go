package scheduler

import "errors"

var (
	// ErrConcurrentUpdate is returned when a status change kept losing to
	// concurrent writers
	ErrConcurrentUpdate = errors.New("scheduled work changed concurrently")
)
