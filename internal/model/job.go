package model

import "time"

// JobSchedule represents a cron-triggered batch job
type JobSchedule struct {
	Name        string     `json:"name"`
	Expression  string     `json:"expression"`
	LastRunTime *time.Time `json:"last_run_time,omitempty"`
	NextRunTime *time.Time `json:"next_run_time,omitempty"`
}

// JobRun is the persisted record of one batch job execution
type JobRun struct {
	ID          string        `json:"id"`
	Job         string        `json:"job"`
	Outcome     BatchOutcome  `json:"outcome"`
	Processed   int           `json:"processed"`
	Failed      int           `json:"failed"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
}
