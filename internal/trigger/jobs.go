package trigger

import (
	"context"
	"time"

	"github.com/t77yq/biomed-maint/internal/escalation"
	"github.com/t77yq/biomed-maint/internal/lifecycle"
	"github.com/t77yq/biomed-maint/internal/model"
	"github.com/t77yq/biomed-maint/internal/scheduler"
	"github.com/t77yq/biomed-maint/internal/storage"
)

const (
	JobAutoSchedule = "auto_schedule"
	JobEscalate     = "escalate"
	JobReminders    = "reminders"
	JobLifecycle    = "lifecycle"
	JobPruneHistory = "prune_history"
)

// AutoScheduleJob schedules every asset
func AutoScheduleJob(s *scheduler.Scheduler) JobFunc {
	return func(ctx context.Context) (Report, error) {
		result, err := s.AutoSchedule(ctx, nil)
		if result == nil {
			return Report{}, err
		}
		return Report{
			Outcome:   result.Outcome(),
			Processed: len(result.Created) + result.Skipped + len(result.Failures),
			Failed:    len(result.Failures),
		}, err
	}
}

// EscalateJob runs one escalation pass
func EscalateJob(e *escalation.Engine) JobFunc {
	return func(ctx context.Context) (Report, error) {
		result, err := e.CheckAndEscalate(ctx)
		if result == nil {
			return Report{}, err
		}
		return Report{
			Outcome:   result.Outcome(),
			Processed: result.Scanned,
			Failed:    len(result.Failures),
		}, err
	}
}

// RemindersJob reminds assignees of work due within window
func RemindersJob(s *scheduler.Scheduler, window time.Duration) JobFunc {
	return func(ctx context.Context) (Report, error) {
		result, err := s.SendReminders(ctx, window)
		if result == nil {
			return Report{}, err
		}
		return Report{
			Outcome:   result.Outcome(),
			Processed: len(result.Sent) + result.Skipped + len(result.Failures),
			Failed:    len(result.Failures),
		}, err
	}
}

// LifecycleJob scores every asset
func LifecycleJob(sc *lifecycle.Scorer) JobFunc {
	return func(ctx context.Context) (Report, error) {
		result, err := sc.Evaluate(ctx, model.AssetFilter{})
		if result == nil {
			return Report{}, err
		}
		return Report{
			Outcome:   result.Outcome(),
			Processed: len(result.Scores),
			Failed:    len(result.Failures),
		}, err
	}
}

// PruneHistoryJob deletes job runs older than retention
func PruneHistoryJob(history storage.JobRunHistory, retention time.Duration) JobFunc {
	return func(ctx context.Context) (Report, error) {
		deleted, err := history.DeleteBefore(ctx, time.Now().Add(-retention))
		if err != nil {
			return Report{}, err
		}
		return Report{Outcome: model.OutcomeSuccess, Processed: int(deleted)}, nil
	}
}
