package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/biomed-maint/internal/model"
	"github.com/t77yq/biomed-maint/internal/recurrence"
)

// SendReminders notifies the assignee of every scheduled work item due
// between today and now+window. An item is reminded at most once.
func (s *Scheduler) SendReminders(ctx context.Context, window time.Duration) (*model.ReminderResult, error) {
	if window <= 0 {
		window = DefaultReminderWindow
	}

	now := s.now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := now.Add(window)

	works, err := s.store.ListWork(ctx, model.WorkFilter{
		Statuses: []model.WorkStatus{model.WorkStatusScheduled},
		DueFrom:  &from,
		DueTo:    &to,
	})
	if err != nil {
		return &model.ReminderResult{}, fmt.Errorf("failed to list upcoming work: %w", err)
	}

	result := &model.ReminderResult{Sent: []*model.Notification{}}
	for _, work := range works {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		n, err := s.remind(ctx, work, now)
		if err != nil {
			if isFatal(err) {
				return result, err
			}
			result.Failures = append(result.Failures, model.NewItemFailure(work.ID, err))
			continue
		}
		if n == nil {
			result.Skipped++
			continue
		}
		result.Sent = append(result.Sent, n)
	}

	s.logger.Info("Reminders sent",
		zap.Int("due", len(works)),
		zap.Int("sent", len(result.Sent)),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func (s *Scheduler) remind(ctx context.Context, work *model.ScheduledWork, now time.Time) (*model.Notification, error) {
	if work.AssignedTo == "" {
		return nil, nil
	}

	exists, err := s.notifier.Exists(ctx, model.NotificationQuery{
		UserID:     work.AssignedTo,
		Type:       model.NotificationReminder,
		EntityType: work.EntityType(),
		EntityID:   work.ID,
	})
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	asset, err := s.store.GetAsset(ctx, work.AssetID)
	if err != nil {
		return nil, err
	}

	days := int(work.ScheduledDate.Sub(now).Hours() / 24)
	when := "today"
	switch {
	case days == 1:
		when = "tomorrow"
	case days > 1:
		when = fmt.Sprintf("in %d days", days)
	}

	title := fmt.Sprintf("%s due %s: %s", work.Kind.Label(), when, asset.Name)
	message := fmt.Sprintf("%s for %s (%s) is due on %s.",
		work.Kind.Label(), asset.Name, asset.ID, work.ScheduledDate.Format(recurrence.DateLayout))

	return s.notifier.Create(ctx, &model.Notification{
		UserID:     work.AssignedTo,
		Type:       model.NotificationReminder,
		Title:      title,
		Message:    message,
		EntityType: work.EntityType(),
		EntityID:   work.ID,
	})
}
