package escalation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/biomed-maint/internal/model"
	"github.com/t77yq/biomed-maint/internal/recurrence"
)

type recipient struct {
	userID string
	email  string
}

// resolve expands a rule's target chain into distinct users, in chain order
func (e *Engine) resolve(ctx context.Context, work *model.ScheduledWork, targets []model.Target) ([]recipient, error) {
	var out []recipient
	seen := make(map[string]bool)
	add := func(u *model.User) {
		if u == nil || seen[u.ID] {
			return
		}
		seen[u.ID] = true
		out = append(out, recipient{userID: u.ID, email: u.Email})
	}

	lookup := func(id string) (*model.User, error) {
		u, err := e.store.GetUser(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to look up user %s: %w", id, err)
		}
		if u == nil {
			// Unknown to the directory; notify by id without email.
			return &model.User{ID: id}, nil
		}
		return u, nil
	}

	for _, target := range targets {
		switch target.Kind {
		case model.TargetUser:
			u, err := lookup(target.Value)
			if err != nil {
				return nil, err
			}
			add(u)
		case model.TargetRole:
			users, err := e.store.UsersWithRole(ctx, target.Value)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve role %s: %w", target.Value, err)
			}
			if len(users) == 0 {
				e.logger.Warn("Escalation role has no members",
					zap.String("role", target.Value),
					zap.String("work_id", work.ID))
			}
			for _, u := range users {
				add(u)
			}
		case model.TargetAssignee:
			if work.AssignedTo == "" {
				continue
			}
			u, err := lookup(work.AssignedTo)
			if err != nil {
				return nil, err
			}
			add(u)
		default:
			e.logger.Warn("Unknown escalation target",
				zap.String("target", target.String()),
				zap.String("work_id", work.ID))
		}
	}
	return out, nil
}

// dispatch notifies every recipient of rule for the given level and returns
// the created notification ids
func (e *Engine) dispatch(ctx context.Context, work *model.ScheduledWork, rule *model.EscalationRule, level, days int) ([]string, error) {
	recipients, err := e.resolve(ctx, work, rule.Targets)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		e.logger.Warn("Escalation level has no recipients",
			zap.String("work_id", work.ID),
			zap.String("rule_id", rule.ID),
			zap.Int("level", level+1))
		return []string{}, nil
	}

	assetName := work.AssetID
	asset, err := e.store.GetAsset(ctx, work.AssetID)
	switch {
	case err == nil:
		assetName = asset.Name
	case !errors.Is(err, model.ErrAssetNotFound):
		return nil, err
	}

	title := fmt.Sprintf("%s overdue (level %d): %s", work.Kind.Label(), level+1, assetName)
	message := fmt.Sprintf("%s for %s (%s) was due on %s and is %d day(s) overdue. Escalation level %d.",
		work.Kind.Label(), assetName, work.AssetID,
		work.ScheduledDate.Format(recurrence.DateLayout), days, level+1)

	ids := make([]string, 0, len(recipients))
	for _, r := range recipients {
		n := &model.Notification{
			UserID:     r.userID,
			Type:       model.NotificationEscalation,
			Title:      title,
			Message:    message,
			EntityType: work.EntityType(),
			EntityID:   work.ID,
		}
		if rule.NotifyEmail && r.email != "" {
			n.EmailRecipients = []string{r.email}
		}

		created, err := e.notifier.Create(ctx, n)
		if err != nil {
			return ids, err
		}
		ids = append(ids, created.ID)
	}
	return ids, nil
}
