// Package escalation walks overdue scheduled work up its escalation chain.
//
// Each work item carries an escalation level n. Rules for the item's entity
// type, ordered by ascending threshold, are indexed by level: rule[n] moves
// the item from level n to n+1 and notifies rule[n]'s targets. A level is
// claimed with a conditional write before any notification is sent, so two
// overlapping runs never notify the same level twice.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/biomed-maint/internal/model"
	"github.com/t77yq/biomed-maint/internal/recurrence"
	"github.com/t77yq/biomed-maint/internal/storage"
)

// releaseTimeout bounds giving a claimed level back after a failed dispatch
const releaseTimeout = 5 * time.Second

// Notifier records user notifications. *notification.Sink implements it.
type Notifier interface {
	Create(ctx context.Context, n *model.Notification) (*model.Notification, error)
}

// Engine is the escalation engine
type Engine struct {
	logger   *zap.Logger
	store    storage.Store
	notifier Notifier
	now      func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an escalation engine
func New(logger *zap.Logger, store storage.Store, notifier Notifier, opts ...Option) *Engine {
	e := &Engine{
		logger:   logger.Named("escalation"),
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run holds per-invocation state. Rules are read once per entity type.
type run struct {
	now    time.Time
	rules  map[string][]*model.EscalationRule
	result *model.EscalationResult
}

// CheckAndEscalate scans scheduled and overdue work, marks past-due work
// overdue and fires every crossed, not yet actioned escalation level in
// increasing order. Work in progress is left alone. Per-item errors are
// collected; only ErrStoreUnavailable aborts the run.
func (e *Engine) CheckAndEscalate(ctx context.Context) (*model.EscalationResult, error) {
	r := &run{
		now:    e.now().UTC(),
		rules:  make(map[string][]*model.EscalationRule),
		result: &model.EscalationResult{Events: []model.EscalationEvent{}},
	}

	works, err := e.store.ListWork(ctx, model.WorkFilter{
		Statuses: []model.WorkStatus{model.WorkStatusScheduled, model.WorkStatusOverdue},
		DueTo:    &r.now,
	})
	if err != nil {
		return r.result, fmt.Errorf("failed to list scheduled work: %w", err)
	}

	e.logger.Info("Checking overdue work", zap.Int("candidates", len(works)))

	for _, work := range works {
		if err := ctx.Err(); err != nil {
			return r.result, err
		}
		r.result.Scanned++

		if err := e.escalate(ctx, r, work); err != nil {
			if isFatal(err) {
				e.logger.Error("Escalation run aborted",
					zap.String("work_id", work.ID),
					zap.Error(err))
				return r.result, err
			}
			e.logger.Warn("Skipping work item",
				zap.String("work_id", work.ID),
				zap.String("entity_type", work.EntityType()),
				zap.Error(err))
			r.result.Failures = append(r.result.Failures, model.NewItemFailure(work.ID, err))
		}
	}

	e.logger.Info("Escalation run finished",
		zap.Int("scanned", r.result.Scanned),
		zap.Int("now_overdue", r.result.NowOverdue),
		zap.Int("events", len(r.result.Events)),
		zap.Int("failed", len(r.result.Failures)),
		zap.String("outcome", string(r.result.Outcome())))
	return r.result, nil
}

func (e *Engine) escalate(ctx context.Context, r *run, work *model.ScheduledWork) error {
	days := DaysOverdue(work.ScheduledDate, r.now)
	if days < 1 {
		return nil
	}

	if work.Status == model.WorkStatusScheduled {
		ok, err := e.store.TransitionWork(ctx, work.ID, work.State(),
			model.WorkState{Status: model.WorkStatusOverdue, EscalationLevel: work.EscalationLevel}, r.now)
		if err != nil {
			return fmt.Errorf("failed to mark work overdue: %w", err)
		}
		if ok {
			work.Status = model.WorkStatusOverdue
			r.result.NowOverdue++
			e.logger.Info("Work is overdue",
				zap.String("work_id", work.ID),
				zap.String("asset_id", work.AssetID),
				zap.Int("days_overdue", days))
		} else if work, err = e.reload(ctx, work.ID); err != nil || work == nil {
			return err
		}
	}

	rules, err := e.rulesFor(ctx, r, work.EntityType())
	if err != nil {
		return err
	}

	for work.EscalationLevel < len(rules) {
		level := work.EscalationLevel
		rule := rules[level]

		amount, err := e.overdueAmount(ctx, work, rule, days)
		if err != nil {
			return err
		}
		if amount < rule.Threshold {
			return nil
		}

		claimed := model.WorkState{Status: model.WorkStatusOverdue, EscalationLevel: level + 1}
		ok, err := e.store.TransitionWork(ctx, work.ID, work.State(), claimed, r.now)
		if err != nil {
			return fmt.Errorf("failed to advance escalation level: %w", err)
		}
		if !ok {
			// Another run moved this item; continue from its current state.
			if work, err = e.reload(ctx, work.ID); err != nil || work == nil {
				return err
			}
			continue
		}

		ids, err := e.dispatch(ctx, work, rule, level, days)
		if err != nil {
			e.release(ctx, work, claimed, r.now)
			return err
		}

		work.EscalationLevel = level + 1
		r.result.Events = append(r.result.Events, model.EscalationEvent{
			WorkID:          work.ID,
			AssetID:         work.AssetID,
			RuleID:          rule.ID,
			Level:           level + 1,
			OverdueAmount:   amount,
			NotificationIDs: ids,
			OccurredAt:      r.now,
		})

		e.logger.Info("Escalated work",
			zap.String("work_id", work.ID),
			zap.String("asset_id", work.AssetID),
			zap.String("rule_id", rule.ID),
			zap.Int("level", level+1),
			zap.Float64("overdue", amount),
			zap.Int("notifications", len(ids)))
	}
	return nil
}

// reload re-reads work after losing a conditional write. It returns nil
// when the item no longer needs escalating.
func (e *Engine) reload(ctx context.Context, id string) (*model.ScheduledWork, error) {
	work, err := e.store.GetWork(ctx, id)
	if err != nil {
		return nil, err
	}
	if work.Status != model.WorkStatusOverdue {
		return nil, nil
	}
	return work, nil
}

// release gives a claimed level back after its notifications could not be
// recorded, so the next run retries it. The write must outlive a cancelled
// or expired run context, which is often why dispatch failed.
func (e *Engine) release(ctx context.Context, work *model.ScheduledWork, claimed model.WorkState, at time.Time) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	ok, err := e.store.TransitionWork(ctx, work.ID, claimed, work.State(), at)
	if err != nil || !ok {
		e.logger.Error("Failed to release escalation level",
			zap.String("work_id", work.ID),
			zap.Int("level", claimed.EscalationLevel),
			zap.Bool("released", ok),
			zap.Error(err))
	}
}

func (e *Engine) rulesFor(ctx context.Context, r *run, entityType string) ([]*model.EscalationRule, error) {
	rules, ok := r.rules[entityType]
	if !ok {
		var err error
		rules, err = e.store.ListEscalationRules(ctx, entityType)
		if err != nil {
			return nil, fmt.Errorf("failed to load escalation rules: %w", err)
		}
		r.rules[entityType] = rules
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("%w: entity type %q", model.ErrRuleNotFound, entityType)
	}
	return rules, nil
}

// overdueAmount measures how far past due work is in the rule's unit
func (e *Engine) overdueAmount(ctx context.Context, work *model.ScheduledWork, rule *model.EscalationRule, days int) (float64, error) {
	switch rule.Unit {
	case model.ThresholdDaysOverdue, "":
		return float64(days), nil
	case model.ThresholdPercentInterval:
		if work.PolicyID == "" {
			return 0, fmt.Errorf("%w: work %s has no policy to measure its interval", model.ErrInvalidPolicy, work.ID)
		}
		policy, err := e.store.GetPolicy(ctx, work.PolicyID)
		if err != nil {
			return 0, err
		}
		if policy == nil {
			return 0, fmt.Errorf("%w: policy %s not found", model.ErrInvalidPolicy, work.PolicyID)
		}
		interval, err := recurrence.IntervalDays(work.ScheduledDate, policy.Frequency)
		if err != nil {
			return 0, err
		}
		return PercentOfInterval(days, interval), nil
	}
	return 0, fmt.Errorf("unknown threshold unit %q on rule %s", rule.Unit, rule.ID)
}

// DaysOverdue returns the whole days elapsed since due
func DaysOverdue(due, now time.Time) int {
	if !now.After(due) {
		return 0
	}
	return int(math.Floor(now.Sub(due).Hours() / 24))
}

// PercentOfInterval expresses days overdue as a percentage of the interval
func PercentOfInterval(days int, intervalDays float64) float64 {
	if intervalDays <= 0 {
		return 0
	}
	return float64(days) / intervalDays * 100
}

func isFatal(err error) bool {
	return errors.Is(err, model.ErrStoreUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
