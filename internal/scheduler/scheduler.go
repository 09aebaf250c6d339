// Package scheduler creates and transitions scheduled maintenance work.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/biomed-maint/internal/model"
	"github.com/t77yq/biomed-maint/internal/recurrence"
	"github.com/t77yq/biomed-maint/internal/storage"
)

// Notifier records user notifications. *notification.Sink implements it.
type Notifier interface {
	Create(ctx context.Context, n *model.Notification) (*model.Notification, error)
	Exists(ctx context.Context, q model.NotificationQuery) (bool, error)
}

// Scheduler is the PM/calibration scheduler
type Scheduler struct {
	logger   *zap.Logger
	store    storage.Store
	notifier Notifier
	now      func() time.Time
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a scheduler
func New(logger *zap.Logger, store storage.Store, notifier Notifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:   logger.Named("scheduler"),
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AutoSchedule creates the next due work for every policy of the given
// assets that has no active work. An empty id list schedules every asset.
// Per-asset errors are collected; only ErrStoreUnavailable aborts the run.
func (s *Scheduler) AutoSchedule(ctx context.Context, assetIDs []string) (*model.ScheduleResult, error) {
	result := &model.ScheduleResult{Created: []*model.ScheduledWork{}}

	if len(assetIDs) == 0 {
		assets, err := s.store.ListAssets(ctx, model.AssetFilter{})
		if err != nil {
			return result, fmt.Errorf("failed to list assets: %w", err)
		}
		for _, a := range assets {
			assetIDs = append(assetIDs, a.ID)
		}
	}

	s.logger.Info("Auto-scheduling maintenance", zap.Int("assets", len(assetIDs)))

	for _, assetID := range dedupe(assetIDs) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.scheduleAsset(ctx, assetID, result); err != nil {
			if isFatal(err) {
				s.logger.Error("Auto-schedule aborted",
					zap.String("asset_id", assetID),
					zap.Error(err))
				return result, err
			}
			s.logger.Warn("Failed to schedule asset",
				zap.String("asset_id", assetID),
				zap.Error(err))
			result.Failures = append(result.Failures, model.NewItemFailure(assetID, err))
		}
	}

	s.logger.Info("Auto-schedule finished",
		zap.Int("created", len(result.Created)),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", len(result.Failures)),
		zap.String("outcome", string(result.Outcome())))
	return result, nil
}

func (s *Scheduler) scheduleAsset(ctx context.Context, assetID string, result *model.ScheduleResult) error {
	asset, err := s.store.GetAsset(ctx, assetID)
	if err != nil {
		return err
	}

	policies, err := s.store.ListPolicies(ctx, assetID)
	if err != nil {
		return fmt.Errorf("failed to list policies: %w", err)
	}
	if len(policies) == 0 {
		s.logger.Debug("Asset has no maintenance policy", zap.String("asset_id", assetID))
		return nil
	}

	var policyErrs []error
	for _, policy := range policies {
		due, err := recurrence.NextDueDate(policy.BaseDate(asset), policy.Frequency)
		if err != nil {
			policyErrs = append(policyErrs, fmt.Errorf("policy %s: %w", policy.ID, err))
			continue
		}

		now := s.now().UTC()
		work := &model.ScheduledWork{
			ID:            uuid.New().String(),
			AssetID:       assetID,
			PolicyID:      policy.ID,
			Kind:          policy.Kind,
			ScheduledDate: due,
			Status:        model.WorkStatusScheduled,
			VendorID:      policy.VendorID,
			AssignedTo:    policy.AssignedTo,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		created, err := s.store.CreateWorkIfNoneActive(ctx, work)
		if err != nil {
			return fmt.Errorf("failed to create scheduled work: %w", err)
		}
		if !created {
			result.Skipped++
			continue
		}

		s.logger.Info("Scheduled maintenance",
			zap.String("work_id", work.ID),
			zap.String("asset_id", assetID),
			zap.String("kind", string(work.Kind)),
			zap.Time("due", due))
		result.Created = append(result.Created, work)
	}

	return errors.Join(policyErrs...)
}

// ScheduleSingle manually schedules work for an asset on a given date,
// bypassing recurrence. It fails with ErrDuplicateActiveSchedule when the
// (asset, kind) pair already has active work.
func (s *Scheduler) ScheduleSingle(ctx context.Context, assetID string, kind model.PolicyKind, date time.Time, vendorID string) (*model.ScheduledWork, error) {
	if kind == "" {
		kind = model.PolicyKindPM
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", model.ErrInvalidPolicy, kind)
	}

	if _, err := s.store.GetAsset(ctx, assetID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	work := &model.ScheduledWork{
		ID:            uuid.New().String(),
		AssetID:       assetID,
		Kind:          kind,
		ScheduledDate: date.UTC(),
		Status:        model.WorkStatusScheduled,
		VendorID:      vendorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	policies, err := s.store.ListPolicies(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	for _, p := range policies {
		if p.Kind == kind {
			work.PolicyID = p.ID
			work.AssignedTo = p.AssignedTo
			if vendorID == "" {
				work.VendorID = p.VendorID
			}
		}
	}

	created, err := s.store.CreateWorkIfNoneActive(ctx, work)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduled work: %w", err)
	}
	if !created {
		return nil, fmt.Errorf("%w: asset %s kind %s", model.ErrDuplicateActiveSchedule, assetID, kind)
	}

	s.logger.Info("Manually scheduled maintenance",
		zap.String("work_id", work.ID),
		zap.String("asset_id", assetID),
		zap.String("kind", string(kind)),
		zap.Time("due", work.ScheduledDate))
	return work, nil
}

// Complete marks active work completed and records the performed date on
// its policy so the next auto-schedule recurs from it.
func (s *Scheduler) Complete(ctx context.Context, workID string, performedAt time.Time) (*model.ScheduledWork, error) {
	work, err := s.transition(ctx, workID, model.WorkStatusCompleted, func(st model.WorkStatus) bool {
		return st.Active()
	})
	if err != nil {
		return nil, err
	}

	if work.PolicyID != "" {
		if err := s.store.MarkPolicyPerformed(ctx, work.PolicyID, performedAt.UTC()); err != nil {
			return work, fmt.Errorf("failed to record policy completion: %w", err)
		}
	}

	s.logger.Info("Maintenance completed",
		zap.String("work_id", workID),
		zap.String("asset_id", work.AssetID),
		zap.Time("performed_at", performedAt))
	return work, nil
}

// Cancel marks active work cancelled
func (s *Scheduler) Cancel(ctx context.Context, workID string) (*model.ScheduledWork, error) {
	work, err := s.transition(ctx, workID, model.WorkStatusCancelled, func(st model.WorkStatus) bool {
		return st.Active()
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Maintenance cancelled",
		zap.String("work_id", workID),
		zap.String("asset_id", work.AssetID))
	return work, nil
}

// StartWork moves scheduled or overdue work in progress. Work in progress
// is not escalated.
func (s *Scheduler) StartWork(ctx context.Context, workID string) (*model.ScheduledWork, error) {
	return s.transition(ctx, workID, model.WorkStatusInProgress, func(st model.WorkStatus) bool {
		return st == model.WorkStatusScheduled || st == model.WorkStatusOverdue
	})
}

// transition applies a status change through conditional writes, re-reading
// the work when a concurrent writer got there first.
func (s *Scheduler) transition(ctx context.Context, workID string, to model.WorkStatus, allowed func(model.WorkStatus) bool) (*model.ScheduledWork, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		work, err := s.store.GetWork(ctx, workID)
		if err != nil {
			return nil, err
		}
		if !allowed(work.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, work.Status, to)
		}

		from := work.State()
		next := model.WorkState{Status: to, EscalationLevel: work.EscalationLevel}
		at := s.now().UTC()
		ok, err := s.store.TransitionWork(ctx, workID, from, next, at)
		if err != nil {
			return nil, fmt.Errorf("failed to update scheduled work: %w", err)
		}
		if ok {
			work.Status = to
			work.UpdatedAt = at
			if to == model.WorkStatusCompleted {
				work.CompletedAt = &at
			}
			return work, nil
		}

		s.logger.Debug("Scheduled work changed concurrently, retrying",
			zap.String("work_id", workID),
			zap.Int("attempt", attempt+1))
	}
	return nil, fmt.Errorf("%w: work %s", ErrConcurrentUpdate, workID)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func isFatal(err error) bool {
	return errors.Is(err, model.ErrStoreUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
