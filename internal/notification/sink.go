// Package notification persists user-facing notifications and hands them
// to delivery transports. Persistence is the contract; delivery is best-effort.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/biomed-maint/internal/model"
	"github.com/t77yq/biomed-maint/internal/storage"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Sink creates notifications and tracks their read state. It does not
// deduplicate; callers decide whether an event was already notified.
type Sink struct {
	logger    *zap.Logger
	store     storage.NotificationStore
	transport Transport
	now       func() time.Time
}

// Option configures a Sink
type Option func(*Sink)

// WithTransport sets the delivery transport used after persistence
func WithTransport(t Transport) Option {
	return func(s *Sink) {
		s.transport = t
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Sink) {
		s.now = now
	}
}

// NewSink creates a notification sink
func NewSink(logger *zap.Logger, store storage.NotificationStore, opts ...Option) *Sink {
	s := &Sink{
		logger: logger.Named("notification"),
		store:  store,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create assigns an id and timestamp, persists the notification and then
// attempts delivery. Only a persistence failure is returned.
func (s *Sink) Create(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	created := *n
	created.ID = uuid.New().String()
	created.CreatedAt = s.now().UTC()
	created.Read = false
	created.EmailRecipients = append([]string(nil), n.EmailRecipients...)

	if err := s.store.InsertNotification(ctx, &created); err != nil {
		s.logger.Error("Failed to persist notification",
			zap.String("user_id", created.UserID),
			zap.String("type", string(created.Type)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	s.logger.Debug("Notification created",
		zap.String("notification_id", created.ID),
		zap.String("user_id", created.UserID),
		zap.String("type", string(created.Type)))

	if s.transport != nil {
		if err := s.transport.Send(ctx, &created); err != nil {
			s.logger.Warn("Notification delivery failed",
				zap.String("notification_id", created.ID),
				zap.String("transport", s.transport.Name()),
				zap.Error(err))
		}
	}

	return &created, nil
}

// Exists reports whether a matching notification was already recorded
func (s *Sink) Exists(ctx context.Context, q model.NotificationQuery) (bool, error) {
	exists, err := s.store.NotificationExists(ctx, q)
	if err != nil {
		return false, fmt.Errorf("failed to query notifications: %w", err)
	}
	return exists, nil
}

// MarkAsRead marks one notification read. Marking it again is a no-op.
func (s *Sink) MarkAsRead(ctx context.Context, id string) error {
	if err := s.store.MarkNotificationRead(ctx, id); err != nil {
		return fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	return nil
}

// MarkAllAsRead marks every unread notification of a user read and reports
// how many changed.
func (s *Sink) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	changed, err := s.store.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	if changed > 0 {
		s.logger.Debug("Notifications marked read",
			zap.String("user_id", userID),
			zap.Int64("count", changed))
	}
	return changed, nil
}

// UnreadCount returns the number of unread notifications of a user
func (s *Sink) UnreadCount(ctx context.Context, userID string) (int, error) {
	count, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// ListForUser returns a 1-based page of a user's notifications, newest first
func (s *Sink) ListForUser(ctx context.Context, userID string, page, pageSize int, unreadOnly bool) (*model.NotificationPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	items, total, err := s.store.ListNotifications(ctx, userID, unreadOnly, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	if items == nil {
		items = []*model.Notification{}
	}

	return &model.NotificationPage{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}
