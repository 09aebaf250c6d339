// Package storage holds the persistence boundary of the maintenance core.
// One Store is opened at process start, passed explicitly into every
// component, and closed at shutdown.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/t77yq/biomed-maint/internal/model"
)

// AssetDirectory provides read access to asset identity and cost fields
type AssetDirectory interface {
	// GetAsset returns model.ErrAssetNotFound for unknown ids
	GetAsset(ctx context.Context, id string) (*model.Asset, error)

	// ListAssets lists assets matching the filter, ordered by id
	ListAssets(ctx context.Context, filter model.AssetFilter) ([]*model.Asset, error)

	// SaveAsset inserts or replaces an asset
	SaveAsset(ctx context.Context, asset *model.Asset) error
}

// UserDirectory resolves notification recipients
type UserDirectory interface {
	// GetUser returns nil when the user is unknown
	GetUser(ctx context.Context, id string) (*model.User, error)
	UsersWithRole(ctx context.Context, role string) ([]*model.User, error)
	SaveUser(ctx context.Context, user *model.User) error
}

// PolicyStore holds maintenance policies and escalation rules
type PolicyStore interface {
	// ListPolicies returns every policy of an asset
	ListPolicies(ctx context.Context, assetID string) ([]*model.MaintenancePolicy, error)

	// GetPolicy returns nil when the policy is unknown
	GetPolicy(ctx context.Context, id string) (*model.MaintenancePolicy, error)

	// SavePolicy inserts or replaces a policy
	SavePolicy(ctx context.Context, policy *model.MaintenancePolicy) error

	// MarkPolicyPerformed records when the policy's work was last done
	MarkPolicyPerformed(ctx context.Context, policyID string, at time.Time) error

	// ListEscalationRules returns the rules for an entity type ordered by
	// ascending threshold. An empty entity type lists every rule.
	ListEscalationRules(ctx context.Context, entityType string) ([]*model.EscalationRule, error)

	// SaveEscalationRule inserts or replaces a rule
	SaveEscalationRule(ctx context.Context, rule *model.EscalationRule) error
}

// WorkStore holds scheduled work. Status and escalation level only change
// through conditional writes.
type WorkStore interface {
	// CreateWorkIfNoneActive inserts work unless the (asset, kind) pair
	// already has active work. It reports whether the row was inserted.
	CreateWorkIfNoneActive(ctx context.Context, work *model.ScheduledWork) (bool, error)

	// GetWork returns model.ErrWorkNotFound for unknown ids
	GetWork(ctx context.Context, id string) (*model.ScheduledWork, error)

	// FindActiveWork returns the active work for (asset, kind), or nil
	FindActiveWork(ctx context.Context, assetID string, kind model.PolicyKind) (*model.ScheduledWork, error)

	// ListWork lists work matching the filter ordered by scheduled date
	ListWork(ctx context.Context, filter model.WorkFilter) ([]*model.ScheduledWork, error)

	// TransitionWork moves work from one state to another only if it is
	// still in the expected state. It reports whether the write happened.
	TransitionWork(ctx context.Context, id string, from, to model.WorkState, at time.Time) (bool, error)
}

// NotificationStore is simple CRUD over notifications
type NotificationStore interface {
	InsertNotification(ctx context.Context, n *model.Notification) error
	GetNotification(ctx context.Context, id string) (*model.Notification, error)

	// MarkNotificationRead returns model.ErrNotificationNotFound for unknown ids
	MarkNotificationRead(ctx context.Context, id string) error

	// MarkAllNotificationsRead reports how many notifications changed
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)

	CountUnread(ctx context.Context, userID string) (int, error)

	// ListNotifications returns one page newest first plus the total count
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, offset, limit int) ([]*model.Notification, int, error)

	// NotificationExists reports whether any notification matches the query
	NotificationExists(ctx context.Context, q model.NotificationQuery) (bool, error)
}

// Store is the full persistence handle passed into every component
type Store interface {
	AssetDirectory
	UserDirectory
	PolicyStore
	WorkStore
	NotificationStore

	// JobRuns returns the job-run history sharing this store's backend
	JobRuns() JobRunHistory

	Close() error
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// StoreError wraps a backend failure. It matches model.ErrStoreUnavailable
// under errors.Is.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is makes every StoreError match model.ErrStoreUnavailable.
func (e *StoreError) Is(target error) bool {
	return target == model.ErrStoreUnavailable
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
