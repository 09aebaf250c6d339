package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/t77yq/biomed-maint/internal/model"
)

// MemoryStore implements Store in process memory. A single mutex serializes
// every write, which makes each conditional write atomic.
type MemoryStore struct {
	mu            sync.RWMutex
	assets        map[string]*model.Asset
	users         map[string]*model.User
	policies      map[string]*model.MaintenancePolicy
	rules         map[string]*model.EscalationRule
	work          map[string]*model.ScheduledWork
	notifications []*model.Notification
	jobRuns       *MemoryJobRunHistory
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets:   make(map[string]*model.Asset),
		users:    make(map[string]*model.User),
		policies: make(map[string]*model.MaintenancePolicy),
		rules:    make(map[string]*model.EscalationRule),
		work:     make(map[string]*model.ScheduledWork),
		jobRuns:  NewMemoryJobRunHistory(),
	}
}

// JobRuns implements Store.JobRuns
func (s *MemoryStore) JobRuns() JobRunHistory {
	return s.jobRuns
}

// Close implements Store.Close
func (s *MemoryStore) Close() error {
	return nil
}

func copyAsset(a *model.Asset) *model.Asset {
	cp := *a
	if a.LastServiceDate != nil {
		t := *a.LastServiceDate
		cp.LastServiceDate = &t
	}
	return &cp
}

func copyPolicy(p *model.MaintenancePolicy) *model.MaintenancePolicy {
	cp := *p
	if p.LastPerformedAt != nil {
		t := *p.LastPerformedAt
		cp.LastPerformedAt = &t
	}
	return &cp
}

func copyRule(r *model.EscalationRule) *model.EscalationRule {
	cp := *r
	cp.Targets = append([]model.Target(nil), r.Targets...)
	return &cp
}

func copyWork(w *model.ScheduledWork) *model.ScheduledWork {
	cp := *w
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func copyNotification(n *model.Notification) *model.Notification {
	cp := *n
	cp.EmailRecipients = append([]string(nil), n.EmailRecipients...)
	return &cp
}

// GetAsset implements AssetDirectory.GetAsset
func (s *MemoryStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrAssetNotFound, id)
	}
	return copyAsset(a), nil
}

// ListAssets implements AssetDirectory.ListAssets
func (s *MemoryStore) ListAssets(ctx context.Context, filter model.AssetFilter) ([]*model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]bool, len(filter.IDs))
	for _, id := range filter.IDs {
		wanted[id] = true
	}

	var assets []*model.Asset
	for _, a := range s.assets {
		if len(wanted) > 0 && !wanted[a.ID] {
			continue
		}
		if filter.Department != "" && a.Department != filter.Department {
			continue
		}
		assets = append(assets, copyAsset(a))
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].ID < assets[j].ID })
	return paginate(assets, filter.Offset, filter.Limit), nil
}

// SaveAsset implements AssetDirectory.SaveAsset
func (s *MemoryStore) SaveAsset(ctx context.Context, a *model.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	s.assets[a.ID] = copyAsset(a)
	return nil
}

// GetUser implements UserDirectory.GetUser
func (s *MemoryStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	cp.Roles = append([]string(nil), u.Roles...)
	return &cp, nil
}

// UsersWithRole implements UserDirectory.UsersWithRole
func (s *MemoryStore) UsersWithRole(ctx context.Context, role string) ([]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var users []*model.User
	for _, u := range s.users {
		for _, r := range u.Roles {
			if r == role {
				cp := *u
				cp.Roles = nil
				users = append(users, &cp)
				break
			}
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// SaveUser implements UserDirectory.SaveUser
func (s *MemoryStore) SaveUser(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	cp.Roles = append([]string(nil), u.Roles...)
	s.users[u.ID] = &cp
	return nil
}

// ListPolicies implements PolicyStore.ListPolicies
func (s *MemoryStore) ListPolicies(ctx context.Context, assetID string) ([]*model.MaintenancePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var policies []*model.MaintenancePolicy
	for _, p := range s.policies {
		if p.AssetID == assetID {
			policies = append(policies, copyPolicy(p))
		}
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Kind < policies[j].Kind })
	return policies, nil
}

// GetPolicy implements PolicyStore.GetPolicy
func (s *MemoryStore) GetPolicy(ctx context.Context, id string) (*model.MaintenancePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, nil
	}
	return copyPolicy(p), nil
}

// SavePolicy implements PolicyStore.SavePolicy
func (s *MemoryStore) SavePolicy(ctx context.Context, p *model.MaintenancePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.policies {
		if id != p.ID && existing.AssetID == p.AssetID && existing.Kind == p.Kind {
			delete(s.policies, id)
		}
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.policies[p.ID] = copyPolicy(p)
	return nil
}

// MarkPolicyPerformed implements PolicyStore.MarkPolicyPerformed
func (s *MemoryStore) MarkPolicyPerformed(ctx context.Context, policyID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.policies[policyID]; ok {
		t := at
		p.LastPerformedAt = &t
		p.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// ListEscalationRules implements PolicyStore.ListEscalationRules
func (s *MemoryStore) ListEscalationRules(ctx context.Context, entityType string) ([]*model.EscalationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rules []*model.EscalationRule
	for _, r := range s.rules {
		if entityType == "" || r.EntityType == entityType {
			rules = append(rules, copyRule(r))
		}
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].EntityType != rules[j].EntityType {
			return rules[i].EntityType < rules[j].EntityType
		}
		if rules[i].Threshold != rules[j].Threshold {
			return rules[i].Threshold < rules[j].Threshold
		}
		return rules[i].ID < rules[j].ID
	})
	return rules, nil
}

// SaveEscalationRule implements PolicyStore.SaveEscalationRule
func (s *MemoryStore) SaveEscalationRule(ctx context.Context, r *model.EscalationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	s.rules[r.ID] = copyRule(r)
	return nil
}

func (s *MemoryStore) activeWorkLocked(assetID string, kind model.PolicyKind) *model.ScheduledWork {
	for _, w := range s.work {
		if w.AssetID == assetID && w.Kind == kind && w.Status.Active() {
			return w
		}
	}
	return nil
}

// CreateWorkIfNoneActive implements WorkStore.CreateWorkIfNoneActive
func (s *MemoryStore) CreateWorkIfNoneActive(ctx context.Context, w *model.ScheduledWork) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeWorkLocked(w.AssetID, w.Kind) != nil {
		return false, nil
	}
	if _, exists := s.work[w.ID]; exists {
		return false, storeErr("create scheduled work", fmt.Errorf("duplicate id %s", w.ID))
	}
	s.work[w.ID] = copyWork(w)
	return true, nil
}

// GetWork implements WorkStore.GetWork
func (s *MemoryStore) GetWork(ctx context.Context, id string) (*model.ScheduledWork, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.work[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrWorkNotFound, id)
	}
	return copyWork(w), nil
}

// FindActiveWork implements WorkStore.FindActiveWork
func (s *MemoryStore) FindActiveWork(ctx context.Context, assetID string, kind model.PolicyKind) (*model.ScheduledWork, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if w := s.activeWorkLocked(assetID, kind); w != nil {
		return copyWork(w), nil
	}
	return nil, nil
}

// ListWork implements WorkStore.ListWork
func (s *MemoryStore) ListWork(ctx context.Context, filter model.WorkFilter) ([]*model.ScheduledWork, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make(map[model.WorkStatus]bool, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses[st] = true
	}

	var works []*model.ScheduledWork
	for _, w := range s.work {
		if filter.AssetID != "" && w.AssetID != filter.AssetID {
			continue
		}
		if filter.Kind != "" && w.Kind != filter.Kind {
			continue
		}
		if len(statuses) > 0 && !statuses[w.Status] {
			continue
		}
		if filter.DueFrom != nil && w.ScheduledDate.Before(*filter.DueFrom) {
			continue
		}
		if filter.DueTo != nil && w.ScheduledDate.After(*filter.DueTo) {
			continue
		}
		works = append(works, copyWork(w))
	}
	sort.Slice(works, func(i, j int) bool {
		if !works[i].ScheduledDate.Equal(works[j].ScheduledDate) {
			return works[i].ScheduledDate.Before(works[j].ScheduledDate)
		}
		return works[i].ID < works[j].ID
	})
	return works, nil
}

// TransitionWork implements WorkStore.TransitionWork
func (s *MemoryStore) TransitionWork(ctx context.Context, id string, from, to model.WorkState, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.work[id]
	if !ok || w.State() != from {
		return false, nil
	}
	w.Status = to.Status
	w.EscalationLevel = to.EscalationLevel
	w.UpdatedAt = at
	if to.Status == model.WorkStatusCompleted {
		t := at
		w.CompletedAt = &t
	}
	return true, nil
}

// InsertNotification implements NotificationStore.InsertNotification
func (s *MemoryStore) InsertNotification(ctx context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, copyNotification(n))
	return nil
}

func (s *MemoryStore) findNotificationLocked(id string) *model.Notification {
	for _, n := range s.notifications {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// GetNotification implements NotificationStore.GetNotification
func (s *MemoryStore) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := s.findNotificationLocked(id)
	if n == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrNotificationNotFound, id)
	}
	return copyNotification(n), nil
}

// MarkNotificationRead implements NotificationStore.MarkNotificationRead
func (s *MemoryStore) MarkNotificationRead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.findNotificationLocked(id)
	if n == nil {
		return fmt.Errorf("%w: %s", model.ErrNotificationNotFound, id)
	}
	n.Read = true
	return nil
}

// MarkAllNotificationsRead implements NotificationStore.MarkAllNotificationsRead
func (s *MemoryStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed int64
	for _, n := range s.notifications {
		if n.UserID == userID && !n.Read {
			n.Read = true
			changed++
		}
	}
	return changed, nil
}

// CountUnread implements NotificationStore.CountUnread
func (s *MemoryStore) CountUnread(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.notifications {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

// ListNotifications implements NotificationStore.ListNotifications
func (s *MemoryStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, offset, limit int) ([]*model.Notification, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Walk backwards so equal timestamps keep newest-inserted first.
	var items []*model.Notification
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		if n.UserID != userID || (unreadOnly && n.Read) {
			continue
		}
		items = append(items, copyNotification(n))
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return paginate(items, offset, limit), len(items), nil
}

// NotificationExists implements NotificationStore.NotificationExists
func (s *MemoryStore) NotificationExists(ctx context.Context, q model.NotificationQuery) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.notifications {
		if q.UserID != "" && n.UserID != q.UserID {
			continue
		}
		if q.Type != "" && n.Type != q.Type {
			continue
		}
		if q.EntityType != "" && n.EntityType != q.EntityType {
			continue
		}
		if q.EntityID != "" && n.EntityID != q.EntityID {
			continue
		}
		return true, nil
	}
	return false, nil
}
