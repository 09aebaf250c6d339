package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/t77yq/biomed-maint/internal/model"
	"github.com/t77yq/biomed-maint/internal/storage"
)

// Date returns midnight UTC of the given day
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Clock is a settable time source for tests
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock stopped at now
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current test time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SeedAsset saves an asset and its policies
func SeedAsset(t *testing.T, store storage.Store, asset *model.Asset, policies ...*model.MaintenancePolicy) {
	t.Helper()
	ctx := context.Background()

	if asset.Name == "" {
		asset.Name = "Asset " + asset.ID
	}
	require.NoError(t, store.SaveAsset(ctx, asset))
	for _, p := range policies {
		p.AssetID = asset.ID
		if p.ID == "" {
			p.ID = asset.ID + "-" + string(p.Kind)
		}
		require.NoError(t, store.SavePolicy(ctx, p))
	}
}

// PMPolicy returns a PM policy recurring every n days from lastPerformed
func PMPolicy(days int, lastPerformed time.Time, assignee string) *model.MaintenancePolicy {
	return &model.MaintenancePolicy{
		Kind:            model.PolicyKindPM,
		Frequency:       model.Frequency{Count: days, Unit: model.FrequencyDays},
		AssignedTo:      assignee,
		LastPerformedAt: &lastPerformed,
		CreatedAt:       lastPerformed,
	}
}

// SeedUsers saves users
func SeedUsers(t *testing.T, store storage.Store, users ...*model.User) {
	t.Helper()
	for _, u := range users {
		require.NoError(t, store.SaveUser(context.Background(), u))
	}
}
