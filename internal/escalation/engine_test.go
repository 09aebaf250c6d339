package escalation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/biomed-maint/internal/model"
	"github.com/t77yq/biomed-maint/internal/notification"
	"github.com/t77yq/biomed-maint/internal/scheduler"
	"github.com/t77yq/biomed-maint/internal/storage"
	"github.com/t77yq/biomed-maint/internal/testutil"
)

const managerRole = "biomed_manager"

func seedDirectory(t *testing.T, store storage.Store) {
	testutil.SeedUsers(t, store,
		&model.User{ID: "u-eng", Name: "Engineer", Email: "eng@example.com", Roles: []string{"engineer"}},
		&model.User{ID: "m-1", Name: "Manager One", Email: "m1@example.com", Roles: []string{managerRole}},
		&model.User{ID: "m-2", Name: "Manager Two", Roles: []string{managerRole}},
		&model.User{ID: "u-dir", Name: "Director", Email: "dir@example.com"},
	)
}

// seedPMRules saves the 7/30/90 days-overdue chain for pm work
func seedPMRules(t *testing.T, store storage.Store) {
	rules := []*model.EscalationRule{
		{ID: "pm-7", Threshold: 7, Targets: []model.Target{{Kind: model.TargetAssignee}, {Kind: model.TargetRole, Value: managerRole}}},
		{ID: "pm-30", Threshold: 30, Targets: []model.Target{{Kind: model.TargetRole, Value: managerRole}, {Kind: model.TargetUser, Value: "m-1"}}},
		{ID: "pm-90", Threshold: 90, NotifyEmail: true, Targets: []model.Target{{Kind: model.TargetUser, Value: "u-dir"}}},
	}
	for _, r := range rules {
		r.EntityType = string(model.PolicyKindPM)
		r.Unit = model.ThresholdDaysOverdue
		require.NoError(t, store.SaveEscalationRule(context.Background(), r))
	}
}

func createWork(t *testing.T, store storage.Store, assetID string, kind model.PolicyKind, due time.Time, assignee, policyID string) *model.ScheduledWork {
	work := &model.ScheduledWork{
		ID:            uuid.New().String(),
		AssetID:       assetID,
		PolicyID:      policyID,
		Kind:          kind,
		ScheduledDate: due,
		Status:        model.WorkStatusScheduled,
		AssignedTo:    assignee,
		CreatedAt:     due,
		UpdatedAt:     due,
	}
	created, err := store.CreateWorkIfNoneActive(context.Background(), work)
	require.NoError(t, err)
	require.True(t, created)
	return work
}

func newTestEngine(t *testing.T, store storage.Store, clock *testutil.Clock) *Engine {
	logger := zaptest.NewLogger(t)
	sink := notification.NewSink(logger, store, notification.WithClock(clock.Now))
	return New(logger, store, sink, WithClock(clock.Now))
}

func escalationsFor(t *testing.T, store storage.Store, userID string) []*model.Notification {
	items, _, err := store.ListNotifications(context.Background(), userID, false, 0, 0)
	require.NoError(t, err)
	var out []*model.Notification
	for _, n := range items {
		if n.Type == model.NotificationEscalation {
			out = append(out, n)
		}
	}
	return out
}

func TestCheckAndEscalate_ScheduleThenEscalateScenario(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedDirectory(t, store)
	seedPMRules(t, store)
	testutil.SeedAsset(t, store, &model.Asset{ID: "vent-1", Name: "Ventilator"},
		testutil.PMPolicy(90, testutil.Date(2025, 1, 1), "u-eng"))

	clock := testutil.NewClock(testutil.Date(2025, 4, 2))
	logger := zaptest.NewLogger(t)
	sink := notification.NewSink(logger, store, notification.WithClock(clock.Now))
	sched := scheduler.New(logger, store, sink, scheduler.WithClock(clock.Now))
	engine := New(logger, store, sink, WithClock(clock.Now))

	scheduled, err := sched.AutoSchedule(ctx, []string{"vent-1"})
	require.NoError(t, err)
	require.Len(t, scheduled.Created, 1)
	work := scheduled.Created[0]
	assert.True(t, testutil.Date(2025, 4, 1).Equal(work.ScheduledDate))

	clock.Set(testutil.Date(2025, 4, 10))
	result, err := engine.CheckAndEscalate(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSuccess, result.Outcome())
	assert.Equal(t, 1, result.NowOverdue)
	require.Len(t, result.Events, 1)

	event := result.Events[0]
	assert.Equal(t, work.ID, event.WorkID)
	assert.Equal(t, "pm-7", event.RuleID)
	assert.Equal(t, 1, event.Level)
	assert.Equal(t, 9.0, event.OverdueAmount)
	assert.Len(t, event.NotificationIDs, 3)

	stored, err := store.GetWork(ctx, work.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkStatusOverdue, stored.Status)
	assert.Equal(t, 1, stored.EscalationLevel)

	for _, user := range []string{"u-eng", "m-1", "m-2"} {
		got := escalationsFor(t, store, user)
		require.Len(t, got, 1, user)
		assert.Equal(t, work.ID, got[0].EntityID)
		assert.Equal(t, "pm", got[0].EntityType)
		assert.Contains(t, got[0].Title, "Ventilator")
		assert.Empty(t, got[0].EmailRecipients)
	}
	assert.Empty(t, escalationsFor(t, store, "u-dir"))
}

func TestCheckAndEscalate_FiresEveryCrossedThresholdInOrder(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedDirectory(t, store)
	seedPMRules(t, store)
	work := createWork(t, store, "infusion-3", model.PolicyKindPM, testutil.Date(2025, 1, 1), "u-eng", "")

	// 95 days overdue on the first run.
	clock := testutil.NewClock(testutil.Date(2025, 4, 6))
	engine := newTestEngine(t, store, clock)

	result, err := engine.CheckAndEscalate(ctx)
	require.NoError(t, err)
	require.Len(t, result.Events, 3)
	for i, event := range result.Events {
		assert.Equal(t, i+1, event.Level)
		assert.Equal(t, 95.0, event.OverdueAmount)
	}
	assert.Equal(t, []string{"pm-7", "pm-30", "pm-90"},
		[]string{result.Events[0].RuleID, result.Events[1].RuleID, result.Events[2].RuleID})
	assert.Len(t, result.Events[0].NotificationIDs, 3)
	// m-1 appears twice in the level-2 chain but is notified once.
	assert.Len(t, result.Events[1].NotificationIDs, 2)
	assert.Len(t, result.Events[2].NotificationIDs, 1)

	director := escalationsFor(t, store, "u-dir")
	require.Len(t, director, 1)
	assert.Equal(t, []string{"dir@example.com"}, director[0].EmailRecipients)

	stored, err := store.GetWork(ctx, work.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.EscalationLevel)

	clock.Advance(30 * 24 * time.Hour)
	again, err := engine.CheckAndEscalate(ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Events)
	assert.Len(t, escalationsFor(t, store, "m-1"), 2)
}

func TestCheckAndEscalate_IdempotentAcrossRuns(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedDirectory(t, store)
	seedPMRules(t, store)
	work := createWork(t, store, "a", model.PolicyKindPM, testutil.Date(2025, 3, 1), "u-eng", "")

	clock := testutil.NewClock(testutil.Date(2025, 3, 1))
	engine := newTestEngine(t, store, clock)

	levels := map[int]int{}
	for day := 0; day < 120; day++ {
		result, err := engine.CheckAndEscalate(ctx)
		require.NoError(t, err)
		for _, event := range result.Events {
			levels[event.Level]++
		}
		clock.Advance(24 * time.Hour)
	}

	assert.Equal(t, map[int]int{1: 1, 2: 1, 3: 1}, levels)

	stored, err := store.GetWork(ctx, work.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.EscalationLevel)
	assert.Len(t, escalationsFor(t, store, "u-eng"), 1)
	assert.Len(t, escalationsFor(t, store, "m-2"), 2)
}

func TestCheckAndEscalate_ConcurrentRunsNeverDoubleFire(t *testing.T) {
	backends := map[string]func(t *testing.T) storage.Store{
		"memory": func(t *testing.T) storage.Store { return storage.NewMemoryStore() },
		"sqlite": func(t *testing.T) storage.Store {
			store, err := storage.NewSQLiteStore(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "esc.db"), storage.SQLiteOptions{})
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })
			return store
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			seedDirectory(t, store)
			seedPMRules(t, store)

			const items = 10
			for i := 0; i < items; i++ {
				createWork(t, store, fmt.Sprintf("asset-%d", i), model.PolicyKindPM, testutil.Date(2025, 1, 1), "u-eng", "")
			}

			clock := testutil.NewClock(testutil.Date(2025, 4, 6))

			const runners = 6
			var wg sync.WaitGroup
			var mu sync.Mutex
			events := 0
			for i := 0; i < runners; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					result, err := newTestEngine(t, store, clock).CheckAndEscalate(ctx)
					assert.NoError(t, err)
					mu.Lock()
					events += len(result.Events)
					mu.Unlock()
				}()
			}
			wg.Wait()

			assert.Equal(t, items*3, events)
			assert.Len(t, escalationsFor(t, store, "u-eng"), items)
			assert.Len(t, escalationsFor(t, store, "m-1"), items*2)
			assert.Len(t, escalationsFor(t, store, "u-dir"), items)
		})
	}
}

func TestCheckAndEscalate_UnknownEntityTypeIsSkipped(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedDirectory(t, store)
	seedPMRules(t, store)
	cal := createWork(t, store, "scale-1", model.PolicyKindCalibration, testutil.Date(2025, 3, 1), "u-eng", "")
	pm := createWork(t, store, "scale-1", model.PolicyKindPM, testutil.Date(2025, 3, 1), "u-eng", "")

	engine := newTestEngine(t, store, testutil.NewClock(testutil.Date(2025, 3, 11)))
	result, err := engine.CheckAndEscalate(ctx)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomePartial, result.Outcome())
	require.Len(t, result.Failures, 1)
	assert.Equal(t, cal.ID, result.Failures[0].ID)
	assert.ErrorIs(t, result.Failures[0].Err, model.ErrRuleNotFound)
	require.Len(t, result.Events, 1)
	assert.Equal(t, pm.ID, result.Events[0].WorkID)

	// The calibration item is still recorded as overdue.
	stored, err := store.GetWork(ctx, cal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkStatusOverdue, stored.Status)
	assert.Equal(t, 0, stored.EscalationLevel)
}

func TestCheckAndEscalate_SkipsNotYetDueAndInProgress(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedDirectory(t, store)
	seedPMRules(t, store)
	today := createWork(t, store, "due-today", model.PolicyKindPM, testutil.Date(2025, 4, 10), "u-eng", "")
	future := createWork(t, store, "future", model.PolicyKindPM, testutil.Date(2025, 5, 1), "u-eng", "")
	busy := createWork(t, store, "busy", model.PolicyKindPM, testutil.Date(2025, 1, 1), "u-eng", "")

	ok, err := store.TransitionWork(ctx, busy.ID, busy.State(),
		model.WorkState{Status: model.WorkStatusInProgress}, testutil.Date(2025, 1, 2))
	require.NoError(t, err)
	require.True(t, ok)

	result, err := newTestEngine(t, store, testutil.NewClock(testutil.Date(2025, 4, 10))).CheckAndEscalate(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Events)
	assert.Zero(t, result.NowOverdue)
	assert.Equal(t, 1, result.Scanned)

	for _, id := range []string{today.ID, future.ID} {
		w, err := store.GetWork(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.WorkStatusScheduled, w.Status)
	}
}

func TestCheckAndEscalate_PercentOfInterval(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedDirectory(t, store)
	require.NoError(t, store.SaveEscalationRule(ctx, &model.EscalationRule{
		ID:         "cal-10pct",
		EntityType: string(model.PolicyKindCalibration),
		Threshold:  10,
		Unit:       model.ThresholdPercentInterval,
		Targets:    []model.Target{{Kind: model.TargetAssignee}},
	}))
	testutil.SeedAsset(t, store, &model.Asset{ID: "scale"}, &model.MaintenancePolicy{
		ID:        "scale-cal",
		Kind:      model.PolicyKindCalibration,
		Frequency: model.Frequency{Count: 30, Unit: model.FrequencyDays},
	})
	work := createWork(t, store, "scale", model.PolicyKindCalibration, testutil.Date(2025, 4, 1), "u-eng", "scale-cal")

	clock := testutil.NewClock(testutil.Date(2025, 4, 3))
	engine := newTestEngine(t, store, clock)

	result, err := engine.CheckAndEscalate(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Events, "2 of 30 days is below the threshold")
	assert.Equal(t, 1, result.NowOverdue)

	clock.Set(testutil.Date(2025, 4, 4))
	result, err = engine.CheckAndEscalate(ctx)
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, work.ID, result.Events[0].WorkID)
	assert.InDelta(t, 10.0, result.Events[0].OverdueAmount, 1e-9)
}

type failingNotifier struct{}

func (failingNotifier) Create(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	return nil, fmt.Errorf("failed to create notification: %w",
		&storage.StoreError{Op: "insert notification", Err: errors.New("disk full")})
}

func TestCheckAndEscalate_NotificationStoreFailureReleasesLevel(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedDirectory(t, store)
	seedPMRules(t, store)
	work := createWork(t, store, "a", model.PolicyKindPM, testutil.Date(2025, 1, 1), "u-eng", "")

	clock := testutil.NewClock(testutil.Date(2025, 1, 10))
	engine := New(zaptest.NewLogger(t), store, failingNotifier{}, WithClock(clock.Now))

	_, err := engine.CheckAndEscalate(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)

	stored, err := store.GetWork(ctx, work.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkStatusOverdue, stored.Status)
	assert.Equal(t, 0, stored.EscalationLevel, "claimed level is given back")

	// A healthy run picks the level up again.
	result, err := newTestEngine(t, store, clock).CheckAndEscalate(ctx)
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, 1, result.Events[0].Level)
}

// cancelingNotifier cancels the run context on its first call, the way a
// trigger timeout lands mid-dispatch
type cancelingNotifier struct {
	cancel context.CancelFunc
}

func (n cancelingNotifier) Create(ctx context.Context, _ *model.Notification) (*model.Notification, error) {
	n.cancel()
	return nil, ctx.Err()
}

func TestCheckAndEscalate_CancelledDispatchReleasesLevel(t *testing.T) {
	store, err := storage.NewSQLiteStore(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "esc.db"), storage.SQLiteOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	seedDirectory(t, store)
	seedPMRules(t, store)
	work := createWork(t, store, "a", model.PolicyKindPM, testutil.Date(2025, 1, 1), "u-eng", "")
	clock := testutil.NewClock(testutil.Date(2025, 1, 10))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine := New(zaptest.NewLogger(t), store, cancelingNotifier{cancel: cancel}, WithClock(clock.Now))

	_, err = engine.CheckAndEscalate(ctx)
	require.ErrorIs(t, err, context.Canceled)

	stored, err := store.GetWork(context.Background(), work.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkStatusOverdue, stored.Status)
	assert.Equal(t, 0, stored.EscalationLevel, "claimed level is given back")
	assert.Empty(t, escalationsFor(t, store, "u-eng"))

	result, err := newTestEngine(t, store, clock).CheckAndEscalate(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, 1, result.Events[0].Level)
	assert.Len(t, escalationsFor(t, store, "u-eng"), 1)
}

func TestDaysOverdue(t *testing.T) {
	due := testutil.Date(2025, 4, 1)
	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"before due", testutil.Date(2025, 3, 31), 0},
		{"on due date", due, 0},
		{"same day later", due.Add(23 * time.Hour), 0},
		{"one day", testutil.Date(2025, 4, 2), 1},
		{"nine days", testutil.Date(2025, 4, 10), 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DaysOverdue(due, tt.now))
		})
	}
}

func TestPercentOfInterval(t *testing.T) {
	assert.Equal(t, 50.0, PercentOfInterval(45, 90))
	assert.Equal(t, 0.0, PercentOfInterval(10, 0))
}
