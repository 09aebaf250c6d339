package trigger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/biomed-maint/internal/lifecycle"
	"github.com/t77yq/biomed-maint/internal/model"
	"github.com/t77yq/biomed-maint/internal/notification"
	"github.com/t77yq/biomed-maint/internal/scheduler"
	"github.com/t77yq/biomed-maint/internal/storage"
	"github.com/t77yq/biomed-maint/internal/testutil"
)

func TestRunNow_RecordsRun(t *testing.T) {
	ctx := context.Background()
	history := storage.NewMemoryJobRunHistory()
	r := NewRunner(zaptest.NewLogger(t), history, time.Minute)

	r.Register("count", func(ctx context.Context) (Report, error) {
		return Report{Processed: 5, Failed: 2}, nil
	})

	run, err := r.RunNow(ctx, "count")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomePartial, run.Outcome)

	stored, err := history.Get(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "count", stored.Job)
	assert.Equal(t, 5, stored.Processed)
	assert.Equal(t, 2, stored.Failed)
	assert.NotNil(t, stored.CompletedAt)
}

func TestRunNow_ErrorMarksFailed(t *testing.T) {
	ctx := context.Background()
	history := storage.NewMemoryJobRunHistory()
	r := NewRunner(zaptest.NewLogger(t), history, 0)

	r.Register("broken", func(ctx context.Context) (Report, error) {
		return Report{Outcome: model.OutcomeSuccess}, errors.New("store unavailable")
	})

	run, err := r.RunNow(ctx, "broken")
	require.Error(t, err)
	assert.Equal(t, model.OutcomeFailed, run.Outcome)
	assert.Equal(t, "store unavailable", run.Error)

	runs, err := history.List(ctx, storage.JobRunFilter{Outcome: model.OutcomeFailed}, 0, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRunNow_AppliesTimeout(t *testing.T) {
	r := NewRunner(zaptest.NewLogger(t), storage.NewMemoryJobRunHistory(), 10*time.Millisecond)
	r.Register("slow", func(ctx context.Context) (Report, error) {
		<-ctx.Done()
		return Report{}, ctx.Err()
	})

	_, err := r.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunNow_UnknownJob(t *testing.T) {
	r := NewRunner(zaptest.NewLogger(t), storage.NewMemoryJobRunHistory(), 0)
	_, err := r.RunNow(context.Background(), "missing")
	assert.Error(t, err)
}

func TestAddJob(t *testing.T) {
	r := NewRunner(zaptest.NewLogger(t), storage.NewMemoryJobRunHistory(), 0)
	noop := func(ctx context.Context) (Report, error) { return Report{}, nil }

	require.NoError(t, r.AddJob("hourly", "0 * * * *", noop))
	require.NoError(t, r.AddJob("with-seconds", "*/30 * * * * *", noop))
	require.NoError(t, r.AddJob("disabled", "", noop))
	assert.Error(t, r.AddJob("bad", "not a cron", noop))

	schedules := r.Schedules()
	require.Len(t, schedules, 2)
	assert.Equal(t, "hourly", schedules[0].Name)
	require.NotNil(t, schedules[0].NextRunTime)
	assert.Equal(t, 0, schedules[0].NextRunTime.Minute())
	assert.Equal(t, "with-seconds", schedules[1].Name)

	_, err := r.RunNow(context.Background(), "disabled")
	assert.NoError(t, err)

	require.NoError(t, r.RemoveJob("hourly"))
	assert.Len(t, r.Schedules(), 1)
	assert.Error(t, r.RemoveJob("hourly"))
}

func TestStart_FiresScheduledJob(t *testing.T) {
	history := storage.NewMemoryJobRunHistory()
	r := NewRunner(zaptest.NewLogger(t), history, 0)

	var calls atomic.Int32
	require.NoError(t, r.AddJob("tick", "* * * * * *", func(ctx context.Context) (Report, error) {
		calls.Add(1)
		return Report{Processed: 1}, nil
	}))

	r.Start(context.Background())
	defer r.Stop()

	require.Eventually(t, func() bool { return calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		runs, err := history.List(context.Background(), storage.JobRunFilter{Job: "tick"}, 0, 0)
		return err == nil && len(runs) > 0 && runs[len(runs)-1].CompletedAt != nil
	}, 3*time.Second, 50*time.Millisecond)
}

func TestShutdown(t *testing.T) {
	// startedJob schedules a job every second that signals started and then
	// runs body
	startedJob := func(t *testing.T, body func(ctx context.Context) error) (*Runner, <-chan struct{}) {
		r := NewRunner(zaptest.NewLogger(t), storage.NewMemoryJobRunHistory(), 0)
		started := make(chan struct{})
		var once sync.Once
		require.NoError(t, r.AddJob("slow", "* * * * * *", func(ctx context.Context) (Report, error) {
			once.Do(func() { close(started) })
			return Report{}, body(ctx)
		}))
		return r, started
	}

	t.Run("running job finishes", func(t *testing.T) {
		var finished atomic.Bool
		r, started := startedJob(t, func(ctx context.Context) error {
			select {
			case <-time.After(200 * time.Millisecond):
				finished.Store(true)
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		r.Start(ctx)
		<-started

		assert.True(t, r.Shutdown(5*time.Second, cancel))
		assert.True(t, finished.Load())
		assert.NoError(t, ctx.Err(), "job context stays live while jobs finish")
	})

	t.Run("timeout cancels jobs", func(t *testing.T) {
		aborted := make(chan struct{})
		r, started := startedJob(t, func(ctx context.Context) error {
			<-ctx.Done()
			close(aborted)
			return ctx.Err()
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		r.Start(ctx)
		<-started

		assert.False(t, r.Shutdown(50*time.Millisecond, cancel))
		select {
		case <-aborted:
		case <-time.After(3 * time.Second):
			t.Fatal("job was not cancelled")
		}
	})
}

func TestAutoScheduleJob_Report(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	logger := zaptest.NewLogger(t)
	clock := testutil.NewClock(testutil.Date(2025, 4, 2))

	testutil.SeedAsset(t, store, &model.Asset{ID: "vent-1"},
		testutil.PMPolicy(90, testutil.Date(2025, 1, 1), "u-1"))
	testutil.SeedAsset(t, store, &model.Asset{ID: "pump-1"})

	sink := notification.NewSink(logger, store, notification.WithClock(clock.Now))
	s := scheduler.New(logger, store, sink, scheduler.WithClock(clock.Now))

	r := NewRunner(logger, store.JobRuns(), 0)
	r.Register(JobAutoSchedule, AutoScheduleJob(s))

	run, err := r.RunNow(ctx, JobAutoSchedule)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSuccess, run.Outcome)
	assert.Equal(t, 1, run.Processed)
	assert.Equal(t, 0, run.Failed)

	// second run finds the active work and skips it
	run, err = r.RunNow(ctx, JobAutoSchedule)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSuccess, run.Outcome)
	assert.Equal(t, 1, run.Processed)
}

// rejectingNotifier fails every end-of-life notification
type rejectingNotifier struct{}

func (rejectingNotifier) Create(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	return nil, errors.New("mail relay refused")
}

func (rejectingNotifier) Exists(ctx context.Context, q model.NotificationQuery) (bool, error) {
	return false, nil
}

func TestLifecycleJob_Report(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	logger := zaptest.NewLogger(t)
	now := testutil.Date(2025, 6, 1)

	testutil.SeedUsers(t, store, &model.User{ID: "m-1", Roles: []string{"biomed_manager"}})
	testutil.SeedAsset(t, store, &model.Asset{ID: "pump-1", InstallDate: now.AddDate(-10, 0, 0),
		ReplacementCost: 1000, ServiceCost: 900, DowntimeHours: 300, UtilizationPct: 5})
	testutil.SeedAsset(t, store, &model.Asset{ID: "monitor-1", InstallDate: now.AddDate(-1, 0, 0),
		ReplacementCost: 8000, ServiceCost: 100, DowntimeHours: 2, UtilizationPct: 90})

	scorer := lifecycle.NewScorer(logger, store, rejectingNotifier{}, lifecycle.DefaultConfig(),
		lifecycle.WithClock(testutil.NewClock(now).Now))

	report, err := LifecycleJob(scorer)(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomePartial, report.Outcome)
	assert.Equal(t, 2, report.Processed, "failed assets are counted once")
	assert.Equal(t, 1, report.Failed)
}

func TestPruneHistoryJob(t *testing.T) {
	ctx := context.Background()
	history := storage.NewMemoryJobRunHistory()
	require.NoError(t, history.Store(ctx, &model.JobRun{ID: "old", Job: JobEscalate, StartedAt: time.Now().Add(-100 * 24 * time.Hour)}))
	require.NoError(t, history.Store(ctx, &model.JobRun{ID: "new", Job: JobEscalate, StartedAt: time.Now()}))

	report, err := PruneHistoryJob(history, 90*24*time.Hour)(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)

	old, err := history.Get(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, old)
}
