package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/biomed-maint/internal/model"
	"github.com/t77yq/biomed-maint/internal/storage"
)

type recordingTransport struct {
	mu   sync.Mutex
	sent []*model.Notification
	err  error
}

func (r *recordingTransport) Name() string { return "recording" }

func (r *recordingTransport) Send(ctx context.Context, n *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

type unavailableStore struct {
	storage.NotificationStore
}

func (unavailableStore) InsertNotification(ctx context.Context, n *model.Notification) error {
	return &storage.StoreError{Op: "insert notification", Err: errors.New("database is locked")}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSink_Create(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	transport := &recordingTransport{}
	now := time.Date(2025, 4, 10, 8, 0, 0, 0, time.UTC)
	sink := NewSink(zaptest.NewLogger(t), store, WithTransport(transport), WithClock(fixedClock(now)))

	n, err := sink.Create(ctx, &model.Notification{
		UserID:          "u-1",
		Type:            model.NotificationEscalation,
		Title:           "PM overdue",
		Message:         "Ventilator PM is 9 days overdue",
		EntityType:      "pm",
		EntityID:        "w-1",
		EmailRecipients: []string{"ada@example.com"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)
	assert.True(t, now.Equal(n.CreatedAt))
	assert.False(t, n.Read)

	stored, err := store.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "PM overdue", stored.Title)

	require.Len(t, transport.sent, 1)
	assert.Equal(t, n.ID, transport.sent[0].ID)
}

func TestSink_Create_TransportFailureKeepsRecord(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	sink := NewSink(zaptest.NewLogger(t), store,
		WithTransport(&recordingTransport{err: errors.New("smtp: connection refused")}))

	n, err := sink.Create(ctx, &model.Notification{UserID: "u-1", Type: model.NotificationReminder, Title: "t", Message: "m"})
	require.NoError(t, err)

	count, err := sink.UnreadCount(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	exists, err := sink.Exists(ctx, model.NotificationQuery{UserID: "u-1", Type: model.NotificationReminder})
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NotEmpty(t, n.ID)
}

func TestSink_Create_StoreUnavailable(t *testing.T) {
	transport := &recordingTransport{}
	sink := NewSink(zaptest.NewLogger(t), unavailableStore{storage.NewMemoryStore()}, WithTransport(transport))

	_, err := sink.Create(context.Background(), &model.Notification{UserID: "u-1", Type: model.NotificationSystem})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
	assert.Empty(t, transport.sent, "nothing is delivered when nothing was recorded")
}

func TestSink_MarkAsRead_Idempotent(t *testing.T) {
	ctx := context.Background()
	sink := NewSink(zaptest.NewLogger(t), storage.NewMemoryStore())

	n, err := sink.Create(ctx, &model.Notification{UserID: "u-1", Type: model.NotificationSystem, Title: "t"})
	require.NoError(t, err)

	require.NoError(t, sink.MarkAsRead(ctx, n.ID))
	require.NoError(t, sink.MarkAsRead(ctx, n.ID))

	err = sink.MarkAsRead(ctx, "unknown")
	assert.ErrorIs(t, err, model.ErrNotificationNotFound)

	changed, err := sink.MarkAllAsRead(ctx, "u-1")
	require.NoError(t, err)
	assert.Zero(t, changed)

	count, err := sink.UnreadCount(ctx, "u-1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSink_MarkAllAsRead(t *testing.T) {
	ctx := context.Background()
	sink := NewSink(zaptest.NewLogger(t), storage.NewMemoryStore())

	for i := 0; i < 3; i++ {
		_, err := sink.Create(ctx, &model.Notification{UserID: "u-1", Type: model.NotificationSystem})
		require.NoError(t, err)
	}
	_, err := sink.Create(ctx, &model.Notification{UserID: "u-2", Type: model.NotificationSystem})
	require.NoError(t, err)

	changed, err := sink.MarkAllAsRead(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), changed)

	count, err := sink.UnreadCount(ctx, "u-2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSink_ListForUser(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	sink := NewSink(zaptest.NewLogger(t), storage.NewMemoryStore(), WithClock(clock))

	var ids []string
	for i := 0; i < 25; i++ {
		n, err := sink.Create(ctx, &model.Notification{UserID: "u-1", Type: model.NotificationReminder, Title: fmt.Sprintf("n%d", i)})
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}

	tests := []struct {
		name      string
		page      int
		pageSize  int
		wantLen   int
		wantFirst string
		wantPage  int
		wantSize  int
	}{
		{name: "first page", page: 1, pageSize: 10, wantLen: 10, wantFirst: ids[24], wantPage: 1, wantSize: 10},
		{name: "last partial page", page: 3, pageSize: 10, wantLen: 5, wantFirst: ids[4], wantPage: 3, wantSize: 10},
		{name: "defaults", page: 0, pageSize: 0, wantLen: DefaultPageSize, wantFirst: ids[24], wantPage: 1, wantSize: DefaultPageSize},
		{name: "past the end", page: 9, pageSize: 10, wantLen: 0, wantPage: 9, wantSize: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := sink.ListForUser(ctx, "u-1", tt.page, tt.pageSize, false)
			require.NoError(t, err)
			assert.Equal(t, 25, page.Total)
			assert.Equal(t, tt.wantPage, page.Page)
			assert.Equal(t, tt.wantSize, page.PageSize)
			require.Len(t, page.Items, tt.wantLen)
			if tt.wantFirst != "" {
				assert.Equal(t, tt.wantFirst, page.Items[0].ID)
			}
		})
	}

	require.NoError(t, sink.MarkAsRead(ctx, ids[24]))
	unread, err := sink.ListForUser(ctx, "u-1", 1, 5, true)
	require.NoError(t, err)
	assert.Equal(t, 24, unread.Total)
	assert.Equal(t, ids[23], unread.Items[0].ID)
}

func TestMultiTransport_AttemptsEveryTransport(t *testing.T) {
	failing := &recordingTransport{err: errors.New("boom")}
	ok := &recordingTransport{}
	multi := MultiTransport{failing, ok}

	err := multi.Send(context.Background(), &model.Notification{ID: "n-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recording: boom")
	assert.Len(t, ok.sent, 1)
	assert.Equal(t, "recording,recording", multi.Name())
}
