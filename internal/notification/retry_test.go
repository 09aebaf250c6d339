package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/biomed-maint/internal/model"
)

// flakyTransport fails the first failures sends
type flakyTransport struct {
	recordingTransport
	failures int
}

func (f *flakyTransport) Send(ctx context.Context, n *model.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	if len(f.sent) <= f.failures {
		return errors.New("gateway timeout")
	}
	return nil
}

func TestExponentialBackoff_Delay(t *testing.T) {
	b := ExponentialBackoff{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, b.Delay(0))
	assert.Equal(t, 200*time.Millisecond, b.Delay(1))
	assert.Equal(t, 800*time.Millisecond, b.Delay(3))
	assert.Equal(t, time.Second, b.Delay(4))
}

func TestRetryTransport(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	logger := zaptest.NewLogger(t)

	t.Run("recovers", func(t *testing.T) {
		flaky := &flakyTransport{failures: 2}
		tr := WithRetry(flaky, cfg, logger)
		assert.Equal(t, "recording", tr.Name())

		require.NoError(t, tr.Send(context.Background(), escalationNotification()))
		assert.Len(t, flaky.sent, 3)
	})

	t.Run("gives up", func(t *testing.T) {
		flaky := &flakyTransport{failures: 5}
		err := WithRetry(flaky, cfg, logger).Send(context.Background(), escalationNotification())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "gateway timeout")
		assert.Len(t, flaky.sent, 3)
	})

	t.Run("stops on cancel", func(t *testing.T) {
		flaky := &flakyTransport{failures: 5}
		slow := cfg
		slow.InitialDelay = time.Hour
		slow.MaxDelay = time.Hour

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := WithRetry(flaky, slow, logger).Send(ctx, escalationNotification())
		assert.ErrorIs(t, err, context.Canceled)
		assert.Len(t, flaky.sent, 1)
	})

	t.Run("single attempt is unwrapped", func(t *testing.T) {
		inner := &recordingTransport{}
		assert.Same(t, inner, WithRetry(inner, RetryConfig{MaxAttempts: 1}, logger))
	})
}
