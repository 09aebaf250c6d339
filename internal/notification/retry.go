package notification

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/biomed-maint/internal/model"
)

// RetryConfig controls delivery retries of a transport
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

// ExponentialBackoff grows the delay by Multiplier per attempt up to MaxDelay
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// Delay returns the wait before retry number attempt (0-based)
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	delay := float64(b.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= b.Multiplier
	}
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	return time.Duration(delay)
}

// RetryTransport retries failed sends of the wrapped transport
type RetryTransport struct {
	next        Transport
	backoff     ExponentialBackoff
	maxAttempts int
	logger      *zap.Logger
}

// WithRetry wraps t so failed sends are retried per cfg. A MaxAttempts of
// one or less returns t unchanged.
func WithRetry(t Transport, cfg RetryConfig, logger *zap.Logger) Transport {
	if cfg.MaxAttempts <= 1 {
		return t
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	return &RetryTransport{
		next: t,
		backoff: ExponentialBackoff{
			InitialDelay: cfg.InitialDelay,
			MaxDelay:     cfg.MaxDelay,
			Multiplier:   cfg.Multiplier,
		},
		maxAttempts: cfg.MaxAttempts,
		logger:      logger.Named("retry"),
	}
}

// Name implements Transport
func (t *RetryTransport) Name() string {
	return t.next.Name()
}

// Send implements Transport. It gives up early when ctx is done.
func (t *RetryTransport) Send(ctx context.Context, n *model.Notification) error {
	var err error
	for attempt := 0; attempt < t.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := t.backoff.Delay(attempt - 1)
			t.logger.Debug("Retrying notification delivery",
				zap.String("transport", t.next.Name()),
				zap.String("notification_id", n.ID),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay))

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("delivery abandoned after %d attempts: %w", attempt, ctx.Err())
			case <-timer.C:
			}
		}

		if err = t.next.Send(ctx, n); err == nil {
			return nil
		}
	}
	return fmt.Errorf("delivery failed after %d attempts: %w", t.maxAttempts, err)
}
