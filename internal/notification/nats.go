package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/biomed-maint/internal/model"
)

const (
	// StreamName is the JetStream stream notification events are published to
	StreamName = "NOTIFICATIONS"

	// SubjectPrefix prefixes every notification subject, e.g. notification.escalation
	SubjectPrefix = "notification"
)

// Event is the payload published for each notification
type Event struct {
	NotificationID  string                 `json:"notification_id"`
	UserID          string                 `json:"user_id"`
	Type            model.NotificationType `json:"type"`
	Title           string                 `json:"title"`
	Message         string                 `json:"message"`
	EntityType      string                 `json:"entity_type,omitempty"`
	EntityID        string                 `json:"entity_id,omitempty"`
	EmailRecipients []string               `json:"email_recipients,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
}

// NATSTransport publishes notification events on JetStream
type NATSTransport struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewNATSTransport creates a JetStream transport
func NewNATSTransport(js nats.JetStreamContext, logger *zap.Logger) *NATSTransport {
	return &NATSTransport{
		js:     js,
		logger: logger.Named("nats"),
	}
}

// EnsureStream creates the notification stream if it does not exist
func EnsureStream(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ".>"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    30 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Subject returns the subject a notification type is published on
func Subject(t model.NotificationType) string {
	return SubjectPrefix + "." + string(t)
}

// Name implements Transport
func (t *NATSTransport) Name() string {
	return "nats"
}

// Send implements Transport
func (t *NATSTransport) Send(ctx context.Context, n *model.Notification) error {
	data, err := json.Marshal(Event{
		NotificationID:  n.ID,
		UserID:          n.UserID,
		Type:            n.Type,
		Title:           n.Title,
		Message:         n.Message,
		EntityType:      n.EntityType,
		EntityID:        n.EntityID,
		EmailRecipients: n.EmailRecipients,
		Timestamp:       n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// JetStream drops repeated publishes carrying the same msg id.
	_, err = t.js.Publish(Subject(n.Type), data, nats.Context(ctx), nats.MsgId(n.ID))
	if err != nil {
		t.logger.Error("Failed to publish notification",
			zap.String("notification_id", n.ID),
			zap.Error(err))
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	t.logger.Debug("Notification published",
		zap.String("notification_id", n.ID),
		zap.String("subject", Subject(n.Type)))
	return nil
}

// Subscribe delivers notification events of the given types to handler until
// ctx is done. No types means all of them.
func Subscribe(ctx context.Context, js nats.JetStreamContext, logger *zap.Logger, handler func(Event), types ...model.NotificationType) error {
	subjects := []string{SubjectPrefix + ".>"}
	if len(types) > 0 {
		subjects = subjects[:0]
		for _, t := range types {
			subjects = append(subjects, Subject(t))
		}
	}

	subs := make([]*nats.Subscription, 0, len(subjects))
	for _, subj := range subjects {
		sub, err := js.Subscribe(subj, func(msg *nats.Msg) {
			var event Event
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				logger.Error("Failed to unmarshal notification event",
					zap.String("subject", msg.Subject),
					zap.Error(err))
				_ = msg.Term()
				return
			}
			handler(event)
			_ = msg.Ack()
		}, nats.DeliverNew(), nats.ManualAck())
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return fmt.Errorf("failed to subscribe to %s: %w", subj, err)
		}
		subs = append(subs, sub)
	}

	go func() {
		<-ctx.Done()
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}()
	return nil
}
