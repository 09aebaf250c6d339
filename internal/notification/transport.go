package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/t77yq/biomed-maint/internal/model"
)

// Transport delivers a persisted notification outside the process
type Transport interface {
	Name() string
	Send(ctx context.Context, n *model.Notification) error
}

// MultiTransport fans a notification out to several transports. Every
// transport is attempted; failures are joined.
type MultiTransport []Transport

// Name implements Transport
func (m MultiTransport) Name() string {
	names := make([]string, 0, len(m))
	for _, t := range m {
		names = append(names, t.Name())
	}
	return strings.Join(names, ",")
}

// Send implements Transport
func (m MultiTransport) Send(ctx context.Context, n *model.Notification) error {
	var errs []error
	for _, t := range m {
		if err := t.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func subject(n *model.Notification) string {
	if n.Title != "" {
		return n.Title
	}
	return "Maintenance notification"
}
