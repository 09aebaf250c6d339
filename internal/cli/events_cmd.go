package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/t77yq/biomed-maint/internal/model"
	"github.com/t77yq/biomed-maint/internal/notification"
)

func newEventsCmd(app *App) *cobra.Command {
	var types []string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow notification events published on NATS",
		Long:  "Follow notification events published on NATS. Requires nats.url and the nats transport.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.JetStream == nil {
				return errors.New("events require the nats transport; set nats.url and add nats to notification.transports")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := make(chan notification.Event, 64)
			var filter []model.NotificationType
			for _, t := range types {
				filter = append(filter, model.NotificationType(t))
			}
			if err := notification.Subscribe(ctx, app.JetStream, app.Logger, func(e notification.Event) {
				select {
				case out <- e:
				case <-ctx.Done():
				}
			}, filter...); err != nil {
				return err
			}

			for {
				select {
				case <-ctx.Done():
					if errors.Is(ctx.Err(), context.Canceled) {
						return nil
					}
					return ctx.Err()
				case e := <-out:
					if err := writeJSON(cmd.OutOrStdout(), e); err != nil {
						return err
					}
				}
			}
		},
	}

	cmd.Flags().StringSliceVar(&types, "type", nil, "Only these notification types (repeatable)")
	return cmd
}
