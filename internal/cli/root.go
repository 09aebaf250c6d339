// Package cli implements the maintctl command tree.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/biomed-maint/internal/escalation"
	"github.com/t77yq/biomed-maint/internal/lifecycle"
	"github.com/t77yq/biomed-maint/internal/notification"
	"github.com/t77yq/biomed-maint/internal/recurrence"
	"github.com/t77yq/biomed-maint/internal/scheduler"
	"github.com/t77yq/biomed-maint/internal/service"
	"github.com/t77yq/biomed-maint/internal/storage"
)

// App holds the components the commands operate on.
type App struct {
	Store      storage.Store
	Sink       *notification.Sink
	Scheduler  *scheduler.Scheduler
	Escalation *escalation.Engine
	Lifecycle  *lifecycle.Scorer
	Logger     *zap.Logger

	// JetStream is only needed by the events command
	JetStream nats.JetStreamContext
}

// FromServices builds an App from wired services.
func FromServices(svc *service.Services, logger *zap.Logger) *App {
	return &App{
		Store:      svc.Store,
		Sink:       svc.Sink,
		Scheduler:  svc.Scheduler,
		Escalation: svc.Escalation,
		Lifecycle:  svc.Lifecycle,
		Logger:     logger,
		JetStream:  svc.JetStream,
	}
}

// NewRootCmd creates the top-level "maintctl" command and registers all
// subcommands against the provided App.
func NewRootCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "maintctl",
		Short:         "Biomedical maintenance scheduling and escalation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newScheduleCmd(app),
		newScheduleOneCmd(app),
		newCompleteCmd(app),
		newCancelCmd(app),
		newStartCmd(app),
		newWorkCmd(app),
		newEscalateCmd(app),
		newRemindersCmd(app),
		newLifecycleCmd(app),
		newNotificationsCmd(app),
		newRulesCmd(app),
		newAssetsCmd(app),
		newUsersCmd(app),
		newPoliciesCmd(app),
		newRunsCmd(app),
		newEventsCmd(app),
	)

	return root
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(recurrence.DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}
