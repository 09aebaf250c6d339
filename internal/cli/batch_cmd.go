package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/t77yq/biomed-maint/internal/model"
	"github.com/t77yq/biomed-maint/internal/scheduler"
)

func newEscalateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "escalate",
		Short: "Run one escalation pass over overdue work",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := app.Escalation.CheckAndEscalate(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), struct {
				Outcome model.BatchOutcome `json:"outcome"`
				*model.EscalationResult
			}{result.Outcome(), result})
		},
	}
}

func newRemindersCmd(app *App) *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Remind assignees of work due soon",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := app.Scheduler.SendReminders(cmd.Context(), window)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), struct {
				Outcome model.BatchOutcome `json:"outcome"`
				*model.ReminderResult
			}{result.Outcome(), result})
		},
	}

	cmd.Flags().DurationVar(&window, "window", scheduler.DefaultReminderWindow, "How far ahead to look")
	return cmd
}

func newLifecycleCmd(app *App) *cobra.Command {
	var department string
	var assetIDs []string

	cmd := &cobra.Command{
		Use:   "lifecycle",
		Short: "Score assets for end-of-life replacement",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := model.AssetFilter{IDs: assetIDs, Department: department}
			result, err := app.Lifecycle.Evaluate(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), struct {
				Outcome model.BatchOutcome `json:"outcome"`
				*model.LifecycleResult
			}{result.Outcome(), result})
		},
	}

	cmd.Flags().StringVar(&department, "department", "", "Only assets of this department")
	cmd.Flags().StringSliceVar(&assetIDs, "asset", nil, "Only these assets (repeatable)")
	return cmd
}
