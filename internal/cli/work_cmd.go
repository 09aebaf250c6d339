package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/t77yq/biomed-maint/internal/model"
)

func newScheduleCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule [asset-id...]",
		Short: "Create due maintenance for the given assets, or all assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := app.Scheduler.AutoSchedule(cmd.Context(), args)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), struct {
				Outcome model.BatchOutcome `json:"outcome"`
				*model.ScheduleResult
			}{result.Outcome(), result})
		},
	}
}

func newScheduleOneCmd(app *App) *cobra.Command {
	var assetID, kind, date, vendorID string

	cmd := &cobra.Command{
		Use:   "schedule-one",
		Short: "Manually schedule maintenance on a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseDate(date)
			if err != nil {
				return err
			}
			work, err := app.Scheduler.ScheduleSingle(cmd.Context(), assetID, model.PolicyKind(kind), on, vendorID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), work)
		},
	}

	cmd.Flags().StringVar(&assetID, "asset", "", "Asset ID")
	cmd.Flags().StringVar(&kind, "kind", string(model.PolicyKindPM), "Maintenance kind (pm or calibration)")
	cmd.Flags().StringVar(&date, "date", "", "Scheduled date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&vendorID, "vendor", "", "Vendor ID")
	_ = cmd.MarkFlagRequired("asset")
	_ = cmd.MarkFlagRequired("date")

	return cmd
}

func newCompleteCmd(app *App) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "complete <work-id>",
		Short: "Mark scheduled work completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			performedAt := time.Now().UTC()
			if at != "" {
				var err error
				if performedAt, err = parseDate(at); err != nil {
					return err
				}
			}
			work, err := app.Scheduler.Complete(cmd.Context(), args[0], performedAt)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), work)
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Date the work was performed (YYYY-MM-DD, default now)")
	return cmd
}

func newCancelCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <work-id>",
		Short: "Cancel scheduled work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			work, err := app.Scheduler.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), work)
		},
	}
}

func newStartCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "start <work-id>",
		Short: "Mark scheduled work in progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			work, err := app.Scheduler.StartWork(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), work)
		},
	}
}

func newWorkCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Inspect scheduled work",
	}
	cmd.AddCommand(newWorkListCmd(app), newWorkShowCmd(app))
	return cmd
}

func newWorkListCmd(app *App) *cobra.Command {
	var assetID, kind string
	var statuses []string
	var active bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled work",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := model.WorkFilter{AssetID: assetID, Kind: model.PolicyKind(kind)}
			if active {
				filter.Statuses = append(filter.Statuses, model.ActiveWorkStatuses...)
			}
			for _, s := range statuses {
				filter.Statuses = append(filter.Statuses, model.WorkStatus(s))
			}
			work, err := app.Store.ListWork(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if work == nil {
				work = []*model.ScheduledWork{}
			}
			return writeJSON(cmd.OutOrStdout(), work)
		},
	}

	cmd.Flags().StringVar(&assetID, "asset", "", "Filter by asset ID")
	cmd.Flags().StringVar(&kind, "kind", "", "Filter by kind")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&active, "active", false, "Only non-terminal work")
	return cmd
}

func newWorkShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <work-id>",
		Short: "Show one scheduled work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			work, err := app.Store.GetWork(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), work)
		},
	}
}
