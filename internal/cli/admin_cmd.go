package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/t77yq/biomed-maint/internal/config"
	"github.com/t77yq/biomed-maint/internal/model"
	"github.com/t77yq/biomed-maint/internal/recurrence"
	"github.com/t77yq/biomed-maint/internal/storage"
)

func newRulesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage escalation rules",
	}
	cmd.AddCommand(newRulesListCmd(app), newRulesAddCmd(app))
	return cmd
}

func newRulesListCmd(app *App) *cobra.Command {
	var entityType string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List escalation rules in chain order",
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := app.Store.ListEscalationRules(cmd.Context(), entityType)
			if err != nil {
				return err
			}
			if rules == nil {
				rules = []*model.EscalationRule{}
			}
			return writeJSON(cmd.OutOrStdout(), rules)
		},
	}

	cmd.Flags().StringVar(&entityType, "entity-type", "", "Filter by entity type (pm, calibration)")
	return cmd
}

func newRulesAddCmd(app *App) *cobra.Command {
	var rc config.RuleConfig

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or replace an escalation rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, err := rc.ToModel()
			if err != nil {
				return err
			}
			if err := app.Store.SaveEscalationRule(cmd.Context(), rule); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rule)
		},
	}

	cmd.Flags().StringVar(&rc.EntityType, "entity-type", "", "Entity type (pm, calibration)")
	cmd.Flags().Float64Var(&rc.Threshold, "threshold", 0, "Overdue amount that triggers the rule")
	cmd.Flags().StringVar(&rc.Unit, "unit", string(model.ThresholdDaysOverdue), "Threshold unit (days_overdue, percent_interval)")
	cmd.Flags().StringSliceVar(&rc.Targets, "target", nil, "Recipient: user:<id>, role:<name> or assignee (repeatable)")
	cmd.Flags().BoolVar(&rc.NotifyEmail, "notify-email", false, "Also email the recipients")
	_ = cmd.MarkFlagRequired("entity-type")
	_ = cmd.MarkFlagRequired("threshold")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}

func newAssetsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "Manage the asset directory",
	}
	cmd.AddCommand(newAssetsAddCmd(app), newAssetsListCmd(app), newAssetsScoreCmd(app))
	return cmd
}

func newAssetsAddCmd(app *App) *cobra.Command {
	var asset model.Asset
	var installDate string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or replace an asset",
		RunE: func(cmd *cobra.Command, args []string) error {
			if installDate != "" {
				d, err := parseDate(installDate)
				if err != nil {
					return err
				}
				asset.InstallDate = d
			}
			if err := app.Store.SaveAsset(cmd.Context(), &asset); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), &asset)
		},
	}

	cmd.Flags().StringVar(&asset.ID, "id", "", "Asset ID")
	cmd.Flags().StringVar(&asset.Name, "name", "", "Asset name")
	cmd.Flags().StringVar(&asset.Department, "department", "", "Department")
	cmd.Flags().StringVar(&asset.SerialNumber, "serial", "", "Serial number")
	cmd.Flags().StringVar(&installDate, "install-date", "", "Install date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&asset.ReplacementCost, "replacement-cost", 0, "Replacement cost")
	cmd.Flags().Float64Var(&asset.ServiceCost, "service-cost", 0, "Cumulative service cost")
	cmd.Flags().Float64Var(&asset.DowntimeHours, "downtime", 0, "Downtime hours")
	cmd.Flags().Float64Var(&asset.UtilizationPct, "utilization", 0, "Utilization percent (0-100)")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func newAssetsListCmd(app *App) *cobra.Command {
	var department string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			assets, err := app.Store.ListAssets(cmd.Context(), model.AssetFilter{Department: department})
			if err != nil {
				return err
			}
			if assets == nil {
				assets = []*model.Asset{}
			}
			return writeJSON(cmd.OutOrStdout(), assets)
		},
	}

	cmd.Flags().StringVar(&department, "department", "", "Filter by department")
	return cmd
}

func newAssetsScoreCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "score <asset-id>",
		Short: "Compute the replacement score of one asset without notifying",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asset, err := app.Store.GetAsset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), app.Lifecycle.Score(asset))
		},
	}
}

func newUsersCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage notification recipients",
	}
	cmd.AddCommand(newUsersAddCmd(app))
	return cmd
}

func newUsersAddCmd(app *App) *cobra.Command {
	var user model.User

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or replace a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Store.SaveUser(cmd.Context(), &user); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), &user)
		},
	}

	cmd.Flags().StringVar(&user.ID, "id", "", "User ID")
	cmd.Flags().StringVar(&user.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&user.Email, "email", "", "Email address")
	cmd.Flags().StringSliceVar(&user.Roles, "role", nil, "Role (repeatable)")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func newPoliciesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Manage maintenance policies",
	}
	cmd.AddCommand(newPoliciesAddCmd(app), newPoliciesListCmd(app))
	return cmd
}

func newPoliciesAddCmd(app *App) *cobra.Command {
	var policy model.MaintenancePolicy
	var kind, every, lastPerformed string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or replace a maintenance policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			freq, err := recurrence.ParseFrequency(every)
			if err != nil {
				return err
			}
			policy.Frequency = freq
			policy.Kind = model.PolicyKind(kind)
			if !policy.Kind.Valid() {
				return model.ErrInvalidPolicy
			}
			if _, err := app.Store.GetAsset(cmd.Context(), policy.AssetID); err != nil {
				return err
			}
			if policy.ID == "" {
				policy.ID = policy.AssetID + "-" + kind
			}
			if lastPerformed != "" {
				d, err := parseDate(lastPerformed)
				if err != nil {
					return err
				}
				policy.LastPerformedAt = &d
			}
			if policy.CreatedAt.IsZero() {
				policy.CreatedAt = time.Now().UTC()
			}
			if err := app.Store.SavePolicy(cmd.Context(), &policy); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), &policy)
		},
	}

	cmd.Flags().StringVar(&policy.ID, "id", "", "Policy ID (default <asset>-<kind>)")
	cmd.Flags().StringVar(&policy.AssetID, "asset", "", "Asset ID")
	cmd.Flags().StringVar(&kind, "kind", string(model.PolicyKindPM), "Maintenance kind (pm or calibration)")
	cmd.Flags().StringVar(&every, "every", "", `Frequency, e.g. "90 days" or "1 year"`)
	cmd.Flags().StringVar(&policy.AssignedTo, "assignee", "", "Assigned engineer user ID")
	cmd.Flags().StringVar(&policy.VendorID, "vendor", "", "Vendor ID")
	cmd.Flags().StringVar(&lastPerformed, "last-performed", "", "Last performed date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("asset")
	_ = cmd.MarkFlagRequired("every")

	return cmd
}

func newPoliciesListCmd(app *App) *cobra.Command {
	var assetID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the policies of an asset",
		RunE: func(cmd *cobra.Command, args []string) error {
			policies, err := app.Store.ListPolicies(cmd.Context(), assetID)
			if err != nil {
				return err
			}
			if policies == nil {
				policies = []*model.MaintenancePolicy{}
			}
			return writeJSON(cmd.OutOrStdout(), policies)
		},
	}

	cmd.Flags().StringVar(&assetID, "asset", "", "Asset ID")
	_ = cmd.MarkFlagRequired("asset")
	return cmd
}

func newRunsCmd(app *App) *cobra.Command {
	var job, outcome string
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List batch job runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storage.JobRunFilter{Job: job, Outcome: model.BatchOutcome(outcome)}
			runs, err := app.Store.JobRuns().List(cmd.Context(), filter, 0, limit)
			if err != nil {
				return err
			}
			if runs == nil {
				runs = []*model.JobRun{}
			}
			return writeJSON(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().StringVar(&job, "job", "", "Filter by job name")
	cmd.Flags().StringVar(&outcome, "outcome", "", "Filter by outcome (success, partial, failed)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")
	return cmd
}
