package cli

import (
	"github.com/spf13/cobra"

	"github.com/t77yq/biomed-maint/internal/notification"
)

func newNotificationsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notif"},
		Short:   "Read and acknowledge notifications",
	}

	cmd.AddCommand(
		newNotificationsListCmd(app),
		newNotificationsReadCmd(app),
		newNotificationsReadAllCmd(app),
		newNotificationsUnreadCmd(app),
	)

	return cmd
}

func newNotificationsListCmd(app *App) *cobra.Command {
	var userID string
	var page, pageSize int
	var unread bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's notifications, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := app.Sink.ListForUser(cmd.Context(), userID, page, pageSize, unread)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", notification.DefaultPageSize, "Page size")
	cmd.Flags().BoolVar(&unread, "unread", false, "Only unread notifications")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newNotificationsReadCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "read <notification-id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Sink.MarkAsRead(cmd.Context(), args[0]); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"id": args[0], "read": true})
		},
	}
}

func newNotificationsReadAllCmd(app *App) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "read-all",
		Short: "Mark all of a user's notifications read",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := app.Sink.MarkAllAsRead(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"user_id": userID, "marked": n})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newNotificationsUnreadCmd(app *App) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "unread",
		Short: "Count a user's unread notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := app.Sink.UnreadCount(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"user_id": userID, "unread": n})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
