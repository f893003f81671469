package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newNotificationsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List likes received on your card",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newClientEnv()
			if err != nil {
				return err
			}
			defer env.logger.Sync() //nolint:errcheck
			notifications, err := env.client.ListNotifications(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, notification := range notifications {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", notification.CreatedAt.Format("2006-01-02 15:04"), notification.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum notifications to show")
	return cmd
}
