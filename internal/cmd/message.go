package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Send messages to a session's agent",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "send <session-id> <message...>",
			Short: "Resume the agent with a message right away",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(a *app) error {
					s, err := a.engine.SendMessage(cmd.Context(), args[0], strings.Join(args[1:], " "))
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Sent message to %s (state: %s)\n", s.ID, s.State)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "dashboard <session-id> <message...>",
			Short: "Leave a message the agent sees when its session next starts",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				text := strings.TrimSpace(strings.Join(args[1:], " "))
				if text == "" {
					return fmt.Errorf("message is empty")
				}
				return withApp(func(a *app) error {
					found, err := a.store.AppendDashboardMessage(cmd.Context(), args[0], text)
					if err != nil {
						return err
					}
					if !found {
						return sessionNotFound(args[0])
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Left message for %s\n", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}
