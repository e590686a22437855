package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage messages waiting for a session to go idle",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <session-id> <message...>",
			Short: "Queue a message; it is sent as soon as the session is idle",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(a *app) error {
					found, err := a.engine.QueueMessage(cmd.Context(), args[0], strings.Join(args[1:], " "))
					if err != nil {
						return err
					}
					if !found {
						return sessionNotFound(args[0])
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Queued message for %s\n", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear <session-id>",
			Short: "Drop every queued message",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(a *app) error {
					removed, found, err := a.engine.ClearQueue(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					if !found {
						return sessionNotFound(args[0])
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %d queued message(s) from %s\n", removed, args[0])
					return nil
				})
			},
		},
	)
	return cmd
}
