package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reset busy sessions that have gone quiet",
		Long: `Reset busy sessions that have gone quiet.

Any active, under-review or loop-prompting session with no activity for
continuation.timeout_minutes is forced back to idle and its loop is
stopped. 'agentdash watch' does this periodically.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				resets, err := a.engine.SweepTimeouts(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(resets) == 0 {
					fmt.Fprintln(out, "No sessions timed out.")
					return nil
				}
				for _, r := range resets {
					fmt.Fprintf(out, "Reset %s after %d minutes (was: %s)\n", r.SessionID, r.IdleMinutes, r.PreviousState)
				}
				return nil
			})
		},
	}
}
