package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/agentdash/internal/lifecycle"
)

func newEventCmd() *cobra.Command {
	names := make([]string, 0, len(lifecycle.AllEvents()))
	for _, ev := range lifecycle.AllEvents() {
		names = append(names, string(ev))
	}

	return &cobra.Command{
		Use:   "event <session-id> [event]",
		Short: "Deliver a lifecycle event to a session",
		Long: `Deliver a lifecycle event to a session.

Events: ` + strings.Join(names, ", ") + `

Without an event, prints the events the session's current state accepts.
An event the current state does not accept is reported and nothing changes.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ev lifecycle.Event
			if len(args) == 2 {
				var ok bool
				if ev, ok = lifecycle.ParseEvent(args[1]); !ok {
					return fmt.Errorf("unknown event %q (valid: %s)", args[1], strings.Join(names, ", "))
				}
			}

			return withApp(func(a *app) error {
				out := cmd.OutOrStdout()
				id := args[0]

				if ev == "" {
					s, ok, err := a.store.Get(cmd.Context(), id)
					if err != nil {
						return err
					}
					if !ok {
						return sessionNotFound(id)
					}
					fmt.Fprintf(out, "%s is %s; accepted events:\n", id, s.State)
					for _, e := range a.engine.Machine().ValidEvents(s.State) {
						fmt.Fprintf(out, "  %s\n", e)
					}
					return nil
				}

				res, found, err := a.engine.ApplyEvent(cmd.Context(), id, ev)
				if err != nil {
					return err
				}
				if !found {
					return sessionNotFound(id)
				}
				if !res.Success {
					return fmt.Errorf("event %s not accepted in state %s", ev, res.OldState)
				}
				fmt.Fprintf(out, "%s: %s -> %s\n", id, res.OldState, res.NewState)
				return nil
			})
		},
	}
}
