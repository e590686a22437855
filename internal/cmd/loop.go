package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/agentdash/internal/session"
)

func newLoopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Control a session's quality loop",
		Long: `Control a session's quality loop.

While a loop is running, every finished turn is answered with the loop's
prompt until the agent's response meets the prompt's end condition or a
completion phrase, or the iteration limit is reached.`,
	}

	loopAction := func(use, short, done string, fn func(a *app, cmd *cobra.Command, args []string) (*session.Session, bool, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(a *app) error {
					s, found, err := fn(a, cmd, args)
					if err != nil {
						return err
					}
					if !found {
						return sessionNotFound(args[0])
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s for %s (iterations: %d)\n", done, s.ID, s.LoopCount)
					return nil
				})
			},
		}
	}

	enable := loopAction("enable <session-id> <prompt-name>", "Start a fresh loop with a named prompt", "Loop enabled",
		func(a *app, cmd *cobra.Command, args []string) (*session.Session, bool, error) {
			return a.engine.EnableLoop(cmd.Context(), args[0], args[1])
		})
	enable.Args = cobra.ExactArgs(2)

	pause := loopAction("pause <session-id>", "Stop the loop, keeping its count", "Loop paused",
		func(a *app, cmd *cobra.Command, args []string) (*session.Session, bool, error) {
			return a.engine.PauseLoop(cmd.Context(), args[0])
		})
	pause.Args = cobra.ExactArgs(1)

	reset := loopAction("reset <session-id>", "Zero the loop's iteration count", "Loop count reset",
		func(a *app, cmd *cobra.Command, args []string) (*session.Session, bool, error) {
			return a.engine.ResetLoop(cmd.Context(), args[0])
		})
	reset.Args = cobra.ExactArgs(1)

	prompts := &cobra.Command{
		Use:   "prompts",
		Short: "List the loop prompt catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				p := newPrinter(cmd.OutOrStdout())
				for _, lp := range a.engine.Options().Prompts.Prompts() {
					p.println(p.style(headerStyle, lp.Name))
					p.printf("  %s\n", lp.Prompt)
					if lp.EndCondition != "" {
						p.printf("  %s %s\n", p.style(mutedStyle, "ends on:"), lp.EndCondition)
					}
				}
				return nil
			})
		},
	}

	cmd.AddCommand(enable, pause, reset, prompts)
	return cmd
}
