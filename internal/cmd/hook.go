package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/agentdash/internal/config"
	"github.com/Iron-Ham/agentdash/internal/hook"
)

func newHookCmd() *cobra.Command {
	names := make([]string, 0, len(hook.Kinds()))
	for _, k := range hook.Kinds() {
		names = append(names, string(k))
	}

	return &cobra.Command{
		Use:   "hook <" + strings.Join(names, "|") + ">",
		Short: "Entry point for agent hooks",
		Long: `Entry point for agent hooks.

Reads the hook payload from stdin and prints the reply for the agent on
stdout. A hook never fails: problems are written to the debug log and the
agent receives an empty reply.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			kind, ok := hook.ParseKind(args[0])
			if !ok {
				_, err := fmt.Fprintln(out, hook.EmptyReply)
				return err
			}

			// A broken config file must not break the agent; fall back to
			// defaults.
			a, err := newApp(config.Get())
			if err != nil {
				_, err := fmt.Fprintln(out, hook.EmptyReply)
				return err
			}
			defer func() { _ = a.Close() }()

			return hook.NewHandler(a.engine, a.logger).Run(cmd.Context(), kind, cmd.InOrStdin(), out)
		},
	}
}
