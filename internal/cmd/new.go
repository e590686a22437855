package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new <workspace-root> <prompt...>",
		Short: "Start a new agent conversation in a workspace",
		Long: `Start a new agent conversation in a workspace.

The prompt becomes the first user message of the session the agent
registers when it starts.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("failed to resolve workspace root: %w", err)
			}
			return withApp(func(a *app) error {
				if err := a.engine.StartNew(cmd.Context(), root, strings.Join(args[1:], " ")); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Started agent in %s\n", root)
				return nil
			})
		},
	}
}
