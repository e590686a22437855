package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/agentdash/internal/session"
)

func newSessionsCmd() *cobra.Command {
	var (
		workspace string
		asJSON    bool
	)

	list := func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			return runSessionsList(cmd, a, workspace, asJSON)
		})
	}

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List and inspect tracked sessions",
		Long: `List and inspect tracked sessions.

Without a subcommand, lists every session, most recently active first.`,
		Args: cobra.NoArgs,
		RunE: list,
	}
	cmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "only sessions whose workspace name or root matches this glob")
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List sessions",
			Args:  cobra.NoArgs,
			RunE:  list,
		},
		&cobra.Command{
			Use:   "show <session-id>",
			Short: "Show one session with its message log",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(a *app) error {
					return runSessionsShow(cmd, a, args[0], asJSON)
				})
			},
		},
		&cobra.Command{
			Use:   "delete <session-id>",
			Short: "Stop tracking a session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(a *app) error {
					existed, err := a.store.Delete(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					if !existed {
						return sessionNotFound(args[0])
					}
					a.logger.WithSession(args[0]).Info("session deleted")
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}

// workspaceFilter compiles pattern into a predicate over sessions. An empty
// pattern matches everything.
func workspaceFilter(pattern string) (func(*session.Session) bool, error) {
	if pattern == "" {
		return func(*session.Session) bool { return true }, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid workspace pattern %q: %w", pattern, err)
	}
	return func(s *session.Session) bool {
		return g.Match(s.WorkspaceName) || g.Match(s.WorkspaceRoot)
	}, nil
}

func runSessionsList(cmd *cobra.Command, a *app, workspace string, asJSON bool) error {
	match, err := workspaceFilter(workspace)
	if err != nil {
		return err
	}
	all, err := a.store.GetAll(cmd.Context())
	if err != nil {
		return err
	}
	sessions := make([]*session.Session, 0, len(all))
	for _, s := range all {
		if match(s) {
			sessions = append(sessions, s)
		}
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}

	p := newPrinter(out)
	if len(sessions) == 0 {
		p.println("No sessions found.")
		return nil
	}

	previewWidth := 40
	if w := terminalWidth(out); w > 120 {
		previewWidth = w - 80
	}

	now := time.Now()
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		loop := "-"
		if s.LoopEnabled {
			loop = fmt.Sprintf("%d", s.LoopCount)
		}
		rows = append(rows, []string{
			s.ID,
			s.WorkspaceName,
			p.state(s.State),
			loop,
			strconv.Itoa(len(s.QueuedMessages())),
			p.style(mutedStyle, formatAge(now, s.LastActivity)),
			shorten(s.LastMessagePreview(), previewWidth),
		})
	}
	p.table([]string{"SESSION", "WORKSPACE", "STATE", "LOOP", "QUEUED", "ACTIVE", "LAST MESSAGE"}, rows)
	return nil
}

func runSessionsShow(cmd *cobra.Command, a *app, id string, asJSON bool) error {
	s, ok, err := a.store.Get(cmd.Context(), id)
	if err != nil {
		return err
	}
	if !ok {
		return sessionNotFound(id)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	p := newPrinter(out)
	now := time.Now()
	p.println(p.style(headerStyle, "Session "+s.ID))
	p.printf("  Workspace:     %s (%s)\n", s.WorkspaceName, s.WorkspaceRoot)
	p.printf("  State:         %s (status %s)\n", p.state(s.State), s.Status())
	p.printf("  Started:       %s\n", s.StartedAt.Local().Format(time.DateTime))
	p.printf("  Last activity: %s\n", formatAge(now, s.LastActivity))
	if s.CurrentTask != "" {
		p.printf("  Task:          %s\n", s.CurrentTask)
	}
	if s.AgentPID != nil {
		p.printf("  Agent PID:     %d\n", *s.AgentPID)
	}
	if s.LoopEnabled || s.LoopCount > 0 {
		state := "paused"
		if s.LoopEnabled {
			state = "running"
		}
		p.printf("  Loop:          %s, %d iterations, prompt %q\n", state, s.LoopCount, s.LoopPromptName)
	}
	if s.ReviewEnabled {
		p.printf("  Review:        iteration %d of %d, in cycle: %v\n", s.ReviewIteration, s.MaxReviewIterations, s.InReviewCycle)
	}
	if len(s.FilesChanged) > 0 {
		p.printf("  Files changed: %d\n", len(s.FilesChanged))
	}
	if len(s.ToolsUsed) > 0 {
		p.printf("  Tools used:    %d\n", len(s.ToolsUsed))
	}
	if n := len(s.PendingDashboardMessages); n > 0 {
		p.printf("  Dashboard:     %d message(s) waiting for the agent\n", n)
	}

	p.println()
	if len(s.Messages) == 0 {
		p.println(p.style(mutedStyle, "No messages."))
		return nil
	}
	for _, m := range s.Messages {
		p.printf("%s %s\n", p.style(mutedStyle, m.Timestamp.Local().Format(time.TimeOnly)), p.style(headerStyle, string(m.Role)))
		p.printf("  %s\n", shorten(m.Content, 500))
	}
	return nil
}
