package cmd

import (
	"fmt"
	"regexp"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/agentdash/internal/logging"
)

type logsOptions struct {
	sessionID string
	component string
	tail      int
	level     string
	since     string
	grep      string
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View the debug log",
		Long: `View and filter the debug log shared by hooks and operator commands.

Examples:
  # Show the last 50 entries
  agentdash logs

  # Everything logged for one session
  agentdash logs -s c-123 -n 0

  # Warnings and errors from the last hour
  agentdash logs --level warn --since 1h

  # Search messages
  agentdash logs --grep "spawn|timed out"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				return runLogs(cmd, a.store.Dir(), opts)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.sessionID, "session", "s", "", "only entries for this session")
	cmd.Flags().StringVar(&opts.component, "component", "", "only entries from this component (hook, continuation, store, ...)")
	cmd.Flags().IntVarP(&opts.tail, "tail", "n", 50, "number of entries to show (0 for all)")
	cmd.Flags().StringVar(&opts.level, "level", "", "minimum level (debug/info/warn/error)")
	cmd.Flags().StringVar(&opts.since, "since", "", "only entries newer than this duration (e.g., 1h, 30m)")
	cmd.Flags().StringVar(&opts.grep, "grep", "", "only entries whose message matches this regex")
	return cmd
}

var levelColors = map[string]lipgloss.Color{
	logging.LevelDebug: "#9CA3AF",
	logging.LevelInfo:  "#60A5FA",
	logging.LevelWarn:  "#F59E0B",
	logging.LevelError: "#F87171",
}

func runLogs(cmd *cobra.Command, dir string, opts logsOptions) error {
	filter := logging.Filter{
		SessionID: opts.sessionID,
		Component: opts.component,
	}
	if opts.level != "" {
		filter.Level = logging.ParseLevel(opts.level)
	}
	if opts.since != "" {
		d, err := time.ParseDuration(opts.since)
		if err != nil {
			return fmt.Errorf("invalid duration format: %w", err)
		}
		filter.Since = time.Now().Add(-d)
	}
	if opts.grep != "" {
		re, err := regexp.Compile(opts.grep)
		if err != nil {
			return fmt.Errorf("invalid grep pattern: %w", err)
		}
		filter.Pattern = re
	}

	entries, err := logging.ReadEntries(dir)
	if err != nil {
		return err
	}
	entries = logging.FilterEntries(entries, filter)
	if opts.tail > 0 && len(entries) > opts.tail {
		entries = entries[len(entries)-opts.tail:]
	}

	p := newPrinter(cmd.OutOrStdout())
	if len(entries) == 0 {
		p.println("No matching log entries found.")
		return nil
	}
	for _, e := range entries {
		line := e.Format()
		if color, ok := levelColors[e.Level]; ok {
			line = p.style(lipgloss.NewStyle().Foreground(color), line)
		}
		p.println(line)
	}
	return nil
}
