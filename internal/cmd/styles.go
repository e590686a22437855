package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Iron-Ham/agentdash/internal/session"
)

var (
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray
	borderColor  = lipgloss.Color("#6B7280")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	mutedStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	ruleStyle   = lipgloss.NewStyle().Foreground(borderColor)

	stateColors = map[session.State]lipgloss.Color{
		session.StateIdle:          "#9CA3AF", // Gray
		session.StateActive:        "#10B981", // Green
		session.StateTurnComplete:  "#60A5FA", // Blue
		session.StateReviewPending: "#F59E0B", // Amber
		session.StateUnderReview:   "#F472B6", // Pink
		session.StateReadyForLoop:  "#A78BFA", // Purple
		session.StateLoopPrompting: "#FB923C", // Orange
		session.StateError:         "#F87171", // Red
	}
)

// isTerminal reports whether w is a terminal, so output can be styled.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// terminalWidth returns the width of w, or 0 if unknown.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}

// printer writes plain or styled text depending on the destination.
type printer struct {
	w      io.Writer
	styled bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, styled: isTerminal(w)}
}

func (p *printer) style(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p *printer) state(s session.State) string {
	return p.style(lipgloss.NewStyle().Foreground(stateColors[s]), string(s))
}

func (p *printer) println(a ...any) {
	_, _ = fmt.Fprintln(p.w, a...)
}

func (p *printer) printf(format string, a ...any) {
	_, _ = fmt.Fprintf(p.w, format, a...)
}

// table renders rows in aligned columns. Cells may already be styled;
// widths are measured on their visible text.
func (p *printer) table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	line := func(cells []string, style func(string) string) string {
		var sb strings.Builder
		for i, cell := range cells {
			if i > 0 {
				sb.WriteString("  ")
			}
			sb.WriteString(style(cell))
			if i < len(cells)-1 {
				sb.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)))
			}
		}
		return sb.String()
	}

	p.println(line(headers, func(s string) string { return p.style(headerStyle, s) }))
	total := 0
	for _, w := range widths {
		total += w + 2
	}
	p.println(p.style(ruleStyle, strings.Repeat("─", max(total-2, 0))))
	for _, row := range rows {
		p.println(line(row, func(s string) string { return s }))
	}
}

// formatAge renders how long ago t was, coarsely.
func formatAge(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
}

// shorten cuts text to n runes on a single line, marking the cut.
func shorten(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:max(n-1, 0)]) + "…"
}
