// Package notify delivers user-facing notifications when a turn or a quality
// loop finishes.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Iron-Ham/agentdash/internal/errors"
	"github.com/Iron-Ham/agentdash/internal/event"
	"github.com/Iron-Ham/agentdash/internal/logging"
)

// Kind distinguishes the two notification sources.
type Kind string

const (
	KindTurnComplete Kind = "turn_complete"
	KindLoopComplete Kind = "loop_complete"
)

// Loop completion reasons.
const (
	ReasonGoalAchieved   = "goal_achieved"
	ReasonIterationLimit = "iteration_limit"
)

// Notification is one message for the user.
type Notification struct {
	Kind          Kind
	Title         string
	Message       string
	SessionID     string
	WorkspaceName string
	// Reason is set for loop completions.
	Reason string
	// Iterations is the loop count at completion.
	Iterations int
}

// Notifier delivers notifications. Implementations must not block for long;
// callers treat failures as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }

// BusNotifier republishes notifications as bus events.
type BusNotifier struct {
	bus *event.Bus
	now func() time.Time
}

// NewBusNotifier returns a notifier that publishes on bus.
func NewBusNotifier(bus *event.Bus) *BusNotifier {
	return &BusNotifier{bus: bus, now: time.Now}
}

// Notify publishes a loop.complete or turn.complete event.
func (b *BusNotifier) Notify(_ context.Context, n Notification) error {
	switch n.Kind {
	case KindLoopComplete:
		b.bus.Publish(event.NewLoopCompleteEvent(n.SessionID, n.WorkspaceName, n.Iterations, n.Reason, n.Message, b.now()))
	case KindTurnComplete:
		b.bus.Publish(event.NewTurnCompleteEvent(n.SessionID, n.WorkspaceName, n.Message, b.now()))
	default:
		return errors.NewValidationError("unknown notification kind").WithField("kind").WithValue(n.Kind)
	}
	return nil
}

var execLookPath = exec.LookPath

const (
	maxMessageLength = 100
	commandTimeout   = 5 * time.Second
)

// CommandNotifier shows desktop notifications by running a
// terminal-notifier compatible executable.
type CommandNotifier struct {
	command string
	sound   bool
	logger  *logging.Logger
	run     func(ctx context.Context, name string, args ...string) error
}

// NewCommandNotifier returns a notifier that runs command. An empty command
// means "terminal-notifier".
func NewCommandNotifier(command string, sound bool, logger *logging.Logger) *CommandNotifier {
	if command == "" {
		command = "terminal-notifier"
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &CommandNotifier{
		command: command,
		sound:   sound,
		logger:  logger.WithComponent("notify"),
		run:     runCommand,
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w\noutput: %s", name, err, string(out))
	}
	return nil
}

// Notify runs the notifier command. A missing executable is logged and
// otherwise ignored.
func (c *CommandNotifier) Notify(ctx context.Context, n Notification) error {
	path, err := execLookPath(c.command)
	if err != nil {
		c.logger.Debug("notifier not installed", "command", c.command)
		return nil
	}

	args := c.args(n)
	if err := c.run(ctx, path, args...); err != nil {
		c.logger.Warn("notification failed", "command", c.command, "error", err)
		return err
	}
	return nil
}

func (c *CommandNotifier) args(n Notification) []string {
	args := []string{
		"-title", n.Title,
		"-subtitle", n.WorkspaceName,
		"-message", CleanMessage(n.Message),
		"-group", "agentdash-" + n.WorkspaceName,
	}
	if c.sound {
		args = append(args, "-sound", "default")
	}
	return args
}

// CleanMessage collapses whitespace and truncates to 100 characters. An
// empty message becomes "Turn complete".
func CleanMessage(msg string) string {
	clean := strings.Join(strings.Fields(msg), " ")
	if clean == "" {
		return "Turn complete"
	}
	if r := []rune(clean); len(r) > maxMessageLength {
		clean = string(r[:maxMessageLength])
	}
	return clean
}

// Multi fans a notification out to several notifiers, returning every
// failure joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
