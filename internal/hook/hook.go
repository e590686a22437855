package hook

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Iron-Ham/agentdash/internal/continuation"
	"github.com/Iron-Ham/agentdash/internal/logging"
)

// Kind names a hook the agent invokes.
type Kind string

const (
	KindSessionStart Kind = "session-start"
	KindStop         Kind = "stop"
	KindPreToolUse   Kind = "pre-tool-use"
	KindPostToolUse  Kind = "post-tool-use"
)

// Kinds returns every hook kind.
func Kinds() []Kind {
	return []Kind{KindSessionStart, KindStop, KindPreToolUse, KindPostToolUse}
}

// ParseKind converts a hook name into a Kind.
func ParseKind(name string) (Kind, bool) {
	for _, k := range Kinds() {
		if string(k) == name {
			return k, true
		}
	}
	return "", false
}

// EmptyReply is printed when a hook has nothing to tell the agent.
const EmptyReply = "{}"

// DashboardHeading introduces messages left for the agent on the dashboard.
const DashboardHeading = "## Messages from Dashboard"

// Handler runs hooks against a continuation engine.
type Handler struct {
	engine *continuation.Engine
	logger *logging.Logger
	pid    func() int
}

// NewHandler creates a handler. The agent PID recorded on session start is
// the hook process's parent.
func NewHandler(engine *continuation.Engine, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Handler{
		engine: engine,
		logger: logger.WithComponent("hook"),
		pid:    os.Getppid,
	}
}

// Handle runs one hook and returns the reply for the agent. It never fails:
// errors are logged and the empty reply is returned.
func (h *Handler) Handle(ctx context.Context, kind Kind, in Input) string {
	log := h.logger.With("hook", string(kind))
	if in.ConversationID != "" {
		log = log.WithSession(in.ConversationID)
	}

	switch kind {
	case KindSessionStart:
		out, err := h.engine.HandleSessionStart(ctx, continuation.Start{
			ConversationID: in.ConversationID,
			WorkspaceRoot:  in.WorkspaceRoot,
			PID:            h.pid(),
		})
		if err != nil {
			log.Error("session start failed", "error", err)
			return EmptyReply
		}
		return FormatDashboardMessages(out.DashboardMessages)

	case KindStop:
		out, err := h.engine.HandleTurn(ctx, continuation.Turn{
			ConversationID: in.ConversationID,
			WorkspaceRoot:  in.WorkspaceRoot,
			UserPrompt:     in.UserPrompt,
			AgentResponse:  in.AgentResponse,
			FilesChanged:   in.FilesChanged,
		})
		if err != nil {
			log.Error("turn handling failed", "error", err)
			return EmptyReply
		}
		log.Info("turn recorded",
			"state", string(out.Session.State),
			"loop", out.Loop.String(),
			"spawned", out.Spawned,
			"files_changed", len(in.FilesChanged))

	case KindPreToolUse, KindPostToolUse:
		found, err := h.engine.HandleToolUse(ctx, continuation.ToolUse{
			ConversationID: in.ConversationID,
			Name:           in.ToolName,
			Input:          in.ToolInput,
			Post:           kind == KindPostToolUse,
		})
		if err != nil {
			log.Error("tool use handling failed", "error", err)
		} else if !found {
			log.Debug("tool use for unknown session", "tool", in.ToolName)
		}

	default:
		log.Warn("unknown hook")
	}
	return EmptyReply
}

// Run reads a payload from r, handles it and writes the reply to w.
func (h *Handler) Run(ctx context.Context, kind Kind, r io.Reader, w io.Writer) error {
	reply := h.Handle(ctx, kind, ReadInput(r))
	_, err := fmt.Fprintln(w, reply)
	return err
}

// FormatDashboardMessages renders pending dashboard messages as a context
// block, or the empty reply when there are none.
func FormatDashboardMessages(msgs []string) string {
	if len(msgs) == 0 {
		return EmptyReply
	}
	var sb strings.Builder
	sb.WriteString(DashboardHeading)
	for _, m := range msgs {
		sb.WriteString("\n- ")
		sb.WriteString(m)
	}
	return sb.String()
}
