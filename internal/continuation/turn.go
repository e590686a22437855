package continuation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Iron-Ham/agentdash/internal/lifecycle"
	"github.com/Iron-Ham/agentdash/internal/notify"
	"github.com/Iron-Ham/agentdash/internal/session"
)

const (
	// dedupWindow is how many trailing messages are checked before a turn's
	// user prompt is recorded, since the dashboard may have recorded it
	// already.
	dedupWindow = 5

	taskLength          = 100
	turnPreviewLength   = 80
	toolPreviewLength   = 200
	unknownToolName     = "unknown"
	unknownConversation = "unknown"
)

func clip(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n])
}

// Turn is a completed agent turn as reported by the stop hook.
type Turn struct {
	ConversationID string
	WorkspaceRoot  string
	UserPrompt     string
	AgentResponse  string
	FilesChanged   []string
}

// TurnOutcome reports what HandleTurn did.
type TurnOutcome struct {
	Session *session.Session
	Created bool
	// Loop is what happened to the quality loop on this turn.
	Loop LoopOutcome
	// Spawned is true when a loop prompt, review prompt or queued message
	// was sent.
	Spawned bool
	// ReviewSent is true when a review pass was started and its prompt sent.
	ReviewSent bool
	// QueuedSent is true when a queued message was promoted.
	QueuedSent bool
}

// HandleTurn records a finished turn and decides what happens next. A
// response that meets the loop's goal ends the loop whatever the state.
// The session then moves through turn_end and either evaluate or, inside a
// review cycle, check_review. A session left waiting for review is sent the
// next review pass. One that reaches ready_for_loop with its loop running
// is sent the next loop prompt unless the bound is reached; otherwise it
// settles to idle and its oldest queued message, if any, is sent.
func (e *Engine) HandleTurn(ctx context.Context, t Turn) (*TurnOutcome, error) {
	if t.ConversationID == "" {
		t.ConversationID = unknownConversation
	}

	var (
		loop   LoopOutcome
		prompt string
		review string
	)
	s, created, err := e.store.UpdateOrCreate(ctx, t.ConversationID, e.newSession(t.ConversationID, t.WorkspaceRoot),
		func(s *session.Session) error {
			now := e.store.Now()
			if t.UserPrompt != "" && !recentUserMessage(s, t.UserPrompt, dedupWindow) {
				s.Messages = append(s.Messages, e.message(session.RoleUser, t.UserPrompt))
			}
			if t.AgentResponse != "" {
				s.Messages = append(s.Messages, e.message(session.RoleAssistant, t.AgentResponse))
			}
			s.RecordFiles(t.FilesChanged...)
			if t.UserPrompt != "" {
				s.CurrentTask = clip(t.UserPrompt, taskLength)
			}
			s.LastActivity = now

			// The goal is checked on every turn, whatever state the session
			// is in; only sending the next prompt depends on the state.
			if s.LoopEnabled && e.goalReached(s, t.AgentResponse) {
				s.LoopEnabled = false
				loop = LoopGoalAchieved
			}
			if s.InReviewCycle && strings.Contains(t.AgentResponse, ReviewCompleteMarker) {
				s.ReviewSatisfied = true
			}

			// A turn can only end on an active session.
			if s.State != session.StateActive {
				e.resume(s)
			}
			if res := e.transition(s, lifecycle.EventTurnEnd); !res.Success {
				return nil
			}

			if s.InReviewCycle {
				e.transition(s, lifecycle.EventCheckReview)
			} else {
				e.transition(s, lifecycle.EventEvaluate)
			}

			switch s.State {
			case session.StateReviewPending:
				review = e.reviewStep(s)
			case session.StateReadyForLoop:
				if s.LoopEnabled {
					loop, prompt = e.loopStep(s)
				} else {
					e.transition(s, lifecycle.EventEvaluate)
				}
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	out := &TurnOutcome{Session: s, Created: created, Loop: loop}

	preview := clip(t.AgentResponse, turnPreviewLength)
	if preview == "" {
		preview = "Turn complete"
	}
	e.notify(ctx, notify.Notification{
		Kind:          notify.KindTurnComplete,
		Title:         "Agent Turn Complete",
		Message:       preview,
		SessionID:     s.ID,
		WorkspaceName: s.WorkspaceName,
	})

	out.Spawned = e.finishLoop(ctx, s, loop, prompt)
	if review != "" {
		out.ReviewSent = e.finishReview(ctx, s, review)
		out.Spawned = out.Spawned || out.ReviewSent
	}

	if s.State == session.StateIdle {
		sent, err := e.ProcessQueued(ctx, s.ID)
		if err != nil {
			e.logger.WithSession(s.ID).Warn("queued message processing failed", "error", err)
		}
		out.QueuedSent = sent
		out.Spawned = out.Spawned || sent
	}
	return out, nil
}

// Start is a session-start signal from the agent.
type Start struct {
	ConversationID string
	WorkspaceRoot  string
	// PID is the agent process; zero leaves the recorded PID unchanged.
	PID int
}

// StartOutcome reports what HandleSessionStart did.
type StartOutcome struct {
	Session    *session.Session
	Created    bool
	Transition lifecycle.Result
	// DashboardMessages were waiting for the agent and have been drained.
	DashboardMessages []string
	// InitialPrompt is the pending prompt recorded on a new session.
	InitialPrompt string
}

// HandleSessionStart registers the session (creating it if needed), marks
// it active, records the agent PID and drains messages left for the agent
// on the dashboard. A session left settled or mid-prompt by an earlier turn
// is recovered to active. A new session also picks up its workspace's
// pending initial prompt.
func (e *Engine) HandleSessionStart(ctx context.Context, st Start) (*StartOutcome, error) {
	if st.ConversationID == "" {
		st.ConversationID = unknownConversation
	}

	out := &StartOutcome{}
	s, created, err := e.store.UpdateOrCreate(ctx, st.ConversationID, e.newSession(st.ConversationID, st.WorkspaceRoot),
		func(s *session.Session) error {
			out.Transition = e.resume(s)
			if st.PID > 0 {
				pid := st.PID
				s.AgentPID = &pid
			}
			s.LastActivity = e.store.Now()
			return nil
		})
	if err != nil {
		return nil, err
	}
	out.Session, out.Created = s, created

	if created && st.WorkspaceRoot != "" {
		prompt, err := e.store.TakePendingPrompt(ctx, st.WorkspaceRoot)
		if err != nil {
			e.logger.WithSession(s.ID).Warn("failed to read pending prompt", "error", err)
		} else if prompt != "" {
			if _, err := e.store.AppendMessage(ctx, s.ID, e.message(session.RoleUser, prompt)); err != nil {
				return out, err
			}
			out.InitialPrompt = prompt
		}
	}

	msgs, err := e.store.TakeDashboardMessages(ctx, s.ID)
	if err != nil {
		return out, err
	}
	out.DashboardMessages = msgs

	e.logger.WithSession(s.ID).Info("session started",
		"created", created,
		"from", string(out.Transition.OldState),
		"to", string(out.Transition.NewState),
		"dashboard_messages", len(msgs))
	return out, nil
}

// ToolUse is a tool invocation reported by the pre- or post-tool-use hook.
type ToolUse struct {
	ConversationID string
	Name           string
	// Input is the tool's raw JSON input.
	Input json.RawMessage
	// Post marks a post-tool-use report, which is also logged as a system
	// message.
	Post bool
}

// HandleToolUse records a tool on an existing session and refreshes its
// activity. It reports whether the session exists.
func (e *Engine) HandleToolUse(ctx context.Context, tu ToolUse) (bool, error) {
	if tu.Name == "" {
		tu.Name = unknownToolName
	}
	_, found, err := e.store.Update(ctx, tu.ConversationID, func(s *session.Session) error {
		s.RecordTool(tu.Name)
		if tu.Post {
			s.Messages = append(s.Messages, e.message(session.RoleSystem, toolMessage(tu.Name, tu.Input)))
		}
		s.LastActivity = e.store.Now()
		return nil
	})
	return found, err
}

func toolMessage(name string, input json.RawMessage) string {
	msg := fmt.Sprintf("Tool: **%s**", name)
	preview, ok := inputPreview(input)
	if !ok {
		return msg
	}
	return msg + "\n```json\n" + preview + "\n```"
}

// inputPreview compacts a tool's JSON input and clips it. Empty inputs have
// no preview.
func inputPreview(input json.RawMessage) (string, bool) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, input); err != nil {
		return "", false
	}
	switch buf.String() {
	case "", "null", "{}", "[]", `""`, "false", "0":
		return "", false
	}
	full := buf.String()
	if clipped := clip(full, toolPreviewLength); clipped != full {
		return clipped + "...", true
	}
	return full, true
}
