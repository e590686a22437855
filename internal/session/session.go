// Package session defines the tracked agent session record and the
// file-backed store that shares it between the long-running dashboard
// process and the short-lived hook processes launched by the agent.
package session

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/Iron-Ham/agentdash/internal/errors"
)

// State is a session's lifecycle state. The set is closed: every persisted
// session carries one of the constants below.
type State string

const (
	StateIdle          State = "idle"
	StateActive        State = "active"
	StateTurnComplete  State = "turn_complete"
	StateReviewPending State = "review_pending"
	StateUnderReview   State = "under_review"
	StateReadyForLoop  State = "ready_for_loop"
	StateLoopPrompting State = "loop_prompting"
	StateError         State = "error"
)

// AllStates returns every lifecycle state in declaration order.
func AllStates() []State {
	return []State{
		StateIdle, StateActive, StateTurnComplete, StateReviewPending,
		StateUnderReview, StateReadyForLoop, StateLoopPrompting, StateError,
	}
}

// Valid reports whether s is a member of the closed state set.
func (s State) Valid() bool {
	return slices.Contains(AllStates(), s)
}

// IsBusy reports whether the agent process is presumed to be working.
func (s State) IsBusy() bool {
	switch s {
	case StateActive, StateUnderReview, StateLoopPrompting:
		return true
	default:
		return false
	}
}

// Status projects the state onto the simplified three-value status.
func (s State) Status() Status {
	switch {
	case s.IsBusy():
		return StatusActive
	case s == StateError:
		return StatusStopped
	default:
		return StatusIdle
	}
}

// ParseState converts a string into a State, rejecting unknown values.
func ParseState(v string) (State, error) {
	s := State(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", errors.ErrInvalidState, v)
	}
	return s, nil
}

// Status is the legacy simplified status. It is always derived from State
// and never stored as the source of truth.
type Status string

const (
	StatusActive  Status = "active"
	StatusIdle    Status = "idle"
	StatusStopped Status = "stopped"
)

// Role tags a message in the session log.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleDashboard Role = "dashboard"
	// RoleQueued marks user input deferred until the session is idle.
	RoleQueued Role = "queued"
)

// Message is one entry in a session's conversation log.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ID        string    `json:"message_id,omitempty"`
	ToolCalls []string  `json:"tool_calls,omitempty"`
}

// Session is one tracked agent conversation.
type Session struct {
	ID             string    `json:"session_id"`
	ConversationID string    `json:"conversation_id"`
	WorkspaceRoot  string    `json:"workspace_root"`
	WorkspaceName  string    `json:"workspace_name"`
	State          State     `json:"state"`
	StartedAt      time.Time `json:"started_at"`
	LastActivity   time.Time `json:"last_activity"`
	CurrentTask    string    `json:"current_task,omitempty"`

	Messages                 []Message `json:"messages"`
	PendingDashboardMessages []string  `json:"pending_dashboard_messages"`
	FilesChanged             []string  `json:"files_changed"`
	ToolsUsed                []string  `json:"tools_used"`
	AgentPID                 *int      `json:"agent_pid"`

	LoopEnabled    bool       `json:"loop_enabled"`
	LoopCount      int        `json:"loop_count"`
	LoopPromptName string     `json:"loop_prompt_name,omitempty"`
	LoopStartedAt  *time.Time `json:"loop_started_at"`

	ReviewEnabled       bool     `json:"review_enabled"`
	ReviewIteration     int      `json:"review_iteration"`
	MaxReviewIterations int      `json:"max_review_iterations"`
	ReviewSatisfied     bool     `json:"review_satisfied"`
	InReviewCycle       bool     `json:"in_review_cycle"`
	ReviewConstraints   string   `json:"review_constraints,omitempty"`
	LastReviewedFiles   []string `json:"last_reviewed_files"`
}

// DefaultMaxReviewIterations is applied to sessions created without an
// explicit review bound.
const DefaultMaxReviewIterations = 3

// New creates an idle session for a conversation. The session ID is the
// conversation ID.
func New(conversationID, workspaceRoot string, now time.Time) *Session {
	name := "unknown"
	if workspaceRoot != "" {
		name = filepath.Base(workspaceRoot)
	}
	return &Session{
		ID:                  conversationID,
		ConversationID:      conversationID,
		WorkspaceRoot:       workspaceRoot,
		WorkspaceName:       name,
		State:               StateIdle,
		StartedAt:           now,
		LastActivity:        now,
		MaxReviewIterations: DefaultMaxReviewIterations,
	}
}

// Status returns the simplified status projected from State.
func (s *Session) Status() Status {
	return s.State.Status()
}

// MessageCount returns the number of messages in the log.
func (s *Session) MessageCount() int {
	return len(s.Messages)
}

const previewLength = 100

// LastMessagePreview returns the first 100 characters of the newest message,
// with "..." appended when truncated.
func (s *Session) LastMessagePreview() string {
	if len(s.Messages) == 0 {
		return ""
	}
	return truncate(s.Messages[len(s.Messages)-1].Content, previewLength)
}

func truncate(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

// QueuedMessages returns the indices of queued messages in log order.
func (s *Session) QueuedMessages() []int {
	var idx []int
	for i, m := range s.Messages {
		if m.Role == RoleQueued {
			idx = append(idx, i)
		}
	}
	return idx
}

// ClearQueue drops every queued message and reports how many were removed.
func (s *Session) ClearQueue() int {
	kept := s.Messages[:0:0]
	removed := 0
	for _, m := range s.Messages {
		if m.Role == RoleQueued {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	if removed > 0 {
		s.Messages = kept
	}
	return removed
}

// RecordTool adds name to ToolsUsed unless already present.
func (s *Session) RecordTool(name string) {
	if name == "" || slices.Contains(s.ToolsUsed, name) {
		return
	}
	s.ToolsUsed = append(s.ToolsUsed, name)
}

// RecordFiles adds paths to FilesChanged, skipping duplicates.
func (s *Session) RecordFiles(paths ...string) {
	for _, p := range paths {
		if p != "" && !slices.Contains(s.FilesChanged, p) {
			s.FilesChanged = append(s.FilesChanged, p)
		}
	}
}

// UnreviewedFiles returns the changed files not covered by the last
// completed review, in change order.
func (s *Session) UnreviewedFiles() []string {
	var out []string
	for _, f := range s.FilesChanged {
		if !slices.Contains(s.LastReviewedFiles, f) {
			out = append(out, f)
		}
	}
	return out
}

// EnableLoop starts a fresh loop using the named prompt.
func (s *Session) EnableLoop(promptName string, now time.Time) {
	s.LoopEnabled = true
	s.LoopCount = 0
	s.LoopPromptName = promptName
	started := now
	s.LoopStartedAt = &started
}

// PauseLoop stops the loop but keeps its counter and prompt.
func (s *Session) PauseLoop() {
	s.LoopEnabled = false
}

// ResetLoop zeroes the iteration counter.
func (s *Session) ResetLoop() {
	s.LoopCount = 0
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	c := *s
	c.Messages = cloneMessages(s.Messages)
	c.PendingDashboardMessages = slices.Clone(s.PendingDashboardMessages)
	c.FilesChanged = slices.Clone(s.FilesChanged)
	c.ToolsUsed = slices.Clone(s.ToolsUsed)
	c.LastReviewedFiles = slices.Clone(s.LastReviewedFiles)
	if s.AgentPID != nil {
		pid := *s.AgentPID
		c.AgentPID = &pid
	}
	if s.LoopStartedAt != nil {
		t := *s.LoopStartedAt
		c.LoopStartedAt = &t
	}
	return &c
}

func cloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i, m := range in {
		m.ToolCalls = slices.Clone(m.ToolCalls)
		out[i] = m
	}
	return out
}

// sessionJSON is Session without methods, so the custom (un)marshalers can
// reuse the default encoding.
type sessionJSON Session

// MarshalJSON writes the record along with its projected status for readers
// that only understand the simplified status.
func (s Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		sessionJSON
		Status Status `json:"status"`
	}{sessionJSON(s), s.State.Status()})
}

// UnmarshalJSON decodes a record, rejecting unknown states. Records written
// before lifecycle states existed carry only a status; their state is
// derived from it.
func (s *Session) UnmarshalJSON(data []byte) error {
	var aux struct {
		sessionJSON
		Status Status `json:"status"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.State == "" {
		switch aux.Status {
		case StatusActive:
			aux.State = StateActive
		case StatusStopped:
			aux.State = StateError
		default:
			aux.State = StateIdle
		}
	}
	if _, err := ParseState(string(aux.State)); err != nil {
		return err
	}

	*s = Session(aux.sessionJSON)
	return nil
}
