// Package lifecycle holds the transition table that governs what a session
// may do next, and the evaluator that applies events to sessions.
//
// Guards and actions are closed sets of named kinds dispatched by switch, so
// the table is plain data: it can be listed, compared, and printed.
package lifecycle

import (
	"slices"

	"github.com/Iron-Ham/agentdash/internal/session"
)

// Event names a lifecycle trigger.
type Event string

const (
	EventSessionStart  Event = "session_start"
	EventTurnEnd       Event = "turn_end"
	EventEvaluate      Event = "evaluate"
	EventSpawnReviewer Event = "spawn_reviewer"
	EventFeedbackSent  Event = "feedback_sent"
	EventCheckReview   Event = "check_review"
	EventPromptSent    Event = "prompt_sent"
	EventError         Event = "error"
	EventReset         Event = "reset"
	EventForceIdle     Event = "force_idle"
)

// AllEvents returns every known event.
func AllEvents() []Event {
	return []Event{
		EventSessionStart, EventTurnEnd, EventEvaluate, EventSpawnReviewer,
		EventFeedbackSent, EventCheckReview, EventPromptSent, EventError,
		EventReset, EventForceIdle,
	}
}

// ParseEvent reports whether name is a known event.
func ParseEvent(name string) (Event, bool) {
	ev := Event(name)
	return ev, slices.Contains(AllEvents(), ev)
}

// Guard is a named condition over session fields.
type Guard int

const (
	GuardNone Guard = iota
	GuardFilesChangedAndReviewEnabled
	GuardNoReviewNeeded
	GuardReviewSatisfied
	GuardReviewNotSatisfied
	GuardLoopEnabled
	GuardLoopDisabled
)

// String returns the guard's name.
func (g Guard) String() string {
	switch g {
	case GuardNone:
		return "none"
	case GuardFilesChangedAndReviewEnabled:
		return "files_changed_and_review_enabled"
	case GuardNoReviewNeeded:
		return "no_review_needed"
	case GuardReviewSatisfied:
		return "review_satisfied"
	case GuardReviewNotSatisfied:
		return "review_not_satisfied"
	case GuardLoopEnabled:
		return "loop_enabled"
	case GuardLoopDisabled:
		return "loop_disabled"
	default:
		return "unknown"
	}
}

// Eval evaluates the guard against s. Unknown guards never pass.
func (g Guard) Eval(s *session.Session) bool {
	switch g {
	case GuardNone:
		return true
	case GuardFilesChangedAndReviewEnabled:
		return needsReview(s)
	case GuardNoReviewNeeded:
		return !needsReview(s)
	case GuardReviewSatisfied:
		return reviewSatisfied(s)
	case GuardReviewNotSatisfied:
		return !reviewSatisfied(s)
	case GuardLoopEnabled:
		return s.LoopEnabled
	case GuardLoopDisabled:
		return !s.LoopEnabled
	default:
		return false
	}
}

func needsReview(s *session.Session) bool {
	return s.ReviewEnabled && len(s.UnreviewedFiles()) > 0
}

func reviewSatisfied(s *session.Session) bool {
	return s.ReviewIteration >= s.MaxReviewIterations || s.ReviewSatisfied
}

// Action is a named side effect applied when a transition fires.
type Action int

const (
	ActionNone Action = iota
	// ActionBeginReview marks the session as in a review cycle and counts the pass.
	ActionBeginReview
	// ActionEndReview leaves the review cycle and records what was reviewed.
	ActionEndReview
	// ActionClearReview discards all review progress.
	ActionClearReview
)

// String returns the action's name.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionBeginReview:
		return "begin_review"
	case ActionEndReview:
		return "end_review"
	case ActionClearReview:
		return "clear_review"
	default:
		return "unknown"
	}
}

// Apply performs the action on s.
func (a Action) Apply(s *session.Session) {
	switch a {
	case ActionBeginReview:
		// A new cycle starts its pass count and verdict from scratch.
		if !s.InReviewCycle {
			s.ReviewIteration = 0
			s.ReviewSatisfied = false
		}
		s.InReviewCycle = true
		s.ReviewIteration++
	case ActionEndReview:
		s.InReviewCycle = false
		s.LastReviewedFiles = slices.Clone(s.FilesChanged)
	case ActionClearReview:
		s.InReviewCycle = false
		s.ReviewSatisfied = false
		s.ReviewIteration = 0
	}
}

// Transition is one row of the table.
type Transition struct {
	From   session.State
	Event  Event
	To     session.State
	Guard  Guard
	Action Action
}

// Result reports the outcome of ProcessEvent. An event with no matching row
// is a normal result with Success false, never an error.
type Result struct {
	Success    bool
	OldState   session.State
	NewState   session.State
	Transition *Transition
}

// DefaultTransitions returns the canonical table in evaluation order.
func DefaultTransitions() []Transition {
	return []Transition{
		{From: session.StateIdle, Event: EventSessionStart, To: session.StateActive},
		{From: session.StateActive, Event: EventTurnEnd, To: session.StateTurnComplete},

		{From: session.StateTurnComplete, Event: EventEvaluate, To: session.StateReviewPending, Guard: GuardFilesChangedAndReviewEnabled},
		{From: session.StateTurnComplete, Event: EventEvaluate, To: session.StateReadyForLoop, Guard: GuardNoReviewNeeded},

		{From: session.StateReviewPending, Event: EventSpawnReviewer, To: session.StateUnderReview, Action: ActionBeginReview},
		{From: session.StateUnderReview, Event: EventFeedbackSent, To: session.StateActive},

		{From: session.StateTurnComplete, Event: EventCheckReview, To: session.StateReadyForLoop, Guard: GuardReviewSatisfied, Action: ActionEndReview},
		{From: session.StateTurnComplete, Event: EventCheckReview, To: session.StateReviewPending, Guard: GuardReviewNotSatisfied},

		{From: session.StateReadyForLoop, Event: EventEvaluate, To: session.StateLoopPrompting, Guard: GuardLoopEnabled},
		{From: session.StateReadyForLoop, Event: EventEvaluate, To: session.StateIdle, Guard: GuardLoopDisabled},
		{From: session.StateLoopPrompting, Event: EventPromptSent, To: session.StateActive},

		{From: session.StateActive, Event: EventError, To: session.StateError},
		{From: session.StateUnderReview, Event: EventError, To: session.StateError},
		{From: session.StateLoopPrompting, Event: EventError, To: session.StateError},
		{From: session.StateError, Event: EventReset, To: session.StateIdle, Action: ActionClearReview},

		{From: session.StateTurnComplete, Event: EventForceIdle, To: session.StateIdle, Action: ActionClearReview},
		{From: session.StateReviewPending, Event: EventForceIdle, To: session.StateIdle, Action: ActionClearReview},
		{From: session.StateReadyForLoop, Event: EventForceIdle, To: session.StateIdle, Action: ActionClearReview},
	}
}

// Machine evaluates events against an immutable transition table.
// It holds no per-session state and is safe for concurrent use.
type Machine struct {
	table []Transition
}

// NewMachine returns a machine over the given table, or over
// DefaultTransitions when none is given. The table is copied.
func NewMachine(table ...Transition) *Machine {
	if len(table) == 0 {
		table = DefaultTransitions()
	}
	return &Machine{table: slices.Clone(table)}
}

// Transitions returns a copy of the table.
func (m *Machine) Transitions() []Transition {
	return slices.Clone(m.table)
}

func (m *Machine) match(s *session.Session, ev Event) (Transition, bool) {
	for _, t := range m.table {
		if t.From == s.State && t.Event == ev && t.Guard.Eval(s) {
			return t, true
		}
	}
	return Transition{}, false
}

// ProcessEvent applies the first row whose source state and event match and
// whose guard passes: its action runs, then the session moves to the target
// state. Without a match the session is left untouched.
func (m *Machine) ProcessEvent(s *session.Session, ev Event) Result {
	old := s.State
	t, ok := m.match(s, ev)
	if !ok {
		return Result{OldState: old, NewState: old}
	}

	t.Action.Apply(s)
	s.State = t.To
	return Result{Success: true, OldState: old, NewState: t.To, Transition: &t}
}

// CanTransition reports whether ProcessEvent would succeed, without
// modifying s.
func (m *Machine) CanTransition(s *session.Session, ev Event) bool {
	_, ok := m.match(s, ev)
	return ok
}

// ValidEvents lists, sorted, the events that have at least one row leaving
// state. Guards are not evaluated.
func (m *Machine) ValidEvents(state session.State) []Event {
	var events []Event
	for _, t := range m.table {
		if t.From == state && !slices.Contains(events, t.Event) {
			events = append(events, t.Event)
		}
	}
	slices.Sort(events)
	return events
}
