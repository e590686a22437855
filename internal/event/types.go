package event

import "time"

// Event is implemented by everything published on a Bus.
type Event interface {
	// EventType identifies the event as "category.action".
	EventType() string
	Timestamp() time.Time
}

// Event types published by the continuation engine.
const (
	TypeSessionReset   = "session.reset"
	TypeLoopComplete   = "loop.complete"
	TypeTurnComplete   = "turn.complete"
	TypeMessageSpawned = "message.spawned"
)

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string, at time.Time) baseEvent {
	return baseEvent{eventType: eventType, timestamp: at}
}

// SessionResetEvent is emitted when the timeout sweep forces a busy session
// back to idle.
type SessionResetEvent struct {
	baseEvent
	SessionID     string
	PreviousState string
	IdleMinutes   int
}

// NewSessionResetEvent creates a SessionResetEvent.
func NewSessionResetEvent(sessionID, previous string, idleMinutes int, at time.Time) SessionResetEvent {
	return SessionResetEvent{
		baseEvent:     newBaseEvent(TypeSessionReset, at),
		SessionID:     sessionID,
		PreviousState: previous,
		IdleMinutes:   idleMinutes,
	}
}

// LoopCompleteEvent is emitted when a quality loop stops on its own,
// either because its goal was met or because it ran out of iterations.
type LoopCompleteEvent struct {
	baseEvent
	SessionID     string
	WorkspaceName string
	Iterations    int
	Reason        string // "goal_achieved" or "iteration_limit"
	Message       string
}

// NewLoopCompleteEvent creates a LoopCompleteEvent.
func NewLoopCompleteEvent(sessionID, workspace string, iterations int, reason, message string, at time.Time) LoopCompleteEvent {
	return LoopCompleteEvent{
		baseEvent:     newBaseEvent(TypeLoopComplete, at),
		SessionID:     sessionID,
		WorkspaceName: workspace,
		Iterations:    iterations,
		Reason:        reason,
		Message:       message,
	}
}

// TurnCompleteEvent is emitted after the agent finishes a turn.
type TurnCompleteEvent struct {
	baseEvent
	SessionID     string
	WorkspaceName string
	Message       string
}

// NewTurnCompleteEvent creates a TurnCompleteEvent.
func NewTurnCompleteEvent(sessionID, workspace, message string, at time.Time) TurnCompleteEvent {
	return TurnCompleteEvent{
		baseEvent:     newBaseEvent(TypeTurnComplete, at),
		SessionID:     sessionID,
		WorkspaceName: workspace,
		Message:       message,
	}
}

// MessageSpawnedEvent is emitted when a message is handed to a new agent
// process. Source names what produced the message: "queue", "loop", "user"
// or "new".
type MessageSpawnedEvent struct {
	baseEvent
	SessionID string
	Source    string
	Content   string
}

// NewMessageSpawnedEvent creates a MessageSpawnedEvent.
func NewMessageSpawnedEvent(sessionID, source, content string, at time.Time) MessageSpawnedEvent {
	return MessageSpawnedEvent{
		baseEvent: newBaseEvent(TypeMessageSpawned, at),
		SessionID: sessionID,
		Source:    source,
		Content:   content,
	}
}
