// Package errors provides centralized error definitions and error handling utilities
// for agentdash. It defines domain-specific errors, error constructors with context
// wrapping, and error classification helpers.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - SessionError: errors raised by the session store (locking, persistence)
//   - SpawnError: errors raised while launching an agent process
//
// Semantic errors represent common error conditions:
//   - ValidationError: invalid input or state
//
// Not-found lookups and unmatched state transitions are NOT errors in this
// codebase. Store lookups report a boolean and the state machine reports a
// failed result; callers decide how to surface those outcomes.
//
// # Usage
//
//	err := errors.NewSessionError("failed to lock store", cause).WithSessionID("abc123")
//
//	if errors.Is(err, errors.ErrLockFailed) { ... }
//
//	var sessionErr *errors.SessionError
//	if errors.As(err, &sessionErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Session-related sentinel errors
var (
	// ErrSessionNotFound indicates that a session could not be found. Store
	// methods report absence as a boolean; this sentinel is for callers that
	// need to turn that boolean into an error of their own.
	ErrSessionNotFound = New("session not found")
	// ErrStatusConflict indicates a caller tried to record a status that
	// disagrees with the one derived from the session's lifecycle state.
	ErrStatusConflict = New("status does not match lifecycle state")
	// ErrInvalidState indicates a persisted state outside the closed state set.
	ErrInvalidState = New("invalid lifecycle state")
	// ErrLockFailed indicates the store's advisory lock could not be taken.
	ErrLockFailed = New("failed to acquire store lock")
	// ErrPersistFailed indicates the session collection could not be written.
	ErrPersistFailed = New("failed to persist sessions")
)

// Agent-related sentinel errors
var (
	// ErrSpawnFailed indicates the agent process could not be launched.
	ErrSpawnFailed = New("agent spawn failed")
	// ErrAgentNotInstalled indicates the agent binary is not on PATH.
	ErrAgentNotInstalled = New("agent binary not found")
)

// General sentinel errors
var (
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// classified is implemented by every error type in this package.
type classified interface {
	error
	Severity() Severity
	IsRetryable() bool
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// SessionError represents errors related to session persistence.
//
// Example:
//
//	err := errors.NewSessionError("failed to write sessions", errors.ErrPersistFailed)
//	err = err.WithSessionID("abc123")
//	fmt.Println(err) // "session error [session=abc123]: failed to write sessions: failed to persist sessions"
type SessionError struct {
	baseError
	SessionID string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithSessionID adds a session ID to the error context.
func (e *SessionError) WithSessionID(id string) *SessionError {
	e.SessionID = id
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *SessionError) WithRetryable(r bool) *SessionError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	prefix := "session error"
	if e.SessionID != "" {
		prefix = fmt.Sprintf("session error [session=%s]", e.SessionID)
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// SpawnError represents a failure to launch an agent process.
//
// Example:
//
//	err := errors.NewSpawnError("start failed", cause).WithConversation("c-1").WithWorkspace("/src/app")
type SpawnError struct {
	baseError
	ConversationID string
	WorkspaceRoot  string
}

// NewSpawnError creates a new SpawnError. Spawn failures are retryable: the
// next hook or sweep re-evaluates the session and may try again.
func NewSpawnError(message string, cause error) *SpawnError {
	return &SpawnError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityWarning,
			retryable: true,
		},
	}
}

// WithConversation adds the conversation being resumed to the error context.
func (e *SpawnError) WithConversation(id string) *SpawnError {
	e.ConversationID = id
	return e
}

// WithWorkspace adds the workspace root to the error context.
func (e *SpawnError) WithWorkspace(root string) *SpawnError {
	e.WorkspaceRoot = root
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *SpawnError) WithRetryable(r bool) *SpawnError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *SpawnError) Error() string {
	var parts []string
	if e.ConversationID != "" {
		parts = append(parts, fmt.Sprintf("conversation=%s", e.ConversationID))
	}
	if e.WorkspaceRoot != "" {
		parts = append(parts, fmt.Sprintf("workspace=%s", e.WorkspaceRoot))
	}

	prefix := "spawn error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("spawn error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target. Every SpawnError matches
// ErrSpawnFailed.
func (e *SpawnError) Is(target error) bool {
	if _, ok := target.(*SpawnError); ok {
		return true
	}
	if target == ErrSpawnFailed {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid input.
//
// Example:
//
//	err := errors.NewValidationError("unknown event").WithField("event").WithValue("bogus")
//	fmt.Println(err) // "validation error [field=event, value=bogus]: unknown event"
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:  message,
			cause:    ErrInvalidInput,
			severity: SeverityWarning,
		},
	}
}

// WithField sets the name of the offending field.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue sets the offending value.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	if len(parts) > 0 {
		return fmt.Sprintf("validation error [%s]: %s", strings.Join(parts, ", "), e.message)
	}
	return fmt.Sprintf("validation error: %s", e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on the next external trigger.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var c classified
	if As(err, &c) {
		return c.IsRetryable()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't come from this package.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var c classified
	if As(err, &c) {
		return c.Severity()
	}
	return SeverityError
}

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
