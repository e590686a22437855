// Package continuation turns lifecycle outcomes and elapsed time into
// follow-up actions: resuming the agent with queued messages or loop
// prompts, ending loops, and recovering sessions that went quiet.
//
// Every decision is made inside a single store update so that concurrent
// hooks and the dashboard never act on the same snapshot twice. Agent
// processes are spawned after the lock is released and never waited on.
package continuation

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/agentdash/internal/config"
	"github.com/Iron-Ham/agentdash/internal/errors"
	"github.com/Iron-Ham/agentdash/internal/event"
	"github.com/Iron-Ham/agentdash/internal/lifecycle"
	"github.com/Iron-Ham/agentdash/internal/logging"
	"github.com/Iron-Ham/agentdash/internal/notify"
	"github.com/Iron-Ham/agentdash/internal/session"
)

// Spawner launches agent processes. Both calls return once the process has
// been started.
type Spawner interface {
	Spawn(ctx context.Context, conversationID, workspaceRoot, message string) error
	SpawnNew(ctx context.Context, workspaceRoot, prompt string) error
}

// Defaults applied when Options leaves a bound unset.
const (
	DefaultTimeout           = 15 * time.Minute
	DefaultMaxLoopIterations = 50
)

// Options are the engine's tunables.
type Options struct {
	// Timeout is how long a busy session may go without activity.
	Timeout time.Duration
	// MaxLoopIterations bounds loop prompts per enabled loop.
	MaxLoopIterations int
	// Prompts is the loop prompt catalog.
	Prompts *config.Catalog
	// CompletionPhrases end a loop when found in a response, ignoring case.
	CompletionPhrases []string
	// ReviewEnabled and MaxReviewIterations seed new sessions.
	ReviewEnabled       bool
	MaxReviewIterations int
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	catalog, err := cfg.Continuation.Catalog()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Timeout:             cfg.Continuation.Timeout(),
		MaxLoopIterations:   cfg.Continuation.MaxLoopIterations,
		Prompts:             catalog,
		CompletionPhrases:   cfg.Continuation.CompletionPhrases,
		ReviewEnabled:       cfg.Review.Enabled,
		MaxReviewIterations: cfg.Review.MaxIterations,
	}, nil
}

func (o *Options) normalize() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxLoopIterations <= 0 {
		o.MaxLoopIterations = DefaultMaxLoopIterations
	}
	if o.Prompts == nil {
		o.Prompts = config.NewCatalog(config.DefaultLoopPrompts()...)
	}
	if o.CompletionPhrases == nil {
		o.CompletionPhrases = config.DefaultCompletionPhrases()
	}
	if o.MaxReviewIterations <= 0 {
		o.MaxReviewIterations = session.DefaultMaxReviewIterations
	}
}

// Engine coordinates continuation for every session in a store.
type Engine struct {
	store    *session.Store
	machine  *lifecycle.Machine
	spawner  Spawner
	notifier notify.Notifier
	bus      *event.Bus
	opts     Options
	logger   *logging.Logger
	newID    func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithMachine replaces the default transition table.
func WithMachine(m *lifecycle.Machine) Option {
	return func(e *Engine) { e.machine = m }
}

// WithNotifier sets where loop and turn notifications go.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithBus publishes session.reset and message.spawned events on bus.
func WithBus(bus *event.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithLogger sets the engine's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an engine over store that launches agents with spawner.
func New(store *session.Store, spawner Spawner, opts Options, options ...Option) *Engine {
	opts.normalize()
	e := &Engine{
		store:    store,
		machine:  lifecycle.NewMachine(),
		spawner:  spawner,
		notifier: notify.Nop{},
		opts:     opts,
		logger:   logging.NopLogger(),
		newID:    uuid.NewString,
	}
	for _, o := range options {
		o(e)
	}
	e.logger = e.logger.WithComponent("continuation")
	return e
}

// Store returns the engine's store.
func (e *Engine) Store() *session.Store { return e.store }

// Machine returns the engine's state machine.
func (e *Engine) Machine() *lifecycle.Machine { return e.machine }

// Options returns the engine's effective options.
func (e *Engine) Options() Options { return e.opts }

func (e *Engine) message(role session.Role, content string) session.Message {
	return session.Message{
		Role:      role,
		Content:   content,
		Timestamp: e.store.Now(),
		ID:        e.newID(),
	}
}

// transition applies ev to s and logs the outcome.
func (e *Engine) transition(s *session.Session, ev lifecycle.Event) lifecycle.Result {
	res := e.machine.ProcessEvent(s, ev)
	log := e.logger.WithSession(s.ID)
	if res.Success {
		log.Debug("state transition", "event", string(ev), "from", string(res.OldState), "to", string(res.NewState))
	} else {
		log.Debug("event ignored", "event", string(ev), "state", string(res.OldState))
	}
	return res
}

func (e *Engine) publish(ev event.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func (e *Engine) notify(ctx context.Context, n notify.Notification) {
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.WithSession(n.SessionID).Warn("notification failed", "kind", string(n.Kind), "error", err)
	}
}

// spawn resumes the session's conversation with message. Failures are
// logged and reported as false.
func (e *Engine) spawn(ctx context.Context, s *session.Session, message, source string) bool {
	log := e.logger.WithSession(s.ID)
	if err := e.spawner.Spawn(ctx, s.ConversationID, s.WorkspaceRoot, message); err != nil {
		logSpawnFailure(log, source, err)
		return false
	}
	log.Info("message spawned", "source", source)
	e.publish(event.NewMessageSpawnedEvent(s.ID, source, message, e.store.Now()))
	return true
}

// logSpawnFailure logs err at the level its severity calls for. Spawn
// errors are warnings; anything unclassified is an error.
func logSpawnFailure(log *logging.Logger, source string, err error) {
	failed := log.With("source", source, "error", err, "retryable", errors.IsRetryable(err))
	if errors.GetSeverity(err) >= errors.SeverityError {
		failed.Error("spawn failed")
		return
	}
	failed.Warn("spawn failed")
}

func (e *Engine) newSession(conversationID, workspaceRoot string) func() *session.Session {
	return func() *session.Session {
		s := session.New(conversationID, workspaceRoot, e.store.Now())
		s.ReviewEnabled = e.opts.ReviewEnabled
		s.MaxReviewIterations = e.opts.MaxReviewIterations
		return s
	}
}

func notFound(id string) error {
	return errors.NewSessionError("no such session", errors.ErrSessionNotFound).WithSessionID(id)
}

// -----------------------------------------------------------------------------
// Timeout sweep
// -----------------------------------------------------------------------------

// Reset describes one session forced idle by the sweep.
type Reset struct {
	SessionID     string
	PreviousState session.State
	IdleMinutes   int
}

// SweepTimeouts forces every busy session that has been inactive for at
// least the timeout back to idle, disables its loop and records why in a
// system message. Each reset session then gets a chance to send its next
// queued message. Sessions that are not busy are never touched, so running
// the sweep again is a no-op.
func (e *Engine) SweepTimeouts(ctx context.Context) ([]Reset, error) {
	now := e.store.Now()
	var resets []Reset

	_, err := e.store.UpdateAll(ctx, func(s *session.Session) (bool, error) {
		if !s.State.IsBusy() {
			return false, nil
		}
		idle := now.Sub(s.LastActivity)
		if idle < e.opts.Timeout {
			return false, nil
		}

		minutes := int(idle / time.Minute)
		prev := s.State
		// The one recovery path outside the transition table: a busy
		// session whose agent went away has no event to deliver.
		s.State = session.StateIdle
		s.LoopEnabled = false
		s.Messages = append(s.Messages, e.message(session.RoleSystem,
			fmt.Sprintf("Session auto-reset to idle after %d minutes of inactivity (was: %s)", minutes, prev)))

		resets = append(resets, Reset{SessionID: s.ID, PreviousState: prev, IdleMinutes: minutes})
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	for _, r := range resets {
		e.logger.WithSession(r.SessionID).Info("session timed out",
			"previous_state", string(r.PreviousState), "idle_minutes", r.IdleMinutes)
		e.publish(event.NewSessionResetEvent(r.SessionID, string(r.PreviousState), r.IdleMinutes, now))
		if _, err := e.ProcessQueued(ctx, r.SessionID); err != nil {
			e.logger.WithSession(r.SessionID).Warn("queued message processing failed", "error", err)
		}
	}
	return resets, nil
}

// -----------------------------------------------------------------------------
// Queued messages
// -----------------------------------------------------------------------------

// ProcessQueued promotes the oldest queued message of an idle session to a
// user message and sends it to the agent. The session is started in the
// same write, so it stops being idle and no second message can be promoted
// until the agent finishes. It reports whether a message was promoted.
func (e *Engine) ProcessQueued(ctx context.Context, id string) (bool, error) {
	var next session.Message
	s, _, err := e.store.Update(ctx, id, func(s *session.Session) error {
		if s.State != session.StateIdle {
			return session.ErrSkipWrite
		}
		queued := s.QueuedMessages()
		if len(queued) == 0 {
			return session.ErrSkipWrite
		}
		s.Messages[queued[0]].Role = session.RoleUser
		next = s.Messages[queued[0]]
		e.transition(s, lifecycle.EventSessionStart)
		s.LastActivity = e.store.Now()
		return nil
	})
	if err != nil || next.Role == "" {
		return false, err
	}

	e.spawn(ctx, s, next.Content, "queue")
	return true, nil
}

// ProcessAllQueued runs ProcessQueued for every idle session holding queued
// messages and returns the IDs that had a message promoted.
func (e *Engine) ProcessAllQueued(ctx context.Context) ([]string, error) {
	all, err := e.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	var promoted []string
	for _, s := range all {
		if s.State != session.StateIdle || len(s.QueuedMessages()) == 0 {
			continue
		}
		ok, err := e.ProcessQueued(ctx, s.ID)
		if err != nil {
			return promoted, err
		}
		if ok {
			promoted = append(promoted, s.ID)
		}
	}
	return promoted, nil
}

// -----------------------------------------------------------------------------
// Loops
// -----------------------------------------------------------------------------

// LoopOutcome is what happened to a session's quality loop.
type LoopOutcome int

const (
	// LoopNone means the loop was not running or not due.
	LoopNone LoopOutcome = iota
	// LoopContinued means the next loop prompt was sent.
	LoopContinued
	// LoopGoalAchieved means the response met the loop's goal.
	LoopGoalAchieved
	// LoopLimitReached means the iteration bound stopped the loop.
	LoopLimitReached
)

func (o LoopOutcome) String() string {
	switch o {
	case LoopNone:
		return "none"
	case LoopContinued:
		return "continued"
	case LoopGoalAchieved:
		return "goal_achieved"
	case LoopLimitReached:
		return "iteration_limit"
	default:
		return "unknown"
	}
}

// goalReached reports whether response ends the session's loop: the
// selected prompt's end condition appears verbatim, or a completion phrase
// appears in any case.
func (e *Engine) goalReached(s *session.Session, response string) bool {
	if response == "" {
		return false
	}
	prompt := e.opts.Prompts.Resolve(s.LoopPromptName)
	if prompt.EndCondition != "" && strings.Contains(response, prompt.EndCondition) {
		return true
	}
	lower := strings.ToLower(response)
	for _, phrase := range e.opts.CompletionPhrases {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// loopStep advances an enabled loop on a session that is ready for it.
// When the bound is reached the loop is disabled and no prompt is returned.
func (e *Engine) loopStep(s *session.Session) (LoopOutcome, string) {
	if !s.LoopEnabled || (s.State != session.StateReadyForLoop && s.State != session.StateLoopPrompting) {
		return LoopNone, ""
	}

	if s.LoopCount >= e.opts.MaxLoopIterations {
		s.LoopEnabled = false
		if s.State == session.StateReadyForLoop {
			e.transition(s, lifecycle.EventEvaluate)
		}
		return LoopLimitReached, ""
	}

	s.LoopCount++
	if s.State == session.StateReadyForLoop {
		e.transition(s, lifecycle.EventEvaluate)
	}
	return LoopContinued, e.opts.Prompts.Resolve(s.LoopPromptName).Prompt
}

// finishLoop performs the side effects of a loop outcome decided under the
// store lock: sending the prompt or announcing completion.
func (e *Engine) finishLoop(ctx context.Context, s *session.Session, outcome LoopOutcome, prompt string) (spawned bool) {
	switch outcome {
	case LoopContinued:
		if !e.spawn(ctx, s, prompt, "loop") {
			return false
		}
		e.markSent(ctx, s.ID, lifecycle.EventPromptSent)
		return true

	case LoopGoalAchieved:
		e.notify(ctx, notify.Notification{
			Kind:          notify.KindLoopComplete,
			Title:         "Loop Complete",
			Message:       fmt.Sprintf("Goal achieved after %d iterations", s.LoopCount),
			SessionID:     s.ID,
			WorkspaceName: s.WorkspaceName,
			Reason:        notify.ReasonGoalAchieved,
			Iterations:    s.LoopCount,
		})

	case LoopLimitReached:
		e.notify(ctx, notify.Notification{
			Kind:          notify.KindLoopComplete,
			Title:         "Loop Complete",
			Message:       fmt.Sprintf("Reached %d iterations", e.opts.MaxLoopIterations),
			SessionID:     s.ID,
			WorkspaceName: s.WorkspaceName,
			Reason:        notify.ReasonIterationLimit,
			Iterations:    s.LoopCount,
		})
	}
	return false
}

// ContinueLoop advances the loop of a session in ready_for_loop or
// loop_prompting. Below the iteration bound it increments the count and
// sends the selected prompt; at the bound it disables the loop and
// announces the limit without spawning.
func (e *Engine) ContinueLoop(ctx context.Context, id string) (LoopOutcome, error) {
	var (
		outcome LoopOutcome
		prompt  string
	)
	s, found, err := e.store.Update(ctx, id, func(s *session.Session) error {
		outcome, prompt = e.loopStep(s)
		if outcome == LoopNone {
			return session.ErrSkipWrite
		}
		return nil
	})
	if err != nil {
		return LoopNone, err
	}
	if !found {
		return LoopNone, notFound(id)
	}

	e.finishLoop(ctx, s, outcome, prompt)
	if outcome == LoopLimitReached && s.State == session.StateIdle {
		if _, err := e.ProcessQueued(ctx, id); err != nil {
			e.logger.WithSession(id).Warn("queued message processing failed", "error", err)
		}
	}
	return outcome, nil
}

// CheckGoalCompletion ends the session's loop if response meets its goal,
// regardless of how many iterations remain.
func (e *Engine) CheckGoalCompletion(ctx context.Context, id, response string) (bool, error) {
	achieved := false
	s, found, err := e.store.Update(ctx, id, func(s *session.Session) error {
		if !s.LoopEnabled || !e.goalReached(s, response) {
			return session.ErrSkipWrite
		}
		s.LoopEnabled = false
		achieved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !found {
		return false, notFound(id)
	}
	if achieved {
		e.finishLoop(ctx, s, LoopGoalAchieved, "")
	}
	return achieved, nil
}

// EnableLoop starts a fresh loop with the named prompt. Unknown names fall
// back to the default prompt when the loop runs.
func (e *Engine) EnableLoop(ctx context.Context, id, promptName string) (*session.Session, bool, error) {
	if _, ok := e.opts.Prompts.Lookup(promptName); !ok {
		e.logger.WithSession(id).Warn("unknown loop prompt, default will be used", "prompt", promptName)
	}
	return e.store.Update(ctx, id, func(s *session.Session) error {
		s.EnableLoop(promptName, e.store.Now())
		return nil
	})
}

// PauseLoop stops the loop, keeping its count.
func (e *Engine) PauseLoop(ctx context.Context, id string) (*session.Session, bool, error) {
	return e.store.Update(ctx, id, func(s *session.Session) error {
		s.PauseLoop()
		return nil
	})
}

// ResetLoop zeroes the loop count.
func (e *Engine) ResetLoop(ctx context.Context, id string) (*session.Session, bool, error) {
	return e.store.Update(ctx, id, func(s *session.Session) error {
		s.ResetLoop()
		return nil
	})
}

// -----------------------------------------------------------------------------
// Operator events
// -----------------------------------------------------------------------------

// ApplyEvent routes an operator event through the state machine. An event
// that matches no transition is returned as an unsuccessful result and
// nothing is written. A session left idle gets its next queued message sent.
func (e *Engine) ApplyEvent(ctx context.Context, id string, ev lifecycle.Event) (lifecycle.Result, bool, error) {
	var res lifecycle.Result
	_, found, err := e.store.Update(ctx, id, func(s *session.Session) error {
		res = e.transition(s, ev)
		if !res.Success {
			return session.ErrSkipWrite
		}
		return nil
	})
	if err != nil || !found {
		return res, found, err
	}

	if res.Success && res.NewState == session.StateIdle {
		if _, err := e.ProcessQueued(ctx, id); err != nil {
			e.logger.WithSession(id).Warn("queued message processing failed", "error", err)
		}
	}
	return res, true, nil
}

// -----------------------------------------------------------------------------
// Operator messages
// -----------------------------------------------------------------------------

// activate moves s to active through the table: settled states are forced
// idle, errors reset, then the session is started. Busy sessions are left
// as they are.
func (e *Engine) activate(s *session.Session) {
	switch s.State {
	case session.StateActive, session.StateUnderReview, session.StateLoopPrompting:
		return
	case session.StateError:
		e.transition(s, lifecycle.EventReset)
	case session.StateTurnComplete, session.StateReviewPending, session.StateReadyForLoop:
		e.transition(s, lifecycle.EventForceIdle)
	}
	e.transition(s, lifecycle.EventSessionStart)
}

func validateResumable(s *session.Session) error {
	if s.ConversationID == "" || s.ConversationID == "unknown" {
		return errors.NewValidationError("session has no conversation id to resume").WithField("conversation_id")
	}
	if s.WorkspaceRoot == "" {
		return errors.NewValidationError("session has no workspace root").WithField("workspace_root")
	}
	return nil
}

// SendMessage records text as a user message, marks the session active and
// resumes the agent with it immediately.
func (e *Engine) SendMessage(ctx context.Context, id, text string) (*session.Session, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.NewValidationError("message is empty").WithField("message")
	}

	s, found, err := e.store.Update(ctx, id, func(s *session.Session) error {
		if err := validateResumable(s); err != nil {
			return err
		}
		s.Messages = append(s.Messages, e.message(session.RoleUser, text))
		s.LastActivity = e.store.Now()
		e.activate(s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound(id)
	}

	if err := e.spawner.Spawn(ctx, s.ConversationID, s.WorkspaceRoot, text); err != nil {
		logSpawnFailure(e.logger.WithSession(id), "user", err)
		return s, err
	}
	e.publish(event.NewMessageSpawnedEvent(s.ID, "user", text, e.store.Now()))
	return s, nil
}

// QueueMessage defers text until the session is idle. If it already is,
// the oldest queued message is sent right away. Blank text is ignored.
func (e *Engine) QueueMessage(ctx context.Context, id, text string) (bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		_, found, err := e.store.Get(ctx, id)
		return found, err
	}

	_, found, err := e.store.Update(ctx, id, func(s *session.Session) error {
		s.Messages = append(s.Messages, e.message(session.RoleQueued, text))
		return nil
	})
	if err != nil || !found {
		return found, err
	}

	if _, err := e.ProcessQueued(ctx, id); err != nil {
		e.logger.WithSession(id).Warn("queued message processing failed", "error", err)
	}
	return true, nil
}

// ClearQueue drops every queued message and returns how many were removed.
func (e *Engine) ClearQueue(ctx context.Context, id string) (int, bool, error) {
	removed := 0
	_, found, err := e.store.Update(ctx, id, func(s *session.Session) error {
		removed = s.ClearQueue()
		if removed == 0 {
			return session.ErrSkipWrite
		}
		return nil
	})
	return removed, found, err
}

// StartNew launches a fresh agent conversation in workspaceRoot. The prompt
// is parked as the workspace's pending prompt so the session-start hook can
// record it as the new session's first message.
func (e *Engine) StartNew(ctx context.Context, workspaceRoot, prompt string) error {
	workspaceRoot = strings.TrimSpace(workspaceRoot)
	prompt = strings.TrimSpace(prompt)
	if workspaceRoot == "" {
		return errors.NewValidationError("working directory is required").WithField("workspace_root")
	}
	if prompt == "" {
		return errors.NewValidationError("prompt is required").WithField("prompt")
	}

	if err := e.store.SetPendingPrompt(ctx, workspaceRoot, prompt); err != nil {
		return err
	}
	if err := e.spawner.SpawnNew(ctx, workspaceRoot, prompt); err != nil {
		if _, clearErr := e.store.TakePendingPrompt(ctx, workspaceRoot); clearErr != nil {
			e.logger.Warn("failed to clear pending prompt", "workspace", workspaceRoot, "error", clearErr)
		}
		return err
	}
	e.publish(event.NewMessageSpawnedEvent("", "new", prompt, e.store.Now()))
	return nil
}

// recentUserMessage reports whether text matches one of the last n user
// messages, ignoring surrounding whitespace.
func recentUserMessage(s *session.Session, text string, n int) bool {
	text = strings.TrimSpace(text)
	recent := s.Messages[max(0, len(s.Messages)-n):]
	return slices.ContainsFunc(recent, func(m session.Message) bool {
		return m.Role == session.RoleUser && strings.TrimSpace(m.Content) == text
	})
}
