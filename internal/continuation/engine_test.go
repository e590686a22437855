package continuation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/agentdash/internal/config"
	"github.com/Iron-Ham/agentdash/internal/errors"
	"github.com/Iron-Ham/agentdash/internal/event"
	"github.com/Iron-Ham/agentdash/internal/lifecycle"
	"github.com/Iron-Ham/agentdash/internal/logging"
	"github.com/Iron-Ham/agentdash/internal/notify"
	"github.com/Iron-Ham/agentdash/internal/session"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type spawnCall struct {
	ConversationID string
	WorkspaceRoot  string
	Message        string
	New            bool
}

type fakeSpawner struct {
	mu    sync.Mutex
	calls []spawnCall
	err   error
}

func (f *fakeSpawner) Spawn(_ context.Context, conversationID, workspaceRoot, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, spawnCall{ConversationID: conversationID, WorkspaceRoot: workspaceRoot, Message: message})
	return f.err
}

func (f *fakeSpawner) SpawnNew(_ context.Context, workspaceRoot, prompt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, spawnCall{WorkspaceRoot: workspaceRoot, Message: prompt, New: true})
	return f.err
}

func (f *fakeSpawner) Calls() []spawnCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]spawnCall(nil), f.calls...)
}

type fakeNotifier struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, n)
	return nil
}

func (f *fakeNotifier) ofKind(kind notify.Kind) []notify.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notify.Notification
	for _, n := range f.got {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type harness struct {
	engine   *Engine
	store    *session.Store
	clock    *fakeClock
	spawner  *fakeSpawner
	notifier *fakeNotifier
}

func newHarness(t *testing.T, opts Options, extra ...Option) *harness {
	t.Helper()
	clock := &fakeClock{now: t0}
	store, err := session.NewStore(t.TempDir(), session.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	h := &harness{store: store, clock: clock, spawner: &fakeSpawner{}, notifier: &fakeNotifier{}}
	options := append([]Option{WithNotifier(h.notifier)}, extra...)
	h.engine = New(store, h.spawner, opts, options...)
	return h
}

func (h *harness) put(t *testing.T, s *session.Session) {
	t.Helper()
	if err := h.store.Upsert(context.Background(), s); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
}

func (h *harness) get(t *testing.T, id string) *session.Session {
	t.Helper()
	s, ok, err := h.store.Get(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("Get(%s) = %v, %v", id, ok, err)
	}
	return s
}

func newSession(state session.State) *session.Session {
	s := session.New("c-1", "/src/app", t0)
	s.State = state
	return s
}

func TestOptionsDefaults(t *testing.T) {
	h := newHarness(t, Options{})
	opts := h.engine.Options()
	if opts.Timeout != 15*time.Minute || opts.MaxLoopIterations != 50 {
		t.Errorf("defaults = %v / %d", opts.Timeout, opts.MaxLoopIterations)
	}
	if len(opts.CompletionPhrases) != len(config.DefaultCompletionPhrases()) {
		t.Errorf("completion phrases = %v", opts.CompletionPhrases)
	}
	if _, ok := opts.Prompts.Lookup("Code Review"); !ok {
		t.Error("default catalog missing")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Continuation.TimeoutMinutes = 30
	cfg.Continuation.MaxLoopIterations = 7
	cfg.Review.Enabled = true

	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Timeout != 30*time.Minute || opts.MaxLoopIterations != 7 || !opts.ReviewEnabled {
		t.Errorf("OptionsFromConfig() = %+v", opts)
	}
}

// Timeout sweep

func TestSweepTimeouts_ResetsStaleBusySession(t *testing.T) {
	h := newHarness(t, Options{Timeout: 15 * time.Minute})
	ctx := context.Background()

	stale := newSession(session.StateActive)
	stale.LoopEnabled = true
	h.put(t, stale)

	recent := newSession(session.StateUnderReview)
	recent.ID = "c-2"
	recent.LastActivity = t0.Add(10 * time.Minute)
	h.put(t, recent)

	oldIdle := newSession(session.StateTurnComplete)
	oldIdle.ID = "c-3"
	h.put(t, oldIdle)

	h.clock.Advance(20 * time.Minute)

	resets, err := h.engine.SweepTimeouts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(resets) != 1 || resets[0].SessionID != "c-1" || resets[0].IdleMinutes != 20 || resets[0].PreviousState != session.StateActive {
		t.Fatalf("resets = %+v", resets)
	}

	got := h.get(t, "c-1")
	if got.State != session.StateIdle || got.LoopEnabled {
		t.Errorf("state = %s, loop = %v", got.State, got.LoopEnabled)
	}
	last := got.Messages[len(got.Messages)-1]
	want := "Session auto-reset to idle after 20 minutes of inactivity (was: active)"
	if last.Role != session.RoleSystem || last.Content != want {
		t.Errorf("system message = %+v", last)
	}
	if last.ID == "" {
		t.Error("system message has no ID")
	}

	if s := h.get(t, "c-2"); s.State != session.StateUnderReview {
		t.Errorf("recent session state = %s", s.State)
	}
	if s := h.get(t, "c-3"); s.State != session.StateTurnComplete {
		t.Errorf("non-busy session state = %s", s.State)
	}
}

func TestSweepTimeouts_Idempotent(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.put(t, newSession(session.StateLoopPrompting))
	h.clock.Advance(time.Hour)

	if _, err := h.engine.SweepTimeouts(ctx); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(h.store.Path())
	if err != nil {
		t.Fatal(err)
	}

	h.clock.Advance(time.Hour)
	resets, err := h.engine.SweepTimeouts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	after, err := os.ReadFile(h.store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if len(resets) != 0 {
		t.Errorf("second sweep reset %d sessions", len(resets))
	}
	if string(before) != string(after) {
		t.Error("second sweep modified the store")
	}
}

func TestSweepTimeouts_SendsQueuedMessage(t *testing.T) {
	bus := event.NewBus(nil)
	var published []string
	bus.SubscribeAll(func(e event.Event) { published = append(published, e.EventType()) })

	h := newHarness(t, Options{}, WithBus(bus))
	s := newSession(session.StateActive)
	s.Messages = []session.Message{{Role: session.RoleQueued, Content: "next task", Timestamp: t0}}
	h.put(t, s)
	h.clock.Advance(16 * time.Minute)

	if _, err := h.engine.SweepTimeouts(context.Background()); err != nil {
		t.Fatal(err)
	}

	calls := h.spawner.Calls()
	if len(calls) != 1 || calls[0].Message != "next task" {
		t.Fatalf("spawn calls = %+v", calls)
	}
	got := h.get(t, "c-1")
	if got.State != session.StateActive {
		t.Errorf("state after promotion = %s", got.State)
	}
	if !got.LastActivity.Equal(h.clock.Now()) {
		t.Errorf("last activity not refreshed: %v", got.LastActivity)
	}
	if strings.Join(published, ",") != "session.reset,message.spawned" {
		t.Errorf("published = %v", published)
	}
}

// Queued messages

func TestProcessQueued_PromotesOneMessage(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	s := newSession(session.StateIdle)
	s.Messages = []session.Message{
		{Role: session.RoleUser, Content: "hello", Timestamp: t0},
		{Role: session.RoleQueued, Content: "first", Timestamp: t0},
		{Role: session.RoleAssistant, Content: "hi", Timestamp: t0},
		{Role: session.RoleQueued, Content: "second", Timestamp: t0},
	}
	h.put(t, s)

	ok, err := h.engine.ProcessQueued(ctx, "c-1")
	if err != nil || !ok {
		t.Fatalf("ProcessQueued() = %v, %v", ok, err)
	}
	got := h.get(t, "c-1")
	if got.Messages[1].Role != session.RoleUser || got.Messages[3].Role != session.RoleQueued {
		t.Errorf("messages = %+v", got.Messages)
	}
	calls := h.spawner.Calls()
	if len(calls) != 1 || calls[0].Message != "first" || calls[0].ConversationID != "c-1" || calls[0].WorkspaceRoot != "/src/app" {
		t.Fatalf("spawn calls = %+v", calls)
	}

	// The session is busy now, so nothing more goes out.
	ok, err = h.engine.ProcessQueued(ctx, "c-1")
	if err != nil || ok {
		t.Errorf("second ProcessQueued() = %v, %v", ok, err)
	}
	if n := len(h.spawner.Calls()); n != 1 {
		t.Errorf("spawn count = %d, want 1", n)
	}

	// Once idle again, the next one in log order goes.
	if _, _, err := h.store.Update(ctx, "c-1", func(s *session.Session) error {
		s.State = session.StateIdle
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if ok, _ := h.engine.ProcessQueued(ctx, "c-1"); !ok {
		t.Fatal("second message not promoted")
	}
	if calls := h.spawner.Calls(); calls[1].Message != "second" {
		t.Errorf("second spawn = %+v", calls[1])
	}
}

func TestProcessQueued_NoOp(t *testing.T) {
	tests := []struct {
		name  string
		state session.State
		msgs  []session.Message
	}{
		{"busy", session.StateActive, []session.Message{{Role: session.RoleQueued, Content: "x"}}},
		{"settled but not idle", session.StateReviewPending, []session.Message{{Role: session.RoleQueued, Content: "x"}}},
		{"nothing queued", session.StateIdle, []session.Message{{Role: session.RoleUser, Content: "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			s := newSession(tt.state)
			s.Messages = tt.msgs
			h.put(t, s)

			ok, err := h.engine.ProcessQueued(context.Background(), "c-1")
			if err != nil || ok {
				t.Errorf("ProcessQueued() = %v, %v", ok, err)
			}
			if len(h.spawner.Calls()) != 0 {
				t.Error("unexpected spawn")
			}
		})
	}

	h := newHarness(t, Options{})
	if ok, err := h.engine.ProcessQueued(context.Background(), "missing"); ok || err != nil {
		t.Errorf("ProcessQueued(missing) = %v, %v", ok, err)
	}
}

func TestProcessQueued_SpawnFailureKeepsPromotion(t *testing.T) {
	h := newHarness(t, Options{})
	h.spawner.err = errors.NewSpawnError("boom", nil)

	s := newSession(session.StateIdle)
	s.Messages = []session.Message{{Role: session.RoleQueued, Content: "x"}}
	h.put(t, s)

	ok, err := h.engine.ProcessQueued(context.Background(), "c-1")
	if err != nil || !ok {
		t.Fatalf("ProcessQueued() = %v, %v", ok, err)
	}
	if got := h.get(t, "c-1"); got.Messages[0].Role != session.RoleUser {
		t.Errorf("role = %s", got.Messages[0].Role)
	}
}

func TestProcessAllQueued(t *testing.T) {
	h := newHarness(t, Options{})
	for _, id := range []string{"a", "b", "c"} {
		s := session.New(id, "/src/"+id, t0)
		if id != "c" {
			s.Messages = []session.Message{{Role: session.RoleQueued, Content: "for " + id}}
		}
		h.put(t, s)
	}

	promoted, err := h.engine.ProcessAllQueued(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(promoted, ",") != "a,b" {
		t.Errorf("promoted = %v", promoted)
	}
	if n := len(h.spawner.Calls()); n != 2 {
		t.Errorf("spawn count = %d", n)
	}
}

// Loops

func activeLoopSession(count int, prompt string) *session.Session {
	s := newSession(session.StateActive)
	s.EnableLoop(prompt, t0)
	s.LoopCount = count
	return s
}

func TestHandleTurn_IterationLimit(t *testing.T) {
	h := newHarness(t, Options{MaxLoopIterations: 50})
	ctx := context.Background()
	h.put(t, activeLoopSession(49, "Code Review"))

	out, err := h.engine.HandleTurn(ctx, Turn{ConversationID: "c-1", WorkspaceRoot: "/src/app", AgentResponse: "fixed two bugs"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Loop != LoopContinued || !out.Spawned {
		t.Fatalf("first turn outcome = %+v", out)
	}
	got := h.get(t, "c-1")
	if got.LoopCount != 50 || !got.LoopEnabled || got.State != session.StateActive {
		t.Fatalf("after continue: count=%d enabled=%v state=%s", got.LoopCount, got.LoopEnabled, got.State)
	}
	calls := h.spawner.Calls()
	review, _ := h.engine.Options().Prompts.Lookup("Code Review")
	if len(calls) != 1 || calls[0].Message != review.Prompt {
		t.Fatalf("spawn calls = %+v", calls)
	}

	out, err = h.engine.HandleTurn(ctx, Turn{ConversationID: "c-1", AgentResponse: "more fixes"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Loop != LoopLimitReached || out.Spawned {
		t.Fatalf("second turn outcome = %+v", out)
	}
	got = h.get(t, "c-1")
	if got.LoopEnabled || got.LoopCount != 50 || got.State != session.StateIdle {
		t.Errorf("after limit: count=%d enabled=%v state=%s", got.LoopCount, got.LoopEnabled, got.State)
	}
	if n := len(h.spawner.Calls()); n != 1 {
		t.Errorf("spawn count = %d, want 1", n)
	}

	done := h.notifier.ofKind(notify.KindLoopComplete)
	if len(done) != 1 || done[0].Message != "Reached 50 iterations" || done[0].Reason != notify.ReasonIterationLimit {
		t.Errorf("loop notifications = %+v", done)
	}
	if len(h.notifier.ofKind(notify.KindTurnComplete)) != 2 {
		t.Error("expected a turn notification per turn")
	}
}

func TestHandleTurn_EndConditionStopsLoop(t *testing.T) {
	catalog := config.NewCatalog(config.LoopPrompt{Name: "custom", Prompt: "keep going", EndCondition: "LOOP_COMPLETE: Done."})
	h := newHarness(t, Options{MaxLoopIterations: 50, Prompts: catalog, CompletionPhrases: []string{}})
	h.put(t, activeLoopSession(3, "custom"))

	out, err := h.engine.HandleTurn(context.Background(), Turn{
		ConversationID: "c-1",
		AgentResponse:  "Everything passes.\nLOOP_COMPLETE: Done.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Loop != LoopGoalAchieved || out.Spawned {
		t.Fatalf("outcome = %+v", out)
	}
	got := h.get(t, "c-1")
	if got.LoopEnabled || got.LoopCount != 3 || got.State != session.StateIdle {
		t.Errorf("count=%d enabled=%v state=%s", got.LoopCount, got.LoopEnabled, got.State)
	}
	if len(h.spawner.Calls()) != 0 {
		t.Error("spawned after goal was met")
	}
	done := h.notifier.ofKind(notify.KindLoopComplete)
	if len(done) != 1 || done[0].Message != "Goal achieved after 3 iterations" || done[0].Title != "Loop Complete" {
		t.Errorf("loop notifications = %+v", done)
	}
}

func TestGoalReached(t *testing.T) {
	catalog := config.NewCatalog(config.LoopPrompt{Name: "custom", Prompt: "p", EndCondition: "LOOP_COMPLETE: Done."})
	h := newHarness(t, Options{Prompts: catalog, CompletionPhrases: []string{"all done"}})

	tests := []struct {
		name     string
		prompt   string
		response string
		want     bool
	}{
		{"end condition verbatim", "custom", "ok LOOP_COMPLETE: Done.", true},
		{"end condition wrong case", "custom", "loop_complete: done.", false},
		{"phrase any case", "custom", "I think we are ALL DONE here", true},
		{"no match", "custom", "still working", false},
		{"empty response", "custom", "", false},
		{"fallback end condition", "missing", "LOOP_COMPLETE: Task finished.", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := activeLoopSession(0, tt.prompt)
			if got := h.engine.goalReached(s, tt.response); got != tt.want {
				t.Errorf("goalReached() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandleTurn_LoopTerminates(t *testing.T) {
	const maxIter = 5
	h := newHarness(t, Options{MaxLoopIterations: maxIter, CompletionPhrases: []string{}})
	ctx := context.Background()
	h.put(t, activeLoopSession(0, "Refactor"))

	turns := 0
	for ; turns < maxIter+3; turns++ {
		if _, err := h.engine.HandleTurn(ctx, Turn{ConversationID: "c-1", AgentResponse: "iteration"}); err != nil {
			t.Fatal(err)
		}
		s := h.get(t, "c-1")
		if s.LoopCount > maxIter {
			t.Fatalf("loop count %d exceeds bound", s.LoopCount)
		}
		if !s.LoopEnabled {
			break
		}
	}
	if turns != maxIter {
		t.Errorf("loop ended after %d turns, want %d", turns, maxIter)
	}
	if n := len(h.spawner.Calls()); n != maxIter {
		t.Errorf("spawn count = %d, want %d", n, maxIter)
	}

	// Further turns never spawn.
	if _, err := h.engine.HandleTurn(ctx, Turn{ConversationID: "c-1", AgentResponse: "again"}); err != nil {
		t.Fatal(err)
	}
	if n := len(h.spawner.Calls()); n != maxIter {
		t.Errorf("spawn after bound: count = %d", n)
	}
}

func TestHandleTurn_LoopSpawnFailureLeavesPrompting(t *testing.T) {
	h := newHarness(t, Options{CompletionPhrases: []string{}})
	h.spawner.err = errors.NewSpawnError("boom", nil)
	h.put(t, activeLoopSession(0, "Refactor"))

	out, err := h.engine.HandleTurn(context.Background(), Turn{ConversationID: "c-1", AgentResponse: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Spawned {
		t.Error("Spawned = true after spawn failure")
	}
	if got := h.get(t, "c-1"); got.State != session.StateLoopPrompting || got.LoopCount != 1 {
		t.Errorf("state=%s count=%d", got.State, got.LoopCount)
	}
}

func TestContinueLoop(t *testing.T) {
	h := newHarness(t, Options{MaxLoopIterations: 2})
	ctx := context.Background()

	s := newSession(session.StateReadyForLoop)
	s.EnableLoop("Documentation", t0)
	h.put(t, s)

	outcome, err := h.engine.ContinueLoop(ctx, "c-1")
	if err != nil || outcome != LoopContinued {
		t.Fatalf("ContinueLoop() = %v, %v", outcome, err)
	}
	if got := h.get(t, "c-1"); got.State != session.StateActive || got.LoopCount != 1 {
		t.Errorf("state=%s count=%d", got.State, got.LoopCount)
	}

	// Active sessions are not due.
	if outcome, _ := h.engine.ContinueLoop(ctx, "c-1"); outcome != LoopNone {
		t.Errorf("ContinueLoop on active = %v", outcome)
	}

	if _, _, err := h.store.Update(ctx, "c-1", func(s *session.Session) error {
		s.State = session.StateReadyForLoop
		s.LoopCount = 2
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	outcome, err = h.engine.ContinueLoop(ctx, "c-1")
	if err != nil || outcome != LoopLimitReached {
		t.Fatalf("ContinueLoop at bound = %v, %v", outcome, err)
	}
	if got := h.get(t, "c-1"); got.LoopEnabled || got.State != session.StateIdle {
		t.Errorf("enabled=%v state=%s", got.LoopEnabled, got.State)
	}
	if n := len(h.spawner.Calls()); n != 1 {
		t.Errorf("spawn count = %d", n)
	}

	if _, err := h.engine.ContinueLoop(ctx, "missing"); !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("ContinueLoop(missing) error = %v", err)
	}
}

func TestCheckGoalCompletion(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.put(t, activeLoopSession(10, "TDD Quality"))

	ok, err := h.engine.CheckGoalCompletion(ctx, "c-1", "still going")
	if err != nil || ok {
		t.Fatalf("CheckGoalCompletion(no match) = %v, %v", ok, err)
	}
	ok, err = h.engine.CheckGoalCompletion(ctx, "c-1", "The task is complete.")
	if err != nil || !ok {
		t.Fatalf("CheckGoalCompletion(phrase) = %v, %v", ok, err)
	}
	if got := h.get(t, "c-1"); got.LoopEnabled {
		t.Error("loop still enabled")
	}
	if len(h.notifier.ofKind(notify.KindLoopComplete)) != 1 {
		t.Error("no loop notification")
	}
	if _, err := h.engine.CheckGoalCompletion(ctx, "missing", "x"); !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("missing session error = %v", err)
	}
}

func TestLoopControls(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.put(t, newSession(session.StateIdle))
	h.clock.Advance(time.Minute)

	s, ok, err := h.engine.EnableLoop(ctx, "c-1", "Test Coverage")
	if err != nil || !ok {
		t.Fatalf("EnableLoop() = %v, %v", ok, err)
	}
	if !s.LoopEnabled || s.LoopPromptName != "Test Coverage" || s.LoopStartedAt == nil || !s.LoopStartedAt.Equal(h.clock.Now()) {
		t.Errorf("after enable: %+v", s)
	}

	if _, _, err := h.store.Update(ctx, "c-1", func(s *session.Session) error { s.LoopCount = 4; return nil }); err != nil {
		t.Fatal(err)
	}
	s, _, _ = h.engine.PauseLoop(ctx, "c-1")
	if s.LoopEnabled || s.LoopCount != 4 {
		t.Errorf("after pause: enabled=%v count=%d", s.LoopEnabled, s.LoopCount)
	}
	s, _, _ = h.engine.ResetLoop(ctx, "c-1")
	if s.LoopCount != 0 {
		t.Errorf("after reset: count=%d", s.LoopCount)
	}

	if _, ok, _ := h.engine.PauseLoop(ctx, "missing"); ok {
		t.Error("PauseLoop(missing) reported found")
	}
}

// Turns

func TestHandleTurn_NewSession(t *testing.T) {
	h := newHarness(t, Options{})
	out, err := h.engine.HandleTurn(context.Background(), Turn{
		ConversationID: "c-9",
		WorkspaceRoot:  "/src/widgets",
		UserPrompt:     "add a widget",
		AgentResponse:  "Added the widget.",
		FilesChanged:   []string{"widget.go", "widget_test.go"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Created {
		t.Error("Created = false")
	}

	got := h.get(t, "c-9")
	if got.WorkspaceName != "widgets" || got.CurrentTask != "add a widget" {
		t.Errorf("session = %+v", got)
	}
	if got.State != session.StateIdle {
		t.Errorf("state = %s, want idle", got.State)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != session.RoleUser || got.Messages[1].Role != session.RoleAssistant {
		t.Errorf("messages = %+v", got.Messages)
	}
	if len(got.FilesChanged) != 2 {
		t.Errorf("files = %v", got.FilesChanged)
	}

	turn := h.notifier.ofKind(notify.KindTurnComplete)
	if len(turn) != 1 || turn[0].Title != "Agent Turn Complete" || turn[0].Message != "Added the widget." || turn[0].WorkspaceName != "widgets" {
		t.Errorf("turn notifications = %+v", turn)
	}
}

func TestHandleTurn_DeduplicatesUserPrompt(t *testing.T) {
	h := newHarness(t, Options{})
	s := newSession(session.StateActive)
	s.Messages = []session.Message{{Role: session.RoleUser, Content: "fix the bug ", Timestamp: t0}}
	h.put(t, s)

	if _, err := h.engine.HandleTurn(context.Background(), Turn{ConversationID: "c-1", UserPrompt: "fix the bug", AgentResponse: "fixed"}); err != nil {
		t.Fatal(err)
	}
	got := h.get(t, "c-1")
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %+v", got.Messages)
	}

	// Outside the window the prompt is recorded again.
	for range 5 {
		got.Messages = append(got.Messages, session.Message{Role: session.RoleAssistant, Content: "filler"})
	}
	got.State = session.StateActive
	h.put(t, got)
	if _, err := h.engine.HandleTurn(context.Background(), Turn{ConversationID: "c-1", UserPrompt: "fix the bug"}); err != nil {
		t.Fatal(err)
	}
	if n := len(h.get(t, "c-1").Messages); n != 8 {
		t.Errorf("message count = %d, want 8", n)
	}
}

func reviewSession(state session.State, maxIterations int) *session.Session {
	s := newSession(state)
	s.ReviewEnabled = true
	s.MaxReviewIterations = maxIterations
	return s
}

func TestHandleTurn_ReviewCycle(t *testing.T) {
	h := newHarness(t, Options{ReviewEnabled: true, MaxReviewIterations: 1})
	ctx := context.Background()
	h.put(t, reviewSession(session.StateActive, 1))

	out, err := h.engine.HandleTurn(ctx, Turn{ConversationID: "c-1", FilesChanged: []string{"a.go"}})
	if err != nil {
		t.Fatal(err)
	}
	if !out.ReviewSent || !out.Spawned || out.QueuedSent {
		t.Fatalf("first turn outcome = %+v", out)
	}
	got := h.get(t, "c-1")
	if got.State != session.StateActive || !got.InReviewCycle || got.ReviewIteration != 1 {
		t.Fatalf("state=%s in_cycle=%v iteration=%d", got.State, got.InReviewCycle, got.ReviewIteration)
	}
	calls := h.spawner.Calls()
	if len(calls) != 1 || !strings.HasPrefix(calls[0].Message, "Review pass 1 of 1.") || !strings.Contains(calls[0].Message, "\n- a.go") {
		t.Fatalf("spawn calls = %+v", calls)
	}

	out, err = h.engine.HandleTurn(ctx, Turn{ConversationID: "c-1", AgentResponse: "addressed feedback"})
	if err != nil {
		t.Fatal(err)
	}
	if out.ReviewSent {
		t.Error("review sent past the pass limit")
	}
	got = h.get(t, "c-1")
	if got.State != session.StateIdle || got.InReviewCycle || got.ReviewIteration != 1 {
		t.Errorf("state=%s in_cycle=%v iteration=%d", got.State, got.InReviewCycle, got.ReviewIteration)
	}
	if !slices.Equal(got.LastReviewedFiles, []string{"a.go"}) {
		t.Errorf("last reviewed = %v", got.LastReviewedFiles)
	}

	// Reviewed files do not start another cycle.
	if _, err := h.engine.HandleSessionStart(ctx, Start{ConversationID: "c-1"}); err != nil {
		t.Fatal(err)
	}
	out, err = h.engine.HandleTurn(ctx, Turn{ConversationID: "c-1", AgentResponse: "nothing new"})
	if err != nil {
		t.Fatal(err)
	}
	if out.ReviewSent || h.get(t, "c-1").State != session.StateIdle {
		t.Errorf("third turn outcome = %+v", out)
	}
	if n := len(h.spawner.Calls()); n != 1 {
		t.Errorf("spawn count = %d, want 1", n)
	}
}

func TestHandleTurn_ReviewCompleteEndsCycle(t *testing.T) {
	h := newHarness(t, Options{ReviewEnabled: true, MaxReviewIterations: 3})
	ctx := context.Background()
	h.put(t, reviewSession(session.StateActive, 3))

	turns := []Turn{
		{ConversationID: "c-1", AgentResponse: "wrote it", FilesChanged: []string{"a.go"}},
		{ConversationID: "c-1", AgentResponse: "fixed an off-by-one"},
		{ConversationID: "c-1", AgentResponse: "Checked again. " + ReviewCompleteMarker},
	}
	for i, turn := range turns {
		if _, err := h.engine.HandleTurn(ctx, turn); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}

	calls := h.spawner.Calls()
	if len(calls) != 2 {
		t.Fatalf("spawn calls = %+v", calls)
	}
	if !strings.HasPrefix(calls[1].Message, "Review pass 2 of 3.") {
		t.Errorf("second review prompt = %q", calls[1].Message)
	}
	got := h.get(t, "c-1")
	if got.State != session.StateIdle || got.InReviewCycle || got.ReviewIteration != 2 {
		t.Errorf("state=%s in_cycle=%v iteration=%d", got.State, got.InReviewCycle, got.ReviewIteration)
	}
	if !slices.Equal(got.LastReviewedFiles, []string{"a.go"}) {
		t.Errorf("last reviewed = %v", got.LastReviewedFiles)
	}
}

func TestHandleTurn_GoalReachedDuringReview(t *testing.T) {
	catalog := config.NewCatalog(config.LoopPrompt{Name: "custom", Prompt: "keep going", EndCondition: "LOOP_COMPLETE: Done."})
	h := newHarness(t, Options{ReviewEnabled: true, MaxReviewIterations: 3, Prompts: catalog, CompletionPhrases: []string{}})
	ctx := context.Background()
	s := activeLoopSession(3, "custom")
	s.ReviewEnabled = true
	s.MaxReviewIterations = 3
	h.put(t, s)

	out, err := h.engine.HandleTurn(ctx, Turn{
		ConversationID: "c-1",
		AgentResponse:  "Tests pass.\nLOOP_COMPLETE: Done.",
		FilesChanged:   []string{"main.go"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Loop != LoopGoalAchieved || !out.ReviewSent {
		t.Fatalf("outcome = %+v", out)
	}
	got := h.get(t, "c-1")
	if got.LoopEnabled || got.LoopCount != 3 || !got.InReviewCycle {
		t.Errorf("count=%d enabled=%v in_cycle=%v", got.LoopCount, got.LoopEnabled, got.InReviewCycle)
	}
	done := h.notifier.ofKind(notify.KindLoopComplete)
	if len(done) != 1 || done[0].Reason != notify.ReasonGoalAchieved || done[0].Iterations != 3 {
		t.Fatalf("loop notifications = %+v", done)
	}

	// Finishing the review settles the session without another loop prompt.
	if _, err := h.engine.HandleTurn(ctx, Turn{ConversationID: "c-1", AgentResponse: ReviewCompleteMarker}); err != nil {
		t.Fatal(err)
	}
	if got := h.get(t, "c-1"); got.State != session.StateIdle {
		t.Errorf("state = %s, want idle", got.State)
	}
	for _, c := range h.spawner.Calls() {
		if c.Message == "keep going" {
			t.Error("loop prompt sent after goal was met")
		}
	}
	if n := len(h.notifier.ofKind(notify.KindLoopComplete)); n != 1 {
		t.Errorf("loop notifications = %d, want 1", n)
	}
}

func TestHandleTurn_RecoversReviewPending(t *testing.T) {
	h := newHarness(t, Options{ReviewEnabled: true, MaxReviewIterations: 2})
	ctx := context.Background()
	s := reviewSession(session.StateReviewPending, 2)
	s.FilesChanged = []string{"a.go"}
	s.Messages = []session.Message{{Role: session.RoleQueued, Content: "then update the docs"}}
	h.put(t, s)

	out, err := h.engine.HandleTurn(ctx, Turn{ConversationID: "c-1", AgentResponse: "still here"})
	if err != nil {
		t.Fatal(err)
	}
	if !out.ReviewSent || out.QueuedSent {
		t.Fatalf("first turn outcome = %+v", out)
	}
	if got := h.get(t, "c-1"); got.State != session.StateActive || got.ReviewIteration != 1 {
		t.Fatalf("state=%s iteration=%d", got.State, got.ReviewIteration)
	}

	out, err = h.engine.HandleTurn(ctx, Turn{ConversationID: "c-1", AgentResponse: ReviewCompleteMarker})
	if err != nil {
		t.Fatal(err)
	}
	if !out.QueuedSent {
		t.Fatalf("second turn outcome = %+v", out)
	}
	calls := h.spawner.Calls()
	if len(calls) != 2 || calls[1].Message != "then update the docs" {
		t.Errorf("spawn calls = %+v", calls)
	}
	if got := h.get(t, "c-1"); got.State != session.StateActive || len(got.QueuedMessages()) != 0 {
		t.Errorf("state=%s queued=%d", got.State, len(got.QueuedMessages()))
	}
}

func TestSpawnFailureLogLevel(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level string
	}{
		{"spawn error", errors.NewSpawnError("agent exited", nil), "WARN"},
		{"unclassified", errors.New("exec: not found"), "ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := newHarness(t, Options{}, WithLogger(logging.NewWriterLogger(&buf, "debug")))
			h.spawner.err = tt.err
			s := newSession(session.StateIdle)

			if h.engine.spawn(context.Background(), s, "hello", "queue") {
				t.Fatal("spawn() = true with a failing spawner")
			}
			var found bool
			for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
				var entry map[string]any
				if err := json.Unmarshal([]byte(line), &entry); err != nil {
					t.Fatalf("log line %q: %v", line, err)
				}
				if entry["msg"] == "spawn failed" {
					found = true
					if entry["level"] != tt.level || entry["source"] != "queue" {
						t.Errorf("log entry = %v", entry)
					}
				}
			}
			if !found {
				t.Errorf("no spawn failure logged: %s", buf.String())
			}
		})
	}
}

func TestHandleTurn_ReviewSpawnFailureLeavesUnderReview(t *testing.T) {
	h := newHarness(t, Options{ReviewEnabled: true, MaxReviewIterations: 2})
	h.spawner.err = errors.NewSpawnError("boom", nil)
	h.put(t, reviewSession(session.StateActive, 2))

	out, err := h.engine.HandleTurn(context.Background(), Turn{ConversationID: "c-1", FilesChanged: []string{"a.go"}})
	if err != nil {
		t.Fatal(err)
	}
	if out.ReviewSent || out.Spawned {
		t.Errorf("outcome = %+v", out)
	}
	if got := h.get(t, "c-1"); got.State != session.StateUnderReview {
		t.Errorf("state = %s, want under_review", got.State)
	}
}

func TestReviewPrompt(t *testing.T) {
	s := reviewSession(session.StateUnderReview, 3)
	s.ReviewIteration = 2
	s.FilesChanged = []string{"a.go", "b.go"}
	s.LastReviewedFiles = []string{"a.go"}
	s.ReviewConstraints = "  keep the public API  "

	got := reviewPrompt(s)
	want := "Review pass 2 of 3. Review the changes you just made to:\n- b.go\n\n" +
		"Look for bugs, missing tests and unhandled errors, then fix what you find.\n\n" +
		"Constraints: keep the public API\n\n" +
		"If nothing needs to change, respond with exactly: '" + ReviewCompleteMarker + "'"
	if got != want {
		t.Errorf("reviewPrompt() =\n%s\nwant\n%s", got, want)
	}

	for i := range reviewFilesShown + 5 {
		s.FilesChanged = append(s.FilesChanged, fmt.Sprintf("f%d.go", i))
	}
	if got := reviewPrompt(s); !strings.Contains(got, "\n- ... and 6 more") {
		t.Errorf("long prompt = %q", got)
	}
}

func TestHandleTurn_SendsQueuedWhenIdle(t *testing.T) {
	h := newHarness(t, Options{})
	s := newSession(session.StateActive)
	s.Messages = []session.Message{{Role: session.RoleQueued, Content: "after this, do that"}}
	h.put(t, s)

	out, err := h.engine.HandleTurn(context.Background(), Turn{ConversationID: "c-1", AgentResponse: "done with this"})
	if err != nil {
		t.Fatal(err)
	}
	if !out.QueuedSent || !out.Spawned {
		t.Errorf("outcome = %+v", out)
	}
	calls := h.spawner.Calls()
	if len(calls) != 1 || calls[0].Message != "after this, do that" {
		t.Errorf("spawn calls = %+v", calls)
	}
}

// Session start and tools

func TestHandleSessionStart(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	if err := h.store.SetPendingPrompt(ctx, "/src/app", "build the thing"); err != nil {
		t.Fatal(err)
	}
	out, err := h.engine.HandleSessionStart(ctx, Start{ConversationID: "c-1", WorkspaceRoot: "/src/app", PID: 4242})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Created || !out.Transition.Success || out.InitialPrompt != "build the thing" {
		t.Errorf("outcome = %+v", out)
	}
	got := h.get(t, "c-1")
	if got.State != session.StateActive || got.AgentPID == nil || *got.AgentPID != 4242 {
		t.Errorf("session = %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "build the thing" {
		t.Errorf("messages = %+v", got.Messages)
	}

	// Existing session: dashboard messages are drained, pending prompts are
	// left for new sessions.
	if _, err := h.store.AppendDashboardMessage(ctx, "c-1", "check the logs"); err != nil {
		t.Fatal(err)
	}
	if err := h.store.SetPendingPrompt(ctx, "/src/app", "another"); err != nil {
		t.Fatal(err)
	}
	out, err = h.engine.HandleSessionStart(ctx, Start{ConversationID: "c-1", WorkspaceRoot: "/src/app"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Created || out.Transition.Success || out.InitialPrompt != "" {
		t.Errorf("second outcome = %+v", out)
	}
	if len(out.DashboardMessages) != 1 || out.DashboardMessages[0] != "check the logs" {
		t.Errorf("dashboard messages = %v", out.DashboardMessages)
	}
	if got := h.get(t, "c-1"); *got.AgentPID != 4242 {
		t.Errorf("PID overwritten: %d", *got.AgentPID)
	}
	if p, _ := h.store.TakePendingPrompt(ctx, "/src/app"); p != "another" {
		t.Errorf("pending prompt = %q", p)
	}
}

func TestHandleSessionStart_RecoversSettledSession(t *testing.T) {
	tests := []struct {
		state     session.State
		wantState session.State
		wantCycle bool
	}{
		{session.StateTurnComplete, session.StateActive, false},
		{session.StateReviewPending, session.StateActive, false},
		{session.StateReadyForLoop, session.StateActive, false},
		{session.StateUnderReview, session.StateActive, true},
		{session.StateLoopPrompting, session.StateActive, true},
		{session.StateError, session.StateError, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			h := newHarness(t, Options{})
			s := reviewSession(tt.state, 3)
			s.InReviewCycle = true
			s.ReviewIteration = 2
			h.put(t, s)

			out, err := h.engine.HandleSessionStart(context.Background(), Start{ConversationID: "c-1"})
			if err != nil {
				t.Fatal(err)
			}
			if out.Transition.Success != (tt.wantState == session.StateActive) {
				t.Errorf("transition = %+v", out.Transition)
			}
			got := h.get(t, "c-1")
			if got.State != tt.wantState || got.InReviewCycle != tt.wantCycle {
				t.Errorf("state=%s in_cycle=%v, want %s %v", got.State, got.InReviewCycle, tt.wantState, tt.wantCycle)
			}
		})
	}
}

func TestHandleToolUse(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.put(t, newSession(session.StateActive))
	h.clock.Advance(time.Minute)

	found, err := h.engine.HandleToolUse(ctx, ToolUse{ConversationID: "c-1", Name: "view", Input: []byte(`{"path": "main.go"}`)})
	if err != nil || !found {
		t.Fatalf("HandleToolUse(pre) = %v, %v", found, err)
	}
	found, err = h.engine.HandleToolUse(ctx, ToolUse{ConversationID: "c-1", Name: "view", Input: []byte(`{"path": "main.go"}`), Post: true})
	if err != nil || !found {
		t.Fatalf("HandleToolUse(post) = %v, %v", found, err)
	}

	got := h.get(t, "c-1")
	if len(got.ToolsUsed) != 1 || got.ToolsUsed[0] != "view" {
		t.Errorf("tools = %v", got.ToolsUsed)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("messages = %+v", got.Messages)
	}
	want := "Tool: **view**\n```json\n{\"path\":\"main.go\"}\n```"
	if got.Messages[0].Content != want || got.Messages[0].Role != session.RoleSystem {
		t.Errorf("tool message = %q", got.Messages[0].Content)
	}
	if !got.LastActivity.Equal(h.clock.Now()) {
		t.Error("last activity not refreshed")
	}

	if found, _ := h.engine.HandleToolUse(ctx, ToolUse{ConversationID: "missing", Name: "x"}); found {
		t.Error("unknown session reported found")
	}
}

func TestToolMessage(t *testing.T) {
	long := `{"text":"` + strings.Repeat("a", 300) + `"}`
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no input", "", "Tool: **t**"},
		{"empty object", "{}", "Tool: **t**"},
		{"invalid json", "{", "Tool: **t**"},
		{"short", `{ "a": 1 }`, "Tool: **t**\n```json\n{\"a\":1}\n```"},
		{"long", long, "Tool: **t**\n```json\n" + long[:200] + "...\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toolMessage("t", []byte(tt.input)); got != tt.want {
				t.Errorf("toolMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

// Operator actions

func TestApplyEvent(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	s := newSession(session.StateTurnComplete)
	s.Messages = []session.Message{{Role: session.RoleQueued, Content: "queued"}}
	h.put(t, s)

	res, found, err := h.engine.ApplyEvent(ctx, "c-1", lifecycle.EventPromptSent)
	if err != nil || !found || res.Success {
		t.Fatalf("unmatched event = %+v, %v, %v", res, found, err)
	}
	if got := h.get(t, "c-1"); got.State != session.StateTurnComplete {
		t.Errorf("state changed to %s", got.State)
	}

	res, _, err = h.engine.ApplyEvent(ctx, "c-1", lifecycle.EventForceIdle)
	if err != nil || !res.Success || res.NewState != session.StateIdle {
		t.Fatalf("force_idle = %+v, %v", res, err)
	}
	if len(h.spawner.Calls()) != 1 {
		t.Error("queued message not sent after force_idle")
	}

	if _, found, _ := h.engine.ApplyEvent(ctx, "missing", lifecycle.EventReset); found {
		t.Error("missing session reported found")
	}
}

func TestSendMessage(t *testing.T) {
	tests := []struct {
		name  string
		state session.State
	}{
		{"idle", session.StateIdle},
		{"error", session.StateError},
		{"turn complete", session.StateTurnComplete},
		{"active", session.StateActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			h.put(t, newSession(tt.state))

			s, err := h.engine.SendMessage(context.Background(), "c-1", "  please continue  ")
			if err != nil {
				t.Fatal(err)
			}
			if s.State != session.StateActive {
				t.Errorf("state = %s, want active", s.State)
			}
			last := s.Messages[len(s.Messages)-1]
			if last.Role != session.RoleUser || last.Content != "please continue" {
				t.Errorf("message = %+v", last)
			}
			calls := h.spawner.Calls()
			if len(calls) != 1 || calls[0].Message != "please continue" {
				t.Errorf("spawn calls = %+v", calls)
			}
		})
	}
}

func TestSendMessage_Errors(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	noRoot := session.New("c-2", "", t0)
	h.put(t, noRoot)
	h.put(t, newSession(session.StateIdle))

	if _, err := h.engine.SendMessage(ctx, "c-1", "   "); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("blank message error = %v", err)
	}
	if _, err := h.engine.SendMessage(ctx, "c-2", "hi"); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("no workspace error = %v", err)
	}
	if _, err := h.engine.SendMessage(ctx, "missing", "hi"); !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("missing session error = %v", err)
	}
	if len(h.spawner.Calls()) != 0 {
		t.Error("spawned despite errors")
	}

	h.spawner.err = errors.NewSpawnError("boom", nil)
	if _, err := h.engine.SendMessage(ctx, "c-1", "hi"); !errors.Is(err, errors.ErrSpawnFailed) {
		t.Errorf("spawn failure error = %v", err)
	}
}

func TestQueueAndClear(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.put(t, newSession(session.StateActive))

	for _, text := range []string{"one", "  ", "two"} {
		found, err := h.engine.QueueMessage(ctx, "c-1", text)
		if err != nil || !found {
			t.Fatalf("QueueMessage(%q) = %v, %v", text, found, err)
		}
	}
	got := h.get(t, "c-1")
	if n := len(got.QueuedMessages()); n != 2 {
		t.Fatalf("queued = %d, want 2", n)
	}
	if len(h.spawner.Calls()) != 0 {
		t.Error("busy session should not be sent queued messages")
	}

	removed, found, err := h.engine.ClearQueue(ctx, "c-1")
	if err != nil || !found || removed != 2 {
		t.Errorf("ClearQueue() = %d, %v, %v", removed, found, err)
	}
	removed, _, _ = h.engine.ClearQueue(ctx, "c-1")
	if removed != 0 {
		t.Errorf("second ClearQueue removed %d", removed)
	}

	if found, _ := h.engine.QueueMessage(ctx, "missing", "x"); found {
		t.Error("QueueMessage(missing) reported found")
	}
}

func TestQueueMessage_IdleSendsImmediately(t *testing.T) {
	h := newHarness(t, Options{})
	h.put(t, newSession(session.StateIdle))

	if _, err := h.engine.QueueMessage(context.Background(), "c-1", "go"); err != nil {
		t.Fatal(err)
	}
	calls := h.spawner.Calls()
	if len(calls) != 1 || calls[0].Message != "go" {
		t.Errorf("spawn calls = %+v", calls)
	}
	if got := h.get(t, "c-1"); got.State != session.StateActive || got.Messages[0].Role != session.RoleUser {
		t.Errorf("session = %+v", got)
	}
}

func TestStartNew(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	if err := h.engine.StartNew(ctx, " /src/app ", " write docs "); err != nil {
		t.Fatal(err)
	}
	calls := h.spawner.Calls()
	if len(calls) != 1 || !calls[0].New || calls[0].WorkspaceRoot != "/src/app" || calls[0].Message != "write docs" {
		t.Fatalf("spawn calls = %+v", calls)
	}
	if p, _ := h.store.TakePendingPrompt(ctx, "/src/app"); p != "write docs" {
		t.Errorf("pending prompt = %q", p)
	}

	h.spawner.err = errors.NewSpawnError("boom", nil)
	if err := h.engine.StartNew(ctx, "/src/app", "again"); err == nil {
		t.Fatal("expected spawn error")
	}
	if p, _ := h.store.TakePendingPrompt(ctx, "/src/app"); p != "" {
		t.Errorf("pending prompt left after failure: %q", p)
	}

	for _, tc := range [][2]string{{"", "p"}, {"/src", " "}} {
		if err := h.engine.StartNew(ctx, tc[0], tc[1]); !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("StartNew(%q, %q) = %v", tc[0], tc[1], err)
		}
	}
}

func TestLoopOutcomeString(t *testing.T) {
	for o, want := range map[LoopOutcome]string{
		LoopNone:         "none",
		LoopContinued:    "continued",
		LoopGoalAchieved: "goal_achieved",
		LoopLimitReached: "iteration_limit",
		LoopOutcome(9):   "unknown",
	} {
		if got := o.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", o, got, want)
		}
	}
}
