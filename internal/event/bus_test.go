package event

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/agentdash/internal/logging"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestBus_SubscribeAndPublish(t *testing.T) {
	bus := NewBus(nil)

	var got []Event
	id := bus.Subscribe(TypeLoopComplete, func(e Event) {
		got = append(got, e)
	})
	if id == "" {
		t.Fatal("Subscribe returned an empty ID")
	}

	bus.Publish(NewTurnCompleteEvent("s-1", "app", "done", t0))
	if len(got) != 0 {
		t.Fatalf("handler called for non-matching type: %v", got)
	}

	bus.Publish(NewLoopCompleteEvent("s-1", "app", 4, "goal_achieved", "Goal achieved after 4 iterations", t0))
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	done, ok := got[0].(LoopCompleteEvent)
	if !ok {
		t.Fatalf("event type = %T", got[0])
	}
	if done.Iterations != 4 || done.Reason != "goal_achieved" || !done.Timestamp().Equal(t0) {
		t.Errorf("unexpected event: %+v", done)
	}
}

func TestBus_Ordering(t *testing.T) {
	bus := NewBus(nil)

	var order []string
	bus.SubscribeAll(func(Event) { order = append(order, "all") })
	bus.Subscribe(TypeSessionReset, func(Event) { order = append(order, "first") })
	bus.Subscribe(TypeSessionReset, func(Event) { order = append(order, "second") })

	bus.Publish(NewSessionResetEvent("s-1", "active", 15, t0))

	want := []string{"first", "second", "all"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	keep := bus.Subscribe(TypeTurnComplete, func(Event) { calls++ })
	drop := bus.Subscribe(TypeTurnComplete, func(Event) { calls += 100 })

	if !bus.Unsubscribe(drop) {
		t.Fatal("Unsubscribe returned false for a live subscription")
	}
	if bus.Unsubscribe(drop) {
		t.Error("second Unsubscribe returned true")
	}
	if bus.Unsubscribe("sub-missing") {
		t.Error("Unsubscribe of unknown ID returned true")
	}

	bus.Publish(NewTurnCompleteEvent("s-1", "app", "", t0))
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount = %d, want 1", bus.SubscriptionCount())
	}
	_ = keep
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe(TypeTurnComplete, func(Event) {})
	bus.SubscribeAll(func(Event) {})

	bus.Clear()
	if n := bus.SubscriptionCount(); n != 0 {
		t.Errorf("SubscriptionCount after Clear = %d", n)
	}
}

func TestBus_HandlerPanicRecovery(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(logging.NewWriterLogger(&buf, "debug"))

	reached := false
	bus.Subscribe(TypeMessageSpawned, func(Event) { panic("boom") })
	bus.Subscribe(TypeMessageSpawned, func(Event) { reached = true })

	bus.Publish(NewMessageSpawnedEvent("s-1", "queue", "hello", t0))

	if !reached {
		t.Error("handler after the panicking one was not called")
	}
	if !strings.Contains(buf.String(), "event handler panicked") {
		t.Errorf("panic not logged: %s", buf.String())
	}
}

func TestBus_UniqueIDs(t *testing.T) {
	bus := NewBus(nil)
	seen := make(map[string]bool)
	for range 500 {
		id := bus.Subscribe(TypeTurnComplete, func(Event) {})
		if seen[id] {
			t.Fatalf("duplicate subscription ID %q", id)
		}
		seen[id] = true
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				bus.Publish(NewTurnCompleteEvent("s-1", "app", "", t0))
			}
		}()
	}
	wg.Wait()

	if count != 200 {
		t.Errorf("count = %d, want 200", count)
	}
}

func TestEventTypes(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{NewSessionResetEvent("s", "active", 15, t0), TypeSessionReset},
		{NewLoopCompleteEvent("s", "w", 1, "iteration_limit", "", t0), TypeLoopComplete},
		{NewTurnCompleteEvent("s", "w", "", t0), TypeTurnComplete},
		{NewMessageSpawnedEvent("s", "loop", "", t0), TypeMessageSpawned},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.event.EventType(); got != tt.want {
				t.Errorf("EventType() = %q, want %q", got, tt.want)
			}
		})
	}
}
