package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestBus(opts ...Option) *Bus {
	return New(zerolog.Nop(), opts...)
}

// runBus starts the delivery loop and returns a channel closed when it exits.
func runBus(t *testing.T, b *Bus) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	return cancel, done
}

func TestHistoryBoundedFIFO(t *testing.T) {
	b := newTestBus(WithHistoryCap(5))

	for i := 0; i < 8; i++ {
		b.Publish(NewEvent(EventTaskStarted, "run-1", map[string]any{"seq": i}))
	}

	hist := b.History(0)
	if len(hist) != 5 {
		t.Fatalf("expected history length 5, got %d", len(hist))
	}
	// Oldest 3 evicted: first remaining entry is seq 3.
	if got := hist[0].Payload["seq"]; got != 3 {
		t.Errorf("expected oldest surviving seq 3, got %v", got)
	}
	if got := hist[4].Payload["seq"]; got != 7 {
		t.Errorf("expected newest seq 7, got %v", got)
	}
}

func TestPublishOrderDelivery(t *testing.T) {
	b := newTestBus()
	cancel, _ := runBus(t, b)
	defer cancel()

	var mu sync.Mutex
	var got []int
	b.Subscribe(EventTaskCompleted, func(ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Payload["seq"].(int))
		return nil
	})

	for i := 0; i < 20; i++ {
		b.Publish(NewEvent(EventTaskCompleted, "run-1", map[string]any{"seq": i}))
	}
	if !b.Drain(2 * time.Second) {
		t.Fatal("queue did not drain")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 20 {
		t.Fatalf("expected 20 deliveries, got %d", len(got))
	}
	for i, seq := range got {
		if seq != i {
			t.Fatalf("out-of-order delivery at %d: got seq %d", i, seq)
		}
	}
}

func TestSlowSubscriberLosesNothing(t *testing.T) {
	b := newTestBus()
	cancel, _ := runBus(t, b)
	defer cancel()

	var mu sync.Mutex
	var got []EventType
	slow := func(ev Event) error {
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Type)
		return nil
	}
	b.Subscribe(EventTaskCompleted, slow)
	b.Subscribe(EventResourceLimitWarning, slow)

	// Burst well ahead of the subscriber, then a one-shot warning. Every
	// event must still deliver, in publish order.
	for i := 0; i < 10; i++ {
		b.Publish(NewEvent(EventTaskCompleted, "run-1", map[string]any{"seq": i}))
	}
	b.Publish(NewEvent(EventResourceLimitWarning, "run-1", map[string]any{"kind": "cost"}))

	if !b.Drain(5 * time.Second) {
		t.Fatal("queue did not drain")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 11 {
		t.Fatalf("expected 11 deliveries, got %d", len(got))
	}
	if got[10] != EventResourceLimitWarning {
		t.Errorf("expected the warning delivered last, got %v", got[10])
	}
	for i := 0; i < 10; i++ {
		if got[i] != EventTaskCompleted {
			t.Fatalf("out-of-order delivery at %d: got %v", i, got[i])
		}
	}
}

func TestSubscriberFailureIsolated(t *testing.T) {
	b := newTestBus()
	cancel, _ := runBus(t, b)
	defer cancel()

	var mu sync.Mutex
	delivered := 0
	b.Subscribe(EventTaskFailed, func(ev Event) error {
		return errors.New("handler error")
	})
	b.Subscribe(EventTaskFailed, func(ev Event) error {
		panic("handler panic")
	})
	b.Subscribe(EventTaskFailed, func(ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		delivered++
		return nil
	})

	b.Publish(NewEvent(EventTaskFailed, "run-1", nil))
	b.Publish(NewEvent(EventTaskFailed, "run-1", nil))
	if !b.Drain(2 * time.Second) {
		t.Fatal("queue did not drain")
	}

	mu.Lock()
	defer mu.Unlock()
	if delivered != 2 {
		t.Errorf("healthy subscriber received %d events, want 2", delivered)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus()
	cancel, _ := runBus(t, b)
	defer cancel()

	var mu sync.Mutex
	count := 0
	sub := b.Subscribe(EventTaskStarted, func(ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	})

	b.Publish(NewEvent(EventTaskStarted, "run-1", nil))
	if !b.Drain(time.Second) {
		t.Fatal("queue did not drain")
	}
	b.Unsubscribe(sub)
	b.Publish(NewEvent(EventTaskStarted, "run-1", nil))
	if !b.Drain(time.Second) {
		t.Fatal("queue did not drain")
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("expected 1 delivery after unsubscribe, got %d", count)
	}
}

func TestNoSubscribersStillRecordsHistory(t *testing.T) {
	b := newTestBus()
	cancel, _ := runBus(t, b)
	defer cancel()

	b.Publish(NewEvent(EventPlanCreated, "run-1", nil))
	if !b.Drain(time.Second) {
		t.Fatal("queue did not drain")
	}

	if got := len(b.HistoryByType(EventPlanCreated)); got != 1 {
		t.Errorf("expected 1 history entry, got %d", got)
	}
}

func TestShutdownSentinelExitsAfterDraining(t *testing.T) {
	b := newTestBus()
	_, done := runBus(t, b)

	var mu sync.Mutex
	var tail []EventType
	// Shutdown handler enqueues one final event; it must still deliver
	// before the loop exits.
	b.Subscribe(EventSystemShutdown, func(ev Event) error {
		b.Publish(NewEvent(EventAgentCompleted, "run-1", nil))
		return nil
	})
	b.Subscribe(EventAgentCompleted, func(ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		tail = append(tail, ev.Type)
		return nil
	})

	b.Publish(NewEvent(EventSystemShutdown, "run-1", map[string]any{"reason": "test"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery loop did not exit after shutdown sentinel")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(tail) != 1 {
		t.Errorf("expected the post-shutdown event to be delivered, got %d deliveries", len(tail))
	}
}

func TestSendMessageRouting(t *testing.T) {
	b := newTestBus()
	cancel, _ := runBus(t, b)
	defer cancel()

	var mu sync.Mutex
	var received []Event
	b.Subscribe(EventAgentMessage, func(ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, ev)
		return nil
	})

	b.SendMessage("operator-1", "builder-1", "run-1", map[string]any{"action": "announce"})
	if !b.Drain(time.Second) {
		t.Fatal("queue did not drain")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 message, got %d", len(received))
	}
	ev := received[0]
	if ev.Payload["to"] != "operator-1" || ev.Payload["from"] != "builder-1" {
		t.Errorf("message routing fields wrong: %v", ev.Payload)
	}
	if ev.AgentID != "builder-1" {
		t.Errorf("expected AgentID builder-1, got %q", ev.AgentID)
	}
	if ev.Payload["action"] != "announce" {
		t.Errorf("payload not preserved: %v", ev.Payload)
	}
}

func TestHistoryFilters(t *testing.T) {
	b := newTestBus()

	evA := NewEvent(EventTaskStarted, "run-1", nil)
	evA.AgentID = "builder-1"
	b.Publish(evA)

	mid := time.Now().UTC()
	time.Sleep(5 * time.Millisecond)

	evB := NewEvent(EventTaskCompleted, "run-1", nil)
	evB.AgentID = "operator-1"
	b.Publish(evB)

	if got := len(b.HistoryByAgent("builder-1")); got != 1 {
		t.Errorf("HistoryByAgent = %d entries, want 1", got)
	}
	if got := len(b.HistoryByType(EventTaskCompleted)); got != 1 {
		t.Errorf("HistoryByType = %d entries, want 1", got)
	}
	if got := len(b.HistorySince(mid)); got != 1 {
		t.Errorf("HistorySince = %d entries, want 1", got)
	}

	sum := b.Summary()
	if sum.Total != 2 {
		t.Errorf("Summary.Total = %d, want 2", sum.Total)
	}
	if sum.ByType[EventTaskStarted] != 1 {
		t.Errorf("Summary.ByType[task.started] = %d, want 1", sum.ByType[EventTaskStarted])
	}
}

func TestTimingSummaryRecordsCallbacks(t *testing.T) {
	b := newTestBus()
	cancel, _ := runBus(t, b)
	defer cancel()

	b.Subscribe(EventTaskStarted, func(ev Event) error {
		time.Sleep(time.Millisecond)
		return nil
	})

	b.Publish(NewEvent(EventTaskStarted, "run-1", nil))
	b.Publish(NewEvent(EventTaskStarted, "run-1", nil))
	if !b.Drain(time.Second) {
		t.Fatal("queue did not drain")
	}

	timing := b.TimingSummary()[EventTaskStarted]
	if timing.Count != 2 {
		t.Errorf("timing count = %d, want 2", timing.Count)
	}
	if timing.Total <= 0 || timing.Max <= 0 {
		t.Errorf("expected positive timing aggregates, got %+v", timing)
	}
}

func TestContextStore(t *testing.T) {
	b := newTestBus()

	b.SetContext("output_dir", "/tmp/project")
	v, ok := b.GetContext("output_dir")
	if !ok || v != "/tmp/project" {
		t.Errorf("GetContext = %v, %v", v, ok)
	}
	if _, ok := b.GetContext("missing"); ok {
		t.Error("expected missing key to report !ok")
	}
}
