package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cwithey/troupe/internal/bus"
	"github.com/cwithey/troupe/internal/llm"
	"github.com/cwithey/troupe/internal/resource"
	"github.com/cwithey/troupe/internal/workspace"
	"github.com/cwithey/troupe/pkg/models"
)

// scriptedGenerator returns queued responses in order, then repeats the
// final one. A nil error with empty script returns an empty action list.
type scriptedGenerator struct {
	mu        sync.Mutex
	responses []llm.Response
	errs      []error
	calls     int
}

func (g *scriptedGenerator) Generate(_ context.Context, _ llm.Request) (llm.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	i := g.calls
	g.calls++
	if i < len(g.errs) && g.errs[i] != nil {
		return llm.Response{}, g.errs[i]
	}
	if i < len(g.responses) {
		return g.responses[i], nil
	}
	return llm.Response{Text: "[]"}, nil
}

func newTestAgent(t *testing.T, b *bus.Bus, gen llm.Generator) *Agent {
	t.Helper()
	ws, err := workspace.New(t.TempDir(), 1<<20, 5*time.Second)
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	entry := models.ManifestEntry{AgentID: "builder-1", Type: models.AgentTypeBuilder, Goal: "build the thing"}
	return New(entry, Params{
		RunID:     "run-1",
		Manifest:  testManifest(),
		Bus:       b,
		Tracker:   resource.NewTracker(resource.Limits{}, b, zerolog.Nop()),
		Generator: gen,
		Workspace: ws,
		Model:     "claude-3-5-haiku-20241022",
		MaxTokens: 1024,

		PollInterval:              10 * time.Millisecond,
		ExternalDependencyTimeout: 10 * time.Second,
		DeadlockBreak:             30 * time.Second,
	}, zerolog.Nop())
}

func startBus(t *testing.T) *bus.Bus {
	t.Helper()
	b := bus.New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return b
}

func TestAgentRunCompletesPlan(t *testing.T) {
	b := startBus(t)
	gen := &scriptedGenerator{
		responses: []llm.Response{
			{Text: `[{"id":"t1","description":"first"},{"id":"t2","description":"second","depends_on":["t1"]}]`},
		},
	}
	a := newTestAgent(t, b, gen)

	completed := make(chan bus.Event, 1)
	b.Subscribe(bus.EventAgentCompleted, func(ev bus.Event) error {
		completed <- ev
		return nil
	})

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	select {
	case ev := <-completed:
		if ev.AgentID != "builder-1" {
			t.Errorf("AgentID = %q, want builder-1", ev.AgentID)
		}
		if got := ev.Payload["completed"]; got != 2 {
			t.Errorf("completed = %v, want 2", got)
		}
		if got := ev.Payload["failed"]; got != 0 {
			t.Errorf("failed = %v, want 0", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no agent.completed event")
	}

	for _, task := range a.Scheduler().Tasks() {
		if task.Status != models.TaskStatusCompleted {
			t.Errorf("task %s status = %q, want completed", task.ID, task.Status)
		}
	}
}

func TestAgentPrefixesPlanTaskIDs(t *testing.T) {
	b := startBus(t)
	gen := &scriptedGenerator{
		responses: []llm.Response{
			{Text: `[{"id":"t1","description":"first"},{"id":"t2","description":"second","depends_on":["t1"]}]`},
		},
	}
	a := newTestAgent(t, b, gen)

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	tasks := a.Scheduler().Tasks()
	if tasks[0].ID != "builder-1-t1" {
		t.Errorf("task id = %q, want builder-1-t1", tasks[0].ID)
	}
	if len(tasks[1].DependsOn) != 1 || tasks[1].DependsOn[0] != "builder-1-t1" {
		t.Errorf("rewritten deps = %v, want [builder-1-t1]", tasks[1].DependsOn)
	}
}

func TestAgentFallsBackOnPlanError(t *testing.T) {
	b := startBus(t)
	gen := &scriptedGenerator{errs: []error{errors.New("api unavailable")}}
	a := newTestAgent(t, b, gen)

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	tasks := a.Scheduler().Tasks()
	if len(tasks) != 3 {
		t.Fatalf("fallback plan has %d tasks, want 3", len(tasks))
	}
	for _, task := range tasks {
		if task.Status != models.TaskStatusCompleted {
			t.Errorf("task %s status = %q, want completed", task.ID, task.Status)
		}
	}
}

func TestTaskFailureDoesNotAbortAgent(t *testing.T) {
	b := startBus(t)
	// Plan of two independent tasks; the first execution response is
	// unparseable, the second is a clean no-op.
	gen := &scriptedGenerator{
		responses: []llm.Response{
			{Text: `[{"id":"t1","description":"first"},{"id":"t2","description":"second"}]`},
			{Text: "cannot comply"},
			{Text: "[]"},
		},
	}
	a := newTestAgent(t, b, gen)

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	completed, failed, _ := a.Scheduler().Counts()
	if completed != 1 || failed != 1 {
		t.Errorf("counts = (%d completed, %d failed), want (1, 1)", completed, failed)
	}
}

func TestAgentAppliesWorkspaceActions(t *testing.T) {
	b := startBus(t)
	gen := &scriptedGenerator{
		responses: []llm.Response{
			{Text: `[{"id":"t1","description":"write a file"}]`},
			{Text: `[{"op":"create_file","path":"hello.txt","content":"hi"}]`},
		},
	}
	a := newTestAgent(t, b, gen)

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := a.ws.ReadFile("hello.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hi" {
		t.Errorf("file content = %q, want hi", data)
	}
}

func TestAgentAcknowledgesAnnounce(t *testing.T) {
	b := startBus(t)
	// Park the agent on an external dependency so it is still running
	// when the announce arrives.
	gen := &scriptedGenerator{
		responses: []llm.Response{
			{Text: `[{"id":"t1","description":"waits","depends_on":["operator-1-x"]}]`},
		},
	}
	a := newTestAgent(t, b, gen)

	acks := make(chan bus.Event, 8)
	b.Subscribe(bus.EventAgentMessage, func(ev bus.Event) error {
		if ev.Payload["to"] == "operator-1" && ev.Payload["kind"] == "acknowledge" {
			acks <- ev
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(runDone)
	}()

	// Give the agent a moment to subscribe, then announce as the peer.
	time.Sleep(50 * time.Millisecond)
	b.SendMessage("builder-1", "operator-1", "run-1", map[string]any{"kind": "announce"})

	select {
	case ev := <-acks:
		if ev.Payload["from"] != "builder-1" {
			t.Errorf("ack from = %v, want builder-1", ev.Payload["from"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no acknowledge reply to announce")
	}
	cancel()
	<-runDone
}

// gateGenerator serves the plan immediately, then holds every task
// execution until the gate channel is closed.
type gateGenerator struct {
	plan string
	gate chan struct{}
	mu   sync.Mutex
	call int
}

func (g *gateGenerator) Generate(_ context.Context, _ llm.Request) (llm.Response, error) {
	g.mu.Lock()
	i := g.call
	g.call++
	g.mu.Unlock()
	if i == 0 {
		return llm.Response{Text: g.plan}, nil
	}
	<-g.gate
	return llm.Response{Text: "[]"}, nil
}

func TestStopDuringExecutionReportsSettledOutcome(t *testing.T) {
	b := startBus(t)
	gen := &gateGenerator{
		plan: `[{"id":"t1","description":"first"},{"id":"t2","description":"second","depends_on":["t1"]}]`,
		gate: make(chan struct{}),
	}
	a := newTestAgent(t, b, gen)

	started := make(chan struct{}, 4)
	b.Subscribe(bus.EventTaskStarted, func(ev bus.Event) error {
		started <- struct{}{}
		return nil
	})
	finished := make(chan bus.Event, 4)
	b.Subscribe(bus.EventAgentCompleted, func(ev bus.Event) error {
		finished <- ev
		return nil
	})

	runDone := make(chan struct{})
	go func() {
		a.Run(context.Background())
		close(runDone)
	}()

	// Stop arrives while the first task is mid-execution; the agent must
	// let it settle and count its real outcome, not leave it dangling.
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first task never started")
	}
	a.Stop()
	close(gen.gate)
	<-runDone
	if !b.Drain(2 * time.Second) {
		t.Fatal("queue did not drain")
	}

	for _, task := range a.Scheduler().Tasks() {
		if !task.Status.Terminal() {
			t.Errorf("task %s status = %q, want terminal", task.ID, task.Status)
		}
	}
	completed, failed, skipped := a.Scheduler().Counts()
	if completed != 1 || failed != 0 || skipped != 1 {
		t.Errorf("counts = (%d, %d, %d), want (1, 0, 1)", completed, failed, skipped)
	}

	select {
	case ev := <-finished:
		if got := ev.Payload["completed"]; got != 1 {
			t.Errorf("completed = %v, want 1", got)
		}
		if got := ev.Payload["skipped"]; got != 1 {
			t.Errorf("skipped = %v, want 1", got)
		}
		if got := ev.Payload["stopped"]; got != true {
			t.Errorf("stopped = %v, want true", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no agent.completed event")
	}
	if len(finished) != 0 {
		t.Errorf("expected a single agent.completed event, got %d extra", len(finished))
	}
}

func TestStopSkipsRemainingTasks(t *testing.T) {
	b := startBus(t)
	// The only task waits on a peer dependency, so the agent parks in
	// its poll loop until stopped.
	gen := &scriptedGenerator{
		responses: []llm.Response{
			{Text: `[{"id":"t1","description":"waits","depends_on":["operator-1-x"]}]`},
		},
	}
	a := newTestAgent(t, b, gen)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(runDone)
	}()

	time.Sleep(30 * time.Millisecond)
	a.Stop()
	<-runDone

	_, _, skipped := a.Scheduler().Counts()
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
}
