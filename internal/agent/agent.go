package agent

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cwithey/troupe/internal/bus"
	"github.com/cwithey/troupe/internal/llm"
	"github.com/cwithey/troupe/internal/resource"
	"github.com/cwithey/troupe/internal/workspace"
	"github.com/cwithey/troupe/pkg/models"
)

// Params holds everything an agent needs beyond its manifest identity.
type Params struct {
	RunID        string
	Manifest     models.Manifest
	Bus          *bus.Bus
	Tracker      *resource.Tracker
	Generator    llm.Generator
	Workspace    *workspace.Workspace
	Model        string
	MaxTokens    int
	Temperature  float64
	PollInterval time.Duration

	ExternalDependencyTimeout time.Duration
	DeadlockBreak             time.Duration
}

// Agent is one autonomous worker: it plans its goal into tasks, then drives
// its scheduler until every task is terminal, exchanging progress messages
// with its peers along the way. Message handling runs on the bus delivery
// goroutine and never blocks the scheduler loop.
type Agent struct {
	id       string
	typ      models.AgentType
	goal     string
	runID    string
	manifest models.Manifest

	bus       *bus.Bus
	tracker   *resource.Tracker
	generator llm.Generator
	ws        *workspace.Workspace
	sched     *Scheduler

	model        string
	maxTokens    int
	temperature  float64
	pollInterval time.Duration

	stopped  atomic.Bool
	stopChan chan struct{}
	msgSub   bus.Subscription

	logger zerolog.Logger
}

// New creates an agent for one manifest entry.
func New(entry models.ManifestEntry, p Params, logger zerolog.Logger) *Agent {
	a := &Agent{
		id:           entry.AgentID,
		typ:          entry.Type,
		goal:         entry.Goal,
		runID:        p.RunID,
		manifest:     p.Manifest,
		bus:          p.Bus,
		tracker:      p.Tracker,
		generator:    p.Generator,
		ws:           p.Workspace,
		model:        p.Model,
		maxTokens:    p.MaxTokens,
		temperature:  p.Temperature,
		pollInterval: p.PollInterval,
		stopChan:     make(chan struct{}),
		logger:       logger.With().Str("module", "agent").Str("agent_id", entry.AgentID).Logger(),
	}
	a.sched = NewScheduler(entry.AgentID, p.Manifest, p.ExternalDependencyTimeout, p.DeadlockBreak, logger)
	return a
}

// ID returns the agent's stable identifier.
func (a *Agent) ID() string {
	return a.id
}

// Scheduler exposes the agent's task scheduler, primarily for inspection.
func (a *Agent) Scheduler() *Scheduler {
	return a.sched
}

// Run executes the agent's full lifecycle: announce to peers, plan the goal,
// then loop over executable tasks until every task is terminal. Task
// execution errors are recorded on the task and never abort the agent.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	a.msgSub = a.bus.Subscribe(bus.EventAgentMessage, a.handleMessage)
	defer a.bus.Unsubscribe(a.msgSub)

	ev := bus.NewEvent(bus.EventAgentStarted, a.runID, map[string]any{
		"type": string(a.typ),
		"goal": a.goal,
	})
	ev.AgentID = a.id
	a.bus.Publish(ev)

	a.announce()

	tasks := a.plan(ctx)
	a.sched.SetPlan(tasks)

	planEv := bus.NewEvent(bus.EventPlanCreated, a.runID, map[string]any{
		"task_count": len(tasks),
	})
	planEv.AgentID = a.id
	a.bus.Publish(planEv)
	a.broadcastPlan(tasks)

	for !a.sched.Done() {
		if ctx.Err() != nil {
			return a.abandon(ctx.Err())
		}

		task := a.sched.NextExecutable()
		if task == nil {
			select {
			case <-ctx.Done():
				return a.abandon(ctx.Err())
			case <-time.After(a.pollInterval):
			}
			continue
		}

		a.execute(ctx, task)
	}

	a.publishCompleted(false)
	return nil
}

// Stop cancels the run loop cooperatively. The loop finishes whatever task
// is in flight, abandons the rest, and publishes the final counts itself.
func (a *Agent) Stop() {
	if a.stopped.CompareAndSwap(false, true) {
		close(a.stopChan)
	}
}

// abandon runs when the loop observes cancellation. Any in-flight task has
// already settled by this point, so the published counts carry its real
// outcome; tasks that never started are marked skipped.
func (a *Agent) abandon(cause error) error {
	a.logger.Info().Msg("run loop cancelled")
	if n := a.sched.AbandonPending(); n > 0 {
		a.logger.Info().Int("skipped", n).Msg("abandoned remaining tasks")
	}
	a.publishCompleted(true)
	return cause
}

// publishCompleted emits the aggregate completion event with final counts.
func (a *Agent) publishCompleted(stopped bool) {
	completed, failed, skipped := a.sched.Counts()
	ev := bus.NewEvent(bus.EventAgentCompleted, a.runID, map[string]any{
		"completed": completed,
		"failed":    failed,
		"skipped":   skipped,
		"stopped":   stopped,
	})
	ev.AgentID = a.id
	a.bus.Publish(ev)

	a.logger.Info().
		Int("completed", completed).
		Int("failed", failed).
		Int("skipped", skipped).
		Msg("agent finished")
}

// announce sends a presence message to every peer.
func (a *Agent) announce() {
	for _, peer := range a.manifest.Peers(a.id) {
		a.bus.SendMessage(peer.AgentID, a.id, a.runID, map[string]any{
			"kind": "announce",
			"type": string(a.typ),
			"goal": a.goal,
		})
	}
}

// plan obtains the agent's task list from the generation collaborator,
// falling back to a deterministic plan when the output is unusable.
func (a *Agent) plan(ctx context.Context) []*models.Task {
	resp, err := a.generator.Generate(ctx, llm.Request{
		Prompt:       llm.BuildPlanPrompt(a.id, a.goal),
		SystemPrompt: llm.BuildSystemPrompt(a.id, a.typ, a.manifest),
		Model:        a.model,
		MaxTokens:    a.maxTokens,
		Temperature:  a.temperature,
	})
	if err != nil {
		a.logger.Warn().Err(err).Msg("plan generation failed, using fallback plan")
		return a.prefixed(llm.FallbackPlan(a.goal))
	}
	a.tracker.AddUsage(resp.PromptTokens, resp.CompletionTokens, resp.CostUSD, a.id, a.runID)

	tasks, err := llm.ParsePlan(resp.Text)
	if err != nil {
		a.logger.Warn().Err(err).Msg("plan output unparseable, using fallback plan")
		return a.prefixed(llm.FallbackPlan(a.goal))
	}
	return a.prefixed(tasks)
}

// prefixed ensures every task id carries this agent's id prefix so peers
// can attribute dependencies to their owner. Local depends_on references
// are rewritten to the prefixed ids.
func (a *Agent) prefixed(tasks []*models.Task) []*models.Task {
	for _, t := range tasks {
		if strings.HasPrefix(t.ID, a.id+"-") {
			continue
		}
		old := t.ID
		t.ID = a.id + "-" + t.ID
		for _, other := range tasks {
			for i, dep := range other.DependsOn {
				if dep == old {
					other.DependsOn[i] = t.ID
				}
			}
		}
	}
	return tasks
}

// broadcastPlan shares the plan's task ids with every peer so they can
// declare dependencies on them.
func (a *Agent) broadcastPlan(tasks []*models.Task) {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	for _, peer := range a.manifest.Peers(a.id) {
		a.bus.SendMessage(peer.AgentID, a.id, a.runID, map[string]any{
			"kind":     "plan",
			"task_ids": ids,
		})
	}
}

// execute runs one task through the generation and execution collaborators.
// Failures are recorded on the task; scheduling continues regardless.
func (a *Agent) execute(ctx context.Context, task *models.Task) {
	startEv := bus.NewEvent(bus.EventTaskStarted, a.runID, map[string]any{
		"task_id":     task.ID,
		"description": task.Description,
	})
	startEv.AgentID = a.id
	a.bus.Publish(startEv)

	result, err := a.executeActions(ctx, task)
	if err != nil {
		a.sched.Fail(task.ID, err.Error())
		failEv := bus.NewEvent(bus.EventTaskFailed, a.runID, map[string]any{
			"task_id": task.ID,
			"error":   err.Error(),
		})
		failEv.AgentID = a.id
		a.bus.Publish(failEv)
		a.notifyPeers(task.ID, string(models.TaskStatusFailed))
		return
	}

	a.sched.Complete(task.ID, result)
	doneEv := bus.NewEvent(bus.EventTaskCompleted, a.runID, map[string]any{
		"task_id": task.ID,
		"result":  result,
	})
	doneEv.AgentID = a.id
	a.bus.Publish(doneEv)
	a.notifyPeers(task.ID, string(models.TaskStatusCompleted))
}

// executeActions asks the generator for actions and applies them to the
// workspace, returning a summary of what happened.
func (a *Agent) executeActions(ctx context.Context, task *models.Task) (string, error) {
	var completedDesc []string
	for _, t := range a.sched.Tasks() {
		if t.Status == models.TaskStatusCompleted {
			completedDesc = append(completedDesc, t.Description)
		}
	}

	resp, err := a.generator.Generate(ctx, llm.Request{
		Prompt:       llm.BuildTaskPrompt(task, completedDesc),
		SystemPrompt: llm.BuildSystemPrompt(a.id, a.typ, a.manifest),
		Model:        a.model,
		MaxTokens:    a.maxTokens,
		Temperature:  a.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}
	a.tracker.AddUsage(resp.PromptTokens, resp.CompletionTokens, resp.CostUSD, a.id, a.runID)

	actions, err := llm.ParseActions(resp.Text)
	if err != nil {
		return "", fmt.Errorf("action parse failed: %w", err)
	}

	var summary []string
	for _, act := range actions {
		switch act.Op {
		case llm.ActionCreateFile:
			if err := a.ws.CreateFile(act.Path, []byte(act.Content)); err != nil {
				return "", err
			}
			summary = append(summary, "created "+act.Path)
		case llm.ActionModifyFile:
			if err := a.ws.ModifyFile(act.Path, []byte(act.Content)); err != nil {
				return "", err
			}
			summary = append(summary, "modified "+act.Path)
		case llm.ActionReadFile:
			if _, err := a.ws.ReadFile(act.Path); err != nil {
				return "", err
			}
			summary = append(summary, "read "+act.Path)
		case llm.ActionRunCommand:
			out, err := a.ws.RunCommand(ctx, act.Command)
			if err != nil {
				return "", err
			}
			summary = append(summary, fmt.Sprintf("ran %q (%d bytes output)", act.Command, len(out)))
		}
	}
	if len(summary) == 0 {
		return "no workspace changes", nil
	}
	return strings.Join(summary, "; "), nil
}

// notifyPeers pushes a point-to-point task progress message to every peer.
func (a *Agent) notifyPeers(taskID, status string) {
	for _, peer := range a.manifest.Peers(a.id) {
		a.bus.SendMessage(peer.AgentID, a.id, a.runID, map[string]any{
			"kind":    "task_update",
			"task_id": taskID,
			"status":  status,
		})
	}
}

// handleMessage processes directed messages addressed to this agent. It runs
// on the bus delivery goroutine, so it must stay quick and non-blocking.
func (a *Agent) handleMessage(ev bus.Event) error {
	to, _ := ev.Payload["to"].(string)
	if to != a.id {
		return nil
	}
	from, _ := ev.Payload["from"].(string)
	kind, _ := ev.Payload["kind"].(string)

	switch kind {
	case "announce":
		a.bus.SendMessage(from, a.id, a.runID, map[string]any{
			"kind": "acknowledge",
		})
	case "acknowledge":
		a.logger.Debug().Str("from", from).Msg("peer acknowledged")
	case "plan":
		a.logger.Debug().Str("from", from).Msg("peer shared its plan")
	case "task_update":
		taskID, _ := ev.Payload["task_id"].(string)
		status, _ := ev.Payload["status"].(string)
		a.logger.Debug().
			Str("from", from).
			Str("task_id", taskID).
			Str("status", status).
			Msg("peer task update")
	case "help_request":
		a.bus.SendMessage(from, a.id, a.runID, map[string]any{
			"kind": "acknowledge",
			"note": "busy with own plan",
		})
	default:
		a.logger.Debug().Str("from", from).Str("kind", kind).Msg("unrecognized message")
	}
	return nil
}
