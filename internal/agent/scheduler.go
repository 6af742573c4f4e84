// Package agent implements the runtime agent: a per-agent task-dependency
// scheduler and the execution loop that drives it.
package agent

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cwithey/troupe/pkg/models"
)

// Scheduler selects the next executable task for one agent while bounding
// how long cross-agent dependencies can hold a task back.
//
// Dependency ids prefixed with another manifest agent's id are external;
// everything else is local. External dependencies have no reliable
// completion signal, so they resolve only through timeouts: a per-task
// external-dependency timeout drops a task's external deps once its local
// deps are met, and a larger deadlock-break threshold clears all deps from
// any task pending too long. The per-task timeout is evaluated first on
// every pass; the deadlock sweep runs last, as a liveness backstop.
//
// The agent's run loop and bus message handlers touch the scheduler from
// different goroutines, so all state is mutex-guarded.
type Scheduler struct {
	mu       sync.Mutex
	agentID  string
	manifest models.Manifest
	tasks    []*models.Task

	externalTimeout time.Duration
	deadlockBreak   time.Duration

	// now is swappable for tests.
	now func() time.Time

	logger zerolog.Logger
}

// NewScheduler creates a scheduler for one agent.
func NewScheduler(agentID string, manifest models.Manifest, externalTimeout, deadlockBreak time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		agentID:         agentID,
		manifest:        manifest,
		externalTimeout: externalTimeout,
		deadlockBreak:   deadlockBreak,
		now:             time.Now,
		logger:          logger.With().Str("module", "scheduler").Str("agent_id", agentID).Logger(),
	}
}

// SetPlan installs the agent's task list. Called once after planning.
func (s *Scheduler) SetPlan(tasks []*models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = tasks
}

// Tasks returns a snapshot copy of the task list.
func (s *Scheduler) Tasks() []*models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// isExternal reports whether a dependency id belongs to another agent.
func (s *Scheduler) isExternal(depID string) bool {
	owner := s.manifest.OwnerOf(depID)
	return owner != "" && owner != s.agentID
}

// localSatisfied reports whether every listed local dependency is completed.
func (s *Scheduler) localSatisfied(deps []string) bool {
	for _, dep := range deps {
		satisfied := false
		for _, t := range s.tasks {
			if t.ID == dep && t.Status == models.TaskStatusCompleted {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return false
		}
	}
	return true
}

// NextExecutable returns the next task ready to run, already moved to
// in_progress, or nil if nothing is executable this pass. Callers poll
// again after a fixed delay when nil comes back.
func (s *Scheduler) NextExecutable() *models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	for _, t := range s.tasks {
		if t.Status != models.TaskStatusPending {
			continue
		}

		var local, external []string
		for _, dep := range t.DependsOn {
			if s.isExternal(dep) {
				external = append(external, dep)
			} else {
				local = append(local, dep)
			}
		}

		if !s.localSatisfied(local) {
			continue
		}

		if len(external) == 0 {
			t.SetStatus(models.TaskStatusInProgress)
			return t
		}

		// Locally ready but waiting on another agent. Start the wait
		// timer on first sight, then drop the external deps once the
		// timeout elapses.
		if t.DependencyWaitStart.IsZero() {
			t.DependencyWaitStart = now
			continue
		}
		if now.Sub(t.DependencyWaitStart) >= s.externalTimeout {
			s.logger.Warn().
				Str("task_id", t.ID).
				Strs("dropped_deps", external).
				Dur("waited", now.Sub(t.DependencyWaitStart)).
				Msg("external dependency timeout, proceeding without them")
			t.DependsOn = local
			t.SetStatus(models.TaskStatusInProgress)
			return t
		}
	}

	// Liveness backstop: a task pending past the deadlock threshold has
	// every dependency cleared, even local ones that can no longer
	// complete (a failed local dep would otherwise strand it forever).
	for _, t := range s.tasks {
		if t.Status != models.TaskStatusPending || len(t.DependsOn) == 0 {
			continue
		}
		if now.Sub(t.CreatedAt) >= s.deadlockBreak {
			s.logger.Warn().
				Str("task_id", t.ID).
				Strs("cleared_deps", t.DependsOn).
				Msg("deadlock threshold exceeded, clearing all dependencies")
			t.DependsOn = nil
			t.SetStatus(models.TaskStatusInProgress)
			return t
		}
	}

	return nil
}

// Complete marks a task completed with its result.
func (s *Scheduler) Complete(taskID, result string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.ID == taskID {
			t.Result = result
			return t.SetStatus(models.TaskStatusCompleted)
		}
	}
	return false
}

// Fail marks a task failed with its error text.
func (s *Scheduler) Fail(taskID, errText string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.ID == taskID {
			t.Error = errText
			return t.SetStatus(models.TaskStatusFailed)
		}
	}
	return false
}

// AbandonPending marks every task that never started as skipped. Called
// after the run loop observes cancellation, so no task is in progress and
// everything non-terminal is eligible for the skip transition.
func (s *Scheduler) AbandonPending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.tasks {
		if !t.Status.Terminal() && t.SetStatus(models.TaskStatusSkipped) {
			n++
		}
	}
	return n
}

// Done reports whether every task has reached a terminal status.
func (s *Scheduler) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// Counts returns the number of completed, failed, and skipped tasks.
func (s *Scheduler) Counts() (completed, failed, skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		switch t.Status {
		case models.TaskStatusCompleted:
			completed++
		case models.TaskStatusFailed:
			failed++
		case models.TaskStatusSkipped:
			skipped++
		}
	}
	return completed, failed, skipped
}
