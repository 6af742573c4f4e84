package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates the task is being worked on.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusBlocked indicates the task cannot proceed because a
	// dependency failed or never became available.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusSkipped indicates the task was abandoned without execution.
	TaskStatusSkipped TaskStatus = "skipped"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusBlocked, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transition is allowed from this status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a forward transition.
// Statuses only move forward: pending -> in_progress -> {completed, failed},
// with blocked/skipped as terminal side exits from pending/blocked. A
// completed task never becomes pending again.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusInProgress || next == TaskStatusBlocked || next == TaskStatusSkipped
	case TaskStatusInProgress:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	case TaskStatusBlocked:
		return next == TaskStatusInProgress || next == TaskStatusSkipped
	default:
		return false
	}
}

// Task represents a unit of work owned by exactly one agent.
// Tasks are never shared between agents; cross-agent relationships exist
// only as dependency IDs.
type Task struct {
	// ID is the unique identifier for this task within its agent.
	ID string `json:"id"`
	// Description is what the task should accomplish.
	Description string `json:"description"`
	// DependsOn lists task IDs that must complete before this task.
	// IDs prefixed with another agent's ID are external dependencies.
	DependsOn []string `json:"depends_on,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Result holds the outcome of a completed task.
	Result string `json:"result,omitempty"`
	// Error contains the error message if the task failed.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when execution began, if it has.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// DependencyWaitStart marks when the task first became locally ready
	// while still waiting on external dependencies. Zero until then.
	DependencyWaitStart time.Time `json:"dependency_wait_start,omitempty"`
}

// SetStatus applies a forward status transition and stamps the relevant
// timestamps. Returns false if the transition would move backward.
func (t *Task) SetStatus(next TaskStatus) bool {
	if !t.Status.CanTransition(next) {
		return false
	}
	now := time.Now()
	switch next {
	case TaskStatusInProgress:
		t.StartedAt = &now
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped:
		t.CompletedAt = &now
	}
	t.Status = next
	return true
}
