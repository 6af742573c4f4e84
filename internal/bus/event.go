// Package bus provides the in-process event bus used for all inter-component
// communication: publish/subscribe delivery, direct agent-to-agent messages,
// a bounded event history, and per-subscriber timing records.
package bus

import (
	"time"
)

// EventType identifies the kind of an event.
type EventType string

const (
	// EventSystemStart marks the beginning of a run.
	EventSystemStart EventType = "system.start"
	// EventSystemShutdown is the terminal shutdown sentinel. The delivery
	// loop exits after processing it once the queue is empty.
	EventSystemShutdown EventType = "system.shutdown"
	// EventConfigValidated reports the outcome of configuration validation.
	EventConfigValidated EventType = "config.validated"

	// EventAgentStarted indicates an agent's run loop has begun.
	EventAgentStarted EventType = "agent.started"
	// EventAgentCompleted carries an agent's final completed/failed counts.
	EventAgentCompleted EventType = "agent.completed"
	// EventAgentMessage is a directed point-to-point message between agents.
	// Its payload carries "to" and "from" agent IDs.
	EventAgentMessage EventType = "agent.message"

	// EventPlanCreated indicates an agent obtained its task plan.
	EventPlanCreated EventType = "plan.created"
	// EventTaskStarted indicates a task began executing.
	EventTaskStarted EventType = "task.started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task.completed"
	// EventTaskFailed indicates a task failed.
	EventTaskFailed EventType = "task.failed"

	// EventResourceLimitWarning fires once per resource kind when usage
	// crosses the warning threshold.
	EventResourceLimitWarning EventType = "resource.limit.warning"
	// EventResourceLimitExceeded fires every time a limit check runs past
	// a configured maximum.
	EventResourceLimitExceeded EventType = "resource.limit.exceeded"
)

// Event is a single bus message. Events are treated as immutable once
// published: producers must not mutate the payload after Publish.
type Event struct {
	// Type is the kind of event.
	Type EventType `json:"type"`
	// Timestamp is when the event was created.
	Timestamp time.Time `json:"timestamp"`
	// AgentID is the originating agent, if any.
	AgentID string `json:"agent_id,omitempty"`
	// RunID ties the event to one orchestration run.
	RunID string `json:"run_id"`
	// Payload carries event-specific fields.
	Payload map[string]any `json:"payload,omitempty"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(typ EventType, runID string, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Payload:   payload,
	}
}

// Handler is a subscriber callback. A returned error is logged and isolated;
// it never affects delivery to other subscribers or later events.
type Handler func(Event) error
