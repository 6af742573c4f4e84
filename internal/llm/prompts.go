package llm

import (
	"fmt"
	"strings"

	"github.com/cwithey/troupe/pkg/models"
)

// BuildSystemPrompt returns the system prompt for an agent, describing its
// role and the other agents it can reference in task dependencies.
func BuildSystemPrompt(agentID string, agentType models.AgentType, manifest models.Manifest) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("You are agent %q, a %s in a multi-agent team.\n\n", agentID, agentType))

	switch agentType {
	case models.AgentTypeBuilder:
		sb.WriteString("You create and modify files in a shared workspace to accomplish your goal.\n")
	case models.AgentTypeOperator:
		sb.WriteString("You run commands and inspect files in a shared workspace to accomplish your goal.\n")
	}

	peers := manifest.Peers(agentID)
	if len(peers) > 0 {
		sb.WriteString("\nOther agents working alongside you:\n")
		for _, p := range peers {
			sb.WriteString(fmt.Sprintf("- %s (%s): %s\n", p.AgentID, p.Type, p.Goal))
		}
		sb.WriteString("\nA task may depend on another agent's work by listing that agent's\n")
		sb.WriteString("task id (prefixed with the agent id) in depends_on.\n")
	}

	return sb.String()
}

// BuildPlanPrompt returns the user prompt asking an agent to plan its goal as
// a JSON task array.
func BuildPlanPrompt(agentID, goal string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Break the following goal into a short ordered plan of tasks.\n\nGoal: %s\n\n", goal))
	sb.WriteString("Respond with only a JSON array of objects with these fields:\n")
	sb.WriteString(`- "id": short task id, prefixed with your agent id (e.g. "` + agentID + `-t1")` + "\n")
	sb.WriteString("- \"description\": what the task does\n")
	sb.WriteString("- \"depends_on\": array of task ids this task waits for (may be empty)\n\n")
	sb.WriteString("Keep the plan to at most six tasks. Do not include any text outside the JSON array.\n")

	return sb.String()
}

// BuildTaskPrompt returns the user prompt asking an agent to execute a single
// task as a JSON action array.
func BuildTaskPrompt(task *models.Task, completed []string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Execute this task: %s\n\n", task.Description))

	if len(completed) > 0 {
		sb.WriteString("Work already completed:\n")
		for _, c := range completed {
			sb.WriteString(fmt.Sprintf("- %s\n", c))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Respond with only a JSON array of actions. Each action is an object with:\n")
	sb.WriteString("- \"op\": one of \"create_file\", \"modify_file\", \"read_file\", \"run_command\"\n")
	sb.WriteString("- \"path\": workspace-relative file path (file operations)\n")
	sb.WriteString("- \"content\": file content (create_file and modify_file)\n")
	sb.WriteString("- \"command\": shell command to run (run_command)\n\n")
	sb.WriteString("An empty array means the task needs no workspace changes.\n")

	return sb.String()
}
