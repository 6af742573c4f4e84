package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cwithey/troupe/pkg/models"
)

// ErrUnparseablePlan is returned when model output cannot be interpreted as
// a task plan. Callers fall back to a deterministic plan instead of leaking
// parse heuristics into scheduling logic.
var ErrUnparseablePlan = errors.New("model output is not a parseable task plan")

// planEntry is the JSON shape a planning response must contain.
type planEntry struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	DependsOn   []string `json:"depends_on"`
}

// ParsePlan extracts a task plan from untrusted model output. The output
// must contain a JSON array of {id, description, depends_on} objects;
// surrounding prose and code fences are tolerated. Tasks come back pending
// with creation timestamps set.
func ParsePlan(text string) ([]*models.Task, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, ErrUnparseablePlan
	}

	var entries []planEntry
	if err := json.Unmarshal([]byte(text[start:end+1]), &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseablePlan, err)
	}
	if len(entries) == 0 {
		return nil, ErrUnparseablePlan
	}

	seen := make(map[string]bool, len(entries))
	now := time.Now()
	tasks := make([]*models.Task, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" || e.Description == "" || seen[e.ID] {
			return nil, ErrUnparseablePlan
		}
		seen[e.ID] = true
		tasks = append(tasks, &models.Task{
			ID:          e.ID,
			Description: e.Description,
			DependsOn:   e.DependsOn,
			Status:      models.TaskStatusPending,
			CreatedAt:   now,
		})
	}
	return tasks, nil
}

// FallbackPlan returns a minimal linear plan derived from the goal, used
// when the model's plan cannot be parsed.
func FallbackPlan(goal string) []*models.Task {
	now := time.Now()
	return []*models.Task{
		{
			ID:          "t1",
			Description: fmt.Sprintf("Analyze the goal and outline an approach: %s", goal),
			Status:      models.TaskStatusPending,
			CreatedAt:   now,
		},
		{
			ID:          "t2",
			Description: fmt.Sprintf("Carry out the main work for: %s", goal),
			DependsOn:   []string{"t1"},
			Status:      models.TaskStatusPending,
			CreatedAt:   now,
		},
		{
			ID:          "t3",
			Description: "Review the produced output and record a summary",
			DependsOn:   []string{"t2"},
			Status:      models.TaskStatusPending,
			CreatedAt:   now,
		},
	}
}
