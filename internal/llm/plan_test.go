package llm

import (
	"errors"
	"strings"
	"testing"

	"github.com/cwithey/troupe/pkg/models"
)

func TestParsePlanExtractsTasksFromProse(t *testing.T) {
	text := "Here is my plan:\n```json\n" +
		`[{"id":"builder-1-t1","description":"set up scaffolding","depends_on":[]},` +
		`{"id":"builder-1-t2","description":"write handlers","depends_on":["builder-1-t1"]}]` +
		"\n```\nLet me know if you want changes."

	tasks, err := ParsePlan(text)
	if err != nil {
		t.Fatalf("ParsePlan returned error: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	if tasks[0].ID != "builder-1-t1" {
		t.Errorf("tasks[0].ID = %q, want builder-1-t1", tasks[0].ID)
	}
	if tasks[0].Status != models.TaskStatusPending {
		t.Errorf("tasks[0].Status = %q, want pending", tasks[0].Status)
	}
	if tasks[0].CreatedAt.IsZero() {
		t.Error("tasks[0].CreatedAt not set")
	}
	if len(tasks[1].DependsOn) != 1 || tasks[1].DependsOn[0] != "builder-1-t1" {
		t.Errorf("tasks[1].DependsOn = %v, want [builder-1-t1]", tasks[1].DependsOn)
	}
}

func TestParsePlanRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"no array", "I cannot produce a plan right now."},
		{"invalid json", "[{id: t1}]"},
		{"empty array", "[]"},
		{"missing description", `[{"id":"t1"}]`},
		{"duplicate ids", `[{"id":"t1","description":"a"},{"id":"t1","description":"b"}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePlan(tc.text)
			if !errors.Is(err, ErrUnparseablePlan) {
				t.Errorf("ParsePlan(%q) error = %v, want ErrUnparseablePlan", tc.text, err)
			}
		})
	}
}

func TestFallbackPlanIsLinear(t *testing.T) {
	tasks := FallbackPlan("ship the report")
	if len(tasks) != 3 {
		t.Fatalf("got %d tasks, want 3", len(tasks))
	}
	if len(tasks[0].DependsOn) != 0 {
		t.Errorf("first task has dependencies: %v", tasks[0].DependsOn)
	}
	for i := 1; i < len(tasks); i++ {
		if len(tasks[i].DependsOn) != 1 || tasks[i].DependsOn[0] != tasks[i-1].ID {
			t.Errorf("task %s depends on %v, want [%s]", tasks[i].ID, tasks[i].DependsOn, tasks[i-1].ID)
		}
	}
	if !strings.Contains(tasks[0].Description, "ship the report") {
		t.Errorf("goal missing from first task description: %q", tasks[0].Description)
	}
}

func TestParseActions(t *testing.T) {
	text := "Executing now.\n" +
		`[{"op":"create_file","path":"README.md","content":"# demo"},` +
		`{"op":"run_command","command":"ls -la"}]`

	actions, err := ParseActions(text)
	if err != nil {
		t.Fatalf("ParseActions returned error: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("got %d actions, want 2", len(actions))
	}
	if actions[0].Op != ActionCreateFile || actions[0].Path != "README.md" {
		t.Errorf("unexpected first action: %+v", actions[0])
	}
	if actions[1].Op != ActionRunCommand || actions[1].Command != "ls -la" {
		t.Errorf("unexpected second action: %+v", actions[1])
	}
}

func TestParseActionsValidation(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"unknown op", `[{"op":"delete_everything","path":"x"}]`},
		{"create without path", `[{"op":"create_file","content":"x"}]`},
		{"command without command", `[{"op":"run_command"}]`},
		{"no array", "nothing to do"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseActions(tc.text)
			if !errors.Is(err, ErrUnparseableActions) {
				t.Errorf("ParseActions(%q) error = %v, want ErrUnparseableActions", tc.text, err)
			}
		})
	}
}

func TestParseActionsEmptyArray(t *testing.T) {
	actions, err := ParseActions("No changes needed: []")
	if err != nil {
		t.Fatalf("ParseActions returned error: %v", err)
	}
	if len(actions) != 0 {
		t.Errorf("got %d actions, want 0", len(actions))
	}
}

func TestBuildSystemPromptListsPeers(t *testing.T) {
	manifest := models.Manifest{
		{AgentID: "builder-1", Type: models.AgentTypeBuilder, Goal: "build the API"},
		{AgentID: "operator-1", Type: models.AgentTypeOperator, Goal: "run the checks"},
	}
	prompt := BuildSystemPrompt("builder-1", models.AgentTypeBuilder, manifest)
	if !strings.Contains(prompt, "operator-1") {
		t.Error("peer operator-1 missing from system prompt")
	}
	if strings.Contains(prompt, "- builder-1 ") {
		t.Error("agent listed as its own peer")
	}
}

func TestCostForKnownAndUnknownModels(t *testing.T) {
	cost := CostFor("claude-3-5-haiku-20241022", 1000, 1000)
	if cost <= 0 {
		t.Errorf("CostFor known model = %v, want > 0", cost)
	}
	if got := CostFor("not-a-model", 1000, 1000); got != 0 {
		t.Errorf("CostFor unknown model = %v, want 0", got)
	}
}
