package state

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord(runID string, started time.Time) RunRecord {
	return RunRecord{
		RunID:            runID,
		ConfigPath:       "troupe.yaml",
		StartedAt:        started,
		FinishedAt:       started.Add(time.Minute),
		Reason:           "completed",
		CostUSD:          0.42,
		PromptTokens:     1200,
		CompletionTokens: 800,
		AgentCount:       2,
		TasksCompleted:   5,
		TasksFailed:      1,
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s := openTestStore(t)
	want := sampleRecord("run-abc", time.Now().Truncate(time.Second))

	if err := s.SaveRun(want); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.GetRun("run-abc")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Reason != "completed" || got.CostUSD != 0.42 || got.TasksFailed != 1 {
		t.Errorf("GetRun = %+v, want %+v", got, want)
	}
}

func TestGetRunMissing(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetRun("nope"); err == nil {
		t.Fatal("GetRun returned nil error for a missing run")
	}
}

func TestSaveRunIsUpsert(t *testing.T) {
	s := openTestStore(t)
	rec := sampleRecord("run-abc", time.Now())

	if err := s.SaveRun(rec); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	rec.Reason = "resource limit exceeded: cost"
	if err := s.SaveRun(rec); err != nil {
		t.Fatalf("second SaveRun: %v", err)
	}

	got, err := s.GetRun("run-abc")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Reason != "resource limit exceeded: cost" {
		t.Errorf("Reason = %q after upsert", got.Reason)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"run-1", "run-2", "run-3"} {
		if err := s.SaveRun(sampleRecord(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("SaveRun %s: %v", id, err)
		}
	}

	runs, err := s.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns returned %d records, want 2", len(runs))
	}
	if runs[0].RunID != "run-3" || runs[1].RunID != "run-2" {
		t.Errorf("order = %s, %s; want run-3, run-2", runs[0].RunID, runs[1].RunID)
	}
}
