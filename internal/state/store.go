// Package state persists run records to SQLite for later inspection.
// Only run-level outcomes are stored; task state is never persisted and
// does not survive a process restart.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// RunRecord is the stored outcome of one orchestration run.
type RunRecord struct {
	RunID            string
	ConfigPath       string
	StartedAt        time.Time
	FinishedAt       time.Time
	Reason           string
	CostUSD          float64
	PromptTokens     int64
	CompletionTokens int64
	AgentCount       int
	TasksCompleted   int
	TasksFailed      int
}

// Store wraps the run-record database.
type Store struct {
	conn *sql.DB
	path string
}

// DefaultPath returns the run database location under XDG data dir.
func DefaultPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "troupe", "runs.db")
}

// Open opens the run database at path, creating parent directories and the
// schema as needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id            TEXT PRIMARY KEY,
			config_path       TEXT NOT NULL,
			started_at        TIMESTAMP NOT NULL,
			finished_at       TIMESTAMP NOT NULL,
			reason            TEXT NOT NULL,
			cost_usd          REAL NOT NULL DEFAULT 0,
			prompt_tokens     INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			agent_count       INTEGER NOT NULL DEFAULT 0,
			tasks_completed   INTEGER NOT NULL DEFAULT 0,
			tasks_failed      INTEGER NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	return nil
}

// SaveRun inserts or replaces one run record.
func (s *Store) SaveRun(rec RunRecord) error {
	_, err := s.conn.Exec(`
		INSERT OR REPLACE INTO runs (
			run_id, config_path, started_at, finished_at, reason,
			cost_usd, prompt_tokens, completion_tokens,
			agent_count, tasks_completed, tasks_failed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.ConfigPath, rec.StartedAt.UTC(), rec.FinishedAt.UTC(), rec.Reason,
		rec.CostUSD, rec.PromptTokens, rec.CompletionTokens,
		rec.AgentCount, rec.TasksCompleted, rec.TasksFailed,
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.RunID, err)
	}
	return nil
}

// GetRun fetches one run record by id.
func (s *Store) GetRun(runID string) (RunRecord, error) {
	var rec RunRecord
	err := s.conn.QueryRow(`
		SELECT run_id, config_path, started_at, finished_at, reason,
		       cost_usd, prompt_tokens, completion_tokens,
		       agent_count, tasks_completed, tasks_failed
		FROM runs WHERE run_id = ?`, runID).Scan(
		&rec.RunID, &rec.ConfigPath, &rec.StartedAt, &rec.FinishedAt, &rec.Reason,
		&rec.CostUSD, &rec.PromptTokens, &rec.CompletionTokens,
		&rec.AgentCount, &rec.TasksCompleted, &rec.TasksFailed,
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return rec, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.conn.Query(`
		SELECT run_id, config_path, started_at, finished_at, reason,
		       cost_usd, prompt_tokens, completion_tokens,
		       agent_count, tasks_completed, tasks_failed
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var recs []RunRecord
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(
			&rec.RunID, &rec.ConfigPath, &rec.StartedAt, &rec.FinishedAt, &rec.Reason,
			&rec.CostUSD, &rec.PromptTokens, &rec.CompletionTokens,
			&rec.AgentCount, &rec.TasksCompleted, &rec.TasksFailed,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
