// Package ledger records pyramid runs and per-tile task outcomes in SQLite.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/SiggyF/ais-shader/internal/tile"
)

// RunStatus represents the current state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one invocation of the pipeline.
type Run struct {
	ID         string          `json:"run_id"`
	Command    string          `json:"command"`
	Dir        string          `json:"dir"`
	BaseZoom   uint32          `json:"base_zoom"`
	Status     RunStatus       `json:"status"`
	Config     json.RawMessage `json:"config,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// TaskResult is the outcome of one per-tile task.
type TaskResult struct {
	Stage    string        `json:"stage"`
	Tile     tile.Address  `json:"tile"`
	Batch    int           `json:"batch"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Store provides persistent storage for runs using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens or creates the ledger database.
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		dir TEXT NOT NULL,
		base_zoom INTEGER NOT NULL,
		status TEXT NOT NULL,
		config_json TEXT DEFAULT '',
		error TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE TABLE IF NOT EXISTS task_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		z INTEGER NOT NULL,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		batch INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT DEFAULT '',
		duration_ms INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_results_run ON task_results(run_id);
	CREATE INDEX IF NOT EXISTS idx_task_results_run_status ON task_results(run_id, status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateRun inserts a run with status=running.
func (s *Store) CreateRun(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (run_id, command, dir, base_zoom, status, config_json, error, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Command,
		run.Dir,
		run.BaseZoom,
		string(run.Status),
		string(run.Config),
		run.Error,
		run.CreatedAt.Format(time.RFC3339),
		nil,
	)
	return err
}

// GetRun retrieves a run by ID. A missing run yields nil, nil.
func (s *Store) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, command, dir, base_zoom, status, config_json, error, created_at, finished_at
		FROM runs WHERE run_id = ?
	`, runID)

	var run Run
	var configJSON, createdAtStr string
	var finishedAtStr sql.NullString

	err := row.Scan(
		&run.ID,
		&run.Command,
		&run.Dir,
		&run.BaseZoom,
		&run.Status,
		&configJSON,
		&run.Error,
		&createdAtStr,
		&finishedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if configJSON != "" {
		run.Config = json.RawMessage(configJSON)
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
	if finishedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339, finishedAtStr.String)
		run.FinishedAt = &t
	}
	return &run, nil
}

// FinishRun sets the final status of a run.
func (s *Store) FinishRun(runID string, status RunStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Format(time.RFC3339)
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, error = ?, finished_at = ?
		WHERE run_id = ?
	`, string(status), errMsg, now, runID)
	return err
}

// InsertResults stores the results of one batch in a transaction.
func (s *Store) InsertResults(runID string, results []TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO task_results (run_id, stage, z, x, y, batch, status, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		_, err := stmt.Exec(
			runID, r.Stage, r.Tile.Z, r.Tile.X, r.Tile.Y,
			r.Batch, r.Status, r.Error, r.Duration.Milliseconds(),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Failures lists the failed tasks of a run.
func (s *Store) Failures(runID string) ([]TaskResult, error) {
	rows, err := s.db.Query(`
		SELECT stage, z, x, y, batch, status, error, duration_ms
		FROM task_results WHERE run_id = ? AND status = 'failed'
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskResult
	for rows.Next() {
		var r TaskResult
		var ms int64
		if err := rows.Scan(&r.Stage, &r.Tile.Z, &r.Tile.X, &r.Tile.Y, &r.Batch, &r.Status, &r.Error, &ms); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summary counts task outcomes per stage and status.
func (s *Store) Summary(runID string) (map[string]map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT stage, status, COUNT(*) FROM task_results
		WHERE run_id = ? GROUP BY stage, status
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]map[string]int{}
	for rows.Next() {
		var stage, status string
		var n int
		if err := rows.Scan(&stage, &status, &n); err != nil {
			return nil, err
		}
		if out[stage] == nil {
			out[stage] = map[string]int{}
		}
		out[stage][status] = n
	}
	return out, rows.Err()
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT run_id FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Run, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRun(id)
		if err != nil {
			return nil, err
		}
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}
