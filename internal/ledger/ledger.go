// Package ledger records app stage executions in a local sqlite database so
// operators can audit what ran against an experiment and when.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Run is one recorded stage execution.
type Run struct {
	ID         string
	App        string
	Stage      string
	Experiment string
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Error      string
}

// Run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

// Store manages the run ledger database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens the ledger at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		app TEXT NOT NULL,
		stage TEXT NOT NULL,
		experiment TEXT NOT NULL,
		dry_run INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		status TEXT NOT NULL,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_experiment ON runs(experiment);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Begin records the start of a stage execution and returns its run ID.
func (s *Store) Begin(app, stage, experiment string, dryRun bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO runs (id, app, stage, experiment, dry_run, started_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, app, stage, experiment, boolToInt(dryRun), time.Now().UTC(), StatusRunning,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record run start: %w", err)
	}
	return id, nil
}

// Finish marks a run as completed, recording the failure message if any.
func (s *Store) Finish(id string, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := StatusOK
	msg := ""
	if runErr != nil {
		status = StatusFailed
		msg = runErr.Error()
	}

	_, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?`,
		time.Now().UTC(), status, msg, id,
	)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	return nil
}

// List returns the most recent runs, newest first. A zero limit means all.
func (s *Store) List(limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, app, stage, experiment, dry_run, started_at,
		COALESCE(finished_at, started_at), status, COALESCE(error, '')
		FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var dry int
		if err := rows.Scan(&r.ID, &r.App, &r.Stage, &r.Experiment, &dry,
			&r.StartedAt, &r.FinishedAt, &r.Status, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.DryRun = dry != 0
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
