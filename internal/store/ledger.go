// Package store is gridrun's submission ledger: every submission attempt,
// every abandoned command and every status report is kept in a small
// SQLite database so operators can see what happened across invocations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gridrun/internal/logging"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS submissions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id TEXT NOT NULL,
	command TEXT NOT NULL,
	job_id TEXT DEFAULT '',
	accepted INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_submissions_batch ON submissions(batch_id);

CREATE TABLE IF NOT EXISTS abandoned (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id TEXT NOT NULL,
	command TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_abandoned_batch ON abandoned(batch_id);

CREATE TABLE IF NOT EXISTS status_reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_type TEXT NOT NULL,
	run_id INTEGER NOT NULL,
	total INTEGER NOT NULL,
	finished INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_run ON status_reports(run_id);
`

// Submission is one attempt to submit a command.
type Submission struct {
	BatchID  string
	Command  string
	JobID    string
	Accepted bool
	Round    int
	At       time.Time
}

// StatusReport is the outcome of checking one run.
type StatusReport struct {
	BatchID       string
	JobType       string
	RunID         int
	Total         int
	Finished      int
	Failed        int
	FailedOutputs []string
	At            time.Time
}

// Batch summarises one gridrun invocation's submissions.
type Batch struct {
	ID        string
	Attempts  int
	Accepted  int
	Abandoned int
	First     time.Time
	Last      time.Time
}

// Store is the SQLite-backed ledger.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open opens or creates the ledger at path. ":memory:" gives a private
// in-memory ledger.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	logging.StoreDebug("Ledger opened at %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func stamp(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UnixNano()
}

// RecordSubmission stores one submission attempt.
func (s *Store) RecordSubmission(ctx context.Context, sub Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (batch_id, command, job_id, accepted, round, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sub.BatchID, sub.Command, sub.JobID, sub.Accepted, sub.Round, stamp(sub.At))
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	return nil
}

// RecordAbandoned stores the commands a batch gave up on.
func (s *Store) RecordAbandoned(ctx context.Context, batchID string, cmds []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record abandoned: %w", err)
	}
	defer tx.Rollback()

	now := stamp(time.Time{})
	for _, cmd := range cmds {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO abandoned (batch_id, command, created_at) VALUES (?, ?, ?)`,
			batchID, cmd, now); err != nil {
			return fmt.Errorf("record abandoned: %w", err)
		}
	}
	return tx.Commit()
}

// RecordReport stores a run's status report.
func (s *Store) RecordReport(ctx context.Context, r StatusReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO status_reports (batch_id, job_type, run_id, total, finished, failed, failed_outputs, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.BatchID, r.JobType, r.RunID, r.Total, r.Finished, r.Failed,
		strings.Join(r.FailedOutputs, "\n"), stamp(r.At))
	if err != nil {
		return fmt.Errorf("record report: %w", err)
	}
	return nil
}

// RecentBatches returns the latest batches, newest first.
func (s *Store) RecentBatches(ctx context.Context, limit int) ([]Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.batch_id, COUNT(*), SUM(s.accepted), MIN(s.created_at), MAX(s.created_at),
		       (SELECT COUNT(*) FROM abandoned a WHERE a.batch_id = s.batch_id)
		FROM submissions s
		GROUP BY s.batch_id
		ORDER BY MAX(s.created_at) DESC, s.batch_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var b Batch
		var first, last int64
		if err := rows.Scan(&b.ID, &b.Attempts, &b.Accepted, &first, &last, &b.Abandoned); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.First = time.Unix(0, first)
		b.Last = time.Unix(0, last)
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// Abandoned returns the commands a batch gave up on, in the order recorded.
func (s *Store) Abandoned(ctx context.Context, batchID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT command FROM abandoned WHERE batch_id = ? ORDER BY id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query abandoned: %w", err)
	}
	defer rows.Close()

	var cmds []string
	for rows.Next() {
		var cmd string
		if err := rows.Scan(&cmd); err != nil {
			return nil, fmt.Errorf("scan abandoned: %w", err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

// Reports returns the status reports of a run, newest first.
func (s *Store) Reports(ctx context.Context, runID int) ([]StatusReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, job_type, run_id, total, finished, failed, failed_outputs, created_at
		FROM status_reports WHERE run_id = ? ORDER BY created_at DESC, id DESC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var reports []StatusReport
	for rows.Next() {
		var r StatusReport
		var outs string
		var at int64
		if err := rows.Scan(&r.BatchID, &r.JobType, &r.RunID, &r.Total, &r.Finished, &r.Failed, &outs, &at); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		if outs != "" {
			r.FailedOutputs = strings.Split(outs, "\n")
		}
		r.At = time.Unix(0, at)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
