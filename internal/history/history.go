// Package history persists finished wave summaries to a sqlite ledger under
// the state directory, so completed runs can be inspected after the
// per-wave JSON artifacts have been cleaned up.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/randalmurphal/waverunner/internal/wave"
	"github.com/randalmurphal/waverunner/internal/worker"
)

const schema = `
CREATE TABLE IF NOT EXISTS waves (
	wave_id       TEXT NOT NULL,
	run_id        TEXT NOT NULL,
	phase         TEXT NOT NULL,
	started_at    TEXT NOT NULL,
	ended_at      TEXT NOT NULL,
	task_count    INTEGER NOT NULL,
	passed        INTEGER NOT NULL,
	failed        INTEGER NOT NULL,
	merged        INTEGER NOT NULL,
	conflict_task TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (wave_id, phase)
);
CREATE INDEX IF NOT EXISTS idx_waves_run ON waves(run_id);
`

// DB is the wave history ledger. It implements wave.Recorder.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the history database at path. The parent
// directory is created when missing.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &DB{db: db, path: path}, nil
}

// OpenInMemory opens an isolated in-memory ledger, for tests.
func OpenInMemory() (*DB, error) {
	return Open(":memory:")
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database path.
func (d *DB) Path() string { return d.path }

// RecordWave upserts one finished wave summary. A wave re-run in the same
// phase (after a resume) replaces its earlier row.
func (d *DB) RecordWave(sum *wave.Summary) error {
	passed, failed := 0, 0
	for _, o := range sum.Workers {
		if o.Status == worker.OutcomePassed {
			passed++
		} else {
			failed++
		}
	}
	merged, conflictTask := 0, ""
	if sum.Merge != nil {
		merged = sum.Merge.Merged
		conflictTask = sum.Merge.ConflictTaskID
	}
	state := sum.State
	if state == "" {
		switch {
		case sum.Timeout != "":
			state = "timed_out"
		default:
			state = "completed"
		}
	}

	_, err := d.db.Exec(`
		INSERT INTO waves (wave_id, run_id, phase, started_at, ended_at,
			task_count, passed, failed, merged, conflict_task, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(wave_id, phase) DO UPDATE SET
			ended_at = excluded.ended_at,
			passed = excluded.passed,
			failed = excluded.failed,
			merged = excluded.merged,
			conflict_task = excluded.conflict_task,
			state = excluded.state`,
		sum.WaveID, sum.RunID, string(sum.Phase),
		sum.StartedAt.UTC().Format(time.RFC3339Nano),
		sum.EndedAt.UTC().Format(time.RFC3339Nano),
		len(sum.TaskIDs), passed, failed, merged, conflictTask, state)
	if err != nil {
		return fmt.Errorf("record wave %s: %w", sum.WaveID, err)
	}
	return nil
}

// Row is one ledger entry.
type Row struct {
	WaveID       string
	RunID        string
	Phase        string
	StartedAt    time.Time
	EndedAt      time.Time
	TaskCount    int
	Passed       int
	Failed       int
	Merged       int
	ConflictTask string
	State        string
}

// ListWaves returns ledger rows, newest first. A non-empty runID filters to
// one run; limit <= 0 means no limit.
func (d *DB) ListWaves(runID string, limit int) ([]Row, error) {
	query := `SELECT wave_id, run_id, phase, started_at, ended_at,
		task_count, passed, failed, merged, conflict_task, state
		FROM waves`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY started_at DESC, wave_id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list waves: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Row
	for rows.Next() {
		var r Row
		var started, ended string
		if err := rows.Scan(&r.WaveID, &r.RunID, &r.Phase, &started, &ended,
			&r.TaskCount, &r.Passed, &r.Failed, &r.Merged, &r.ConflictTask, &r.State); err != nil {
			return nil, fmt.Errorf("scan wave row: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.EndedAt, _ = time.Parse(time.RFC3339Nano, ended)
		out = append(out, r)
	}
	return out, rows.Err()
}
