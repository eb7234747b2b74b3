// Package sqlite keeps the ingestion run ledger in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/report-extractor/internal/ingest"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS ingestion_runs (
  run_id TEXT PRIMARY KEY,
  source TEXT NOT NULL,
  kind TEXT NOT NULL,
  base_name TEXT NOT NULL,
  status TEXT NOT NULL,
  output TEXT,
  row_count INTEGER NOT NULL DEFAULT 0,
  error_class TEXT,
  error_message TEXT,
  started_at TEXT NOT NULL,
  finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_ingestion_runs_started ON ingestion_runs(started_at);
`

// DB is a run ledger backed by SQLite.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the ledger at path. ":memory:" gives a private
// in-memory ledger.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite.Open: create dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite.Open: %w", err)
	}
	// One writer at a time; a private in-memory database also needs a single
	// connection or each new one would see an empty database.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite.Open: connect: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite.Open: init schema: %w", err)
	}

	return &DB{conn: conn}, nil
}

// dsn applies the pragmas on every pooled connection, not just the first.
func dsn(path string) string {
	pragmas := "_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		pragmas += "&_pragma=journal_mode(WAL)"
		path = "file:" + path
	}
	return path + "?" + pragmas
}

func (d *DB) Close() error {
	return d.conn.Close()
}

// RunStarted inserts the run in RUNNING state.
func (d *DB) RunStarted(ctx context.Context, run ingest.Run) error {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO ingestion_runs (run_id, source, kind, base_name, status, started_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, string(run.Kind), run.BaseName, string(run.Status), formatTime(run.StartedAt))
	if err != nil {
		return fmt.Errorf("RunStarted: insert %s: %w", run.ID, err)
	}
	return nil
}

// RunFinished records the outcome. A run that was never started is inserted
// whole.
func (d *DB) RunFinished(ctx context.Context, run ingest.Run) error {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO ingestion_runs (run_id, source, kind, base_name, status, output, row_count,
  error_class, error_message, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
  status = excluded.status,
  output = excluded.output,
  row_count = excluded.row_count,
  error_class = excluded.error_class,
  error_message = excluded.error_message,
  finished_at = excluded.finished_at`,
		run.ID, run.Source, string(run.Kind), run.BaseName, string(run.Status),
		nullString(run.Output), run.Rows,
		nullString(string(run.ErrorClass)), nullString(run.Error),
		formatTime(run.StartedAt), nullString(formatTime(run.FinishedAt)))
	if err != nil {
		return fmt.Errorf("RunFinished: upsert %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 means 50.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]ingest.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.QueryContext(ctx, selectRuns+`
ORDER BY started_at DESC, run_id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ListRuns: query: %w", err)
	}
	defer rows.Close()

	var out []ingest.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("ListRuns: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListRuns: iterate: %w", err)
	}
	return out, nil
}

// GetRun returns one run; unknown ids give a wrapped sql.ErrNoRows.
func (d *DB) GetRun(ctx context.Context, id string) (ingest.Run, error) {
	run, err := scanRun(d.conn.QueryRowContext(ctx, selectRuns+` WHERE run_id = ?`, id))
	if err != nil {
		return ingest.Run{}, fmt.Errorf("GetRun: %s: %w", id, err)
	}
	return run, nil
}

const selectRuns = `
SELECT run_id, source, kind, base_name, status, output, row_count,
  error_class, error_message, started_at, finished_at
FROM ingestion_runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (ingest.Run, error) {
	var (
		run                                  ingest.Run
		kind, status, startedAt              string
		output, errClass, errMsg, finishedAt sql.NullString
	)
	if err := s.Scan(&run.ID, &run.Source, &kind, &run.BaseName, &status, &output, &run.Rows,
		&errClass, &errMsg, &startedAt, &finishedAt); err != nil {
		return ingest.Run{}, err
	}
	run.Kind = ingest.Kind(kind)
	run.Status = ingest.RunStatus(status)
	run.Output = output.String
	run.ErrorClass = ingest.ErrorClass(errClass.String)
	run.Error = errMsg.String

	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return ingest.Run{}, fmt.Errorf("run %s: %w", run.ID, err)
	}
	if finishedAt.Valid {
		if run.FinishedAt, err = parseTime(finishedAt.String); err != nil {
			return ingest.Run{}, fmt.Errorf("run %s: %w", run.ID, err)
		}
	}
	return run, nil
}

// Fixed-width so that text order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var (
	_ ingest.RunRecorder = (*DB)(nil)
	_ ingest.RunLister   = (*DB)(nil)
)
