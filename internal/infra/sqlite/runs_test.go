package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/report-extractor/internal/ingest"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "ledger", "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	started := time.Date(2024, 5, 1, 8, 0, 0, 123, time.UTC)

	run := ingest.Run{
		ID:        "run-1",
		Source:    "telegram",
		Kind:      ingest.KindPDF,
		BaseName:  "laporan",
		Status:    ingest.RunStatusRunning,
		StartedAt: started,
	}
	if err := db.RunStarted(ctx, run); err != nil {
		t.Fatalf("RunStarted: %v", err)
	}

	got, err := db.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != ingest.RunStatusRunning || !got.FinishedAt.IsZero() || got.Output != "" {
		t.Errorf("running run = %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("started = %v, want %v", got.StartedAt, started)
	}

	run.Status = ingest.RunStatusSuccess
	run.Output = "laporan_2024.json"
	run.Rows = 12
	run.FinishedAt = started.Add(3 * time.Second)
	if err := db.RunFinished(ctx, run); err != nil {
		t.Fatalf("RunFinished: %v", err)
	}

	got, err = db.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != ingest.RunStatusSuccess || got.Output != "laporan_2024.json" || got.Rows != 12 {
		t.Errorf("finished run = %+v", got)
	}
	if got.Duration() != 3*time.Second {
		t.Errorf("duration = %v", got.Duration())
	}
}

func TestRunFinished_WithoutStart(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	err := db.RunFinished(ctx, ingest.Run{
		ID: "run-2", Source: "imap", Kind: ingest.KindDOCX, BaseName: "neraca",
		Status: ingest.RunStatusFailed, ErrorClass: ingest.ClassMalformed, Error: "no table",
		StartedAt: now, FinishedAt: now.Add(time.Second),
	})
	if err != nil {
		t.Fatalf("RunFinished: %v", err)
	}
	got, err := db.GetRun(ctx, "run-2")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.ErrorClass != ingest.ClassMalformed || got.Error != "no table" {
		t.Errorf("run = %+v", got)
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	// Fractional seconds of different widths must still sort by time.
	offsets := []time.Duration{0, 500 * time.Millisecond, 2 * time.Second}
	for i, off := range offsets {
		err := db.RunStarted(ctx, ingest.Run{
			ID: string(rune('a' + i)), Source: "cli", Kind: ingest.KindXLSX, BaseName: "x",
			Status: ingest.RunStatusRunning, StartedAt: base.Add(off),
		})
		if err != nil {
			t.Fatalf("RunStarted: %v", err)
		}
	}

	runs, err := db.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestGetRun_Unknown(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.GetRun(context.Background(), "nope"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestRunStarted_DuplicateID(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	run := ingest.Run{ID: "dup", Source: "cli", Kind: ingest.KindPDF, BaseName: "x",
		Status: ingest.RunStatusRunning, StartedAt: time.Now()}
	if err := db.RunStarted(ctx, run); err != nil {
		t.Fatalf("RunStarted: %v", err)
	}
	if err := db.RunStarted(ctx, run); err == nil {
		t.Error("expected error on duplicate run id")
	}
}

func TestConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	// Two handles on one file stand in for the server and a CLI process.
	var dbs []*DB
	for range 2 {
		db, err := Open(path)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })
		dbs = append(dbs, db)
	}

	const workers, perWorker = 16, 20
	ctx := context.Background()
	errs := make(chan error, workers*perWorker*2)
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			db := dbs[w%len(dbs)]
			for i := range perWorker {
				run := ingest.Run{
					ID: fmt.Sprintf("%d-%d", w, i), Source: "telegram", Kind: ingest.KindPDF, BaseName: "x",
					Status: ingest.RunStatusRunning, StartedAt: time.Now(),
				}
				if err := db.RunStarted(ctx, run); err != nil {
					errs <- err
					continue
				}
				run.Status = ingest.RunStatusSuccess
				run.FinishedAt = time.Now()
				if err := db.RunFinished(ctx, run); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	failures := 0
	var first error
	for err := range errs {
		if first == nil {
			first = err
		}
		failures++
	}
	if failures != 0 {
		t.Fatalf("failures = %d, first: %v", failures, first)
	}

	runs, err := dbs[0].ListRuns(ctx, workers*perWorker+1)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != workers*perWorker {
		t.Errorf("recorded %d runs, want %d", len(runs), workers*perWorker)
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{":memory:", ":memory:?_pragma=busy_timeout(5000)"},
		{"data/runs.db", "file:data/runs.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"},
	}
	for _, tt := range tests {
		if got := dsn(tt.path); got != tt.want {
			t.Errorf("dsn(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
