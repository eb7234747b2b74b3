package ingest

import (
	"context"
	"errors"
	"time"
)

// RunStatus is the outcome of one ingestion run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailed  RunStatus = "FAILED"
)

// Run is one ingestion attempt as kept in the run ledger.
type Run struct {
	ID         string     `json:"run_id"`
	Source     string     `json:"source"`
	Kind       Kind       `json:"kind"`
	BaseName   string     `json:"base_name"`
	Status     RunStatus  `json:"status"`
	Output     string     `json:"output,omitempty"`
	Rows       int        `json:"rows"`
	ErrorClass ErrorClass `json:"error_class,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at,omitzero"`
}

// Duration is the wall time of a finished run.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunRecorder persists ingestion runs.
type RunRecorder interface {
	RunStarted(ctx context.Context, run Run) error
	RunFinished(ctx context.Context, run Run) error
}

// RunLister reads back recorded runs, newest first.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// MultiRecorder fans run events out to several recorders. Every recorder is
// called; the errors are joined.
type MultiRecorder []RunRecorder

func (m MultiRecorder) RunStarted(ctx context.Context, run Run) error {
	var errs []error
	for _, r := range m {
		if err := r.RunStarted(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiRecorder) RunFinished(ctx context.Context, run Run) error {
	var errs []error
	for _, r := range m {
		if err := r.RunFinished(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type nopRecorder struct{}

func (nopRecorder) RunStarted(context.Context, Run) error  { return nil }
func (nopRecorder) RunFinished(context.Context, Run) error { return nil }
