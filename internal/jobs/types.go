package jobs

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned by a JobStore for unknown job ids.
var ErrJobNotFound = errors.New("jobs: job not found")

// JobStatus represents the current status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IngestDocumentJob carries a document from an intake channel to the worker.
type IngestDocumentJob struct {
	JobID string `json:"job_id"`

	// Source names the intake channel ("telegram", "imap", "cli").
	Source string `json:"source"`

	// ChatID and StatusMessageID locate the chat message that reports progress.
	// Both are zero for intakes without a chat.
	ChatID          int64 `json:"chat_id,omitempty"`
	StatusMessageID int   `json:"status_message_id,omitempty"`

	// Kind is the document format, e.g. "pdf" or "image".
	Kind string `json:"kind"`

	// BaseName is the original file name without extension.
	BaseName string `json:"base_name"`

	// TempPath is the downloaded input. The worker deletes it when done.
	TempPath string `json:"-"`

	// Output is the persisted table's file name once the job completed.
	Output string `json:"output,omitempty"`

	Rows  int    `json:"rows,omitempty"`
	RunID string `json:"run_id,omitempty"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Job is anything the queue can hand to a JobHandler.
type Job interface {
	GetID() string
}

func (j *IngestDocumentJob) GetID() string { return j.JobID }

// Publisher enqueues jobs.
type Publisher interface {
	PublishIngestDocument(ctx context.Context, job *IngestDocumentJob) error
	Close() error
}

// Consumer runs queued jobs.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A returned error marks the job failed; jobs are
// never retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore keeps job state for status queries.
type JobStore interface {
	SaveJob(ctx context.Context, job *IngestDocumentJob) error
	GetJob(ctx context.Context, jobID string) (*IngestDocumentJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*IngestDocumentJob, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	Source string
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
