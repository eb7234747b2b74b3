package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/report-extractor/internal/jobs"
	"github.com/google/uuid"
)

// ErrQueueClosed is returned when publishing to or starting a stopped queue.
var ErrQueueClosed = errors.New("queue is closed")

// DefaultWorkers is the worker count used when NewQueue gets a non-positive one.
const DefaultWorkers = 5

// Queue is an in-memory job publisher and consumer backed by a buffered
// channel. It is safe for concurrent use and suited to a single instance.
type Queue struct {
	jobChan   chan *jobs.IngestDocumentJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	workers   int
	closed    bool
	now       func() time.Time
}

// NewQueue creates a queue that buffers up to bufferSize jobs before
// PublishIngestDocument blocks, processed by the given number of workers.
func NewQueue(bufferSize, workers int, store jobs.JobStore) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Queue{
		jobChan:   make(chan *jobs.IngestDocumentJob, bufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		workers:   workers,
		now:       time.Now,
	}
}

// PublishIngestDocument enqueues a job for asynchronous processing.
func (q *Queue) PublishIngestDocument(ctx context.Context, job *jobs.IngestDocumentJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = q.now()
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return ErrQueueClosed
	}
}

// Start launches the worker pool. The handler is called concurrently, once
// per job, by up to the configured number of workers.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	q.mu.RUnlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

// processJob runs a job once and records its outcome. A failed job stays
// failed; the submitter resends the document to try again.
func (q *Queue) processJob(ctx context.Context, job *jobs.IngestDocumentJob, handler jobs.JobHandler) {
	job.Status = jobs.JobStatusRunning
	startedAt := q.now()
	job.StartedAt = &startedAt

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	err := q.safeHandle(ctx, job, handler)

	completedAt := q.now()
	job.CompletedAt = &completedAt

	if err != nil {
		job.Status = jobs.JobStatusFailed
		job.Error = err.Error()
	} else {
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	}

	if q.store != nil {
		_ = q.store.SaveJob(context.WithoutCancel(ctx), job)
	}
}

// safeHandle keeps one panicking job from taking its worker down.
func (q *Queue) safeHandle(ctx context.Context, job *jobs.IngestDocumentJob, handler jobs.JobHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

// Stop closes the queue and waits for in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
