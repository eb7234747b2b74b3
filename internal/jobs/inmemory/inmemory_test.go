package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/report-extractor/internal/jobs"
)

func waitForStatus(t *testing.T, s *Store, id string, want jobs.JobStatus) *jobs.IngestDocumentJob {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := s.GetJob(context.Background(), id)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := s.GetJob(context.Background(), id)
	t.Fatalf("job %s did not reach %s, last state %+v", id, want, job)
	return nil
}

func TestQueue_ProcessesJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 2, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		j := job.(*jobs.IngestDocumentJob)
		j.Output = "laporan_x.json"
		j.Rows = 3
		return nil
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.IngestDocumentJob{Source: "telegram", Kind: "pdf", BaseName: "laporan"}
	if err := q.PublishIngestDocument(ctx, job); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if job.JobID == "" {
		t.Fatal("job id not assigned")
	}

	got := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if got.Output != "laporan_x.json" || got.Rows != 3 {
		t.Errorf("job = %+v", got)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("timestamps not set")
	}

	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestQueue_FailedJobIsNotRetried(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	_ = q.Start(ctx, func(context.Context, jobs.Job) error {
		calls.Add(1)
		return errors.New("no table")
	})

	job := &jobs.IngestDocumentJob{Kind: "pdf"}
	if err := q.PublishIngestDocument(ctx, job); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	if got.Error != "no table" {
		t.Errorf("error = %q", got.Error)
	}

	time.Sleep(50 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("handler calls = %d, want 1", n)
	}
	_ = q.Stop(context.Background())
}

func TestQueue_RecoversPanic(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = q.Start(ctx, func(_ context.Context, job jobs.Job) error {
		if job.(*jobs.IngestDocumentJob).Kind == "boom" {
			panic("bad input")
		}
		return nil
	})

	bad := &jobs.IngestDocumentJob{Kind: "boom"}
	good := &jobs.IngestDocumentJob{Kind: "pdf"}
	_ = q.PublishIngestDocument(ctx, bad)
	_ = q.PublishIngestDocument(ctx, good)

	waitForStatus(t, store, bad.JobID, jobs.JobStatusFailed)
	waitForStatus(t, store, good.JobID, jobs.JobStatusCompleted)
	_ = q.Stop(context.Background())
}

func TestQueue_PublishAfterStop(t *testing.T) {
	q := NewQueue(1, 1, nil)
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	err := q.PublishIngestDocument(context.Background(), &jobs.IngestDocumentJob{})
	if !errors.Is(err, ErrQueueClosed) {
		t.Errorf("err = %v, want ErrQueueClosed", err)
	}
	if err := q.Start(context.Background(), nil); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Start err = %v, want ErrQueueClosed", err)
	}
}

func TestStore_ListJobs(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, src := range []string{"telegram", "imap", "telegram"} {
		_ = s.SaveJob(ctx, &jobs.IngestDocumentJob{
			JobID:     string(rune('a' + i)),
			Source:    src,
			Status:    jobs.JobStatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	all, _ := s.ListJobs(ctx, jobs.JobFilter{})
	if len(all) != 3 || all[0].JobID != "c" || all[2].JobID != "a" {
		t.Errorf("order = %v", ids(all))
	}

	tg, _ := s.ListJobs(ctx, jobs.JobFilter{Source: "telegram", Limit: 1})
	if len(tg) != 1 || tg[0].JobID != "c" {
		t.Errorf("telegram limit 1 = %v", ids(tg))
	}

	off, _ := s.ListJobs(ctx, jobs.JobFilter{Offset: 5})
	if len(off) != 0 {
		t.Errorf("offset past end = %v", ids(off))
	}
}

func TestStore_NotFound(t *testing.T) {
	s := NewStore()
	if _, err := s.GetJob(context.Background(), "x"); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("GetJob err = %v", err)
	}
	if err := s.SaveJob(context.Background(), &jobs.IngestDocumentJob{}); err == nil {
		t.Error("SaveJob without id must fail")
	}
}

func ids(js []*jobs.IngestDocumentJob) []string {
	out := make([]string, len(js))
	for i, j := range js {
		out[i] = j.JobID
	}
	return out
}
