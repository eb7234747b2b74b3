package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/report-extractor/internal/jobs"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Janitor removes temp inputs left behind by a crashed or killed process.
// Files younger than MaxAge are kept, and so are the inputs of jobs in Jobs
// that are still pending or running, however long they have been queued.
type Janitor struct {
	Dir    string
	MaxAge time.Duration
	Jobs   jobs.JobStore
	Now    func() time.Time
	Log    zerolog.Logger
}

// Sweep deletes regular files in Dir older than MaxAge and returns how many
// were removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	cutoff := now().Add(-j.MaxAge)

	inUse, err := j.activeInputs(ctx)
	if err != nil {
		return 0, fmt.Errorf("Janitor.Sweep: %w", err)
	}

	entries, err := os.ReadDir(j.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("Janitor.Sweep: read %s: %w", j.Dir, err)
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(j.Dir, e.Name())
		if inUse[filepath.Clean(path)] {
			j.Log.Debug().Str("path", path).Msg("Keeping temp file of a queued job")
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
		j.Log.Info().Str("path", path).Time("modified", info.ModTime()).Msg("Removed stale temp file")
	}
	return removed, errors.Join(errs...)
}

// activeInputs returns the temp paths of pending and running jobs.
func (j *Janitor) activeInputs(ctx context.Context) (map[string]bool, error) {
	inUse := make(map[string]bool)
	if j.Jobs == nil {
		return inUse, nil
	}
	for _, status := range []jobs.JobStatus{jobs.JobStatusPending, jobs.JobStatusRunning} {
		list, err := j.Jobs.ListJobs(ctx, jobs.JobFilter{Status: status})
		if err != nil {
			return nil, fmt.Errorf("list %s jobs: %w", status, err)
		}
		for _, job := range list {
			if job.TempPath != "" {
				inUse[filepath.Clean(job.TempPath)] = true
			}
		}
	}
	return inUse, nil
}

// Schedule registers the sweep on c with a cron spec such as "@every 15m".
// Sweeps stop once ctx is done.
func (j *Janitor) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		if ctx.Err() != nil {
			return
		}
		n, err := j.Sweep(ctx)
		if err != nil {
			j.Log.Error().Err(err).Msg("Temp sweep failed")
			return
		}
		j.Log.Debug().Int("removed", n).Msg("Temp sweep finished")
	})
	if err != nil {
		return 0, fmt.Errorf("unable to schedule temp sweep: %w", err)
	}
	return id, nil
}
