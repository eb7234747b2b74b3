package ingest

import (
	"context"
	"fmt"

	"github.com/dvloznov/report-extractor/internal/jobs"
	"github.com/dvloznov/report-extractor/internal/logger"
)

// NotifierFor picks the notifier that reports a job's progress to its
// submitter, e.g. the chat the document came from.
type NotifierFor func(job *jobs.IngestDocumentJob) Notifier

// JobHandler adapts the service to the job queue. The job's output, row count
// and run id are filled in on success.
func JobHandler(svc *Service, notifierFor NotifierFor) jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		j, ok := job.(*jobs.IngestDocumentJob)
		if !ok {
			return fmt.Errorf("job %s: unexpected job type: %T", job.GetID(), job)
		}

		log := logger.FromContextOr(ctx, svc.log).With().Str("job_id", j.JobID).Logger()
		ctx = logger.WithContext(ctx, log)

		var n Notifier
		if notifierFor != nil {
			n = notifierFor(j)
		}

		res, err := svc.Ingest(ctx, Document{
			Kind:     Kind(j.Kind),
			BaseName: j.BaseName,
			TempPath: j.TempPath,
			Source:   j.Source,
		}, n)
		if err != nil {
			return err
		}

		j.Output = res.Output
		j.Rows = res.Rows
		j.RunID = res.RunID
		return nil
	}
}
