// Package bigquery records ingestion runs in a BigQuery table.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/report-extractor/internal/ingest"
	"github.com/dvloznov/report-extractor/internal/logger"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

const maxErrorMessageLen = 2000

// RunLedger is a RunRecorder and RunLister on <dataset>.ingestion_runs.
// Rows are written with DML so that the RUNNING row can later be updated.
type RunLedger struct {
	client  *bigquery.Client
	dataset string
}

// NewRunLedger creates a ledger with its own client.
func NewRunLedger(ctx context.Context, projectID, dataset string) (*RunLedger, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRunLedger: bigquery client: %w", err)
	}
	return NewRunLedgerWithClient(client, dataset), nil
}

// NewRunLedgerWithClient creates a ledger on a shared client.
func NewRunLedgerWithClient(client *bigquery.Client, dataset string) *RunLedger {
	return &RunLedger{client: client, dataset: dataset}
}

func (l *RunLedger) Close() error {
	return l.client.Close()
}

// EnsureTable creates the ingestion_runs table when it does not exist.
func (l *RunLedger) EnsureTable(ctx context.Context) error {
	t := l.client.Dataset(l.dataset).Table(ingestionRunsTable)
	err := t.Create(ctx, &bigquery.TableMetadata{
		Schema: IngestionRunsSchema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "started_ts",
		},
	})
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
		return nil
	}
	if err != nil {
		return fmt.Errorf("EnsureTable: create %s.%s: %w", l.dataset, ingestionRunsTable, err)
	}
	return nil
}

// RunStarted inserts the run with status RUNNING.
func (l *RunLedger) RunStarted(ctx context.Context, run ingest.Run) error {
	q := l.client.Query(fmt.Sprintf(`
		INSERT %s.%s (
			run_id,
			source,
			kind,
			base_name,
			started_ts,
			status
		)
		VALUES (
			@run_id,
			@source,
			@kind,
			@base_name,
			@started_ts,
			@status
		)
	`, l.dataset, ingestionRunsTable))
	q.Parameters = startParams(run)

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("RunStarted: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Debug().Str("run_id", run.ID).Msg("Run start recorded in BigQuery")
	return nil
}

// RunFinished sets the final status, output and error of the run.
func (l *RunLedger) RunFinished(ctx context.Context, run ingest.Run) error {
	q := l.client.Query(fmt.Sprintf(`
		UPDATE %s.%s
		SET status = @status,
		    finished_ts = @finished_ts,
		    output = @output,
		    row_count = @row_count,
		    error_class = @error_class,
		    error_message = @error_message
		WHERE run_id = @run_id
	`, l.dataset, ingestionRunsTable))
	q.Parameters = finishParams(run)

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("RunFinished: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Debug().Str("run_id", run.ID).Str("status", string(run.Status)).Msg("Run result recorded in BigQuery")
	return nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 means 50.
func (l *RunLedger) ListRuns(ctx context.Context, limit int) ([]ingest.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	q := l.client.Query(fmt.Sprintf(`
		SELECT run_id, source, kind, base_name, started_ts, finished_ts,
		       status, output, row_count, error_class, error_message
		FROM %s.%s
		ORDER BY started_ts DESC
		LIMIT @limit
	`, l.dataset, ingestionRunsTable))
	q.Parameters = []bigquery.QueryParameter{{Name: "limit", Value: limit}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRuns: running query: %w", err)
	}

	var runs []ingest.Run
	for {
		var row IngestionRunRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRuns: reading row: %w", err)
		}
		runs = append(runs, row.toRun())
	}
	return runs, nil
}

func runDML(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

func startParams(run ingest.Run) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "run_id", Value: run.ID},
		{Name: "source", Value: run.Source},
		{Name: "kind", Value: string(run.Kind)},
		{Name: "base_name", Value: run.BaseName},
		{Name: "started_ts", Value: run.StartedAt},
		{Name: "status", Value: string(ingest.RunStatusRunning)},
	}
}

func finishParams(run ingest.Run) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "status", Value: string(run.Status)},
		{Name: "finished_ts", Value: run.FinishedAt},
		{Name: "output", Value: nullString(run.Output)},
		{Name: "row_count", Value: int64(run.Rows)},
		{Name: "error_class", Value: nullString(string(run.ErrorClass))},
		{Name: "error_message", Value: nullString(truncate(run.Error, maxErrorMessageLen))},
		{Name: "run_id", Value: run.ID},
	}
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var (
	_ ingest.RunRecorder = (*RunLedger)(nil)
	_ ingest.RunLister   = (*RunLedger)(nil)
)
