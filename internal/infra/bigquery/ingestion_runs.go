package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/report-extractor/internal/ingest"
)

const ingestionRunsTable = "ingestion_runs"

// IngestionRunRow mirrors one row of <dataset>.ingestion_runs.
type IngestionRunRow struct {
	RunID    string `bigquery:"run_id"`    // REQUIRED
	Source   string `bigquery:"source"`    // REQUIRED
	Kind     string `bigquery:"kind"`      // REQUIRED
	BaseName string `bigquery:"base_name"` // REQUIRED

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE

	Status       string              `bigquery:"status"`        // REQUIRED
	Output       bigquery.NullString `bigquery:"output"`        // NULLABLE
	RowCount     bigquery.NullInt64  `bigquery:"row_count"`     // NULLABLE
	ErrorClass   bigquery.NullString `bigquery:"error_class"`   // NULLABLE
	ErrorMessage bigquery.NullString `bigquery:"error_message"` // NULLABLE
}

// IngestionRunsSchema is the table schema used by EnsureTable.
var IngestionRunsSchema = bigquery.Schema{
	{Name: "run_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "source", Type: bigquery.StringFieldType, Required: true},
	{Name: "kind", Type: bigquery.StringFieldType, Required: true},
	{Name: "base_name", Type: bigquery.StringFieldType, Required: true},
	{Name: "started_ts", Type: bigquery.TimestampFieldType, Required: true},
	{Name: "finished_ts", Type: bigquery.TimestampFieldType},
	{Name: "status", Type: bigquery.StringFieldType, Required: true},
	{Name: "output", Type: bigquery.StringFieldType},
	{Name: "row_count", Type: bigquery.IntegerFieldType},
	{Name: "error_class", Type: bigquery.StringFieldType},
	{Name: "error_message", Type: bigquery.StringFieldType},
}

func (r IngestionRunRow) toRun() ingest.Run {
	run := ingest.Run{
		ID:         r.RunID,
		Source:     r.Source,
		Kind:       ingest.Kind(r.Kind),
		BaseName:   r.BaseName,
		Status:     ingest.RunStatus(r.Status),
		Output:     r.Output.StringVal,
		Rows:       int(r.RowCount.Int64),
		ErrorClass: ingest.ErrorClass(r.ErrorClass.StringVal),
		Error:      r.ErrorMessage.StringVal,
		StartedAt:  r.StartedTS.UTC(),
	}
	if r.FinishedTS.Valid {
		run.FinishedAt = r.FinishedTS.Timestamp.UTC()
	}
	return run
}
