// Package ingest turns one submitted document into a persisted table.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/dvloznov/report-extractor/internal/extract"
	"github.com/dvloznov/report-extractor/internal/logger"
	"github.com/dvloznov/report-extractor/internal/store"
	"github.com/dvloznov/report-extractor/internal/table"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Result describes a successful ingestion.
type Result struct {
	RunID  string
	Output string
	Rows   int
}

// Service runs the ingestion pipeline for single documents. It is safe for
// concurrent use; each call owns its document's temp file.
type Service struct {
	pipeline *Pipeline
	runs     RunRecorder
	now      func() time.Time
	log      zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRunRecorder records every run in the given ledger.
func WithRunRecorder(r RunRecorder) Option {
	return func(s *Service) {
		if r != nil {
			s.runs = r
		}
	}
}

// WithClock replaces the time source used for run timestamps and file names.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds the standard extract, normalize and persist pipeline.
func NewService(st store.Store, extractors map[Kind]extract.Extractor, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		runs: nopRecorder{},
		now:  time.Now,
		log:  log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pipeline = NewPipeline(
		&ExtractStep{Extractors: extractors},
		&NormalizeStep{Canonical: table.AccountColumn},
		&PersistStep{Store: st, Now: s.now},
	)
	return s
}

// Ingest extracts, normalizes and persists doc, reporting each stage to n.
// The temp input is removed on every return path; the output file is kept.
// Nothing is retried.
func (s *Service) Ingest(ctx context.Context, doc Document, n Notifier) (*Result, error) {
	if n == nil {
		n = NopNotifier
	}

	run := Run{
		ID:        uuid.NewString(),
		Source:    doc.Source,
		Kind:      doc.Kind,
		BaseName:  doc.BaseName,
		Status:    RunStatusRunning,
		StartedAt: s.now().UTC(),
	}
	log := logger.FromContextOr(ctx, s.log).With().
		Str("run_id", run.ID).
		Str("kind", string(doc.Kind)).
		Str("source", doc.Source).
		Logger()
	ctx = logger.WithContext(ctx, log)

	defer s.removeTemp(log, doc.TempPath)

	if err := s.runs.RunStarted(ctx, run); err != nil {
		log.Warn().Err(err).Msg("Failed to record run start")
	}
	s.notify(ctx, log, n, Update{Stage: StageProcessing, Kind: doc.Kind})

	state := &State{Doc: doc}
	err := s.pipeline.Execute(ctx, state)
	run.FinishedAt = s.now().UTC()

	if err != nil {
		class := Classify(err)
		run.Status = RunStatusFailed
		run.ErrorClass = class
		run.Error = err.Error()

		event := log.Error()
		if class == ClassMalformed {
			event = log.Warn()
		}
		event.Err(err).Str("class", string(class)).Msg("Ingestion failed")

		s.finishRun(ctx, log, run)
		s.notify(ctx, log, n, Update{Stage: StageFailed, Kind: doc.Kind, Err: err})
		return nil, fmt.Errorf("Ingest: %w", err)
	}

	run.Status = RunStatusSuccess
	run.Output = state.Output
	run.Rows = len(state.Rows)
	s.finishRun(ctx, log, run)

	log.Info().
		Str("output", state.Output).
		Int("rows", run.Rows).
		Dur("duration", run.Duration()).
		Msg("Ingestion completed")

	s.notify(ctx, log, n, Update{Stage: StageDone, Kind: doc.Kind, Output: state.Output})
	return &Result{RunID: run.ID, Output: state.Output, Rows: run.Rows}, nil
}

func (s *Service) finishRun(ctx context.Context, log zerolog.Logger, run Run) {
	// The run outcome must be recorded even when the job context is cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := s.runs.RunFinished(ctx, run); err != nil {
		log.Warn().Err(err).Msg("Failed to record run result")
	}
}

func (s *Service) notify(ctx context.Context, log zerolog.Logger, n Notifier, u Update) {
	if err := n.Notify(context.WithoutCancel(ctx), u); err != nil {
		log.Warn().Err(err).Str("stage", string(u.Stage)).Msg("Failed to notify submitter")
	}
}

func (s *Service) removeTemp(log zerolog.Logger, path string) {
	if path == "" {
		return
	}
	err := os.Remove(path)
	switch {
	case err == nil:
		log.Debug().Str("path", path).Msg("Removed temp input")
	case errors.Is(err, fs.ErrNotExist):
	default:
		log.Warn().Err(err).Str("path", path).Msg("Failed to remove temp input")
	}
}
