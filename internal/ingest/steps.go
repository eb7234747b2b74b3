package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/report-extractor/internal/extract"
	"github.com/dvloznov/report-extractor/internal/logger"
	"github.com/dvloznov/report-extractor/internal/store"
	"github.com/dvloznov/report-extractor/internal/table"
)

// Step is a single step of the ingestion pipeline.
type Step interface {
	Name() string
	Execute(ctx context.Context, state *State) error
}

// State holds what the steps of one ingestion share.
type State struct {
	Doc    Document
	Rows   table.Table
	Output string
}

// ExtractStep reads the document's first table with the extractor registered
// for its kind.
type ExtractStep struct {
	Extractors map[Kind]extract.Extractor
}

func (s *ExtractStep) Name() string { return "extract" }

func (s *ExtractStep) Execute(ctx context.Context, state *State) error {
	ex, ok := s.Extractors[state.Doc.Kind]
	if !ok || ex == nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, state.Doc.Kind)
	}
	rows, err := ex.Extract(ctx, state.Doc.TempPath)
	if err != nil {
		return err
	}
	state.Rows = rows
	return nil
}

// NormalizeStep renames the blank account column.
type NormalizeStep struct {
	Canonical string
}

func (s *NormalizeStep) Name() string { return "normalize" }

func (s *NormalizeStep) Execute(ctx context.Context, state *State) error {
	state.Rows = table.Normalize(state.Rows, s.Canonical)
	if len(state.Rows) == 0 {
		return extract.ErrNoTable
	}
	return nil
}

// PersistStep writes the rows to the output store under a new file name.
type PersistStep struct {
	Store store.Store
	Now   func() time.Time
}

func (s *PersistStep) Name() string { return "persist" }

func (s *PersistStep) Execute(ctx context.Context, state *State) error {
	name, err := store.SaveTable(ctx, s.Store, state.Doc.BaseName, s.Now(), state.Rows)
	if err != nil {
		return err
	}
	state.Output = name
	return nil
}

// Pipeline executes a sequence of steps in order and stops at the first error.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a pipeline with the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *State) error {
	log := logger.FromContext(ctx)
	for i, step := range p.steps {
		log.Debug().Int("step", i+1).Str("name", step.Name()).Msg("Running ingest step")
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("ingest step %d (%s): %w", i+1, step.Name(), err)
		}
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("ingest step %d (%s) failed: %w", i+1, step.Name(), err)
		}
	}
	return nil
}
