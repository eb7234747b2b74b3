package mailbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dvloznov/report-extractor/internal/ingest"
	"github.com/dvloznov/report-extractor/internal/jobs"
	"github.com/dvloznov/report-extractor/internal/store"
	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Source is the job source recorded for mailed documents.
const Source = "imap"

// Attachment is a mail part that can be ingested.
type Attachment struct {
	FileName string
	Kind     ingest.Kind
	Content  []byte
}

// Attachments parses a raw message and returns its supported attachments in
// message order. Inline parts with a file name count as attachments.
func Attachments(raw []byte) ([]Attachment, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("Attachments: parse message: %w", err)
	}

	parts := append(append([]*enmime.Part{}, env.Attachments...), env.Inlines...)
	out := make([]Attachment, 0, len(parts))
	for _, p := range parts {
		name := strings.TrimSpace(p.FileName)
		if name == "" || len(p.Content) == 0 {
			continue
		}
		kind, ok := ingest.DetectKind(name, p.ContentType)
		if !ok {
			continue
		}
		out = append(out, Attachment{FileName: name, Kind: kind, Content: p.Content})
	}
	return out, nil
}

// Poller moves attachments of unseen mail into the ingestion queue.
type Poller struct {
	fetcher   Fetcher
	publisher jobs.Publisher
	tempDir   string
	log       zerolog.Logger

	mu sync.Mutex
}

func NewPoller(fetcher Fetcher, publisher jobs.Publisher, tempDir string, log zerolog.Logger) *Poller {
	return &Poller{
		fetcher:   fetcher,
		publisher: publisher,
		tempDir:   tempDir,
		log:       log.With().Str("component", "mailbox").Logger(),
	}
}

// Poll fetches unseen mail once and enqueues one job per supported
// attachment. It returns the number of jobs enqueued. A message is marked
// seen only once all of its attachments are enqueued; a message with a
// failed attachment stays unseen and is fetched again by the next poll.
// A message that cannot be parsed is skipped and marked seen.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	if !p.mu.TryLock() {
		p.log.Debug().Msg("Previous poll still running, skipping")
		return 0, nil
	}
	defer p.mu.Unlock()

	messages, err := p.fetcher.FetchUnseen(ctx)
	if err != nil {
		return 0, fmt.Errorf("Poll: %w", err)
	}

	var errs []error
	var handled []uint32
	enqueued := 0
	for _, msg := range messages {
		log := p.log.With().Str("message_id", msg.MessageID).Str("from", msg.From).Logger()

		n, err := p.enqueueMessage(ctx, log, msg)
		enqueued += n
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if msg.UID != 0 {
			handled = append(handled, msg.UID)
		}
	}

	if err := p.fetcher.MarkSeen(ctx, handled); err != nil {
		errs = append(errs, fmt.Errorf("Poll: %w", err))
	}
	if enqueued > 0 {
		p.log.Info().Int("messages", len(messages)).Int("jobs", enqueued).Msg("Mailbox poll complete")
	}
	return enqueued, errors.Join(errs...)
}

// enqueueMessage enqueues the supported attachments of one message and
// returns how many were enqueued. The error joins every failed attachment.
func (p *Poller) enqueueMessage(ctx context.Context, log zerolog.Logger, msg Message) (int, error) {
	atts, err := Attachments(msg.Raw)
	if err != nil {
		log.Warn().Err(err).Msg("Skipping unreadable message")
		return 0, nil
	}
	if len(atts) == 0 {
		log.Debug().Str("subject", msg.Subject).Msg("No supported attachments")
		return 0, nil
	}

	var errs []error
	enqueued := 0
	for _, att := range atts {
		if err := p.enqueue(ctx, att); err != nil {
			log.Error().Err(err).Str("file_name", att.FileName).Msg("Failed to enqueue attachment")
			errs = append(errs, err)
			continue
		}
		enqueued++
	}
	return enqueued, errors.Join(errs...)
}

func (p *Poller) enqueue(ctx context.Context, att Attachment) error {
	if err := os.MkdirAll(p.tempDir, 0o755); err != nil {
		return fmt.Errorf("enqueue: create temp dir: %w", err)
	}
	path := filepath.Join(p.tempDir, "mail-"+uuid.NewString()+att.Kind.Extension())
	if err := os.WriteFile(path, att.Content, 0o600); err != nil {
		return fmt.Errorf("enqueue: write temp file: %w", err)
	}

	job := &jobs.IngestDocumentJob{
		Source:   Source,
		Kind:     string(att.Kind),
		BaseName: store.BaseName(att.FileName),
		TempPath: path,
	}
	if err := p.publisher.PublishIngestDocument(ctx, job); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("enqueue: %w", err)
	}
	p.log.Info().Str("job_id", job.JobID).Str("file_name", att.FileName).Msg("Attachment enqueued")
	return nil
}

// Schedule registers the poll on c. Each tick runs under ctx.
func (p *Poller) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		if _, err := p.Poll(ctx); err != nil {
			p.log.Error().Err(err).Msg("Mailbox poll failed")
		}
	})
	if err != nil {
		return 0, fmt.Errorf("unable to schedule mailbox poll: %w", err)
	}
	return id, nil
}
