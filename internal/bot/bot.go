// Package bot is the Telegram intake: it downloads submitted documents,
// enqueues them for ingestion and reports progress back into the chat.
package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/report-extractor/internal/ingest"
	"github.com/dvloznov/report-extractor/internal/jobs"
	"github.com/dvloznov/report-extractor/internal/store"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Source is the job source recorded for chat submissions.
const Source = "telegram"

const (
	greetingFormat   = "Halo %s! Kirimkan gambar tabel. Saya akan mengonversinya menjadi file JSON menggunakan AI."
	documentCaption  = "Berikut adalah hasil konversi tabel dalam format JSON."
	msgUnsupported   = "⚠️ Jenis file tidak didukung. Kirim PDF, DOCX, XLSX, HTML, atau gambar."
	msgDownloadError = "❌ Gagal mengunduh file dari Telegram. Silakan kirim ulang."
	msgQueueError    = "❌ Server sedang sibuk. Silakan kirim ulang beberapa saat lagi."
)

// maxDownloadSize matches the Bot API limit for getFile.
const maxDownloadSize = 20 << 20

// API is the subset of the Telegram client used by the bot.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Bot turns chat messages into ingestion jobs.
type Bot struct {
	api       API
	publisher jobs.Publisher
	outputs   store.Store
	tempDir   string
	http      *http.Client
	log       zerolog.Logger
}

// New creates a bot. Downloads are written to tempDir; finished tables are
// read back from outputs to be sent into the chat.
func New(api API, publisher jobs.Publisher, outputs store.Store, tempDir string, log zerolog.Logger) *Bot {
	return &Bot{
		api:       api,
		publisher: publisher,
		outputs:   outputs,
		tempDir:   tempDir,
		http:      &http.Client{Timeout: 2 * time.Minute},
		log:       log.With().Str("component", "bot").Logger(),
	}
}

// Run handles updates until ctx is done or the channel is closed.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	b.log.Info().Msg("Bot started")
	for {
		select {
		case <-ctx.Done():
			b.log.Info().Msg("Bot stopped")
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			b.HandleUpdate(ctx, upd)
		}
	}
}

// HandleUpdate processes one update. Errors are reported into the chat and
// logged; they never stop the bot.
func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	log := b.log.With().Int64("chat_id", msg.Chat.ID).Int("message_id", msg.MessageID).Logger()

	switch {
	case msg.IsCommand() && msg.Command() == "start":
		b.greet(log, msg)
	case msg.Document != nil:
		b.handleDocument(ctx, log, msg)
	case len(msg.Photo) > 0:
		b.handlePhoto(ctx, log, msg)
	}
}

func (b *Bot) greet(log zerolog.Logger, msg *tgbotapi.Message) {
	name := "teman"
	var userID int64
	if msg.From != nil {
		name = msg.From.FirstName
		userID = msg.From.ID
	}
	mention := html.EscapeString(name)
	if userID != 0 {
		mention = fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, userID, mention)
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf(greetingFormat, mention))
	reply.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(reply); err != nil {
		log.Warn().Err(err).Msg("Failed to send greeting")
	}
}

func (b *Bot) handleDocument(ctx context.Context, log zerolog.Logger, msg *tgbotapi.Message) {
	doc := msg.Document
	kind, ok := ingest.DetectKind(doc.FileName, doc.MimeType)
	if !ok {
		log.Info().Str("file_name", doc.FileName).Str("mime_type", doc.MimeType).Msg("Unsupported document")
		b.say(log, msg.Chat.ID, msgUnsupported)
		return
	}
	if doc.FileSize > maxDownloadSize {
		b.say(log, msg.Chat.ID, msgDownloadError)
		return
	}
	base := store.BaseName(doc.FileName)
	if base == "" {
		base = doc.FileUniqueID
	}
	b.submit(ctx, log, msg.Chat.ID, doc.FileID, kind, base)
}

func (b *Bot) handlePhoto(ctx context.Context, log zerolog.Logger, msg *tgbotapi.Message) {
	// Telegram lists photo sizes ascending; the last is the original.
	photo := msg.Photo[len(msg.Photo)-1]
	b.submit(ctx, log, msg.Chat.ID, photo.FileID, ingest.KindImage, photo.FileUniqueID)
}

// submit downloads the file, posts the status message and enqueues the job.
func (b *Bot) submit(ctx context.Context, log zerolog.Logger, chatID int64, fileID string, kind ingest.Kind, base string) {
	log = log.With().Str("kind", string(kind)).Str("base_name", base).Logger()

	tempPath, err := b.download(ctx, fileID, kind)
	if err != nil {
		log.Error().Err(err).Msg("Failed to download file")
		b.say(log, chatID, msgDownloadError)
		return
	}

	status, err := b.api.Send(tgbotapi.NewMessage(chatID, ingest.Update{Stage: ingest.StageReceived, Kind: kind}.Message()))
	if err != nil {
		log.Error().Err(err).Msg("Failed to post status message")
		removeQuietly(log, tempPath)
		return
	}

	job := &jobs.IngestDocumentJob{
		Source:          Source,
		ChatID:          chatID,
		StatusMessageID: status.MessageID,
		Kind:            string(kind),
		BaseName:        base,
		TempPath:        tempPath,
	}
	if err := b.publisher.PublishIngestDocument(ctx, job); err != nil {
		log.Error().Err(err).Msg("Failed to enqueue ingestion job")
		removeQuietly(log, tempPath)
		b.edit(log, chatID, status.MessageID, msgQueueError)
		return
	}
	log.Info().Str("job_id", job.JobID).Msg("Ingestion job enqueued")
}

func (b *Bot) download(ctx context.Context, fileID string, kind ingest.Kind) (string, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("download: resolve file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("download: build request: %w", err)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download: unexpected status %s", resp.Status)
	}

	if err := os.MkdirAll(b.tempDir, 0o755); err != nil {
		return "", fmt.Errorf("download: create temp dir: %w", err)
	}
	path := filepath.Join(b.tempDir, safeFileID(fileID)+kind.Extension())
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("download: create temp file: %w", err)
	}
	_, copyErr := io.Copy(f, io.LimitReader(resp.Body, maxDownloadSize+1))
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("download: write temp file: %w", err)
	}
	return path, nil
}

func (b *Bot) say(log zerolog.Logger, chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Warn().Err(err).Msg("Failed to send message")
	}
}

func (b *Bot) edit(log zerolog.Logger, chatID int64, messageID int, text string) {
	if _, err := b.api.Send(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		log.Warn().Err(err).Msg("Failed to edit status message")
	}
}

// Notifier reports a job's stages by editing its status message and, once
// the table is saved, sends the JSON file into the chat.
func (b *Bot) Notifier(chatID int64, statusMessageID int) ingest.Notifier {
	return ingest.NotifierFunc(func(ctx context.Context, u ingest.Update) error {
		if _, err := b.api.Send(tgbotapi.NewEditMessageText(chatID, statusMessageID, u.Message())); err != nil {
			return fmt.Errorf("edit status message: %w", err)
		}
		if u.Stage != ingest.StageDone {
			return nil
		}

		data, err := store.Get(ctx, b.outputs, u.Output)
		if err != nil {
			return fmt.Errorf("read output %s: %w", u.Output, err)
		}
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: u.Output, Bytes: data})
		doc.Caption = documentCaption
		if _, err := b.api.Send(doc); err != nil {
			return fmt.Errorf("send output %s: %w", u.Output, err)
		}
		return nil
	})
}

// NotifierFor routes chat jobs to the chat notifier; other jobs get nil.
func (b *Bot) NotifierFor(job *jobs.IngestDocumentJob) ingest.Notifier {
	if job.Source != Source || job.ChatID == 0 {
		return nil
	}
	return b.Notifier(job.ChatID, job.StatusMessageID)
}

func safeFileID(id string) string {
	if id == "" {
		return "file"
	}
	return store.BaseName(filepath.Base(id))
}

func removeQuietly(log zerolog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("Failed to remove temp file")
	}
}
