package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/report-extractor/internal/extract"
)

// Stage is a step of an ingestion reported to the submitter.
type Stage string

const (
	StageReceived   Stage = "received"
	StageProcessing Stage = "processing"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// ErrorClass separates problems with the submitted document from failures of
// the service itself.
type ErrorClass string

const (
	ClassMalformed  ErrorClass = "malformed"
	ClassUnexpected ErrorClass = "unexpected"
)

// Classify maps an ingestion error to its class.
func Classify(err error) ErrorClass {
	switch {
	case errors.Is(err, extract.ErrNoTable),
		errors.Is(err, extract.ErrNotJSONArray),
		errors.Is(err, extract.ErrInvalidJSON),
		errors.Is(err, ErrUnsupportedKind):
		return ClassMalformed
	default:
		return ClassUnexpected
	}
}

// Update describes a stage change of one ingestion.
type Update struct {
	Stage  Stage
	Kind   Kind
	Output string
	Err    error
}

// Message renders the update as the text shown to the submitter.
func (u Update) Message() string {
	label := u.Kind.Label()
	switch u.Stage {
	case StageReceived:
		if u.Kind == KindImage {
			return "✅ Gambar diterima. Memulai analisis AI..."
		}
		return fmt.Sprintf("✅ File %s diterima. Memulai ekstraksi tabel...", label)
	case StageProcessing:
		if u.Kind == KindImage {
			return "⏳ AI sedang memproses gambar untuk menghasilkan JSON..."
		}
		return fmt.Sprintf("⏳ Memproses %s untuk menghasilkan JSON...", label)
	case StageDone:
		return "✅ JSON berhasil dibuat. Mengirim file ke Anda..."
	case StageFailed:
		return failureMessage(u.Kind, u.Err)
	}
	return string(u.Stage)
}

func failureMessage(kind Kind, err error) string {
	switch {
	case errors.Is(err, extract.ErrNotJSONArray):
		return "⚠️ Maaf, AI tidak dapat menghasilkan JSON dari gambar ini (hasil tidak dimulai dengan '[')."
	case errors.Is(err, extract.ErrInvalidJSON):
		return "⚠️ Terjadi kesalahan saat memproses JSON dari AI. Coba lagi atau pastikan gambar tabel jelas."
	case errors.Is(err, extract.ErrNoTable):
		return fmt.Sprintf("⚠️ Tidak ditemukan tabel pada %s.", kind.Label())
	case errors.Is(err, ErrUnsupportedKind):
		return "⚠️ Jenis file tidak didukung. Kirim PDF, DOCX, XLSX, HTML, atau gambar."
	}
	return fmt.Sprintf("❌ Terjadi kesalahan saat memproses %s.", kind.Label())
}

// Notifier relays stage updates to whoever submitted the document.
type Notifier interface {
	Notify(ctx context.Context, u Update) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, u Update) error

func (f NotifierFunc) Notify(ctx context.Context, u Update) error {
	return f(ctx, u)
}

// NopNotifier discards updates.
var NopNotifier Notifier = NotifierFunc(func(context.Context, Update) error { return nil })
