package ingest

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/dvloznov/report-extractor/internal/extract"
)

// ErrUnsupportedKind is returned for documents no extractor is registered for.
var ErrUnsupportedKind = errors.New("ingest: unsupported document kind")

// Kind is the format of a submitted document.
type Kind string

const (
	KindPDF   Kind = "pdf"
	KindDOCX  Kind = "docx"
	KindXLSX  Kind = "xlsx"
	KindHTML  Kind = "html"
	KindImage Kind = "image"
)

// Label is the short name used for the kind in user-facing messages.
func (k Kind) Label() string {
	switch k {
	case KindImage:
		return "gambar"
	case "":
		return "dokumen"
	default:
		return strings.ToUpper(string(k))
	}
}

var extensionKinds = map[string]Kind{
	".pdf":  KindPDF,
	".docx": KindDOCX,
	".xlsx": KindXLSX,
	".html": KindHTML,
	".htm":  KindHTML,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".webp": KindImage,
}

var mimeKinds = map[string]Kind{
	"application/pdf": KindPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": KindDOCX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       KindXLSX,
	"text/html":  KindHTML,
	"image/jpeg": KindImage,
	"image/png":  KindImage,
	"image/webp": KindImage,
}

// DetectKind infers the document kind from its MIME type, falling back to the
// file name extension.
func DetectKind(fileName, mimeType string) (Kind, bool) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if k, ok := mimeKinds[mimeType]; ok {
		return k, true
	}
	k, ok := extensionKinds[strings.ToLower(filepath.Ext(fileName))]
	return k, ok
}

// Extension returns the file extension used for temp copies of the kind.
func (k Kind) Extension() string {
	switch k {
	case KindImage:
		return ".jpg"
	case "":
		return ""
	default:
		return "." + string(k)
	}
}

// Document is one submitted document waiting to be ingested. The service owns
// TempPath once Ingest is called and removes it on return.
type Document struct {
	Kind     Kind
	BaseName string
	TempPath string
	// Source names the intake channel, e.g. "telegram" or "imap".
	Source string
}

// Extractors returns the extractor registry for every built-in kind. Images
// are only registered when vision is non-nil.
func Extractors(vision extract.Extractor) map[Kind]extract.Extractor {
	m := map[Kind]extract.Extractor{
		KindPDF:  extract.PDF{},
		KindDOCX: extract.DOCX{},
		KindXLSX: extract.XLSX{},
		KindHTML: extract.HTML{},
	}
	if vision != nil {
		m[KindImage] = vision
	}
	return m
}
