// Package handlers implements the HTTP endpoints of the report API.
package handlers

import (
	"net/http"
	"time"

	"github.com/dvloznov/report-extractor/internal/api/middleware"
)

// User-facing messages, kept in the language of the reports.
const (
	msgWelcome       = "Selamat datang di API OCR Tabel! Gunakan /api/files untuk melihat daftar file JSON."
	msgWrongSuffix   = "Nama file harus berakhiran .json"
	msgNotFound      = "File tidak ditemukan."
	msgInvalidJSON   = "File bukan JSON yang valid."
	msgUnknownReport = "Jenis laporan tidak dikenal."
	msgReadFailed    = "Terjadi kesalahan saat membaca file."
	msgReshapeFailed = "Terjadi kesalahan saat memproses laporan."
)

// Home handles GET /
func Home(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(msgWelcome))
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
