package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dvloznov/report-extractor/internal/api/middleware"
	"github.com/dvloznov/report-extractor/internal/logger"
	"github.com/dvloznov/report-extractor/internal/store"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// FilesHandler lists and serves persisted tables.
type FilesHandler struct {
	store store.Store
	log   zerolog.Logger
}

// NewFilesHandler creates a new files handler.
func NewFilesHandler(st store.Store, log zerolog.Logger) *FilesHandler {
	return &FilesHandler{
		store: st,
		log:   log,
	}
}

// ListFiles handles GET /api/files
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOr(r.Context(), h.log)
	names, err := h.store.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list files")
		middleware.WriteError(w, http.StatusInternalServerError, "Gagal membaca daftar file.")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"files": names,
	})
}

// Download handles GET /api/download/{filename}
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOr(r.Context(), h.log)
	name := mux.Vars(r)["filename"]
	if !store.HasExtension(name) {
		middleware.WriteError(w, http.StatusBadRequest, msgWrongSuffix)
		return
	}

	rc, err := h.store.Open(r.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, msgNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("file", name).Msg("Failed to open file")
		middleware.WriteError(w, http.StatusInternalServerError, msgReadFailed)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		log.Warn().Err(err).Str("file", name).Msg("Download interrupted")
	}
}
