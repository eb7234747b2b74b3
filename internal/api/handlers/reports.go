package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dvloznov/report-extractor/internal/api/middleware"
	"github.com/dvloznov/report-extractor/internal/logger"
	"github.com/dvloznov/report-extractor/internal/report"
	"github.com/dvloznov/report-extractor/internal/store"
	"github.com/dvloznov/report-extractor/internal/table"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// ReportsHandler reshapes persisted tables into year-indexed reports.
type ReportsHandler struct {
	store   store.Store
	catalog *report.Catalog
	log     zerolog.Logger
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(st store.Store, catalog *report.Catalog, log zerolog.Logger) *ReportsHandler {
	return &ReportsHandler{
		store:   st,
		catalog: catalog,
		log:     log,
	}
}

// GetReport handles GET /balance-sheet/ep/{institution}/{report}/{filename}
//
// 200 with a SUCCESS body, 404 with a FAILED body when the table has no year
// columns, 404 for an unknown variant or file, 400 for a name without the
// .json suffix or a file that is not a JSON array, 500 otherwise.
func (h *ReportsHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["filename"]

	log := logger.FromContextOr(r.Context(), h.log).With().
		Str("institution", vars["institution"]).
		Str("report", vars["report"]).
		Str("file", name).
		Logger()

	variant, err := h.catalog.Lookup(vars["institution"], vars["report"])
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, msgUnknownReport)
		return
	}

	if !store.HasExtension(name) {
		middleware.WriteError(w, http.StatusBadRequest, msgWrongSuffix)
		return
	}

	rows, err := store.LoadTable(r.Context(), h.store, name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, msgNotFound)
		return
	case errors.Is(err, table.ErrMalformed):
		log.Warn().Err(err).Msg("Persisted table is not valid JSON")
		middleware.WriteError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	case err != nil:
		log.Error().Err(err).Msg("Failed to load table")
		middleware.WriteError(w, http.StatusInternalServerError, msgReadFailed)
		return
	}

	result, err := reshape(variant, rows)
	if err != nil {
		log.Error().Err(err).Msg("Failed to reshape table")
		middleware.WriteError(w, http.StatusInternalServerError, msgReshapeFailed)
		return
	}

	status := http.StatusOK
	if result.Status == report.StatusFailed {
		status = http.StatusNotFound
	}
	log.Debug().Str("status", string(result.Status)).Int("years", len(result.Read)).Msg("Report served")
	middleware.WriteJSON(w, status, result)
}

// ListVariants handles GET /api/reports
func (h *ReportsHandler) ListVariants(w http.ResponseWriter, r *http.Request) {
	type variantView struct {
		Institution report.Institution `json:"institution"`
		Kind        report.Kind        `json:"kind"`
		Path        string             `json:"path"`
		Fields      report.Schema      `json:"fields"`
	}

	variants := h.catalog.Variants()
	out := make([]variantView, 0, len(variants))
	for _, v := range variants {
		out = append(out, variantView{
			Institution: v.Institution,
			Kind:        v.Kind,
			Path:        fmt.Sprintf("/balance-sheet/ep/%s/%s/{filename}", v.Institution, v.Kind),
			Fields:      v.Schema,
		})
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"variants": out,
		"count":    len(out),
	})
}

// reshape turns a panic inside the reshaper into an error for the 500 path.
func reshape(v report.Variant, rows table.Table) (res report.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("reshape: %v", p)
		}
	}()
	return v.Reshape(rows), nil
}
