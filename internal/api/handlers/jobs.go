package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dvloznov/report-extractor/internal/api/middleware"
	"github.com/dvloznov/report-extractor/internal/ingest"
	"github.com/dvloznov/report-extractor/internal/jobs"
	"github.com/dvloznov/report-extractor/internal/logger"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOr(r.Context(), h.log)
	jobID := mux.Vars(r)["id"]

	job, err := h.store.GetJob(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOr(r.Context(), h.log)
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Source: query.Get("source"),
		Status: jobs.JobStatus(query.Get("status")),
		Limit:  intParam(query.Get("limit")),
		Offset: intParam(query.Get("offset")),
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// RunsHandler exposes the ingestion run ledger.
type RunsHandler struct {
	runs ingest.RunLister
	log  zerolog.Logger
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(runs ingest.RunLister, log zerolog.Logger) *RunsHandler {
	return &RunsHandler{
		runs: runs,
		log:  log,
	}
}

// ListRuns handles GET /api/runs
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOr(r.Context(), h.log)
	runs, err := h.runs.ListRuns(r.Context(), intParam(r.URL.Query().Get("limit")))
	if err != nil {
		log.Error().Err(err).Msg("Failed to list runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []ingest.Run{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// intParam parses a non-negative query parameter; anything else is 0.
func intParam(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
