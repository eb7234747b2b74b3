// Package api wires the HTTP handlers into a router.
package api

import (
	"net/http"

	"github.com/dvloznov/report-extractor/internal/api/handlers"
	"github.com/dvloznov/report-extractor/internal/api/middleware"
	"github.com/dvloznov/report-extractor/internal/ingest"
	"github.com/dvloznov/report-extractor/internal/jobs"
	"github.com/dvloznov/report-extractor/internal/report"
	"github.com/dvloznov/report-extractor/internal/store"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Deps are the collaborators served by the API. Jobs and Runs are optional;
// their routes are only registered when set.
type Deps struct {
	Store   store.Store
	Catalog *report.Catalog
	Jobs    jobs.JobStore
	Runs    ingest.RunLister
	Log     zerolog.Logger
}

// NewRouter builds the router with the middleware chain applied.
func NewRouter(d Deps) http.Handler {
	r := mux.NewRouter()
	r.StrictSlash(false)

	files := handlers.NewFilesHandler(d.Store, d.Log)
	reports := handlers.NewReportsHandler(d.Store, d.Catalog, d.Log)

	r.HandleFunc("/", handlers.Home).Methods(http.MethodGet)
	r.HandleFunc("/health", handlers.Health).Methods(http.MethodGet)

	r.HandleFunc("/api/files", files.ListFiles).Methods(http.MethodGet)
	r.HandleFunc("/api/download/{filename}", files.Download).Methods(http.MethodGet)

	r.HandleFunc("/api/reports", reports.ListVariants).Methods(http.MethodGet)
	r.HandleFunc("/balance-sheet/ep/{institution}/{report}/{filename}", reports.GetReport).Methods(http.MethodGet)

	if d.Jobs != nil {
		jobsHandler := handlers.NewJobsHandler(d.Jobs, d.Log)
		r.HandleFunc("/api/jobs", jobsHandler.ListJobs).Methods(http.MethodGet)
		r.HandleFunc("/api/jobs/{id}", jobsHandler.GetJob).Methods(http.MethodGet)
	}
	if d.Runs != nil {
		runs := handlers.NewRunsHandler(d.Runs, d.Log)
		r.HandleFunc("/api/runs", runs.ListRuns).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return middleware.Recovery(d.Log)(
		middleware.RequestID(
			middleware.Logger(d.Log)(
				middleware.CORS(r),
			),
		),
	)
}
