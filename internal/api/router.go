// Package api assembles the HTTP surface of the ledger.
package api

import (
	"net/http"
	"time"

	"github.com/dvloznov/donation-tracker/internal/api/handlers"
	"github.com/dvloznov/donation-tracker/internal/api/middleware"
	"github.com/dvloznov/donation-tracker/internal/jobs"
	"github.com/dvloznov/donation-tracker/internal/metrics"
	"github.com/dvloznov/donation-tracker/internal/provider/sandbox"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// RouterDeps are the collaborators of the router. Jobs, JobPublisher, Sandbox and
// Metrics are optional.
type RouterDeps struct {
	Log          zerolog.Logger
	Ledger       handlers.Ledger
	Jobs         jobs.JobStore
	JobPublisher jobs.Publisher
	Sandbox      *sandbox.Adapter
	Metrics      *metrics.Metrics
}

// NewRouter builds the routed handler wrapped in the middleware chain.
func NewRouter(deps RouterDeps) http.Handler {
	r := mux.NewRouter()

	handlers.NewTransactionsHandler(deps.Ledger).RegisterRoutes(r)

	if deps.Jobs != nil {
		handlers.NewJobsHandler(deps.Jobs, deps.JobPublisher).RegisterRoutes(r)
	}
	if deps.Sandbox != nil {
		handlers.NewSandboxHandler(deps.Sandbox, deps.Ledger).RegisterRoutes(r)
	}

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	}).Methods(http.MethodGet)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)
		r.Use(deps.Metrics.Middleware)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return middleware.Recovery(deps.Log)(
		middleware.RequestID(
			middleware.Logger(deps.Log)(
				middleware.CORS(
					middleware.Auth(r),
				),
			),
		),
	)
}
