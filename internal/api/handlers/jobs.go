package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dvloznov/donation-tracker/internal/api/middleware"
	"github.com/dvloznov/donation-tracker/internal/jobs"
	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store     jobs.JobStore
	publisher jobs.Publisher
}

// NewJobsHandler creates a new jobs handler. publisher may be nil, which disables
// manual enqueueing.
func NewJobsHandler(store jobs.JobStore, publisher jobs.Publisher) *JobsHandler {
	return &JobsHandler{
		store:     store,
		publisher: publisher,
	}
}

// RegisterRoutes mounts the job endpoints on r.
func (h *JobsHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/jobs", h.ListJobs).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/reconcile", h.EnqueueReconcile).Methods(http.MethodPost)
	r.HandleFunc("/api/jobs/{id}", h.GetJob).Methods(http.MethodGet)
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeFailure(r, w, err, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		TransactionID: query.Get("transaction_id"),
		Status:        jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeFailure(r, w, err, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// EnqueueReconcile handles POST /api/jobs/reconcile
func (h *JobsHandler) EnqueueReconcile(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Reconciliation queue is disabled")
		return
	}

	var req struct {
		TransactionID string `json:"transaction_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TransactionID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "transaction_id is required")
		return
	}

	// The queue owns job once published; only the id is read back.
	job := &jobs.ReconcileJob{JobID: uuid.NewString(), TransactionID: req.TransactionID}
	jobID := job.JobID
	if err := h.publisher.PublishReconcile(r.Context(), job); err != nil {
		writeFailure(r, w, err, "Failed to enqueue reconcile job")
		return
	}

	log := logger.FromContext(r.Context())
	log.Info().
		Str("job_id", jobID).
		Str("transaction_id", req.TransactionID).
		Msg("Reconcile job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":         jobID,
		"transaction_id": req.TransactionID,
	})
}
